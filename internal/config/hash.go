package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumFileName is the manifest written by "config lock".
const ChecksumFileName = ".checksums"

// HashUpdateFileResult captures checksum generation outcome for a file.
type HashUpdateFileResult struct {
	Filename string
	Path     string
	Exists   bool
	Hash     string
}

// HashUpdateReport captures checksum generation details for a config directory.
type HashUpdateReport struct {
	ConfigDir    string
	ChecksumPath string
	Written      bool
	Files        []HashUpdateFileResult
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}

	if actualHash != expectedHash {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s",
			filepath.Base(filePath), expectedHash, actualHash)
	}

	return nil
}

// GenerateChecksums hashes config.yaml in configDir and writes .checksums.
// When dryRun is true the report is returned without writing anything.
func GenerateChecksums(configDir string, dryRun bool) (*HashUpdateReport, error) {
	manifest := ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      make(map[string]string),
	}

	report := &HashUpdateReport{
		ConfigDir:    configDir,
		ChecksumPath: filepath.Join(configDir, ChecksumFileName),
	}

	filePath := filepath.Join(configDir, ConfigFileName)
	if !fileExists(filePath) {
		return nil, fmt.Errorf("%s not found in %s", ConfigFileName, configDir)
	}
	hash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", ConfigFileName, err)
	}
	manifest.Hashes[ConfigFileName] = hash
	report.Files = append(report.Files, HashUpdateFileResult{
		Filename: ConfigFileName,
		Path:     filePath,
		Exists:   true,
		Hash:     hash,
	})

	if dryRun {
		return report, nil
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checksums: %w", err)
	}

	// Restrictive permissions: the manifest pins expected content.
	if err := os.WriteFile(report.ChecksumPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write checksums: %w", err)
	}
	report.Written = true

	return report, nil
}

// LoadChecksums reads the .checksums file from a config directory.
func LoadChecksums(configDir string) (*ChecksumManifest, error) {
	checksumPath := filepath.Join(configDir, ChecksumFileName)

	data, err := os.ReadFile(checksumPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("checksums file not found (run 'warmbridge config lock')")
		}
		return nil, fmt.Errorf("failed to read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}

	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}

	return &manifest, nil
}

// VerifyConfigDir checks every file named in the manifest against disk.
func VerifyConfigDir(configDir string) error {
	manifest, err := LoadChecksums(configDir)
	if err != nil {
		return err
	}
	if _, ok := manifest.Hashes[ConfigFileName]; !ok {
		return fmt.Errorf("%s has no hash in checksums (run 'warmbridge config lock')", ConfigFileName)
	}

	for filename, expected := range manifest.Hashes {
		filePath := filepath.Join(configDir, filename)
		if !fileExists(filePath) {
			return fmt.Errorf("file %s is in checksums but missing from disk", filename)
		}
		if err := VerifyFileHash(filePath, expected); err != nil {
			return fmt.Errorf("config verification failed: %w\n"+
				"If you edited this file intentionally, run: warmbridge config lock", err)
		}
	}
	return nil
}
