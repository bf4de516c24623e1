package storage

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckLocalFilesystemAllowsLocal(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "journal.db")
	err := checkLocalFilesystem(dbPath, func(string) (string, error) { return "ext4", nil })
	if err != nil {
		t.Fatalf("expected local filesystem to pass, got: %v", err)
	}
}

func TestCheckLocalFilesystemRejectsNetwork(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "journal.db")
	err := checkLocalFilesystem(dbPath, func(string) (string, error) { return "NFS", nil })
	if err == nil {
		t.Fatal("expected network filesystem error")
	}
	if !strings.Contains(err.Error(), "state.path") {
		t.Fatalf("error should point at state.path, got %q", err)
	}
}

func TestCheckLocalFilesystemUsesNearestExistingPath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dbPath := filepath.Join(root, "nested", "dir", "journal.db")

	var inspected string
	err := checkLocalFilesystem(dbPath, func(path string) (string, error) {
		inspected = path
		return "ext4", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inspected != root {
		t.Fatalf("inspected %q, want %q", inspected, root)
	}
}

func TestCheckLocalFilesystemDetectorError(t *testing.T) {
	t.Parallel()

	err := checkLocalFilesystem(t.TempDir(), func(string) (string, error) {
		return "", errors.New("statfs failed")
	})
	if err == nil {
		t.Fatal("expected detector error to propagate")
	}
}

func TestCheckLocalFilesystemEmptyPath(t *testing.T) {
	t.Parallel()
	if err := checkLocalFilesystem("", nil); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestCheckLocalFilesystemOnTempDir(t *testing.T) {
	t.Parallel()
	if err := CheckLocalFilesystem(filepath.Join(t.TempDir(), "journal.db")); err != nil {
		t.Fatalf("temp dir should be local: %v", err)
	}
}
