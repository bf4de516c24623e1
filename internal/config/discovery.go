package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvConfigPath overrides config discovery when set.
const EnvConfigPath = "WARMBRIDGE_CONFIG"

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $WARMBRIDGE_CONFIG, ~/.config/warmbridge/config.yaml,
// /etc/warmbridge/config.yaml, ./config.yaml.
func DiscoverConfigPath() (string, error) {
	var candidates []string
	if p := os.Getenv(EnvConfigPath); p != "" {
		candidates = append(candidates, p)
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "warmbridge", ConfigFileName))
	}
	candidates = append(candidates,
		filepath.Join("/etc", "warmbridge", ConfigFileName),
		filepath.Join(".", ConfigFileName),
	)

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	return "", fmt.Errorf("no config found (checked: $%s, ~/.config/warmbridge, /etc/warmbridge, ./config.yaml)", EnvConfigPath)
}
