package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - PICTOR_CONFIG_PATH: config file location (default: ~/.config/pictor.toml)
//   - PICTOR_HOME: base directory for pictor data (default: ~/.local/share/pictor)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	dataDir, err := getDataDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"data_dir":    dataDir,
	}, nil
}

// getConfigPath returns the config file path, checking PICTOR_CONFIG_PATH env
// var first, then falling back to the default ~/.config/pictor.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("PICTOR_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "pictor.toml"), nil
}

// getDataDir returns the base directory for pictor data (catalog, cache
// index, blobs), checking PICTOR_HOME env var first, then falling back to
// the XDG default ~/.local/share/pictor.
func getDataDir() (string, error) {
	if path := os.Getenv("PICTOR_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "pictor"), nil
}
