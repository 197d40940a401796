package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - CARDSYNC_CONFIG_PATH: config file location (default: ~/.config/cardsync.toml)
//   - CARDSYNC_HOME: base directory for agent data (default: ~/.local/share/cardsync)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"state_dir":   filepath.Join(baseDir, "state"),
	}, nil
}

func getConfigPath() (string, error) {
	if path := os.Getenv("CARDSYNC_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "cardsync.toml"), nil
}

func getBaseDir() (string, error) {
	if path := os.Getenv("CARDSYNC_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "cardsync"), nil
}
