package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment variables read by GetDefaults and the CLI.
const (
	EnvConfigPath = "RELSYNC_CONFIG_PATH"
	EnvHome       = "RELSYNC_HOME"
	EnvPassphrase = "RELSYNC_PASSPHRASE"
)

// GetDefaults returns application default paths, checking environment
// variables first:
//   - RELSYNC_CONFIG_PATH: config file (default ~/.config/relsync.toml)
//   - RELSYNC_HOME: data directory (default ~/.local/share/relsync)
func GetDefaults() (map[string]string, error) {
	configPath, err := fromEnvOrHome(EnvConfigPath, ".config", "relsync.toml")
	if err != nil {
		return nil, err
	}
	baseDir, err := fromEnvOrHome(EnvHome, ".local", "share", "relsync")
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

func fromEnvOrHome(env string, elem ...string) (string, error) {
	if v := os.Getenv(env); v != "" {
		return v, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{homeDir}, elem...)...), nil
}

// PassphraseFromEnv reads RELSYNC_PASSPHRASE. It reports false when unset.
func PassphraseFromEnv() (string, bool) {
	return os.LookupEnv(EnvPassphrase)
}
