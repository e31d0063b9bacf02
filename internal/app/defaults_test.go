package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "/custom/relsync.toml")
		t.Setenv(EnvHome, "/custom/relsync")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		want := map[string]string{
			"config_path": "/custom/relsync.toml",
			"base_dir":    "/custom/relsync",
			"log_dir":     filepath.Join("/custom/relsync", "log"),
		}
		for k, v := range want {
			if defaults[k] != v {
				t.Errorf("%s = %q, want %q", k, defaults[k], v)
			}
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "")
		t.Setenv(EnvHome, "")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()
		wantBase := filepath.Join(homeDir, ".local", "share", "relsync")
		want := map[string]string{
			"config_path": filepath.Join(homeDir, ".config", "relsync.toml"),
			"base_dir":    wantBase,
			"log_dir":     filepath.Join(wantBase, "log"),
		}
		for k, v := range want {
			if defaults[k] != v {
				t.Errorf("%s = %q, want %q", k, defaults[k], v)
			}
		}
	})
}

func TestPassphraseFromEnv(t *testing.T) {
	t.Setenv(EnvPassphrase, "hunter2")
	got, ok := PassphraseFromEnv()
	if !ok || got != "hunter2" {
		t.Errorf("PassphraseFromEnv() = %q, %v", got, ok)
	}
}
