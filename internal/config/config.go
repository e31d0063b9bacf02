package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for relsync.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Release    ReleaseConfig    `toml:"release"`
	Store      StoreConfig      `toml:"store"`
	Codec      CodecConfig      `toml:"codec"`
	Encryption EncryptionConfig `toml:"encryption"`
	Database   DatabaseConfig   `toml:"database"`
	Packer     PackerConfig     `toml:"packer"`
	Updater    UpdaterConfig    `toml:"updater"`
}

// ReleaseConfig names the release flavour this machine packs or installs.
type ReleaseConfig struct {
	Architecture string `toml:"architecture"` // e.g. "x64", "arm64"
	InstallType  string `toml:"install_type"` // e.g. "portable", "install"
}

// StoreConfig represents configuration for the blob store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StoreConfig struct {
	Type string `toml:"type"` // "memory", "filesystem", or "s3"

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`          // for S3-compatible services
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`     // empty uses the default credential chain
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"` // only used with s3_access_key_id
}

// CodecConfig selects how blobs are compressed.
type CodecConfig struct {
	Type   string `toml:"type"`   // "zstd" (default) or "lz4"
	Level  int    `toml:"level"`  // 0 uses the codec's default
	Sealed bool   `toml:"sealed"` // encrypt blobs after compression
}

// EncryptionConfig holds paths to the age key pair used by sealed codecs.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// DatabaseConfig represents configuration for the installed-record database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// PackerConfig holds settings for building releases.
type PackerConfig struct {
	Concurrency int      `toml:"concurrency"` // 0 uses GOMAXPROCS
	URLPrefix   string   `toml:"url_prefix"`
	URLSuffix   string   `toml:"url_suffix,omitempty"`
	Ignore      []string `toml:"ignore"`
}

// UpdaterConfig holds settings for applying releases.
type UpdaterConfig struct {
	Concurrency           int    `toml:"concurrency"`
	FetchAttempts         int    `toml:"fetch_attempts"`
	FetchBackoffInitialMS int    `toml:"fetch_backoff_initial_ms"`
	FetchBackoffMaxMS     int    `toml:"fetch_backoff_max_ms"`
	UserAgent             string `toml:"user_agent"`
}

// NewConfig creates a new Config rooted at baseDir with default settings.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Release: ReleaseConfig{
			Architecture: "x64",
			InstallType:  "portable",
		},
		Store: StoreConfig{
			Type:   "filesystem",
			FSRoot: filepath.Join(baseDir, "release"),
		},
		Codec: CodecConfig{Type: "zstd"},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "relsync.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "relsync.key"),
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Updater: UpdaterConfig{
			Concurrency:           4,
			FetchAttempts:         5,
			FetchBackoffInitialMS: 500,
			FetchBackoffMaxMS:     10000,
			UserAgent:             "relsync",
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path, creating parent
// directories as needed.
func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to path. It refuses to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
