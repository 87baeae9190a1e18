package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for sg.
type Config struct {
	Username   string           `toml:"username"`
	SavesDir   string           `toml:"saves_dir"`
	LogDir     string           `toml:"log_dir"`
	CatalogDir string           `toml:"catalog_dir,omitempty"`
	Save       SaveConfig       `toml:"save"`
	Retention  RetentionConfig  `toml:"retention"`
	History    HistoryConfig    `toml:"history"`
	Vaults     []VaultConfig    `toml:"vaults"`
	Encryption EncryptionConfig `toml:"encryption"`
	Watch      WatchConfig      `toml:"watch"`
}

// SaveConfig controls the save pipeline.
type SaveConfig struct {
	AutoBackup bool `toml:"auto_backup"`
	Validate   bool `toml:"validate"`

	// SidecarSwap forces the three-step ".old" swap even where rename
	// replaces files atomically.
	SidecarSwap bool `toml:"sidecar_swap"`
}

// RetentionConfig controls snapshot cleanup and recovery options.
type RetentionConfig struct {
	KeepDays           int `toml:"keep_days"`    // negative disables cleanup
	KeepMinimum        int `toml:"keep_minimum"` // newest snapshots always kept
	RecoveryWindowDays int `toml:"recovery_window_days"`
	MaxRecoveryOptions int `toml:"max_recovery_options"`
	StaleTempHours     int `toml:"stale_temp_hours"`
}

// EncryptionConfig holds paths to the age key pair used for mirrored snapshots.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// WatchConfig holds settings for the document watcher.
type WatchConfig struct {
	Ignore []string `toml:"ignore"`
}

// VaultConfig represents configuration for a vault backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"` // for S3-compatible services

	// Static credentials; when empty the default AWS credential chain is used.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// HistoryConfig represents configuration for the operations journal.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type HistoryConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// DefaultRetention returns the retention settings used when a config file
// leaves them out.
func DefaultRetention() RetentionConfig {
	return RetentionConfig{
		KeepDays:           30,
		KeepMinimum:        5,
		RecoveryWindowDays: 30,
		MaxRecoveryOptions: 10,
		StaleTempHours:     24,
	}
}

// NewConfig creates a new Config for username with paths under baseDir and
// default settings.
func NewConfig(username, baseDir string) *Config {
	return &Config{
		Username:  username,
		SavesDir:  filepath.Join(baseDir, "saves"),
		LogDir:    filepath.Join(baseDir, "log"),
		Save:      SaveConfig{AutoBackup: true, Validate: true},
		Retention: DefaultRetention(),
		History:   HistoryConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "sg.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "sg.key"),
		},
		Watch: WatchConfig{Ignore: []string{"*.tmp", "*.old", ".*"}},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader. Keys missing from the
// [save] and [retention] tables keep their defaults.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	cfg := Config{
		Save:      SaveConfig{AutoBackup: true, Validate: true},
		Retention: DefaultRetention(),
	}
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

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
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

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
