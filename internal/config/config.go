package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for clinicdesk.
type Config struct {
	HostID     string           `toml:"host_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Database   DatabaseConfig   `toml:"database"`
	Vault      VaultConfig      `toml:"vault"`
	Encryption EncryptionConfig `toml:"encryption"`
	Backup     BackupConfig     `toml:"backup"`
}

// DatabaseConfig selects where the clinic database lives. Type decides
// which other fields apply.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// VaultConfig selects the cloud backup store. An empty Type disables
// cloud backups.
type VaultConfig struct {
	Type string `toml:"type"` // "", "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// EncryptionConfig selects the backup encryption scheme.
type EncryptionConfig struct {
	Type       string `toml:"type"`                  // "age" (default)
	WorkFactor int    `toml:"work_factor,omitempty"` // scrypt log2(N); 0 uses the default
}

// BackupConfig holds backup and restore tuning.
type BackupConfig struct {
	LocalDir       string `toml:"local_dir"` // used when settings carry no local_backup_path
	SettingsPath   string `toml:"settings_path"`
	Retention      int    `toml:"retention"`        // local backups to keep; 0 keeps all
	ScheduledMode  string `toml:"scheduled_mode"`   // "local", "cloud" or "both"
	RestoreDelayMS int    `toml:"restore_delay_ms"` // pause between close and overwrite
}

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:  hostID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Encryption: EncryptionConfig{Type: "age"},
		Backup: BackupConfig{
			LocalDir:       filepath.Join(baseDir, "backups"),
			SettingsPath:   filepath.Join(baseDir, "settings.toml"),
			Retention:      10,
			ScheduledMode:  "local",
			RestoreDelayMS: 500,
		},
	}
}

// Validate reports the first setting that no component can act on.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite":
		if c.Database.DataDir == "" {
			return errors.New("database: sqlite needs a data_dir")
		}
	case "memory":
	default:
		return fmt.Errorf("database: unknown type %q", c.Database.Type)
	}

	switch c.Vault.Type {
	case "", "memory":
	case "s3":
		if c.Vault.S3Bucket == "" {
			return errors.New("vault: s3 needs an s3_bucket")
		}
	case "filesystem":
		if c.Vault.FSVaultRoot == "" {
			return errors.New("vault: filesystem needs an fs_vault_root")
		}
	default:
		return fmt.Errorf("vault: unknown type %q", c.Vault.Type)
	}

	switch c.Backup.ScheduledMode {
	case "", "local", "cloud", "both":
	default:
		return fmt.Errorf("backup: unknown scheduled_mode %q", c.Backup.ScheduledMode)
	}
	if c.Backup.Retention < 0 {
		return fmt.Errorf("backup: negative retention %d", c.Backup.Retention)
	}
	return nil
}

// Manager reads and writes the config file format.
type Manager struct{}

// Read decodes and validates a Config.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Write encodes cfg as TOML.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile loads the config file at path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg, err := (&Manager{}).Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile replaces path with cfg through a temp file in the same
// directory, so a crash never leaves a truncated config behind.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := (&Manager{}).Write(tmp, cfg); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return os.Rename(tmp.Name(), path)
}

// Init writes cfg to path. An existing file is never overwritten.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
