package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for the cardsync agent.
type Config struct {
	AgentID    string           `toml:"agent_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	StateDir   string           `toml:"state_dir"`
	Database   DatabaseConfig   `toml:"database"`
	Remote     RemoteConfig     `toml:"remote"`
	Queue      QueueConfig      `toml:"queue"`
	Dedup      DedupConfig      `toml:"dedup"`
	Progress   ProgressConfig   `toml:"progress"`
	Watch      WatchConfig      `toml:"watch"`
	Backup     BackupConfig     `toml:"backup"`
	Vaults     []VaultConfig    `toml:"vaults"`
	Encryption EncryptionConfig `toml:"encryption"`
}

// DatabaseConfig selects the key-value store that persists the session record.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// RemoteConfig points the agent at the backend it reports to.
type RemoteConfig struct {
	BaseURL           string   `toml:"base_url"`
	Token             string   `toml:"token"`
	Timeout           Duration `toml:"timeout"`
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
}

// QueueConfig tunes the durable outbound queue.
type QueueConfig struct {
	Type          string   `toml:"type"` // "file" or "memory"
	MaxItems      int      `toml:"max_items"`
	MinBackoff    Duration `toml:"min_backoff"`
	MaxBackoff    Duration `toml:"max_backoff"`
	DrainMaxItems int      `toml:"drain_max_items"`
	DrainBudget   Duration `toml:"drain_budget"`
	DrainInterval Duration `toml:"drain_interval"`
	FlushDelay    Duration `toml:"flush_delay"`
}

// DedupConfig bounds the duplication index.
type DedupConfig struct {
	Capacity int `toml:"capacity"`
}

// ProgressConfig throttles progress delivery.
type ProgressConfig struct {
	MinInterval Duration `toml:"min_interval"`
}

// WatchConfig describes where cards mount and where operators copy footage to.
type WatchConfig struct {
	MediaRoot      string   `toml:"media_root"`
	Folders        []string `toml:"folders"`
	Extensions     []string `toml:"extensions"`
	RescanInterval Duration `toml:"rescan_interval"`
}

// BackupConfig holds the secondary backup destination.
type BackupConfig struct {
	Destination    string `toml:"destination"`
	BandwidthLimit int64  `toml:"bandwidth_limit"` // bytes per second, 0 = unlimited
	AutoStart      bool   `toml:"auto_start"`
}

// VaultConfig represents configuration for a manifest archive backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"`
	// Static credentials; when empty the default AWS credential chain is used.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for manifest encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default), "test" or "none"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// NewConfig creates a new Config with default paths under baseDir and
// default tuning values.
func NewConfig(agentID, baseDir string) *Config {
	cfg := &Config{
		AgentID:  agentID,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		StateDir: filepath.Join(baseDir, "state"),
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "cardsync.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "cardsync.key"),
		},
		Vaults: []VaultConfig{
			{Type: "filesystem", Name: "local", FSVaultRoot: filepath.Join(baseDir, "manifests")},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader and fills unset tuning values.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ApplyDefaults()
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
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
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
