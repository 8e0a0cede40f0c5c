package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for pictor.
type Config struct {
	MediaRoot   string            `toml:"media_root" validate:"required"`
	Log         LogConfig         `toml:"log"`
	Database    DatabaseConfig    `toml:"database"`
	Cache       CacheConfig       `toml:"cache"`
	Queue       QueueConfig       `toml:"queue"`
	Renderer    RendererConfig    `toml:"renderer"`
	Permissions PermissionsConfig `toml:"permissions"`
	Watch       WatchConfig       `toml:"watch"`
	Signing     SigningConfig     `toml:"signing"`
	Extract     ExtractConfig     `toml:"extract"`
	Metrics     MetricsConfig     `toml:"metrics"`
}

// LogConfig holds logging settings. An empty File logs to stderr.
type LogConfig struct {
	Level      string `toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format     string `toml:"format" validate:"omitempty,oneof=text json"`
	File       string `toml:"file,omitempty"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// DatabaseConfig represents configuration for the record catalog.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type string `toml:"type" validate:"required,oneof=sqlite memory postgres"`
	Path string `toml:"path,omitempty"` // only used for type=sqlite
	DSN  string `toml:"dsn,omitempty"`  // only used for type=postgres
}

// CacheConfig holds derivative cache settings.
type CacheConfig struct {
	Dir    string     `toml:"dir" validate:"required"`
	HotSet int        `toml:"hot_set"`
	Blob   BlobConfig `toml:"blob"`
}

// BlobConfig represents configuration for rendered-image blob storage.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type BlobConfig struct {
	Type string `toml:"type" validate:"required,oneof=memory filesystem s3"`

	// Filesystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"` // for MinIO and friends
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// QueueConfig represents configuration for the background task queue.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type QueueConfig struct {
	Type           string `toml:"type" validate:"required,oneof=local asynq"`
	Workers        int    `toml:"workers"`
	RetentionHours int    `toml:"retention_hours"`

	// Asynq-specific fields (only used when Type == "asynq")
	RedisAddr string `toml:"redis_addr,omitempty"`
}

// RendererConfig selects how derivatives get rendered. The probe renderer
// only reads image dimensions; exec shells out to an external tool.
type RendererConfig struct {
	Type           string   `toml:"type" validate:"required,oneof=probe exec"`
	Command        []string `toml:"command,omitempty"` // only used for type=exec
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// PermissionsConfig holds the static permission rules.
type PermissionsConfig struct {
	Default string           `toml:"default"`
	Rules   []PermissionRule `toml:"rules"`
}

// PermissionRule grants an actor a level at or below a folder prefix.
// Actor "*" matches everyone.
type PermissionRule struct {
	Prefix string `toml:"prefix"`
	Actor  string `toml:"actor"`
	Level  string `toml:"level"`
}

// WatchConfig holds filesystem watcher settings.
type WatchConfig struct {
	Enabled    bool `toml:"enabled"`
	DebounceMS int  `toml:"debounce_ms"`
}

// SigningConfig holds the shared secret for signed derivative URLs.
type SigningConfig struct {
	Secret string `toml:"secret,omitempty"`
}

// ExtractConfig controls page extraction for multi-page sources.
type ExtractConfig struct {
	PDF bool `toml:"pdf"`
}

// MetricsConfig enables prometheus instrumentation. An empty Addr leaves
// metrics disabled; long-running processes (watch, worker) serve /metrics
// on Addr when set.
type MetricsConfig struct {
	Addr string `toml:"addr,omitempty"`
}

// NewConfig creates a new Config with the provided media root and default
// settings rooted under dataDir.
func NewConfig(mediaRoot, dataDir string) *Config {
	return &Config{
		MediaRoot: mediaRoot,
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			Path: filepath.Join(dataDir, "pictor.db"),
		},
		Cache: CacheConfig{
			Dir:    filepath.Join(dataDir, "cache"),
			HotSet: 256,
			Blob: BlobConfig{
				Type:   "filesystem",
				FSRoot: filepath.Join(dataDir, "blobs"),
			},
		},
		Queue: QueueConfig{
			Type:           "local",
			Workers:        4,
			RetentionHours: 168,
		},
		Renderer: RendererConfig{
			Type:           "probe",
			TimeoutSeconds: 30,
		},
		Watch: WatchConfig{
			DebounceMS: 500,
		},
		Extract: ExtractConfig{
			PDF: true,
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

// writeToFile writes a Config to the specified file path.
// This is an internal helper and should not be exported.
func writeToFile(path string, cfg *Config) error {
	// Ensure the directory exists
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
	// Check if config already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
