package config

import (
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/pipewatch/internal/storage"
)

// Config represents the complete pipewatch configuration.
type Config struct {
	API       APIConfig      `yaml:"api"`
	Log       LogConfig      `yaml:"log"`
	Cache     CacheConfig    `yaml:"cache"`
	Snapshots SnapshotConfig `yaml:"snapshots"`
	Metrics   MetricsConfig  `yaml:"metrics,omitempty"`
	Stub      StubConfig     `yaml:"stub,omitempty"`

	// SourcePath is the file the config was read from; empty for defaults.
	SourcePath string `yaml:"-"`
	// Fingerprint is the BLAKE3 hash of the source file as read from disk.
	Fingerprint string `yaml:"-"`

	// source is the unexpanded document, kept so SetPath never persists
	// resolved secrets.
	source *yaml.Node
}

// APIConfig locates the scheduler API.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token,omitempty"`
	Timeout time.Duration `yaml:"timeout"`
}

// LogConfig controls slog output. File, when set, receives log lines instead
// of stderr (the watch UI owns the terminal).
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file,omitempty"`
}

// CacheConfig tunes the query cache.
type CacheConfig struct {
	// StaleTime of zero keeps values fresh until invalidated.
	StaleTime   time.Duration `yaml:"stale_time"`
	HubCapacity int           `yaml:"hub_capacity"`
}

// Snapshot backends.
const (
	BackendNone   = storage.BackendNone
	BackendSQLite = storage.BackendSQLite
	BackendRedis  = storage.BackendRedis
)

// SnapshotConfig selects where run-list snapshots are persisted.
type SnapshotConfig struct {
	Backend string      `yaml:"backend"`
	Path    string      `yaml:"path,omitempty"`
	Redis   RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig defines the Redis snapshot backend.
type RedisConfig struct {
	Address  string        `yaml:"address"`
	Password string        `yaml:"password,omitempty"`
	DB       int           `yaml:"db,omitempty"`
	Prefix   string        `yaml:"prefix,omitempty"`
	TTL      time.Duration `yaml:"ttl,omitempty"`
}

// StoreOptions converts the section for storage.Open.
func (s SnapshotConfig) StoreOptions() storage.Options {
	return storage.Options{
		Backend: s.Backend,
		Path:    s.Path,
		Redis: storage.RedisConfig{
			Address:  s.Redis.Address,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
			Prefix:   s.Redis.Prefix,
			TTL:      s.Redis.TTL,
		},
	}
}

// MetricsConfig defines the Prometheus endpoint of long-running commands.
type MetricsConfig struct {
	Listen string `yaml:"listen,omitempty"`
}

// StubConfig defines the local stub scheduler API.
type StubConfig struct {
	Listen string     `yaml:"listen"`
	Seed   string     `yaml:"seed,omitempty"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token accepted by the stub and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// Defaults returns a Config usable without any file.
func Defaults() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://127.0.0.1:8080/api",
			Timeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Cache: CacheConfig{
			StaleTime:   0,
			HubCapacity: 256,
		},
		Snapshots: SnapshotConfig{
			Backend: BackendNone,
			Redis: RedisConfig{
				Prefix: "pipewatch:",
			},
		},
		Stub: StubConfig{
			Listen: "127.0.0.1:8080",
		},
	}
}
