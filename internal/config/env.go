package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of environment overrides, e.g. PIPEWATCH_BASE_URL.
const EnvPrefix = "PIPEWATCH"

// envOverlay lists the settings that can be overridden from the environment.
// Unset variables leave the file or default value alone.
type envOverlay struct {
	BaseURL   string         `envconfig:"BASE_URL"`
	Token     string         `envconfig:"TOKEN"`
	Timeout   time.Duration  `envconfig:"TIMEOUT"`
	LogLevel  string         `envconfig:"LOG_LEVEL"`
	LogFormat string         `envconfig:"LOG_FORMAT"`
	LogFile   string         `envconfig:"LOG_FILE"`
	StaleTime *time.Duration `envconfig:"STALE_TIME"`

	SnapshotBackend string `envconfig:"SNAPSHOT_BACKEND"`
	SnapshotPath    string `envconfig:"SNAPSHOT_PATH"`
	RedisAddress    string `envconfig:"REDIS_ADDRESS"`
	RedisPassword   string `envconfig:"REDIS_PASSWORD"`

	MetricsListen string `envconfig:"METRICS_LISTEN"`
}

func applyEnv(cfg *Config) error {
	var env envOverlay
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("read %s_* environment: %w", EnvPrefix, err)
	}

	setString(&cfg.API.BaseURL, env.BaseURL)
	setString(&cfg.API.Token, env.Token)
	if env.Timeout != 0 {
		cfg.API.Timeout = env.Timeout
	}
	setString(&cfg.Log.Level, env.LogLevel)
	setString(&cfg.Log.Format, env.LogFormat)
	setString(&cfg.Log.File, env.LogFile)
	if env.StaleTime != nil {
		cfg.Cache.StaleTime = *env.StaleTime
	}
	setString(&cfg.Snapshots.Backend, env.SnapshotBackend)
	setString(&cfg.Snapshots.Path, env.SnapshotPath)
	setString(&cfg.Snapshots.Redis.Address, env.RedisAddress)
	setString(&cfg.Snapshots.Redis.Password, env.RedisPassword)
	setString(&cfg.Metrics.Listen, env.MetricsListen)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// EnvUsage lists the supported environment variables.
func EnvUsage() []string {
	return []string{
		EnvPrefix + "_CONFIG",
		EnvPrefix + "_BASE_URL",
		EnvPrefix + "_TOKEN",
		EnvPrefix + "_TIMEOUT",
		EnvPrefix + "_LOG_LEVEL",
		EnvPrefix + "_LOG_FORMAT",
		EnvPrefix + "_LOG_FILE",
		EnvPrefix + "_STALE_TIME",
		EnvPrefix + "_SNAPSHOT_BACKEND",
		EnvPrefix + "_SNAPSHOT_PATH",
		EnvPrefix + "_REDIS_ADDRESS",
		EnvPrefix + "_REDIS_PASSWORD",
		EnvPrefix + "_METRICS_LISTEN",
	}
}
