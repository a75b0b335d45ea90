package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads configuration from configPath, or uses Defaults when configPath
// is empty. ${VAR} references in the file are expanded, then PIPEWATCH_*
// environment variables are applied on top, then the result is validated.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if configPath != "" {
		if err := loadFile(cfg, configPath); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFile(cfg *Config, configPath string) error {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("read config %s: %w", absPath, err)
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return fmt.Errorf("parse config %s: %w", absPath, err)
	}

	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", absPath, err)
	}

	cfg.SourcePath = absPath
	cfg.Fingerprint = Fingerprint(data)
	cfg.source = &node
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if cfg.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if err := unresolved("api.base_url", cfg.API.BaseURL); err != nil {
		return err
	}
	u, err := url.Parse(cfg.API.BaseURL)
	if err != nil {
		return fmt.Errorf("api.base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api.base_url must be an http or https URL (got %q)", cfg.API.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("api.base_url has no host (got %q)", cfg.API.BaseURL)
	}
	if err := unresolved("api.token", cfg.API.Token); err != nil {
		return err
	}
	if cfg.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Log.Level)] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error (got %q)", cfg.Log.Level)
	}
	if f := strings.ToLower(cfg.Log.Format); f != "json" && f != "text" {
		return fmt.Errorf("log.format must be json or text (got %q)", cfg.Log.Format)
	}

	if cfg.Cache.StaleTime < 0 {
		return fmt.Errorf("cache.stale_time must not be negative")
	}
	if cfg.Cache.HubCapacity < 0 {
		return fmt.Errorf("cache.hub_capacity must not be negative")
	}

	switch cfg.Snapshots.Backend {
	case "", BackendNone:
	case BackendSQLite:
		if cfg.Snapshots.Path == "" {
			return fmt.Errorf("snapshots.path is required for the sqlite backend")
		}
	case BackendRedis:
		if cfg.Snapshots.Redis.Address == "" {
			return fmt.Errorf("snapshots.redis.address is required for the redis backend")
		}
		if err := unresolved("snapshots.redis.password", cfg.Snapshots.Redis.Password); err != nil {
			return err
		}
	default:
		return fmt.Errorf("snapshots.backend must be one of: none, sqlite, redis (got %q)", cfg.Snapshots.Backend)
	}

	for i, tok := range cfg.Stub.Tokens {
		field := fmt.Sprintf("stub.tokens[%d].token", i)
		if tok.Token == "" {
			return fmt.Errorf("%s is required", field)
		}
		if err := unresolved(field, tok.Token); err != nil {
			return err
		}
		if len(tok.Scopes) == 0 {
			return fmt.Errorf("stub.tokens[%d].scopes must be non-empty", i)
		}
	}

	return nil
}

// unresolved reports a ${VAR} placeholder left in a value, without echoing
// the rest of the value.
func unresolved(field, value string) error {
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}
