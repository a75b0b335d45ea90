package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal valid config",
			yaml: `
api:
  base_url: https://scheduler.example.com/api
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.API.BaseURL != "https://scheduler.example.com/api" {
					t.Errorf("base_url = %q", cfg.API.BaseURL)
				}
				if cfg.API.Timeout != 30*time.Second {
					t.Error("default timeout not applied")
				}
				if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
					t.Error("default log config not applied")
				}
				if cfg.Cache.HubCapacity != 256 {
					t.Error("default hub capacity not applied")
				}
				if cfg.Snapshots.Backend != BackendNone {
					t.Errorf("backend = %q, want none", cfg.Snapshots.Backend)
				}
			},
		},
		{
			name: "full config",
			yaml: `
api:
  base_url: http://localhost:9000/api
  token: abc
  timeout: 5s
log:
  level: debug
  format: json
cache:
  stale_time: 1m
  hub_capacity: 16
snapshots:
  backend: sqlite
  path: ./snap.db
metrics:
  listen: 127.0.0.1:9464
stub:
  listen: 127.0.0.1:9000
  tokens:
    - token: abc
      scopes: ["runs:read", "runs:write"]
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.API.Timeout != 5*time.Second {
					t.Error("timeout not parsed")
				}
				if cfg.Cache.StaleTime != time.Minute {
					t.Error("stale_time not parsed")
				}
				if cfg.Snapshots.Path != "./snap.db" {
					t.Error("snapshots.path not parsed")
				}
				if cfg.Snapshots.Redis.Prefix != "pipewatch:" {
					t.Error("nested default lost when sibling keys are set")
				}
				if len(cfg.Stub.Tokens) != 1 || len(cfg.Stub.Tokens[0].Scopes) != 2 {
					t.Error("stub tokens not parsed")
				}
			},
		},
		{
			name: "env var interpolation",
			yaml: `
api:
  base_url: ${PW_TEST_URL}
  token: ${PW_TEST_TOKEN}
`,
			env: map[string]string{
				"PW_TEST_URL":   "https://ci.example.com/api",
				"PW_TEST_TOKEN": "secret123",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.API.BaseURL != "https://ci.example.com/api" {
					t.Errorf("base_url = %q", cfg.API.BaseURL)
				}
				if cfg.API.Token != "secret123" {
					t.Error("token not interpolated")
				}
			},
		},
		{
			name: "unset token variable",
			yaml: `
api:
  token: ${PW_TEST_MISSING_TOKEN}
`,
			wantErr: "${PW_TEST_MISSING_TOKEN} is not set",
		},
		{
			name: "environment overlay wins over file",
			yaml: `
api:
  base_url: http://file.example.com/api
log:
  level: warn
`,
			env: map[string]string{
				"PIPEWATCH_BASE_URL":   "http://env.example.com/api",
				"PIPEWATCH_STALE_TIME": "10s",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.API.BaseURL != "http://env.example.com/api" {
					t.Errorf("base_url = %q", cfg.API.BaseURL)
				}
				if cfg.Log.Level != "warn" {
					t.Error("file value lost for unset env var")
				}
				if cfg.Cache.StaleTime != 10*time.Second {
					t.Error("stale_time overlay not applied")
				}
			},
		},
		{
			name:    "non-http base url",
			yaml:    "api:\n  base_url: ftp://example.com\n",
			wantErr: "http or https",
		},
		{
			name:    "zero timeout",
			yaml:    "api:\n  timeout: 0s\n",
			wantErr: "api.timeout",
		},
		{
			name:    "bad log level",
			yaml:    "log:\n  level: verbose\n",
			wantErr: "log.level",
		},
		{
			name:    "bad log format",
			yaml:    "log:\n  format: xml\n",
			wantErr: "log.format",
		},
		{
			name:    "negative stale time",
			yaml:    "cache:\n  stale_time: -1s\n",
			wantErr: "cache.stale_time",
		},
		{
			name:    "sqlite without path",
			yaml:    "snapshots:\n  backend: sqlite\n",
			wantErr: "snapshots.path",
		},
		{
			name:    "redis without address",
			yaml:    "snapshots:\n  backend: redis\n",
			wantErr: "snapshots.redis.address",
		},
		{
			name:    "unknown backend",
			yaml:    "snapshots:\n  backend: etcd\n",
			wantErr: "snapshots.backend",
		},
		{
			name: "stub token without scopes",
			yaml: `
stub:
  tokens:
    - token: abc
`,
			wantErr: "scopes must be non-empty",
		},
		{
			name:    "malformed yaml",
			yaml:    "api: [unclosed\n",
			wantErr: "parse config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := writeConfig(t, tt.yaml)

			cfg, err := Load(path)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("Load() succeeded, want error containing %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Load() error = %v, want it to contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.SourcePath != "" || cfg.Fingerprint != "" {
		t.Errorf("defaults carry source %q / fingerprint %q", cfg.SourcePath, cfg.Fingerprint)
	}
	if cfg.API.BaseURL != Defaults().API.BaseURL {
		t.Errorf("base_url = %q", cfg.API.BaseURL)
	}
}

func TestLoadDirectoryResolvesConfigYAML(t *testing.T) {
	path := writeConfig(t, "log:\n  level: debug\n")

	cfg, err := Load(filepath.Dir(path))
	if err != nil {
		t.Fatalf("Load(dir) error = %v", err)
	}
	if cfg.SourcePath != path {
		t.Errorf("SourcePath = %q, want %q", cfg.SourcePath, path)
	}
	if cfg.Log.Level != "debug" {
		t.Error("config.yaml in directory was not read")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("Load() error = %v, want not found", err)
	}
}

func TestLoadFingerprintTracksRawBytes(t *testing.T) {
	t.Setenv("PW_TEST_FP_TOKEN", "one")
	body := "api:\n  token: ${PW_TEST_FP_TOKEN}\n"
	path := writeConfig(t, body)

	first, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if first.Fingerprint != Fingerprint([]byte(body)) {
		t.Error("fingerprint does not match file bytes")
	}

	t.Setenv("PW_TEST_FP_TOKEN", "two")
	second, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if first.Fingerprint != second.Fingerprint {
		t.Error("fingerprint changed with environment, want raw file hash")
	}
}

func TestInterpolateEnvLeavesUnknownVars(t *testing.T) {
	t.Setenv("PW_TEST_KNOWN", "x")
	got := interpolateEnv("a=${PW_TEST_KNOWN} b=${PW_TEST_UNKNOWN_VAR} c=$PLAIN")
	want := "a=x b=${PW_TEST_UNKNOWN_VAR} c=$PLAIN"
	if got != want {
		t.Errorf("interpolateEnv() = %q, want %q", got, want)
	}
}

func TestDiscover(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if got := Discover("explicit.yaml"); got != "explicit.yaml" {
		t.Errorf("Discover(explicit) = %q", got)
	}

	t.Setenv("PIPEWATCH_CONFIG", "/from/env.yaml")
	if got := Discover(""); got != "/from/env.yaml" {
		t.Errorf("Discover() with env = %q", got)
	}

	t.Setenv("PIPEWATCH_CONFIG", "")
	home := os.Getenv("HOME")
	userPath := filepath.Join(home, ".config", "pipewatch", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(userPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(userPath, []byte("{}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := Discover(""); got != userPath {
		t.Errorf("Discover() = %q, want %q", got, userPath)
	}
}
