// Package doctor checks a loaded pipewatch configuration and, optionally,
// whether the services it points at answer.
package doctor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/pipewatch/internal/auth"
	"github.com/mattjoyce/pipewatch/internal/config"
	"github.com/mattjoyce/pipewatch/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid       bool    `json:"valid"`
	Source      string  `json:"source,omitempty"`
	Fingerprint string  `json:"fingerprint,omitempty"`
	Errors      []Issue `json:"errors,omitempty"`
	Warnings    []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Pinger is implemented by repository.Client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreOpener opens a snapshot store; storage.Open in production.
type StoreOpener func(ctx context.Context, opts storage.Options) (storage.SnapshotStore, error)

// Doctor validates configuration and probes its endpoints.
type Doctor struct {
	cfg          *config.Config
	api          Pinger
	openStore    StoreOpener
	probeTimeout time.Duration
}

// Option configures a Doctor.
type Option func(*Doctor)

// WithAPI enables the scheduler API reachability probe.
func WithAPI(p Pinger) Option {
	return func(d *Doctor) { d.api = p }
}

// WithStoreOpener enables the snapshot backend probe.
func WithStoreOpener(open StoreOpener) Option {
	return func(d *Doctor) { d.openStore = open }
}

// WithProbeTimeout bounds each probe. Default 5s.
func WithProbeTimeout(timeout time.Duration) Option {
	return func(d *Doctor) {
		if timeout > 0 {
			d.probeTimeout = timeout
		}
	}
}

// New creates a Doctor for a loaded config.
func New(cfg *config.Config, opts ...Option) *Doctor {
	d := &Doctor{cfg: cfg, probeTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Validate runs all checks and returns a result. Probes run only for the
// options that enabled them.
func (d *Doctor) Validate(ctx context.Context) *Result {
	r := &Result{Valid: true, Source: d.cfg.SourcePath, Fingerprint: d.cfg.Fingerprint}

	d.validateAPIConfig(r)
	d.validateCache(r)
	d.validateSnapshots(r)
	d.validateLog(r)
	d.validateStubTokens(r)
	d.probeAPI(ctx, r)
	d.probeSnapshots(ctx, r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateAPIConfig(r *Result) {
	u, err := url.Parse(d.cfg.API.BaseURL)
	if err != nil || u.Host == "" {
		d.addError(r, "api", "api.base_url", fmt.Sprintf("invalid base URL %q", d.cfg.API.BaseURL))
		return
	}
	if d.cfg.API.Token == "" {
		d.addWarning(r, "api", "api.token", "no bearer token configured; requests are sent unauthenticated")
	}
	if d.cfg.API.Token != "" && u.Scheme == "http" && !isLoopback(u.Hostname()) {
		d.addWarning(r, "api", "api.base_url",
			fmt.Sprintf("token is sent in clear text to %s", u.Host))
	}
	if d.cfg.API.Timeout > 2*time.Minute {
		d.addWarning(r, "api", "api.timeout",
			fmt.Sprintf("timeout %s is long; a stuck fetch keeps the view loading that long", d.cfg.API.Timeout))
	}
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

func (d *Doctor) validateCache(r *Result) {
	if d.cfg.Cache.HubCapacity == 0 {
		d.addWarning(r, "cache", "cache.hub_capacity",
			"hub_capacity 0 falls back to the hub default of 100 notifications")
	}
	if d.cfg.Cache.StaleTime > 0 && d.cfg.Cache.StaleTime < time.Second {
		d.addWarning(r, "cache", "cache.stale_time",
			fmt.Sprintf("stale_time %s refetches on almost every read", d.cfg.Cache.StaleTime))
	}
}

func (d *Doctor) validateSnapshots(r *Result) {
	s := d.cfg.Snapshots
	switch s.Backend {
	case config.BackendSQLite:
		dir := filepath.Dir(s.Path)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			d.addError(r, "snapshots", "snapshots.path",
				fmt.Sprintf("directory %q does not exist", dir))
		}
	case config.BackendRedis:
		if s.Redis.TTL == 0 {
			d.addWarning(r, "snapshots", "snapshots.redis.ttl",
				"no TTL; snapshots of deleted triggers stay in redis forever")
		}
	}
}

func (d *Doctor) validateLog(r *Result) {
	if d.cfg.Log.File == "" {
		return
	}
	dir := filepath.Dir(d.cfg.Log.File)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		d.addError(r, "log", "log.file", fmt.Sprintf("directory %q does not exist", dir))
	}
}

func (d *Doctor) validateStubTokens(r *Result) {
	seen := make(map[string]int)
	for i, token := range d.cfg.Stub.Tokens {
		field := fmt.Sprintf("stub.tokens[%d]", i)
		if prev, dup := seen[token.Token]; dup {
			d.addError(r, "stub", field+".token",
				fmt.Sprintf("token duplicates stub.tokens[%d]", prev))
		}
		seen[token.Token] = i

		for j, scope := range token.Scopes {
			if !auth.KnownScope(scope) {
				d.addError(r, "stub", fmt.Sprintf("%s.scopes[%d]", field, j),
					fmt.Sprintf("unknown scope %q", scope))
			}
		}
	}
}

func (d *Doctor) probeAPI(ctx context.Context, r *Result) {
	if d.api == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, d.probeTimeout)
	defer cancel()
	if err := d.api.Ping(ctx); err != nil {
		d.addError(r, "connectivity", "api.base_url",
			fmt.Sprintf("scheduler API did not answer: %v", err))
	}
}

func (d *Doctor) probeSnapshots(ctx context.Context, r *Result) {
	if d.openStore == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, d.probeTimeout)
	defer cancel()
	store, err := d.openStore(ctx, d.cfg.Snapshots.StoreOptions())
	if err != nil {
		d.addError(r, "connectivity", "snapshots",
			fmt.Sprintf("snapshot backend %q unavailable: %v", d.cfg.Snapshots.Backend, err))
		return
	}
	if store != nil {
		_ = store.Close()
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Source != "" {
		fmt.Fprintf(&b, "Config: %s\n", r.Source)
	} else {
		b.WriteString("Config: built-in defaults\n")
	}
	if r.Fingerprint != "" {
		fmt.Fprintf(&b, "BLAKE3: %s\n", r.Fingerprint)
	}

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
		return b.String()
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
