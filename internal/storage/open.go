package storage

import (
	"context"
	"fmt"
)

// Backend names accepted by Open.
const (
	BackendNone   = "none"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Options selects and configures a snapshot backend.
type Options struct {
	Backend string
	// Path is the SQLite database file.
	Path  string
	Redis RedisConfig
}

// Open returns the configured store. With no backend it returns (nil, nil)
// and callers run without warm-start placeholders.
func Open(ctx context.Context, opts Options) (SnapshotStore, error) {
	switch opts.Backend {
	case "", BackendNone:
		return nil, nil
	case BackendSQLite:
		return NewSQLiteStore(ctx, opts.Path)
	case BackendRedis:
		return NewRedisStore(ctx, opts.Redis)
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", opts.Backend)
	}
}
