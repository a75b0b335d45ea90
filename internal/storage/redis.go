package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mattjoyce/pipewatch/internal/model"
)

// RedisClient is the subset of go-redis used by RedisStore.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	// TTL expires snapshots; zero keeps them forever.
	TTL time.Duration
}

// RedisStore shares snapshots between consoles through Redis.
type RedisStore struct {
	cfg    RedisConfig
	client RedisClient
	now    func() time.Time
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	opts := &redis.Options{
		Addr: cfg.Address,
		DB:   cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: ping failed: %w", cfg.Address, err)
	}
	return NewRedisStoreWithClient(cfg, client), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(cfg RedisConfig, client RedisClient) *RedisStore {
	if cfg.Prefix == "" {
		cfg.Prefix = "pipewatch:"
	}
	return &RedisStore{cfg: cfg, client: client, now: time.Now}
}

func (s *RedisStore) LoadRuns(ctx context.Context, pipelineID, triggerID string) (Snapshot, error) {
	raw, err := s.client.Get(ctx, s.key(pipelineID, triggerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Runs == nil {
		snap.Runs = []model.PipelineRun{}
	}
	return snap, nil
}

// SaveRuns compares digests before writing. The read-then-write is not atomic;
// two consoles saving at once both write, which only costs a redundant SET.
func (s *RedisStore) SaveRuns(ctx context.Context, pipelineID, triggerID string, runs []model.PipelineRun) (bool, error) {
	digest, err := Digest(runs)
	if err != nil {
		return false, err
	}

	prev, err := s.LoadRuns(ctx, pipelineID, triggerID)
	switch {
	case err == nil && prev.Digest == digest:
		return false, nil
	case err != nil && !errors.Is(err, ErrNoSnapshot):
		return false, err
	}

	if runs == nil {
		runs = []model.PipelineRun{}
	}
	snap := Snapshot{
		ID:         uuid.NewString(),
		PipelineID: pipelineID,
		TriggerID:  triggerID,
		Digest:     digest,
		Runs:       runs,
		SavedAt:    s.now().UTC(),
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return false, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key(pipelineID, triggerID), raw, s.cfg.TTL).Err(); err != nil {
		return false, fmt.Errorf("save snapshot: %w", err)
	}
	return true, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(pipelineID, triggerID string) string {
	return s.cfg.Prefix + "runs:" + pipelineID + "/" + triggerID
}
