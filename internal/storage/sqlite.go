package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mattjoyce/pipewatch/internal/model"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist. ":memory:" is accepted for tests.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS run_snapshot (
  pipeline_id TEXT NOT NULL,
  trigger_id  TEXT NOT NULL,
  id          TEXT NOT NULL,
  digest      TEXT NOT NULL,
  runs        JSON NOT NULL,
  saved_at    TEXT NOT NULL,
  PRIMARY KEY (pipeline_id, trigger_id)
);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}

// SQLiteStore keeps one snapshot per trigger in a local database file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) LoadRuns(ctx context.Context, pipelineID, triggerID string) (Snapshot, error) {
	var (
		snap    Snapshot
		raw     []byte
		savedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, digest, runs, saved_at FROM run_snapshot WHERE pipeline_id = ? AND trigger_id = ?`,
		pipelineID, triggerID,
	).Scan(&snap.ID, &snap.Digest, &raw, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}

	if err := json.Unmarshal(raw, &snap.Runs); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot runs: %w", err)
	}
	if snap.Runs == nil {
		snap.Runs = []model.PipelineRun{}
	}
	snap.SavedAt, err = time.Parse(time.RFC3339Nano, savedAt)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse saved_at: %w", err)
	}
	snap.PipelineID = pipelineID
	snap.TriggerID = triggerID
	return snap, nil
}

func (s *SQLiteStore) SaveRuns(ctx context.Context, pipelineID, triggerID string, runs []model.PipelineRun) (bool, error) {
	digest, err := Digest(runs)
	if err != nil {
		return false, err
	}
	if runs == nil {
		runs = []model.PipelineRun{}
	}
	raw, err := json.Marshal(runs)
	if err != nil {
		return false, fmt.Errorf("encode runs: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO run_snapshot (pipeline_id, trigger_id, id, digest, runs, saved_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (pipeline_id, trigger_id) DO UPDATE SET
  id = excluded.id,
  digest = excluded.digest,
  runs = excluded.runs,
  saved_at = excluded.saved_at
WHERE run_snapshot.digest <> excluded.digest`,
		pipelineID, triggerID, uuid.NewString(), digest, string(raw), s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("save snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("save snapshot: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
