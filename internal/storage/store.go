// Package storage persists run-list snapshots between console sessions.
//
// A snapshot is only ever used as a placeholder while the first fetch of a run
// list is pending; the backend stays the source of truth. Saves are skipped
// when the run list is unchanged (same BLAKE3 digest).
package storage

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/pipewatch/internal/model"
)

// ErrNoSnapshot is returned when nothing was saved for a trigger.
var ErrNoSnapshot = errors.New("no snapshot")

// Snapshot is a persisted copy of one trigger's run list in backend order.
type Snapshot struct {
	ID         string              `json:"id"`
	PipelineID string              `json:"pipeline_id"`
	TriggerID  string              `json:"trigger_id"`
	Digest     string              `json:"digest"`
	Runs       []model.PipelineRun `json:"runs"`
	SavedAt    time.Time           `json:"saved_at"`
}

// SnapshotStore loads and saves run-list snapshots.
type SnapshotStore interface {
	// LoadRuns returns the last snapshot, or ErrNoSnapshot.
	LoadRuns(ctx context.Context, pipelineID, triggerID string) (Snapshot, error)
	// SaveRuns stores runs and reports whether anything changed.
	SaveRuns(ctx context.Context, pipelineID, triggerID string, runs []model.PipelineRun) (bool, error)
	Close() error
}

// Digest returns the hex BLAKE3 hash of the JSON encoding of runs.
func Digest(runs []model.PipelineRun) (string, error) {
	if runs == nil {
		runs = []model.PipelineRun{}
	}
	b, err := json.Marshal(runs)
	if err != nil {
		return "", fmt.Errorf("encode runs: %w", err)
	}
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
