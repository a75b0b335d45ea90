package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/pipewatch/internal/model"
)

func sampleRuns() []model.PipelineRun {
	start := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	return []model.PipelineRun{
		{ID: 2, Status: model.RunRunning, TriggerID: "t1", StartTime: start.Add(time.Hour)},
		{ID: 1, Status: model.RunCompleted, TriggerID: "t1", StartTime: start, Duration: 12.5},
	}
}

func TestOpenSQLiteBootstrapsTables(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "nested", "snapshots.db")
	db, err := OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	var name string
	if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?;", "run_snapshot").Scan(&name); err != nil {
		t.Fatalf("table run_snapshot missing: %v", err)
	}
}

func TestOpenSQLiteEmptyPath(t *testing.T) {
	_, err := OpenSQLite(context.Background(), "")
	assert.Error(t, err)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "snapshots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.LoadRuns(ctx, "p1", "t1")
	require.ErrorIs(t, err, ErrNoSnapshot)

	changed, err := store.SaveRuns(ctx, "p1", "t1", sampleRuns())
	require.NoError(t, err)
	assert.True(t, changed)

	snap, err := store.LoadRuns(ctx, "p1", "t1")
	require.NoError(t, err)
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, "t1", snap.TriggerID)
	require.Len(t, snap.Runs, 2)
	assert.Equal(t, int64(2), snap.Runs[0].ID, "backend order is kept")
	assert.True(t, snap.Runs[1].StartTime.Equal(sampleRuns()[1].StartTime))

	digest, err := Digest(sampleRuns())
	require.NoError(t, err)
	assert.Equal(t, digest, snap.Digest)
}

func TestSQLiteStoreSkipsUnchanged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := NewSQLiteStore(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	changed, err := store.SaveRuns(ctx, "p1", "t1", sampleRuns())
	require.NoError(t, err)
	require.True(t, changed)
	first, err := store.LoadRuns(ctx, "p1", "t1")
	require.NoError(t, err)

	changed, err = store.SaveRuns(ctx, "p1", "t1", sampleRuns())
	require.NoError(t, err)
	assert.False(t, changed)
	again, err := store.LoadRuns(ctx, "p1", "t1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	changed, err = store.SaveRuns(ctx, "p1", "t1", sampleRuns()[:1])
	require.NoError(t, err)
	assert.True(t, changed)
	latest, err := store.LoadRuns(ctx, "p1", "t1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, latest.ID)
	assert.Len(t, latest.Runs, 1)
}

func TestSQLiteStoreEmptyList(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.SaveRuns(ctx, "p1", "t1", nil)
	require.NoError(t, err)
	snap, err := store.LoadRuns(ctx, "p1", "t1")
	require.NoError(t, err)
	assert.NotNil(t, snap.Runs)
	assert.Empty(t, snap.Runs)
}

func TestDigestIsOrderSensitive(t *testing.T) {
	runs := sampleRuns()
	a, err := Digest(runs)
	require.NoError(t, err)
	b, err := Digest([]model.PipelineRun{runs[1], runs[0]})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 64)

	empty, err := Digest(nil)
	require.NoError(t, err)
	alsoEmpty, err := Digest([]model.PipelineRun{})
	require.NoError(t, err)
	assert.Equal(t, empty, alsoEmpty)
}
