package stub

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/pipewatch/internal/model"
)

var fixedNow = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T, opts ...SchedulerOption) *Scheduler {
	t.Helper()
	opts = append([]SchedulerOption{WithClock(func() time.Time { return fixedNow })}, opts...)
	s, err := NewScheduler(DefaultSeed(fixedNow), opts...)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestDefaultSeed(t *testing.T) {
	s := newTestScheduler(t)

	p, err := s.Pipeline("etl")
	require.NoError(t, err)
	assert.Len(t, p.Tasks, 3)
	trig, ok := p.FindTrigger("nightly")
	require.True(t, ok)
	assert.JSONEq(t, `{"region":"eu"}`, string(trig.Params))
	require.NotNil(t, trig.NextFireTime)

	runs, err := s.Runs("etl", "nightly")
	require.NoError(t, err)
	require.Len(t, runs, 6)
	for i := 1; i < len(runs); i++ {
		assert.True(t, runs[i-1].StartTime.After(runs[i].StartTime), "runs must be newest first")
	}

	manual, err := s.Runs("etl", model.ManualTriggerID)
	require.NoError(t, err)
	assert.NotNil(t, manual)
	assert.Empty(t, manual)
}

func TestSchedulerNotFound(t *testing.T) {
	s := newTestScheduler(t)

	_, err := s.Pipeline("nope")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.Runs("etl", "hourly")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.Logs("other", 1)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.StartRun("nope", model.ManualTriggerID, nil)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStartRunRequiredParams(t *testing.T) {
	s := newTestScheduler(t)

	_, err := s.StartRun("etl", "nightly", nil)
	var pe *ParamError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "region", pe.Field)

	_, err = s.StartRun("etl", "nightly", model.Params(`[1,2]`))
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "params", pe.Field)

	res, err := s.StartRun("etl", "nightly", model.Params(`{"region":"us"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.RunID)

	// Manual runs have no required params.
	_, err = s.StartRun("etl", model.ManualTriggerID, nil)
	require.NoError(t, err)
}

func TestRunLifecyclePublishes(t *testing.T) {
	var (
		mu   sync.Mutex
		msgs []model.Message
	)
	s := newTestScheduler(t, WithPublisher(func(m model.Message) {
		mu.Lock()
		msgs = append(msgs, m)
		mu.Unlock()
	}))

	res, err := s.StartRun("etl", model.ManualTriggerID, nil)
	require.NoError(t, err)

	runs, err := s.Runs("etl", model.ManualTriggerID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunRunning, runs[0].Status)

	require.NoError(t, s.Complete(res.RunID, model.RunFailed))
	require.NoError(t, s.Complete(res.RunID, model.RunCompleted), "completing twice is a no-op")
	assert.Error(t, s.Complete(res.RunID, model.RunRunning))

	runs, _ = s.Runs("etl", model.ManualTriggerID)
	assert.Equal(t, model.RunFailed, runs[0].Status)

	logs, err := s.Logs("etl", res.RunID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, model.LevelError, logs[1].Level)
	assert.Less(t, logs[0].ID, logs[1].ID)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, msgs, 4)
	assert.Equal(t, []string{model.MessageRun, model.MessageLog, model.MessageRun, model.MessageLog},
		[]string{msgs[0].Type, msgs[1].Type, msgs[2].Type, msgs[3].Type})
	var ev model.RunEvent
	require.NoError(t, json.Unmarshal(msgs[2].Data, &ev))
	assert.Equal(t, model.RunEvent{PipelineID: "etl", TriggerID: model.ManualTriggerID, RunID: res.RunID, Status: model.RunFailed}, ev)
}

func TestCompleteAfter(t *testing.T) {
	done := make(chan model.RunEvent, 4)
	s, err := NewScheduler(DefaultSeed(time.Now()),
		WithCompleteAfter(10*time.Millisecond),
		WithPublisher(func(m model.Message) {
			if m.Type != model.MessageRun {
				return
			}
			var ev model.RunEvent
			_ = json.Unmarshal(m.Data, &ev)
			done <- ev
		}),
	)
	require.NoError(t, err)
	defer s.Close()

	res, err := s.StartRun("etl", model.ManualTriggerID, nil)
	require.NoError(t, err)

	assert.Equal(t, model.RunRunning, (<-done).Status)
	select {
	case ev := <-done:
		assert.Equal(t, res.RunID, ev.RunID)
		assert.Equal(t, model.RunCompleted, ev.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("run was not completed")
	}
}

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	body := `
pipelines:
  - id: backup
    name: Backup
    tasks:
      - {id: dump, name: Dump}
    triggers:
      - id: hourly
        name: Hourly
        schedule: "interval[1:00:00]"
        paused: true
runs:
  - pipeline_id: backup
    trigger_id: hourly
    status: completed
    start_time: 2026-01-02T02:00:00Z
    duration: 1m30s
    logs:
      - {task: dump, level: warning, message: slow disk}
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	seed, err := LoadSeed(path)
	require.NoError(t, err)
	s, err := NewScheduler(seed)
	require.NoError(t, err)

	p, err := s.Pipeline("backup")
	require.NoError(t, err)
	assert.True(t, p.Triggers[0].Paused)
	assert.Equal(t, "interval[1:00:00]", p.Triggers[0].Schedule)

	runs, err := s.Runs("backup", "hourly")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 90.0, runs[0].Duration)

	logs, err := s.Logs("backup", runs[0].ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.LevelWarning, logs[0].Level)
}

func TestNewSchedulerRejectsBadSeed(t *testing.T) {
	tests := []struct {
		name string
		seed Seed
	}{
		{name: "pipeline without id", seed: Seed{Pipelines: []SeedPipeline{{}}}},
		{name: "duplicate pipeline", seed: Seed{Pipelines: []SeedPipeline{{ID: "a"}, {ID: "a"}}}},
		{name: "manual trigger id", seed: Seed{Pipelines: []SeedPipeline{{ID: "a", Triggers: []SeedTrigger{{ID: "manual"}}}}}},
		{name: "run for unknown pipeline", seed: Seed{Runs: []SeedRun{{PipelineID: "x", TriggerID: "manual", Status: "completed"}}}},
		{name: "run with bad status", seed: Seed{
			Pipelines: []SeedPipeline{{ID: "a"}},
			Runs:      []SeedRun{{PipelineID: "a", TriggerID: "manual", Status: "exploded"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScheduler(tt.seed)
			assert.Error(t, err)
		})
	}
}
