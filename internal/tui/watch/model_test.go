package watch

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/pipewatch/internal/console"
	"github.com/mattjoyce/pipewatch/internal/dispatch"
	"github.com/mattjoyce/pipewatch/internal/events"
	"github.com/mattjoyce/pipewatch/internal/model"
	"github.com/mattjoyce/pipewatch/internal/query"
	"github.com/mattjoyce/pipewatch/internal/repository"
	"github.com/mattjoyce/pipewatch/internal/resolve"
)

var clock = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

type fakeBackend struct {
	mu     sync.Mutex
	runs   []model.PipelineRun
	params []model.Params
}

func (f *fakeBackend) GetPipeline(_ context.Context, pid string) (model.Pipeline, error) {
	if pid != "etl" {
		return model.Pipeline{}, &repository.NotFoundError{Resource: "pipeline", ID: pid}
	}
	return model.Pipeline{
		ID:   "etl",
		Name: "Nightly ETL",
		Triggers: []model.ScheduledTrigger{{
			ID: "nightly", Name: "nightly", Schedule: "cron[hour='2']",
			Params: model.Params(`{"region": "eu"}`),
		}},
	}, nil
}

func (f *fakeBackend) ListRuns(context.Context, string, string) ([]model.PipelineRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.PipelineRun{}, f.runs...), nil
}

func (f *fakeBackend) TriggerRunURL(pid, tid string) string {
	return repository.TriggerRunURL("http://sched/api", pid, tid)
}

func (f *fakeBackend) RunPipelineTrigger(_ context.Context, _, _ string, params model.Params) (model.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = append(f.params, params)
	id := int64(len(f.runs) + 1)
	f.runs = append([]model.PipelineRun{{ID: id, Status: model.RunRunning, TriggerID: "nightly", StartTime: clock}}, f.runs...)
	return model.RunResult{RunID: id}, nil
}

func newTestModel(t *testing.T, backend *fakeBackend, opts ...Option) (*Model, *console.TriggerView) {
	t.Helper()
	hub := events.NewHub(32)
	cache := query.New(query.WithHub(hub))
	t.Cleanup(func() { _ = cache.Close() })

	deps := console.Deps{
		Repo:       backend,
		Cache:      cache,
		Dispatcher: dispatch.New(backend, cache, dispatch.WithHub(hub)),
		Hub:        hub,
	}
	view := console.NewTriggerView(context.Background(), deps, "etl", "nightly")
	t.Cleanup(view.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := view.Await(ctx)
	require.NoError(t, err)

	opts = append([]Option{WithClock(func() time.Time { return clock })}, opts...)
	m := New(context.Background(), view, opts...)
	t.Cleanup(m.Close)
	return m, view
}

func update(t *testing.T, m tea.Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	wm, ok := next.(Model)
	require.True(t, ok)
	return wm, cmd
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestViewBeforeWindowSize(t *testing.T) {
	m, _ := newTestModel(t, &fakeBackend{})
	assert.Equal(t, "Initializing...", m.View())
}

func TestModelRendersTrigger(t *testing.T) {
	backend := &fakeBackend{runs: []model.PipelineRun{
		{ID: 2, Status: model.RunFailed, StartTime: clock.Add(-time.Hour), Duration: 3},
		{ID: 1, Status: model.RunCompleted, StartTime: clock.Add(-2 * time.Hour), Duration: 75},
	}}
	m, _ := newTestModel(t, backend)

	wm, _ := update(t, *m, tea.WindowSizeMsg{Width: 140, Height: 60})
	require.Equal(t, resolve.PhaseReady, wm.Snapshot().Resolution.Phase)

	out := wm.View()
	for _, want := range []string{
		"TRIGGER nightly",
		"Nightly ETL",
		"cron[hour='2']",
		`{"region":"eu"}`,
		"http://sched/api/pipelines/etl/triggers/nightly/run",
		"RUNS (2)",
		"#2",
		"1m 15s",
		"No run requested",
	} {
		assert.Contains(t, out, want)
	}
}

func TestRunKeyDispatchesCommand(t *testing.T) {
	backend := &fakeBackend{}
	m, view := newTestModel(t, backend, WithParams(model.Params(`{"region":"us"}`), "region"))

	wm, _ := update(t, *m, tea.WindowSizeMsg{Width: 140, Height: 60})
	wm, cmd := update(t, wm, key("r"))
	require.NotNil(t, cmd)

	msg := cmd()
	done, ok := msg.(runDoneMsg)
	require.True(t, ok, "got %T", msg)
	require.NoError(t, done.Err)
	assert.Equal(t, int64(1), done.Result.RunID)

	wm, _ = update(t, wm, done)
	assert.Contains(t, wm.View(), "Started run #1")

	backend.mu.Lock()
	require.Len(t, backend.params, 1)
	assert.JSONEq(t, `{"region":"us"}`, string(backend.params[0]))
	backend.mu.Unlock()

	// The run list was invalidated and refetches.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := view.Await(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Resolution.Runs, 1)
}

func TestRunKeyReportsMissingParams(t *testing.T) {
	m, _ := newTestModel(t, &fakeBackend{}, WithParams(nil, "region"))

	wm, _ := update(t, *m, tea.WindowSizeMsg{Width: 140, Height: 60})
	wm, cmd := update(t, wm, key("r"))
	require.NotNil(t, cmd)
	wm, _ = update(t, wm, cmd())

	assert.Contains(t, wm.View(), "Last run command failed")
	assert.Error(t, wm.Snapshot().LastRunErr)
}

func TestChangeMessagesAreListed(t *testing.T) {
	m, _ := newTestModel(t, &fakeBackend{})

	wm, _ := update(t, *m, tea.WindowSizeMsg{Width: 140, Height: 60})
	ev := events.Event{ID: 1, Type: dispatch.EventSucceeded, Key: "runs/etl/nightly", At: clock, Data: []byte(`{"run_id":9}`)}
	wm, cmd := update(t, wm, changeMsg(ev))
	assert.NotNil(t, cmd, "keeps waiting for the next change")

	out := wm.View()
	assert.Contains(t, out, dispatch.EventSucceeded)
	assert.Contains(t, out, "run #9")
	assert.NotContains(t, out, "Last change: never")
}

func TestQuitStopsChanges(t *testing.T) {
	m, _ := newTestModel(t, &fakeBackend{})

	_, cmd := update(t, *m, key("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())

	drained := make(chan struct{})
	go func() {
		for range m.changes {
		}
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("change subscription was not stopped")
	}
}

func TestStatusChart(t *testing.T) {
	theme := NewDefaultTheme()
	assert.Contains(t, renderStatusChart(nil, theme), "No runs yet")

	runs := []model.PipelineRun{
		{ID: 3, Status: model.RunRunning},
		{ID: 2, Status: model.RunFailed},
		{ID: 1, Status: model.RunCompleted},
	}
	out := renderStatusChart(runs, theme)
	assert.Contains(t, out, "completed 1")
	assert.Contains(t, out, "failed 1")
	assert.Contains(t, out, "running 1")
	assert.NotContains(t, out, "cancelled")
	assert.Less(t, strings.Index(out, "✓"), strings.Index(out, "▶"), "oldest run first")
}

func TestSparkline(t *testing.T) {
	runs := []model.PipelineRun{
		{ID: 4, Status: model.RunRunning},
		{ID: 3, Status: model.RunCompleted, Duration: 10},
		{ID: 2, Status: model.RunFailed, Duration: 5},
		{ID: 1, Status: model.RunCompleted, Duration: 0},
	}
	line, peak := sparkline(runs)
	assert.Equal(t, "▁▅█·", line)
	assert.Equal(t, 10.0, peak)

	line, peak = sparkline([]model.PipelineRun{{Status: model.RunCompleted}})
	assert.Equal(t, "▁", line)
	assert.Zero(t, peak)
}

func TestChronologicalLimits(t *testing.T) {
	runs := make([]model.PipelineRun, 50)
	for i := range runs {
		runs[i].ID = int64(50 - i)
	}
	out := chronological(runs, maxChartRuns)
	require.Len(t, out, maxChartRuns)
	assert.Equal(t, int64(11), out[0].ID)
	assert.Equal(t, int64(50), out[len(out)-1].ID)
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "-", formatSeconds(12, model.RunRunning))
	assert.Equal(t, "2.5s", formatSeconds(2.5, model.RunCompleted))
	assert.Equal(t, "1h 1m", formatSeconds(3660, model.RunFailed))
	assert.Equal(t, "no params", formatParams(nil))
	assert.Equal(t, `{"a":1}`, formatParams(model.Params("{ \"a\": 1 }")))
	assert.Equal(t, "-", orDash(""))
}

func TestVisibleRunsUsesPreviewWhileLoading(t *testing.T) {
	preview := []model.PipelineRun{{ID: 1}}
	runs, cached := visibleRuns(console.Snapshot{
		Resolution:  resolve.Resolution{Phase: resolve.PhaseLoading},
		PreviewRuns: preview,
	})
	assert.True(t, cached)
	assert.Equal(t, preview, runs)

	runs, cached = visibleRuns(console.Snapshot{Resolution: resolve.Resolution{Phase: resolve.PhaseReady, Runs: []model.PipelineRun{}}})
	assert.False(t, cached)
	assert.Empty(t, runs)
}

func TestActivityLevelFades(t *testing.T) {
	var a Activity
	assert.Equal(t, 0, a.Level(clock))

	a.OnEvent(clock)
	assert.Equal(t, 5, a.Level(clock))
	assert.Equal(t, 5, a.Level(clock.Add(1999*time.Millisecond)))
	assert.Equal(t, 4, a.Level(clock.Add(2*time.Second)))
	assert.Equal(t, 1, a.Level(clock.Add(9*time.Second)))
	assert.Equal(t, 0, a.Level(clock.Add(time.Minute)))

	tk := NewTicker()
	first := tk.Current()
	tk.Tick()
	assert.NotEqual(t, first, tk.Current())
	tk.Tick()
	assert.Equal(t, first, tk.Current())
}
