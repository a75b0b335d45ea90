// Package console is what a presentation layer binds to: one TriggerView per
// screen, exposing the resolved trigger state, a run command with its pending
// flag and the derived run URL.
package console

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/pipewatch/internal/dispatch"
	"github.com/mattjoyce/pipewatch/internal/events"
	"github.com/mattjoyce/pipewatch/internal/log"
	"github.com/mattjoyce/pipewatch/internal/model"
	"github.com/mattjoyce/pipewatch/internal/query"
	"github.com/mattjoyce/pipewatch/internal/resolve"
	"github.com/mattjoyce/pipewatch/internal/storage"
)

// Repository is the read side of the scheduler API used by a view.
type Repository interface {
	GetPipeline(ctx context.Context, pipelineID string) (model.Pipeline, error)
	ListRuns(ctx context.Context, pipelineID, triggerID string) ([]model.PipelineRun, error)
	TriggerRunURL(pipelineID, triggerID string) string
}

// Deps are the shared collaborators of every view. Hub, Snapshots and Logger
// are optional.
type Deps struct {
	Repo       Repository
	Cache      *query.Cache
	Dispatcher *dispatch.Dispatcher
	Hub        *events.Hub
	Snapshots  storage.SnapshotStore
	Logger     *slog.Logger

	// SnapshotTimeout bounds snapshot store calls. Zero means two seconds.
	SnapshotTimeout time.Duration
}

// Snapshot is everything a renderer needs for one frame.
type Snapshot struct {
	Resolution resolve.Resolution
	RunURL     string

	// Running is true while a run command for this trigger is outstanding.
	Running bool
	// LastRun and LastRunErr describe the most recent run command from this view.
	LastRun    *model.RunResult
	LastRunErr error

	// PreviewRuns holds a persisted run list shown while the first fetch is
	// pending. It is nil once the real list has loaded.
	PreviewRuns []model.PipelineRun
}

type viewKeys struct {
	pipelineID string
	triggerID  string
	pipeline   query.Key
	runs       query.Key
}

func newViewKeys(pipelineID, triggerID string) *viewKeys {
	return &viewKeys{
		pipelineID: pipelineID,
		triggerID:  triggerID,
		pipeline:   query.PipelineKey(pipelineID),
		runs:       query.RunsKey(pipelineID, triggerID),
	}
}

// TriggerView binds one trigger screen to the shared cache.
type TriggerView struct {
	deps   Deps
	logger *slog.Logger

	// keys is read by hub filters, which run under the hub lock, so it is
	// swapped atomically instead of guarded by mu.
	keys atomic.Pointer[viewKeys]

	mu         sync.Mutex
	releases   []func()
	preview    []model.PipelineRun
	lastRun    *model.RunResult
	lastRunErr error
	closed     bool
}

// NewTriggerView registers the view as an observer of its pipeline and run
// list keys and loads a persisted run list, if any, as the placeholder.
func NewTriggerView(ctx context.Context, deps Deps, pipelineID, triggerID string) *TriggerView {
	if deps.SnapshotTimeout <= 0 {
		deps.SnapshotTimeout = 2 * time.Second
	}
	v := &TriggerView{deps: deps, logger: deps.Logger}
	if v.logger == nil {
		v.logger = log.WithComponent("console")
	}
	v.bind(ctx, pipelineID, triggerID)
	return v
}

// PipelineID returns the pipeline the view is bound to.
func (v *TriggerView) PipelineID() string { return v.keys.Load().pipelineID }

// TriggerID returns the trigger the view is bound to.
func (v *TriggerView) TriggerID() string { return v.keys.Load().triggerID }

// Snapshot returns the current state without blocking. Missing or stale
// entries are fetched in the background; a failed entry stays failed until
// Refresh. A closed view fetches nothing and reports both keys idle.
func (v *TriggerView) Snapshot() Snapshot {
	k := v.keys.Load()

	v.mu.Lock()
	open := !v.closed
	preview := v.preview
	lastRun := v.lastRun
	lastRunErr := v.lastRunErr
	v.mu.Unlock()

	pipeline := v.read(k.pipeline, v.fetchPipeline(k),
		query.WithEnabled(open && k.pipelineID != ""),
		query.WithPlaceholder(model.EmptyPipeline()),
	)

	runsPlaceholder := preview
	if runsPlaceholder == nil {
		runsPlaceholder = []model.PipelineRun{}
	}
	runs := v.read(k.runs, v.fetchRuns(k),
		query.WithEnabled(open && k.pipelineID != "" && k.triggerID != ""),
		query.WithPlaceholder(runsPlaceholder),
	)

	pr := query.As[model.Pipeline](pipeline)
	rr := query.As[[]model.PipelineRun](runs)

	snap := Snapshot{
		Resolution: resolve.Resolve(pr, rr, k.pipelineID, k.triggerID),
		RunURL:     v.deps.Repo.TriggerRunURL(k.pipelineID, k.triggerID),
		Running:    v.deps.Dispatcher != nil && v.deps.Dispatcher.InFlight(k.pipelineID, k.triggerID),
		LastRun:    lastRun,
		LastRunErr: lastRunErr,
	}
	if rr.Placeholder && len(preview) > 0 {
		snap.PreviewRuns = preview
	}
	return snap
}

// Await blocks until neither key of the view has a fetch in flight and returns
// the settled snapshot.
func (v *TriggerView) Await(ctx context.Context) (Snapshot, error) {
	v.Snapshot()
	k := v.keys.Load()
	for _, key := range []query.Key{k.pipeline, k.runs} {
		if _, err := v.deps.Cache.Await(ctx, key); err != nil {
			return v.Snapshot(), err
		}
	}
	return v.Snapshot(), nil
}

// Run requests a new run of the bound trigger. required names params fields
// that must be present.
func (v *TriggerView) Run(ctx context.Context, params model.Params, required ...string) (model.RunResult, error) {
	if v.deps.Dispatcher == nil {
		return model.RunResult{}, errors.New("console: no dispatcher configured")
	}
	k := v.keys.Load()
	res, err := v.deps.Dispatcher.RunTrigger(ctx, dispatch.Request{
		PipelineID: k.pipelineID,
		TriggerID:  k.triggerID,
		Params:     params,
		Required:   required,
	})
	v.recordRun(k, res, err)
	return res, err
}

// RunAsync is Run without blocking. The outcome is recorded on the view and
// also delivered on the returned channel.
func (v *TriggerView) RunAsync(ctx context.Context, params model.Params, required ...string) <-chan dispatch.Outcome {
	out := make(chan dispatch.Outcome, 1)
	if v.deps.Dispatcher == nil {
		out <- dispatch.Outcome{Err: errors.New("console: no dispatcher configured")}
		close(out)
		return out
	}
	k := v.keys.Load()
	ch := v.deps.Dispatcher.Go(ctx, dispatch.Request{
		PipelineID: k.pipelineID,
		TriggerID:  k.triggerID,
		Params:     params,
		Required:   required,
	})
	go func() {
		defer close(out)
		o := <-ch
		v.recordRun(k, o.Result, o.Err)
		out <- o
	}()
	return out
}

// Refresh invalidates both keys. Observed keys refetch right away, which
// also clears a sticky error once the backend answers.
func (v *TriggerView) Refresh() {
	if v.isClosed() {
		return
	}
	k := v.keys.Load()
	v.deps.Cache.Invalidate(k.pipeline)
	v.deps.Cache.Invalidate(k.runs)
	v.Snapshot()
}

// Navigate rebinds the view to another trigger. Results still in flight for
// the previous keys are discarded unless another view observes them. It does
// nothing once the view is closed.
func (v *TriggerView) Navigate(ctx context.Context, pipelineID, triggerID string) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	previous := v.releases
	v.releases = nil
	v.lastRun = nil
	v.lastRunErr = nil
	v.preview = nil
	v.mu.Unlock()

	// Observe the new keys before releasing the old ones so a key shared by
	// both (the pipeline) is not evicted in between.
	v.bind(ctx, pipelineID, triggerID)
	for _, release := range previous {
		release()
	}
}

// Changes delivers hub events concerning the view's current keys. It returns
// a closed channel when no hub is configured.
func (v *TriggerView) Changes() (<-chan events.Event, func()) {
	if v.deps.Hub == nil {
		ch := make(chan events.Event)
		close(ch)
		return ch, func() {}
	}
	return v.deps.Hub.SubscribeFunc(func(ev events.Event) bool {
		k := v.keys.Load()
		return ev.Key == k.pipeline.String() || ev.Key == k.runs.String()
	})
}

// Close releases the view's observations.
func (v *TriggerView) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.mu.Unlock()
	v.unbind()
}

func (v *TriggerView) bind(ctx context.Context, pipelineID, triggerID string) {
	k := newViewKeys(pipelineID, triggerID)
	v.keys.Store(k)

	releases := []func(){
		v.deps.Cache.Observe(k.pipeline),
		v.deps.Cache.Observe(k.runs),
	}
	preview := v.loadPreview(ctx, k)

	v.mu.Lock()
	if v.closed {
		// Close ran while we were binding.
		v.mu.Unlock()
		for _, release := range releases {
			release()
		}
		return
	}
	v.releases = releases
	v.preview = preview
	v.mu.Unlock()
}

func (v *TriggerView) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

func (v *TriggerView) unbind() {
	v.mu.Lock()
	releases := v.releases
	v.releases = nil
	v.mu.Unlock()
	for _, release := range releases {
		release()
	}
}

// read queries key unless it holds a settled error, which stays visible until
// Refresh instead of being refetched on every frame.
func (v *TriggerView) read(key query.Key, fetch query.FetchFunc, opts ...query.Option) query.State {
	if st := v.deps.Cache.Peek(key); st.Status == query.StatusError && !st.Fetching {
		return st
	}
	return v.deps.Cache.Query(key, fetch, opts...)
}

func (v *TriggerView) fetchPipeline(k *viewKeys) query.FetchFunc {
	return func(ctx context.Context) (any, error) {
		return v.deps.Repo.GetPipeline(ctx, k.pipelineID)
	}
}

func (v *TriggerView) fetchRuns(k *viewKeys) query.FetchFunc {
	return func(ctx context.Context) (any, error) {
		runs, err := v.deps.Repo.ListRuns(ctx, k.pipelineID, k.triggerID)
		if err != nil {
			return nil, err
		}
		v.saveSnapshot(ctx, k, runs)
		return runs, nil
	}
}

func (v *TriggerView) loadPreview(ctx context.Context, k *viewKeys) []model.PipelineRun {
	if v.deps.Snapshots == nil || k.pipelineID == "" || k.triggerID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, v.deps.SnapshotTimeout)
	defer cancel()

	snap, err := v.deps.Snapshots.LoadRuns(ctx, k.pipelineID, k.triggerID)
	if err != nil {
		if !errors.Is(err, storage.ErrNoSnapshot) {
			v.logger.Warn("load run snapshot failed", "pipeline_id", k.pipelineID, "trigger_id", k.triggerID, "error", err)
		}
		return nil
	}
	return snap.Runs
}

func (v *TriggerView) saveSnapshot(ctx context.Context, k *viewKeys, runs []model.PipelineRun) {
	if v.deps.Snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, v.deps.SnapshotTimeout)
	defer cancel()

	changed, err := v.deps.Snapshots.SaveRuns(ctx, k.pipelineID, k.triggerID, runs)
	if err != nil {
		v.logger.Warn("save run snapshot failed", "pipeline_id", k.pipelineID, "trigger_id", k.triggerID, "error", err)
		return
	}
	if changed {
		v.logger.Debug("run snapshot saved", "pipeline_id", k.pipelineID, "trigger_id", k.triggerID, "runs", len(runs))
	}
}

func (v *TriggerView) recordRun(k *viewKeys, res model.RunResult, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	// The operator may have navigated away while the command was pending.
	if cur := v.keys.Load(); cur.pipelineID != k.pipelineID || cur.triggerID != k.triggerID {
		return
	}
	if err != nil {
		v.lastRun = nil
		v.lastRunErr = err
		return
	}
	v.lastRun = &res
	v.lastRunErr = nil
}
