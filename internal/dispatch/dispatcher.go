package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mattjoyce/pipewatch/internal/events"
	"github.com/mattjoyce/pipewatch/internal/log"
	"github.com/mattjoyce/pipewatch/internal/model"
	"github.com/mattjoyce/pipewatch/internal/query"
	"github.com/mattjoyce/pipewatch/internal/repository"
)

//go:generate mockgen -destination=mocks/mock_dispatch.go -package=mocks github.com/mattjoyce/pipewatch/internal/dispatch TriggerRunner,Invalidator

// Event types published on the hub.
const (
	EventStarted   = "dispatch.started"
	EventSucceeded = "dispatch.succeeded"
	EventFailed    = "dispatch.failed"
)

// TriggerRunner starts a run on the backend. *repository.Client satisfies it.
type TriggerRunner interface {
	RunPipelineTrigger(ctx context.Context, pipelineID, triggerID string, params model.Params) (model.RunResult, error)
}

// Invalidator marks cache keys stale. *query.Cache satisfies it.
type Invalidator interface {
	Invalidate(key query.Key)
}

// Observer receives command outcomes, typically for metrics.
type Observer interface {
	RunDispatched(kind model.TriggerKind, err error, elapsed time.Duration)
}

// Request describes one run command.
type Request struct {
	PipelineID string
	TriggerID  string
	Params     model.Params

	// Required lists top-level param fields that must be present.
	Required []string
}

// Outcome is the settled result of an asynchronous run command.
type Outcome struct {
	Request Request
	Result  model.RunResult
	Err     error
}

type triggerRef struct {
	pipelineID string
	triggerID  string
}

// Dispatcher runs triggers and keeps the query cache consistent afterwards.
type Dispatcher struct {
	runner   TriggerRunner
	cache    Invalidator
	hub      *events.Hub
	observer Observer
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[triggerRef]int
	pending  int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHub publishes command lifecycle events on hub.
func WithHub(hub *events.Hub) Option {
	return func(d *Dispatcher) { d.hub = hub }
}

// WithObserver installs an outcome observer.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// WithLogger overrides the component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// New creates a Dispatcher. cache may be nil when nothing needs invalidating.
func New(runner TriggerRunner, cache Invalidator, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		runner:   runner,
		cache:    cache,
		inflight: make(map[triggerRef]int),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = log.WithComponent("dispatch")
	}
	return d
}

// RunTrigger requests a new run and blocks until the backend answers.
func (d *Dispatcher) RunTrigger(ctx context.Context, req Request) (model.RunResult, error) {
	ref := triggerRef{pipelineID: req.PipelineID, triggerID: req.TriggerID}
	d.begin(ref)
	defer d.end(ref)
	return d.run(ctx, req)
}

func (d *Dispatcher) run(ctx context.Context, req Request) (model.RunResult, error) {
	if err := Validate(req.Params, req.Required); err != nil {
		return model.RunResult{}, err
	}

	logger := d.logger.With("pipeline_id", req.PipelineID, "trigger_id", req.TriggerID)

	kind := model.KindScheduled
	if model.IsManual(req.TriggerID) {
		kind = model.KindManual
	}

	d.publish(EventStarted, req, nil)
	logger.Debug("run requested", "kind", kind.String())

	start := time.Now()
	res, err := d.runner.RunPipelineTrigger(ctx, req.PipelineID, req.TriggerID, req.Params)
	elapsed := time.Since(start)
	if d.observer != nil {
		d.observer.RunDispatched(kind, err, elapsed)
	}

	if err != nil {
		logger.Warn("run request failed", "error", err, "duration_ms", elapsed.Milliseconds())
		d.publish(EventFailed, req, map[string]any{"error": err.Error()})
		return model.RunResult{}, err
	}

	if d.cache != nil {
		d.cache.Invalidate(query.RunsKey(req.PipelineID, req.TriggerID))
	}
	logger.Info("run started", "run_id", res.RunID, "duration_ms", elapsed.Milliseconds())
	d.publish(EventSucceeded, req, map[string]any{"run_id": res.RunID})
	return res, nil
}

// Go runs the command in the background. The channel receives exactly one
// Outcome and is then closed.
func (d *Dispatcher) Go(ctx context.Context, req Request) <-chan Outcome {
	out := make(chan Outcome, 1)

	// Count the call before returning so InFlight is true immediately.
	ref := triggerRef{pipelineID: req.PipelineID, triggerID: req.TriggerID}
	d.begin(ref)

	go func() {
		defer close(out)
		res, err := d.run(ctx, req)
		d.end(ref)
		out <- Outcome{Request: req, Result: res, Err: err}
	}()
	return out
}

// InFlight reports whether a run command for the trigger is outstanding.
func (d *Dispatcher) InFlight(pipelineID, triggerID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inflight[triggerRef{pipelineID: pipelineID, triggerID: triggerID}] > 0
}

// Pending returns the number of outstanding run commands.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

func (d *Dispatcher) begin(ref triggerRef) {
	d.mu.Lock()
	d.inflight[ref]++
	d.pending++
	d.mu.Unlock()
}

func (d *Dispatcher) end(ref triggerRef) {
	d.mu.Lock()
	if d.inflight[ref] <= 1 {
		delete(d.inflight, ref)
	} else {
		d.inflight[ref]--
	}
	d.pending--
	d.mu.Unlock()
}

func (d *Dispatcher) publish(eventType string, req Request, extra map[string]any) {
	if d.hub == nil {
		return
	}
	data := map[string]any{
		"pipeline_id": req.PipelineID,
		"trigger_id":  req.TriggerID,
	}
	for k, v := range extra {
		data[k] = v
	}
	d.hub.Publish(eventType, query.RunsKey(req.PipelineID, req.TriggerID).String(), data)
}

// Validate checks that params is a JSON object carrying every required field.
// With nothing required the payload is passed through uninspected.
func Validate(params model.Params, required []string) error {
	if len(required) == 0 {
		return nil
	}
	fields, err := params.Fields()
	if err != nil {
		return &repository.ValidationError{Field: "params", Message: err.Error()}
	}

	var missing []string
	for _, name := range required {
		if _, ok := fields[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return &repository.ValidationError{
		Field:   missing[0],
		Message: fmt.Sprintf("missing required params: %v", missing),
	}
}
