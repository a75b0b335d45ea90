package stub

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/pipewatch/internal/model"
)

// ErrNotFound is returned for unknown pipelines, triggers and runs.
var ErrNotFound = errors.New("not found")

// ParamError rejects run parameters; it is served as 422 with the field.
type ParamError struct {
	Field   string
	Message string
}

func (e *ParamError) Error() string { return e.Field + ": " + e.Message }

// Publisher receives push messages produced by the scheduler.
type Publisher func(msg model.Message)

type runRecord struct {
	pipelineID string
	run        model.PipelineRun
	logs       []model.LogEntry
}

// Scheduler is an in-memory stand-in for the pipeline scheduler. It records
// runs and their logs but never executes tasks.
type Scheduler struct {
	mu        sync.Mutex
	pipelines map[string]model.Pipeline
	order     []string
	required  map[string][]string // "pipeline/trigger" -> required param fields
	runs      map[int64]*runRecord
	nextRunID int64
	nextLogID int64
	timers    map[int64]*time.Timer

	completeAfter time.Duration
	publish       Publisher
	now           func() time.Time
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithCompleteAfter marks started runs completed after d. Zero leaves them
// running until Complete is called.
func WithCompleteAfter(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.completeAfter = d }
}

// WithPublisher receives run and log messages as runs change.
func WithPublisher(p Publisher) SchedulerOption {
	return func(s *Scheduler) { s.publish = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler builds a scheduler from seed data.
func NewScheduler(seed Seed, opts ...SchedulerOption) (*Scheduler, error) {
	s := &Scheduler{
		pipelines: make(map[string]model.Pipeline),
		required:  make(map[string][]string),
		runs:      make(map[int64]*runRecord),
		timers:    make(map[int64]*time.Timer),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, sp := range seed.Pipelines {
		p, required, err := sp.toModel()
		if err != nil {
			return nil, err
		}
		if _, dup := s.pipelines[p.ID]; dup {
			return nil, fmt.Errorf("seed: duplicate pipeline %q", p.ID)
		}
		s.pipelines[p.ID] = p
		s.order = append(s.order, p.ID)
		for tid, fields := range required {
			s.required[p.ID+"/"+tid] = fields
		}
	}

	for i, sr := range seed.Runs {
		p, ok := s.pipelines[sr.PipelineID]
		if !ok {
			return nil, fmt.Errorf("seed: runs[%d]: unknown pipeline %q", i, sr.PipelineID)
		}
		if !model.IsManual(sr.TriggerID) {
			if _, ok := p.FindTrigger(sr.TriggerID); !ok {
				return nil, fmt.Errorf("seed: runs[%d]: unknown trigger %q", i, sr.TriggerID)
			}
		}
		status := model.RunStatus(sr.Status)
		if !status.Valid() {
			return nil, fmt.Errorf("seed: runs[%d]: invalid status %q", i, sr.Status)
		}
		s.nextRunID++
		rec := &runRecord{
			pipelineID: sr.PipelineID,
			run: model.PipelineRun{
				ID:        s.nextRunID,
				Status:    status,
				TriggerID: sr.TriggerID,
				StartTime: sr.StartTime,
				Duration:  sr.Duration.Seconds(),
			},
		}
		for _, line := range sr.Logs {
			rec.logs = append(rec.logs, s.newLogLocked(line.Task, model.LogLevel(strings.ToUpper(line.Level)), line.Message, sr.StartTime))
		}
		s.runs[rec.run.ID] = rec
	}
	return s, nil
}

// Pipelines returns every pipeline in seed order.
func (s *Scheduler) Pipelines() []model.Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Pipeline, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.pipelines[id])
	}
	return out
}

// Pipeline returns one pipeline.
func (s *Scheduler) Pipeline(id string) (model.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pipelines[id]
	if !ok {
		return model.Pipeline{}, fmt.Errorf("pipeline %q: %w", id, ErrNotFound)
	}
	return p, nil
}

// Runs returns the runs started by a trigger, newest first.
func (s *Scheduler) Runs(pipelineID, triggerID string) ([]model.PipelineRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkTriggerLocked(pipelineID, triggerID); err != nil {
		return nil, err
	}
	out := []model.PipelineRun{}
	for _, rec := range s.runs {
		if rec.pipelineID == pipelineID && rec.run.TriggerID == triggerID {
			out = append(out, rec.run)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Logs returns the log lines of a run in emission order.
func (s *Scheduler) Logs(pipelineID string, runID int64) ([]model.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.runs[runID]
	if !ok || rec.pipelineID != pipelineID {
		return nil, fmt.Errorf("run %d: %w", runID, ErrNotFound)
	}
	out := make([]model.LogEntry, len(rec.logs))
	copy(out, rec.logs)
	return out, nil
}

// StartRun records a running run. Required params configured for the trigger
// must be present in params.
func (s *Scheduler) StartRun(pipelineID, triggerID string, params model.Params) (model.RunResult, error) {
	s.mu.Lock()
	if err := s.checkTriggerLocked(pipelineID, triggerID); err != nil {
		s.mu.Unlock()
		return model.RunResult{}, err
	}
	if err := checkParams(params, s.required[pipelineID+"/"+triggerID]); err != nil {
		s.mu.Unlock()
		return model.RunResult{}, err
	}

	s.nextRunID++
	now := s.now().UTC()
	rec := &runRecord{
		pipelineID: pipelineID,
		run: model.PipelineRun{
			ID:        s.nextRunID,
			Status:    model.RunRunning,
			TriggerID: triggerID,
			StartTime: now,
		},
	}
	entry := s.newLogLocked("scheduler", model.LevelInfo, fmt.Sprintf("run %d started by trigger %s", rec.run.ID, triggerID), now)
	rec.logs = append(rec.logs, entry)
	s.runs[rec.run.ID] = rec
	runID := rec.run.ID

	if s.completeAfter > 0 {
		s.timers[runID] = time.AfterFunc(s.completeAfter, func() {
			_ = s.Complete(runID, model.RunCompleted)
		})
	}
	s.mu.Unlock()

	s.emitRun(pipelineID, triggerID, runID, model.RunRunning)
	s.emitLog(pipelineID, runID, entry)
	return model.RunResult{RunID: runID}, nil
}

// Complete moves a running run to a terminal status.
func (s *Scheduler) Complete(runID int64, status model.RunStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}

	s.mu.Lock()
	rec, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("run %d: %w", runID, ErrNotFound)
	}
	if rec.run.Status.Terminal() {
		s.mu.Unlock()
		return nil
	}
	if t, ok := s.timers[runID]; ok {
		t.Stop()
		delete(s.timers, runID)
	}
	now := s.now().UTC()
	rec.run.Status = status
	rec.run.Duration = now.Sub(rec.run.StartTime).Seconds()
	level := model.LevelInfo
	if status == model.RunFailed {
		level = model.LevelError
	}
	entry := s.newLogLocked("scheduler", level, fmt.Sprintf("run %d %s", runID, status), now)
	rec.logs = append(rec.logs, entry)
	pipelineID, triggerID := rec.pipelineID, rec.run.TriggerID
	s.mu.Unlock()

	s.emitRun(pipelineID, triggerID, runID, status)
	s.emitLog(pipelineID, runID, entry)
	return nil
}

// Close stops pending completion timers.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *Scheduler) checkTriggerLocked(pipelineID, triggerID string) error {
	p, ok := s.pipelines[pipelineID]
	if !ok {
		return fmt.Errorf("pipeline %q: %w", pipelineID, ErrNotFound)
	}
	if model.IsManual(triggerID) {
		return nil
	}
	if _, ok := p.FindTrigger(triggerID); !ok {
		return fmt.Errorf("trigger %q: %w", triggerID, ErrNotFound)
	}
	return nil
}

func (s *Scheduler) newLogLocked(task string, level model.LogLevel, msg string, at time.Time) model.LogEntry {
	s.nextLogID++
	return model.LogEntry{
		ID:         s.nextLogID,
		Task:       task,
		Level:      level,
		Message:    msg,
		Timestamp:  at,
		LoggerName: "pipewatch.stub",
	}
}

func (s *Scheduler) emitRun(pipelineID, triggerID string, runID int64, status model.RunStatus) {
	s.emit(model.MessageRun, model.RunEvent{
		PipelineID: pipelineID,
		TriggerID:  triggerID,
		RunID:      runID,
		Status:     status,
	})
}

func (s *Scheduler) emitLog(pipelineID string, runID int64, entry model.LogEntry) {
	s.emit(model.MessageLog, model.LogEvent{PipelineID: pipelineID, RunID: runID, LogEntry: entry})
}

func (s *Scheduler) emit(msgType string, data any) {
	if s.publish == nil {
		return
	}
	msg, err := model.NewMessage(msgType, data)
	if err != nil {
		return
	}
	s.publish(msg)
}

func checkParams(params model.Params, required []string) error {
	if len(required) == 0 {
		return nil
	}
	fields, err := params.Fields()
	if err != nil {
		return &ParamError{Field: "params", Message: err.Error()}
	}
	for _, name := range required {
		if _, ok := fields[name]; !ok {
			return &ParamError{Field: name, Message: "is required"}
		}
	}
	return nil
}
