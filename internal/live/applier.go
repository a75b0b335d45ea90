// Package live applies scheduler push messages to the query cache.
//
// Applier interprets the message envelope. Follower feeds it from a
// server-sent-events stream such as the stub API's /messages; any other
// source can call Apply directly.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/pipewatch/internal/log"
	"github.com/mattjoyce/pipewatch/internal/model"
	"github.com/mattjoyce/pipewatch/internal/query"
)

// LogSink receives task log lines carried by "log" messages.
type LogSink interface {
	HandleLog(ctx context.Context, ev model.LogEvent) error
}

// LogSinkFunc adapts a function to LogSink.
type LogSinkFunc func(ctx context.Context, ev model.LogEvent) error

func (f LogSinkFunc) HandleLog(ctx context.Context, ev model.LogEvent) error { return f(ctx, ev) }

// Invalidator marks cache keys stale. *query.Cache satisfies it.
type Invalidator interface {
	Invalidate(key query.Key)
}

// Applier turns push messages into cache invalidations.
type Applier struct {
	cache  Invalidator
	logs   LogSink
	logger *slog.Logger
}

// Option configures an Applier.
type Option func(*Applier)

// WithLogSink forwards "log" messages to sink.
func WithLogSink(sink LogSink) Option {
	return func(a *Applier) { a.logs = sink }
}

// WithLogger overrides the component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Applier) { a.logger = logger }
}

// NewApplier creates an Applier over cache.
func NewApplier(cache Invalidator, opts ...Option) *Applier {
	a := &Applier{cache: cache}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = log.WithComponent("live")
	}
	return a
}

// Apply handles one message. Unknown types are ignored; malformed data for a
// known type is an error and leaves the cache untouched.
func (a *Applier) Apply(ctx context.Context, msg model.Message) error {
	switch msg.Type {
	case model.MessageRun:
		var ev model.RunEvent
		if err := decode(msg, &ev); err != nil {
			return err
		}
		if ev.PipelineID == "" || ev.TriggerID == "" {
			return fmt.Errorf("run message: pipeline_id and trigger_id are required")
		}
		a.cache.Invalidate(query.RunsKey(ev.PipelineID, ev.TriggerID))
		a.logger.Debug("run changed", "pipeline_id", ev.PipelineID, "trigger_id", ev.TriggerID, "run_id", ev.RunID, "status", ev.Status)
		return nil

	case model.MessagePipeline:
		var ev model.PipelineEvent
		if err := decode(msg, &ev); err != nil {
			return err
		}
		if ev.PipelineID == "" {
			return fmt.Errorf("pipeline message: pipeline_id is required")
		}
		a.cache.Invalidate(query.PipelineKey(ev.PipelineID))
		a.logger.Debug("pipeline changed", "pipeline_id", ev.PipelineID)
		return nil

	case model.MessageLog:
		if a.logs == nil {
			return nil
		}
		var ev model.LogEvent
		if err := decode(msg, &ev); err != nil {
			return err
		}
		return a.logs.HandleLog(ctx, ev)

	default:
		a.logger.Debug("ignoring message", "type", msg.Type)
		return nil
	}
}

// ApplyJSON decodes a raw envelope and applies it.
func (a *Applier) ApplyJSON(ctx context.Context, raw []byte) error {
	var msg model.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return a.Apply(ctx, msg)
}

func decode(msg model.Message, target any) error {
	if len(msg.Data) == 0 {
		return fmt.Errorf("%s message: missing data", msg.Type)
	}
	if err := json.Unmarshal(msg.Data, target); err != nil {
		return fmt.Errorf("%s message: %w", msg.Type, err)
	}
	return nil
}
