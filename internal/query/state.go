package query

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Status is the discriminant of a key's State.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// State is an immutable snapshot of one cache key.
//
// Value holds the last successful result, or the placeholder while the first
// fetch is pending (Placeholder is then true). Err is set only in StatusError.
// Fetching reports a fetch in flight that a new Query would attach to.
type State struct {
	Status      Status
	Value       any
	Err         error
	UpdatedAt   time.Time
	Fetching    bool
	Stale       bool
	Placeholder bool
}

// Result is the typed view of a State.
type Result[T any] struct {
	Status      Status
	Data        T
	Err         error
	UpdatedAt   time.Time
	Fetching    bool
	Stale       bool
	Placeholder bool
}

func (r Result[T]) IsIdle() bool    { return r.Status == StatusIdle }
func (r Result[T]) IsLoading() bool { return r.Status == StatusLoading }
func (r Result[T]) IsSuccess() bool { return r.Status == StatusSuccess }
func (r Result[T]) IsError() bool   { return r.Status == StatusError }

// As converts a State into a Result. A Value of another type leaves Data zero.
func As[T any](s State) Result[T] {
	r := Result[T]{
		Status:      s.Status,
		Err:         s.Err,
		UpdatedAt:   s.UpdatedAt,
		Fetching:    s.Fetching,
		Stale:       s.Stale,
		Placeholder: s.Placeholder,
	}
	if v, ok := s.Value.(T); ok {
		r.Data = v
	}
	return r
}

// FetchFunc loads the value for a key. It runs on a cache-owned goroutine with
// a context cancelled when the cache closes.
type FetchFunc func(ctx context.Context) (any, error)

// Get is the typed form of Cache.Query.
func Get[T any](c *Cache, key Key, fetch func(context.Context) (T, error), opts ...Option) Result[T] {
	return As[T](c.Query(key, erase(fetch), opts...))
}

// Fetch is the typed form of Cache.Load.
func Fetch[T any](ctx context.Context, c *Cache, key Key, fetch func(context.Context) (T, error), opts ...Option) (Result[T], error) {
	st, err := c.Load(ctx, key, erase(fetch), opts...)
	return As[T](st), err
}

// Peek is the typed form of Cache.Peek.
func Peek[T any](c *Cache, key Key) Result[T] {
	return As[T](c.Peek(key))
}

func erase[T any](fetch func(context.Context) (T, error)) FetchFunc {
	return func(ctx context.Context) (any, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

// Key identifies a cached entity: an operation name plus the identifiers it
// was called with. Keys are comparable and safe to use as map keys.
type Key struct {
	op  string
	ids string
}

// NewKey builds a key from an operation and its identifiers.
func NewKey(op string, ids ...string) Key {
	escaped := make([]string, len(ids))
	for i, id := range ids {
		escaped[i] = url.PathEscape(id)
	}
	return Key{op: op, ids: strings.Join(escaped, "/")}
}

// Op returns the operation part of the key.
func (k Key) Op() string { return k.op }

func (k Key) String() string {
	if k.ids == "" {
		return k.op
	}
	return k.op + ":" + k.ids
}

// Operation names used by the console.
const (
	OpPipeline = "pipeline"
	OpRuns     = "runs"
)

// PipelineKey identifies the GetPipeline result for a pipeline.
func PipelineKey(pipelineID string) Key {
	return NewKey(OpPipeline, pipelineID)
}

// RunsKey identifies the ListRuns result for a pipeline trigger.
func RunsKey(pipelineID, triggerID string) Key {
	return NewKey(OpRuns, pipelineID, triggerID)
}
