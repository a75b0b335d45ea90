// Package query caches backend entities per key and keeps them fresh.
//
// A Cache tracks, per Key, a discriminated State (idle, loading, success,
// error). At most one fetch per key is attachable at a time. Each fetch runs
// as a singleflight call named after its flight, and Await joins that call,
// so every waiter shares the one result. Errors are stored as state values and
// never retried automatically. Invalidate marks a key stale so the next query
// refetches regardless of age.
//
// The cache is an explicit instance owned by the composing application. There
// is no package-level cache.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mattjoyce/pipewatch/internal/events"
	"github.com/mattjoyce/pipewatch/internal/log"
)

// ErrClosed is reported by queries issued after Close.
var ErrClosed = errors.New("query cache closed")

// Event types published on the hub.
const (
	EventLoading     = "query.loading"
	EventSuccess     = "query.success"
	EventError       = "query.error"
	EventInvalidated = "query.invalidated"
	EventRemoved     = "query.removed"
)

// Observer receives cache activity, typically for metrics.
type Observer interface {
	CacheHit(op string)
	FetchStarted(op string)
	FetchFinished(op string, err error, elapsed time.Duration)
	ResultDiscarded(op string)
}

type noopObserver struct{}

func (noopObserver) CacheHit(string)                            {}
func (noopObserver) FetchStarted(string)                        {}
func (noopObserver) FetchFinished(string, error, time.Duration) {}
func (noopObserver) ResultDiscarded(string)                     {}

// Cache is a process-wide keyed store of fetched entities.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]*entry
	seq     uint64
	closed  bool

	group singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	hub       *events.Hub
	logger    *slog.Logger
	observer  Observer
	staleTime time.Duration
	now       func() time.Time
}

type entry struct {
	status      Status
	value       any
	err         error
	updatedAt   time.Time
	placeholder bool

	// dataSeq is the flight that produced value/err. Flights with a sequence
	// number <= staleSeq started before the last invalidation.
	dataSeq  uint64
	staleSeq uint64

	flight    *flight
	fetch     FetchFunc
	opts      options
	observers int
}

type flight struct {
	// name identifies the flight's call in the singleflight group. It is
	// unique per flight, so an invalidated fetch never absorbs a new one.
	name    string
	seq     uint64
	started time.Time
	done    chan struct{}
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithHub publishes state transitions on hub.
func WithHub(hub *events.Hub) CacheOption {
	return func(c *Cache) { c.hub = hub }
}

// WithLogger overrides the component logger.
func WithLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) { c.logger = logger }
}

// WithObserver installs an activity observer.
func WithObserver(o Observer) CacheOption {
	return func(c *Cache) { c.observer = o }
}

// WithStaleTime treats successful values older than d as stale. Zero, the
// default, means values stay fresh until invalidated.
func WithStaleTime(d time.Duration) CacheOption {
	return func(c *Cache) { c.staleTime = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// New creates an empty cache. Call Close when the application shuts down.
func New(opts ...CacheOption) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		entries:  make(map[Key]*entry),
		ctx:      ctx,
		cancel:   cancel,
		observer: noopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.WithComponent("query")
	}
	return c
}

type options struct {
	enabled        bool
	placeholder    any
	hasPlaceholder bool
}

// Option adjusts a single Query call.
type Option func(*options)

// WithEnabled guards the query. A disabled query performs no fetch and
// reports StatusIdle.
func WithEnabled(enabled bool) Option {
	return func(o *options) { o.enabled = enabled }
}

// WithPlaceholder supplies the value reported while the first fetch is pending.
func WithPlaceholder(v any) Option {
	return func(o *options) {
		o.placeholder = v
		o.hasPlaceholder = true
	}
}

func buildOptions(opts []Option) options {
	o := options{enabled: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Query returns the current state of key without blocking.
//
// A fresh successful value is returned as is. If a fetch is already in flight
// the caller attaches to it. Otherwise fetch is started in the background and
// the key reports loading (or keeps its previous value with Fetching set).
func (c *Cache) Query(key Key, fetch FetchFunc, opts ...Option) State {
	o := buildOptions(opts)
	if !o.enabled {
		st := State{Status: StatusIdle}
		if o.hasPlaceholder {
			st.Value = o.placeholder
			st.Placeholder = true
		}
		return st
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return State{Status: StatusError, Err: ErrClosed}
	}

	e := c.entryLocked(key)
	e.fetch = fetch
	e.opts = o

	if e.flight != nil {
		return c.stateLocked(e)
	}
	if e.status == StatusSuccess && !c.staleLocked(e) {
		c.observer.CacheHit(key.Op())
		return c.stateLocked(e)
	}

	c.startLocked(key, e)
	return c.stateLocked(e)
}

// Load queries key and waits until no fetch is in flight for it.
// The returned error is non-nil only when ctx ends first.
func (c *Cache) Load(ctx context.Context, key Key, fetch FetchFunc, opts ...Option) (State, error) {
	st := c.Query(key, fetch, opts...)
	if !st.Fetching {
		return st, nil
	}
	return c.Await(ctx, key)
}

// Await blocks until key has no fetch in flight and returns its state.
func (c *Cache) Await(ctx context.Context, key Key) (State, error) {
	for {
		c.mu.Lock()
		e, ok := c.entries[key]
		if !ok {
			c.mu.Unlock()
			return State{Status: StatusIdle}, nil
		}
		if e.flight == nil {
			st := c.stateLocked(e)
			c.mu.Unlock()
			return st, nil
		}
		f := e.flight
		c.mu.Unlock()

		select {
		case <-c.join(f):
		case <-ctx.Done():
			return c.Peek(key), ctx.Err()
		}
	}
}

// join attaches to f's call in the group. Once the call has left the group
// the stand-in only waits for f to settle.
func (c *Cache) join(f *flight) <-chan singleflight.Result {
	return c.group.DoChan(f.name, func() (any, error) {
		<-f.done
		return nil, nil
	})
}

// Peek returns the state of key without starting a fetch.
func (c *Cache) Peek(key Key) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return State{Status: StatusIdle}
	}
	return c.stateLocked(e)
}

// Invalidate marks key stale. The next Query fetches even if the value is
// recent. A fetch already in flight still stores its result on completion,
// but no longer satisfies queries. Keys with observers refetch immediately.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return
	}

	e.staleSeq = c.seq
	e.flight = nil
	c.publishLocked(EventInvalidated, key, e)
	c.logger.Debug("invalidated", "key", key.String(), "observers", e.observers)

	if e.observers > 0 && e.fetch != nil && !c.closed {
		c.startLocked(key, e)
	}
}

// Observe registers a consumer of key. When the last consumer releases, the
// entry is evicted and a result still in flight is discarded on arrival.
func (c *Cache) Observe(key Key) (release func()) {
	c.mu.Lock()
	e := c.entryLocked(key)
	e.observers++
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.entries[key] != e {
				return
			}
			e.observers--
			if e.observers <= 0 {
				c.removeLocked(key, e)
			}
		})
	}
}

// Close cancels background fetches and waits for them to return.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	return nil
}

func (c *Cache) entryLocked(key Key) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{status: StatusIdle}
		c.entries[key] = e
	}
	return e
}

func (c *Cache) removeLocked(key Key, e *entry) {
	delete(c.entries, key)
	c.publishLocked(EventRemoved, key, e)
}

func (c *Cache) staleLocked(e *entry) bool {
	if e.dataSeq <= e.staleSeq {
		return true
	}
	return c.staleTime > 0 && c.now().Sub(e.updatedAt) > c.staleTime
}

func (c *Cache) stateLocked(e *entry) State {
	st := State{
		Status:    e.status,
		Value:     e.value,
		Err:       e.err,
		UpdatedAt: e.updatedAt,
		Fetching:  e.flight != nil,
	}
	if e.status == StatusSuccess {
		st.Stale = c.staleLocked(e)
	}
	if e.placeholder {
		st.Placeholder = true
	} else if st.Value == nil && e.opts.hasPlaceholder && e.status != StatusSuccess {
		st.Value = e.opts.placeholder
		st.Placeholder = true
	}
	return st
}

func (c *Cache) startLocked(key Key, e *entry) {
	c.seq++
	f := &flight{
		name:    fmt.Sprintf("%s#%d", key.String(), c.seq),
		seq:     c.seq,
		started: c.now(),
		done:    make(chan struct{}),
	}
	e.flight = f

	if e.status == StatusIdle {
		e.status = StatusLoading
		if e.opts.hasPlaceholder {
			e.value = e.opts.placeholder
			e.placeholder = true
		}
	}

	c.observer.FetchStarted(key.Op())
	c.publishLocked(EventLoading, key, e)

	// Registered while c.mu is held, so any waiter that sees f joins this
	// call rather than its stand-in.
	fetch := e.fetch
	ch := c.group.DoChan(f.name, func() (any, error) {
		return fetch(c.ctx)
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		res := <-ch
		c.complete(key, e, f, res.Val, res.Err)
	}()
}

func (c *Cache) complete(key Key, e *entry, f *flight, value any, err error) {
	defer close(f.done)

	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := c.now().Sub(f.started)
	c.observer.FetchFinished(key.Op(), err, elapsed)

	if c.entries[key] != e {
		c.observer.ResultDiscarded(key.Op())
		c.logger.Debug("discarding result for evicted key", "key", key.String())
		return
	}

	if e.flight == f {
		e.flight = nil
	}
	e.dataSeq = f.seq

	if err != nil {
		e.status = StatusError
		e.err = err
		c.logger.Debug("fetch failed", "key", key.String(), "error", err)
		c.publishLocked(EventError, key, e)
		return
	}

	e.status = StatusSuccess
	e.value = value
	e.err = nil
	e.placeholder = false
	e.updatedAt = c.now()
	c.publishLocked(EventSuccess, key, e)
}

func (c *Cache) publishLocked(eventType string, key Key, e *entry) {
	if c.hub == nil {
		return
	}
	data := map[string]any{
		"op":       key.Op(),
		"status":   e.status.String(),
		"fetching": e.flight != nil,
	}
	if e.err != nil {
		data["error"] = e.err.Error()
	}
	c.hub.Publish(eventType, key.String(), data)
}
