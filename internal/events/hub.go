// Package events is an in-memory pub/sub used to tell views that cached state
// or a command outcome changed. Delivery is best-effort: a slow subscriber
// misses notifications and should re-read state instead of replaying them.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one notification. IDs increase by one per Publish on a hub, so a
// subscriber can spot a gap and fall back to SnapshotSince.
type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	Key  string          `json:"key,omitempty"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

const (
	defaultCapacity   = 100
	subscriberBacklog = 128
)

// Hub fans events out to subscribers and keeps the last few for late ones.
type Hub struct {
	nextID  atomic.Int64
	dropped atomic.Int64

	mu        sync.Mutex
	recent    *ring
	subs      map[int]subscription
	nextSubID int
}

type subscription struct {
	ch     chan Event
	filter func(Event) bool
}

// NewHub keeps the last capacity events; capacity <= 0 means 100.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Hub{
		recent: newRing(capacity),
		subs:   make(map[int]subscription),
	}
}

// Publish records an event for key and fans it out to matching subscribers.
// data is marshalled to JSON; json.RawMessage passes through as is.
func (h *Hub) Publish(eventType, key string, data any) {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// IDs are assigned under the lock so ring order and ID order agree.
	ev := Event{
		ID:   h.nextID.Add(1),
		Type: eventType,
		Key:  key,
		At:   time.Now().UTC(),
		Data: payload,
	}
	h.recent.push(ev)
	for _, sub := range h.subs {
		if sub.filter != nil && !sub.filter(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Dropped counts deliveries skipped because a subscriber's backlog was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Subscribe returns a channel receiving every event.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	return h.SubscribeFunc(nil)
}

// SubscribeKeys returns a channel receiving events for the given keys only.
func (h *Hub) SubscribeKeys(keys ...string) (<-chan Event, func()) {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return h.SubscribeFunc(func(ev Event) bool {
		_, ok := set[ev.Key]
		return ok
	})
}

// SubscribeFunc returns a channel receiving events accepted by filter, and a
// cancel func that closes it. A nil filter accepts everything. filter runs
// with the hub locked and must not call back into the hub.
func (h *Hub) SubscribeFunc(filter func(Event) bool) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, subscriberBacklog)
	h.subs[id] = subscription{ch: ch, filter: filter}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// SnapshotSince returns retained events with ID > lastID, oldest first.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.recent.since(lastID)
}

// ring is a fixed-size buffer that overwrites its oldest entry.
type ring struct {
	buf   []Event
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Event, capacity)}
}

func (r *ring) push(ev Event) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = ev
		r.size++
		return
	}
	r.buf[r.start] = ev
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(lastID int64) []Event {
	out := make([]Event, 0, r.size)
	for i := 0; i < r.size; i++ {
		if ev := r.buf[(r.start+i)%len(r.buf)]; ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}
