package stub

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/pipewatch/internal/events"
)

// keepAliveInterval is a var so tests can shorten it.
var keepAliveInterval = 15 * time.Second

// handleMessages streams push messages as server-sent events. Each event's
// name is the message type and its data the message data.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe before replaying so nothing published in between is lost.
	ch, cancel := s.messages.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	lastID := parseLastEventID(r.Header.Get("Last-Event-ID"))
	var err error
	if lastID > 0 {
		if lastID, err = s.replay(w, lastID, 0); err != nil {
			return
		}
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.ID <= lastID {
				continue
			}
			if lastID > 0 && ev.ID > lastID+1 {
				// Our subscription overflowed; fill the hole from the hub's ring.
				if lastID, err = s.replay(w, lastID, ev.ID); err != nil {
					return
				}
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			lastID = ev.ID
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// replay writes retained messages with after < ID < before (no upper bound
// when before is 0) and returns the last ID written, or after.
func (s *Server) replay(w http.ResponseWriter, after, before int64) (int64, error) {
	last := after
	for _, ev := range s.messages.SnapshotSince(after) {
		if before > 0 && ev.ID >= before {
			break
		}
		if err := writeSSE(w, ev); err != nil {
			return last, err
		}
		last = ev.ID
	}
	return last, nil
}

func parseLastEventID(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeSSE(w http.ResponseWriter, ev events.Event) error {
	if _, err := fmt.Fprintf(w, "id: %d\n", ev.ID); err != nil {
		return err
	}
	if ev.Type != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", ev.Type); err != nil {
			return err
		}
	}
	// Payloads are single-line JSON.
	if _, err := fmt.Fprintf(w, "data: %s\n\n", ev.Data); err != nil {
		return err
	}
	return nil
}
