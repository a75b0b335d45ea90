package live

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/pipewatch/internal/log"
	"github.com/mattjoyce/pipewatch/internal/model"
)

// MessageHandler consumes decoded envelopes. *Applier satisfies it.
type MessageHandler interface {
	Apply(ctx context.Context, msg model.Message) error
}

// Follower reads push messages from a server-sent-events endpoint and hands
// them to a MessageHandler, reconnecting with backoff until its context ends.
// The event name is the message type and the event data the message data.
type Follower struct {
	url        string
	token      string
	httpClient *http.Client
	handler    MessageHandler
	logger     *slog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
	onState    func(connected bool, err error)

	lastID int64
}

// FollowOption configures a Follower.
type FollowOption func(*Follower)

// WithToken sends a bearer token.
func WithToken(token string) FollowOption {
	return func(f *Follower) { f.token = token }
}

// WithHTTPClient replaces the default client, which has no timeout.
func WithHTTPClient(c *http.Client) FollowOption {
	return func(f *Follower) { f.httpClient = c }
}

// WithBackoff bounds the reconnect delay.
func WithBackoff(min, max time.Duration) FollowOption {
	return func(f *Follower) {
		if min > 0 {
			f.minBackoff = min
		}
		if max >= f.minBackoff {
			f.maxBackoff = max
		}
	}
}

// WithStateFunc is called on every connect and disconnect.
func WithStateFunc(fn func(connected bool, err error)) FollowOption {
	return func(f *Follower) { f.onState = fn }
}

// WithFollowLogger overrides the component logger.
func WithFollowLogger(logger *slog.Logger) FollowOption {
	return func(f *Follower) { f.logger = logger }
}

// NewFollower creates a follower for streamURL.
func NewFollower(streamURL string, handler MessageHandler, opts ...FollowOption) *Follower {
	f := &Follower{
		url:        streamURL,
		httpClient: &http.Client{},
		handler:    handler,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = log.WithComponent("live")
	}
	return f
}

// Run follows the stream until ctx is done and returns ctx.Err().
func (f *Follower) Run(ctx context.Context) error {
	backoff := f.minBackoff
	for {
		received, err := f.stream(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.setState(false, err)
		if received {
			backoff = f.minBackoff
		}
		f.logger.Debug("message stream disconnected", "url", f.url, "retry_in", backoff, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > f.maxBackoff {
			backoff = f.maxBackoff
		}
	}
}

// stream reads one connection. received reports whether any event arrived.
func (f *Follower) stream(ctx context.Context) (received bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	if f.lastID > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(f.lastID, 10))
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("GET %s: status %d", f.url, resp.StatusCode)
	}
	f.setState(true, nil)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var (
		id   int64
		typ  string
		data strings.Builder
	)
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if data.Len() > 0 {
				received = true
				if id > 0 {
					f.lastID = id
				}
				msg := model.Message{Type: typ, Data: []byte(data.String())}
				if err := f.handler.Apply(ctx, msg); err != nil {
					f.logger.Warn("message rejected", "type", typ, "id", id, "error", err)
				}
			}
			id, typ = 0, ""
			data.Reset()
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "id:"):
			if n, err := strconv.ParseInt(strings.TrimSpace(line[3:]), 10, 64); err == nil {
				id = n
			}
		case strings.HasPrefix(line, "event:"):
			typ = strings.TrimSpace(line[6:])
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(line[5:], " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return received, err
	}
	return received, errors.New("stream closed")
}

func (f *Follower) setState(connected bool, err error) {
	if f.onState != nil {
		f.onState(connected, err)
	}
}
