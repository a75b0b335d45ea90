package stub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/pipewatch/internal/auth"
	"github.com/mattjoyce/pipewatch/internal/events"
	"github.com/mattjoyce/pipewatch/internal/live"
	"github.com/mattjoyce/pipewatch/internal/model"
	"github.com/mattjoyce/pipewatch/internal/query"
	"github.com/mattjoyce/pipewatch/internal/repository"
)

type recordedRequest struct {
	method, route string
	status        int
}

type fakeRecorder struct {
	mu   sync.Mutex
	reqs []recordedRequest
}

func (f *fakeRecorder) RecordHTTPRequest(method, route string, statusCode int, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, recordedRequest{method, route, statusCode})
}

func (f *fakeRecorder) all() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.reqs...)
}

func newTestServer(t *testing.T, cfg Config, opts ...Option) (*Server, *Scheduler, *httptest.Server) {
	t.Helper()
	var srv *Server
	sched := newTestScheduler(t, WithPublisher(func(m model.Message) {
		if srv != nil {
			srv.PublishMessage(m)
		}
	}))
	srv = New(cfg, sched, opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, sched, ts
}

func TestRepositoryAgainstStub(t *testing.T) {
	_, _, ts := newTestServer(t, Config{})
	client := repository.New(ts.URL + "/api")
	ctx := context.Background()

	require.NoError(t, client.Ping(ctx))

	pipelines, err := client.ListPipelines(ctx)
	require.NoError(t, err)
	require.Len(t, pipelines, 1)

	p, err := client.GetPipeline(ctx, "etl")
	require.NoError(t, err)
	assert.Equal(t, "Nightly ETL", p.Name)

	runs, err := client.ListRuns(ctx, "etl", "nightly")
	require.NoError(t, err)
	assert.Len(t, runs, 6)

	_, err = client.GetPipeline(ctx, "missing")
	assert.True(t, repository.IsNotFound(err), "got %v", err)
	_, err = client.ListRuns(ctx, "etl", "hourly")
	assert.True(t, repository.IsNotFound(err), "got %v", err)

	_, err = client.RunPipelineTrigger(ctx, "etl", "nightly", nil)
	var verr *repository.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "region", verr.Field)

	res, err := client.RunPipelineTrigger(ctx, "etl", "nightly", model.Params(`{"region":"eu"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.RunID)

	runs, err = client.ListRuns(ctx, "etl", "nightly")
	require.NoError(t, err)
	require.Len(t, runs, 7)
	assert.Equal(t, res.RunID, runs[0].ID, "new run is listed first")
	assert.Equal(t, model.RunRunning, runs[0].Status)

	logs, err := client.ListRunLogs(ctx, "etl", res.RunID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "pipewatch.stub", logs[0].LoggerName)

	_, err = client.ListRunLogs(ctx, "etl", 999)
	assert.True(t, repository.IsNotFound(err))
}

func TestRunRejectsMalformedBody(t *testing.T) {
	_, _, ts := newTestServer(t, Config{})

	resp, err := http.Post(ts.URL+"/api/pipelines/etl/triggers/manual/run", "application/json", strings.NewReader("{nope"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthScopes(t *testing.T) {
	cfg := Config{Tokens: []auth.TokenConfig{
		{Token: "reader", Scopes: []string{auth.ScopePipelinesRO, auth.ScopeRunsRO}},
		{Token: "writer", Scopes: []string{auth.ScopeRunsRW}},
	}}
	_, _, ts := newTestServer(t, cfg)
	ctx := context.Background()

	anon := repository.New(ts.URL + "/api")
	require.NoError(t, anon.Ping(ctx), "healthz needs no token")
	_, err := anon.GetPipeline(ctx, "etl")
	var terr *repository.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusUnauthorized, terr.StatusCode)

	bad := repository.New(ts.URL+"/api", repository.WithToken("wrong"))
	_, err = bad.GetPipeline(ctx, "etl")
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusUnauthorized, terr.StatusCode)

	reader := repository.New(ts.URL+"/api", repository.WithToken("reader"))
	_, err = reader.GetPipeline(ctx, "etl")
	require.NoError(t, err)
	_, err = reader.RunPipelineTrigger(ctx, "etl", model.ManualTriggerID, nil)
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusForbidden, terr.StatusCode)

	writer := repository.New(ts.URL+"/api", repository.WithToken("writer"))
	_, err = writer.RunPipelineTrigger(ctx, "etl", model.ManualTriggerID, nil)
	require.NoError(t, err)
	_, err = writer.ListRuns(ctx, "etl", model.ManualTriggerID)
	require.NoError(t, err, "runs:rw implies runs:ro")
}

func TestRequestRecorderUsesRoutePattern(t *testing.T) {
	rec := &fakeRecorder{}
	_, _, ts := newTestServer(t, Config{}, WithRecorder(rec))
	client := repository.New(ts.URL + "/api")

	_, err := client.ListRuns(context.Background(), "etl", "nightly")
	require.NoError(t, err)
	_, err = client.GetPipeline(context.Background(), "missing")
	require.Error(t, err)

	reqs := rec.all()
	require.Len(t, reqs, 2)
	assert.Equal(t, recordedRequest{"GET", "/api/pipelines/{pipelineID}/triggers/{triggerID}/runs", 200}, reqs[0])
	assert.Equal(t, recordedRequest{"GET", "/api/pipelines/{pipelineID}", 404}, reqs[1])
}

func TestMessagesStreamInvalidatesCache(t *testing.T) {
	_, sched, ts := newTestServer(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := repository.New(ts.URL + "/api")
	cache := query.New()
	defer cache.Close()

	key := query.RunsKey("etl", model.ManualTriggerID)
	fetch := func(ctx context.Context) ([]model.PipelineRun, error) {
		return client.ListRuns(ctx, "etl", model.ManualTriggerID)
	}
	res, err := query.Fetch(ctx, cache, key, fetch)
	require.NoError(t, err)
	require.True(t, res.IsSuccess())
	require.Empty(t, res.Data)

	connected := make(chan struct{}, 1)
	follower := live.NewFollower(ts.URL+"/api/messages", live.NewApplier(cache),
		live.WithStateFunc(func(ok bool, _ error) {
			if ok {
				select {
				case connected <- struct{}{}:
				default:
				}
			}
		}),
	)
	go func() { _ = follower.Run(ctx) }()
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("follower did not connect")
	}

	// A run started behind the console's back arrives as a push message.
	_, err = sched.StartRun("etl", model.ManualTriggerID, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		res, err := query.Fetch(ctx, cache, key, fetch)
		return err == nil && res.IsSuccess() && len(res.Data) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReplayWritesBoundedRange(t *testing.T) {
	hub := events.NewHub(16)
	srv, _, _ := newTestServer(t, Config{}, WithMessageHub(hub))
	for i := 0; i < 5; i++ {
		srv.PublishMessage(model.Message{Type: model.MessageRun, Data: []byte(`{}`)})
	}

	rec := httptest.NewRecorder()
	last, err := srv.replay(rec, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)
	body := rec.Body.String()
	assert.Contains(t, body, "id: 2\n")
	assert.Contains(t, body, "id: 3\n")
	assert.NotContains(t, body, "id: 4\n")

	rec = httptest.NewRecorder()
	last, err = srv.replay(rec, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), last)
	assert.Equal(t, 2, strings.Count(rec.Body.String(), "event: run\n"))

	rec = httptest.NewRecorder()
	last, err = srv.replay(rec, 5, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), last)
	assert.Empty(t, rec.Body.String())
}
