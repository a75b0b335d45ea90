package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/pipewatch/internal/dispatch/mocks"
	"github.com/mattjoyce/pipewatch/internal/events"
	"github.com/mattjoyce/pipewatch/internal/model"
	"github.com/mattjoyce/pipewatch/internal/query"
	"github.com/mattjoyce/pipewatch/internal/repository"
)

func TestRunTriggerInvalidatesRunsOnSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	runner := mocks.NewMockTriggerRunner(ctrl)
	cache := mocks.NewMockInvalidator(ctrl)

	ctx := context.Background()
	params := model.Params(`{"region":"eu"}`)
	gomock.InOrder(
		runner.EXPECT().RunPipelineTrigger(ctx, "p1", "t1", params).Return(model.RunResult{RunID: 9}, nil),
		cache.EXPECT().Invalidate(query.RunsKey("p1", "t1")),
	)

	d := New(runner, cache)
	res, err := d.RunTrigger(ctx, Request{PipelineID: "p1", TriggerID: "t1", Params: params})
	require.NoError(t, err)
	assert.Equal(t, int64(9), res.RunID)
	assert.False(t, d.InFlight("p1", "t1"))
	assert.Equal(t, 0, d.Pending())
}

func TestRunTriggerFailureSkipsInvalidation(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	runner := mocks.NewMockTriggerRunner(ctrl)
	cache := mocks.NewMockInvalidator(ctrl) // no Invalidate expected

	cause := &repository.TransportError{Op: "POST", Err: errors.New("connection refused")}
	runner.EXPECT().RunPipelineTrigger(gomock.Any(), "p1", "t1", gomock.Nil()).Return(model.RunResult{}, cause).Times(1)

	d := New(runner, cache)
	_, err := d.RunTrigger(context.Background(), Request{PipelineID: "p1", TriggerID: "t1"})
	require.Error(t, err)
	assert.Same(t, cause, err, "errors are returned unwrapped")
}

func TestRunTriggerRequiredParams(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// Neither mock expects a call: validation fails before any request.
	d := New(mocks.NewMockTriggerRunner(ctrl), mocks.NewMockInvalidator(ctrl))

	_, err := d.RunTrigger(context.Background(), Request{
		PipelineID: "p1",
		TriggerID:  model.ManualTriggerID,
		Params:     model.Params(`{"region":"eu"}`),
		Required:   []string{"region", "date"},
	})
	require.Error(t, err)
	var ve *repository.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "date", ve.Field)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		params   string
		required []string
		wantErr  bool
	}{
		{name: "nothing required", params: "", wantErr: false},
		{name: "opaque payload passes through", params: `[1,2]`, wantErr: false},
		{name: "present", params: `{"a":1,"b":null}`, required: []string{"a", "b"}, wantErr: false},
		{name: "missing", params: `{"a":1}`, required: []string{"b"}, wantErr: true},
		{name: "empty payload", params: "", required: []string{"a"}, wantErr: true},
		{name: "not an object", params: `"x"`, required: []string{"a"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(model.Params(tt.params), tt.required)
			if tt.wantErr {
				assert.True(t, repository.IsValidation(err), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConcurrentRunsAreNotDeduplicated(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	release := make(chan struct{})
	var calls atomic.Int64

	runner := mocks.NewMockTriggerRunner(ctrl)
	runner.EXPECT().RunPipelineTrigger(gomock.Any(), "p1", "t1", gomock.Any()).
		DoAndReturn(func(ctx context.Context, _, _ string, _ model.Params) (model.RunResult, error) {
			n := calls.Add(1)
			<-release
			return model.RunResult{RunID: n}, nil
		}).Times(3)
	cache := mocks.NewMockInvalidator(ctrl)
	cache.EXPECT().Invalidate(query.RunsKey("p1", "t1")).Times(3)

	d := New(runner, cache)
	req := Request{PipelineID: "p1", TriggerID: "t1"}

	outs := []<-chan Outcome{d.Go(context.Background(), req), d.Go(context.Background(), req), d.Go(context.Background(), req)}

	assert.True(t, d.InFlight("p1", "t1"), "in-flight is set before Go returns")
	assert.False(t, d.InFlight("p1", "t2"))
	assert.Equal(t, 3, d.Pending())

	require.Eventually(t, func() bool { return calls.Load() == 3 }, time.Second, 5*time.Millisecond)
	close(release)

	ids := map[int64]bool{}
	for _, ch := range outs {
		o := <-ch
		require.NoError(t, o.Err)
		ids[o.Result.RunID] = true
		_, open := <-ch
		assert.False(t, open, "outcome channel is closed after one value")
	}
	assert.Len(t, ids, 3)
	assert.False(t, d.InFlight("p1", "t1"))
	assert.Equal(t, 0, d.Pending())
}

type recordingObserver struct {
	kinds []model.TriggerKind
	errs  []error
}

func (r *recordingObserver) RunDispatched(kind model.TriggerKind, err error, _ time.Duration) {
	r.kinds = append(r.kinds, kind)
	r.errs = append(r.errs, err)
}

func TestObserverAndHub(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	runner := mocks.NewMockTriggerRunner(ctrl)
	runner.EXPECT().RunPipelineTrigger(gomock.Any(), "p1", model.ManualTriggerID, gomock.Any()).Return(model.RunResult{RunID: 1}, nil)
	runner.EXPECT().RunPipelineTrigger(gomock.Any(), "p1", "t1", gomock.Any()).Return(model.RunResult{}, errors.New("boom"))

	hub := events.NewHub(16)
	obs := &recordingObserver{}
	d := New(runner, nil, WithHub(hub), WithObserver(obs))

	_, err := d.RunTrigger(context.Background(), Request{PipelineID: "p1", TriggerID: model.ManualTriggerID})
	require.NoError(t, err)
	_, err = d.RunTrigger(context.Background(), Request{PipelineID: "p1", TriggerID: "t1"})
	require.Error(t, err)

	assert.Equal(t, []model.TriggerKind{model.KindManual, model.KindScheduled}, obs.kinds)
	assert.NoError(t, obs.errs[0])
	assert.Error(t, obs.errs[1])

	var types []string
	for _, ev := range hub.SnapshotSince(0) {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{EventStarted, EventSucceeded, EventStarted, EventFailed}, types)
}

// fakeRepo is a func-field fake of the repository used end to end with a
// real cache.
type fakeRepo struct {
	listRuns func(ctx context.Context, pid, tid string) ([]model.PipelineRun, error)
	run      func(ctx context.Context, pid, tid string, params model.Params) (model.RunResult, error)
}

func (f *fakeRepo) RunPipelineTrigger(ctx context.Context, pid, tid string, params model.Params) (model.RunResult, error) {
	return f.run(ctx, pid, tid, params)
}

func TestEmptyRunListRefetchedAfterRun(t *testing.T) {
	cache := query.New()
	defer cache.Close()

	var listCalls atomic.Int64
	runs := []model.PipelineRun{}
	repo := &fakeRepo{
		listRuns: func(context.Context, string, string) ([]model.PipelineRun, error) {
			listCalls.Add(1)
			return runs, nil
		},
		run: func(context.Context, string, string, model.Params) (model.RunResult, error) {
			runs = []model.PipelineRun{{ID: 1, Status: model.RunRunning, TriggerID: "t1"}}
			return model.RunResult{RunID: 1}, nil
		},
	}
	fetch := func(ctx context.Context) ([]model.PipelineRun, error) {
		return repo.listRuns(ctx, "p1", "t1")
	}
	key := query.RunsKey("p1", "t1")
	ctx := context.Background()

	res, err := query.Fetch(ctx, cache, key, fetch)
	require.NoError(t, err)
	assert.True(t, res.IsSuccess())
	assert.Empty(t, res.Data)
	assert.NoError(t, res.Err)

	d := New(repo, cache)
	_, err = d.RunTrigger(ctx, Request{PipelineID: "p1", TriggerID: "t1"})
	require.NoError(t, err)
	assert.True(t, cache.Peek(key).Stale)

	res, err = query.Fetch(ctx, cache, key, fetch)
	require.NoError(t, err)
	assert.Equal(t, int64(2), listCalls.Load())
	require.Len(t, res.Data, 1)
	assert.Equal(t, int64(1), res.Data[0].ID)
}
