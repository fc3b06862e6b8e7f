package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/ChuLiYu/replydraft/internal/controller"
	"github.com/ChuLiYu/replydraft/internal/jobmanager"
	"github.com/ChuLiYu/replydraft/internal/poller"
	"github.com/ChuLiYu/replydraft/internal/tasks"
	"github.com/ChuLiYu/replydraft/pkg/types"
)

// blockingHandler runs until its job is cancelled.
type blockingHandler struct {
	started chan struct{}
}

func (h *blockingHandler) Validate(payload any) error { return nil }

func (h *blockingHandler) Execute(ctx context.Context, payload any, progress func(string)) (any, error) {
	progress("waiting")
	close(h.started)
	<-ctx.Done()
	return "partial", ctx.Err()
}

type harness struct {
	client   *Client
	ctrl     *controller.Controller
	blocking *blockingHandler
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	blocking := &blockingHandler{started: make(chan struct{})}
	handlers := tasks.Handlers(tasks.Deps{})
	handlers[types.KindVectorize] = blocking

	ctrl, err := controller.NewController(controller.Config{WorkerCount: 2}, handlers)
	require.NoError(t, err)
	require.NoError(t, ctrl.Start())
	t.Cleanup(ctrl.Stop)

	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(ctrl, nil)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return &harness{client: client, ctrl: ctrl, blocking: blocking}
}

func fastWatcher(c *Client) *poller.Watcher {
	return poller.NewWatcher(c, poller.WithBackoff(poller.Backoff{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond, Multiplier: 2}))
}

func TestSubmitAndWatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id, err := h.client.Submit(ctx, types.KindAnalyze, types.AnalyzeRequest{
		UserID:   "u1",
		Messages: []types.Message{{Subject: "Meeting", Body: "Can we schedule a call?"}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, err := fastWatcher(h.client).Watch(ctx, id, nil)
	require.NoError(t, err)
	assert.Equal(t, types.StateSucceeded, job.State)
	assert.Equal(t, "u1", job.UserID)

	var res tasks.AnalyzeResult
	require.NoError(t, job.DecodeResult(&res))
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "meeting_request", res.Messages[0].Category)

	again, err := h.client.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.State, again.State)
	assert.JSONEq(t, string(job.Result), string(again.Result))
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.client.Submit(ctx, types.KindGenerateResponse, types.GenerationRequest{})
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = h.client.Submit(ctx, types.JobKind("Translate"), map[string]string{"x": "y"})
	assert.ErrorIs(t, err, types.ErrValidation)

	assert.Empty(t, h.ctrl.List(jobmanager.Filter{}))
}

func TestStatusNotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.client.Status(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = h.client.Cancel(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestCancelRunningJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id, err := h.client.Submit(ctx, types.KindVectorize, types.VectorizeRequest{
		UserID:    "u1",
		Documents: []types.Document{{SourceID: "d1", Text: "notes"}},
	})
	require.NoError(t, err)

	select {
	case <-h.blocking.started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}

	job, err := h.client.Cancel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StateCancelled, job.State)
	assert.True(t, job.CancelRequested)

	// the handler's partial result must never surface
	time.Sleep(50 * time.Millisecond)
	job, err = h.client.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StateCancelled, job.State)
	assert.Empty(t, job.Result)

	job, err = h.client.Cancel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StateCancelled, job.State)
}

func TestList(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	msg := []types.Message{{Body: "hello"}}
	a, err := h.client.Submit(ctx, types.KindAnalyze, types.AnalyzeRequest{UserID: "alice", Messages: msg})
	require.NoError(t, err)
	_, err = h.client.Submit(ctx, types.KindAnalyze, types.AnalyzeRequest{UserID: "bob", Messages: msg})
	require.NoError(t, err)

	jobs, err := h.client.List(ctx, jobmanager.Filter{UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, a, jobs[0].ID)

	jobs, err = h.client.List(ctx, jobmanager.Filter{Kind: types.KindProfileUpdate})
	require.NoError(t, err)
	assert.Empty(t, jobs)

	_, err = h.client.List(ctx, jobmanager.Filter{State: "DONE"})
	assert.ErrorIs(t, err, types.ErrValidation)
}
