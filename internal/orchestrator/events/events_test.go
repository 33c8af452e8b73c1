package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	natstest "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outerlook/orchestratorcore/internal/orchestrator/model"
)

func setupTestServer(t *testing.T) (*nats.Conn, func()) {
	t.Helper()
	opts := natstest.DefaultTestOptions
	opts.Port = -1
	srv := natstest.RunServer(&opts)

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)

	return nc, func() {
		nc.Close()
		srv.Shutdown()
	}
}

type recordingHandler struct {
	mu     sync.Mutex
	events []Event
}

func (h *recordingHandler) Handle(ctx context.Context, event Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return nil
}

func TestDispatchRunsAllHandlersEvenWhenOneFails(t *testing.T) {
	d := NewDispatcher()
	var ran1, ran2 bool
	d.Register(HandlerFunc(func(ctx context.Context, event Event) error {
		ran1 = true
		return assert.AnError
	}))
	d.Register(HandlerFunc(func(ctx context.Context, event Event) error {
		ran2 = true
		return nil
	}))

	d.Dispatch(context.Background(), Event{Kind: KindExecutionCompleted})

	assert.True(t, ran1)
	assert.True(t, ran2)
}

func TestOnExecutionEventAndOnTaskStatusChangedWireIntoDispatch(t *testing.T) {
	d := NewDispatcher()
	rec := &recordingHandler{}
	d.Register(rec)

	exec := &model.ExecutionProcess{ID: "exec1", Status: model.ExecCompleted, RunReason: model.RunCodingAgent}
	d.OnExecutionEvent(context.Background(), "ExecutionCompleted", exec)

	task := &model.Task{ID: "task1", Status: model.TaskInReview}
	d.OnTaskStatusChanged(context.Background(), task, model.TaskInProgress)

	require.Len(t, rec.events, 2)
	assert.Equal(t, KindExecutionCompleted, rec.events[0].Kind)
	assert.Equal(t, "exec1", rec.events[0].Execution.ID)
	assert.Equal(t, KindTaskStatusChanged, rec.events[1].Kind)
	assert.Equal(t, "task1", rec.events[1].Task.ID)
	assert.Equal(t, model.TaskInProgress, rec.events[1].PreviousStatus)
}

func TestNotificationHandlerSkipsKilledAndSuccess(t *testing.T) {
	h := NewNotificationHandler(nil)

	killed := Event{Kind: KindExecutionCompleted, Execution: &model.ExecutionProcess{ID: "e1", Status: model.ExecKilled}}
	require.NoError(t, h.Handle(context.Background(), killed))

	succeeded := Event{Kind: KindExecutionCompleted, Execution: &model.ExecutionProcess{ID: "e2", Status: model.ExecCompleted}}
	require.NoError(t, h.Handle(context.Background(), succeeded))
}

type fakeNotifier struct {
	title, body string
}

func (f *fakeNotifier) Notify(title, body string) error {
	f.title, f.body = title, body
	return nil
}

func TestNotificationHandlerFiresOnFailure(t *testing.T) {
	notifier := &fakeNotifier{}
	h := NewNotificationHandler(notifier)

	failed := Event{Kind: KindExecutionCompleted, Execution: &model.ExecutionProcess{ID: "e3", Status: model.ExecFailed, RunReason: model.RunCodingAgent}}
	require.NoError(t, h.Handle(context.Background(), failed))

	assert.Equal(t, "Execution failed", notifier.title)
	assert.Contains(t, notifier.body, "e3")
}

func TestNATSRelayPublishesExecutionAndTaskEvents(t *testing.T) {
	nc, cleanup := setupTestServer(t)
	defer cleanup()

	relay := NewNATSRelay(nc)
	d := NewDispatcher()
	d.Register(relay)

	sub, err := nc.SubscribeSync(DefaultExecutionSubject)
	require.NoError(t, err)

	d.Dispatch(context.Background(), Event{
		Kind:      KindExecutionCompleted,
		Execution: &model.ExecutionProcess{ID: "exec-relay", Status: model.ExecCompleted, RunReason: model.RunCodingAgent},
	})

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)

	var payload executionEnvelope
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, KindExecutionCompleted, payload.Kind)
	assert.Equal(t, "exec-relay", payload.Execution.ID)
}
