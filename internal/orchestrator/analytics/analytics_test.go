package analytics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/outerlook/orchestratorcore/internal/orchestrator/events"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/model"
)

func TestNewDisabledNeverConstructsClient(t *testing.T) {
	s := New(false, "phc_whatever", "https://us.i.posthog.com")
	assert.False(t, s.enabled)
	assert.Nil(t, s.client)
}

func TestHandleDisabledIsNoOpForEveryEventKind(t *testing.T) {
	s := New(false, "phc_whatever", "https://us.i.posthog.com")

	require := assert.New(t)
	require.NoError(s.Handle(context.Background(), events.Event{Kind: events.KindExecutionCompleted, Execution: &model.ExecutionProcess{ID: "e1"}}))
	require.NoError(s.Handle(context.Background(), events.Event{Kind: events.KindTaskStatusChanged, Task: &model.Task{ID: "t1", Status: model.TaskDone}}))
}

func TestHandleIgnoresNilPayloads(t *testing.T) {
	s := &Service{enabled: true}
	assert.NoError(t, s.Handle(context.Background(), events.Event{Kind: events.KindExecutionCompleted}))
	assert.NoError(t, s.Handle(context.Background(), events.Event{Kind: events.KindTaskStatusChanged}))
}

func TestTrackGuardsAgainstNilClient(t *testing.T) {
	s := &Service{enabled: true}
	assert.NotPanics(t, func() {
		s.track("anything", nil)
	})
}

func TestAnonymousIDIsStableAcrossCalls(t *testing.T) {
	assert.Equal(t, anonymousID(), anonymousID())
}

func TestCloseOnDisabledServiceIsNoOp(t *testing.T) {
	s := New(false, "", "")
	assert.NoError(t, s.Close())
}
