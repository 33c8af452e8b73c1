package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

const (
	DefaultExecutionSubject = "orchestrator.events.execution"
	DefaultTaskSubject      = "orchestrator.events.task"
)

// NATSRelay publishes dispatched events onto plain NATS subjects for an
// external (out-of-scope here) WebSocket layer to relay to clients; it
// resynchronizes nothing itself — the subscriber-side snapshot-rebuild
// behavior needed for lagging WebSocket subscribers belongs to that
// external layer, not this relay.
type NATSRelay struct {
	nc               *nats.Conn
	executionSubject string
	taskSubject      string
}

type NATSRelayOption func(*NATSRelay)

func WithExecutionSubject(subject string) NATSRelayOption {
	return func(r *NATSRelay) { r.executionSubject = subject }
}

func WithTaskSubject(subject string) NATSRelayOption {
	return func(r *NATSRelay) { r.taskSubject = subject }
}

func NewNATSRelay(nc *nats.Conn, opts ...NATSRelayOption) *NATSRelay {
	r := &NATSRelay{nc: nc, executionSubject: DefaultExecutionSubject, taskSubject: DefaultTaskSubject}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type executionEnvelope struct {
	Kind      Kind              `json:"kind"`
	Execution *executionPayload `json:"execution"`
}

type executionPayload struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id,omitempty"`
	RunReason string `json:"run_reason"`
	Status    string `json:"status"`
}

type taskEnvelope struct {
	Kind           Kind   `json:"kind"`
	TaskID         string `json:"task_id"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previous_status"`
}

// Handle implements events.Handler, publishing ExecutionCompleted to the
// relay's execution subject and TaskStatusChanged to its task subject.
func (r *NATSRelay) Handle(ctx context.Context, event Event) error {
	switch event.Kind {
	case KindExecutionCompleted:
		if event.Execution == nil {
			return nil
		}
		data, err := json.Marshal(executionEnvelope{
			Kind: event.Kind,
			Execution: &executionPayload{
				ID:        event.Execution.ID,
				SessionID: event.Execution.SessionID,
				RunReason: string(event.Execution.RunReason),
				Status:    string(event.Execution.Status),
			},
		})
		if err != nil {
			return fmt.Errorf("marshal execution event: %w", err)
		}
		return r.nc.Publish(r.executionSubject, data)

	case KindTaskStatusChanged:
		if event.Task == nil {
			return nil
		}
		data, err := json.Marshal(taskEnvelope{
			Kind:           event.Kind,
			TaskID:         event.Task.ID,
			Status:         string(event.Task.Status),
			PreviousStatus: string(event.PreviousStatus),
		})
		if err != nil {
			return fmt.Errorf("marshal task event: %w", err)
		}
		return r.nc.Publish(r.taskSubject, data)

	default:
		return nil
	}
}
