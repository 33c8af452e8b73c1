package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/outerlook/orchestratorcore/internal/orchestrator/model"
)

// OSNotifier sends a single OS-level desktop notification. Left as an
// injectable interface rather than a concrete implementation: outside
// the orchestrator core, the host process supplies whatever notifier
// fits its platform (no notifier library appears anywhere in the
// example corpus, so this stays a plain interface rather than reaching
// for an unrelated dependency).
type OSNotifier interface {
	Notify(title, body string) error
}

// NotificationHandler reacts to ExecutionCompleted events whose
// execution did not succeed (skipped if Killed), logging an in-app
// notification and forwarding to OSNotifier if one is set.
type NotificationHandler struct {
	OS OSNotifier
}

func NewNotificationHandler(os OSNotifier) *NotificationHandler {
	return &NotificationHandler{OS: os}
}

func (h *NotificationHandler) Handle(ctx context.Context, event Event) error {
	if event.Kind != KindExecutionCompleted || event.Execution == nil {
		return nil
	}
	exec := event.Execution
	if exec.Status == model.ExecKilled {
		return nil
	}
	if exec.Status != model.ExecFailed {
		return nil
	}

	title := "Execution failed"
	body := fmt.Sprintf("execution %s (%s) failed", exec.ID, exec.RunReason)
	slog.Warn("events: in-app notification", "title", title, "body", body)

	if h.OS == nil {
		return nil
	}
	return h.OS.Notify(title, body)
}
