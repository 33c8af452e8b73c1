// Package analytics emits anonymous PostHog usage events, gated by
// config, for ExecutionCompleted and the task-status transitions
// dispatched by the Domain Event Dispatcher. It implements
// events.Handler so it registers with events.Dispatcher exactly like
// NotificationHandler and NATSRelay.
package analytics

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/posthog/posthog-go"

	"github.com/outerlook/orchestratorcore/internal/orchestrator/events"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/model"
)

// Service tracks orchestrator usage events. The zero value is not
// usable; construct with New.
type Service struct {
	client     posthog.Client
	enabled    bool
	distinctID string
}

// New constructs a Service. When enabled is false, or client
// construction fails, the returned Service's Handle is a no-op —
// callers never need to branch on analytics being on.
func New(enabled bool, apiKey, endpoint string) *Service {
	if !enabled {
		return &Service{enabled: false}
	}

	client, err := posthog.NewWithConfig(apiKey, posthog.Config{Endpoint: endpoint})
	if err != nil {
		slog.Warn("analytics: failed to construct posthog client, disabling", "error", err)
		return &Service{enabled: false}
	}

	return &Service{client: client, enabled: true, distinctID: anonymousID()}
}

// Close flushes and closes the underlying PostHog client.
func (s *Service) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// anonymousID derives a stable, non-reversible per-machine id from the
// hostname, so repeat runs on the same machine group together without
// identifying the user.
func anonymousID() string {
	hostname, _ := os.Hostname()
	sum := sha256.Sum256([]byte(hostname + runtime.GOOS + runtime.GOARCH))
	return fmt.Sprintf("anon_%x", sum[:8])
}

func (s *Service) track(eventName string, properties map[string]any) {
	if !s.enabled || s.client == nil {
		return
	}
	if properties == nil {
		properties = make(map[string]any)
	}
	properties["$process_person_profile"] = false

	if err := s.client.Enqueue(posthog.Capture{
		DistinctId: s.distinctID,
		Event:      eventName,
		Properties: properties,
	}); err != nil {
		slog.Warn("analytics: failed to enqueue event", "event", eventName, "error", err)
	}
}

// Handle implements events.Handler.
func (s *Service) Handle(ctx context.Context, event events.Event) error {
	if !s.enabled {
		return nil
	}

	switch event.Kind {
	case events.KindExecutionCompleted:
		if event.Execution == nil {
			return nil
		}
		s.track("execution_completed", map[string]any{
			"run_reason": string(event.Execution.RunReason),
			"status":     string(event.Execution.Status),
		})

	case events.KindTaskStatusChanged:
		if event.Task == nil {
			return nil
		}
		s.track("task_status_changed", map[string]any{
			"status":          string(event.Task.Status),
			"previous_status": string(event.PreviousStatus),
		})
		if event.Task.Status == model.TaskDone && event.PreviousStatus != model.TaskDone {
			s.track("task_merged", map[string]any{"task_id": event.Task.ID})
		}
	}
	return nil
}
