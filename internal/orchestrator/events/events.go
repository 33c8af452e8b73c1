// Package events implements the Domain Event Dispatcher:
// an async bus routing ExecutionCompleted and TaskStatusChanged events to
// a list of handlers, awaited in parallel, one handler's failure never
// blocking another's.
//
// Feedback-collection and review-attention ExecutionTriggers are wired
// directly at reap time by the Pipeline Engine instead of going through
// this dispatcher (it already holds the loaded execution context
// there); this package covers the dispatcher's remaining handlers —
// notification and the NATS relay for an external (and, for this
// module, out-of-scope) WebSocket layer.
package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/outerlook/orchestratorcore/internal/orchestrator/model"
)

// Kind names a dispatched event, matching the string Supervisor.onEvent
// already passes ("ExecutionCompleted") plus the pipeline-sourced
// TaskStatusChanged.
type Kind string

const (
	KindExecutionCompleted Kind = "ExecutionCompleted"
	KindTaskStatusChanged  Kind = "TaskStatusChanged"
)

// Event is the dispatched envelope. Exactly one of Execution or Task is
// populated, selected by Kind.
type Event struct {
	Kind Kind

	Execution *model.ExecutionProcess

	Task           *model.Task
	PreviousStatus model.TaskStatus
}

// Handler reacts to a dispatched Event. A returned error is logged, not
// propagated — one handler's failure must never suppress another's.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error { return f(ctx, event) }

// Dispatcher fans an Event out to every registered Handler concurrently
// and waits for all of them before returning.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

func (d *Dispatcher) Register(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// Dispatch runs every handler concurrently and blocks until all have
// returned, ("awaits handlers in parallel").
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) {
	d.mu.RLock()
	handlers := make([]Handler, len(d.handlers))
	copy(handlers, d.handlers)
	d.mu.RUnlock()

	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slog.Error("events: handler panicked", "kind", event.Kind, "panic", r)
				}
			}()
			if err := h.Handle(ctx, event); err != nil {
				slog.Error("events: handler failed", "kind", event.Kind, "error", err)
			}
		}(h)
	}
	wg.Wait()
}

// OnExecutionEvent matches Supervisor.SetOnEvent's callback shape.
func (d *Dispatcher) OnExecutionEvent(ctx context.Context, name string, execRow *model.ExecutionProcess) {
	d.Dispatch(ctx, Event{Kind: Kind(name), Execution: execRow})
}

// OnTaskStatusChanged matches pipeline.TaskStatusChanged's and
// autopilot.TaskStatusChanged's callback shape (see
// pipeline.Engine.SetOnTaskStatusChanged and
// autopilot.Controller.SetOnTaskStatusChanged).
func (d *Dispatcher) OnTaskStatusChanged(ctx context.Context, task *model.Task, previous model.TaskStatus) {
	d.Dispatch(ctx, Event{Kind: KindTaskStatusChanged, Task: task, PreviousStatus: previous})
}
