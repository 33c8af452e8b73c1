// Package orchestrator is the composition root: it constructs every
// component package and wires their late-bound callbacks together —
// the Supervisor's reap/event/drain hooks, the Pipeline Engine's
// autopilot/task-status hooks, and the Domain Event Dispatcher's
// handler registrations — then exposes a single Orchestrator handle
// the embedding binary starts and stops.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/spf13/afero"

	"github.com/outerlook/orchestratorcore/internal/orchestrator/analytics"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/autopilot"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/config"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/events"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/executor"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/gitsnapshot"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/guard"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/hooks"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/pipeline"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/queue"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/store"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/supervisor"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/sweeper"
)

// Orchestrator bundles every constructed component. The embedding
// binary reaches external interfaces (HTTP/WS, full
// relational schema, notification delivery) through its own code;
// this struct only exposes the core's own public surface.
type Orchestrator struct {
	Store      *store.Store
	Supervisor *supervisor.Supervisor
	Queue      *queue.Gate
	Pipeline   *pipeline.Engine
	Autopilot  *autopilot.Controller
	Sweeper    *sweeper.Sweeper
	Hooks      *hooks.Deployer
	Dispatcher *events.Dispatcher
	Analytics  *analytics.Service

	natsConn *nats.Conn
}

// New constructs and wires every component from cfg. It does not start
// any background loop — call Start for that.
func New(cfg *config.Config) (*Orchestrator, error) {
	if cfg.Debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: open store: %w", err)
	}

	g := guard.New()
	cli := gitsnapshot.CommandGitCLI{}
	locator := gitsnapshot.NewFSLocator(st, "")
	snap := gitsnapshot.New(cli, locator, cfg.GitWorktreePoolSize)

	profiles := make([]executor.Profile, 0, len(cfg.Executors))
	for _, p := range cfg.Executors {
		profiles = append(profiles, executor.Profile{
			ID:         p.ID,
			Kind:       executor.ProfileKind(p.Kind),
			BinaryPath: p.BinaryPath,
			Model:      p.Model,
			MaxTurns:   p.MaxTurns,
		})
	}
	registry := executor.NewRegistry(profiles...)
	peers := executor.NewProtocolPeerApprovals()
	langfuse := executor.LangfuseConfig{
		Enabled:   cfg.Langfuse.Enabled,
		PublicKey: cfg.Langfuse.PublicKey,
		SecretKey: cfg.Langfuse.SecretKey,
		Host:      cfg.Langfuse.Host,
	}

	sup := supervisor.New(st, g, snap, registry, peers, langfuse, nil)

	gate := queue.New(st, sup, cfg.MaxConcurrentAgents)

	pipelineEngine := pipeline.New(st, sup, snap, pipeline.Config{
		FeedbackEnabled:                cfg.FeedbackEnabled,
		ReviewAttentionExecutorProfile: cfg.ReviewAttentionExecutorProfile,
		AutopilotEnabled:               cfg.AutopilotEnabled,
	})

	autopilotController := autopilot.New(st, sup, snap, cli, locator, autopilot.Config{
		Enabled:                          cfg.AutopilotEnabled,
		CommitMessageAutoGenerateEnabled: cfg.CommitMessageAutoGenerateEnabled,
		MergeMessageExecutorProfile:      cfg.CommitMessageExecutorProfile,
		InlineDiffThresholdBytes:         cfg.InlineDiffThresholdBytes,
		PromptTemplate:                   cfg.CommitMessagePromptTemplate,
	})

	dispatcher := events.NewDispatcher()

	var analyticsSvc *analytics.Service
	if cfg.AnalyticsEnabled {
		analyticsSvc = analytics.New(true, cfg.PosthogAPIKey, cfg.PosthogEndpoint)
	} else {
		analyticsSvc = analytics.New(false, "", "")
	}
	dispatcher.Register(analyticsSvc)
	dispatcher.Register(events.NewNotificationHandler(nil))

	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: connect nats: %w", err)
		}
		relay := events.NewNATSRelay(nc,
			events.WithExecutionSubject(cfg.NATSExecutionSubject),
			events.WithTaskSubject(cfg.NATSTaskSubject),
		)
		dispatcher.Register(relay)
	}

	sweep := sweeper.New(st, sup, afero.NewOsFs(), sweeper.Config{
		Interval:     cfg.Sweeper.Interval,
		WorkspaceTTL: cfg.Sweeper.WorkspaceTTL,
	})

	hookDeployer := hooks.New(afero.NewOsFs(), nil)

	sup.SetOnReaped(pipelineEngine.OnReaped)
	sup.SetOnEvent(dispatcher.OnExecutionEvent)
	sup.SetOnQueueDrain(gate.ProcessQueue)
	pipelineEngine.SetOnAutopilot(autopilotController.Trigger)
	pipelineEngine.SetOnTaskStatusChanged(dispatcher.OnTaskStatusChanged)
	autopilotController.SetOnTaskStatusChanged(dispatcher.OnTaskStatusChanged)

	return &Orchestrator{
		Store:      st,
		Supervisor: sup,
		Queue:      gate,
		Pipeline:   pipelineEngine,
		Autopilot:  autopilotController,
		Sweeper:    sweep,
		Hooks:      hookDeployer,
		Dispatcher: dispatcher,
		Analytics:  analyticsSvc,
		natsConn:   nc,
	}, nil
}

// Start runs the startup orphan sweep then launches the
// periodic workspace-cleanup tick. Call once, after New.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.Sweeper.StartupSweep(ctx); err != nil {
		return fmt.Errorf("orchestrator: startup sweep: %w", err)
	}
	return o.Sweeper.Start()
}

// Close stops the sweeper, flushes analytics, closes any NATS
// connection, and closes the store.
func (o *Orchestrator) Close() error {
	o.Sweeper.Stop()
	if err := o.Analytics.Close(); err != nil {
		slog.Error("orchestrator: analytics close", "error", err)
	}
	if o.natsConn != nil {
		o.natsConn.Close()
	}
	return o.Store.Close()
}
