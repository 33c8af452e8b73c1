// Package sweeper implements the startup orphan sweep and the periodic
// workspace-cleanup tick.
package sweeper

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"

	"github.com/outerlook/orchestratorcore/internal/orchestrator/store"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/supervisor"
)

// Config tunes the periodic tick and the expiry window.
type Config struct {
	// Interval between workspace-cleanup ticks. 0 uses DefaultInterval.
	Interval time.Duration
	// WorkspaceTTL is how long a task must have sat in a terminal status
	// (Done/Cancelled) before its workspace is eligible for cleanup. 0
	// uses DefaultWorkspaceTTL.
	WorkspaceTTL time.Duration
}

const (
	DefaultInterval     = 30 * time.Minute
	DefaultWorkspaceTTL = 24 * time.Hour
)

// Sweeper owns the startup orphan sweep and the periodic workspace
// cleanup tick.
type Sweeper struct {
	store      *store.Store
	supervisor *supervisor.Supervisor
	fs         afero.Fs
	cfg        Config
	cron       *cron.Cron

	// now is overridable in tests; nil uses time.Now.
	now func() time.Time
}

func New(st *store.Store, sup *supervisor.Supervisor, fs afero.Fs, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.WorkspaceTTL <= 0 {
		cfg.WorkspaceTTL = DefaultWorkspaceTTL
	}
	return &Sweeper{store: st, supervisor: sup, fs: fs, cfg: cfg, now: time.Now}
}

// StartupSweep flips every row left Running from a previous process to
// Failed. Call once before
// Start.
func (s *Sweeper) StartupSweep(ctx context.Context) error {
	return s.supervisor.KillAllRunningProcesses(ctx)
}

// Start launches the periodic workspace-cleanup cron tick. The caller
// owns the returned Sweeper's lifetime and must call Stop on shutdown.
func (s *Sweeper) Start() error {
	s.cron = cron.New(cron.WithLogger(cron.VerbosePrintfLogger(log.New(log.Writer(), "sweeper: ", log.LstdFlags))))
	_, err := s.cron.AddFunc(everySpec(s.cfg.Interval), func() {
		s.SweepExpiredWorkspaces(context.Background())
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop stops the cron scheduler.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// SweepExpiredWorkspaces removes the on-disk directory and DB rows for
// every workspace whose task has been Done/Cancelled for longer than
// WorkspaceTTL. A removal failure is logged and does not stop the
// sweep from continuing to the next workspace.
func (s *Sweeper) SweepExpiredWorkspaces(ctx context.Context) {
	cutoff := s.now().Add(-s.cfg.WorkspaceTTL)
	expired, err := s.store.Workspaces.ExpiredSince(ctx, cutoff)
	if err != nil {
		slog.Error("sweeper: failed to list expired workspaces", "error", err)
		return
	}

	for _, ws := range expired {
		if ws.ContainerRef != "" {
			if err := s.fs.RemoveAll(ws.ContainerRef); err != nil && !os.IsNotExist(err) {
				slog.Error("sweeper: failed to remove workspace directory", "workspace_id", ws.ID, "dir", ws.ContainerRef, "error", err)
				continue
			}
		}
		if err := s.store.Workspaces.Delete(ctx, ws.ID); err != nil {
			slog.Error("sweeper: failed to delete workspace row", "workspace_id", ws.ID, "error", err)
		}
	}
}

func everySpec(d time.Duration) string {
	return "@every " + d.String()
}
