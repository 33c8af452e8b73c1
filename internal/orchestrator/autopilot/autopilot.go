// Package autopilot implements the Autopilot Merge Controller: once
// review-attention clears a task, it generates a commit message per
// repo, enqueues a repo-scoped squash-merge onto the project's merge
// queue, and drains that queue with one in-flight processor per
// project.
package autopilot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/outerlook/orchestratorcore/internal/orchestrator/gitsnapshot"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/guard"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/model"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/store"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/supervisor"
)

// TaskStatusChanged is the late-bound hook into the Domain Event
// Dispatcher's TaskStatusChanged broadcast, mirroring pipeline.Engine's
// hook of the same name so the Done transition reaches it too.
type TaskStatusChanged func(ctx context.Context, task *model.Task, previousStatus model.TaskStatus)

// Config gates and tunes the autopilot flow.
type Config struct {
	Enabled                          bool
	CommitMessageAutoGenerateEnabled bool
	MergeMessageExecutorProfile      string // empty disables AI generation even if the above is set
	InlineDiffThresholdBytes         int    // 0 disables truncation
	PromptTemplate                   string // {task_title}, {task_description}, {diff}; empty uses DefaultPromptTemplate
}

// Controller is the autopilot merge processor. Wire Trigger as
// pipeline.Engine's AutopilotTrigger via SetOnAutopilot.
type Controller struct {
	store      *store.Store
	supervisor *supervisor.Supervisor
	snapshot   *gitsnapshot.Snapshot
	cli        gitsnapshot.GitCLI
	locator    gitsnapshot.RepoLocator
	cfg        Config

	// active is ACTIVE_MERGE_PROCESSORS: at most one process_project_queue
	// goroutine runs per project at a time.
	active *guard.Guard

	onTaskStatus TaskStatusChanged

	mu           sync.Mutex
	pendingRepos map[string]int                    // workspace id -> repos not yet merged
	operations   map[string]model.OperationStatus // workspace id -> in-flight operation
}

// SetOnTaskStatusChanged registers the Domain Event Dispatcher callback
// fired after the Done transition.
func (c *Controller) SetOnTaskStatusChanged(cb TaskStatusChanged) { c.onTaskStatus = cb }

func New(st *store.Store, sup *supervisor.Supervisor, snap *gitsnapshot.Snapshot, cli gitsnapshot.GitCLI, locator gitsnapshot.RepoLocator, cfg Config) *Controller {
	if cfg.PromptTemplate == "" {
		cfg.PromptTemplate = DefaultPromptTemplate
	}
	return &Controller{
		store:        st,
		supervisor:   sup,
		snapshot:     snap,
		cli:          cli,
		locator:      locator,
		cfg:          cfg,
		active:       guard.New(),
		pendingRepos: make(map[string]int),
		operations:   make(map[string]model.OperationStatus),
	}
}

// OperationStatus reports the in-flight operation (if any) for a
// workspace, for introspection and tests; this state lives in-process
// only, same as guard.Guard's running set.
func (c *Controller) OperationStatus(workspaceID string) (model.OperationStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	op, ok := c.operations[workspaceID]
	return op, ok
}

func (c *Controller) setOperation(workspaceID, taskID string, kind model.OperationKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.operations[workspaceID] = model.OperationStatus{WorkspaceID: workspaceID, TaskID: taskID, Kind: kind}
}

func (c *Controller) clearOperation(workspaceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.operations, workspaceID)
}

// Trigger implements pipeline.AutopilotTrigger: for every repo in the
// task's workspace, generate (or fall back to) a commit message and
// enqueue a merge_queue entry, then ensure the project's single-flight
// processor is running.
func (c *Controller) Trigger(ctx context.Context, taskID, workspaceID string) {
	if !c.cfg.Enabled {
		return
	}

	task, err := c.store.Tasks.Get(ctx, taskID)
	if err != nil || task == nil {
		slog.Error("autopilot: failed to load task", "task_id", taskID, "error", err)
		return
	}
	ws, err := c.store.Workspaces.Get(ctx, workspaceID)
	if err != nil || ws == nil {
		slog.Error("autopilot: failed to load workspace", "workspace_id", workspaceID, "error", err)
		return
	}
	repos, err := c.store.Workspaces.Repos(ctx, workspaceID)
	if err != nil || len(repos) == 0 {
		slog.Error("autopilot: workspace has no repos", "workspace_id", workspaceID, "error", err)
		return
	}

	c.mu.Lock()
	c.pendingRepos[workspaceID] = len(repos)
	c.mu.Unlock()

	for _, repo := range repos {
		c.setOperation(workspaceID, taskID, model.OpGeneratingCommit)
		message := c.generateCommitMessage(ctx, task, ws, repo)
		c.clearOperation(workspaceID)

		entry := &model.MergeQueueEntry{
			ID:            ulid.Make().String(),
			ProjectID:     task.ProjectID,
			WorkspaceID:   workspaceID,
			RepoID:        repo.RepoID,
			CommitMessage: message,
			CreatedAt:     time.Now(),
		}
		if err := c.store.MergeQueue.Enqueue(ctx, entry); err != nil {
			slog.Error("autopilot: failed to enqueue merge", "workspace_id", workspaceID, "repo_id", repo.RepoID, "error", err)
		}
	}

	c.spawnProcessor(task.ProjectID)
}

// spawnProcessor starts process_project_queue for projectID unless one
// is already running (the ACTIVE_MERGE_PROCESSORS single-flight guard).
func (c *Controller) spawnProcessor(projectID string) {
	if !c.active.Insert(projectID) {
		return
	}
	go func() {
		defer c.active.Remove(projectID)
		c.processProjectQueue(context.Background(), projectID)
	}()
}

func (c *Controller) processProjectQueue(ctx context.Context, projectID string) {
	for {
		entry, err := c.store.MergeQueue.PopOldestForProject(ctx, projectID)
		if err != nil {
			slog.Error("autopilot: failed to pop merge queue", "project_id", projectID, "error", err)
			return
		}
		if entry == nil {
			return
		}
		c.mergeEntry(ctx, entry)
	}
}

func (c *Controller) mergeEntry(ctx context.Context, entry *model.MergeQueueEntry) {
	ws, err := c.store.Workspaces.Get(ctx, entry.WorkspaceID)
	if err != nil || ws == nil {
		slog.Error("autopilot: merge target workspace missing", "workspace_id", entry.WorkspaceID, "error", err)
		return
	}
	repos, err := c.store.Workspaces.Repos(ctx, ws.ID)
	if err != nil {
		slog.Error("autopilot: failed to load workspace repos", "workspace_id", ws.ID, "error", err)
		return
	}
	var targetBranch string
	found := false
	for _, r := range repos {
		if r.RepoID == entry.RepoID {
			targetBranch = r.TargetBranch
			found = true
			break
		}
	}
	if !found {
		slog.Warn("autopilot: merge entry repo no longer in workspace", "workspace_id", ws.ID, "repo_id", entry.RepoID)
		return
	}

	c.setOperation(ws.ID, ws.TaskID, model.OpMerging)
	defer c.clearOperation(ws.ID)

	dir, err := c.locator.WorkspaceRepoDir(ws.ID, entry.RepoID)
	if err != nil {
		slog.Error("autopilot: failed to locate workspace repo dir", "workspace_id", ws.ID, "repo_id", entry.RepoID, "error", err)
		return
	}

	if _, err := c.snapshot.SquashMerge(ctx, entry.RepoID, dir, ws.Branch, targetBranch, entry.CommitMessage); err != nil {
		slog.Error("autopilot: squash-merge failed", "workspace_id", ws.ID, "repo_id", entry.RepoID, "error", err)
		return
	}

	if c.decrementPending(ws.ID) && ws.TaskID != "" {
		c.finalizeTaskDone(ctx, ws.TaskID)
	}
}

// finalizeTaskDone flips a task to Done, dispatches the transition, and
// unblocks any dependents whose last unresolved dependency was this task.
func (c *Controller) finalizeTaskDone(ctx context.Context, taskID string) {
	task, err := c.store.Tasks.Get(ctx, taskID)
	if err != nil || task == nil {
		slog.Error("autopilot: failed to load task for done transition", "task_id", taskID, "error", err)
		return
	}
	previous := task.Status

	if err := c.store.Tasks.SetStatus(ctx, taskID, model.TaskDone); err != nil {
		slog.Error("autopilot: failed to mark task done", "task_id", taskID, "error", err)
		return
	}
	task.Status = model.TaskDone

	if c.onTaskStatus != nil {
		c.onTaskStatus(ctx, task, previous)
	}

	dependents, err := c.store.Tasks.Dependents(ctx, taskID)
	if err != nil {
		slog.Error("autopilot: failed to load dependents", "task_id", taskID, "error", err)
		return
	}
	for _, depID := range dependents {
		if err := c.store.Tasks.RecomputeBlocked(ctx, depID); err != nil {
			slog.Error("autopilot: failed to recompute blocked state", "task_id", depID, "error", err)
		}
	}
}

// decrementPending reports true once every repo Trigger enqueued for
// workspaceID has been merged.
func (c *Controller) decrementPending(workspaceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.pendingRepos[workspaceID]
	if !ok {
		return false
	}
	n--
	if n <= 0 {
		delete(c.pendingRepos, workspaceID)
		return true
	}
	c.pendingRepos[workspaceID] = n
	return false
}
