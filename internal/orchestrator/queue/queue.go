// Package queue implements the Concurrency Gate & Queue Drain: a
// global cap on concurrent coding-agent executions, a FIFO overflow
// queue for deferred workspace starts and deferred follow-up messages,
// and the drain loop that promotes queued entries as slots free up.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/outerlook/orchestratorcore/internal/orchestrator/model"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/store"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/supervisor"
)

// Gate enforces MaxConcurrentAgents and owns process_queue's drain loop.
// Register ProcessQueue with Supervisor.SetOnQueueDrain so a drain is
// spawned after every reap.
type Gate struct {
	store      *store.Store
	supervisor *supervisor.Supervisor

	// MaxConcurrentAgents caps concurrently Running CodingAgent
	// executions; 0 means unlimited.
	MaxConcurrentAgents int
}

func New(st *store.Store, sup *supervisor.Supervisor, maxConcurrentAgents int) *Gate {
	return &Gate{store: st, supervisor: sup, MaxConcurrentAgents: maxConcurrentAgents}
}

// ShouldQueueExecution implements should_queue_execution: false when
// unlimited, else true once running coding agents meet the cap.
func (g *Gate) ShouldQueueExecution(ctx context.Context) (bool, error) {
	if g.MaxConcurrentAgents == 0 {
		return false, nil
	}
	count, err := g.store.Executions.CountRunningCodingAgents(ctx)
	if err != nil {
		return false, err
	}
	return count >= g.MaxConcurrentAgents, nil
}

// StartResult is the Queued/Started outcome of StartWorkspace.
type StartResult struct {
	Execution *model.ExecutionProcess // set when Started
	Queued    *model.ExecutionQueue   // set when Queued
}

// StartWorkspace implements start_workspace: queues an initial-start
// entry if the gate is saturated, else starts the workspace's action
// tree immediately.
func (g *Gate) StartWorkspace(ctx context.Context, ws *model.Workspace, repos []model.WorkspaceRepo, task *model.Task, executorProfileID string) (*StartResult, error) {
	if task != nil && task.IsBlocked {
		return nil, model.ErrTaskBlocked
	}

	queue, err := g.ShouldQueueExecution(ctx)
	if err != nil {
		return nil, fmt.Errorf("should_queue_execution: %w", err)
	}
	if queue {
		entry := &model.ExecutionQueue{
			ID:                ulid.Make().String(),
			WorkspaceID:       ws.ID,
			ExecutorProfileID: executorProfileID,
			CreatedAt:         time.Now(),
		}
		if err := g.store.Queue.Enqueue(ctx, entry); err != nil {
			return nil, fmt.Errorf("enqueue workspace start: %w", err)
		}
		if task != nil {
			_ = g.store.Tasks.SetQueued(ctx, task.ID, true)
		}
		return &StartResult{Queued: entry}, nil
	}

	execRow, err := g.startWorkspaceInner(ctx, ws, repos, task, executorProfileID)
	if err != nil {
		return nil, err
	}
	return &StartResult{Execution: execRow}, nil
}

// startWorkspaceInner implements start_workspace_inner: opens a new
// Session, builds the action tree from the task prompt and each repo's
// setup/cleanup scripts, and starts the head of the chain.
func (g *Gate) startWorkspaceInner(ctx context.Context, ws *model.Workspace, repos []model.WorkspaceRepo, task *model.Task, executorProfileID string) (*model.ExecutionProcess, error) {
	session := &model.Session{ID: ulid.Make().String(), WorkspaceID: ws.ID, CreatedAt: time.Now()}
	if err := g.store.Sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	prompt := ""
	taskID := ""
	if task != nil {
		prompt = task.Description
		if prompt == "" {
			prompt = task.Title
		}
		taskID = task.ID
	}

	codingAction := &model.ExecutorAction{
		Type:              model.ActionCodingAgentInitialRequest,
		Prompt:            prompt,
		ExecutorProfileID: executorProfileID,
		WorkingDir:        ws.AgentWorkingDir,
		NextAction:        BuildCleanupChain(repos),
	}

	setupRepos := make([]model.WorkspaceRepo, 0, len(repos))
	for _, r := range repos {
		if r.SetupScript != "" {
			setupRepos = append(setupRepos, r)
		}
	}

	if len(setupRepos) == 0 {
		return g.supervisor.StartExecution(ctx, supervisor.StartParams{
			Workspace: ws, Repos: repos, TaskID: taskID, Action: codingAction,
			RunReason: model.RunCodingAgent, SessionID: session.ID, Prompt: prompt, ProfileID: executorProfileID,
		})
	}

	allParallel := true
	for _, r := range setupRepos {
		if !r.ParallelSetupScript {
			allParallel = false
			break
		}
	}

	if allParallel {
		for _, r := range setupRepos {
			setupAction := setupAction(r)
			if _, err := g.supervisor.StartExecution(ctx, supervisor.StartParams{
				Workspace: ws, Repos: repos, TaskID: taskID, Action: setupAction,
				RunReason: model.RunSetupScript, SessionID: session.ID,
			}); err != nil {
				slog.Error("queue: parallel setup script failed to start", "workspace_id", ws.ID, "repo_id", r.RepoID, "error", err)
			}
		}
		return g.supervisor.StartExecution(ctx, supervisor.StartParams{
			Workspace: ws, Repos: repos, TaskID: taskID, Action: codingAction,
			RunReason: model.RunCodingAgent, SessionID: session.ID, Prompt: prompt, ProfileID: executorProfileID,
		})
	}

	head := setupAction(setupRepos[0])
	cursor := head
	for _, r := range setupRepos[1:] {
		next := setupAction(r)
		cursor.NextAction = next
		cursor = next
	}
	cursor.NextAction = codingAction

	return g.supervisor.StartExecution(ctx, supervisor.StartParams{
		Workspace: ws, Repos: repos, TaskID: taskID, Action: head,
		RunReason: model.RunSetupScript, SessionID: session.ID,
	})
}

func setupAction(r model.WorkspaceRepo) *model.ExecutorAction {
	return &model.ExecutorAction{
		Type:          model.ActionScriptRequest,
		Script:        r.SetupScript,
		Language:      r.SetupScriptLanguage,
		ScriptContext: model.ScriptSetup,
	}
}

// BuildCleanupChain chains every repo's cleanup script sequentially
// after the coding agent, nil if no repo declares one.
func BuildCleanupChain(repos []model.WorkspaceRepo) *model.ExecutorAction {
	var head, cursor *model.ExecutorAction
	for _, r := range repos {
		if r.CleanupScript == "" {
			continue
		}
		node := &model.ExecutorAction{
			Type:          model.ActionScriptRequest,
			Script:        r.CleanupScript,
			Language:      r.CleanupScriptLanguage,
			ScriptContext: model.ScriptCleanup,
		}
		if head == nil {
			head = node
		} else {
			cursor.NextAction = node
		}
		cursor = node
	}
	return head
}

// ProcessQueue implements process_queue: drains the FIFO while slots
// remain, skipping entries whose workspace has vanished, starting
// follow-ups as CodingAgent and plain entries via start_workspace_inner.
// Registered with Supervisor.SetOnQueueDrain; a single drain never
// blocks the caller.
func (g *Gate) ProcessQueue(ctx context.Context) {
	for {
		queue, err := g.ShouldQueueExecution(ctx)
		if err != nil {
			slog.Error("queue: process_queue failed to check gate", "error", err)
			return
		}
		if queue {
			return
		}

		entry, err := g.store.Queue.PopOldest(ctx)
		if err != nil {
			slog.Error("queue: process_queue failed to pop", "error", err)
			return
		}
		if entry == nil {
			return
		}

		if err := g.drainEntry(ctx, entry); err != nil {
			slog.Error("queue: process_queue entry failed", "queue_id", entry.ID, "workspace_id", entry.WorkspaceID, "error", err)
		}
	}
}

func (g *Gate) drainEntry(ctx context.Context, entry *model.ExecutionQueue) error {
	ws, err := g.store.Workspaces.Get(ctx, entry.WorkspaceID)
	if err != nil {
		return fmt.Errorf("lookup workspace: %w", err)
	}
	if ws == nil {
		return nil
	}
	repos, err := g.store.Workspaces.Repos(ctx, ws.ID)
	if err != nil {
		return fmt.Errorf("lookup repos: %w", err)
	}

	var task *model.Task
	if ws.TaskID != "" {
		task, _ = g.store.Tasks.Get(ctx, ws.TaskID)
	}
	taskID := ""
	if task != nil {
		taskID = task.ID
		defer func() { _ = g.store.Tasks.SetQueued(ctx, task.ID, false) }()
	}

	if entry.IsFollowUp() {
		_, err := g.supervisor.StartExecution(ctx, supervisor.StartParams{
			Workspace: ws, Repos: repos, TaskID: taskID, Action: entry.Action,
			RunReason: model.RunCodingAgent, SessionID: entry.SessionID,
			Prompt: entry.Action.Prompt, ProfileID: entry.Action.ExecutorProfileID,
		})
		return err
	}

	_, err = g.startWorkspaceInner(ctx, ws, repos, task, entry.ExecutorProfileID)
	return err
}
