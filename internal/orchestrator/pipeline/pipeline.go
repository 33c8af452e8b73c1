// Package pipeline implements the Pipeline Engine: chaining
// an ExecutorAction tree's next step after a reap, deciding whether a task
// finalizes, and promoting a queued follow-up message onto a still-live
// session.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/outerlook/orchestratorcore/internal/orchestrator/executor"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/gitsnapshot"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/model"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/queue"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/store"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/supervisor"
)

// Config gates the pipeline's internal-follow-up features.
type Config struct {
	FeedbackEnabled                bool
	ReviewAttentionExecutorProfile string // empty disables review-attention
	AutopilotEnabled                bool
}

// AutopilotTrigger is the late-bound hook into the Autopilot Merge
// Controller, set after construction to avoid an import cycle (autopilot
// needs the store and supervisor too, but nothing here needs autopilot's
// types).
type AutopilotTrigger func(ctx context.Context, taskID, workspaceID string)

// TaskStatusChanged is the late-bound hook into the Domain Event
// Dispatcher's TaskStatusChanged broadcast.
type TaskStatusChanged func(ctx context.Context, task *model.Task, previousStatus model.TaskStatus)

// Engine implements try_start_next_action, should_finalize, and the
// queued-follow-up/feedback/review-attention internal follow-ups.
type Engine struct {
	store      *store.Store
	supervisor *supervisor.Supervisor
	snapshot   *gitsnapshot.Snapshot
	cfg        Config

	onAutopilot       AutopilotTrigger
	onTaskStatus      TaskStatusChanged
}

func New(st *store.Store, sup *supervisor.Supervisor, snap *gitsnapshot.Snapshot, cfg Config) *Engine {
	return &Engine{store: st, supervisor: sup, snapshot: snap, cfg: cfg}
}

func (e *Engine) SetOnAutopilot(cb AutopilotTrigger)         { e.onAutopilot = cb }
func (e *Engine) SetOnTaskStatusChanged(cb TaskStatusChanged) { e.onTaskStatus = cb }

// execContext is the "load the execution context" step of the reap
// algorithm, resolved lazily by OnReaped.
type execContext struct {
	session   *model.Session
	workspace *model.Workspace
	repos     []model.WorkspaceRepo
	task      *model.Task
}

func (e *Engine) loadContext(ctx context.Context, execRow *model.ExecutionProcess) *execContext {
	if execRow.SessionID == "" {
		return nil
	}
	session, err := e.store.Sessions.Get(ctx, execRow.SessionID)
	if err != nil || session == nil {
		return nil
	}
	workspace, err := e.store.Workspaces.Get(ctx, session.WorkspaceID)
	if err != nil || workspace == nil {
		return nil
	}
	repos, err := e.store.Workspaces.Repos(ctx, workspace.ID)
	if err != nil {
		return nil
	}
	var task *model.Task
	if workspace.TaskID != "" {
		task, _ = e.store.Tasks.Get(ctx, workspace.TaskID)
	}
	return &execContext{session: session, workspace: workspace, repos: repos, task: task}
}

// OnReaped is registered with Supervisor.SetOnReaped and implements the
// pipeline's post-exit follow-up: commit-on-completion gating
// try_start_next_action vs finalize_task, then the queued-follow-up
// promotion.
func (e *Engine) OnReaped(ctx context.Context, execRow *model.ExecutionProcess) {
	ec := e.loadContext(ctx, execRow)
	if ec == nil {
		return
	}

	cleanupDone := execRow.RunReason == model.RunCleanupScript && execRow.Status != model.ExecRunning

	if success(execRow) || cleanupDone {
		e.runCommitAndAdvance(ctx, execRow, ec)
	}

	if ShouldFinalize(execRow) {
		if !e.promoteQueuedFollowUp(ctx, execRow, ec) {
			e.FinalizeTask(ctx, ec.task)
		}
	}
}

func (e *Engine) runCommitAndAdvance(ctx context.Context, execRow *model.ExecutionProcess, ec *execContext) {
	summary := ""
	if execRow.Action.IsCodingAgent() {
		if turn, err := e.store.Turns.ByExecution(ctx, execRow.ID); err == nil && turn != nil && turn.Summary != nil {
			summary = *turn.Summary
		}
	}
	message := gitsnapshot.CommitMessage(summary)

	changesCommitted, err := e.snapshot.CommitOnCompletion(ctx, ec.workspace.ID, ec.repos, message, func(repoID string, err error) {
		slog.Error("pipeline: commit-on-completion failed for repo", "repo_id", repoID, "error", err)
	})
	if err != nil {
		slog.Error("pipeline: commit-on-completion pre-flight failed", "workspace_id", ec.workspace.ID, "error", err)
		return
	}

	shouldStartNext := changesCommitted
	if execRow.RunReason != model.RunCodingAgent {
		shouldStartNext = true
	}

	if shouldStartNext {
		e.TryStartNextAction(ctx, execRow, ec)
	} else {
		e.FinalizeTask(ctx, ec.task)
	}

	if e.cfg.FeedbackEnabled && execRow.Action.IsCodingAgent() && success(execRow) {
		e.scheduleFeedback(ctx, execRow, ec)
	}
	if e.cfg.ReviewAttentionExecutorProfile != "" && execRow.Action.IsCodingAgent() && success(execRow) {
		e.scheduleReviewAttention(ctx, execRow, ec)
	}
}

func success(execRow *model.ExecutionProcess) bool {
	return execRow.Status == model.ExecCompleted && (execRow.ExitCode == nil || *execRow.ExitCode == 0)
}

// TryStartNextAction implements try_start_next_action: starts
// action.next_action on the same workspace/session if one is chained.
func (e *Engine) TryStartNextAction(ctx context.Context, execRow *model.ExecutionProcess, ec *execContext) {
	if execRow.Action == nil || execRow.Action.NextAction == nil {
		return
	}
	next := execRow.Action.NextAction
	reason := executor.NextRunReason(execRow.Action, next)

	taskID := ""
	if ec.task != nil {
		taskID = ec.task.ID
	}

	_, err := e.supervisor.StartExecution(ctx, supervisor.StartParams{
		Workspace: ec.workspace,
		Repos:     ec.repos,
		TaskID:    taskID,
		Action:    next,
		RunReason: reason,
		SessionID: execRow.SessionID,
		Prompt:    next.Prompt,
		ProfileID: next.ExecutorProfileID,
	})
	if err != nil {
		slog.Error("pipeline: try_start_next_action failed to spawn chained action", "execution_id", execRow.ID, "error", err)
	}
}

// ShouldFinalize implements should_finalize rules.
func ShouldFinalize(execRow *model.ExecutionProcess) bool {
	if execRow.RunReason == model.RunDevServer || execRow.RunReason == model.RunInternalAgent {
		return false
	}
	if execRow.RunReason == model.RunSetupScript && (execRow.Action == nil || execRow.Action.NextAction == nil) {
		return false
	}
	if execRow.Status == model.ExecFailed || execRow.Status == model.ExecKilled {
		return true
	}
	return execRow.Action == nil || execRow.Action.NextAction == nil
}

// FinalizeTask flips a task to InReview, broadcasting the transition.
// It is idempotent: tasks already Done or Cancelled are left alone.
func (e *Engine) FinalizeTask(ctx context.Context, task *model.Task) {
	if task == nil || task.Status == model.TaskDone || task.Status == model.TaskCancelled {
		return
	}
	previous := task.Status
	if err := e.store.Tasks.SetStatus(ctx, task.ID, model.TaskInReview); err != nil {
		slog.Error("pipeline: finalize_task failed to update status", "task_id", task.ID, "error", err)
		return
	}
	if e.onTaskStatus != nil {
		task.Status = model.TaskInReview
		e.onTaskStatus(ctx, task, previous)
	}
}

// promoteQueuedFollowUp implements queued-follow-up promotion: a draft
// follow-up message queued while the session was still busy is taken
// atomically and started as a CodingAgentFollowUpRequest (or
// CodingAgentInitialRequest if no prior turn exists to resume from).
// Returns true if a follow-up was promoted (the caller should skip
// finalizing in that case).
func (e *Engine) promoteQueuedFollowUp(ctx context.Context, execRow *model.ExecutionProcess, ec *execContext) bool {
	if execRow.Status == model.ExecFailed || execRow.Status == model.ExecKilled {
		return false
	}
	entry, err := e.store.Queue.PopForSession(ctx, execRow.SessionID)
	if err != nil {
		slog.Error("pipeline: queued follow-up lookup failed", "session_id", execRow.SessionID, "error", err)
		return false
	}
	if entry == nil || entry.Action == nil {
		return false
	}

	action := entry.Action.Clone()
	action.Type = model.ActionCodingAgentInitialRequest

	profileID := entry.ExecutorProfileID
	if latest, err := e.store.Executions.LatestCodingAgentForSession(ctx, execRow.SessionID); err == nil && latest != nil {
		if latest.Action != nil && latest.Action.ExecutorProfileID != "" {
			profileID = latest.Action.ExecutorProfileID
		}
	}
	action.ExecutorProfileID = profileID

	if turn, err := e.store.Turns.LatestForSession(ctx, execRow.SessionID); err == nil && turn != nil && turn.AgentSessionID != "" {
		action.AgentSessionID = turn.AgentSessionID
		action.Type = model.ActionCodingAgentFollowUpRequest
	}

	// Re-attach the cleanup chain for the workspace's repos; the queued
	// draft carries no NextAction of its own.
	action.NextAction = queue.BuildCleanupChain(ec.repos)

	taskID := ""
	if ec.task != nil {
		taskID = ec.task.ID
	}
	_, err = e.supervisor.StartExecution(ctx, supervisor.StartParams{
		Workspace: ec.workspace,
		Repos:     ec.repos,
		TaskID:    taskID,
		Action:    action,
		RunReason: model.RunCodingAgent,
		SessionID: execRow.SessionID,
		Prompt:    action.Prompt,
		ProfileID: action.ExecutorProfileID,
	})
	if err != nil {
		slog.Error("pipeline: failed to start promoted queued follow-up", "session_id", execRow.SessionID, "error", err)
		return false
	}
	return true
}
