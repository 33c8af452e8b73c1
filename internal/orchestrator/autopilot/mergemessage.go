package autopilot

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/outerlook/orchestratorcore/internal/orchestrator/model"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/supervisor"
)

// DefaultPromptTemplate is used when Config.PromptTemplate is empty.
const DefaultPromptTemplate = `Write a concise, conventional commit message for the following change.

Task: {task_title}
{task_description}

Diff:
{diff}

Reply with the commit message only, no prose, no surrounding quotes.`

const (
	mergeMessageTimeout      = 60 * time.Second
	mergeMessagePollInterval = 500 * time.Millisecond
)

// generateCommitMessage runs the configured executor profile as an
// InternalAgent one-shot over the repo's diff and returns its reply, or
// the task title/description fallback on any failure.
func (c *Controller) generateCommitMessage(ctx context.Context, task *model.Task, ws *model.Workspace, repo model.WorkspaceRepo) string {
	fallback := task.Title
	if task.Description != "" {
		fallback = task.Title + "\n\n" + task.Description
	}

	if !c.cfg.CommitMessageAutoGenerateEnabled || c.cfg.MergeMessageExecutorProfile == "" {
		return fallback
	}

	dir, err := c.locator.WorkspaceRepoDir(ws.ID, repo.RepoID)
	if err != nil {
		slog.Warn("autopilot: falling back to template commit message", "workspace_id", ws.ID, "repo_id", repo.RepoID, "error", err)
		return fallback
	}
	diff, err := c.cli.Diff(ctx, dir, repo.TargetBranch, ws.Branch)
	if err != nil {
		slog.Warn("autopilot: falling back to template commit message", "workspace_id", ws.ID, "repo_id", repo.RepoID, "error", err)
		return fallback
	}
	if c.cfg.InlineDiffThresholdBytes > 0 && len(diff) > c.cfg.InlineDiffThresholdBytes {
		diff = diff[:c.cfg.InlineDiffThresholdBytes] + "\n... diff truncated ..."
	}

	repos, err := c.store.Workspaces.Repos(ctx, ws.ID)
	if err != nil || len(repos) == 0 {
		return fallback
	}

	action := &model.ExecutorAction{
		Type:              model.ActionCodingAgentInitialRequest,
		Prompt:            renderPrompt(c.cfg.PromptTemplate, task, diff),
		ExecutorProfileID: c.cfg.MergeMessageExecutorProfile,
	}

	execRow, err := c.supervisor.StartExecution(ctx, supervisor.StartParams{
		Workspace: ws,
		Repos:     repos,
		TaskID:    task.ID,
		Action:    action,
		RunReason: model.RunInternalAgent,
		Prompt:    action.Prompt,
		ProfileID: action.ExecutorProfileID,
	})
	if err != nil {
		slog.Warn("autopilot: failed to start commit-message internal agent, falling back", "workspace_id", ws.ID, "repo_id", repo.RepoID, "error", err)
		return fallback
	}

	c.supervisor.MarkFeedbackPendingCleanup(execRow.ID)
	defer c.supervisor.EvictAfterFeedback(execRow.ID)

	text := strings.TrimSpace(c.waitForAssistantText(execRow.ID))
	if text == "" {
		return fallback
	}
	return text
}

func (c *Controller) waitForAssistantText(execID string) string {
	deadline := time.Now().Add(mergeMessageTimeout)
	ticker := time.NewTicker(mergeMessagePollInterval)
	defer ticker.Stop()

	for range ticker.C {
		if text := c.supervisor.LastAssistantText(execID); text != "" {
			return text
		}
		if time.Now().After(deadline) {
			slog.Warn("autopilot: commit-message internal agent timed out", "execution_id", execID)
			return ""
		}
	}
	return ""
}

func renderPrompt(template string, task *model.Task, diff string) string {
	out := strings.ReplaceAll(template, "{task_title}", task.Title)
	out = strings.ReplaceAll(out, "{task_description}", task.Description)
	out = strings.ReplaceAll(out, "{diff}", diff)
	return out
}
