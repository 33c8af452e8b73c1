package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/outerlook/orchestratorcore/internal/orchestrator/model"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/supervisor"
)

const reviewAttentionPollTimeout = 2 * time.Minute

// reviewVerdict is the shape the review-attention prompt asks the model
// to answer in.
type reviewVerdict struct {
	NeedsAttention bool   `json:"needs_attention"`
	Reasoning      string `json:"reasoning"`
}

const reviewAttentionPrompt = `Does this change need a human to look at it before merging? ` +
	`Reply with a single JSON object: {"needs_attention": bool, "reasoning": string}. JSON only, no prose.`

// scheduleReviewAttention runs the configured review-attention executor
// profile as an InternalAgent follow-up, parses its verdict, persists a
// ReviewAttention row, updates the task's needs_attention flag, and
// triggers the autopilot merge controller when the reviewer clears the
// change and autopilot is enabled.
func (e *Engine) scheduleReviewAttention(ctx context.Context, execRow *model.ExecutionProcess, ec *execContext) {
	action := &model.ExecutorAction{
		Type:              model.ActionCodingAgentFollowUpRequest,
		Prompt:            reviewAttentionPrompt,
		ExecutorProfileID: e.cfg.ReviewAttentionExecutorProfile,
		AgentSessionID:    execRow.Action.AgentSessionID,
	}

	taskID := ""
	if ec.task != nil {
		taskID = ec.task.ID
	}

	reviewExec, err := e.supervisor.StartExecution(ctx, supervisor.StartParams{
		Workspace: ec.workspace,
		Repos:     ec.repos,
		TaskID:    taskID,
		Action:    action,
		RunReason: model.RunInternalAgent,
		SessionID: execRow.SessionID,
		Prompt:    action.Prompt,
		ProfileID: action.ExecutorProfileID,
	})
	if err != nil {
		slog.Error("pipeline: failed to start review-attention internal agent", "execution_id", execRow.ID, "error", err)
		return
	}

	e.supervisor.MarkFeedbackPendingCleanup(reviewExec.ID)
	go e.pollReviewAttention(reviewExec.ID, taskID, ec.workspace.ID)
}

func (e *Engine) pollReviewAttention(execID, taskID, workspaceID string) {
	defer e.supervisor.EvictAfterFeedback(execID)

	deadline := time.Now().Add(reviewAttentionPollTimeout)
	ticker := time.NewTicker(feedbackPollInterval)
	defer ticker.Stop()

	for range ticker.C {
		if time.Now().After(deadline) {
			slog.Warn("pipeline: review-attention parser timed out waiting for assistant message", "execution_id", execID)
			return
		}
		text := e.supervisor.LastAssistantText(execID)
		if text == "" {
			continue
		}
		var verdict reviewVerdict
		if err := json.Unmarshal([]byte(text), &verdict); err != nil {
			continue
		}

		ctx := context.Background()
		attention := &model.ReviewAttention{
			ID:                  uuid.NewString(),
			ExecutionProcessID: execID,
			TaskID:              taskID,
			WorkspaceID:         workspaceID,
			NeedsAttention:      verdict.NeedsAttention,
			Reasoning:           verdict.Reasoning,
		}
		if err := e.store.Review.Create(ctx, attention); err != nil {
			slog.Error("pipeline: failed to persist review attention", "execution_id", execID, "error", err)
		}
		if taskID != "" {
			if err := e.store.Tasks.SetNeedsAttention(ctx, taskID, verdict.NeedsAttention); err != nil {
				slog.Error("pipeline: failed to update task needs_attention", "task_id", taskID, "error", err)
			}
		}

		if !verdict.NeedsAttention && e.cfg.AutopilotEnabled && e.onAutopilot != nil && taskID != "" {
			e.onAutopilot(ctx, taskID, workspaceID)
		}
		return
	}
}
