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

const feedbackPollInterval = 500 * time.Millisecond

// feedbackPollTimeout bounds how long the parser waits for the internal
// agent's final assistant message before giving up on one feedback pass.
const feedbackPollTimeout = 2 * time.Minute

// scheduleFeedback runs an InternalAgent follow-up asking the coding agent
// to summarize what it did, parses the resulting assistant message as
// JSON, and persists one AgentFeedback row. The parse runs in a background goroutine polling the
// execution's message store every feedbackPollInterval, matching the
// polling idiom used elsewhere in this codebase for short-lived
// best-effort background checks.
func (e *Engine) scheduleFeedback(ctx context.Context, execRow *model.ExecutionProcess, ec *execContext) {
	profileID := ""
	if execRow.Action != nil {
		profileID = execRow.Action.ExecutorProfileID
	}

	action := &model.ExecutorAction{
		Type:              model.ActionCodingAgentFollowUpRequest,
		Prompt:            feedbackPrompt,
		ExecutorProfileID: profileID,
		AgentSessionID:    execRow.Action.AgentSessionID,
	}

	taskID := ""
	if ec.task != nil {
		taskID = ec.task.ID
	}

	feedbackExec, err := e.supervisor.StartExecution(ctx, supervisor.StartParams{
		Workspace: ec.workspace,
		Repos:     ec.repos,
		TaskID:    taskID,
		Action:    action,
		RunReason: model.RunInternalAgent,
		SessionID: execRow.SessionID,
		Prompt:    action.Prompt,
		ProfileID: profileID,
	})
	if err != nil {
		slog.Error("pipeline: failed to start feedback internal agent", "execution_id", execRow.ID, "error", err)
		return
	}

	e.supervisor.MarkFeedbackPendingCleanup(feedbackExec.ID)
	go e.pollFeedback(feedbackExec.ID, taskID, ec.workspace.ID)
}

func (e *Engine) pollFeedback(execID, taskID, workspaceID string) {
	defer e.supervisor.EvictAfterFeedback(execID)

	deadline := time.Now().Add(feedbackPollTimeout)
	ticker := time.NewTicker(feedbackPollInterval)
	defer ticker.Stop()

	for range ticker.C {
		if time.Now().After(deadline) {
			slog.Warn("pipeline: feedback parser timed out waiting for assistant message", "execution_id", execID)
			return
		}
		text := e.supervisor.LastAssistantText(execID)
		if text == "" {
			continue
		}
		if !json.Valid([]byte(text)) {
			continue
		}
		feedback := &model.AgentFeedback{
			ID:                  uuid.NewString(),
			ExecutionProcessID: execID,
			TaskID:              taskID,
			WorkspaceID:         workspaceID,
			FeedbackJSON:        text,
			CreatedAt:           time.Now(),
		}
		if err := e.store.Feedback.Create(context.Background(), feedback); err != nil {
			slog.Error("pipeline: failed to persist agent feedback", "execution_id", execID, "error", err)
		}
		return
	}
}

const feedbackPrompt = `Summarize, as a single JSON object, what you changed and why. ` +
	`Respond with JSON only, no surrounding prose.`
