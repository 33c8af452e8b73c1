package store

import (
	"context"
	"database/sql"

	"github.com/outerlook/orchestratorcore/internal/orchestrator/model"
)

// FeedbackRepo persists AgentFeedback rows (structured feedback parsed
// from an internal agent's final assistant message).
type FeedbackRepo struct {
	db *sql.DB
}

func (r *FeedbackRepo) Create(ctx context.Context, f *model.AgentFeedback) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO agent_feedback (id, execution_process_id, task_id, workspace_id, feedback_json, created_at)
		VALUES (?,?,?,?,?,?)`,
		f.ID, f.ExecutionProcessID, f.TaskID, f.WorkspaceID, f.FeedbackJSON, f.CreatedAt)
	return err
}

func (r *FeedbackRepo) ByTask(ctx context.Context, taskID string) ([]*model.AgentFeedback, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, execution_process_id, task_id, workspace_id, feedback_json, created_at
		FROM agent_feedback WHERE task_id = ? ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.AgentFeedback
	for rows.Next() {
		var f model.AgentFeedback
		if err := rows.Scan(&f.ID, &f.ExecutionProcessID, &f.TaskID, &f.WorkspaceID, &f.FeedbackJSON, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

// ReviewRepo persists ReviewAttention rows.
type ReviewRepo struct {
	db *sql.DB
}

func (r *ReviewRepo) Create(ctx context.Context, a *model.ReviewAttention) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO review_attention (id, execution_process_id, task_id, workspace_id, needs_attention, reasoning)
		VALUES (?,?,?,?,?,?)`,
		a.ID, a.ExecutionProcessID, a.TaskID, a.WorkspaceID, a.NeedsAttention, nullable(a.Reasoning))
	return err
}

func (r *ReviewRepo) LatestForTask(ctx context.Context, taskID string) (*model.ReviewAttention, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, execution_process_id, task_id, workspace_id, needs_attention, reasoning
		FROM review_attention WHERE task_id = ? ORDER BY rowid DESC LIMIT 1`, taskID)

	var a model.ReviewAttention
	var reasoning sql.NullString
	err := row.Scan(&a.ID, &a.ExecutionProcessID, &a.TaskID, &a.WorkspaceID, &a.NeedsAttention, &reasoning)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Reasoning = reasoning.String
	return &a, nil
}
