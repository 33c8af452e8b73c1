package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/outerlook/orchestratorcore/internal/orchestrator/model"
)

// MergeQueueRepo persists merge_queue rows: repo-scoped squash-merges
// awaiting a project's single-flight autopilot processor.
type MergeQueueRepo struct {
	db *sql.DB
}

func (r *MergeQueueRepo) Enqueue(ctx context.Context, m *model.MergeQueueEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO merge_queue (id, project_id, workspace_id, repo_id, commit_message, created_at)
		VALUES (?,?,?,?,?,?)`,
		m.ID, m.ProjectID, m.WorkspaceID, m.RepoID, m.CommitMessage, m.CreatedAt)
	return err
}

// PopOldestForProject removes and returns the oldest merge_queue row for
// a project, or nil if that project's queue is empty.
func (r *MergeQueueRepo) PopOldestForProject(ctx context.Context, projectID string) (*model.MergeQueueEntry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, project_id, workspace_id, repo_id, commit_message, created_at
		FROM merge_queue WHERE project_id = ? ORDER BY created_at ASC, id ASC LIMIT 1`, projectID)

	var m model.MergeQueueEntry
	err = row.Scan(&m.ID, &m.ProjectID, &m.WorkspaceID, &m.RepoID, &m.CommitMessage, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM merge_queue WHERE id = ?`, m.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MergeQueueRepo) CountForProject(ctx context.Context, projectID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM merge_queue WHERE project_id = ?`, projectID).Scan(&count)
	return count, err
}
