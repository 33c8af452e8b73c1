package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/outerlook/orchestratorcore/internal/orchestrator/model"
)

// TaskRepo persists Task and TaskDependency rows.
type TaskRepo struct {
	db *sql.DB
}

func (r *TaskRepo) Create(ctx context.Context, t *model.Task) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tasks (id, project_id, title, description, status, parent_workspace_id,
			task_group_id, shared_task_id, needs_attention, is_blocked, is_queued, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.Title, t.Description, t.Status, nullable(t.ParentWorkspaceID),
		nullable(t.TaskGroupID), nullable(t.SharedTaskID), t.NeedsAttention, t.IsBlocked, t.IsQueued,
		t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (r *TaskRepo) Get(ctx context.Context, id string) (*model.Task, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, project_id, title, description, status, parent_workspace_id, task_group_id,
			shared_task_id, needs_attention, is_blocked, is_queued, created_at, updated_at
		FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func scanTask(row *sql.Row) (*model.Task, error) {
	var t model.Task
	var desc, parentWS, group, shared sql.NullString
	if err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &desc, &t.Status, &parentWS, &group, &shared,
		&t.NeedsAttention, &t.IsBlocked, &t.IsQueued, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Description = desc.String
	t.ParentWorkspaceID = parentWS.String
	t.TaskGroupID = group.String
	t.SharedTaskID = shared.String
	return &t, nil
}

func (r *TaskRepo) SetStatus(ctx context.Context, id string, status model.TaskStatus) error {
	_, err := r.db.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`, status, nowColumn(), id)
	return err
}

func (r *TaskRepo) SetBlocked(ctx context.Context, id string, blocked bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE tasks SET is_blocked = ?, updated_at = ? WHERE id = ?`, blocked, nowColumn(), id)
	return err
}

func (r *TaskRepo) SetQueued(ctx context.Context, id string, queued bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE tasks SET is_queued = ?, updated_at = ? WHERE id = ?`, queued, nowColumn(), id)
	return err
}

func (r *TaskRepo) SetNeedsAttention(ctx context.Context, id string, needs bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE tasks SET needs_attention = ?, updated_at = ? WHERE id = ?`, needs, nowColumn(), id)
	return err
}

// AddDependency records that taskID cannot leave IsBlocked until dependsOnID reaches Done.
func (r *TaskRepo) AddDependency(ctx context.Context, taskID, dependsOnID string) error {
	_, err := r.db.ExecContext(ctx, `INSERT OR IGNORE INTO task_dependencies (task_id, depends_on_id) VALUES (?,?)`, taskID, dependsOnID)
	return err
}

// Dependencies lists the task ids taskID is blocked on.
func (r *TaskRepo) Dependencies(ctx context.Context, taskID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT depends_on_id FROM task_dependencies WHERE task_id = ?`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Dependents lists the task ids that are blocked on dependsOnID.
func (r *TaskRepo) Dependents(ctx context.Context, dependsOnID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT task_id FROM task_dependencies WHERE depends_on_id = ?`, dependsOnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecomputeBlocked reconciles taskID's IsBlocked flag against its current
// dependencies, persisting the result.
func (r *TaskRepo) RecomputeBlocked(ctx context.Context, taskID string) error {
	unresolved, err := r.Unresolved(ctx, taskID)
	if err != nil {
		return err
	}
	return r.SetBlocked(ctx, taskID, unresolved)
}

// Unresolved reports whether any dependency of taskID has not reached Done.
func (r *TaskRepo) Unresolved(ctx context.Context, taskID string) (bool, error) {
	deps, err := r.Dependencies(ctx, taskID)
	if err != nil {
		return false, err
	}
	for _, dep := range deps {
		t, err := r.Get(ctx, dep)
		if err != nil {
			return false, err
		}
		if t == nil || t.Status != model.TaskDone {
			return true, nil
		}
	}
	return false, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
