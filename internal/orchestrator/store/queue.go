package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/outerlook/orchestratorcore/internal/orchestrator/model"
)

// QueueRepo persists the execution_queue FIFO: deferred workspace starts
// and deferred follow-up messages.
type QueueRepo struct {
	db *sql.DB
}

func (r *QueueRepo) Enqueue(ctx context.Context, q *model.ExecutionQueue) error {
	var actionJSON sql.NullString
	if q.Action != nil {
		data, err := q.Action.MarshalTree()
		if err != nil {
			return err
		}
		actionJSON = sql.NullString{String: string(data), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO execution_queue (id, workspace_id, executor_profile_id, session_id, executor_action, created_at)
		VALUES (?,?,?,?,?,?)`,
		q.ID, q.WorkspaceID, nullable(q.ExecutorProfileID), nullable(q.SessionID), actionJSON, q.CreatedAt)
	return err
}

// PopOldest removes and returns the oldest queue entry, or nil if the
// queue is empty. Matches process_queue's FIFO pop.
func (r *QueueRepo) PopOldest(ctx context.Context) (*model.ExecutionQueue, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, workspace_id, executor_profile_id, session_id, executor_action, created_at
		FROM execution_queue ORDER BY created_at ASC, id ASC LIMIT 1`)

	q, err := scanQueueEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM execution_queue WHERE id = ?`, q.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return q, nil
}

func scanQueueEntry(row *sql.Row) (*model.ExecutionQueue, error) {
	var q model.ExecutionQueue
	var profileID, sessionID, actionJSON sql.NullString
	if err := row.Scan(&q.ID, &q.WorkspaceID, &profileID, &sessionID, &actionJSON, &q.CreatedAt); err != nil {
		return nil, err
	}
	q.ExecutorProfileID = profileID.String
	q.SessionID = sessionID.String
	if actionJSON.Valid {
		action, err := model.UnmarshalTree([]byte(actionJSON.String))
		if err != nil {
			return nil, err
		}
		q.Action = action
	}
	return &q, nil
}

// PopForSession atomically takes and deletes the oldest follow-up queue
// entry for a session (executor_action set, session_id matching), or
// nil if none is queued. Used by the Pipeline Engine's queued-follow-up
// promotion at reap time.
func (r *QueueRepo) PopForSession(ctx context.Context, sessionID string) (*model.ExecutionQueue, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, workspace_id, executor_profile_id, session_id, executor_action, created_at
		FROM execution_queue
		WHERE session_id = ? AND executor_action IS NOT NULL
		ORDER BY created_at ASC, id ASC LIMIT 1`, sessionID)

	q, err := scanQueueEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM execution_queue WHERE id = ?`, q.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return q, nil
}

func (r *QueueRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM execution_queue`).Scan(&count)
	return count, err
}

func (r *QueueRepo) ForWorkspace(ctx context.Context, workspaceID string) ([]*model.ExecutionQueue, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, workspace_id, executor_profile_id, session_id, executor_action, created_at
		FROM execution_queue WHERE workspace_id = ? ORDER BY created_at ASC`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.ExecutionQueue
	for rows.Next() {
		var q model.ExecutionQueue
		var profileID, sessionID, actionJSON sql.NullString
		if err := rows.Scan(&q.ID, &q.WorkspaceID, &profileID, &sessionID, &actionJSON, &q.CreatedAt); err != nil {
			return nil, err
		}
		q.ExecutorProfileID = profileID.String
		q.SessionID = sessionID.String
		if actionJSON.Valid {
			action, err := model.UnmarshalTree([]byte(actionJSON.String))
			if err != nil {
				return nil, err
			}
			q.Action = action
		}
		out = append(out, &q)
	}
	return out, rows.Err()
}
