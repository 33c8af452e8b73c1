package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/outerlook/orchestratorcore/internal/orchestrator/model"
)

// ExecutionRepo persists ExecutionProcess rows and their repo-state and
// log side-tables.
type ExecutionRepo struct {
	db *sql.DB
}

func (r *ExecutionRepo) Create(ctx context.Context, e *model.ExecutionProcess) error {
	actionJSON, err := e.Action.MarshalTree()
	if err != nil {
		return fmt.Errorf("marshal executor action: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO execution_processes (id, session_id, conversation_session_id, executor_action,
			run_reason, status, exit_code, input_tokens, output_tokens, dropped, created_at, completed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, nullable(e.SessionID), nullable(e.ConversationSessionID), string(actionJSON),
		e.RunReason, e.Status, nullInt(e.ExitCode), nullInt(e.InputTokens), nullInt(e.OutputTokens),
		e.Dropped, e.CreatedAt, nullTime(e.CompletedAt))
	if err != nil {
		return fmt.Errorf("create execution process: %w", err)
	}
	return nil
}

func (r *ExecutionRepo) Get(ctx context.Context, id string) (*model.ExecutionProcess, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, session_id, conversation_session_id, executor_action, run_reason, status,
			exit_code, input_tokens, output_tokens, dropped, created_at, completed_at
		FROM execution_processes WHERE id = ?`, id)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrExecutionNotFound
	}
	return e, err
}

func scanExecution(row *sql.Row) (*model.ExecutionProcess, error) {
	var e model.ExecutionProcess
	var sessionID, convSessionID sql.NullString
	var actionJSON string
	var exitCode, inputTokens, outputTokens sql.NullInt64
	var completedAt sql.NullTime

	if err := row.Scan(&e.ID, &sessionID, &convSessionID, &actionJSON, &e.RunReason, &e.Status,
		&exitCode, &inputTokens, &outputTokens, &e.Dropped, &e.CreatedAt, &completedAt); err != nil {
		return nil, err
	}

	action, err := model.UnmarshalTree([]byte(actionJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal executor action: %w", err)
	}
	e.Action = action
	e.SessionID = sessionID.String
	e.ConversationSessionID = convSessionID.String
	e.ExitCode = nullIntPtr(exitCode)
	e.InputTokens = nullIntPtr(inputTokens)
	e.OutputTokens = nullIntPtr(outputTokens)
	e.CompletedAt = nullTimePtr(completedAt)
	return &e, nil
}

// Complete transitions an execution to a terminal status, recording exit
// code and token counts observed at reap time.
func (r *ExecutionRepo) Complete(ctx context.Context, id string, status model.ExecutionStatus, exitCode *int, inputTokens, outputTokens *int, completedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE execution_processes
		SET status = ?, exit_code = ?, input_tokens = ?, output_tokens = ?, completed_at = ?
		WHERE id = ?`,
		status, nullInt(exitCode), nullInt(inputTokens), nullInt(outputTokens), completedAt, id)
	return err
}

func (r *ExecutionRepo) MarkDropped(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE execution_processes SET dropped = 1 WHERE id = ?`, id)
	return err
}

// CountRunningCodingAgents implements should_queue_execution's row count.
func (r *ExecutionRepo) CountRunningCodingAgents(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM execution_processes WHERE status = ? AND run_reason = ?`,
		model.ExecRunning, model.RunCodingAgent).Scan(&count)
	return count, err
}

// RunningForSession lists running executions belonging to a session.
func (r *ExecutionRepo) RunningForSession(ctx context.Context, sessionID string) ([]*model.ExecutionProcess, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, conversation_session_id, executor_action, run_reason, status,
			exit_code, input_tokens, output_tokens, dropped, created_at, completed_at
		FROM execution_processes WHERE session_id = ? AND status = ?`, sessionID, model.ExecRunning)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanExecutionRows(rows)
}

// LatestCodingAgentForSession returns the most recently created CodingAgent
// execution on a session, or nil. Used to inherit the executor profile
// when promoting a queued follow-up.
func (r *ExecutionRepo) LatestCodingAgentForSession(ctx context.Context, sessionID string) (*model.ExecutionProcess, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, session_id, conversation_session_id, executor_action, run_reason, status,
			exit_code, input_tokens, output_tokens, dropped, created_at, completed_at
		FROM execution_processes
		WHERE session_id = ? AND run_reason = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, sessionID, model.RunCodingAgent)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// AllRunning lists every running execution, used by kill_all_running_processes
// at startup.
func (r *ExecutionRepo) AllRunning(ctx context.Context) ([]*model.ExecutionProcess, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, conversation_session_id, executor_action, run_reason, status,
			exit_code, input_tokens, output_tokens, dropped, created_at, completed_at
		FROM execution_processes WHERE status = ?`, model.ExecRunning)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanExecutionRows(rows)
}

func scanExecutionRows(rows *sql.Rows) ([]*model.ExecutionProcess, error) {
	var out []*model.ExecutionProcess
	for rows.Next() {
		var e model.ExecutionProcess
		var sessionID, convSessionID sql.NullString
		var actionJSON string
		var exitCode, inputTokens, outputTokens sql.NullInt64
		var completedAt sql.NullTime

		if err := rows.Scan(&e.ID, &sessionID, &convSessionID, &actionJSON, &e.RunReason, &e.Status,
			&exitCode, &inputTokens, &outputTokens, &e.Dropped, &e.CreatedAt, &completedAt); err != nil {
			return nil, err
		}
		action, err := model.UnmarshalTree([]byte(actionJSON))
		if err != nil {
			return nil, fmt.Errorf("unmarshal executor action: %w", err)
		}
		e.Action = action
		e.SessionID = sessionID.String
		e.ConversationSessionID = convSessionID.String
		e.ExitCode = nullIntPtr(exitCode)
		e.InputTokens = nullIntPtr(inputTokens)
		e.OutputTokens = nullIntPtr(outputTokens)
		e.CompletedAt = nullTimePtr(completedAt)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// UpsertRepoState records before/after HEAD commits for (execution, repo).
func (r *ExecutionRepo) UpsertRepoState(ctx context.Context, s model.ExecutionProcessRepoState) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO execution_process_repo_states (execution_id, repo_id, before_head_commit, after_head_commit, merge_commit)
		VALUES (?,?,?,?,?)
		ON CONFLICT (execution_id, repo_id) DO UPDATE SET
			before_head_commit = excluded.before_head_commit,
			after_head_commit = excluded.after_head_commit,
			merge_commit = excluded.merge_commit`,
		s.ExecutionID, s.RepoID, nullStr(s.BeforeHeadCommit), nullStr(s.AfterHeadCommit), nullStr(s.MergeCommit))
	return err
}

func (r *ExecutionRepo) RepoStates(ctx context.Context, executionID string) ([]model.ExecutionProcessRepoState, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT execution_id, repo_id, before_head_commit, after_head_commit, merge_commit
		FROM execution_process_repo_states WHERE execution_id = ?`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ExecutionProcessRepoState
	for rows.Next() {
		var s model.ExecutionProcessRepoState
		var before, after, merge sql.NullString
		if err := rows.Scan(&s.ExecutionID, &s.RepoID, &before, &after, &merge); err != nil {
			return nil, err
		}
		s.BeforeHeadCommit = nullStrPtr(before)
		s.AfterHeadCommit = nullStrPtr(after)
		s.MergeCommit = nullStrPtr(merge)
		out = append(out, s)
	}
	return out, rows.Err()
}

// AppendLog appends chunk to the execution's raw log, matching the
// msgstore's own append-only semantics so history
// survives process restarts.
func (r *ExecutionRepo) AppendLog(ctx context.Context, executionID string, chunk []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO execution_process_logs (execution_id, content) VALUES (?, ?)
		ON CONFLICT (execution_id) DO UPDATE SET content = content || excluded.content`,
		executionID, string(chunk))
	return err
}

func (r *ExecutionRepo) Log(ctx context.Context, executionID string) (string, error) {
	var content string
	err := r.db.QueryRowContext(ctx, `SELECT content FROM execution_process_logs WHERE execution_id = ?`, executionID).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return content, err
}

// SaveNormalizedEntry persists one normalized conversation entry at a
// stable index, mirroring the JsonPatch paths msgstore serves live.
func (r *ExecutionRepo) SaveNormalizedEntry(ctx context.Context, executionID string, index int, content string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO execution_process_normalized_entries (execution_id, idx, content) VALUES (?,?,?)
		ON CONFLICT (execution_id, idx) DO UPDATE SET content = excluded.content`,
		executionID, index, content)
	return err
}

func (r *ExecutionRepo) NormalizedEntries(ctx context.Context, executionID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT content FROM execution_process_normalized_entries WHERE execution_id = ? ORDER BY idx ASC`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, err
		}
		out = append(out, content)
	}
	return out, rows.Err()
}
