package store

import (
	"context"
	"database/sql"

	"github.com/outerlook/orchestratorcore/internal/orchestrator/model"
)

// TurnRepo persists CodingAgentTurn rows correlating executions within a
// coding-agent conversation.
type TurnRepo struct {
	db *sql.DB
}

func (r *TurnRepo) Create(ctx context.Context, t *model.CodingAgentTurn) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO coding_agent_turns (id, execution_process_id, prompt, agent_session_id, summary)
		VALUES (?,?,?,?,?)`,
		t.ID, t.ExecutionProcessID, nullable(t.Prompt), nullable(t.AgentSessionID), nullStr(t.Summary))
	return err
}

func (r *TurnRepo) SetSummary(ctx context.Context, id, summary string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE coding_agent_turns SET summary = ? WHERE id = ?`, summary, id)
	return err
}

// SetAgentSessionID records the agent-assigned session id once the
// executor reports it, so a later follow-up can resume from it.
func (r *TurnRepo) SetAgentSessionID(ctx context.Context, id, agentSessionID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE coding_agent_turns SET agent_session_id = ? WHERE id = ?`, agentSessionID, id)
	return err
}

func (r *TurnRepo) ByExecution(ctx context.Context, executionProcessID string) (*model.CodingAgentTurn, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, execution_process_id, prompt, agent_session_id, summary
		FROM coding_agent_turns WHERE execution_process_id = ?`, executionProcessID)

	var t model.CodingAgentTurn
	var prompt, agentSessionID, summary sql.NullString
	err := row.Scan(&t.ID, &t.ExecutionProcessID, &prompt, &agentSessionID, &summary)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.Prompt = prompt.String
	t.AgentSessionID = agentSessionID.String
	t.Summary = nullStrPtr(summary)
	return &t, nil
}

// LatestForSession returns the most recent turn recorded against any
// execution on an orchestrator session (joining through
// execution_processes, since turns only carry the agent-side session id
// directly). Used to inherit agent_session_id when promoting a queued
// follow-up.
func (r *TurnRepo) LatestForSession(ctx context.Context, sessionID string) (*model.CodingAgentTurn, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT t.id, t.execution_process_id, t.prompt, t.agent_session_id, t.summary
		FROM coding_agent_turns t
		JOIN execution_processes e ON e.id = t.execution_process_id
		WHERE e.session_id = ?
		ORDER BY e.created_at DESC, e.rowid DESC LIMIT 1`, sessionID)

	var t model.CodingAgentTurn
	var prompt, agentSessionID, summary sql.NullString
	err := row.Scan(&t.ID, &t.ExecutionProcessID, &prompt, &agentSessionID, &summary)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.Prompt = prompt.String
	t.AgentSessionID = agentSessionID.String
	t.Summary = nullStrPtr(summary)
	return &t, nil
}

func (r *TurnRepo) BySession(ctx context.Context, agentSessionID string) ([]*model.CodingAgentTurn, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, execution_process_id, prompt, agent_session_id, summary
		FROM coding_agent_turns WHERE agent_session_id = ? ORDER BY rowid ASC`, agentSessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.CodingAgentTurn
	for rows.Next() {
		var t model.CodingAgentTurn
		var prompt, agentSessionID, summary sql.NullString
		if err := rows.Scan(&t.ID, &t.ExecutionProcessID, &prompt, &agentSessionID, &summary); err != nil {
			return nil, err
		}
		t.Prompt = prompt.String
		t.AgentSessionID = agentSessionID.String
		t.Summary = nullStrPtr(summary)
		out = append(out, &t)
	}
	return out, rows.Err()
}
