package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/outerlook/orchestratorcore/internal/orchestrator/model"
)

// SessionRepo persists Session rows.
type SessionRepo struct {
	db *sql.DB
}

func (r *SessionRepo) Create(ctx context.Context, s *model.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, workspace_id, executor, created_at) VALUES (?,?,?,?)`,
		s.ID, s.WorkspaceID, nullable(s.Executor), s.CreatedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (r *SessionRepo) Get(ctx context.Context, id string) (*model.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, workspace_id, executor, created_at FROM sessions WHERE id = ?`, id)

	var s model.Session
	var executor sql.NullString
	err := row.Scan(&s.ID, &s.WorkspaceID, &executor, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Executor = executor.String
	return &s, nil
}
