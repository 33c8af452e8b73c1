package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/outerlook/orchestratorcore/internal/orchestrator/model"
)

// ScratchRepo persists ephemeral drafts keyed by (session, type), e.g. a
// follow-up message typed while its execution is still running.
type ScratchRepo struct {
	db *sql.DB
}

func (r *ScratchRepo) Upsert(ctx context.Context, s model.Scratch) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scratch (session_id, type, payload) VALUES (?,?,?)
		ON CONFLICT (session_id, type) DO UPDATE SET payload = excluded.payload`,
		s.SessionID, s.Type, s.Payload)
	return err
}

func (r *ScratchRepo) Get(ctx context.Context, sessionID string, typ model.ScratchType) (*model.Scratch, error) {
	row := r.db.QueryRowContext(ctx, `SELECT session_id, type, payload FROM scratch WHERE session_id = ? AND type = ?`, sessionID, typ)
	var s model.Scratch
	err := row.Scan(&s.SessionID, &s.Type, &s.Payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *ScratchRepo) Delete(ctx context.Context, sessionID string, typ model.ScratchType) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM scratch WHERE session_id = ? AND type = ?`, sessionID, typ)
	return err
}
