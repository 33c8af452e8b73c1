package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/outerlook/orchestratorcore/internal/orchestrator/model"
)

// WorkspaceRepo persists Workspace and WorkspaceRepo rows.
type WorkspaceRepo struct {
	db *sql.DB
}

func (r *WorkspaceRepo) Create(ctx context.Context, w *model.Workspace) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workspaces (id, task_id, branch, container_ref, agent_working_dir, created_at)
		VALUES (?,?,?,?,?,?)`,
		w.ID, w.TaskID, w.Branch, nullable(w.ContainerRef), nullable(w.AgentWorkingDir), w.CreatedAt)
	if err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	return nil
}

func (r *WorkspaceRepo) Get(ctx context.Context, id string) (*model.Workspace, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, task_id, branch, container_ref, agent_working_dir, created_at
		FROM workspaces WHERE id = ?`, id)

	var w model.Workspace
	var containerRef, workingDir sql.NullString
	err := row.Scan(&w.ID, &w.TaskID, &w.Branch, &containerRef, &workingDir, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	w.ContainerRef = containerRef.String
	w.AgentWorkingDir = workingDir.String
	return &w, nil
}

func (r *WorkspaceRepo) SetContainerRef(ctx context.Context, id, ref string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE workspaces SET container_ref = ? WHERE id = ?`, ref, id)
	return err
}

func (r *WorkspaceRepo) AddRepo(ctx context.Context, wr model.WorkspaceRepo) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO workspace_repos
			(workspace_id, repo_id, target_branch, setup_script, setup_script_language,
			 parallel_setup_script, cleanup_script, cleanup_script_language)
		VALUES (?,?,?,?,?,?,?,?)`,
		wr.WorkspaceID, wr.RepoID, wr.TargetBranch, nullable(wr.SetupScript), nullable(wr.SetupScriptLanguage),
		wr.ParallelSetupScript, nullable(wr.CleanupScript), nullable(wr.CleanupScriptLanguage))
	return err
}

// ExpiredSince returns every workspace whose task reached a terminal
// status (Done or Cancelled) before cutoff — candidates for the
// workspace-cleanup sweeper.
func (r *WorkspaceRepo) ExpiredSince(ctx context.Context, cutoff time.Time) ([]model.Workspace, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT w.id, w.task_id, w.branch, w.container_ref, w.agent_working_dir, w.created_at
		FROM workspaces w
		JOIN tasks t ON t.id = w.task_id
		WHERE t.status IN (?, ?) AND t.updated_at < ?`,
		model.TaskDone, model.TaskCancelled, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Workspace
	for rows.Next() {
		var w model.Workspace
		var containerRef, workingDir sql.NullString
		if err := rows.Scan(&w.ID, &w.TaskID, &w.Branch, &containerRef, &workingDir, &w.CreatedAt); err != nil {
			return nil, err
		}
		w.ContainerRef = containerRef.String
		w.AgentWorkingDir = workingDir.String
		out = append(out, w)
	}
	return out, rows.Err()
}

// Delete removes a workspace and its workspace_repos rows (sweeper
// cleanup, after the on-disk directory has been removed).
func (r *WorkspaceRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM workspace_repos WHERE workspace_id = ?`, id); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id = ?`, id)
	return err
}

func (r *WorkspaceRepo) Repos(ctx context.Context, workspaceID string) ([]model.WorkspaceRepo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT workspace_id, repo_id, target_branch, setup_script, setup_script_language,
			parallel_setup_script, cleanup_script, cleanup_script_language
		FROM workspace_repos WHERE workspace_id = ?`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.WorkspaceRepo
	for rows.Next() {
		var wr model.WorkspaceRepo
		var setupScript, setupLang, cleanupScript, cleanupLang sql.NullString
		if err := rows.Scan(&wr.WorkspaceID, &wr.RepoID, &wr.TargetBranch, &setupScript, &setupLang,
			&wr.ParallelSetupScript, &cleanupScript, &cleanupLang); err != nil {
			return nil, err
		}
		wr.SetupScript = setupScript.String
		wr.SetupScriptLanguage = setupLang.String
		wr.CleanupScript = cleanupScript.String
		wr.CleanupScriptLanguage = cleanupLang.String
		out = append(out, wr)
	}
	return out, rows.Err()
}
