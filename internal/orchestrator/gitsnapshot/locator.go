package gitsnapshot

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/outerlook/orchestratorcore/internal/orchestrator/store"
)

// FSLocator resolves workspace/repo directories against the on-disk
// layout: each workspace contains one worktree sub-directory per repo,
// rooted at workspace.container_ref. Base worktrees (kept checked out
// on their base branch so an ahead-only squash-merge never has to
// touch the task's own worktree) live in a separate, config-rooted
// pool keyed by repo id.
type FSLocator struct {
	store       *store.Store
	baseRootDir string // root directory holding one base worktree per repo id
}

func NewFSLocator(st *store.Store, baseRootDir string) *FSLocator {
	return &FSLocator{store: st, baseRootDir: baseRootDir}
}

func (l *FSLocator) WorkspaceRepoDir(workspaceID, repoID string) (string, error) {
	ws, err := l.store.Workspaces.Get(context.Background(), workspaceID)
	if err != nil {
		return "", fmt.Errorf("gitsnapshot: load workspace %s: %w", workspaceID, err)
	}
	if ws == nil || ws.ContainerRef == "" {
		return "", fmt.Errorf("gitsnapshot: workspace %s has no container_ref", workspaceID)
	}
	return filepath.Join(ws.ContainerRef, repoID), nil
}

// BaseWorktreeDir reports the pooled base worktree for repoID, if the
// pool has one materialized. The pool's population (cloning/creating a
// worktree for a repo the first time it's merged) is left to an
// external interface, the same way container creation is; absence is
// not an error, it just routes Snapshot.SquashMerge to its in-memory
// merge path.
func (l *FSLocator) BaseWorktreeDir(repoID, baseBranch string) (string, bool, error) {
	if l.baseRootDir == "" {
		return "", false, nil
	}
	dir := filepath.Join(l.baseRootDir, repoID)
	exists := pathExists(dir)
	return dir, exists, nil
}
