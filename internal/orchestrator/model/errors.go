package model

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned by the store and queue layers.
var (
	ErrExecutionNotFound = errors.New("execution not found")
	ErrBranchNotFound    = errors.New("branch not found")
	ErrTaskBlocked       = errors.New("task is blocked by an incomplete dependency")
)

// WorkspaceAlreadyRunning is returned when the Workspace Guard refuses a
// second concurrent non-dev-server execution on the same workspace.
type WorkspaceAlreadyRunning struct {
	WorkspaceID string
}

func (e *WorkspaceAlreadyRunning) Error() string {
	return fmt.Sprintf("workspace already running: %s", e.WorkspaceID)
}

// ExecutionTimeout is returned when a spawn or wait-for-completion call
// exceeds its configured bound.
type ExecutionTimeout struct {
	Duration time.Duration
}

func (e *ExecutionTimeout) Error() string {
	return fmt.Sprintf("execution timed out after %s", e.Duration)
}

// ExecutionFailed is returned when wait-for-completion observed a
// terminal Failed/Killed status.
type ExecutionFailed struct {
	Status ExecutionStatus
}

func (e *ExecutionFailed) Error() string {
	return fmt.Sprintf("execution failed with status %s", e.Status)
}

// MergeOp names the git operation a MergeConflicts error occurred during.
type MergeOp string

const (
	OpMerge      MergeOp = "merge"
	OpRebase     MergeOp = "rebase"
	OpCherryPick MergeOp = "cherry_pick"
	OpRevert     MergeOp = "revert"
)

// MergeConflicts is raised by the Git Snapshot when a squash-merge (or
// other listed op) cannot complete cleanly.
type MergeConflicts struct {
	Op              MergeOp
	Message         string
	ConflictedFiles []string
	TotalConflicts  int
}

func (e *MergeConflicts) Error() string {
	return fmt.Sprintf("%s conflicts (%d files, showing %d): %s", e.Op, e.TotalConflicts, len(e.ConflictedFiles), e.Message)
}

// MaxConflictFilesListed caps the conflicted-file list carried by
// MergeConflicts.
const MaxConflictFilesListed = 10

// RebaseInProgress is returned when Git metadata shows an unfinished
// rebase and the caller asked for a mutating operation.
type RebaseInProgress struct{}

func (e *RebaseInProgress) Error() string { return "rebase in progress" }

// BranchesDiverged is returned when a merge is refused because the base
// branch has advanced beyond the task branch.
type BranchesDiverged struct {
	Message string
}

func (e *BranchesDiverged) Error() string { return "branches diverged: " + e.Message }

// WorktreeDirty is returned when a merge/rebase is refused due to
// uncommitted changes in the worktree.
type WorktreeDirty struct {
	Branch string
	Files  []string
}

func (e *WorktreeDirty) Error() string {
	return fmt.Sprintf("worktree dirty on branch %s (%d files)", e.Branch, len(e.Files))
}

// InvalidRepository is returned for a repo that cannot be used as a Git
// snapshot source (missing .git, unreadable, etc).
type InvalidRepository struct {
	Message string
}

func (e *InvalidRepository) Error() string { return "invalid repository: " + e.Message }
