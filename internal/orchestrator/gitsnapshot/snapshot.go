// Package gitsnapshot captures per-execution Git HEAD state and
// performs commit-on-completion and squash-merge.
package gitsnapshot

import (
	"context"
	"fmt"
	"runtime"

	"github.com/outerlook/orchestratorcore/internal/orchestrator/model"
)

// RepoLocator resolves a repo id to the on-disk directory a given
// workspace checked it out into, and to the base worktree directory (if
// one exists and has that branch checked out) used for merge.
type RepoLocator interface {
	WorkspaceRepoDir(workspaceID, repoID string) (string, error)
	BaseWorktreeDir(repoID, baseBranch string) (dir string, exists bool, err error)
}

// Snapshot is the Git Snapshot component.
type Snapshot struct {
	cli     GitCLI
	locator RepoLocator
	pool    chan struct{} // bounded blocking pool for concurrent git calls
}

// New constructs a Snapshot. poolSize bounds concurrent blocking Git
// calls; 0 defaults to runtime.NumCPU()*2.
func New(cli GitCLI, locator RepoLocator, poolSize int) *Snapshot {
	if poolSize <= 0 {
		poolSize = runtime.NumCPU() * 2
	}
	return &Snapshot{cli: cli, locator: locator, pool: make(chan struct{}, poolSize)}
}

func (s *Snapshot) acquire() func() {
	s.pool <- struct{}{}
	return func() { <-s.pool }
}

// CaptureHead reads HEAD for every (workspace, repo) pair and returns
// the repo-state rows to persist alongside a new ExecutionProcess.
func (s *Snapshot) CaptureHead(ctx context.Context, workspaceID string, repos []model.WorkspaceRepo) ([]model.ExecutionProcessRepoState, error) {
	states := make([]model.ExecutionProcessRepoState, len(repos))
	type result struct {
		idx  int
		head string
		err  error
	}
	results := make(chan result, len(repos))
	for i, repo := range repos {
		go func(i int, repo model.WorkspaceRepo) {
			release := s.acquire()
			defer release()
			dir, err := s.locator.WorkspaceRepoDir(workspaceID, repo.RepoID)
			if err != nil {
				results <- result{i, "", err}
				return
			}
			head, err := s.cli.Head(ctx, dir)
			results <- result{i, head, err}
		}(i, repo)
	}
	for range repos {
		r := <-results
		if r.err != nil {
			return nil, fmt.Errorf("capture head for repo %s: %w", repos[r.idx].RepoID, r.err)
		}
		head := r.head
		states[r.idx] = model.ExecutionProcessRepoState{RepoID: repos[r.idx].RepoID, BeforeHeadCommit: &head}
	}
	return states, nil
}

// CaptureAfterHead reads HEAD again for every repo on reap; failures
// are best-effort and do not abort the caller.
func (s *Snapshot) CaptureAfterHead(ctx context.Context, workspaceID string, states []model.ExecutionProcessRepoState) {
	for i := range states {
		dir, err := s.locator.WorkspaceRepoDir(workspaceID, states[i].RepoID)
		if err != nil {
			continue
		}
		head, err := s.cli.Head(ctx, dir)
		if err != nil {
			continue
		}
		states[i].AfterHeadCommit = &head
	}
}

// CommitOnCompletion stages and commits any uncommitted changes in every
// repo of the workspace, after a CodingAgent or CleanupScript execution
// succeeds. It returns whether any repo actually got a new
// commit. A repo reported inaccessible aborts the whole pass (pre-flight
// failure); a commit failure on one repo is logged by the caller and does
// not abort the others.
func (s *Snapshot) CommitOnCompletion(ctx context.Context, workspaceID string, repos []model.WorkspaceRepo, message string, onRepoCommitError func(repoID string, err error)) (bool, error) {
	dirs := make(map[string]string, len(repos))
	for _, r := range repos {
		dir, err := s.locator.WorkspaceRepoDir(workspaceID, r.RepoID)
		if err != nil {
			return false, fmt.Errorf("pre-flight: repo %s inaccessible: %w", r.RepoID, err)
		}
		dirs[r.RepoID] = dir
	}

	anyCommitted := false
	for _, r := range repos {
		dir := dirs[r.RepoID]
		dirty, err := s.cli.Dirty(ctx, dir)
		if err != nil {
			if onRepoCommitError != nil {
				onRepoCommitError(r.RepoID, err)
			}
			continue
		}
		if !dirty {
			continue
		}
		if _, err := s.cli.StageAllAndCommit(ctx, dir, message); err != nil {
			if onRepoCommitError != nil {
				onRepoCommitError(r.RepoID, err)
			}
			continue
		}
		anyCommitted = true
	}
	return anyCommitted, nil
}

// CommitMessage picks (1) the turn summary, (2) a default, matching
// preference order.
func CommitMessage(turnSummary string) string {
	if turnSummary != "" {
		return turnSummary
	}
	return "Changes from coding agent execution"
}

// MergeResult is returned by SquashMerge on success.
type MergeResult struct {
	CommitOID string
}

// SquashMerge implements the merge algorithm: it refuses if the task
// branch is behind the base, then either drives the CLI against a
// checked-out base worktree (updating the task branch ref afterward so
// follow-up work continues from the merged state) or, if the base is
// not checked out anywhere, squash-merges entirely against the object
// database via MergeTreeSquash, touching neither worktree, and
// force-updates both refs to the resulting commit.
func (s *Snapshot) SquashMerge(ctx context.Context, repoID, taskWorktreeDir, taskBranch, baseBranch, message string) (*MergeResult, error) {
	ahead, behind, err := s.cli.AheadBehind(ctx, taskWorktreeDir, baseBranch, taskBranch)
	if err != nil {
		return nil, fmt.Errorf("compute ahead/behind: %w", err)
	}
	_ = ahead
	if behind > 0 {
		return nil, &model.BranchesDiverged{Message: fmt.Sprintf("base is ahead of task by %d commits", behind)}
	}

	baseDir, exists, err := s.locator.BaseWorktreeDir(repoID, baseBranch)
	if err != nil {
		return nil, fmt.Errorf("locate base worktree: %w", err)
	}

	if exists {
		return s.squashMergeCheckedOut(ctx, baseDir, taskWorktreeDir, taskBranch, baseBranch, message)
	}
	return s.squashMergeInMemory(ctx, taskWorktreeDir, taskBranch, baseBranch, message)
}

// squashMergeCheckedOut drives `git merge --squash` against a checked-out
// base worktree and updates the task branch ref to the resulting commit.
func (s *Snapshot) squashMergeCheckedOut(ctx context.Context, baseDir, taskWorktreeDir, taskBranch, baseBranch, message string) (*MergeResult, error) {
	dirty, err := s.cli.Dirty(ctx, baseDir)
	if err != nil {
		return nil, err
	}
	if dirty {
		return nil, &model.WorktreeDirty{Branch: baseBranch}
	}
	if inProgress, err := s.cli.RebaseInProgress(ctx, baseDir); err != nil {
		return nil, err
	} else if inProgress {
		return nil, &model.RebaseInProgress{}
	}

	commit, err := s.cli.SquashMerge(ctx, baseDir, taskBranch, message)
	if err != nil {
		conflicted, cerr := s.cli.ConflictedFiles(ctx, baseDir)
		if cerr == nil && len(conflicted) > 0 {
			total := len(conflicted)
			if total > model.MaxConflictFilesListed {
				conflicted = conflicted[:model.MaxConflictFilesListed]
			}
			return nil, &model.MergeConflicts{Op: model.OpMerge, Message: err.Error(), ConflictedFiles: conflicted, TotalConflicts: total}
		}
		return nil, err
	}

	if err := s.cli.UpdateRef(ctx, taskWorktreeDir, "refs/heads/"+taskBranch, commit); err != nil {
		return nil, fmt.Errorf("update task branch ref: %w", err)
	}
	return &MergeResult{CommitOID: commit}, nil
}

// squashMergeInMemory squash-merges taskBranch into baseBranch against
// the object database alone, for when no worktree has baseBranch
// checked out to merge against directly.
func (s *Snapshot) squashMergeInMemory(ctx context.Context, taskWorktreeDir, taskBranch, baseBranch, message string) (*MergeResult, error) {
	dirty, err := s.cli.Dirty(ctx, taskWorktreeDir)
	if err != nil {
		return nil, err
	}
	if dirty {
		return nil, &model.WorktreeDirty{Branch: taskBranch}
	}
	if inProgress, err := s.cli.RebaseInProgress(ctx, taskWorktreeDir); err != nil {
		return nil, err
	} else if inProgress {
		return nil, &model.RebaseInProgress{}
	}

	commit, conflicted, err := s.cli.MergeTreeSquash(ctx, taskWorktreeDir, baseBranch, taskBranch, message)
	if err != nil {
		return nil, err
	}
	if len(conflicted) > 0 {
		total := len(conflicted)
		if total > model.MaxConflictFilesListed {
			conflicted = conflicted[:model.MaxConflictFilesListed]
		}
		return nil, &model.MergeConflicts{Op: model.OpMerge, Message: "merge-tree reported conflicts", ConflictedFiles: conflicted, TotalConflicts: total}
	}

	if err := s.cli.UpdateRef(ctx, taskWorktreeDir, "refs/heads/"+baseBranch, commit); err != nil {
		return nil, fmt.Errorf("update base branch ref: %w", err)
	}
	if err := s.cli.UpdateRef(ctx, taskWorktreeDir, "refs/heads/"+taskBranch, commit); err != nil {
		return nil, fmt.Errorf("update task branch ref: %w", err)
	}
	return &MergeResult{CommitOID: commit}, nil
}

// BackfillBeforeHead fills in a missing before_head_commit from the
// previous execution's after_head_commit for the same (workspace, repo),
// or from the repo's base-branch tip if there is no previous execution.
func BackfillBeforeHead(previousAfter *string, baseBranchTip string) string {
	if previousAfter != nil && *previousAfter != "" {
		return *previousAfter
	}
	return baseBranchTip
}
