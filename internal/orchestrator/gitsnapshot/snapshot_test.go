package gitsnapshot

import (
	"context"
	"testing"

	"github.com/outerlook/orchestratorcore/internal/orchestrator/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCLI struct {
	heads          map[string]string
	dirty          map[string]bool
	aheadBehind    [2]int
	mergeErr       error
	conflictFiles  []string
	rebaseInProg   bool
	checkedOut     map[string]bool
	committed      map[string]bool
}

func newFakeCLI() *fakeCLI {
	return &fakeCLI{heads: map[string]string{}, dirty: map[string]bool{}, checkedOut: map[string]bool{}, committed: map[string]bool{}}
}

func (f *fakeCLI) Head(ctx context.Context, dir string) (string, error) { return f.heads[dir], nil }
func (f *fakeCLI) Dirty(ctx context.Context, dir string) (bool, error)  { return f.dirty[dir], nil }
func (f *fakeCLI) StageAllAndCommit(ctx context.Context, dir, msg string) (string, error) {
	f.committed[dir] = true
	f.dirty[dir] = false
	f.heads[dir] = f.heads[dir] + "1"
	return f.heads[dir], nil
}
func (f *fakeCLI) RebaseInProgress(ctx context.Context, dir string) (bool, error) {
	return f.rebaseInProg, nil
}
func (f *fakeCLI) AheadBehind(ctx context.Context, dir, base, task string) (int, int, error) {
	return f.aheadBehind[0], f.aheadBehind[1], nil
}
func (f *fakeCLI) SquashMerge(ctx context.Context, dir, taskBranch, msg string) (string, error) {
	if f.mergeErr != nil {
		return "", f.mergeErr
	}
	return "merged-oid", nil
}
func (f *fakeCLI) MergeTreeSquash(ctx context.Context, dir, baseBranch, taskBranch, msg string) (string, []string, error) {
	if f.mergeErr != nil {
		return "", f.conflictFiles, nil
	}
	return "merged-oid", nil, nil
}
func (f *fakeCLI) UpdateRef(ctx context.Context, dir, ref, commit string) error { return nil }
func (f *fakeCLI) ConflictedFiles(ctx context.Context, dir string) ([]string, error) {
	return f.conflictFiles, nil
}
func (f *fakeCLI) Diff(ctx context.Context, dir, from, to string) (string, error) { return "", nil }
func (f *fakeCLI) IsCheckedOutElsewhere(ctx context.Context, dir, branch string) (bool, error) {
	return f.checkedOut[branch], nil
}

type fakeLocator struct {
	repoDirs map[string]string
	baseDir  string
	baseExists bool
}

func (l *fakeLocator) WorkspaceRepoDir(workspaceID, repoID string) (string, error) {
	return l.repoDirs[repoID], nil
}
func (l *fakeLocator) BaseWorktreeDir(repoID, baseBranch string) (string, bool, error) {
	return l.baseDir, l.baseExists, nil
}

func TestCaptureHead(t *testing.T) {
	cli := newFakeCLI()
	cli.heads["/ws/repoA"] = "aaa"
	cli.heads["/ws/repoB"] = "bbb"
	locator := &fakeLocator{repoDirs: map[string]string{"repoA": "/ws/repoA", "repoB": "/ws/repoB"}}
	snap := New(cli, locator, 2)

	states, err := snap.CaptureHead(context.Background(), "ws1", []model.WorkspaceRepo{
		{RepoID: "repoA"}, {RepoID: "repoB"},
	})
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "aaa", *states[0].BeforeHeadCommit)
	assert.Equal(t, "bbb", *states[1].BeforeHeadCommit)
}

func TestCommitOnCompletionNoChangesReturnsFalse(t *testing.T) {
	cli := newFakeCLI()
	locator := &fakeLocator{repoDirs: map[string]string{"repoA": "/ws/repoA"}}
	snap := New(cli, locator, 2)

	committed, err := snap.CommitOnCompletion(context.Background(), "ws1", []model.WorkspaceRepo{{RepoID: "repoA"}}, "msg", nil)
	require.NoError(t, err)
	assert.False(t, committed)
	assert.False(t, cli.committed["/ws/repoA"])
}

func TestCommitOnCompletionCommitsDirtyRepos(t *testing.T) {
	cli := newFakeCLI()
	cli.dirty["/ws/repoA"] = true
	locator := &fakeLocator{repoDirs: map[string]string{"repoA": "/ws/repoA"}}
	snap := New(cli, locator, 2)

	committed, err := snap.CommitOnCompletion(context.Background(), "ws1", []model.WorkspaceRepo{{RepoID: "repoA"}}, "msg", nil)
	require.NoError(t, err)
	assert.True(t, committed)
	assert.True(t, cli.committed["/ws/repoA"])
}

func TestSquashMergeRefusesWhenBaseAhead(t *testing.T) {
	cli := newFakeCLI()
	cli.aheadBehind = [2]int{0, 3}
	locator := &fakeLocator{}
	snap := New(cli, locator, 2)

	_, err := snap.SquashMerge(context.Background(), "repoA", "/task", "task-branch", "main", "msg")
	var diverged *model.BranchesDiverged
	require.ErrorAs(t, err, &diverged)
}

func TestSquashMergeCapsConflictedFiles(t *testing.T) {
	cli := newFakeCLI()
	cli.mergeErr = assertErr{"conflict"}
	files := make([]string, 15)
	for i := range files {
		files[i] = "file.go"
	}
	cli.conflictFiles = files
	locator := &fakeLocator{baseExists: false}
	snap := New(cli, locator, 2)

	_, err := snap.SquashMerge(context.Background(), "repoA", "/task", "task-branch", "main", "msg")
	var conflicts *model.MergeConflicts
	require.ErrorAs(t, err, &conflicts)
	assert.Equal(t, 15, conflicts.TotalConflicts)
	assert.Len(t, conflicts.ConflictedFiles, model.MaxConflictFilesListed)
}

func TestSquashMergeUpdatesRefsWhenBaseNotCheckedOut(t *testing.T) {
	cli := newFakeCLI()
	locator := &fakeLocator{baseExists: false}
	snap := New(cli, locator, 2)

	result, err := snap.SquashMerge(context.Background(), "repoA", "/task", "task-branch", "main", "msg")
	require.NoError(t, err)
	assert.Equal(t, "merged-oid", result.CommitOID)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
