package sweeper

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outerlook/orchestratorcore/internal/orchestrator/executor"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/gitsnapshot"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/guard"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/model"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/store"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/supervisor"
)

type fakeCLI struct{}

func (f *fakeCLI) Head(ctx context.Context, dir string) (string, error)        { return "abc", nil }
func (f *fakeCLI) Dirty(ctx context.Context, dir string) (bool, error)         { return false, nil }
func (f *fakeCLI) StageAllAndCommit(ctx context.Context, dir, msg string) (string, error) {
	return "abc", nil
}
func (f *fakeCLI) RebaseInProgress(ctx context.Context, dir string) (bool, error) { return false, nil }
func (f *fakeCLI) AheadBehind(ctx context.Context, dir, base, task string) (int, int, error) {
	return 0, 0, nil
}
func (f *fakeCLI) SquashMerge(ctx context.Context, dir, taskBranch, msg string) (string, error) {
	return "oid", nil
}
func (f *fakeCLI) MergeTreeSquash(ctx context.Context, dir, baseBranch, taskBranch, msg string) (string, []string, error) {
	return "oid", nil, nil
}
func (f *fakeCLI) UpdateRef(ctx context.Context, dir, ref, commit string) error { return nil }
func (f *fakeCLI) ConflictedFiles(ctx context.Context, dir string) ([]string, error) {
	return nil, nil
}
func (f *fakeCLI) Diff(ctx context.Context, dir, from, to string) (string, error) { return "", nil }
func (f *fakeCLI) IsCheckedOutElsewhere(ctx context.Context, dir, branch string) (bool, error) {
	return false, nil
}

type fakeLocator struct{}

func (l *fakeLocator) WorkspaceRepoDir(workspaceID, repoID string) (string, error) { return "", nil }
func (l *fakeLocator) BaseWorktreeDir(repoID, baseBranch string) (string, bool, error) {
	return "", false, nil
}

func newTestSweeper(t *testing.T, cfg Config) (*Sweeper, *store.Store, afero.Fs) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "orchestrator.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	snap := gitsnapshot.New(&fakeCLI{}, &fakeLocator{}, 2)
	g := guard.New()
	registry := executor.NewRegistry(executor.Profile{ID: "profile-a", Kind: executor.ProfileClaudeCode, BinaryPath: "sh"})
	sup := supervisor.New(st, g, snap, registry, executor.NewProtocolPeerApprovals(), executor.LangfuseConfig{}, nil)

	fs := afero.NewMemMapFs()
	return New(st, sup, fs, cfg), st, fs
}

func createTaskAndWorkspace(t *testing.T, st *store.Store, fs afero.Fs, id string, status model.TaskStatus, updatedAt time.Time) *model.Workspace {
	t.Helper()
	ctx := context.Background()
	task := &model.Task{ID: id + "-task", ProjectID: "proj1", Title: "t", Status: status, CreatedAt: updatedAt, UpdatedAt: updatedAt}
	require.NoError(t, st.Tasks.Create(ctx, task))

	dir := "/workspaces/" + id
	require.NoError(t, fs.MkdirAll(dir, 0755))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, "marker.txt"), []byte("x"), 0644))

	ws := &model.Workspace{ID: id, TaskID: task.ID, Branch: "b", ContainerRef: dir, CreatedAt: updatedAt}
	require.NoError(t, st.Workspaces.Create(ctx, ws))
	return ws
}

func TestSweepExpiredWorkspacesRemovesOldDoneWorkspace(t *testing.T) {
	s, st, fs := newTestSweeper(t, Config{WorkspaceTTL: time.Hour})
	ws := createTaskAndWorkspace(t, st, fs, "ws1", model.TaskDone, time.Now().Add(-2*time.Hour))

	s.SweepExpiredWorkspaces(context.Background())

	exists, err := afero.DirExists(fs, ws.ContainerRef)
	require.NoError(t, err)
	assert.False(t, exists)

	got, err := st.Workspaces.Get(context.Background(), ws.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSweepExpiredWorkspacesKeepsRecentlyDoneWorkspace(t *testing.T) {
	s, st, fs := newTestSweeper(t, Config{WorkspaceTTL: time.Hour})
	ws := createTaskAndWorkspace(t, st, fs, "ws2", model.TaskDone, time.Now())

	s.SweepExpiredWorkspaces(context.Background())

	exists, err := afero.DirExists(fs, ws.ContainerRef)
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := st.Workspaces.Get(context.Background(), ws.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestSweepExpiredWorkspacesKeepsInProgressWorkspace(t *testing.T) {
	s, st, fs := newTestSweeper(t, Config{WorkspaceTTL: time.Hour})
	ws := createTaskAndWorkspace(t, st, fs, "ws3", model.TaskInProgress, time.Now().Add(-48*time.Hour))

	s.SweepExpiredWorkspaces(context.Background())

	got, err := st.Workspaces.Get(context.Background(), ws.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestStartupSweepFlipsRunningExecutionsToFailed(t *testing.T) {
	s, st, _ := newTestSweeper(t, Config{})
	ctx := context.Background()

	exec := &model.ExecutionProcess{ID: "e1", SessionID: "s1", RunReason: model.RunCodingAgent, Status: model.ExecRunning, CreatedAt: time.Now()}
	require.NoError(t, st.Executions.Create(ctx, exec))

	require.NoError(t, s.StartupSweep(ctx))

	got, err := st.Executions.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, model.ExecFailed, got.Status)
}
