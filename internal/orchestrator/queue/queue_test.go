package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/outerlook/orchestratorcore/internal/orchestrator/executor"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/gitsnapshot"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/guard"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/model"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/store"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCLI struct{ heads map[string]string }

func newFakeCLI() *fakeCLI { return &fakeCLI{heads: map[string]string{}} }

func (f *fakeCLI) Head(ctx context.Context, dir string) (string, error) { return f.heads[dir], nil }
func (f *fakeCLI) Dirty(ctx context.Context, dir string) (bool, error)  { return false, nil }
func (f *fakeCLI) StageAllAndCommit(ctx context.Context, dir, msg string) (string, error) {
	return f.heads[dir], nil
}
func (f *fakeCLI) RebaseInProgress(ctx context.Context, dir string) (bool, error) { return false, nil }
func (f *fakeCLI) AheadBehind(ctx context.Context, dir, base, task string) (int, int, error) {
	return 0, 0, nil
}
func (f *fakeCLI) SquashMerge(ctx context.Context, dir, taskBranch, msg string) (string, error) {
	return "merged-oid", nil
}
func (f *fakeCLI) MergeTreeSquash(ctx context.Context, dir, baseBranch, taskBranch, msg string) (string, []string, error) {
	return "merged-oid", nil, nil
}
func (f *fakeCLI) UpdateRef(ctx context.Context, dir, ref, commit string) error { return nil }
func (f *fakeCLI) ConflictedFiles(ctx context.Context, dir string) ([]string, error) {
	return nil, nil
}
func (f *fakeCLI) Diff(ctx context.Context, dir, from, to string) (string, error) { return "", nil }
func (f *fakeCLI) IsCheckedOutElsewhere(ctx context.Context, dir, branch string) (bool, error) {
	return false, nil
}

type fakeLocator struct{ dir string }

func (l *fakeLocator) WorkspaceRepoDir(workspaceID, repoID string) (string, error) { return l.dir, nil }
func (l *fakeLocator) BaseWorktreeDir(repoID, baseBranch string) (string, bool, error) {
	return "", false, nil
}

func newTestGate(t *testing.T, maxConcurrent int) (*Gate, *store.Store, *supervisor.Supervisor) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "orchestrator.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	wsDir := t.TempDir()
	cli := newFakeCLI()
	cli.heads[wsDir] = "abc123"
	locator := &fakeLocator{dir: wsDir}
	snap := gitsnapshot.New(cli, locator, 2)

	g := guard.New()
	registry := executor.NewRegistry(executor.Profile{ID: "profile-a", Kind: executor.ProfileClaudeCode, BinaryPath: "sh"})
	sup := supervisor.New(st, g, snap, registry, executor.NewProtocolPeerApprovals(), executor.LangfuseConfig{}, nil)

	gate := New(st, sup, maxConcurrent)
	sup.SetOnQueueDrain(gate.ProcessQueue)
	return gate, st, sup
}

func createWorkspace(t *testing.T, st *store.Store, id string, repos []model.WorkspaceRepo) (*model.Workspace, *model.Task) {
	t.Helper()
	ctx := context.Background()
	ws := &model.Workspace{ID: id, TaskID: id + "-task", ContainerRef: t.TempDir(), CreatedAt: time.Now()}
	require.NoError(t, st.Workspaces.Create(ctx, ws))
	for i := range repos {
		repos[i].WorkspaceID = ws.ID
		require.NoError(t, st.Workspaces.AddRepo(ctx, repos[i]))
	}
	task := &model.Task{ID: ws.TaskID, ProjectID: "p1", Title: "do the thing", Status: model.TaskTodo, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, st.Tasks.Create(ctx, task))
	return ws, task
}

func TestShouldQueueExecutionUnlimitedWhenZero(t *testing.T) {
	gate, _, _ := newTestGate(t, 0)
	queue, err := gate.ShouldQueueExecution(context.Background())
	require.NoError(t, err)
	assert.False(t, queue)
}

func TestStartWorkspaceRefusesBlockedTask(t *testing.T) {
	gate, st, _ := newTestGate(t, 1)
	ws, task := createWorkspace(t, st, "ws-blocked", []model.WorkspaceRepo{{RepoID: "repoA", TargetBranch: "main"}})
	task.IsBlocked = true
	require.NoError(t, st.Tasks.SetBlocked(context.Background(), task.ID, true))
	repos, err := st.Workspaces.Repos(context.Background(), ws.ID)
	require.NoError(t, err)

	_, err = gate.StartWorkspace(context.Background(), ws, repos, task, "profile-a")
	assert.ErrorIs(t, err, model.ErrTaskBlocked)
}

func TestStartWorkspaceStartsDirectlyUnderCap(t *testing.T) {
	gate, st, _ := newTestGate(t, 1)
	ws, task := createWorkspace(t, st, "ws1", []model.WorkspaceRepo{{RepoID: "repoA", TargetBranch: "main"}})
	repos, err := st.Workspaces.Repos(context.Background(), ws.ID)
	require.NoError(t, err)

	result, err := gate.StartWorkspace(context.Background(), ws, repos, task, "profile-a")
	require.NoError(t, err)
	require.NotNil(t, result.Execution)
	assert.Nil(t, result.Queued)
	assert.Equal(t, model.ExecRunning, result.Execution.Status)
	assert.Equal(t, model.RunCodingAgent, result.Execution.RunReason)
}

func TestStartWorkspaceQueuesAtCap(t *testing.T) {
	gate, st, sup := newTestGate(t, 1)
	ctx := context.Background()

	wsA, taskA := createWorkspace(t, st, "wsA", []model.WorkspaceRepo{{RepoID: "repoA", TargetBranch: "main"}})
	reposA, err := st.Workspaces.Repos(ctx, wsA.ID)
	require.NoError(t, err)
	_, err = gate.StartWorkspace(ctx, wsA, reposA, taskA, "profile-a")
	require.NoError(t, err)

	wsB, taskB := createWorkspace(t, st, "wsB", []model.WorkspaceRepo{{RepoID: "repoB", TargetBranch: "main"}})
	reposB, err := st.Workspaces.Repos(ctx, wsB.ID)
	require.NoError(t, err)

	result, err := gate.StartWorkspace(ctx, wsB, reposB, taskB, "profile-a")
	require.NoError(t, err)
	require.Nil(t, result.Execution)
	require.NotNil(t, result.Queued)
	assert.Equal(t, wsB.ID, result.Queued.WorkspaceID)

	gotTask, err := st.Tasks.Get(ctx, taskB.ID)
	require.NoError(t, err)
	assert.True(t, gotTask.IsQueued)

	// wsA's CodingAgentInitialRequest ("sh" with bogus claude-code args)
	// exits almost immediately, reaps, and the supervisor's onQueueDrain
	// hook fires process_queue, draining wsB once the slot frees.
	require.Eventually(t, func() bool {
		got, err := st.Tasks.Get(ctx, taskB.ID)
		return err == nil && !got.IsQueued
	}, 5*time.Second, 20*time.Millisecond)

	_ = sup
}

func TestStartWorkspaceInnerChainsSequentialSetupThenAgent(t *testing.T) {
	gate, st, _ := newTestGate(t, 0)
	ctx := context.Background()

	repos := []model.WorkspaceRepo{
		{RepoID: "repoA", TargetBranch: "main", SetupScript: "exit 0", SetupScriptLanguage: "sh"},
		{RepoID: "repoB", TargetBranch: "main", SetupScript: "exit 0", SetupScriptLanguage: "sh"},
	}
	ws, task := createWorkspace(t, st, "ws-seq", repos)
	loaded, err := st.Workspaces.Repos(ctx, ws.ID)
	require.NoError(t, err)

	result, err := gate.StartWorkspace(ctx, ws, loaded, task, "profile-a")
	require.NoError(t, err)
	require.NotNil(t, result.Execution)
	assert.Equal(t, model.RunSetupScript, result.Execution.RunReason)
	require.NotNil(t, result.Execution.Action.NextAction)
	assert.Equal(t, model.ActionScriptRequest, result.Execution.Action.NextAction.Type)
}

func TestStartWorkspaceInnerAllParallelSetupStartsAgentIndependently(t *testing.T) {
	gate, st, _ := newTestGate(t, 0)
	ctx := context.Background()

	repos := []model.WorkspaceRepo{
		{RepoID: "repoA", TargetBranch: "main", SetupScript: "exit 0", SetupScriptLanguage: "sh", ParallelSetupScript: true},
		{RepoID: "repoB", TargetBranch: "main", SetupScript: "exit 0", SetupScriptLanguage: "sh", ParallelSetupScript: true},
	}
	ws, task := createWorkspace(t, st, "ws-par", repos)
	loaded, err := st.Workspaces.Repos(ctx, ws.ID)
	require.NoError(t, err)

	result, err := gate.StartWorkspace(ctx, ws, loaded, task, "profile-a")
	require.NoError(t, err)
	require.NotNil(t, result.Execution)
	// The head execution returned is the coding agent itself; the setup
	// scripts were fired independently and aren't chained onto it.
	assert.Equal(t, model.RunCodingAgent, result.Execution.RunReason)
	assert.Nil(t, result.Execution.Action.NextAction)
}

func TestProcessQueueSkipsEntryWithMissingWorkspace(t *testing.T) {
	gate, st, _ := newTestGate(t, 1)
	ctx := context.Background()

	// Fill the single slot with a workspace start; its coding agent ("sh"
	// with bogus claude-code args) exits almost immediately, and the drain
	// that follows its reap pops the dangling entry.
	ws, task := createWorkspace(t, st, "ws-holder", []model.WorkspaceRepo{{RepoID: "repoH", TargetBranch: "main"}})
	repos, err := st.Workspaces.Repos(ctx, ws.ID)
	require.NoError(t, err)
	_, err = gate.StartWorkspace(ctx, ws, repos, task, "profile-a")
	require.NoError(t, err)

	require.NoError(t, st.Queue.Enqueue(ctx, &model.ExecutionQueue{
		ID:          "q-dangling",
		WorkspaceID: "does-not-exist",
		CreatedAt:   time.Now(),
	}))

	require.Eventually(t, func() bool {
		count, err := st.Queue.Count(ctx)
		return err == nil && count == 0
	}, 5*time.Second, 20*time.Millisecond)
}
