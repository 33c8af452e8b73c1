package supervisor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/outerlook/orchestratorcore/internal/orchestrator/executor"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/gitsnapshot"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/guard"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/model"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/msgstore"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/normalizer"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/store"
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

func newTestSupervisor(t *testing.T) (*Supervisor, *model.Workspace, []model.WorkspaceRepo) {
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
	registry := executor.NewRegistry()

	ws := &model.Workspace{ID: "ws1", TaskID: "t1", ContainerRef: wsDir, CreatedAt: time.Now()}
	require.NoError(t, st.Workspaces.Create(context.Background(), ws))
	repos := []model.WorkspaceRepo{{WorkspaceID: ws.ID, RepoID: "repoA", TargetBranch: "main"}}

	sup := New(st, g, snap, registry, executor.NewProtocolPeerApprovals(), executor.LangfuseConfig{}, nil)
	return sup, ws, repos
}

func TestStartExecutionSpawnsAndReapsSuccess(t *testing.T) {
	sup, ws, repos := newTestSupervisor(t)
	ctx := context.Background()

	reaped := make(chan *model.ExecutionProcess, 1)
	sup.SetOnReaped(func(ctx context.Context, execRow *model.ExecutionProcess) { reaped <- execRow })

	task := &model.Task{ID: ws.TaskID, ProjectID: "p1", Title: "t", Status: model.TaskTodo, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, sup.store.Tasks.Create(ctx, task))

	action := &model.ExecutorAction{Type: model.ActionScriptRequest, Script: "exit 0", Language: "sh"}
	execRow, err := sup.StartExecution(ctx, StartParams{
		Workspace: ws,
		Repos:     repos,
		TaskID:    ws.TaskID,
		Action:    action,
		RunReason: model.RunSetupScript,
	})
	require.NoError(t, err)
	require.NotNil(t, execRow)
	assert.Equal(t, model.ExecRunning, execRow.Status)

	select {
	case final := <-reaped:
		assert.Equal(t, model.ExecCompleted, final.Status)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reap")
	}

	got, err := sup.store.Executions.Get(ctx, execRow.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecCompleted, got.Status)
	assert.NotNil(t, got.ExitCode)
	assert.Equal(t, 0, *got.ExitCode)
}

func TestStartExecutionSpawnFailure(t *testing.T) {
	sup, ws, repos := newTestSupervisor(t)
	ctx := context.Background()

	action := &model.ExecutorAction{Type: model.ActionScriptRequest, Script: "exit 0", Language: "this-binary-does-not-exist-anywhere"}
	execRow, err := sup.StartExecution(ctx, StartParams{
		Workspace: ws,
		Repos:     repos,
		Action:    action,
		RunReason: model.RunSetupScript,
	})
	require.Error(t, err)
	require.NotNil(t, execRow)
	assert.Equal(t, model.ExecFailed, execRow.Status)

	got, err := sup.store.Executions.Get(ctx, execRow.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecFailed, got.Status)
}

func TestStartExecutionRejectsAlreadyRunningWorkspace(t *testing.T) {
	sup, ws, repos := newTestSupervisor(t)
	ctx := context.Background()

	sleeper := &model.ExecutorAction{Type: model.ActionScriptRequest, Script: "sleep 2", Language: "sh"}
	_, err := sup.StartExecution(ctx, StartParams{Workspace: ws, Repos: repos, Action: sleeper, RunReason: model.RunSetupScript})
	require.NoError(t, err)

	second := &model.ExecutorAction{Type: model.ActionScriptRequest, Script: "exit 0", Language: "sh"}
	_, err = sup.StartExecution(ctx, StartParams{Workspace: ws, Repos: repos, Action: second, RunReason: model.RunSetupScript})
	require.Error(t, err)
	var already *model.WorkspaceAlreadyRunning
	assert.ErrorAs(t, err, &already)

	require.NoError(t, sup.TryStop(ctx, ws.ID, true))
}

func TestStopExecutionGracefulInterrupt(t *testing.T) {
	sup, ws, repos := newTestSupervisor(t)
	ctx := context.Background()

	reaped := make(chan *model.ExecutionProcess, 1)
	sup.SetOnReaped(func(ctx context.Context, execRow *model.ExecutionProcess) { reaped <- execRow })

	action := &model.ExecutorAction{Type: model.ActionScriptRequest, Script: "trap 'exit 0' TERM INT; sleep 30", Language: "sh"}
	execRow, err := sup.StartExecution(ctx, StartParams{Workspace: ws, Repos: repos, TaskID: ws.TaskID, Action: action, RunReason: model.RunSetupScript})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, sup.StopExecution(ctx, execRow.ID, model.ExecKilled))

	select {
	case final := <-reaped:
		assert.Equal(t, model.ExecKilled, final.Status)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reap after stop")
	}

	got, err := sup.store.Executions.Get(ctx, execRow.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecKilled, got.Status)

	task, err := sup.store.Tasks.Get(ctx, ws.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskInReview, task.Status)
}

func TestStopExecutionOrphanPath(t *testing.T) {
	sup, ws, repos := newTestSupervisor(t)
	ctx := context.Background()

	action := &model.ExecutorAction{Type: model.ActionScriptRequest, Script: "exit 0", Language: "sh"}
	execRow, err := sup.StartExecution(ctx, StartParams{Workspace: ws, Repos: repos, Action: action, RunReason: model.RunSetupScript})
	require.NoError(t, err)

	sup.mu.Lock()
	delete(sup.running, execRow.ID)
	sup.mu.Unlock()

	require.NoError(t, sup.StopExecution(ctx, execRow.ID, model.ExecFailed))

	got, err := sup.store.Executions.Get(ctx, execRow.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecFailed, got.Status)
}

func TestSignalWinsRaceAgainstExit(t *testing.T) {
	sup, ws, repos := newTestSupervisor(t)
	ctx := context.Background()

	reaped := make(chan *model.ExecutionProcess, 1)
	sup.SetOnReaped(func(ctx context.Context, execRow *model.ExecutionProcess) { reaped <- execRow })

	action := &model.ExecutorAction{Type: model.ActionScriptRequest, Script: "trap '' TERM; sleep 30", Language: "sh"}
	execRow, err := sup.StartExecution(ctx, StartParams{Workspace: ws, Repos: repos, Action: action, RunReason: model.RunSetupScript})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	sup.Signal(execRow.ID, model.ExecCompleted)

	select {
	case final := <-reaped:
		assert.Equal(t, model.ExecCompleted, final.Status)
	case <-time.After(8 * time.Second):
		t.Fatal("timed out waiting for signal-driven reap")
	}
}

func TestKillAllRunningProcessesSweepsOrphans(t *testing.T) {
	sup, _, _ := newTestSupervisor(t)
	ctx := context.Background()

	e := &model.ExecutionProcess{
		ID:        "orphan1",
		Action:    &model.ExecutorAction{Type: model.ActionScriptRequest, Script: "exit 0"},
		RunReason: model.RunSetupScript,
		Status:    model.ExecRunning,
		CreatedAt: time.Now(),
	}
	require.NoError(t, sup.store.Executions.Create(ctx, e))

	require.NoError(t, sup.KillAllRunningProcesses(ctx))

	got, err := sup.store.Executions.Get(ctx, "orphan1")
	require.NoError(t, err)
	assert.Equal(t, model.ExecFailed, got.Status)
}

func TestLastAssistantTextScansBothEntryRepresentations(t *testing.T) {
	history := []msgstore.Message{
		{Kind: msgstore.KindJSONPatch, Patch: []msgstore.PatchOp{
			{Op: "add", Path: "/entries/0", Value: map[string]any{"type": "assistant_message", "text": "from backfilled map"}},
		}},
		{Kind: msgstore.KindJSONPatch, Patch: []msgstore.PatchOp{
			{Op: "add", Path: "/entries/1", Value: normalizer.Entry{Type: "assistant_message", Text: "hello from live entry"}},
		}},
	}
	assert.Equal(t, "hello from live entry", lastAssistantText(history))
}

func TestLastTokenUsagePicksMostRecentAcrossRepresentations(t *testing.T) {
	history := []msgstore.Message{
		{Kind: msgstore.KindJSONPatch, Patch: []msgstore.PatchOp{
			{Op: "add", Path: "/entries/0", Value: normalizer.Entry{Type: "assistant_message", Tokens: &normalizer.TokenUsage{Input: 10, Output: 20}}},
		}},
		{Kind: msgstore.KindJSONPatch, Patch: []msgstore.PatchOp{
			{Op: "add", Path: "/entries/1", Value: map[string]any{"type": "assistant_message", "tokens": map[string]any{"input": float64(30), "output": float64(40)}}},
		}},
	}
	in, out := lastTokenUsage(history)
	require.NotNil(t, in)
	require.NotNil(t, out)
	assert.Equal(t, 30, *in)
	assert.Equal(t, 40, *out)
}

func TestLastAssistantTextReturnsFullUntruncatedText(t *testing.T) {
	long := make([]rune, maxTurnSummaryRunes+500)
	for i := range long {
		long[i] = 'a'
	}
	history := []msgstore.Message{
		{Kind: msgstore.KindJSONPatch, Patch: []msgstore.PatchOp{
			{Op: "add", Path: "/entries/0", Value: normalizer.Entry{Type: "assistant_message", Text: string(long)}},
		}},
	}
	text := lastAssistantText(history)
	runes := []rune(text)
	assert.Equal(t, maxTurnSummaryRunes+500, len(runes))
}
