package gitsnapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outerlook/orchestratorcore/internal/orchestrator/model"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/store"
)

func TestFSLocatorWorkspaceRepoDirJoinsContainerRef(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "orchestrator.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	task := &model.Task{ID: "t1", ProjectID: "p1", Title: "t", Status: model.TaskInProgress, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, st.Tasks.Create(ctx, task))
	ws := &model.Workspace{ID: "ws1", TaskID: "t1", Branch: "b", ContainerRef: "/workspaces/ws1", CreatedAt: time.Now()}
	require.NoError(t, st.Workspaces.Create(ctx, ws))

	loc := NewFSLocator(st, "")
	dir, err := loc.WorkspaceRepoDir("ws1", "repoA")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/workspaces/ws1", "repoA"), dir)
}

func TestFSLocatorWorkspaceRepoDirErrorsWithoutContainerRef(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "orchestrator.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	task := &model.Task{ID: "t2", ProjectID: "p1", Title: "t", Status: model.TaskInProgress, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, st.Tasks.Create(ctx, task))
	ws := &model.Workspace{ID: "ws2", TaskID: "t2", Branch: "b", CreatedAt: time.Now()}
	require.NoError(t, st.Workspaces.Create(ctx, ws))

	loc := NewFSLocator(st, "")
	_, err = loc.WorkspaceRepoDir("ws2", "repoA")
	assert.Error(t, err)
}

func TestFSLocatorBaseWorktreeDirEmptyRootMeansAbsent(t *testing.T) {
	loc := NewFSLocator(nil, "")
	_, exists, err := loc.BaseWorktreeDir("repoA", "main")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFSLocatorBaseWorktreeDirReportsExistence(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "repoA"), 0755))

	loc := NewFSLocator(nil, root)
	dir, exists, err := loc.BaseWorktreeDir("repoA", "main")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, filepath.Join(root, "repoA"), dir)

	_, exists2, err := loc.BaseWorktreeDir("repoB", "main")
	require.NoError(t, err)
	assert.False(t, exists2)
}
