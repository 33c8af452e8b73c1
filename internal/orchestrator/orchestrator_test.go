package orchestrator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outerlook/orchestratorcore/internal/orchestrator/config"
)

func TestNewWiresEveryComponent(t *testing.T) {
	cfg := &config.Config{
		DatabasePath:        filepath.Join(t.TempDir(), "orchestrator.db"),
		MaxConcurrentAgents: 2,
		GitWorktreePoolSize: 2,
		Executors: []config.ExecutorProfileConfig{
			{ID: "profile-a", Kind: "claude_code", BinaryPath: "sh"},
		},
	}

	o, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, o)
	defer o.Close()

	assert.NotNil(t, o.Store)
	assert.NotNil(t, o.Supervisor)
	assert.NotNil(t, o.Queue)
	assert.NotNil(t, o.Pipeline)
	assert.NotNil(t, o.Autopilot)
	assert.NotNil(t, o.Sweeper)
	assert.NotNil(t, o.Hooks)
	assert.NotNil(t, o.Dispatcher)
	assert.NotNil(t, o.Analytics)
}

func TestStartRunsStartupSweepAndTick(t *testing.T) {
	cfg := &config.Config{
		DatabasePath: filepath.Join(t.TempDir(), "orchestrator.db"),
	}
	o, err := New(cfg)
	require.NoError(t, err)
	defer o.Close()

	assert.NoError(t, o.Start(context.Background()))
}

func TestNewFailsOnUnreachableNATSURL(t *testing.T) {
	cfg := &config.Config{
		DatabasePath: filepath.Join(t.TempDir(), "orchestrator.db"),
		NATSURL:      "nats://127.0.0.1:1",
	}
	_, err := New(cfg)
	assert.Error(t, err)
}
