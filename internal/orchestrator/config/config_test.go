package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoConfigFile(t *testing.T) {
	dir := t.TempDir()
	old, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(old)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.MaxConcurrentAgents)
	assert.Equal(t, "task/", cfg.GitBranchPrefix)
	assert.False(t, cfg.AnalyticsEnabled)
	assert.Equal(t, "orchestrator.events.execution", cfg.NATSExecutionSubject)
}

func TestLoadReadsExplicitConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
max_concurrent_agents: 9
autopilot_enabled: true
git_branch_prefix: "work/"
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.MaxConcurrentAgents)
	assert.True(t, cfg.AutopilotEnabled)
	assert.Equal(t, "work/", cfg.GitBranchPrefix)
}

func TestLoadEnvOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`max_concurrent_agents: 2`), 0644))

	t.Setenv("ORCHESTRATOR_MAX_CONCURRENT_AGENTS", "20")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.MaxConcurrentAgents)
}

func TestLoadMissingExplicitConfigFileIsAnError(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "does-not-exist.yaml"))
	assert.Error(t, err)
}
