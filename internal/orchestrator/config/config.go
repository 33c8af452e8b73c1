// Package config loads the orchestrator's configuration via
// spf13/viper from YAML plus environment overrides, using a nested
// struct with zero-value defaults applied post-load.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// ExecutorProfileConfig is one executor_profile_id entry: binary path,
// model, and turn cap for a single coding-agent kind.
type ExecutorProfileConfig struct {
	ID         string `yaml:"id"`
	Kind       string `yaml:"kind"` // "claude_code" or "opencode_cli"
	BinaryPath string `yaml:"binary_path"`
	Model      string `yaml:"model"`
	MaxTurns   int    `yaml:"max_turns"`
}

// LangfuseConfig optionally injects Langfuse tracing env vars into
// spawned coding-agent children.
type LangfuseConfig struct {
	Enabled   bool   `yaml:"enabled"`
	PublicKey string `yaml:"public_key"`
	SecretKey string `yaml:"secret_key"`
	Host      string `yaml:"host"`
}

// SweeperConfig tunes the periodic workspace-cleanup tick.
type SweeperConfig struct {
	Interval     time.Duration `yaml:"interval"`
	WorkspaceTTL time.Duration `yaml:"workspace_ttl"`
}

// Config is the orchestrator core's full configuration surface.
type Config struct {
	DatabasePath string `yaml:"database_path"`
	Debug        bool   `yaml:"debug"`

	MaxConcurrentAgents int    `yaml:"max_concurrent_agents"`
	GitBranchPrefix     string `yaml:"git_branch_prefix"`
	GitWorktreePoolSize int    `yaml:"git_worktree_pool_size"`

	FeedbackEnabled                bool   `yaml:"feedback_enabled"`
	ReviewAttentionExecutorProfile string `yaml:"review_attention_executor_profile"`

	AutopilotEnabled                 bool   `yaml:"autopilot_enabled"`
	CommitMessageAutoGenerateEnabled bool   `yaml:"commit_message_auto_generate_enabled"`
	CommitMessageExecutorProfile     string `yaml:"commit_message_executor_profile"`
	CommitMessagePromptTemplate      string `yaml:"commit_message_prompt_template"`
	InlineDiffThresholdBytes         int    `yaml:"inline_diff_threshold_bytes"`

	AnalyticsEnabled  bool   `yaml:"analytics_enabled"`
	PosthogAPIKey     string `yaml:"posthog_api_key"`
	PosthogEndpoint   string `yaml:"posthog_endpoint"`

	NATSURL             string `yaml:"nats_url"`
	NATSExecutionSubject string `yaml:"nats_execution_subject"`
	NATSTaskSubject      string `yaml:"nats_task_subject"`

	Sweeper   SweeperConfig           `yaml:"sweeper"`
	Langfuse  LangfuseConfig          `yaml:"langfuse"`
	Executors []ExecutorProfileConfig `yaml:"executors"`
}

// Load reads config.yaml from cfgFile (if non-empty), the current
// working directory, and $HOME/.config/orchestratorcore, in that
// order of discovery, then layers environment overrides on top
// (highest priority).
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if cwd, err := os.Getwd(); err == nil {
			v.AddConfigPath(cwd)
		}
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "orchestratorcore"))
		}
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	cfg := defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	applyScalarOverrides(v, cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		DatabasePath:        "./orchestrator.db",
		MaxConcurrentAgents: 4,
		GitBranchPrefix:     "task/",
		GitWorktreePoolSize: 8,
		ReviewAttentionExecutorProfile: "",
		CommitMessageExecutorProfile:   "",
		NATSExecutionSubject: "orchestrator.events.execution",
		NATSTaskSubject:      "orchestrator.events.task",
		Sweeper: SweeperConfig{
			Interval:     30 * time.Minute,
			WorkspaceTTL: 24 * time.Hour,
		},
	}
}

// bindEnvVars explicitly binds ORCHESTRATOR_* environment variables so
// they override config-file values regardless of viper's automatic-env
// key transformation.
func bindEnvVars(v *viper.Viper) {
	v.BindEnv("database_path", "ORCHESTRATOR_DATABASE_PATH")
	v.BindEnv("debug", "ORCHESTRATOR_DEBUG")
	v.BindEnv("max_concurrent_agents", "ORCHESTRATOR_MAX_CONCURRENT_AGENTS")
	v.BindEnv("git_branch_prefix", "ORCHESTRATOR_GIT_BRANCH_PREFIX")
	v.BindEnv("git_worktree_pool_size", "ORCHESTRATOR_GIT_WORKTREE_POOL_SIZE")
	v.BindEnv("feedback_enabled", "ORCHESTRATOR_FEEDBACK_ENABLED")
	v.BindEnv("review_attention_executor_profile", "ORCHESTRATOR_REVIEW_ATTENTION_EXECUTOR_PROFILE")
	v.BindEnv("autopilot_enabled", "ORCHESTRATOR_AUTOPILOT_ENABLED")
	v.BindEnv("commit_message_auto_generate_enabled", "ORCHESTRATOR_COMMIT_MESSAGE_AUTO_GENERATE_ENABLED")
	v.BindEnv("commit_message_executor_profile", "ORCHESTRATOR_COMMIT_MESSAGE_EXECUTOR_PROFILE")
	v.BindEnv("inline_diff_threshold_bytes", "ORCHESTRATOR_INLINE_DIFF_THRESHOLD_BYTES")
	v.BindEnv("analytics_enabled", "ORCHESTRATOR_ANALYTICS_ENABLED", "STN_TELEMETRY_ENABLED")
	v.BindEnv("posthog_api_key", "ORCHESTRATOR_POSTHOG_API_KEY")
	v.BindEnv("posthog_endpoint", "ORCHESTRATOR_POSTHOG_ENDPOINT")
	v.BindEnv("nats_url", "ORCHESTRATOR_NATS_URL", "STN_NATS_URL")
	v.BindEnv("sweeper.interval", "ORCHESTRATOR_SWEEPER_INTERVAL")
	v.BindEnv("sweeper.workspace_ttl", "ORCHESTRATOR_SWEEPER_WORKSPACE_TTL")
	v.BindEnv("langfuse.enabled", "ORCHESTRATOR_LANGFUSE_ENABLED")
	v.BindEnv("langfuse.public_key", "ORCHESTRATOR_LANGFUSE_PUBLIC_KEY")
	v.BindEnv("langfuse.secret_key", "ORCHESTRATOR_LANGFUSE_SECRET_KEY")
	v.BindEnv("langfuse.host", "ORCHESTRATOR_LANGFUSE_HOST")
}

// applyScalarOverrides re-reads the bound keys directly off v, since
// viper.Unmarshal does not always pick up BindEnv-only values that have
// no corresponding config-file entry.
func applyScalarOverrides(v *viper.Viper, cfg *Config) {
	if v.IsSet("database_path") {
		cfg.DatabasePath = v.GetString("database_path")
	}
	if v.IsSet("debug") {
		cfg.Debug = v.GetBool("debug")
	}
	if v.IsSet("max_concurrent_agents") {
		cfg.MaxConcurrentAgents = v.GetInt("max_concurrent_agents")
	}
	if v.IsSet("git_branch_prefix") {
		cfg.GitBranchPrefix = v.GetString("git_branch_prefix")
	}
	if v.IsSet("analytics_enabled") {
		cfg.AnalyticsEnabled = v.GetBool("analytics_enabled")
	}
	if v.IsSet("autopilot_enabled") {
		cfg.AutopilotEnabled = v.GetBool("autopilot_enabled")
	}
	if v.IsSet("feedback_enabled") {
		cfg.FeedbackEnabled = v.GetBool("feedback_enabled")
	}
	if v.IsSet("nats_url") {
		cfg.NATSURL = v.GetString("nats_url")
	}
}
