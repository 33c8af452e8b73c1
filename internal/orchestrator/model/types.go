// Package model defines the persistent data model shared by every
// orchestrator component: tasks, workspaces, sessions, execution
// processes, and the queues and side-tables that tie them together.
package model

import (
	"encoding/json"
	"time"
)

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskInReview   TaskStatus = "in_review"
	TaskDone       TaskStatus = "done"
	TaskCancelled  TaskStatus = "cancelled"
)

// Task is one unit of work tracked across one or more workspaces.
type Task struct {
	ID                string     `json:"id"`
	ProjectID         string     `json:"project_id"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	Status            TaskStatus `json:"status"`
	ParentWorkspaceID string     `json:"parent_workspace_id,omitempty"`
	TaskGroupID       string     `json:"task_group_id,omitempty"`
	SharedTaskID      string     `json:"shared_task_id,omitempty"`
	NeedsAttention    bool       `json:"needs_attention"`
	IsBlocked         bool       `json:"is_blocked"`
	IsQueued          bool       `json:"is_queued"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TaskDependency records that Task cannot start until DependsOn reaches Done.
type TaskDependency struct {
	TaskID      string `json:"task_id"`
	DependsOnID string `json:"depends_on_id"`
}

// Workspace is a per-task on-disk directory holding one worktree per repo.
type Workspace struct {
	ID              string    `json:"id"`
	TaskID          string    `json:"task_id"`
	Branch          string    `json:"branch"`
	ContainerRef    string    `json:"container_ref,omitempty"`
	AgentWorkingDir string    `json:"agent_working_dir,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// WorkspaceRepo is one repo checked out inside a Workspace.
type WorkspaceRepo struct {
	WorkspaceID         string `json:"workspace_id"`
	RepoID              string `json:"repo_id"`
	TargetBranch        string `json:"target_branch"`
	SetupScript         string `json:"setup_script,omitempty"`
	SetupScriptLanguage string `json:"setup_script_language,omitempty"`
	ParallelSetupScript bool   `json:"parallel_setup_script"`
	CleanupScript       string `json:"cleanup_script,omitempty"`
	CleanupScriptLanguage string `json:"cleanup_script_language,omitempty"`
}

// Session groups the executions making up one coding-agent conversation.
type Session struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Executor    string    `json:"executor,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RunReason coarsely classifies an ExecutionProcess.
type RunReason string

const (
	RunCodingAgent          RunReason = "coding_agent"
	RunSetupScript          RunReason = "setup_script"
	RunCleanupScript        RunReason = "cleanup_script"
	RunDevServer            RunReason = "dev_server"
	RunInternalAgent        RunReason = "internal_agent"
	RunDisposableConversation RunReason = "disposable_conversation"
)

// ExecutionStatus is the terminal or in-flight state of an ExecutionProcess.
type ExecutionStatus string

const (
	ExecRunning   ExecutionStatus = "running"
	ExecCompleted ExecutionStatus = "completed"
	ExecFailed    ExecutionStatus = "failed"
	ExecKilled    ExecutionStatus = "killed"
)

// ExecutionProcess is one OS-level child process invocation.
type ExecutionProcess struct {
	ID                   string          `json:"id"`
	SessionID            string          `json:"session_id,omitempty"`
	ConversationSessionID string         `json:"conversation_session_id,omitempty"`
	Action               *ExecutorAction `json:"executor_action"`
	RunReason            RunReason       `json:"run_reason"`
	Status               ExecutionStatus `json:"status"`
	ExitCode             *int            `json:"exit_code,omitempty"`
	InputTokens          *int            `json:"input_tokens,omitempty"`
	OutputTokens         *int            `json:"output_tokens,omitempty"`
	Dropped              bool            `json:"dropped"`
	WasStopped           bool            `json:"-"`
	CreatedAt            time.Time       `json:"created_at"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
}

// ExecutionProcessRepoState captures before/after HEAD per (execution, repo).
type ExecutionProcessRepoState struct {
	ExecutionID       string  `json:"execution_id"`
	RepoID            string  `json:"repo_id"`
	BeforeHeadCommit  *string `json:"before_head_commit,omitempty"`
	AfterHeadCommit   *string `json:"after_head_commit,omitempty"`
	MergeCommit       *string `json:"merge_commit,omitempty"`
}

// ActionType is the discriminant of an ExecutorAction tree node.
type ActionType string

const (
	ActionScriptRequest              ActionType = "script_request"
	ActionCodingAgentInitialRequest   ActionType = "coding_agent_initial_request"
	ActionCodingAgentFollowUpRequest  ActionType = "coding_agent_follow_up_request"
)

// ScriptContext distinguishes setup/cleanup/dev-server scripts.
type ScriptContext string

const (
	ScriptSetup     ScriptContext = "setup_script"
	ScriptCleanup   ScriptContext = "cleanup_script"
	ScriptDevServer ScriptContext = "dev_server"
)

// ExecutorAction is the recursive description of what to run and what
// to run after it. Exactly one of the *Request fields is populated,
// selected by Type.
type ExecutorAction struct {
	Type ActionType `json:"typ"`

	// ScriptRequest fields.
	Script        string        `json:"script,omitempty"`
	Language      string        `json:"language,omitempty"`
	ScriptContext ScriptContext `json:"context,omitempty"`

	// CodingAgent request fields (initial and follow-up).
	Prompt            string `json:"prompt,omitempty"`
	ExecutorProfileID string `json:"executor_profile_id,omitempty"`
	AgentSessionID    string `json:"session_id,omitempty"` // agent-side session id, follow-up only

	WorkingDir string `json:"working_dir,omitempty"`

	NextAction *ExecutorAction `json:"next_action,omitempty"`
}

// IsCodingAgent reports whether this node is an initial or follow-up
// coding-agent request.
func (a *ExecutorAction) IsCodingAgent() bool {
	if a == nil {
		return false
	}
	return a.Type == ActionCodingAgentInitialRequest || a.Type == ActionCodingAgentFollowUpRequest
}

// Clone deep-copies the action tree (used before mutating NextAction).
func (a *ExecutorAction) Clone() *ExecutorAction {
	if a == nil {
		return nil
	}
	cp := *a
	cp.NextAction = a.NextAction.Clone()
	return &cp
}

// MarshalTree serializes the action tree for persistence.
func (a *ExecutorAction) MarshalTree() ([]byte, error) {
	return json.Marshal(a)
}

// UnmarshalTree deserializes a persisted action tree.
func UnmarshalTree(data []byte) (*ExecutorAction, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var a ExecutorAction
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ExecutionQueue is a deferred workspace start or deferred follow-up.
type ExecutionQueue struct {
	ID                string          `json:"id"`
	WorkspaceID       string          `json:"workspace_id"`
	ExecutorProfileID string          `json:"executor_profile_id"`
	SessionID         string          `json:"session_id,omitempty"`
	Action            *ExecutorAction `json:"executor_action,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// IsFollowUp reports whether this queue entry is a deferred follow-up
// message rather than a deferred initial workspace start.
func (q *ExecutionQueue) IsFollowUp() bool {
	return q.SessionID != "" && q.Action != nil
}

// CodingAgentTurn correlates executions across follow-ups within a session.
type CodingAgentTurn struct {
	ID                 string  `json:"id"`
	ExecutionProcessID string  `json:"execution_process_id"`
	Prompt             string  `json:"prompt,omitempty"`
	AgentSessionID     string  `json:"agent_session_id,omitempty"`
	Summary            *string `json:"summary,omitempty"`
}

// ScratchType is the discriminant for Scratch rows.
type ScratchType string

const (
	ScratchDraftFollowUp ScratchType = "draft_follow_up"
)

// Scratch is an ephemeral draft keyed by (session, type).
type Scratch struct {
	SessionID string      `json:"session_id"`
	Type      ScratchType `json:"type"`
	Payload   string      `json:"payload"`
}

// OperationKind names a single-slot per-workspace operation in progress.
type OperationKind string

const (
	OpGeneratingCommit OperationKind = "generating_commit"
	OpMerging          OperationKind = "merging"
)

// OperationStatus is the single-slot per-workspace operation marker.
type OperationStatus struct {
	WorkspaceID string        `json:"workspace_id"`
	TaskID      string        `json:"task_id"`
	Kind        OperationKind `json:"kind"`
}

// AgentFeedback is one structured feedback record parsed from an
// InternalAgent's final assistant message.
type AgentFeedback struct {
	ID                 string    `json:"id"`
	ExecutionProcessID string    `json:"execution_process_id"`
	TaskID             string    `json:"task_id"`
	WorkspaceID        string    `json:"workspace_id"`
	FeedbackJSON       string    `json:"feedback_json"`
	CreatedAt          time.Time `json:"created_at"`
}

// ReviewAttention is the outcome of a review-attention pass.
type ReviewAttention struct {
	ID                 string `json:"id"`
	ExecutionProcessID string `json:"execution_process_id"`
	TaskID             string `json:"task_id"`
	WorkspaceID        string `json:"workspace_id"`
	NeedsAttention     bool   `json:"needs_attention"`
	Reasoning          string `json:"reasoning,omitempty"`
}

// MergeQueueEntry is one repo-scoped squash-merge awaiting a project's
// single-flight processor.
type MergeQueueEntry struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	WorkspaceID   string    `json:"workspace_id"`
	RepoID        string    `json:"repo_id"`
	CommitMessage string    `json:"commit_message"`
	CreatedAt     time.Time `json:"created_at"`
}
