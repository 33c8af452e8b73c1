// Package executor turns an ExecutorAction leaf into a running OS child
// process: building its environment, choosing an approvals bridge, and
// invoking the right binary for the action's type.
package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/outerlook/orchestratorcore/internal/orchestrator/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SpawnTimeout is the hard cap on how long a spawn may take to start.
const SpawnTimeout = 30 * time.Second

// Purpose is the external VK_EXECUTION_PURPOSE value.
type Purpose string

const (
	PurposeTask         Purpose = "task"
	PurposeSetup        Purpose = "setup"
	PurposeCleanup      Purpose = "cleanup"
	PurposeDevServer    Purpose = "dev_server"
	PurposeInternal     Purpose = "internal"
	PurposeConversation Purpose = "conversation"
	PurposeFeedback     Purpose = "feedback"
	PurposeReview       Purpose = "review_attention"
	PurposeMergeMessage Purpose = "merge_message"
)

// EnvContext supplies the fields VK_* environment variables are built
// from.
type EnvContext struct {
	ProjectName     string
	ProjectID       string
	TaskID          string
	WorkspaceID     string
	WorkspaceBranch string
	Purpose         Purpose
	RepoNames       []string
}

// LangfuseConfig optionally injects tracing env vars.
type LangfuseConfig struct {
	Enabled   bool
	PublicKey string
	SecretKey string
	Host      string
}

// BuildEnv constructs the child process environment: the host's own
// environment plus the VK_* overlay (and Langfuse triple if enabled).
func BuildEnv(ctx EnvContext, lf LangfuseConfig) []string {
	env := os.Environ()
	env = append(env,
		"VK_PROJECT_NAME="+ctx.ProjectName,
		"VK_PROJECT_ID="+ctx.ProjectID,
		"VK_TASK_ID="+ctx.TaskID,
		"VK_WORKSPACE_ID="+ctx.WorkspaceID,
		"VK_WORKSPACE_BRANCH="+ctx.WorkspaceBranch,
		"VK_EXECUTION_PURPOSE="+string(ctx.Purpose),
		"VK_REPO_NAMES="+strings.Join(ctx.RepoNames, ","),
	)
	if lf.Enabled {
		env = append(env,
			"TRACE_TO_LANGFUSE=true",
			"LANGFUSE_PUBLIC_KEY="+lf.PublicKey,
			"LANGFUSE_SECRET_KEY="+lf.SecretKey,
			"LANGFUSE_HOST="+lf.Host,
		)
	}
	return env
}

// ApprovalsKind selects which ApprovalsService variant a profile uses.
// The set is sealed: some coding-agent binaries speak a
// stdin/stdout approvals protocol, everything else gets a no-op.
type ApprovalsKind string

const (
	ApprovalsProtocolPeer ApprovalsKind = "protocol_peer"
	ApprovalsNoop         ApprovalsKind = "noop"
)

// ApprovalsService bridges an approvals protocol (or nothing) to a
// running child's stdin.
type ApprovalsService interface {
	// Attach wires the service to the child's stdin writer, returning a
	// release function to call on reap/stop.
	Attach(executionID string, stdin io.WriteCloser) (release func())
}

// NoopApprovals satisfies ApprovalsService for agents with no approvals
// protocol; it closes stdin immediately since nothing will write to it.
type NoopApprovals struct{}

func (NoopApprovals) Attach(executionID string, stdin io.WriteCloser) func() {
	stdin.Close()
	return func() {}
}

// ProtocolPeerApprovals keeps the child's stdin open and registers it in
// a process-wide peer map keyed by execution id, so an external approvals
// bridge can write decisions to it. Unregistering (release) must happen
// on reap/stop.
type ProtocolPeerApprovals struct {
	peers map[string]io.WriteCloser
}

func NewProtocolPeerApprovals() *ProtocolPeerApprovals {
	return &ProtocolPeerApprovals{peers: make(map[string]io.WriteCloser)}
}

func (p *ProtocolPeerApprovals) Attach(executionID string, stdin io.WriteCloser) func() {
	p.peers[executionID] = stdin
	return func() { delete(p.peers, executionID) }
}

func (p *ProtocolPeerApprovals) Peer(executionID string) (io.WriteCloser, bool) {
	w, ok := p.peers[executionID]
	return w, ok
}

// ApprovalsFor chooses the sealed variant for a coding-agent kind.
func ApprovalsFor(kind ApprovalsKind, protocolPeers *ProtocolPeerApprovals) ApprovalsService {
	if kind == ApprovalsProtocolPeer && protocolPeers != nil {
		return protocolPeers
	}
	return NoopApprovals{}
}

// Handle is a spawned child process plus the plumbing the supervisor
// needs to stream its output and eventually reap it.
type Handle struct {
	Cmd            *exec.Cmd
	Stdout         io.ReadCloser
	Stderr         io.ReadCloser
	ApprovalsRelease func()
}

// Spawn starts the binary for a leaf ExecutorAction. cwd is the
// worktree root (or a temp/home dir for conversation executions).
func Spawn(ctx context.Context, tracer trace.Tracer, binary string, args []string, cwd string, env []string, approvals ApprovalsService, executionID string) (*Handle, error) {
	spawnCtx, cancel := context.WithTimeout(ctx, SpawnTimeout)
	defer cancel()

	spawnCtx, span := tracer.Start(spawnCtx, "executor.spawn",
		trace.WithAttributes(
			attribute.String("executor.binary", binary),
			attribute.String("executor.execution_id", executionID),
		),
	)
	defer span.End()

	cmd := exec.Command(binary, args...)
	cmd.Dir = cwd
	cmd.Env = env
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	started := make(chan error, 1)
	go func() { started <- cmd.Start() }()

	select {
	case err := <-started:
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
	case <-spawnCtx.Done():
		return nil, &model.ExecutionTimeout{Duration: SpawnTimeout}
	}

	release := approvals.Attach(executionID, stdin)

	return &Handle{Cmd: cmd, Stdout: stdout, Stderr: stderr, ApprovalsRelease: release}, nil
}

var tracerOnce = otel.Tracer("orchestrator.executor")

// Tracer returns the package-level tracer used to wrap spans around
// spawn/reap.
func Tracer() trace.Tracer { return tracerOnce }
