// Package supervisor implements the Execution Supervisor:
// spawning coding-agent and script child processes inside per-task
// worktrees, streaming their output into the Message Store, and reaping
// them through a two-participant race between an executor-signaled
// completion and the OS exit status.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/executor"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/gitsnapshot"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/guard"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/model"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/msgstore"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/normalizer"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// interruptGrace is how long stop/reap wait for a graceful exit after
// sending an interrupt, before force-killing the process group.
const interruptGrace = 5 * time.Second

// NormalizerFor resolves a coding-agent profile id to the Normalizer it
// should subscribe to the store with; callers unaware of a profile's
// stream format return normalizer.Noop{}.
type NormalizerFor func(profileID string) normalizer.Normalizer

// Supervisor spawns, tracks, and reaps execution child processes.
type Supervisor struct {
	store         *store.Store
	guard         *guard.Guard
	snapshot      *gitsnapshot.Snapshot
	registry      *executor.Registry
	peers         *executor.ProtocolPeerApprovals
	normalizerFor NormalizerFor
	langfuse      executor.LangfuseConfig
	tracer        trace.Tracer

	mu                     sync.Mutex
	running                map[string]*runningExecution
	stores                 map[string]*msgstore.Store
	feedbackPendingCleanup map[string]struct{}

	// onReaped is the late-bound hook into the Pipeline Engine
	// (try_start_next_action / finalize_task); set after construction to
	// break the supervisor<->pipeline ownership cycle.
	onReaped func(ctx context.Context, execRow *model.ExecutionProcess)
	// onEvent is the late-bound hook into the Domain Event Dispatcher.
	onEvent func(ctx context.Context, name string, execRow *model.ExecutionProcess)
	// onQueueDrain is invoked after every reap, "fair use".
	onQueueDrain func(ctx context.Context)
}

type runningExecution struct {
	execID      string
	workspaceID string
	taskID      string
	runReason   model.RunReason
	handle      *executor.Handle
	doneSignal  chan model.ExecutionStatus
	finished    chan struct{}
	wasStopped  bool
	mu          sync.Mutex
}

func newRunningExecution(execID, workspaceID, taskID string, runReason model.RunReason, handle *executor.Handle) *runningExecution {
	return &runningExecution{
		execID:      execID,
		workspaceID: workspaceID,
		taskID:      taskID,
		runReason:   runReason,
		handle:      handle,
		doneSignal:  make(chan model.ExecutionStatus, 1),
		finished:    make(chan struct{}),
	}
}

func (r *runningExecution) markStopped() {
	r.mu.Lock()
	r.wasStopped = true
	r.mu.Unlock()
}

func (r *runningExecution) stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wasStopped
}

// New constructs a Supervisor. normalizerFor may be nil, in which case
// every profile gets normalizer.Noop{}.
func New(st *store.Store, g *guard.Guard, snap *gitsnapshot.Snapshot, registry *executor.Registry, peers *executor.ProtocolPeerApprovals, lf executor.LangfuseConfig, normalizerFor NormalizerFor) *Supervisor {
	if normalizerFor == nil {
		normalizerFor = func(string) normalizer.Normalizer { return normalizer.Noop{} }
	}
	return &Supervisor{
		store:                  st,
		guard:                  g,
		snapshot:               snap,
		registry:               registry,
		peers:                  peers,
		normalizerFor:          normalizerFor,
		langfuse:               lf,
		tracer:                 otel.Tracer("orchestrator.supervisor"),
		running:                make(map[string]*runningExecution),
		stores:                 make(map[string]*msgstore.Store),
		feedbackPendingCleanup: make(map[string]struct{}),
	}
}

// SetOnReaped registers the Pipeline Engine callback invoked after every
// reap's post-exit bookkeeping completes.
func (s *Supervisor) SetOnReaped(cb func(context.Context, *model.ExecutionProcess)) { s.onReaped = cb }

// SetOnEvent registers the Domain Event Dispatcher callback.
func (s *Supervisor) SetOnEvent(cb func(context.Context, string, *model.ExecutionProcess)) {
	s.onEvent = cb
}

// SetOnQueueDrain registers the Concurrency Gate's process_queue, invoked
// as a follow-up task after every reap.
func (s *Supervisor) SetOnQueueDrain(cb func(context.Context)) { s.onQueueDrain = cb }

// MsgStore returns the live message store for a running (or recently
// reaped but not yet evicted) execution, or nil.
func (s *Supervisor) MsgStore(execID string) *msgstore.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stores[execID]
}

// LastAssistantText returns the last assistant message pushed to execID's
// message store, or "" if the store has already been evicted or no
// assistant message was ever pushed. Used by the pipeline engine's
// feedback and review-attention parsers.
func (s *Supervisor) LastAssistantText(execID string) string {
	msgStore := s.MsgStore(execID)
	if msgStore == nil {
		return ""
	}
	return lastAssistantText(msgStore.GetHistory())
}

// StartParams carries everything start_execution needs beyond the action
// tree itself.
type StartParams struct {
	Workspace   *model.Workspace
	Repos       []model.WorkspaceRepo
	TaskID      string
	Action      *model.ExecutorAction
	RunReason   model.RunReason
	SessionID   string
	Prompt      string // for CodingAgentTurn row, empty for non-agent actions
	EnvContext  executor.EnvContext
	ProfileID   string // for normalizer lookup; empty for ScriptRequest
}

// StartExecution implements start_execution: task-status
// precondition, repo HEAD snapshot, row creation, turn row, spawn, and
// normalizer/log-writer subscription.
func (s *Supervisor) StartExecution(ctx context.Context, p StartParams) (*model.ExecutionProcess, error) {
	ctx, span := s.tracer.Start(ctx, "supervisor.start_execution",
		trace.WithAttributes(
			attribute.String("supervisor.workspace_id", p.Workspace.ID),
			attribute.String("supervisor.run_reason", string(p.RunReason)),
		))
	defer span.End()

	if p.RunReason != model.RunDevServer && p.RunReason != model.RunInternalAgent && p.TaskID != "" {
		if task, err := s.store.Tasks.Get(ctx, p.TaskID); err == nil && task != nil && task.Status != model.TaskInProgress {
			_ = s.store.Tasks.SetStatus(ctx, p.TaskID, model.TaskInProgress)
		}
	}

	if len(p.Repos) == 0 {
		return nil, fmt.Errorf("start_execution: workspace %s has no repos", p.Workspace.ID)
	}
	repoStates, err := s.snapshot.CaptureHead(ctx, p.Workspace.ID, p.Repos)
	if err != nil {
		return nil, fmt.Errorf("capture head: %w", err)
	}

	execID := uuid.NewString()
	execRow := &model.ExecutionProcess{
		ID:        execID,
		SessionID: p.SessionID,
		Action:    p.Action,
		RunReason: p.RunReason,
		Status:    model.ExecRunning,
		CreatedAt: time.Now(),
	}
	if err := s.store.Executions.Create(ctx, execRow); err != nil {
		return nil, fmt.Errorf("persist execution row: %w", err)
	}
	for i := range repoStates {
		repoStates[i].ExecutionID = execID
		_ = s.store.Executions.UpsertRepoState(ctx, repoStates[i])
	}

	if p.Action.IsCodingAgent() {
		turn := &model.CodingAgentTurn{ID: uuid.NewString(), ExecutionProcessID: execID, Prompt: p.Prompt, AgentSessionID: p.Action.AgentSessionID}
		_ = s.store.Turns.Create(ctx, turn)
	}

	handle, spawnErr := s.startExecutionInner(ctx, p.Workspace, p.Action, p.RunReason, execID, p.EnvContext)
	if spawnErr != nil {
		span.RecordError(spawnErr)
		_ = s.store.Executions.Complete(ctx, execID, model.ExecFailed, nil, nil, nil, time.Now())
		if p.TaskID != "" {
			_ = s.store.Tasks.SetStatus(ctx, p.TaskID, model.TaskInReview)
		}
		execRow.Status = model.ExecFailed
		st := msgstore.New()
		st.Push(msgstore.Message{Kind: msgstore.KindStderr, Chunk: []byte(spawnErr.Error() + "\n")})
		st.PushFinished()
		return execRow, spawnErr
	}

	msgStore := msgstore.New()
	s.mu.Lock()
	s.stores[execID] = msgStore
	s.mu.Unlock()

	s.normalizerFor(p.ProfileID).NormalizeLogs(msgStore)
	msgStore.SpawnForwarder(handle.Stdout, msgstore.KindStdout)
	msgStore.SpawnForwarder(handle.Stderr, msgstore.KindStderr)

	rexec := newRunningExecution(execID, p.Workspace.ID, p.TaskID, p.RunReason, handle)
	s.mu.Lock()
	s.running[execID] = rexec
	s.mu.Unlock()

	go s.monitorExit(rexec, msgStore)

	return execRow, nil
}

// startExecutionInner implements start_execution_inner:
// workspace-guard enforcement, worktree resolution, approvals bridge
// selection, environment construction, and the bounded spawn.
func (s *Supervisor) startExecutionInner(ctx context.Context, ws *model.Workspace, action *model.ExecutorAction, runReason model.RunReason, execID string, envCtx executor.EnvContext) (*executor.Handle, error) {
	if runReason != model.RunDevServer {
		if !s.guard.Insert(ws.ID) {
			return nil, &model.WorkspaceAlreadyRunning{WorkspaceID: ws.ID}
		}
	}

	if ws.ContainerRef == "" {
		if runReason != model.RunDevServer {
			s.guard.Remove(ws.ID)
		}
		return nil, fmt.Errorf("workspace %s has no container_ref", ws.ID)
	}
	cwd := ws.ContainerRef
	if action.WorkingDir != "" {
		cwd = filepath.Join(ws.ContainerRef, action.WorkingDir)
	}

	binary, args, err := executor.BuildCommand(action, s.registry)
	if err != nil {
		if runReason != model.RunDevServer {
			s.guard.Remove(ws.ID)
		}
		return nil, err
	}

	approvalsKind := executor.ApprovalsNoop
	if action.IsCodingAgent() {
		if profile, ok := s.registry.Get(action.ExecutorProfileID); ok {
			approvalsKind = profile.Approvals
		}
	}
	approvals := executor.ApprovalsFor(approvalsKind, s.peers)

	env := executor.BuildEnv(envCtx, s.langfuse)

	handle, err := executor.Spawn(ctx, s.tracer, binary, args, cwd, env, approvals, execID)
	if err != nil {
		if runReason != model.RunDevServer {
			s.guard.Remove(ws.ID)
		}
		return nil, err
	}
	return handle, nil
}

// StartConversationExecution implements start_conversation_execution: a
// disposable, git-free execution running in a temp working directory.
func (s *Supervisor) StartConversationExecution(ctx context.Context, conversationSessionID string, action *model.ExecutorAction, profileID string) (*model.ExecutionProcess, error) {
	execID := uuid.NewString()
	execRow := &model.ExecutionProcess{
		ID:                     execID,
		ConversationSessionID:  conversationSessionID,
		Action:                 action,
		RunReason:              model.RunDisposableConversation,
		Status:                 model.ExecRunning,
		CreatedAt:              time.Now(),
	}
	if err := s.store.Executions.Create(ctx, execRow); err != nil {
		return nil, fmt.Errorf("persist conversation execution row: %w", err)
	}

	binary, args, err := executor.BuildCommand(action, s.registry)
	if err != nil {
		_ = s.store.Executions.Complete(ctx, execID, model.ExecFailed, nil, nil, nil, time.Now())
		return execRow, err
	}

	cwd, err := os.MkdirTemp("", "orchestrator-conversation-*")
	if err != nil {
		_ = s.store.Executions.Complete(ctx, execID, model.ExecFailed, nil, nil, nil, time.Now())
		return execRow, err
	}

	handle, err := executor.Spawn(ctx, s.tracer, binary, args, cwd, os.Environ(), executor.NoopApprovals{}, execID)
	if err != nil {
		_ = s.store.Executions.Complete(ctx, execID, model.ExecFailed, nil, nil, nil, time.Now())
		return execRow, err
	}

	msgStore := msgstore.New()
	s.mu.Lock()
	s.stores[execID] = msgStore
	s.mu.Unlock()
	s.normalizerFor(profileID).NormalizeLogs(msgStore)
	msgStore.SpawnForwarder(handle.Stdout, msgstore.KindStdout)
	msgStore.SpawnForwarder(handle.Stderr, msgstore.KindStderr)

	rexec := newRunningExecution(execID, "", "", model.RunDisposableConversation, handle)
	s.mu.Lock()
	s.running[execID] = rexec
	s.mu.Unlock()
	go s.monitorExit(rexec, msgStore)

	return execRow, nil
}

// Signal delivers an executor-signaled completion (used by coding agents
// that report Success/Failure over their own protocol instead of simply
// exiting), the first race participant in the reap algorithm.
func (s *Supervisor) Signal(execID string, status model.ExecutionStatus) {
	s.mu.Lock()
	rexec, ok := s.running[execID]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case rexec.doneSignal <- status:
	default:
	}
}

// monitorExit is the reap algorithm's exit monitor: a race between the
// OS process exiting and an explicit executor signal.
func (s *Supervisor) monitorExit(rexec *runningExecution, msgStore *msgstore.Store) {
	osExit := make(chan error, 1)
	go func() { osExit <- rexec.handle.Cmd.Wait() }()

	var status model.ExecutionStatus
	var exitCode int

	select {
	case waitErr := <-osExit:
		exitCode = exitCodeOf(waitErr)
		if exitCode == 0 {
			status = model.ExecCompleted
		} else {
			status = model.ExecFailed
		}
	case signaled := <-rexec.doneSignal:
		interruptAndWait(rexec.handle, osExit)
		status = signaled
		if status == model.ExecCompleted {
			exitCode = 0
		} else {
			exitCode = 1
		}
	}

	s.reap(rexec, msgStore, status, exitCode)
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

// interruptAndWait implements the executor-signal-win branch: graceful
// interrupt with a bounded wait, falling back to force-kill.
func interruptAndWait(handle *executor.Handle, osExit chan error) {
	_ = executor.InterruptGroup(handle.Cmd)
	select {
	case <-osExit:
		return
	case <-time.After(interruptGrace):
	}
	_ = executor.ForceKillGroup(handle.Cmd)
	<-osExit
}

// reap runs the post-exit bookkeeping in order: completion status,
// event dispatch, summary finalization, after-HEAD capture, queue
// drain, and store eviction.
func (s *Supervisor) reap(rexec *runningExecution, msgStore *msgstore.Store, status model.ExecutionStatus, exitCode int) {
	ctx := context.Background()

	if !rexec.stopped() {
		ec := exitCode
		inputTokens, outputTokens := lastTokenUsage(msgStore.GetHistory())
		_ = s.store.Executions.Complete(ctx, rexec.execID, status, &ec, inputTokens, outputTokens, time.Now())
	}

	execRow, err := s.store.Executions.Get(ctx, rexec.execID)
	if err != nil {
		slog.Error("supervisor: reap could not reload execution", "execution_id", rexec.execID, "error", err)
		execRow = &model.ExecutionProcess{ID: rexec.execID, RunReason: rexec.runReason, Status: status}
	}

	if s.onEvent != nil {
		s.onEvent(ctx, "ExecutionCompleted", execRow)
	}

	s.finalizeSummary(ctx, rexec.execID, msgStore)

	if s.onReaped != nil {
		s.onReaped(ctx, execRow)
	}

	if rexec.workspaceID != "" {
		s.captureAfterHead(ctx, rexec.workspaceID, rexec.execID)
	}

	if s.onQueueDrain != nil {
		go s.onQueueDrain(context.Background())
	}

	s.mu.Lock()
	_, pendingCleanup := s.feedbackPendingCleanup[rexec.execID]
	delete(s.running, rexec.execID)
	s.mu.Unlock()

	if !pendingCleanup {
		s.evictStore(rexec.execID, msgStore)
	}

	if rexec.runReason != model.RunDevServer {
		s.guard.Remove(rexec.workspaceID)
	}

	close(rexec.finished)
}

// maxTurnSummaryRunes caps CodingAgentTurn.summary.
const maxTurnSummaryRunes = 4096

// finalizeSummary updates CodingAgentTurn.summary with the last
// assistant normalized entry, truncated to ≤4096 chars at a rune
// boundary, if not already set.
func (s *Supervisor) finalizeSummary(ctx context.Context, execID string, msgStore *msgstore.Store) {
	turn, err := s.store.Turns.ByExecution(ctx, execID)
	if err != nil || turn == nil {
		return
	}

	if turn.AgentSessionID == "" {
		if sid := lastAgentSessionID(msgStore.GetHistory()); sid != "" {
			_ = s.store.Turns.SetAgentSessionID(ctx, turn.ID, sid)
		}
	}

	if turn.Summary != nil {
		return
	}
	text := lastAssistantText(msgStore.GetHistory())
	if text == "" {
		return
	}
	runes := []rune(text)
	if len(runes) > maxTurnSummaryRunes {
		text = string(runes[:maxTurnSummaryRunes]) + "…"
	}
	_ = s.store.Turns.SetSummary(ctx, turn.ID, text)
}

// lastAgentSessionID scans history in reverse for the agent-assigned
// session id the normalizer surfaces as a KindSessionID message, so a
// later follow-up can resume the same agent-side conversation.
func lastAgentSessionID(history []msgstore.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Kind == msgstore.KindSessionID && history[i].SessionID != "" {
			return history[i].SessionID
		}
	}
	return ""
}

// lastTokenUsage scans history in reverse for the latest TokenUsage
// normalized entry, returning nil, nil if none was ever
// pushed.
func lastTokenUsage(history []msgstore.Message) (input, output *int) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Kind != msgstore.KindJSONPatch {
			continue
		}
		for j := len(history[i].Patch) - 1; j >= 0; j-- {
			var tokens *normalizer.TokenUsage
			switch v := history[i].Patch[j].Value.(type) {
			case normalizer.Entry:
				tokens = v.Tokens
			case map[string]any:
				if raw, ok := v["tokens"].(map[string]any); ok {
					in, _ := raw["input"].(float64)
					out, _ := raw["output"].(float64)
					tokens = &normalizer.TokenUsage{Input: int(in), Output: int(out)}
				}
			}
			if tokens != nil {
				in, out := tokens.Input, tokens.Output
				return &in, &out
			}
		}
	}
	return nil, nil
}

func lastAssistantText(history []msgstore.Message) string {
	var last string
	for _, msg := range history {
		if msg.Kind != msgstore.KindJSONPatch {
			continue
		}
		for _, op := range msg.Patch {
			switch v := op.Value.(type) {
			case normalizer.Entry:
				if v.Type == "assistant_message" && v.Text != "" {
					last = v.Text
				}
			case map[string]any:
				if v["type"] == "assistant_message" {
					if text, ok := v["text"].(string); ok && text != "" {
						last = text
					}
				}
			}
		}
	}
	return last
}

func (s *Supervisor) captureAfterHead(ctx context.Context, workspaceID, execID string) {
	states, err := s.store.Executions.RepoStates(ctx, execID)
	if err != nil {
		return
	}
	s.snapshot.CaptureAfterHead(ctx, workspaceID, states)
	for _, st := range states {
		_ = s.store.Executions.UpsertRepoState(ctx, st)
	}
}

// evictStore pushes Finished, waits briefly for stragglers, then drops
// the store reference.
func (s *Supervisor) evictStore(execID string, msgStore *msgstore.Store) {
	msgStore.PushFinished()
	time.Sleep(50 * time.Millisecond)
	s.mu.Lock()
	delete(s.stores, execID)
	s.mu.Unlock()
}

// MarkFeedbackPendingCleanup flags execID so reap skips store eviction;
// the feedback parser (pipeline engine) evicts once it has read the last
// assistant message.
func (s *Supervisor) MarkFeedbackPendingCleanup(execID string) {
	s.mu.Lock()
	s.feedbackPendingCleanup[execID] = struct{}{}
	s.mu.Unlock()
}

// EvictAfterFeedback lets the feedback parser evict a store it deferred
// eviction for.
func (s *Supervisor) EvictAfterFeedback(execID string) {
	s.mu.Lock()
	msgStore, ok := s.stores[execID]
	delete(s.feedbackPendingCleanup, execID)
	s.mu.Unlock()
	if ok {
		s.evictStore(execID, msgStore)
	}
}

// StopExecution implements the stop algorithm: an orphan path
// when the child isn't in memory (a restart happened mid-run), otherwise
// graceful interrupt with bounded wait and force-kill fallback.
func (s *Supervisor) StopExecution(ctx context.Context, execID string, targetStatus model.ExecutionStatus) error {
	s.mu.Lock()
	rexec, ok := s.running[execID]
	s.mu.Unlock()

	execRow, err := s.store.Executions.Get(ctx, execID)
	if err != nil {
		return err
	}

	if !ok {
		return s.stopOrphan(ctx, execID, execRow, targetStatus)
	}

	rexec.markStopped()
	ec := 1
	if targetStatus == model.ExecCompleted {
		ec = 0
	}
	if err := s.store.Executions.Complete(ctx, execID, targetStatus, &ec, nil, nil, time.Now()); err != nil {
		return err
	}

	// Hand off to monitorExit's own cmd.Wait() goroutine rather than
	// waiting on the child a second time: doneSignal wins the reap race,
	// monitorExit runs the graceful-interrupt/force-kill fallback, then
	// reap() does the store eviction, after-HEAD capture, and guard
	// release we'd otherwise have to duplicate here.
	select {
	case rexec.doneSignal <- targetStatus:
	default:
	}
	<-rexec.finished

	if rexec.taskID != "" && rexec.runReason != model.RunDevServer {
		_ = s.store.Tasks.SetStatus(ctx, rexec.taskID, model.TaskInReview)
	}
	return nil
}

func (s *Supervisor) stopOrphan(ctx context.Context, execID string, execRow *model.ExecutionProcess, targetStatus model.ExecutionStatus) error {
	ec := 1
	if targetStatus == model.ExecCompleted {
		ec = 0
	}
	if err := s.store.Executions.Complete(ctx, execID, targetStatus, &ec, nil, nil, time.Now()); err != nil {
		return err
	}
	s.mu.Lock()
	msgStore := s.stores[execID]
	delete(s.stores, execID)
	s.mu.Unlock()
	if msgStore != nil {
		msgStore.PushFinished()
	}
	// execRow's task isn't tracked on the execution_processes row itself;
	// callers sweeping orphans (KillAllRunningProcesses) don't have a task
	// to flip to InReview and leave that to whatever next touches the task.
	_ = execRow
	return nil
}

// TryStop stops every in-memory execution running on workspaceID,
// optionally including DevServer executions.
func (s *Supervisor) TryStop(ctx context.Context, workspaceID string, includeDevServer bool) error {
	s.mu.Lock()
	var matches []string
	for id, rexec := range s.running {
		if rexec.workspaceID != workspaceID {
			continue
		}
		if rexec.runReason == model.RunDevServer && !includeDevServer {
			continue
		}
		matches = append(matches, id)
	}
	s.mu.Unlock()

	var firstErr error
	for _, id := range matches {
		if err := s.StopExecution(ctx, id, model.ExecKilled); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// KillAllRunningProcesses is the startup sweep: every row left Running
// from a previous process has no in-memory handle (the process
// restarted), so each is treated as an orphan.
func (s *Supervisor) KillAllRunningProcesses(ctx context.Context) error {
	rows, err := s.store.Executions.AllRunning(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := s.stopOrphan(ctx, row.ID, row, model.ExecFailed); err != nil {
			slog.Error("supervisor: failed to sweep orphaned execution", "execution_id", row.ID, "error", err)
		}
	}
	return nil
}
