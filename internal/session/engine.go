package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hochfrequenz/agent-workbench/internal/agent"
	"github.com/hochfrequenz/agent-workbench/internal/bus"
	"github.com/hochfrequenz/agent-workbench/internal/domain"
)

const (
	// scannerBufferSize bounds one stdout line; agents emit whole JSON
	// objects per line and tool results can be large.
	scannerBufferSize = 1024 * 1024
	// stderrTailLimit bounds the stderr excerpt kept on the process row.
	stderrTailLimit = 64 * 1024
)

// ErrEmptyInput is returned when a start prompt or follow-up message is
// blank after normalization.
var ErrEmptyInput = errors.New("empty input")

// Store is the slice of persistence the engine writes through.
type Store interface {
	CreateExecutionProcess(p *domain.ExecutionProcess) error
	FinishExecutionProcess(id uuid.UUID, status domain.ProcessStatus, exitCode *int, stdout, stderr string) error
	CreateMessage(m *domain.Message) error
	UpdateClaudeSessionID(id uuid.UUID, sessionID string) error
	SaveConversation(attemptID uuid.UUID, messages []json.RawMessage) error
}

// Engine drives agent executions: it reserves registry slots, spawns
// adapters, ingests their output streams and fans results out to the store
// and the event bus.
type Engine struct {
	registry *Registry
	agents   []agent.Agent
	store    Store
	bus      *bus.Bus
	logger   *slog.Logger
}

// NewEngine wires an engine. The registry may be shared with read-side
// consumers such as the HTTP API.
func NewEngine(registry *Registry, agents []agent.Agent, store Store, eventBus *bus.Bus, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		registry: registry,
		agents:   agents,
		store:    store,
		bus:      eventBus,
		logger:   logger,
	}
}

// Registry exposes the engine's slot registry for read-side consumers.
func (e *Engine) Registry() *Registry { return e.registry }

// SetAPIKey forwards a credential update to the adapter for a kind, when
// that adapter takes one.
func (e *Engine) SetAPIKey(kind domain.AgentKind, key string) {
	adapter, ok := agent.ForKind(kind, e.agents)
	if !ok {
		return
	}
	if keyed, ok := adapter.(interface{ SetAPIKey(string) }); ok {
		keyed.SetAPIKey(key)
	}
}

// Start launches a new execution for an attempt. The registry reservation
// happens first so concurrent starts for the same attempt collapse to one
// winner; the adapter spawn runs outside the lock and a failed spawn releases
// the reservation.
func (e *Engine) Start(ctx context.Context, task *domain.Task, attempt *domain.TaskAttempt, projectPath, prompt string) (uuid.UUID, error) {
	kind := attempt.Executor
	if kind == "" {
		kind = domain.AgentClaude
	}
	if !kind.Valid() {
		return uuid.Nil, fmt.Errorf("unknown agent kind %q", kind)
	}
	adapter, ok := agent.ForKind(kind, e.agents)
	if !ok {
		return uuid.Nil, fmt.Errorf("no adapter registered for agent kind %q", kind)
	}
	if prompt == "" {
		return uuid.Nil, fmt.Errorf("prompt: %w", ErrEmptyInput)
	}

	executionID := uuid.New()
	info := agent.SessionInfo{
		TaskID:           task.ID,
		AttemptID:        attempt.ID,
		WorkingDirectory: attempt.WorktreePath,
		ProjectPath:      projectPath,
		SessionID:        attempt.ClaudeSessionID,
	}
	conv := adapter.NewConverter(func(sessionID string) {
		e.onSessionID(executionID, info, sessionID)
	})

	if err := e.registry.Reserve(executionID, task.ID, attempt.ID, kind, info, conv); err != nil {
		return uuid.Nil, err
	}

	proc, err := adapter.StartSession(ctx, executionID, info)
	if err != nil {
		e.registry.Release(executionID)
		return uuid.Nil, fmt.Errorf("starting %s session: %w", kind, err)
	}
	oneShot := proc == nil
	if oneShot {
		// One-shot adapters spawn on the first input.
		proc, err = adapter.SendInput(ctx, executionID, info, prompt)
		if err != nil {
			e.registry.Release(executionID)
			return uuid.Nil, fmt.Errorf("starting %s session: %w", kind, err)
		}
	} else if _, err := adapter.SendInput(ctx, executionID, info, prompt); err != nil {
		_ = adapter.StopSession(executionID, info)
		e.registry.Release(executionID)
		return uuid.Nil, fmt.Errorf("sending prompt to %s session: %w", kind, err)
	}

	processID := uuid.New()
	e.registry.Commit(executionID, processID, info, oneShot)
	e.recordProcess(processID, attempt.ID, kind, proc)
	e.persistUserMessage(executionID, attempt.ID, prompt)

	if proc != nil {
		e.ingest(executionID, processID, info, conv, proc)
	}

	e.publishLifecycle(executionID, info, kind, StatusRunning)
	e.logger.Info("execution started",
		"execution_id", executionID,
		"task_id", task.ID,
		"attempt_id", attempt.ID,
		"agent", kind)
	return executionID, nil
}

// SendMessage forwards follow-up input to the attempt's execution. For
// long-lived adapters the input goes to the running child's stdin; for
// one-shot adapters a fresh subprocess is spawned resuming the recorded
// session, and the slot flips back to Running. Follow-up input for a
// one-shot adapter whose subprocess is still running is rejected: spawning
// a second subprocess would put two agents in the same worktree.
func (e *Engine) SendMessage(ctx context.Context, attemptID uuid.UUID, input string) error {
	input = agent.FollowUpPrompt(input)
	if input == "" {
		return ErrEmptyInput
	}
	slot, ok := e.registry.ForAttempt(attemptID)
	if !ok {
		return fmt.Errorf("attempt %s: %w", attemptID, ErrNoExecution)
	}
	if slot.OneShot() && slot.Status.Active() {
		return fmt.Errorf("attempt %s: process still running: %w", attemptID, ErrAttemptBusy)
	}
	adapter, ok := agent.ForKind(slot.Kind, e.agents)
	if !ok {
		return fmt.Errorf("no adapter registered for agent kind %q", slot.Kind)
	}

	proc, err := adapter.SendInput(ctx, slot.ExecutionID, slot.Info, input)
	if err != nil {
		return fmt.Errorf("sending input to %s session: %w", slot.Kind, err)
	}

	e.persistUserMessage(slot.ExecutionID, slot.AttemptID, input)

	if proc != nil {
		processID := uuid.New()
		e.registry.MarkRunning(slot.ExecutionID, processID)
		e.recordProcess(processID, slot.AttemptID, slot.Kind, proc)
		conv := e.registry.converter(slot.ExecutionID)
		e.ingest(slot.ExecutionID, processID, slot.Info, conv, proc)
		e.publishLifecycle(slot.ExecutionID, slot.Info, slot.Kind, StatusRunning)
	} else {
		e.publishConversationState(slot.ExecutionID)
	}
	return nil
}

// StopExecution removes the slot immediately so the attempt frees up, then
// kills the process tree outside the lock. The EOF path racing in from the
// dying readers sees the slot gone and skips its own completion handling.
func (e *Engine) StopExecution(executionID uuid.UUID) error {
	slot, ok := e.registry.Remove(executionID)
	if !ok {
		return fmt.Errorf("execution %s: %w", executionID, ErrNoExecution)
	}
	adapter, aok := agent.ForKind(slot.Kind, e.agents)
	if aok {
		if err := adapter.StopSession(executionID, slot.Info); err != nil {
			e.logger.Warn("stopping session", "execution_id", executionID, "error", err)
		}
	}

	if slot.Status.Active() {
		if err := e.store.FinishExecutionProcess(slot.ProcessID(), domain.ProcessKilled, nil, "", ""); err != nil {
			e.logger.Error("finishing killed process", "execution_id", executionID, "error", err)
		}
		e.snapshotConversation(slot)
		now := time.Now().UTC()
		e.bus.Publish(bus.TopicAgentCompleted, AgentCompletedEvent{
			ExecutionID: executionID,
			TaskID:      slot.TaskID,
			AttemptID:   slot.AttemptID,
			Status:      StatusStopped,
			FinishedAt:  now,
		})
	}
	e.publishLifecycle(executionID, slot.Info, slot.Kind, StatusStopped)
	e.logger.Info("execution stopped", "execution_id", executionID, "attempt_id", slot.AttemptID)
	return nil
}

// StopAttempt stops whatever execution the attempt has, if any.
func (e *Engine) StopAttempt(attemptID uuid.UUID) error {
	slot, ok := e.registry.ForAttempt(attemptID)
	if !ok {
		return fmt.Errorf("attempt %s: %w", attemptID, ErrNoExecution)
	}
	return e.StopExecution(slot.ExecutionID)
}

// StateForAttempt snapshots the live conversation for an attempt.
func (e *Engine) StateForAttempt(attemptID uuid.UUID) (ConversationState, bool) {
	slot, ok := e.registry.ForAttempt(attemptID)
	if !ok {
		return ConversationState{}, false
	}
	return stateFromSlot(slot), true
}

// RunningSummaries lists one summary per active execution.
func (e *Engine) RunningSummaries() []ExecutionSummary {
	slots := e.registry.Running()
	out := make([]ExecutionSummary, 0, len(slots))
	for _, slot := range slots {
		out = append(out, ExecutionSummary{
			TaskID:    slot.TaskID,
			AttemptID: slot.AttemptID,
			AgentType: slot.Kind,
			IsRunning: true,
			StartedAt: slot.StartedAt,
		})
	}
	return out
}

// StopAll kills every active execution; used on daemon shutdown.
func (e *Engine) StopAll() {
	for _, slot := range e.registry.Running() {
		if err := e.StopExecution(slot.ExecutionID); err != nil && !errors.Is(err, ErrNoExecution) {
			e.logger.Warn("stopping execution on shutdown", "execution_id", slot.ExecutionID, "error", err)
		}
	}
}

func stateFromSlot(slot Slot) ConversationState {
	attemptID := slot.AttemptID
	return ConversationState{
		TaskID:    slot.TaskID,
		AttemptID: &attemptID,
		AgentType: slot.Kind,
		IsRunning: slot.Status.Active(),
		Messages:  slot.Messages,
	}
}

// ingest owns a subprocess's streams: one goroutine per stream, then Wait.
// Readers block on the pipes; EOF on both is the completion signal.
func (e *Engine) ingest(executionID, processID uuid.UUID, info agent.SessionInfo, conv agent.MessageConverter, proc *agent.Process) {
	var wg sync.WaitGroup
	stderrTail := &boundedTail{limit: stderrTailLimit}

	wg.Add(2)
	go func() {
		defer wg.Done()
		e.readStdout(executionID, info, conv, proc)
	}()
	go func() {
		defer wg.Done()
		e.readStderr(executionID, info, proc, stderrTail)
	}()

	go func() {
		wg.Wait()
		var waitErr error
		if proc.Cmd != nil {
			waitErr = proc.Cmd.Wait()
		}
		e.finishProcess(executionID, processID, info, waitErr, stderrTail.String())
	}()
}

func (e *Engine) readStdout(executionID uuid.UUID, info agent.SessionInfo, conv agent.MessageConverter, proc *agent.Process) {
	scanner := bufio.NewScanner(proc.Stdout)
	scanner.Buffer(make([]byte, 64*1024), scannerBufferSize)
	for scanner.Scan() {
		line := scanner.Text()
		if conv == nil {
			continue
		}
		msg, ok := conv.Convert(line)
		if !ok {
			continue
		}
		e.registry.AppendMessage(executionID, msg)
		e.persistMessage(info.AttemptID, msg)
		e.bus.Publish(bus.TopicAgentMessage, AgentMessageEvent{
			ExecutionID: executionID,
			TaskID:      info.TaskID,
			AttemptID:   info.AttemptID,
			Message:     msg,
		})
	}
	if err := scanner.Err(); err != nil {
		e.logger.Warn("reading agent stdout", "execution_id", executionID, "error", err)
	}
}

func (e *Engine) readStderr(executionID uuid.UUID, info agent.SessionInfo, proc *agent.Process, tail *boundedTail) {
	scanner := bufio.NewScanner(proc.Stderr)
	scanner.Buffer(make([]byte, 64*1024), scannerBufferSize)
	for scanner.Scan() {
		line := scanner.Text()
		tail.Write(line)
		e.bus.Publish(bus.TopicAgentOutput, AgentOutputEvent{
			ExecutionID: executionID,
			TaskID:      info.TaskID,
			OutputType:  OutputStderr,
			Content:     line,
			Timestamp:   time.Now().UTC(),
		})
	}
	if err := scanner.Err(); err != nil {
		e.logger.Warn("reading agent stderr", "execution_id", executionID, "error", err)
	}
}

// finishProcess runs once per subprocess after both streams hit EOF. When
// the registry transition fails the execution was already stopped, or the
// EOF belongs to a subprocess that no longer owns the slot; either way the
// completion was handled elsewhere.
func (e *Engine) finishProcess(executionID, processID uuid.UUID, info agent.SessionInfo, waitErr error, stderrTail string) {
	status := StatusStopped
	procStatus := domain.ProcessCompleted
	zero := 0
	exitCode := &zero
	if waitErr != nil {
		status = StatusError
		procStatus = domain.ProcessFailed
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code := exitErr.ExitCode()
			exitCode = &code
		} else {
			exitCode = nil
		}
	}

	if !e.registry.Finish(executionID, processID, status) {
		return
	}
	slot, _ := e.registry.Get(executionID)

	if err := e.store.FinishExecutionProcess(processID, procStatus, exitCode, "", stderrTail); err != nil {
		e.logger.Error("finishing execution process", "execution_id", executionID, "error", err)
	}
	e.snapshotConversation(slot)

	e.bus.Publish(bus.TopicAgentCompleted, AgentCompletedEvent{
		ExecutionID: executionID,
		TaskID:      info.TaskID,
		AttemptID:   info.AttemptID,
		Status:      status,
		ExitCode:    exitCode,
		FinishedAt:  time.Now().UTC(),
	})
	e.publishLifecycle(executionID, info, slot.Kind, status)
	e.logger.Info("execution process finished",
		"execution_id", executionID,
		"attempt_id", info.AttemptID,
		"status", status)
}

func (e *Engine) onSessionID(executionID uuid.UUID, info agent.SessionInfo, sessionID string) {
	e.registry.SetSessionID(executionID, sessionID)
	if err := e.store.UpdateClaudeSessionID(info.AttemptID, sessionID); err != nil {
		e.logger.Error("persisting session id", "attempt_id", info.AttemptID, "error", err)
	}
	e.bus.Publish(bus.TopicClaudeSessionID, SessionIDEvent{
		TaskID:    info.TaskID,
		AttemptID: info.AttemptID,
		SessionID: sessionID,
	})
}

func (e *Engine) recordProcess(processID, attemptID uuid.UUID, kind domain.AgentKind, proc *agent.Process) {
	row := &domain.ExecutionProcess{
		ID:            processID,
		TaskAttemptID: attemptID,
		ProcessType:   domain.ProcessCodingAgent,
		ExecutorType:  kind,
		Status:        domain.ProcessRunning,
		Command:       string(kind),
		StartedAt:     time.Now().UTC(),
	}
	if proc != nil && proc.Cmd != nil {
		row.Command = proc.Cmd.Path
		if len(proc.Cmd.Args) > 1 {
			row.Args = proc.Cmd.Args[1:]
		}
		row.WorkingDirectory = proc.Cmd.Dir
	}
	if err := e.store.CreateExecutionProcess(row); err != nil {
		e.logger.Error("recording execution process", "process_id", processID, "error", err)
	}
}

func (e *Engine) persistUserMessage(executionID, attemptID uuid.UUID, content string) {
	msg := agent.NewMessage(agent.TypeUser, agent.UserPayload{Content: content})
	e.registry.AppendMessage(executionID, msg)
	e.persistMessage(attemptID, msg)
	e.publishConversationState(executionID)
}

func (e *Engine) persistMessage(attemptID uuid.UUID, msg agent.UnifiedMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		e.logger.Error("encoding message", "attempt_id", attemptID, "error", err)
		return
	}
	row := &domain.Message{
		ID:          uuid.New(),
		AttemptID:   attemptID,
		Role:        roleFor(msg.Type),
		ContentJSON: string(data),
		Timestamp:   msg.Timestamp,
	}
	if err := e.store.CreateMessage(row); err != nil {
		e.logger.Error("persisting message", "attempt_id", attemptID, "error", err)
	}
}

// snapshotConversation writes the slot transcript as the attempt's stored
// conversation so cold reads work after the slot is evicted.
func (e *Engine) snapshotConversation(slot Slot) {
	if len(slot.Messages) == 0 {
		return
	}
	raw := make([]json.RawMessage, 0, len(slot.Messages))
	for _, msg := range slot.Messages {
		data, err := json.Marshal(msg)
		if err != nil {
			e.logger.Error("encoding conversation snapshot", "attempt_id", slot.AttemptID, "error", err)
			return
		}
		raw = append(raw, data)
	}
	if err := e.store.SaveConversation(slot.AttemptID, raw); err != nil {
		e.logger.Error("saving conversation snapshot", "attempt_id", slot.AttemptID, "error", err)
	}
}

// publishLifecycle emits the coupled status events every transition produces:
// the attempt's execution update, the task summary and the conversation
// state.
func (e *Engine) publishLifecycle(executionID uuid.UUID, info agent.SessionInfo, kind domain.AgentKind, status Status) {
	e.bus.Publish(bus.TopicAttemptExecution, AttemptExecutionEvent{
		AttemptID:   info.AttemptID,
		ExecutionID: executionID,
		Status:      status,
	})
	e.bus.Publish(bus.TopicExecutionSummary, ExecutionSummary{
		TaskID:    info.TaskID,
		AttemptID: info.AttemptID,
		AgentType: kind,
		IsRunning: status.Active(),
	})
	e.publishConversationState(executionID)
}

func (e *Engine) publishConversationState(executionID uuid.UUID) {
	slot, ok := e.registry.Get(executionID)
	if !ok {
		return
	}
	e.bus.Publish(bus.TopicConversationState, ConversationStateEvent{
		TaskID: slot.TaskID,
		State:  stateFromSlot(slot),
	})
}

func roleFor(t agent.MessageType) domain.MessageRole {
	switch t {
	case agent.TypeUser:
		return domain.RoleUser
	case agent.TypeAssistant, agent.TypeThinking:
		return domain.RoleAssistant
	case agent.TypeToolUse, agent.TypeToolResult:
		return domain.RoleTool
	default:
		return domain.RoleSystem
	}
}

// boundedTail keeps the trailing bytes of a stream up to a limit.
type boundedTail struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (t *boundedTail) Write(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, line...)
	t.buf = append(t.buf, '\n')
	if len(t.buf) > t.limit {
		t.buf = t.buf[len(t.buf)-t.limit:]
	}
}

func (t *boundedTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
