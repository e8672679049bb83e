package agent

import (
	"context"
	"io"
	"os/exec"

	"github.com/google/uuid"

	"github.com/hochfrequenz/agent-workbench/internal/domain"
)

// SessionInfo identifies one execution to an adapter. It is passed by value
// on every call so adapters keep no per-session state beyond their child
// process registry.
type SessionInfo struct {
	TaskID           uuid.UUID `json:"task_id"`
	AttemptID        uuid.UUID `json:"attempt_id"`
	WorkingDirectory string    `json:"working_directory"`
	ProjectPath      string    `json:"project_path,omitempty"`
	SessionID        string    `json:"session_id,omitempty"`
}

// Process is one spawned agent subprocess plus its stream ends. The caller
// owns ingestion: it must drain Stdout and Stderr and then Wait.
type Process struct {
	Cmd    *exec.Cmd
	Stdout io.ReadCloser
	Stderr io.ReadCloser
}

// PID returns the child's pid, or 0 before start.
func (p *Process) PID() int {
	if p == nil || p.Cmd == nil || p.Cmd.Process == nil {
		return 0
	}
	return p.Cmd.Process.Pid
}

// MessageConverter turns one raw stdout line into at most one unified
// message. ok is false when the line produces nothing.
type MessageConverter interface {
	Convert(line string) (msg UnifiedMessage, ok bool)
}

// Agent adapts one coding-agent CLI. StartSession and SendInput return a
// non-nil Process whenever a fresh subprocess was spawned that the engine
// must ingest; nil means the input went to an already-running child.
type Agent interface {
	Kind() domain.AgentKind

	// NewConverter builds a converter for one execution. onSessionID is
	// invoked when the agent announces a resumable session id; adapters
	// without resume support never call it and may receive nil.
	NewConverter(onSessionID func(string)) MessageConverter

	// StartSession prepares an execution. Long-lived adapters defer the
	// actual spawn to the first SendInput since the opening prompt rides
	// on the command line.
	StartSession(ctx context.Context, executionID uuid.UUID, info SessionInfo) (*Process, error)

	// SendInput delivers one prompt to the execution.
	SendInput(ctx context.Context, executionID uuid.UUID, info SessionInfo, input string) (*Process, error)

	// StopSession kills the execution's child process tree, if any.
	StopSession(executionID uuid.UUID, info SessionInfo) error

	SupportsResume() bool
}

// ForKind returns the adapter registered for a kind.
func ForKind(kind domain.AgentKind, agents []Agent) (Agent, bool) {
	for _, a := range agents {
		if a.Kind() == kind {
			return a, true
		}
	}
	return nil, false
}
