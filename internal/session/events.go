package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/hochfrequenz/agent-workbench/internal/agent"
	"github.com/hochfrequenz/agent-workbench/internal/domain"
)

// OutputType names the raw stream a line came from.
type OutputType string

const (
	OutputStdout OutputType = "stdout"
	OutputStderr OutputType = "stderr"
)

// AgentMessageEvent carries one converted agent message.
type AgentMessageEvent struct {
	ExecutionID uuid.UUID            `json:"execution_id"`
	TaskID      uuid.UUID            `json:"task_id"`
	AttemptID   uuid.UUID            `json:"attempt_id"`
	Message     agent.UnifiedMessage `json:"message"`
}

// AgentOutputEvent carries one raw stream line that bypassed conversion,
// today always stderr.
type AgentOutputEvent struct {
	ExecutionID uuid.UUID  `json:"execution_id"`
	TaskID      uuid.UUID  `json:"task_id"`
	OutputType  OutputType `json:"output_type"`
	Content     string     `json:"content"`
	Timestamp   time.Time  `json:"timestamp"`
}

// AgentCompletedEvent announces that an execution's subprocess finished.
type AgentCompletedEvent struct {
	ExecutionID uuid.UUID `json:"execution_id"`
	TaskID      uuid.UUID `json:"task_id"`
	AttemptID   uuid.UUID `json:"attempt_id"`
	Status      Status    `json:"status"`
	ExitCode    *int      `json:"exit_code,omitempty"`
	FinishedAt  time.Time `json:"finished_at"`
}

// SessionIDEvent announces a resumable agent session id.
type SessionIDEvent struct {
	TaskID    uuid.UUID `json:"task_id"`
	AttemptID uuid.UUID `json:"attempt_id"`
	SessionID string    `json:"session_id"`
}

// AttemptExecutionEvent tracks execution status changes for one attempt.
type AttemptExecutionEvent struct {
	AttemptID   uuid.UUID `json:"attempt_id"`
	ExecutionID uuid.UUID `json:"execution_id"`
	Status      Status    `json:"status"`
}

// ExecutionSummary is the per-task line for running-task listings.
type ExecutionSummary struct {
	TaskID    uuid.UUID        `json:"task_id"`
	AttemptID uuid.UUID        `json:"attempt_id"`
	AgentType domain.AgentKind `json:"agent_type"`
	IsRunning bool             `json:"is_running"`
	StartedAt time.Time        `json:"started_at"`
}

// ConversationState is the whole-conversation snapshot the shell renders:
// live from the registry while an execution is resident, otherwise rebuilt
// from the stored conversation.
type ConversationState struct {
	TaskID    uuid.UUID              `json:"task_id"`
	AttemptID *uuid.UUID             `json:"attempt_id,omitempty"`
	AgentType domain.AgentKind       `json:"agent_type,omitempty"`
	IsRunning bool                   `json:"is_running"`
	Messages  []agent.UnifiedMessage `json:"messages"`
}

// ConversationStateEvent wraps a state snapshot for the event stream. Key
// casing matches what the desktop shell expects.
type ConversationStateEvent struct {
	TaskID uuid.UUID         `json:"taskId"`
	State  ConversationState `json:"state"`
}
