package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionProcess records one subprocess run for an attempt. Rows are
// append-only in practice; only status, output and exit fields are updated.
type ExecutionProcess struct {
	ID               uuid.UUID     `json:"id"`
	TaskAttemptID    uuid.UUID     `json:"task_attempt_id"`
	ProcessType      ProcessType   `json:"process_type"`
	ExecutorType     AgentKind     `json:"executor_type,omitempty"`
	Status           ProcessStatus `json:"status"`
	Command          string        `json:"command"`
	Args             []string      `json:"args,omitempty"`
	WorkingDirectory string        `json:"working_directory"`
	Stdout           string        `json:"stdout,omitempty"`
	Stderr           string        `json:"stderr,omitempty"`
	ExitCode         *int          `json:"exit_code,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
}

// Message is one persisted conversation message. ContentJSON embeds the
// unified message shape.
type Message struct {
	ID          uuid.UUID   `json:"id"`
	AttemptID   uuid.UUID   `json:"attempt_id"`
	Role        MessageRole `json:"role"`
	ContentJSON string      `json:"content_json"`
	Timestamp   time.Time   `json:"timestamp"`
}
