package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskAttempt represents one run of an agent against a task, owning a
// worktree and a branch. BaseCommit is the immutable diff baseline.
type TaskAttempt struct {
	ID              uuid.UUID     `json:"id"`
	TaskID          uuid.UUID     `json:"task_id"`
	Branch          string        `json:"branch"`
	BaseBranch      string        `json:"base_branch"`
	BaseCommit      string        `json:"base_commit"`
	WorktreePath    string        `json:"worktree_path"`
	Executor        AgentKind     `json:"executor"`
	Status          AttemptStatus `json:"status"`
	ClaudeSessionID string        `json:"claude_session_id,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
}

// AttemptConversation is the whole-array conversation snapshot for an
// attempt. Callers compose the full message array; there is no partial patch.
type AttemptConversation struct {
	AttemptID uuid.UUID         `json:"attempt_id"`
	Messages  []json.RawMessage `json:"messages"`
	UpdatedAt time.Time         `json:"updated_at"`
}
