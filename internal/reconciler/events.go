package reconciler

import (
	"github.com/google/uuid"

	"github.com/hochfrequenz/agent-workbench/internal/domain"
)

// MergeRequestUpdateEvent announces an observed merge request state
// transition, emitted at most once per transition.
type MergeRequestUpdateEvent struct {
	MergeRequestID uuid.UUID                `json:"mr_id"`
	PreviousState  domain.MergeRequestState `json:"previous_state"`
	NewState       domain.MergeRequestState `json:"new_state"`
	TaskAttemptID  uuid.UUID                `json:"task_attempt_id"`
}

// TaskStatusChangedEvent announces a reconciler-driven task transition. Key
// casing matches what the desktop shell expects.
type TaskStatusChangedEvent struct {
	TaskID         uuid.UUID         `json:"taskId"`
	PreviousStatus domain.TaskStatus `json:"previousStatus"`
	NewStatus      domain.TaskStatus `json:"newStatus"`
	Task           *domain.Task      `json:"task"`
}
