package domain

import (
	"time"

	"github.com/google/uuid"
)

// Task represents a unit of work inside a project
type Task struct {
	ID           uuid.UUID    `json:"id"`
	ProjectID    uuid.UUID    `json:"project_id"`
	Title        string       `json:"title"`
	Description  string       `json:"description,omitempty"`
	Status       TaskStatus   `json:"status"`
	Priority     TaskPriority `json:"priority"`
	ParentTaskID *uuid.UUID   `json:"parent_task_id,omitempty"`
	Tags         []string     `json:"tags,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Terminal reports whether the task reached a final status
func (t *Task) Terminal() bool {
	return t.Status == TaskDone || t.Status == TaskCancelled
}
