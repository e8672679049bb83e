package domain

import (
	"time"

	"github.com/google/uuid"
)

// MergeRequest mirrors a forge-side PR/MR created from an attempt's branch.
// (provider, remote_id) is unique across the store.
type MergeRequest struct {
	ID             uuid.UUID         `json:"id"`
	TaskAttemptID  uuid.UUID         `json:"task_attempt_id"`
	Provider       GitProvider       `json:"provider"`
	RemoteID       int64             `json:"remote_id"`
	RemoteIID      int64             `json:"remote_iid,omitempty"`
	Number         int64             `json:"number"`
	Title          string            `json:"title"`
	Description    string            `json:"description,omitempty"`
	State          MergeRequestState `json:"state"`
	SourceBranch   string            `json:"source_branch"`
	TargetBranch   string            `json:"target_branch"`
	WebURL         string            `json:"web_url"`
	MergeStatus    string            `json:"merge_status,omitempty"`
	HasConflicts   bool              `json:"has_conflicts"`
	PipelineStatus string            `json:"pipeline_status,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	MergedAt       *time.Time        `json:"merged_at,omitempty"`
	SyncedAt       *time.Time        `json:"synced_at,omitempty"`
}

// MergedTerminal reports whether the row has observed a merge. Once true,
// later forge reads that claim the request reopened are ignored.
func (m *MergeRequest) MergedTerminal() bool {
	return m.State == MRStateMerged && m.MergedAt != nil
}
