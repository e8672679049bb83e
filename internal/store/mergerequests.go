package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hochfrequenz/agent-workbench/internal/domain"
)

const mrCols = `id, task_attempt_id, provider, remote_id, remote_iid, number,
	title, description, state, source_branch, target_branch, web_url,
	merge_status, has_conflicts, pipeline_status, created_at, updated_at, merged_at, synced_at`

// UpsertMergeRequest inserts a merge request or, when (provider, remote_id)
// already exists, refreshes the forge-derived fields.
func (s *Store) UpsertMergeRequest(mr *domain.MergeRequest) error {
	_, err := s.db.Exec(`
		INSERT INTO merge_requests (id, task_attempt_id, provider, remote_id, remote_iid,
			number, title, description, state, source_branch, target_branch, web_url,
			merge_status, has_conflicts, pipeline_status, created_at, updated_at, merged_at, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, remote_id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			state = excluded.state,
			merge_status = excluded.merge_status,
			has_conflicts = excluded.has_conflicts,
			pipeline_status = excluded.pipeline_status,
			updated_at = excluded.updated_at,
			merged_at = excluded.merged_at,
			synced_at = excluded.synced_at`,
		mr.ID.String(), mr.TaskAttemptID.String(), string(mr.Provider), mr.RemoteID,
		mr.RemoteIID, mr.Number, mr.Title, nullStr(mr.Description), string(mr.State),
		mr.SourceBranch, mr.TargetBranch, mr.WebURL, nullStr(mr.MergeStatus),
		mr.HasConflicts, nullStr(mr.PipelineStatus), mr.CreatedAt, mr.UpdatedAt,
		nullTime(mr.MergedAt), nullTime(mr.SyncedAt))
	return err
}

// GetMergeRequest retrieves a merge request by id.
func (s *Store) GetMergeRequest(id uuid.UUID) (*domain.MergeRequest, error) {
	row := s.db.QueryRow(`SELECT `+mrCols+` FROM merge_requests WHERE id = ?`, id.String())
	mr, err := scanMergeRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("merge request %s: %w", id, ErrNotFound)
	}
	return mr, err
}

// ListOpenMergeRequests returns every merge request still in opened state,
// across all projects. This is the reconciler's work queue.
func (s *Store) ListOpenMergeRequests() ([]*domain.MergeRequest, error) {
	rows, err := s.db.Query(`SELECT ` + mrCols + ` FROM merge_requests
		WHERE state = 'opened' ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMergeRequests(rows)
}

// ListMergeRequestsByTask returns a task's merge requests joined through its
// attempts, newest first.
func (s *Store) ListMergeRequestsByTask(taskID uuid.UUID) ([]*domain.MergeRequest, error) {
	rows, err := s.db.Query(`
		SELECT `+mrColsPrefixed+`
		FROM merge_requests mr
		JOIN task_attempts ta ON ta.id = mr.task_attempt_id
		WHERE ta.task_id = ?
		ORDER BY mr.created_at DESC`, taskID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMergeRequests(rows)
}

// ListMergeRequestsByAttempt returns the merge requests of one attempt.
func (s *Store) ListMergeRequestsByAttempt(attemptID uuid.UUID) ([]*domain.MergeRequest, error) {
	rows, err := s.db.Query(`SELECT `+mrCols+` FROM merge_requests
		WHERE task_attempt_id = ? ORDER BY created_at DESC`, attemptID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMergeRequests(rows)
}

// UpdateMergeRequestSync persists the fields refreshed by a reconciler poll
// plus the sync timestamp.
func (s *Store) UpdateMergeRequestSync(mr *domain.MergeRequest) error {
	now := time.Now()
	mr.SyncedAt = &now
	res, err := s.db.Exec(`
		UPDATE merge_requests SET state = ?, merge_status = ?, has_conflicts = ?,
			pipeline_status = ?, merged_at = ?, updated_at = ?, synced_at = ?
		WHERE id = ?`,
		string(mr.State), nullStr(mr.MergeStatus), mr.HasConflicts,
		nullStr(mr.PipelineStatus), nullTime(mr.MergedAt), now, now, mr.ID.String())
	if err != nil {
		return err
	}
	return requireRow(res, "merge request", mr.ID)
}

const mrColsPrefixed = `mr.id, mr.task_attempt_id, mr.provider, mr.remote_id, mr.remote_iid,
	mr.number, mr.title, mr.description, mr.state, mr.source_branch, mr.target_branch,
	mr.web_url, mr.merge_status, mr.has_conflicts, mr.pipeline_status, mr.created_at,
	mr.updated_at, mr.merged_at, mr.synced_at`

func collectMergeRequests(rows *sql.Rows) ([]*domain.MergeRequest, error) {
	var mrs []*domain.MergeRequest
	for rows.Next() {
		mr, err := scanMergeRequest(rows)
		if err != nil {
			return nil, err
		}
		mrs = append(mrs, mr)
	}
	return mrs, rows.Err()
}

func scanMergeRequest(sc scanner) (*domain.MergeRequest, error) {
	var mr domain.MergeRequest
	var id, attemptID, provider, state string
	var description, mergeStatus, pipeline sql.NullString
	var merged, synced sql.NullTime

	err := sc.Scan(&id, &attemptID, &provider, &mr.RemoteID, &mr.RemoteIID, &mr.Number,
		&mr.Title, &description, &state, &mr.SourceBranch, &mr.TargetBranch, &mr.WebURL,
		&mergeStatus, &mr.HasConflicts, &pipeline, &mr.CreatedAt, &mr.UpdatedAt, &merged, &synced)
	if err != nil {
		return nil, err
	}

	mr.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("merge request id %q: %w", id, err)
	}
	mr.TaskAttemptID, err = uuid.Parse(attemptID)
	if err != nil {
		return nil, fmt.Errorf("merge request attempt id %q: %w", attemptID, err)
	}
	mr.Provider = domain.GitProvider(provider)
	mr.State = domain.MergeRequestState(state)
	mr.Description = description.String
	mr.MergeStatus = mergeStatus.String
	mr.PipelineStatus = pipeline.String
	mr.MergedAt = timePtr(merged)
	mr.SyncedAt = timePtr(synced)
	return &mr, nil
}
