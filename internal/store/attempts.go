package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hochfrequenz/agent-workbench/internal/domain"
)

const attemptCols = `id, task_id, branch, base_branch, base_commit, worktree_path,
	executor, status, claude_session_id, created_at, updated_at, completed_at`

// CreateAttempt inserts a new attempt row. Zero timestamps are stamped
// with the current time.
func (s *Store) CreateAttempt(a *domain.TaskAttempt) error {
	stampNew(&a.CreatedAt, &a.UpdatedAt)
	_, err := s.db.Exec(`
		INSERT INTO task_attempts (id, task_id, branch, base_branch, base_commit,
			worktree_path, executor, status, claude_session_id, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.TaskID.String(), a.Branch, a.BaseBranch, a.BaseCommit,
		a.WorktreePath, nullStr(string(a.Executor)), string(a.Status),
		nullStr(a.ClaudeSessionID), a.CreatedAt, a.UpdatedAt, nullTime(a.CompletedAt))
	return err
}

// GetAttempt retrieves an attempt by id.
func (s *Store) GetAttempt(id uuid.UUID) (*domain.TaskAttempt, error) {
	row := s.db.QueryRow(`SELECT `+attemptCols+` FROM task_attempts WHERE id = ?`, id.String())
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attempt %s: %w", id, ErrNotFound)
	}
	return a, err
}

// ListAttempts returns all attempts of a task, newest first.
func (s *Store) ListAttempts(taskID uuid.UUID) ([]*domain.TaskAttempt, error) {
	rows, err := s.db.Query(`SELECT `+attemptCols+` FROM task_attempts
		WHERE task_id = ? ORDER BY created_at DESC`, taskID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []*domain.TaskAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// UpdateAttemptStatus updates an attempt's status; terminal statuses also
// stamp completed_at.
func (s *Store) UpdateAttemptStatus(id uuid.UUID, status domain.AttemptStatus) error {
	var completed sql.NullTime
	if status != domain.AttemptRunning {
		completed = sql.NullTime{Time: time.Now(), Valid: true}
	}
	res, err := s.db.Exec(`UPDATE task_attempts SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		string(status), completed, time.Now(), id.String())
	if err != nil {
		return err
	}
	return requireRow(res, "attempt", id)
}

// UpdateClaudeSessionID stores the session id announced by the agent so
// later sends can resume.
func (s *Store) UpdateClaudeSessionID(id uuid.UUID, sessionID string) error {
	res, err := s.db.Exec(`UPDATE task_attempts SET claude_session_id = ?, updated_at = ? WHERE id = ?`,
		sessionID, time.Now(), id.String())
	if err != nil {
		return err
	}
	return requireRow(res, "attempt", id)
}

// DeleteAttempt removes an attempt; processes, messages, conversations and
// merge requests cascade. Worktree cleanup is the caller's job.
func (s *Store) DeleteAttempt(id uuid.UUID) error {
	res, err := s.db.Exec(`DELETE FROM task_attempts WHERE id = ?`, id.String())
	if err != nil {
		return err
	}
	return requireRow(res, "attempt", id)
}

// ActiveWorktreePaths returns the worktree paths of every attempt still in
// running status. The janitor treats everything else under the worktree root
// as sweepable.
func (s *Store) ActiveWorktreePaths() (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT worktree_path FROM task_attempts WHERE status = ?`,
		string(domain.AttemptRunning))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	paths := make(map[string]bool)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths[p] = true
	}
	return paths, rows.Err()
}

// SaveConversation upserts the whole message array for an attempt.
func (s *Store) SaveConversation(attemptID uuid.UUID, messages []json.RawMessage) error {
	blob, err := json.Marshal(messages)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO attempt_conversations (attempt_id, messages_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(attempt_id) DO UPDATE SET
			messages_json = excluded.messages_json,
			updated_at = excluded.updated_at`,
		attemptID.String(), string(blob), time.Now())
	return err
}

// GetConversation fetches the stored conversation for an attempt.
func (s *Store) GetConversation(attemptID uuid.UUID) (*domain.AttemptConversation, error) {
	var blob string
	var updated time.Time
	err := s.db.QueryRow(`SELECT messages_json, updated_at FROM attempt_conversations WHERE attempt_id = ?`,
		attemptID.String()).Scan(&blob, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation for attempt %s: %w", attemptID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	conv := &domain.AttemptConversation{AttemptID: attemptID, UpdatedAt: updated}
	if err := json.Unmarshal([]byte(blob), &conv.Messages); err != nil {
		return nil, err
	}
	return conv, nil
}

func scanAttempt(sc scanner) (*domain.TaskAttempt, error) {
	var a domain.TaskAttempt
	var id, taskID, status string
	var executor, sessionID sql.NullString
	var completed sql.NullTime

	err := sc.Scan(&id, &taskID, &a.Branch, &a.BaseBranch, &a.BaseCommit,
		&a.WorktreePath, &executor, &status, &sessionID, &a.CreatedAt, &a.UpdatedAt, &completed)
	if err != nil {
		return nil, err
	}

	a.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("attempt id %q: %w", id, err)
	}
	a.TaskID, err = uuid.Parse(taskID)
	if err != nil {
		return nil, fmt.Errorf("attempt task id %q: %w", taskID, err)
	}
	a.Executor = domain.AgentKind(executor.String)
	a.Status = domain.AttemptStatus(status)
	a.ClaudeSessionID = sessionID.String
	a.CompletedAt = timePtr(completed)
	return &a, nil
}
