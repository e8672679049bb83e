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

const taskCols = `id, project_id, title, description, status, priority,
	parent_task_id, tags, created_at, updated_at`

// CreateTask inserts a new task row. Zero timestamps are stamped with
// the current time.
func (s *Store) CreateTask(t *domain.Task) error {
	stampNew(&t.CreatedAt, &t.UpdatedAt)
	tagsJSON, err := json.Marshal(t.Tags)
	if err != nil {
		return err
	}
	var parent sql.NullString
	if t.ParentTaskID != nil {
		parent = nullStr(t.ParentTaskID.String())
	}
	_, err = s.db.Exec(`
		INSERT INTO tasks (id, project_id, title, description, status, priority,
			parent_task_id, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.ProjectID.String(), t.Title, nullStr(t.Description),
		string(t.Status), string(t.Priority), parent, string(tagsJSON),
		t.CreatedAt, t.UpdatedAt)
	return err
}

// GetTask retrieves a task by id.
func (s *Store) GetTask(id uuid.UUID) (*domain.Task, error) {
	row := s.db.QueryRow(`SELECT `+taskCols+` FROM tasks WHERE id = ?`, id.String())
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, err
}

// TaskListOptions filters ListTasks.
type TaskListOptions struct {
	ProjectID uuid.UUID
	Status    domain.TaskStatus
}

// ListTasks returns tasks matching the given options, newest first.
func (s *Store) ListTasks(opts TaskListOptions) ([]*domain.Task, error) {
	query := `SELECT ` + taskCols + ` FROM tasks WHERE 1=1`
	var args []interface{}

	if opts.ProjectID != uuid.Nil {
		query += " AND project_id = ?"
		args = append(args, opts.ProjectID.String())
	}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTask updates the mutable fields of a task.
func (s *Store) UpdateTask(t *domain.Task) error {
	tagsJSON, err := json.Marshal(t.Tags)
	if err != nil {
		return err
	}
	var parent sql.NullString
	if t.ParentTaskID != nil {
		parent = nullStr(t.ParentTaskID.String())
	}
	res, err := s.db.Exec(`
		UPDATE tasks SET title = ?, description = ?, status = ?, priority = ?,
			parent_task_id = ?, tags = ?, updated_at = ?
		WHERE id = ?`,
		t.Title, nullStr(t.Description), string(t.Status), string(t.Priority),
		parent, string(tagsJSON), time.Now(), t.ID.String())
	if err != nil {
		return err
	}
	return requireRow(res, "task", t.ID)
}

// UpdateTaskStatus updates only the status column.
func (s *Store) UpdateTaskStatus(id uuid.UUID, status domain.TaskStatus) error {
	res, err := s.db.Exec(`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now(), id.String())
	if err != nil {
		return err
	}
	return requireRow(res, "task", id)
}

// DeleteTask removes a task; attempts and their children cascade.
func (s *Store) DeleteTask(id uuid.UUID) error {
	res, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id.String())
	if err != nil {
		return err
	}
	return requireRow(res, "task", id)
}

func scanTask(sc scanner) (*domain.Task, error) {
	var t domain.Task
	var id, projectID, status, priority, tagsJSON string
	var description, parent sql.NullString

	err := sc.Scan(&id, &projectID, &t.Title, &description, &status, &priority,
		&parent, &tagsJSON, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("task id %q: %w", id, err)
	}
	t.ProjectID, err = uuid.Parse(projectID)
	if err != nil {
		return nil, fmt.Errorf("task project id %q: %w", projectID, err)
	}
	t.Status = domain.TaskStatus(status)
	t.Priority = domain.TaskPriority(priority)
	t.Description = description.String
	if parent.Valid {
		pid, err := uuid.Parse(parent.String)
		if err != nil {
			return nil, fmt.Errorf("parent task id %q: %w", parent.String, err)
		}
		t.ParentTaskID = &pid
	}
	if tagsJSON != "" && tagsJSON != "null" {
		if err := json.Unmarshal([]byte(tagsJSON), &t.Tags); err != nil {
			return nil, err
		}
	}
	return &t, nil
}
