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

const processCols = `id, task_attempt_id, process_type, executor_type, status,
	command, args, working_directory, stdout, stderr, exit_code, started_at, completed_at`

// CreateExecutionProcess inserts a new process row, normally in running state.
func (s *Store) CreateExecutionProcess(p *domain.ExecutionProcess) error {
	argsJSON, err := json.Marshal(p.Args)
	if err != nil {
		return err
	}
	var exit sql.NullInt64
	if p.ExitCode != nil {
		exit = sql.NullInt64{Int64: int64(*p.ExitCode), Valid: true}
	}
	_, err = s.db.Exec(`
		INSERT INTO execution_processes (id, task_attempt_id, process_type, executor_type,
			status, command, args, working_directory, stdout, stderr, exit_code, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.TaskAttemptID.String(), string(p.ProcessType),
		nullStr(string(p.ExecutorType)), string(p.Status), p.Command, string(argsJSON),
		p.WorkingDirectory, p.Stdout, p.Stderr, exit, p.StartedAt, nullTime(p.CompletedAt))
	return err
}

// GetExecutionProcess retrieves a process row by id.
func (s *Store) GetExecutionProcess(id uuid.UUID) (*domain.ExecutionProcess, error) {
	row := s.db.QueryRow(`SELECT `+processCols+` FROM execution_processes WHERE id = ?`, id.String())
	p, err := scanProcess(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution process %s: %w", id, ErrNotFound)
	}
	return p, err
}

// ListExecutionProcesses returns all processes of an attempt, oldest first.
func (s *Store) ListExecutionProcesses(attemptID uuid.UUID) ([]*domain.ExecutionProcess, error) {
	rows, err := s.db.Query(`SELECT `+processCols+` FROM execution_processes
		WHERE task_attempt_id = ? ORDER BY started_at`, attemptID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var processes []*domain.ExecutionProcess
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, err
		}
		processes = append(processes, p)
	}
	return processes, rows.Err()
}

// FinishExecutionProcess records the outcome of a process run. Output is
// written once here; the live stream goes through the bus, not the store.
func (s *Store) FinishExecutionProcess(id uuid.UUID, status domain.ProcessStatus, exitCode *int, stdout, stderr string) error {
	var exit sql.NullInt64
	if exitCode != nil {
		exit = sql.NullInt64{Int64: int64(*exitCode), Valid: true}
	}
	res, err := s.db.Exec(`
		UPDATE execution_processes SET status = ?, exit_code = ?, stdout = ?, stderr = ?, completed_at = ?
		WHERE id = ?`,
		string(status), exit, stdout, stderr, time.Now(), id.String())
	if err != nil {
		return err
	}
	return requireRow(res, "execution process", id)
}

// CreateMessage appends one conversation message.
func (s *Store) CreateMessage(m *domain.Message) error {
	_, err := s.db.Exec(`
		INSERT INTO messages (id, attempt_id, role, content_json, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		m.ID.String(), m.AttemptID.String(), string(m.Role), m.ContentJSON, m.Timestamp)
	return err
}

// ListMessages returns an attempt's messages in insertion order.
func (s *Store) ListMessages(attemptID uuid.UUID) ([]*domain.Message, error) {
	rows, err := s.db.Query(`SELECT id, attempt_id, role, content_json, timestamp
		FROM messages WHERE attempt_id = ? ORDER BY timestamp, id`, attemptID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		var m domain.Message
		var id, attempt, role string
		if err := rows.Scan(&id, &attempt, &role, &m.ContentJSON, &m.Timestamp); err != nil {
			return nil, err
		}
		m.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("message id %q: %w", id, err)
		}
		m.AttemptID, err = uuid.Parse(attempt)
		if err != nil {
			return nil, fmt.Errorf("message attempt id %q: %w", attempt, err)
		}
		m.Role = domain.MessageRole(role)
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

func scanProcess(sc scanner) (*domain.ExecutionProcess, error) {
	var p domain.ExecutionProcess
	var id, attemptID, pType, status, argsJSON string
	var executor sql.NullString
	var exit sql.NullInt64
	var completed sql.NullTime

	err := sc.Scan(&id, &attemptID, &pType, &executor, &status, &p.Command, &argsJSON,
		&p.WorkingDirectory, &p.Stdout, &p.Stderr, &exit, &p.StartedAt, &completed)
	if err != nil {
		return nil, err
	}

	p.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("process id %q: %w", id, err)
	}
	p.TaskAttemptID, err = uuid.Parse(attemptID)
	if err != nil {
		return nil, fmt.Errorf("process attempt id %q: %w", attemptID, err)
	}
	p.ProcessType = domain.ProcessType(pType)
	p.ExecutorType = domain.AgentKind(executor.String)
	p.Status = domain.ProcessStatus(status)
	if argsJSON != "" && argsJSON != "null" {
		if err := json.Unmarshal([]byte(argsJSON), &p.Args); err != nil {
			return nil, err
		}
	}
	if exit.Valid {
		code := int(exit.Int64)
		p.ExitCode = &code
	}
	p.CompletedAt = timePtr(completed)
	return &p, nil
}
