package service

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/hochfrequenz/agent-workbench/internal/bus"
	"github.com/hochfrequenz/agent-workbench/internal/domain"
	"github.com/hochfrequenz/agent-workbench/internal/git"
	"github.com/hochfrequenz/agent-workbench/internal/session"
)

// CreateTaskRequest creates a task plus its first attempt.
type CreateTaskRequest struct {
	ProjectID    uuid.UUID           `json:"project_id"`
	Title        string              `json:"title"`
	Description  string              `json:"description"`
	Priority     domain.TaskPriority `json:"priority"`
	ParentTaskID *uuid.UUID          `json:"parent_task_id"`
	Tags         []string            `json:"tags"`
	Executor     domain.AgentKind    `json:"executor"`
	BaseBranch   string              `json:"base_branch"`
}

// CreateTask inserts the task and provisions its first attempt: branch
// synthesis, worktree creation, attempt row. The worktree is created before
// the attempt row so a failed worktree never leaves an attempt pointing at
// nothing; if attempt provisioning fails the task row is rolled back.
func (s *Service) CreateTask(req CreateTaskRequest) (*domain.Task, *domain.TaskAttempt, error) {
	p, err := s.store.GetProject(req.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, nil, fmt.Errorf("title is required: %w", ErrInvalid)
	}
	priority := req.Priority
	if priority == "" {
		priority = domain.PriorityMedium
	}
	if !priority.Valid() {
		return nil, nil, fmt.Errorf("unknown priority %q: %w", req.Priority, ErrInvalid)
	}

	task := &domain.Task{
		ID:           uuid.New(),
		ProjectID:    p.ID,
		Title:        title,
		Description:  req.Description,
		Status:       domain.TaskBacklog,
		Priority:     priority,
		ParentTaskID: req.ParentTaskID,
		Tags:         req.Tags,
	}
	if err := s.store.CreateTask(task); err != nil {
		return nil, nil, err
	}

	attempt, err := s.provisionAttempt(p, task, req.Executor, req.BaseBranch)
	if err != nil {
		if delErr := s.store.DeleteTask(task.ID); delErr != nil {
			s.logger.Error("rolling back task after attempt failure", "task_id", task.ID, "error", delErr)
		}
		return nil, nil, err
	}
	return task, attempt, nil
}

// CreateAttempt provisions an additional attempt for an existing task.
func (s *Service) CreateAttempt(taskID uuid.UUID, executor domain.AgentKind, baseBranch string) (*domain.TaskAttempt, error) {
	task, err := s.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	p, err := s.store.GetProject(task.ProjectID)
	if err != nil {
		return nil, err
	}
	return s.provisionAttempt(p, task, executor, baseBranch)
}

// provisionAttempt synthesizes a branch, creates the worktree and inserts
// the attempt row, in that order. The row insert failing removes the
// worktree again.
func (s *Service) provisionAttempt(p *domain.Project, task *domain.Task, executor domain.AgentKind, baseBranch string) (*domain.TaskAttempt, error) {
	if executor == "" {
		executor = domain.AgentClaude
	}
	if !executor.Valid() {
		return nil, fmt.Errorf("unknown agent kind %q: %w", executor, ErrInvalid)
	}
	if baseBranch == "" {
		baseBranch = p.MainBranch
	}

	branch := git.SynthesizeBranch(task.Title, task.ID, func(name string) bool {
		return s.git.BranchExists(p.Path, name)
	})
	worktreePath := filepath.Join(s.worktreeRoot, strings.ReplaceAll(branch, "/", "-"))

	info, err := s.git.CreateWorktree(p.Path, worktreePath, branch, baseBranch)
	if err != nil {
		return nil, fmt.Errorf("creating worktree: %w", err)
	}

	attempt := &domain.TaskAttempt{
		ID:           uuid.New(),
		TaskID:       task.ID,
		Branch:       info.Branch,
		BaseBranch:   info.BaseBranch,
		BaseCommit:   info.BaseCommit,
		WorktreePath: info.Path,
		Executor:     executor,
		Status:       domain.AttemptRunning,
	}
	if err := s.store.CreateAttempt(attempt); err != nil {
		if rmErr := s.git.RemoveWorktree(p.Path, info.Path); rmErr != nil {
			s.logger.Warn("removing orphaned worktree", "path", info.Path, "error", rmErr)
		}
		return nil, err
	}

	if s.watcher != nil {
		if err := s.watcher.AddWorktree(info.Path); err != nil {
			s.logger.Warn("watching worktree", "path", info.Path, "error", err)
		}
	}
	s.bus.Publish(bus.TopicAttemptCreated, attempt)
	s.logger.Info("attempt provisioned",
		"attempt_id", attempt.ID,
		"task_id", task.ID,
		"branch", attempt.Branch,
		"worktree", attempt.WorktreePath)

	if p.SetupScript != "" {
		go s.runSetupScript(p, attempt)
	}
	return attempt, nil
}

// UpdateTaskRequest carries mutable task fields; nil pointers leave a field
// untouched.
type UpdateTaskRequest struct {
	Title       *string              `json:"title"`
	Description *string              `json:"description"`
	Priority    *domain.TaskPriority `json:"priority"`
	Tags        *[]string            `json:"tags"`
}

// UpdateTask applies a partial update and returns the fresh row.
func (s *Service) UpdateTask(id uuid.UUID, req UpdateTaskRequest) (*domain.Task, error) {
	task, err := s.store.GetTask(id)
	if err != nil {
		return nil, err
	}
	if req.Title != nil {
		if strings.TrimSpace(*req.Title) == "" {
			return nil, fmt.Errorf("title must not be empty: %w", ErrInvalid)
		}
		task.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		task.Description = *req.Description
	}
	if req.Priority != nil {
		if !req.Priority.Valid() {
			return nil, fmt.Errorf("unknown priority %q: %w", *req.Priority, ErrInvalid)
		}
		task.Priority = *req.Priority
	}
	if req.Tags != nil {
		task.Tags = *req.Tags
	}
	if err := s.store.UpdateTask(task); err != nil {
		return nil, err
	}
	return task, nil
}

// UpdateTaskStatus performs a user-driven status change.
func (s *Service) UpdateTaskStatus(id uuid.UUID, status domain.TaskStatus) (*domain.Task, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("unknown task status %q: %w", status, ErrInvalid)
	}
	task, err := s.store.GetTask(id)
	if err != nil {
		return nil, err
	}
	if task.Status == status {
		return task, nil
	}
	if err := s.setTaskStatus(task, status); err != nil {
		return nil, err
	}
	return task, nil
}

func (s *Service) setTaskStatus(task *domain.Task, status domain.TaskStatus) error {
	if err := s.store.UpdateTaskStatus(task.ID, status); err != nil {
		return err
	}
	task.Status = status
	s.bus.Publish(bus.TopicTaskUpdated, task)
	return nil
}

// DeleteTask stops executions, removes worktrees and deletes the task row;
// attempts cascade with it.
func (s *Service) DeleteTask(id uuid.UUID) error {
	task, err := s.store.GetTask(id)
	if err != nil {
		return err
	}
	p, err := s.store.GetProject(task.ProjectID)
	if err != nil {
		return err
	}
	s.teardownAttempts(p, task.ID)
	if err := s.store.DeleteTask(id); err != nil {
		return err
	}
	s.logger.Info("task deleted", "task_id", id)
	return nil
}

// DeleteAttempt tears down one attempt and removes its row.
func (s *Service) DeleteAttempt(id uuid.UUID) error {
	attempt, err := s.store.GetAttempt(id)
	if err != nil {
		return err
	}
	task, err := s.store.GetTask(attempt.TaskID)
	if err != nil {
		return err
	}
	p, err := s.store.GetProject(task.ProjectID)
	if err != nil {
		return err
	}
	s.teardownAttempt(p, attempt)
	return s.store.DeleteAttempt(id)
}

func (s *Service) teardownAttempts(p *domain.Project, taskID uuid.UUID) {
	attempts, err := s.store.ListAttempts(taskID)
	if err != nil {
		s.logger.Error("listing attempts for teardown", "task_id", taskID, "error", err)
		return
	}
	for _, attempt := range attempts {
		s.teardownAttempt(p, attempt)
	}
}

// teardownAttempt stops any execution and removes the worktree. Failures are
// logged, not returned: a half-gone worktree must not block row deletion,
// and the janitor sweeps leftovers.
func (s *Service) teardownAttempt(p *domain.Project, attempt *domain.TaskAttempt) {
	if err := s.engine.StopAttempt(attempt.ID); err != nil && !isNoExecution(err) {
		s.logger.Warn("stopping execution for teardown", "attempt_id", attempt.ID, "error", err)
	}
	if s.watcher != nil {
		s.watcher.RemoveWorktree(attempt.WorktreePath)
	}
	if attempt.WorktreePath == "" {
		return
	}
	if err := s.git.RemoveWorktree(p.Path, attempt.WorktreePath); err != nil {
		s.logger.Warn("removing worktree", "path", attempt.WorktreePath, "error", err)
	}
}

// UpdateAttemptStatus sets an attempt's lifecycle status.
func (s *Service) UpdateAttemptStatus(id uuid.UUID, status domain.AttemptStatus) (*domain.TaskAttempt, error) {
	switch status {
	case domain.AttemptRunning, domain.AttemptSuccess, domain.AttemptFailed, domain.AttemptCancelled:
	default:
		return nil, fmt.Errorf("unknown attempt status %q: %w", status, ErrInvalid)
	}
	if err := s.store.UpdateAttemptStatus(id, status); err != nil {
		return nil, err
	}
	attempt, err := s.store.GetAttempt(id)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(bus.TopicAttemptStatus, attempt)
	return attempt, nil
}

func isNoExecution(err error) bool {
	return errors.Is(err, session.ErrNoExecution)
}
