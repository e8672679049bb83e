package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hochfrequenz/agent-workbench/internal/agent"
	"github.com/hochfrequenz/agent-workbench/internal/domain"
	"github.com/hochfrequenz/agent-workbench/internal/session"
	"github.com/hochfrequenz/agent-workbench/internal/store"
)

// Execution actions accepted by Execute.
const (
	ActionStart = "start"
	ActionSend  = "send"
	ActionStop  = "stop"
)

// App config keys for persisted agent API keys.
const (
	configKeyClaudeAPIKey = "claude_api_key"
	configKeyGeminiAPIKey = "gemini_api_key"
)

// ExecuteRequest is the one-endpoint execution command. Start launches an
// agent on the task's latest attempt (provisioning one when none exists),
// send forwards follow-up input and stop kills the running execution.
type ExecuteRequest struct {
	Action     string           `json:"action"`
	TaskID     uuid.UUID        `json:"task_id"`
	AttemptID  *uuid.UUID       `json:"attempt_id"`
	Message    string           `json:"message"`
	Executor   domain.AgentKind `json:"executor"`
	BaseBranch string           `json:"base_branch"`
}

// ExecuteResult reports what the command did.
type ExecuteResult struct {
	Action      string    `json:"action"`
	TaskID      uuid.UUID `json:"task_id"`
	AttemptID   uuid.UUID `json:"attempt_id"`
	ExecutionID uuid.UUID `json:"execution_id,omitempty"`
}

// Execute routes an execution command.
func (s *Service) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error) {
	switch req.Action {
	case ActionStart:
		return s.startExecution(ctx, req)
	case ActionSend:
		return s.sendInput(ctx, req)
	case ActionStop:
		return s.stopExecution(req)
	default:
		return nil, fmt.Errorf("unknown action %q: %w", req.Action, ErrInvalid)
	}
}

func (s *Service) startExecution(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error) {
	task, err := s.store.GetTask(req.TaskID)
	if err != nil {
		return nil, err
	}
	p, err := s.store.GetProject(task.ProjectID)
	if err != nil {
		return nil, err
	}
	attempt, err := s.resolveAttempt(req.AttemptID, task.ID)
	if errors.Is(err, store.ErrNotFound) && req.AttemptID == nil {
		attempt, err = s.provisionAttempt(p, task, req.Executor, req.BaseBranch)
	}
	if err != nil {
		return nil, err
	}

	prompt := req.Message
	if prompt == "" {
		prompt = agent.InitialPrompt(task.Title, task.Description)
	}
	executionID, err := s.engine.Start(ctx, task, attempt, p.Path, prompt)
	if err != nil {
		return nil, err
	}

	// A backlog task with an agent on it is being worked.
	if task.Status == domain.TaskBacklog {
		if err := s.setTaskStatus(task, domain.TaskWorking); err != nil {
			s.logger.Error("moving task to working", "task_id", task.ID, "error", err)
		}
	}
	return &ExecuteResult{Action: ActionStart, TaskID: task.ID, AttemptID: attempt.ID, ExecutionID: executionID}, nil
}

// sendInput forwards follow-up input. When the registry no longer holds an
// execution for the attempt (daemon restart, slot evicted), it falls back to
// a fresh start that resumes the recorded agent session.
func (s *Service) sendInput(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error) {
	if req.Message == "" {
		return nil, fmt.Errorf("message is required: %w", ErrInvalid)
	}
	task, err := s.store.GetTask(req.TaskID)
	if err != nil {
		return nil, err
	}
	attempt, err := s.resolveAttempt(req.AttemptID, task.ID)
	if err != nil {
		return nil, err
	}

	err = s.engine.SendMessage(ctx, attempt.ID, req.Message)
	if errors.Is(err, session.ErrNoExecution) {
		p, perr := s.store.GetProject(task.ProjectID)
		if perr != nil {
			return nil, perr
		}
		// Re-read the attempt: the session id may have been persisted
		// after our first read.
		attempt, perr = s.store.GetAttempt(attempt.ID)
		if perr != nil {
			return nil, perr
		}
		executionID, serr := s.engine.Start(ctx, task, attempt, p.Path, req.Message)
		if serr != nil {
			return nil, serr
		}
		return &ExecuteResult{Action: ActionStart, TaskID: task.ID, AttemptID: attempt.ID, ExecutionID: executionID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &ExecuteResult{Action: ActionSend, TaskID: task.ID, AttemptID: attempt.ID}, nil
}

// stopExecution is idempotent: stopping an attempt with nothing running
// succeeds.
func (s *Service) stopExecution(req ExecuteRequest) (*ExecuteResult, error) {
	task, err := s.store.GetTask(req.TaskID)
	if err != nil {
		return nil, err
	}
	attempt, err := s.resolveAttempt(req.AttemptID, task.ID)
	if err != nil {
		return nil, err
	}
	if err := s.engine.StopAttempt(attempt.ID); err != nil && !isNoExecution(err) {
		return nil, err
	}
	return &ExecuteResult{Action: ActionStop, TaskID: task.ID, AttemptID: attempt.ID}, nil
}

// resolveAttempt picks the explicit attempt or the task's latest one.
func (s *Service) resolveAttempt(attemptID *uuid.UUID, taskID uuid.UUID) (*domain.TaskAttempt, error) {
	if attemptID != nil {
		attempt, err := s.store.GetAttempt(*attemptID)
		if err != nil {
			return nil, err
		}
		if attempt.TaskID != taskID {
			return nil, fmt.Errorf("attempt %s does not belong to task %s: %w", attempt.ID, taskID, ErrInvalid)
		}
		return attempt, nil
	}
	attempts, err := s.store.ListAttempts(taskID)
	if err != nil {
		return nil, err
	}
	if len(attempts) == 0 {
		return nil, fmt.Errorf("task %s has no attempts: %w", taskID, store.ErrNotFound)
	}
	return attempts[0], nil
}

// ConversationState returns the task's conversation: live from the engine
// while an execution slot is resident, otherwise rebuilt from the stored
// snapshot or, failing that, the message log.
func (s *Service) ConversationState(taskID uuid.UUID) (*session.ConversationState, error) {
	if _, err := s.store.GetTask(taskID); err != nil {
		return nil, err
	}
	attempts, err := s.store.ListAttempts(taskID)
	if err != nil {
		return nil, err
	}
	for _, attempt := range attempts {
		if state, ok := s.engine.StateForAttempt(attempt.ID); ok {
			return &state, nil
		}
	}
	state := &session.ConversationState{TaskID: taskID, Messages: []agent.UnifiedMessage{}}
	if len(attempts) == 0 {
		return state, nil
	}

	latest := attempts[0]
	attemptID := latest.ID
	state.AttemptID = &attemptID
	state.AgentType = latest.Executor

	conv, err := s.store.GetConversation(latest.ID)
	switch {
	case err == nil:
		for _, raw := range conv.Messages {
			var msg agent.UnifiedMessage
			if uerr := json.Unmarshal(raw, &msg); uerr != nil {
				s.logger.Warn("decoding stored conversation message", "attempt_id", latest.ID, "error", uerr)
				continue
			}
			state.Messages = append(state.Messages, msg)
		}
	case errors.Is(err, store.ErrNotFound):
		rows, lerr := s.store.ListMessages(latest.ID)
		if lerr != nil {
			return nil, lerr
		}
		for _, row := range rows {
			var msg agent.UnifiedMessage
			if uerr := json.Unmarshal([]byte(row.ContentJSON), &msg); uerr != nil {
				continue
			}
			state.Messages = append(state.Messages, msg)
		}
	default:
		return nil, err
	}
	return state, nil
}

// RunningTasks lists the executions currently holding registry slots.
func (s *Service) RunningTasks() []session.ExecutionSummary {
	return s.engine.RunningSummaries()
}

// SaveConversation stores the whole-array snapshot for an attempt.
func (s *Service) SaveConversation(attemptID uuid.UUID, messages []json.RawMessage) error {
	if _, err := s.store.GetAttempt(attemptID); err != nil {
		return err
	}
	return s.store.SaveConversation(attemptID, messages)
}

// GetConversation returns the stored snapshot for an attempt.
func (s *Service) GetConversation(attemptID uuid.UUID) (*domain.AttemptConversation, error) {
	if _, err := s.store.GetAttempt(attemptID); err != nil {
		return nil, err
	}
	conv, err := s.store.GetConversation(attemptID)
	if errors.Is(err, store.ErrNotFound) {
		return &domain.AttemptConversation{AttemptID: attemptID, Messages: []json.RawMessage{}}, nil
	}
	return conv, err
}

// LoadAgentKeys applies stored API keys to the agent adapters. Called once
// at daemon start; absent rows are not an error.
func (s *Service) LoadAgentKeys() error {
	for kind, configKey := range map[domain.AgentKind]string{
		domain.AgentClaude: configKeyClaudeAPIKey,
		domain.AgentGemini: configKeyGeminiAPIKey,
	} {
		key, err := s.store.GetConfigValue(configKey)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		s.engine.SetAPIKey(kind, key)
	}
	return nil
}

// AgentKeysConfigured reports which agent kinds have a stored API key.
func (s *Service) AgentKeysConfigured() map[domain.AgentKind]bool {
	configured := make(map[domain.AgentKind]bool, 2)
	for kind, key := range map[domain.AgentKind]string{
		domain.AgentClaude: configKeyClaudeAPIKey,
		domain.AgentGemini: configKeyGeminiAPIKey,
	} {
		v, err := s.store.GetConfigValue(key)
		configured[kind] = err == nil && v != ""
	}
	return configured
}

// SetAgentAPIKey updates the key an adapter exports to its children and
// persists it for the next daemon start. An empty key clears it.
func (s *Service) SetAgentAPIKey(kind domain.AgentKind, key string) error {
	var configKey string
	switch kind {
	case domain.AgentClaude:
		configKey = configKeyClaudeAPIKey
	case domain.AgentGemini:
		configKey = configKeyGeminiAPIKey
	default:
		return fmt.Errorf("unknown agent kind %q: %w", kind, ErrInvalid)
	}

	s.engine.SetAPIKey(kind, key)

	if key == "" {
		return s.store.DeleteConfigValue(configKey)
	}
	return s.store.SetConfigValue(configKey, key)
}
