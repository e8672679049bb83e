package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hochfrequenz/agent-workbench/internal/domain"
	"github.com/hochfrequenz/agent-workbench/internal/forge"
	"github.com/hochfrequenz/agent-workbench/internal/store"
)

// CreateMergeRequestRequest opens a PR/MR for an attempt's branch.
type CreateMergeRequestRequest struct {
	AttemptID    uuid.UUID `json:"attempt_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	TargetBranch string    `json:"target_branch"`
}

// CreateMergeRequest pushes the attempt branch and opens a merge request on
// the project's forge. Title and description default to the task's; the
// target falls back from the attempt's base branch through the forge's
// configured default to the project's main branch. On success the task moves
// to reviewing.
func (s *Service) CreateMergeRequest(ctx context.Context, req CreateMergeRequestRequest) (*domain.MergeRequest, error) {
	attempt, err := s.store.GetAttempt(req.AttemptID)
	if err != nil {
		return nil, err
	}
	task, err := s.store.GetTask(attempt.TaskID)
	if err != nil {
		return nil, err
	}
	p, err := s.store.GetProject(task.ProjectID)
	if err != nil {
		return nil, err
	}
	remote, client, err := s.forgeClientFor(p)
	if err != nil {
		return nil, err
	}

	if err := client.PushBranch(attempt.WorktreePath, attempt.Branch, false); err != nil {
		return nil, fmt.Errorf("pushing branch %s: %w", attempt.Branch, err)
	}

	title := req.Title
	if title == "" {
		title = task.Title
	}
	description := req.Description
	if description == "" {
		description = task.Description
	}
	target := req.TargetBranch
	if target == "" {
		target = attempt.BaseBranch
	}
	if target == "" {
		target = s.forges.DefaultTargetBranch(remote.Provider)
	}
	if target == "" {
		target = p.MainBranch
	}

	info, err := client.CreateMergeRequest(ctx, remote, title, description, attempt.Branch, target)
	if err != nil {
		return nil, err
	}

	mr := mergeRequestFromInfo(attempt.ID, remote.Provider, info)
	if err := s.store.UpsertMergeRequest(mr); err != nil {
		return nil, err
	}
	s.logger.Info("merge request created",
		"attempt_id", attempt.ID,
		"provider", mr.Provider,
		"number", mr.Number,
		"url", mr.WebURL)

	// The work is out for review now.
	if task.Status == domain.TaskBacklog || task.Status == domain.TaskWorking {
		if err := s.setTaskStatus(task, domain.TaskReviewing); err != nil {
			s.logger.Error("moving task to reviewing", "task_id", task.ID, "error", err)
		}
	}
	return mr, nil
}

// PushAttempt pushes the attempt's branch to the forge remote.
func (s *Service) PushAttempt(attemptID uuid.UUID, force bool) error {
	attempt, err := s.store.GetAttempt(attemptID)
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
	_, client, err := s.forgeClientFor(p)
	if err != nil {
		return err
	}
	return client.PushBranch(attempt.WorktreePath, attempt.Branch, force)
}

// DetectProvider parses a repository's origin remote.
func (s *Service) DetectProvider(path string) (forge.RemoteInfo, error) {
	url, err := s.git.RemoteURL(path, "origin")
	if err != nil {
		return forge.RemoteInfo{}, fmt.Errorf("reading origin remote: %w", err)
	}
	return forge.ParseRemoteURL(url)
}

// MergeRequestsByTask lists persisted merge requests across the task's
// attempts.
func (s *Service) MergeRequestsByTask(taskID uuid.UUID) ([]*domain.MergeRequest, error) {
	if _, err := s.store.GetTask(taskID); err != nil {
		return nil, err
	}
	return s.store.ListMergeRequestsByTask(taskID)
}

// MergeRequestsByAttempt lists persisted merge requests for one attempt.
func (s *Service) MergeRequestsByAttempt(attemptID uuid.UUID) ([]*domain.MergeRequest, error) {
	if _, err := s.store.GetAttempt(attemptID); err != nil {
		return nil, err
	}
	return s.store.ListMergeRequestsByAttempt(attemptID)
}

func (s *Service) forgeClientFor(p *domain.Project) (forge.RemoteInfo, forge.Client, error) {
	url := p.GitRepoURL
	if url == "" {
		url, _ = s.git.RemoteURL(p.Path, "origin")
	}
	if url == "" {
		return forge.RemoteInfo{}, nil, fmt.Errorf("project %s has no git remote: %w", p.Name, ErrInvalid)
	}
	remote, err := forge.ParseRemoteURL(url)
	if err != nil {
		return forge.RemoteInfo{}, nil, err
	}
	client, err := s.forges.ClientFor(remote)
	if err != nil {
		return forge.RemoteInfo{}, nil, err
	}
	return remote, client, nil
}

// Forge identities live in app_config, not in the TOML, so the UI can edit
// them at runtime.
const (
	configKeyGitHub = "github"
	configKeyGitLab = "gitlab"
)

// LoadForgeCredentials applies stored forge identities to the manager.
// Called once at daemon start; absent rows are not an error.
func (s *Service) LoadForgeCredentials() error {
	raw, err := s.store.GetConfigValue(configKeyGitHub)
	switch {
	case err == nil:
		var c forge.GitHubCredentials
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return fmt.Errorf("stored github credentials: %w", err)
		}
		s.forges.SetGitHubCredentials(c)
	case !errors.Is(err, store.ErrNotFound):
		return err
	}

	raw, err = s.store.GetConfigValue(configKeyGitLab)
	switch {
	case err == nil:
		var c forge.GitLabCredentials
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return fmt.Errorf("stored gitlab credentials: %w", err)
		}
		s.forges.SetGitLabCredentials(c)
	case !errors.Is(err, store.ErrNotFound):
		return err
	}
	return nil
}

// ForgeCredentials returns the active forge identities.
func (s *Service) ForgeCredentials() (forge.GitHubCredentials, forge.GitLabCredentials) {
	return s.forges.GitHubCredentials(), s.forges.GitLabCredentials()
}

// SetForgeCredentials persists and applies new identities. A nil argument
// leaves that forge untouched.
func (s *Service) SetForgeCredentials(gh *forge.GitHubCredentials, gl *forge.GitLabCredentials) error {
	if gh != nil {
		data, err := json.Marshal(gh)
		if err != nil {
			return err
		}
		if err := s.store.SetConfigValue(configKeyGitHub, string(data)); err != nil {
			return err
		}
		s.forges.SetGitHubCredentials(*gh)
	}
	if gl != nil {
		data, err := json.Marshal(gl)
		if err != nil {
			return err
		}
		if err := s.store.SetConfigValue(configKeyGitLab, string(data)); err != nil {
			return err
		}
		s.forges.SetGitLabCredentials(*gl)
	}
	return nil
}

func mergeRequestFromInfo(attemptID uuid.UUID, provider domain.GitProvider, info *forge.MergeRequestInfo) *domain.MergeRequest {
	now := time.Now().UTC()
	remoteID, err := strconv.ParseInt(info.RemoteID, 10, 64)
	if err != nil {
		remoteID = info.Number
	}
	return &domain.MergeRequest{
		ID:             uuid.New(),
		TaskAttemptID:  attemptID,
		Provider:       provider,
		RemoteID:       remoteID,
		RemoteIID:      info.Number,
		Number:         info.Number,
		Title:          info.Title,
		Description:    info.Description,
		State:          info.State,
		SourceBranch:   info.SourceBranch,
		TargetBranch:   info.TargetBranch,
		WebURL:         info.WebURL,
		MergeStatus:    info.MergeStatus,
		HasConflicts:   info.HasConflicts,
		PipelineStatus: string(info.PipelineStatus),
		MergedAt:       info.MergedAt,
		CreatedAt:      info.CreatedAt,
		UpdatedAt:      info.UpdatedAt,
		SyncedAt:       &now,
	}
}
