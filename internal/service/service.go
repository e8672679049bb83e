// Package service implements the workbench's task and attempt orchestration:
// it owns the create/execute/teardown flows that span the store, the git
// driver, the agent engine and the forge clients.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/hochfrequenz/agent-workbench/internal/bus"
	"github.com/hochfrequenz/agent-workbench/internal/domain"
	"github.com/hochfrequenz/agent-workbench/internal/forge"
	"github.com/hochfrequenz/agent-workbench/internal/git"
	"github.com/hochfrequenz/agent-workbench/internal/project"
	"github.com/hochfrequenz/agent-workbench/internal/session"
	"github.com/hochfrequenz/agent-workbench/internal/store"
)

// ErrInvalid marks request validation failures; the HTTP layer maps it to
// 400.
var ErrInvalid = errors.New("invalid request")

// WorktreeWatcher receives worktree lifecycle notifications so file watching
// follows attempt creation and teardown. A nil watcher disables this.
type WorktreeWatcher interface {
	AddWorktree(path string) error
	RemoveWorktree(path string)
}

// Options wires a Service.
type Options struct {
	Store        *store.Store
	Git          *git.Driver
	Engine       *session.Engine
	Forges       *forge.Manager
	Bus          *bus.Bus
	Watcher      WorktreeWatcher
	WorktreeRoot string
	Logger       *slog.Logger
}

// Service is the orchestration layer between the HTTP surface and the
// domain subsystems.
type Service struct {
	store        *store.Store
	git          *git.Driver
	engine       *session.Engine
	forges       *forge.Manager
	bus          *bus.Bus
	watcher      WorktreeWatcher
	worktreeRoot string
	logger       *slog.Logger
}

// New builds a Service from its dependencies.
func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:        opts.Store,
		git:          opts.Git,
		engine:       opts.Engine,
		forges:       opts.Forges,
		bus:          opts.Bus,
		watcher:      opts.Watcher,
		worktreeRoot: opts.WorktreeRoot,
		logger:       logger,
	}
}

// CreateProjectRequest registers a local repository.
type CreateProjectRequest struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	SetupScript string `json:"setup_script"`
	DevScript   string `json:"dev_script"`
}

// CreateProject validates the directory and registers it. Name, main branch,
// remote URL and provider are derived from the repository when absent.
func (s *Service) CreateProject(req CreateProjectRequest) (*domain.Project, error) {
	path := strings.TrimSpace(req.Path)
	if path == "" {
		return nil, fmt.Errorf("path is required: %w", ErrInvalid)
	}
	if err := project.ValidatePath(path); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	setupScript := req.SetupScript
	devScript := req.DevScript
	mainBranch := ""
	if info, err := project.Read(s.git, path); err == nil {
		if name == "" {
			name = info.Name
		}
		if setupScript == "" {
			setupScript = info.SetupScript
		}
		if devScript == "" {
			devScript = info.DevScript
		}
		mainBranch = info.MainBranch
	}
	if name == "" {
		name = filepath.Base(path)
	}
	if mainBranch == "" {
		if branch, err := s.git.DefaultBranch(path); err == nil {
			mainBranch = branch
		} else {
			mainBranch = "main"
		}
	}

	gitURL, _ := s.git.RemoteURL(path, "origin")
	provider := domain.ProviderOther
	if gitURL != "" {
		if remote, err := forge.ParseRemoteURL(gitURL); err == nil {
			provider = remote.Provider
		}
	}

	p := &domain.Project{
		ID:          uuid.New(),
		Name:        name,
		Path:        path,
		GitRepoURL:  gitURL,
		MainBranch:  mainBranch,
		GitProvider: provider,
		SetupScript: setupScript,
		DevScript:   devScript,
	}
	if err := s.store.CreateProject(p); err != nil {
		return nil, err
	}
	s.logger.Info("project registered", "project_id", p.ID, "name", p.Name, "path", p.Path)
	return p, nil
}

// UpdateProjectRequest carries the mutable project fields; nil pointers
// leave a field untouched.
type UpdateProjectRequest struct {
	Name        *string `json:"name"`
	MainBranch  *string `json:"main_branch"`
	SetupScript *string `json:"setup_script"`
	DevScript   *string `json:"dev_script"`
}

// UpdateProject applies a partial update.
func (s *Service) UpdateProject(id uuid.UUID, req UpdateProjectRequest) (*domain.Project, error) {
	p, err := s.store.GetProject(id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return nil, fmt.Errorf("name must not be empty: %w", ErrInvalid)
		}
		p.Name = strings.TrimSpace(*req.Name)
	}
	if req.MainBranch != nil {
		p.MainBranch = *req.MainBranch
	}
	if req.SetupScript != nil {
		p.SetupScript = *req.SetupScript
	}
	if req.DevScript != nil {
		p.DevScript = *req.DevScript
	}
	if err := s.store.UpdateProject(p); err != nil {
		return nil, err
	}
	return p, nil
}

// DeleteProject tears down the project's attempts (stopping executions and
// removing worktrees) and then deletes the row; task and attempt rows go
// with it via foreign keys.
func (s *Service) DeleteProject(id uuid.UUID) error {
	p, err := s.store.GetProject(id)
	if err != nil {
		return err
	}
	tasks, err := s.store.ListTasks(store.TaskListOptions{ProjectID: id})
	if err != nil {
		return err
	}
	for _, task := range tasks {
		s.teardownAttempts(p, task.ID)
	}
	if err := s.store.DeleteProject(id); err != nil {
		return err
	}
	s.logger.Info("project deleted", "project_id", id, "name", p.Name)
	return nil
}

// ProjectInfo reads the manifest of an unregistered directory.
func (s *Service) ProjectInfo(path string) (*domain.ProjectInfo, error) {
	return project.Read(s.git, path)
}

// ValidateProjectPath checks that a directory is usable as a project root.
func (s *Service) ValidateProjectPath(path string) error {
	return project.ValidatePath(path)
}
