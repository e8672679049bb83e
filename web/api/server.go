// Package api exposes the daemon's command surface to the desktop shell: a
// JSON API on loopback plus an SSE stream and a WebSocket carrying the event
// bus. Handlers are thin; everything stateful lives behind the service, the
// git driver, the forge manager and the reconciler.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/hochfrequenz/agent-workbench/internal/bus"
	"github.com/hochfrequenz/agent-workbench/internal/forge"
	"github.com/hochfrequenz/agent-workbench/internal/git"
	"github.com/hochfrequenz/agent-workbench/internal/project"
	"github.com/hochfrequenz/agent-workbench/internal/reconciler"
	"github.com/hochfrequenz/agent-workbench/internal/service"
	"github.com/hochfrequenz/agent-workbench/internal/session"
	"github.com/hochfrequenz/agent-workbench/internal/store"
)

// GitHubAppClientID identifies the workbench's OAuth app for the device
// flow. Public by design; device grants require no client secret.
const GitHubAppClientID = "Ov23liUpS0uAl6FjMnGL"

// Options carries the server's collaborators.
type Options struct {
	Service    *service.Service
	Store      *store.Store
	Git        *git.Driver
	Forges     *forge.Manager
	Reconciler *reconciler.Reconciler
	Bus        *bus.Bus
	Logger     *slog.Logger
	Version    string
}

// Server is the HTTP API server.
type Server struct {
	service    *service.Service
	store      *store.Store
	git        *git.Driver
	forges     *forge.Manager
	reconciler *reconciler.Reconciler
	bus        *bus.Bus
	logger     *slog.Logger
	mux        *http.ServeMux
	upgrader   wsUpgrader
	version    string
}

// NewServer creates a new API server and registers all routes.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	s := &Server{
		service:    opts.Service,
		store:      opts.Store,
		git:        opts.Git,
		forges:     opts.Forges,
		reconciler: opts.Reconciler,
		bus:        opts.Bus,
		logger:     logger,
		mux:        http.NewServeMux(),
		upgrader:   newWSUpgrader(),
		version:    version,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /api/health", s.healthHandler)

	// Projects
	s.mux.HandleFunc("POST /api/projects", s.createProjectHandler)
	s.mux.HandleFunc("GET /api/projects", s.listProjectsHandler)
	s.mux.HandleFunc("GET /api/projects/recent", s.recentProjectsHandler)
	s.mux.HandleFunc("POST /api/projects/info", s.projectInfoHandler)
	s.mux.HandleFunc("POST /api/projects/validate-path", s.validateProjectPathHandler)
	s.mux.HandleFunc("GET /api/projects/{id}", s.getProjectHandler)
	s.mux.HandleFunc("PUT /api/projects/{id}", s.updateProjectHandler)
	s.mux.HandleFunc("DELETE /api/projects/{id}", s.deleteProjectHandler)
	s.mux.HandleFunc("POST /api/projects/{id}/opened", s.projectOpenedHandler)
	s.mux.HandleFunc("GET /api/projects/{id}/tasks", s.listTasksHandler)
	s.mux.HandleFunc("GET /api/projects/{id}/git/branches", s.listBranchesHandler)
	s.mux.HandleFunc("GET /api/projects/{id}/git/worktrees", s.listWorktreesHandler)

	// Tasks
	s.mux.HandleFunc("POST /api/tasks", s.createTaskHandler)
	s.mux.HandleFunc("GET /api/tasks", s.listTasksHandler)
	s.mux.HandleFunc("GET /api/tasks/{id}", s.getTaskHandler)
	s.mux.HandleFunc("PUT /api/tasks/{id}", s.updateTaskHandler)
	s.mux.HandleFunc("DELETE /api/tasks/{id}", s.deleteTaskHandler)
	s.mux.HandleFunc("PUT /api/tasks/{id}/status", s.updateTaskStatusHandler)
	s.mux.HandleFunc("GET /api/tasks/{id}/attempts", s.listAttemptsHandler)
	s.mux.HandleFunc("GET /api/tasks/{id}/merge-requests", s.taskMergeRequestsHandler)
	s.mux.HandleFunc("GET /api/tasks/{id}/conversation-state", s.conversationStateHandler)

	// Attempts
	s.mux.HandleFunc("POST /api/attempts", s.createAttemptHandler)
	s.mux.HandleFunc("GET /api/attempts/{id}", s.getAttemptHandler)
	s.mux.HandleFunc("DELETE /api/attempts/{id}", s.deleteAttemptHandler)
	s.mux.HandleFunc("PUT /api/attempts/{id}/status", s.updateAttemptStatusHandler)
	s.mux.HandleFunc("GET /api/attempts/{id}/conversation", s.getConversationHandler)
	s.mux.HandleFunc("PUT /api/attempts/{id}/conversation", s.saveConversationHandler)
	s.mux.HandleFunc("PUT /api/attempts/{id}/claude-session", s.updateClaudeSessionHandler)
	s.mux.HandleFunc("GET /api/attempts/{id}/processes", s.listProcessesHandler)
	s.mux.HandleFunc("GET /api/attempts/{id}/merge-requests", s.attemptMergeRequestsHandler)

	// Git operations on an attempt's worktree
	s.mux.HandleFunc("GET /api/attempts/{id}/git/status", s.gitStatusHandler)
	s.mux.HandleFunc("POST /api/attempts/{id}/git/stage", s.gitStageHandler)
	s.mux.HandleFunc("POST /api/attempts/{id}/git/commit", s.gitCommitHandler)
	s.mux.HandleFunc("POST /api/attempts/{id}/git/push", s.gitPushHandler)
	s.mux.HandleFunc("POST /api/attempts/{id}/git/diff", s.gitDiffHandler)
	s.mux.HandleFunc("GET /api/attempts/{id}/git/rebase-status", s.gitRebaseStatusHandler)
	s.mux.HandleFunc("GET /api/attempts/{id}/git/files", s.gitListFilesHandler)
	s.mux.HandleFunc("GET /api/attempts/{id}/git/file", s.gitFileHandler)

	// Executions
	s.mux.HandleFunc("POST /api/executions", s.executeHandler)
	s.mux.HandleFunc("GET /api/executions/running", s.runningExecutionsHandler)
	s.mux.HandleFunc("POST /api/images", s.saveImagesHandler)

	// Agent + forge configuration
	s.mux.HandleFunc("GET /api/config/agents", s.agentConfigHandler)
	s.mux.HandleFunc("PUT /api/config/agents/{kind}", s.setAgentKeyHandler)
	s.mux.HandleFunc("GET /api/config/forge", s.getForgeConfigHandler)
	s.mux.HandleFunc("PUT /api/config/forge", s.setForgeConfigHandler)
	s.mux.HandleFunc("POST /api/config/github/device/start", s.deviceStartHandler)
	s.mux.HandleFunc("POST /api/config/github/device/poll", s.devicePollHandler)

	// Merge requests
	s.mux.HandleFunc("POST /api/merge-requests", s.createMergeRequestHandler)
	s.mux.HandleFunc("GET /api/merge-requests/{id}", s.getMergeRequestHandler)
	s.mux.HandleFunc("POST /api/merge-requests/{id}/poll", s.pollMergeRequestHandler)
	s.mux.HandleFunc("POST /api/forge/detect", s.detectProviderHandler)

	// Event streams
	s.mux.HandleFunc("GET /api/events", s.sseHandler)
	s.mux.HandleFunc("GET /api/events/ws", s.wsHandler)
}

// Handler returns the route tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until the context is cancelled, then drains connections.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("api listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// fail maps domain sentinels onto status codes; anything unrecognized is a
// 500.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, forge.ErrNotFound),
		errors.Is(err, session.ErrNoExecution),
		errors.Is(err, fs.ErrNotExist):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrAttemptBusy),
		errors.Is(err, git.ErrWorktreeExists),
		errors.Is(err, git.ErrBranchExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalid),
		errors.Is(err, project.ErrInvalidPath),
		errors.Is(err, git.ErrBaseUnknown),
		errors.Is(err, forge.ErrNoCredential),
		errors.Is(err, session.ErrEmptyInput),
		errors.Is(err, fs.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, forge.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// decode reads a JSON body, rejecting unknown fields so typos surface
// instead of silently defaulting.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
