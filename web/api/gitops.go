package api

import (
	"net/http"
	"strings"

	"github.com/hochfrequenz/agent-workbench/internal/domain"
	"github.com/hochfrequenz/agent-workbench/internal/git"
)

func (s *Server) attemptFromPath(w http.ResponseWriter, r *http.Request) *domain.TaskAttempt {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid attempt id")
		return nil
	}
	attempt, err := s.store.GetAttempt(id)
	if err != nil {
		s.fail(w, err)
		return nil
	}
	return attempt
}

func (s *Server) listBranchesHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	p, err := s.store.GetProject(id)
	if err != nil {
		s.fail(w, err)
		return
	}
	branches, err := s.git.ListBranches(p.Path)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"branches": branches})
}

func (s *Server) listWorktreesHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	p, err := s.store.GetProject(id)
	if err != nil {
		s.fail(w, err)
		return
	}
	worktrees, err := s.git.ListWorktrees(p.Path)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"worktrees": worktrees})
}

func (s *Server) gitStatusHandler(w http.ResponseWriter, r *http.Request) {
	attempt := s.attemptFromPath(w, r)
	if attempt == nil {
		return
	}
	status, err := s.git.Status(attempt.WorktreePath)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) gitStageHandler(w http.ResponseWriter, r *http.Request) {
	attempt := s.attemptFromPath(w, r)
	if attempt == nil {
		return
	}
	var req struct {
		Paths []string `json:"paths"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.git.Stage(attempt.WorktreePath, req.Paths...); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "staged"})
}

func (s *Server) gitCommitHandler(w http.ResponseWriter, r *http.Request) {
	attempt := s.attemptFromPath(w, r)
	if attempt == nil {
		return
	}
	var req struct {
		Message string `json:"message"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "commit message required")
		return
	}
	sha, err := s.git.Commit(attempt.WorktreePath, req.Message)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"commit": sha})
}

func (s *Server) gitPushHandler(w http.ResponseWriter, r *http.Request) {
	attempt := s.attemptFromPath(w, r)
	if attempt == nil {
		return
	}
	var req struct {
		Force bool `json:"force"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.service.PushAttempt(attempt.ID, req.Force); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "pushed"})
}

func (s *Server) gitDiffHandler(w http.ResponseWriter, r *http.Request) {
	attempt := s.attemptFromPath(w, r)
	if attempt == nil {
		return
	}
	var req git.DiffRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// The baseline the attempt recorded at creation is the default for
	// branch diffs.
	if req.Mode == git.DiffBranchChanges && req.BaseCommit == "" {
		req.BaseCommit = attempt.BaseCommit
	}
	diff, err := s.git.Diff(attempt.WorktreePath, req)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}

func (s *Server) gitRebaseStatusHandler(w http.ResponseWriter, r *http.Request) {
	attempt := s.attemptFromPath(w, r)
	if attempt == nil {
		return
	}
	status, err := s.git.RebaseStatus(attempt.WorktreePath, attempt.BaseBranch)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) gitListFilesHandler(w http.ResponseWriter, r *http.Request) {
	attempt := s.attemptFromPath(w, r)
	if attempt == nil {
		return
	}
	files, err := s.git.ListFiles(attempt.WorktreePath)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"files": files})
}

// gitFileHandler reads a file from the worktree, either the working copy or
// at a given ref.
func (s *Server) gitFileHandler(w http.ResponseWriter, r *http.Request) {
	attempt := s.attemptFromPath(w, r)
	if attempt == nil {
		return
	}
	relPath := r.URL.Query().Get("path")
	if relPath == "" {
		writeError(w, http.StatusBadRequest, "path query parameter required")
		return
	}
	ref := r.URL.Query().Get("ref")

	var content []byte
	var err error
	if ref != "" {
		content, err = s.git.FileAtRef(attempt.WorktreePath, ref, relPath)
	} else {
		content, err = git.ReadWorktreeFile(attempt.WorktreePath, relPath)
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"path":    relPath,
		"ref":     ref,
		"content": string(content),
	})
}
