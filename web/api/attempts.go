package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/hochfrequenz/agent-workbench/internal/domain"
)

// CreateAttemptRequest starts a fresh attempt on an existing task.
type CreateAttemptRequest struct {
	TaskID     uuid.UUID        `json:"task_id"`
	Executor   domain.AgentKind `json:"executor"`
	BaseBranch string           `json:"base_branch"`
}

func (s *Server) createAttemptHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateAttemptRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	attempt, err := s.service.CreateAttempt(req.TaskID, req.Executor, req.BaseBranch)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, attempt)
}

func (s *Server) getAttemptHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid attempt id")
		return
	}
	attempt, err := s.store.GetAttempt(id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

func (s *Server) deleteAttemptHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid attempt id")
		return
	}
	if err := s.service.DeleteAttempt(id); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) updateAttemptStatusHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid attempt id")
		return
	}
	var req struct {
		Status domain.AttemptStatus `json:"status"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	attempt, err := s.service.UpdateAttemptStatus(id, req.Status)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

func (s *Server) getConversationHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid attempt id")
		return
	}
	conv, err := s.service.GetConversation(id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) saveConversationHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid attempt id")
		return
	}
	var req struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.service.SaveConversation(id, req.Messages); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) updateClaudeSessionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid attempt id")
		return
	}
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.UpdateClaudeSessionID(id, req.SessionID); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) listProcessesHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid attempt id")
		return
	}
	procs, err := s.store.ListExecutionProcesses(id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, procs)
}

func (s *Server) attemptMergeRequestsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid attempt id")
		return
	}
	mrs, err := s.service.MergeRequestsByAttempt(id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mrs)
}
