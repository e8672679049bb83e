package api

import (
	"net/http"

	"github.com/hochfrequenz/agent-workbench/internal/forge"
	"github.com/hochfrequenz/agent-workbench/internal/service"
)

// ForgeConfig is the combined forge identity payload.
type ForgeConfig struct {
	GitHub *forge.GitHubCredentials `json:"github,omitempty"`
	GitLab *forge.GitLabCredentials `json:"gitlab,omitempty"`
}

func (s *Server) getForgeConfigHandler(w http.ResponseWriter, r *http.Request) {
	gh, gl := s.service.ForgeCredentials()
	writeJSON(w, http.StatusOK, ForgeConfig{GitHub: &gh, GitLab: &gl})
}

func (s *Server) setForgeConfigHandler(w http.ResponseWriter, r *http.Request) {
	var req ForgeConfig
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.service.SetForgeCredentials(req.GitHub, req.GitLab); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// deviceStartHandler begins GitHub's device authorization grant and returns
// the user code the UI must display.
func (s *Server) deviceStartHandler(w http.ResponseWriter, r *http.Request) {
	flow := forge.NewDeviceFlow(GitHubAppClientID, s.logger)
	auth, err := flow.Start(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, auth)
}

// devicePollHandler blocks until the user authorizes the device (or the
// request is abandoned), then stores the token as the GitHub identity.
func (s *Server) devicePollHandler(w http.ResponseWriter, r *http.Request) {
	var auth forge.DeviceAuthorization
	if err := decode(r, &auth); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if auth.DeviceCode == "" {
		writeError(w, http.StatusBadRequest, "device_code required")
		return
	}

	flow := forge.NewDeviceFlow(GitHubAppClientID, s.logger)
	token, err := flow.Poll(r.Context(), &auth)
	if err != nil {
		s.fail(w, err)
		return
	}

	gh, _ := s.service.ForgeCredentials()
	gh.AccessToken = token
	if err := s.service.SetForgeCredentials(&gh, nil); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "authorized"})
}

func (s *Server) createMergeRequestHandler(w http.ResponseWriter, r *http.Request) {
	var req service.CreateMergeRequestRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mr, err := s.service.CreateMergeRequest(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mr)
}

func (s *Server) getMergeRequestHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid merge request id")
		return
	}
	mr, err := s.store.GetMergeRequest(id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mr)
}

// pollMergeRequestHandler re-syncs one merge request from the forge on
// demand, outside the reconciler's schedule.
func (s *Server) pollMergeRequestHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid merge request id")
		return
	}
	mr, err := s.reconciler.SyncNow(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mr)
}

func (s *Server) detectProviderHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	remote, err := s.service.DetectProvider(req.Path)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, remote)
}
