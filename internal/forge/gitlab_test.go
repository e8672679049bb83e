package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hochfrequenz/agent-workbench/internal/domain"
)

func newTestGitLabClient(t *testing.T, handler http.Handler) *GitLabClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewGitLabClient(GitLabCredentials{PersonalAccessToken: "glpat-test", GitLabURL: srv.URL}, nil, nil)
}

var testGitLabRemote = RemoteInfo{Provider: domain.ProviderGitLab, Host: "gitlab.com", Owner: "acme", Repo: "widgets"}

const gitlabMRBody = `{
	"id": 9001, "iid": 7, "title": "Fix parser", "description": "desc",
	"state": "opened", "source_branch": "task/fix-11111111", "target_branch": "main",
	"web_url": "https://gitlab.com/acme/widgets/-/merge_requests/7",
	"merge_status": "can_be_merged", "has_conflicts": false,
	"created_at": "2026-01-02T03:04:05Z", "updated_at": "2026-01-02T03:04:05Z",
	"head_pipeline": {"status": "running"}
}`

func TestGitLabCreateMergeRequest(t *testing.T) {
	var sawCreate, sawEnrich bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer glpat-test" {
			t.Errorf("Authorization = %q", got)
		}
		// The project path segment must stay url-encoded.
		if r.URL.EscapedPath() != "/api/v4/projects/acme%2Fwidgets/merge_requests" &&
			r.URL.EscapedPath() != "/api/v4/projects/acme%2Fwidgets/merge_requests/7" {
			t.Errorf("unexpected path %s", r.URL.EscapedPath())
		}

		switch r.Method {
		case http.MethodPost:
			sawCreate = true
			var payload map[string]any
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Fatal(err)
			}
			if payload["source_branch"] != "task/fix-11111111" || payload["target_branch"] != "main" {
				t.Errorf("payload = %v", payload)
			}
			if payload["remove_source_branch"] != true {
				t.Errorf("remove_source_branch = %v, want true", payload["remove_source_branch"])
			}
			w.WriteHeader(http.StatusCreated)
			// Create responses carry no merge_status or pipeline yet.
			fmt.Fprint(w, `{"id": 9001, "iid": 7, "title": "Fix parser", "state": "opened",
				"source_branch": "task/fix-11111111", "target_branch": "main",
				"web_url": "https://gitlab.com/acme/widgets/-/merge_requests/7",
				"created_at": "2026-01-02T03:04:05Z", "updated_at": "2026-01-02T03:04:05Z"}`)
		case http.MethodGet:
			sawEnrich = true
			fmt.Fprint(w, gitlabMRBody)
		}
	})

	c := newTestGitLabClient(t, handler)
	info, err := c.CreateMergeRequest(context.Background(), testGitLabRemote, "Fix parser", "desc", "task/fix-11111111", "main")
	if err != nil {
		t.Fatal(err)
	}

	if !sawCreate || !sawEnrich {
		t.Errorf("create/enrich = %v/%v, want both", sawCreate, sawEnrich)
	}
	if info.Number != 7 || info.RemoteID != "9001" {
		t.Errorf("number/id = %d/%s", info.Number, info.RemoteID)
	}
	if info.MergeStatus != "can_be_merged" {
		t.Errorf("MergeStatus = %q, want enriched value", info.MergeStatus)
	}
	if info.PipelineStatus != PipelineRunning {
		t.Errorf("PipelineStatus = %q, want running", info.PipelineStatus)
	}
}

func TestGitLabStateMapping(t *testing.T) {
	tests := []struct {
		state    string
		mergedAt string
		want     domain.MergeRequestState
	}{
		{"opened", "null", domain.MRStateOpened},
		{"merged", `"2026-01-03T00:00:00Z"`, domain.MRStateMerged},
		{"closed", "null", domain.MRStateClosed},
		{"locked", "null", domain.MRStateLocked},
	}

	for _, tt := range tests {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"id": 1, "iid": 1, "state": %q, "merged_at": %s,
				"source_branch": "b", "target_branch": "main",
				"created_at": "2026-01-02T03:04:05Z", "updated_at": "2026-01-02T03:04:05Z"}`,
				tt.state, tt.mergedAt)
		})
		c := newTestGitLabClient(t, handler)

		info, err := c.GetMergeRequest(context.Background(), testGitLabRemote, 1)
		if err != nil {
			t.Fatal(err)
		}
		if info.State != tt.want {
			t.Errorf("state=%s: got %q, want %q", tt.state, info.State, tt.want)
		}
		if tt.want == domain.MRStateMerged && info.MergedAt == nil {
			t.Error("merged MR missing MergedAt")
		}
	}
}

func TestGitLabConflictsSurface(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": 1, "iid": 1, "state": "opened",
			"source_branch": "b", "target_branch": "main",
			"merge_status": "cannot_be_merged", "has_conflicts": true,
			"created_at": "2026-01-02T03:04:05Z", "updated_at": "2026-01-02T03:04:05Z"}`)
	})
	c := newTestGitLabClient(t, handler)

	info, err := c.UpdateMergeRequestStatus(context.Background(), testGitLabRemote, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !info.HasConflicts || info.MergeStatus != "cannot_be_merged" {
		t.Errorf("info = %+v, want conflicts surfaced", info)
	}
}

func TestGitLabListBySourceBranch(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("source_branch"); got != "task/fix-11111111" {
			t.Errorf("source_branch = %q", got)
		}
		fmt.Fprintf(w, "[%s]", gitlabMRBody)
	})
	c := newTestGitLabClient(t, handler)

	infos, err := c.ListMergeRequests(context.Background(), testGitLabRemote, "task/fix-11111111")
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 || infos[0].Number != 7 {
		t.Errorf("infos = %+v", infos)
	}
}
