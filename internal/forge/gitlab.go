package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hochfrequenz/agent-workbench/internal/domain"
	"github.com/hochfrequenz/agent-workbench/internal/git"
)

// GitLabClient implements Client against the GitLab v4 REST API, on
// gitlab.com or a self-hosted instance.
type GitLabClient struct {
	httpClient *http.Client
	git        *git.Driver
	logger     *slog.Logger
	apiBase    string
	creds      GitLabCredentials
}

// NewGitLabClient creates a client bound to the given credentials.
func NewGitLabClient(creds GitLabCredentials, gitDriver *git.Driver, logger *slog.Logger) *GitLabClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &GitLabClient{
		httpClient: &http.Client{Timeout: forgeHTTPTimeout},
		git:        gitDriver,
		logger:     logger,
		apiBase:    creds.BaseURL() + "/api/v4",
		creds:      creds,
	}
}

// gitlabMR is the subset of the merge request payload we read.
type gitlabMR struct {
	ID           int64      `json:"id"`
	IID          int64      `json:"iid"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	State        string     `json:"state"`
	SourceBranch string     `json:"source_branch"`
	TargetBranch string     `json:"target_branch"`
	WebURL       string     `json:"web_url"`
	MergeStatus  string     `json:"merge_status"`
	HasConflicts bool       `json:"has_conflicts"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	MergedAt     *time.Time `json:"merged_at"`
	HeadPipeline *struct {
		Status string `json:"status"`
	} `json:"head_pipeline"`
}

func (mr gitlabMR) toInfo() *MergeRequestInfo {
	info := &MergeRequestInfo{
		Number:       mr.IID,
		RemoteID:     fmt.Sprintf("%d", mr.ID),
		Title:        mr.Title,
		Description:  mr.Description,
		SourceBranch: mr.SourceBranch,
		TargetBranch: mr.TargetBranch,
		WebURL:       mr.WebURL,
		MergeStatus:  mr.MergeStatus,
		HasConflicts: mr.HasConflicts,
		CreatedAt:    mr.CreatedAt,
		UpdatedAt:    mr.UpdatedAt,
		MergedAt:     mr.MergedAt,
	}
	switch mr.State {
	case "opened":
		info.State = domain.MRStateOpened
	case "merged":
		info.State = domain.MRStateMerged
	case "locked":
		info.State = domain.MRStateLocked
	default:
		info.State = domain.MRStateClosed
	}
	if mr.HeadPipeline != nil {
		info.PipelineStatus = ParsePipelineStatus(mr.HeadPipeline.Status)
	}
	return info
}

// projectPath returns the url-encoded project id segment.
func (c *GitLabClient) projectPath(remote RemoteInfo) string {
	return url.PathEscape(remote.Slug())
}

func (c *GitLabClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.creds.PersonalAccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gitlab %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := forgeStatusError("gitlab", resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gitlab %s %s: parse response: %w", method, path, err)
	}
	return nil
}

// CreateMergeRequest opens a merge request and re-fetches it, since the
// create response lacks merge_status and pipeline fields.
func (c *GitLabClient) CreateMergeRequest(ctx context.Context, remote RemoteInfo, title, description, source, target string) (*MergeRequestInfo, error) {
	payload := map[string]any{
		"source_branch":        source,
		"target_branch":        target,
		"title":                title,
		"description":          description,
		"remove_source_branch": true,
	}
	var mr gitlabMR
	if err := c.do(ctx, http.MethodPost, "/projects/"+c.projectPath(remote)+"/merge_requests", payload, &mr); err != nil {
		return nil, err
	}
	c.logger.Info("merge request created", "project", remote.Slug(), "iid", mr.IID, "url", mr.WebURL)

	enriched, err := c.GetMergeRequest(ctx, remote, mr.IID)
	if err != nil {
		c.logger.Warn("merge request enrichment failed", "project", remote.Slug(), "iid", mr.IID, "error", err)
		return mr.toInfo(), nil
	}
	return enriched, nil
}

// GetMergeRequest fetches one merge request by iid.
func (c *GitLabClient) GetMergeRequest(ctx context.Context, remote RemoteInfo, number int64) (*MergeRequestInfo, error) {
	var mr gitlabMR
	path := fmt.Sprintf("/projects/%s/merge_requests/%d", c.projectPath(remote), number)
	if err := c.do(ctx, http.MethodGet, path, nil, &mr); err != nil {
		return nil, err
	}
	return mr.toInfo(), nil
}

// UpdateMergeRequestStatus re-fetches the merge request; GitLab includes
// merge_status, has_conflicts and head_pipeline inline.
func (c *GitLabClient) UpdateMergeRequestStatus(ctx context.Context, remote RemoteInfo, number int64) (*MergeRequestInfo, error) {
	return c.GetMergeRequest(ctx, remote, number)
}

// ListMergeRequests lists merge requests, optionally filtered to one source
// branch.
func (c *GitLabClient) ListMergeRequests(ctx context.Context, remote RemoteInfo, sourceBranch string) ([]MergeRequestInfo, error) {
	params := url.Values{"state": {"all"}, "per_page": {"100"}}
	if sourceBranch != "" {
		params.Set("source_branch", sourceBranch)
	}
	var mrs []gitlabMR
	path := "/projects/" + c.projectPath(remote) + "/merge_requests?" + params.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &mrs); err != nil {
		return nil, err
	}
	infos := make([]MergeRequestInfo, 0, len(mrs))
	for _, mr := range mrs {
		infos = append(infos, *mr.toInfo())
	}
	return infos, nil
}

// PushBranch pushes with the personal access token as the oauth2 user.
func (c *GitLabClient) PushBranch(repoPath, branch string, force bool) error {
	if !c.creds.Configured() {
		return fmt.Errorf("gitlab push: %w", ErrNoCredential)
	}
	return c.git.Push(repoPath, branch, force, &git.Credential{Token: c.creds.PersonalAccessToken, OAuth: true})
}
