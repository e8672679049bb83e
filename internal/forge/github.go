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
	"strings"
	"time"

	"github.com/hochfrequenz/agent-workbench/internal/domain"
	"github.com/hochfrequenz/agent-workbench/internal/git"
)

const (
	defaultGitHubAPI = "https://api.github.com"
	githubUserAgent  = "agent-workbench"
	forgeHTTPTimeout = 30 * time.Second
)

// GitHubClient implements Client against the GitHub REST API.
type GitHubClient struct {
	httpClient *http.Client
	git        *git.Driver
	logger     *slog.Logger
	apiBase    string
	creds      GitHubCredentials
}

// NewGitHubClient creates a client bound to the given credentials.
func NewGitHubClient(creds GitHubCredentials, gitDriver *git.Driver, logger *slog.Logger) *GitHubClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &GitHubClient{
		httpClient: &http.Client{Timeout: forgeHTTPTimeout},
		git:        gitDriver,
		logger:     logger,
		apiBase:    defaultGitHubAPI,
		creds:      creds,
	}
}

// githubPR is the subset of the pull request payload we read.
type githubPR struct {
	Number int64  `json:"number"`
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	State  string `json:"state"`
	Merged bool   `json:"merged"`
	Head   struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	} `json:"head"`
	Base struct {
		Ref string `json:"ref"`
	} `json:"base"`
	HTMLURL        string     `json:"html_url"`
	MergeableState string     `json:"mergeable_state"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	MergedAt       *time.Time `json:"merged_at"`
}

func (pr githubPR) toInfo() *MergeRequestInfo {
	info := &MergeRequestInfo{
		Number:       pr.Number,
		RemoteID:     fmt.Sprintf("%d", pr.ID),
		Title:        pr.Title,
		Description:  pr.Body,
		SourceBranch: pr.Head.Ref,
		TargetBranch: pr.Base.Ref,
		WebURL:       pr.HTMLURL,
		MergeStatus:  pr.MergeableState,
		HasConflicts: pr.MergeableState == "dirty",
		CreatedAt:    pr.CreatedAt,
		UpdatedAt:    pr.UpdatedAt,
		MergedAt:     pr.MergedAt,
	}
	merged := pr.Merged || pr.MergedAt != nil
	switch {
	case pr.State == "open":
		info.State = domain.MRStateOpened
	case merged:
		info.State = domain.MRStateMerged
	default:
		info.State = domain.MRStateClosed
	}
	return info
}

func (c *GitHubClient) do(ctx context.Context, method, path string, body, out any) error {
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
	req.Header.Set("Authorization", "Bearer "+c.creds.AccessToken)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", githubUserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("github %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := forgeStatusError("github", resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("github %s %s: parse response: %w", method, path, err)
	}
	return nil
}

// forgeStatusError translates HTTP failure statuses into the error
// taxonomy, keeping a body snippet for diagnostics.
func forgeStatusError(provider string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s status %d: %s: %w", provider, resp.StatusCode, strings.TrimSpace(string(snippet)), ErrUnauthorized)
	case http.StatusNotFound:
		return fmt.Errorf("%s status %d: %w", provider, resp.StatusCode, ErrNotFound)
	default:
		return fmt.Errorf("%s status %d: %s", provider, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
}

// CreateMergeRequest opens a pull request.
func (c *GitHubClient) CreateMergeRequest(ctx context.Context, remote RemoteInfo, title, description, source, target string) (*MergeRequestInfo, error) {
	payload := map[string]any{
		"title": title,
		"body":  description,
		"head":  source,
		"base":  target,
		"draft": false,
	}
	var pr githubPR
	if err := c.do(ctx, http.MethodPost, "/repos/"+remote.Slug()+"/pulls", payload, &pr); err != nil {
		return nil, err
	}
	c.logger.Info("pull request created", "repo", remote.Slug(), "number", pr.Number, "url", pr.HTMLURL)
	return pr.toInfo(), nil
}

// GetMergeRequest fetches one pull request.
func (c *GitHubClient) GetMergeRequest(ctx context.Context, remote RemoteInfo, number int64) (*MergeRequestInfo, error) {
	var pr githubPR
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/pulls/%d", remote.Slug(), number), nil, &pr); err != nil {
		return nil, err
	}
	return pr.toInfo(), nil
}

// UpdateMergeRequestStatus fetches a pull request and resolves its CI state
// from the head commit's check runs.
func (c *GitHubClient) UpdateMergeRequestStatus(ctx context.Context, remote RemoteInfo, number int64) (*MergeRequestInfo, error) {
	var pr githubPR
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/pulls/%d", remote.Slug(), number), nil, &pr); err != nil {
		return nil, err
	}
	info := pr.toInfo()
	if pr.Head.SHA != "" {
		status, err := c.checkRunStatus(ctx, remote, pr.Head.SHA)
		if err != nil {
			c.logger.Warn("check-run lookup failed", "repo", remote.Slug(), "number", number, "error", err)
		} else {
			info.PipelineStatus = status
		}
	}
	return info, nil
}

// checkRunStatus reduces a commit's check runs to one pipeline status. No
// check runs at all counts as success since many repos run no CI.
func (c *GitHubClient) checkRunStatus(ctx context.Context, remote RemoteInfo, sha string) (PipelineStatus, error) {
	var runs struct {
		TotalCount int `json:"total_count"`
		CheckRuns  []struct {
			Status     string `json:"status"`
			Conclusion string `json:"conclusion"`
		} `json:"check_runs"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/commits/%s/check-runs", remote.Slug(), sha), nil, &runs); err != nil {
		return PipelineNone, err
	}

	if runs.TotalCount == 0 {
		return PipelineSuccess, nil
	}
	anyRunning := false
	for _, run := range runs.CheckRuns {
		if run.Status == "completed" {
			switch run.Conclusion {
			case "failure", "cancelled", "timed_out":
				return PipelineFailed, nil
			}
			continue
		}
		anyRunning = true
	}
	if anyRunning {
		return PipelineRunning, nil
	}
	return PipelineSuccess, nil
}

// ListMergeRequests lists pull requests, optionally filtered to one source
// branch.
func (c *GitHubClient) ListMergeRequests(ctx context.Context, remote RemoteInfo, sourceBranch string) ([]MergeRequestInfo, error) {
	params := url.Values{"state": {"all"}, "per_page": {"100"}}
	if sourceBranch != "" {
		params.Set("head", remote.Owner+":"+sourceBranch)
	}
	var prs []githubPR
	if err := c.do(ctx, http.MethodGet, "/repos/"+remote.Slug()+"/pulls?"+params.Encode(), nil, &prs); err != nil {
		return nil, err
	}
	infos := make([]MergeRequestInfo, 0, len(prs))
	for _, pr := range prs {
		infos = append(infos, *pr.toInfo())
	}
	return infos, nil
}

// PushBranch pushes with the stored token spliced into the remote URL.
func (c *GitHubClient) PushBranch(repoPath, branch string, force bool) error {
	if !c.creds.Configured() {
		return fmt.Errorf("github push: %w", ErrNoCredential)
	}
	return c.git.Push(repoPath, branch, force, &git.Credential{Token: c.creds.AccessToken})
}
