// Package forge talks to GitHub and GitLab over their REST APIs: merge
// request lifecycle, pipeline status, and credentialed pushes.
package forge

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hochfrequenz/agent-workbench/internal/domain"
)

var (
	// ErrUnauthorized is returned when the forge rejects the credential.
	ErrUnauthorized = errors.New("forge rejected credential")
	// ErrNotFound is returned for unknown repositories or merge requests.
	ErrNotFound = errors.New("not found on forge")
	// ErrNoCredential is returned when an operation needs a credential and
	// none is configured.
	ErrNoCredential = errors.New("no forge credential configured")
)

// Client is the provider-independent merge request surface.
type Client interface {
	CreateMergeRequest(ctx context.Context, remote RemoteInfo, title, description, source, target string) (*MergeRequestInfo, error)
	GetMergeRequest(ctx context.Context, remote RemoteInfo, number int64) (*MergeRequestInfo, error)
	UpdateMergeRequestStatus(ctx context.Context, remote RemoteInfo, number int64) (*MergeRequestInfo, error)
	ListMergeRequests(ctx context.Context, remote RemoteInfo, sourceBranch string) ([]MergeRequestInfo, error)
	PushBranch(repoPath, branch string, force bool) error
}

// MergeRequestInfo is the normalized view of a PR or MR.
type MergeRequestInfo struct {
	Number         int64                    `json:"number"`
	RemoteID       string                   `json:"remote_id"`
	Title          string                   `json:"title"`
	Description    string                   `json:"description"`
	State          domain.MergeRequestState `json:"state"`
	SourceBranch   string                   `json:"source_branch"`
	TargetBranch   string                   `json:"target_branch"`
	WebURL         string                   `json:"web_url"`
	MergeStatus    string                   `json:"merge_status,omitempty"`
	HasConflicts   bool                     `json:"has_conflicts"`
	PipelineStatus PipelineStatus           `json:"pipeline_status,omitempty"`
	CreatedAt      time.Time                `json:"created_at"`
	UpdatedAt      time.Time                `json:"updated_at"`
	MergedAt       *time.Time               `json:"merged_at,omitempty"`
}

// PipelineStatus is the normalized CI state of a merge request head.
type PipelineStatus string

const (
	PipelineNone     PipelineStatus = "none"
	PipelinePending  PipelineStatus = "pending"
	PipelineRunning  PipelineStatus = "running"
	PipelineSuccess  PipelineStatus = "success"
	PipelineFailed   PipelineStatus = "failed"
	PipelineCanceled PipelineStatus = "canceled"
	PipelineSkipped  PipelineStatus = "skipped"
	PipelineManual   PipelineStatus = "manual"
)

// ParsePipelineStatus maps GitLab's pipeline state strings onto the
// normalized set. Unknown strings map to none.
func ParsePipelineStatus(s string) PipelineStatus {
	switch s {
	case "created", "waiting_for_resource", "preparing", "pending", "scheduled":
		return PipelinePending
	case "running":
		return PipelineRunning
	case "success":
		return PipelineSuccess
	case "failed":
		return PipelineFailed
	case "canceled":
		return PipelineCanceled
	case "skipped":
		return PipelineSkipped
	case "manual":
		return PipelineManual
	case "":
		return PipelineNone
	default:
		return PipelineNone
	}
}

// RemoteInfo identifies a repository on a forge.
type RemoteInfo struct {
	Provider domain.GitProvider `json:"provider"`
	Host     string             `json:"host"`
	Owner    string             `json:"owner"`
	Repo     string             `json:"repo"`
}

// Slug returns the owner/repo path segment.
func (r RemoteInfo) Slug() string {
	return r.Owner + "/" + r.Repo
}

var (
	scpRemoteRe  = regexp.MustCompile(`^git@([^:/]+):([^/]+)/([^/]+?)(?:\.git)?$`)
	httpRemoteRe = regexp.MustCompile(`^https?://([^/]+)/([^/]+)/([^/]+?)(?:\.git)?/?$`)
	sshRemoteRe  = regexp.MustCompile(`^ssh://git@([^:/]+)(?::\d+)?/([^/]+)/([^/]+?)(?:\.git)?$`)
)

// ParseRemoteURL extracts host, owner and repo from the three accepted
// remote URL shapes: scp-like, http(s), and ssh with optional port.
func ParseRemoteURL(raw string) (RemoteInfo, error) {
	raw = strings.TrimSpace(raw)
	for _, re := range []*regexp.Regexp{scpRemoteRe, httpRemoteRe, sshRemoteRe} {
		m := re.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		host := m[1]
		// http form may carry a port; the API host never does.
		if idx := strings.IndexByte(host, ':'); idx != -1 {
			host = host[:idx]
		}
		return RemoteInfo{
			Provider: providerForHost(host),
			Host:     host,
			Owner:    m[2],
			Repo:     m[3],
		}, nil
	}
	return RemoteInfo{}, fmt.Errorf("unrecognized remote url %q", raw)
}

func providerForHost(host string) domain.GitProvider {
	switch {
	case strings.Contains(host, "github.com"):
		return domain.ProviderGitHub
	case strings.Contains(host, "gitlab"):
		return domain.ProviderGitLab
	default:
		return domain.ProviderOther
	}
}

var mergeRequestURLRe = regexp.MustCompile(`^https?://([^/]+)/(.+?)/(?:-/)?(?:pulls?|merge_requests)/(\d+)(?:[/?#].*)?$`)

// ParseMergeRequestURL recovers the remote and number from a merge request
// web URL. It tolerates GitHub pull/pulls forms, GitLab's /-/ separator,
// and subgroup paths.
func ParseMergeRequestURL(webURL string) (RemoteInfo, int64, error) {
	m := mergeRequestURLRe.FindStringSubmatch(strings.TrimSpace(webURL))
	if m == nil {
		return RemoteInfo{}, 0, fmt.Errorf("unrecognized merge request url %q", webURL)
	}
	host := m[1]
	if idx := strings.IndexByte(host, ':'); idx != -1 {
		host = host[:idx]
	}
	segs := strings.Split(m[2], "/")
	if len(segs) < 2 {
		return RemoteInfo{}, 0, fmt.Errorf("merge request url %q has no owner/repo", webURL)
	}
	number, err := strconv.ParseInt(m[3], 10, 64)
	if err != nil {
		return RemoteInfo{}, 0, fmt.Errorf("merge request url %q: %w", webURL, err)
	}
	return RemoteInfo{
		Provider: providerForHost(host),
		Host:     host,
		Owner:    strings.Join(segs[:len(segs)-1], "/"),
		Repo:     segs[len(segs)-1],
	}, number, nil
}
