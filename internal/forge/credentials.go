package forge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hochfrequenz/agent-workbench/internal/domain"
	"github.com/hochfrequenz/agent-workbench/internal/git"
)

// GitHubCredentials is the stored GitHub identity.
type GitHubCredentials struct {
	AccessToken   string `json:"access_token"`
	Username      string `json:"username,omitempty"`
	DefaultPRBase string `json:"default_pr_base,omitempty"`
}

// Configured reports whether a usable token is present.
func (c GitHubCredentials) Configured() bool { return c.AccessToken != "" }

// GitLabCredentials is the stored GitLab identity. GitLabURL covers
// self-hosted instances and defaults to gitlab.com.
type GitLabCredentials struct {
	PersonalAccessToken string `json:"pat"`
	Username            string `json:"username,omitempty"`
	PrimaryEmail        string `json:"primary_email,omitempty"`
	DefaultMRBase       string `json:"default_mr_base,omitempty"`
	GitLabURL           string `json:"gitlab_url,omitempty"`
}

// Configured reports whether a usable token is present.
func (c GitLabCredentials) Configured() bool { return c.PersonalAccessToken != "" }

// BaseURL returns the instance URL, defaulting to gitlab.com.
func (c GitLabCredentials) BaseURL() string {
	if c.GitLabURL != "" {
		return c.GitLabURL
	}
	return "https://gitlab.com"
}

// DecodeGitHubCredentials parses the stored JSON blob.
func DecodeGitHubCredentials(raw string) (GitHubCredentials, error) {
	var c GitHubCredentials
	if raw == "" {
		return c, nil
	}
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return c, fmt.Errorf("decode github credentials: %w", err)
	}
	return c, nil
}

// DecodeGitLabCredentials parses the stored JSON blob.
func DecodeGitLabCredentials(raw string) (GitLabCredentials, error) {
	var c GitLabCredentials
	if raw == "" {
		return c, nil
	}
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return c, fmt.Errorf("decode gitlab credentials: %w", err)
	}
	return c, nil
}

// Manager routes forge calls to the provider matching a remote and holds
// the credentials behind its own mutex. Readers snapshot credentials
// before any network call so the lock never spans I/O.
type Manager struct {
	git    *git.Driver
	logger *slog.Logger

	mu     sync.RWMutex
	github GitHubCredentials
	gitlab GitLabCredentials
}

// NewManager creates a Manager. logger may be nil.
func NewManager(gitDriver *git.Driver, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{git: gitDriver, logger: logger}
}

// SetGitHubCredentials replaces the GitHub identity.
func (m *Manager) SetGitHubCredentials(c GitHubCredentials) {
	m.mu.Lock()
	m.github = c
	m.mu.Unlock()
}

// SetGitLabCredentials replaces the GitLab identity.
func (m *Manager) SetGitLabCredentials(c GitLabCredentials) {
	m.mu.Lock()
	m.gitlab = c
	m.mu.Unlock()
}

// GitHubCredentials returns a snapshot of the GitHub identity.
func (m *Manager) GitHubCredentials() GitHubCredentials {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.github
}

// GitLabCredentials returns a snapshot of the GitLab identity.
func (m *Manager) GitLabCredentials() GitLabCredentials {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gitlab
}

// DefaultTargetBranch returns the provider's configured default merge
// target, or "" when none is stored.
func (m *Manager) DefaultTargetBranch(p domain.GitProvider) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch p {
	case domain.ProviderGitHub:
		return m.github.DefaultPRBase
	case domain.ProviderGitLab:
		return m.gitlab.DefaultMRBase
	}
	return ""
}

// ClientFor returns a Client for the remote's provider, or ErrNoCredential
// when that provider has no stored identity.
func (m *Manager) ClientFor(remote RemoteInfo) (Client, error) {
	switch remote.Provider {
	case domain.ProviderGitHub:
		creds := m.GitHubCredentials()
		if !creds.Configured() {
			return nil, fmt.Errorf("github: %w", ErrNoCredential)
		}
		return NewGitHubClient(creds, m.git, m.logger), nil
	case domain.ProviderGitLab:
		creds := m.GitLabCredentials()
		if !creds.Configured() {
			return nil, fmt.Errorf("gitlab: %w", ErrNoCredential)
		}
		return NewGitLabClient(creds, m.git, m.logger), nil
	default:
		return nil, fmt.Errorf("provider %q: %w", remote.Provider, ErrNoCredential)
	}
}
