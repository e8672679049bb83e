package domain

import (
	"time"

	"github.com/google/uuid"
)

// Project represents a local git repository the workbench operates on
type Project struct {
	ID           uuid.UUID   `json:"id"`
	Name         string      `json:"name"`
	Path         string      `json:"path"`
	GitRepoURL   string      `json:"git_repo_url,omitempty"`
	MainBranch   string      `json:"main_branch"`
	GitProvider  GitProvider `json:"git_provider"`
	SetupScript  string      `json:"setup_script,omitempty"`
	DevScript    string      `json:"dev_script,omitempty"`
	LastOpenedAt *time.Time  `json:"last_opened_at,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// ProjectInfo is the manifest data read from a project directory,
// independent of whether the project is registered
type ProjectInfo struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description,omitempty"`
	MainBranch  string `yaml:"main_branch" json:"main_branch,omitempty"`
	SetupScript string `yaml:"setup_script" json:"setup_script,omitempty"`
	DevScript   string `yaml:"dev_script" json:"dev_script,omitempty"`
}
