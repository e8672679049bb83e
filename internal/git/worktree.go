package git

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WorktreeInfo describes a created worktree and the baseline it was rooted
// at.
type WorktreeInfo struct {
	Path       string
	Branch     string
	BaseBranch string
	BaseCommit string
}

// defaultBranchCandidates are tried in order when the repository does not
// advertise origin/HEAD.
var defaultBranchCandidates = []string{"main", "master", "develop", "development", "trunk"}

// DefaultBranch resolves the base branch of a repository: origin/HEAD, then
// well-known names, then the first remote branch, then the current branch.
func (d *Driver) DefaultBranch(repo string) (string, error) {
	if out, err := d.output(repo, "symbolic-ref", "refs/remotes/origin/HEAD"); err == nil {
		return strings.TrimPrefix(out, "refs/remotes/origin/"), nil
	}

	for _, name := range defaultBranchCandidates {
		if d.succeeds(repo, "rev-parse", "--verify", "refs/heads/"+name) ||
			d.succeeds(repo, "rev-parse", "--verify", "refs/remotes/origin/"+name) {
			return name, nil
		}
	}

	if out, err := d.output(repo, "branch", "-r"); err == nil {
		for _, line := range strings.Split(out, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.Contains(line, "->") {
				continue
			}
			if name, ok := strings.CutPrefix(line, "origin/"); ok {
				return name, nil
			}
		}
	}

	if current, err := d.CurrentBranch(repo); err == nil && current != "" && current != "HEAD" {
		return current, nil
	}

	return "", ErrBaseUnknown
}

// CreateWorktree adds a worktree at path with a new branch rooted at base.
// An empty base is resolved via DefaultBranch. The returned info records the
// resolved base branch and its SHA at creation time, which becomes the
// attempt's immutable diff baseline.
func (d *Driver) CreateWorktree(repo, path, branch, base string) (*WorktreeInfo, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%s: %w", path, ErrWorktreeExists)
	}
	if d.BranchExists(repo, branch) {
		return nil, fmt.Errorf("%s: %w", branch, ErrBranchExists)
	}

	if base == "" {
		resolved, err := d.DefaultBranch(repo)
		if err != nil {
			return nil, err
		}
		base = resolved
	}

	// Refresh the remote ref when there is one; local-only repos are fine.
	_ = d.Fetch(repo, "origin", base)

	baseRef := base
	if d.succeeds(repo, "rev-parse", "--verify", "refs/remotes/origin/"+base) {
		baseRef = "origin/" + base
	} else if !d.succeeds(repo, "rev-parse", "--verify", base) {
		return nil, fmt.Errorf("base %q: %w", base, ErrBaseUnknown)
	}

	baseCommit, err := d.RevParse(repo, baseRef)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating worktree parent: %w", err)
	}

	if _, err := d.run(repo, "worktree", "add", "-b", branch, path, baseRef); err != nil {
		return nil, err
	}

	d.logger.Info("worktree created", "path", path, "branch", branch, "base", base, "base_commit", baseCommit)
	return &WorktreeInfo{
		Path:       path,
		Branch:     branch,
		BaseBranch: base,
		BaseCommit: baseCommit,
	}, nil
}

// RemoveWorktree detaches a worktree and best-effort removes its directory.
func (d *Driver) RemoveWorktree(repo, path string) error {
	if _, err := d.run(repo, "worktree", "remove", "--force", path); err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		d.logger.Warn("worktree directory removal failed", "path", path, "error", err)
	}
	return nil
}

// PruneWorktrees drops stale worktree registrations.
func (d *Driver) PruneWorktrees(repo string) error {
	_, err := d.run(repo, "worktree", "prune")
	return err
}

// ListWorktrees returns the registered worktree paths of a repository.
func (d *Driver) ListWorktrees(repo string) ([]string, error) {
	out, err := d.output(repo, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if p, ok := strings.CutPrefix(line, "worktree "); ok {
			paths = append(paths, p)
		}
	}
	return paths, nil
}
