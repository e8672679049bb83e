// Package git wraps the platform git binary. Every operation takes an
// explicit working directory; nothing relies on process CWD.
package git

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

var (
	// ErrWorktreeExists is returned when the target worktree path collides.
	ErrWorktreeExists = errors.New("worktree already exists")
	// ErrBranchExists is returned when the new branch name is taken.
	ErrBranchExists = errors.New("branch already exists")
	// ErrBaseUnknown is returned when no base branch could be resolved.
	ErrBaseUnknown = errors.New("no base branch resolvable")
)

// Driver invokes git subcommands.
type Driver struct {
	logger *slog.Logger
}

// NewDriver creates a Driver. logger may be nil.
func NewDriver(logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{logger: logger}
}

// run executes git with combined output, for commands whose stderr matters
// in error messages.
func (d *Driver) run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %s: %w", args[0], strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// output executes git capturing stdout only, for commands whose output is
// parsed.
func (d *Driver) output(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("git %s: %s: %w", args[0], strings.TrimSpace(string(exitErr.Stderr)), err)
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return strings.TrimSpace(string(out)), nil
}

// succeeds reports whether a git command exits zero, with output discarded.
func (d *Driver) succeeds(dir string, args ...string) bool {
	return gitCommand(dir, args...).Run() == nil
}

func gitCommand(dir string, args ...string) *exec.Cmd {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	return cmd
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// IsRepository reports whether dir contains a git repository (a .git entry,
// file or directory, both count).
func (d *Driver) IsRepository(dir string) bool {
	return d.succeeds(dir, "rev-parse", "--git-dir")
}

// CurrentBranch returns the checked-out branch of dir, or "HEAD" when
// detached.
func (d *Driver) CurrentBranch(dir string) (string, error) {
	return d.output(dir, "rev-parse", "--abbrev-ref", "HEAD")
}

// RevParse resolves a revision to its full SHA.
func (d *Driver) RevParse(dir, rev string) (string, error) {
	return d.output(dir, "rev-parse", "--verify", rev)
}

// RemoteURL returns the fetch URL of the named remote.
func (d *Driver) RemoteURL(dir, remote string) (string, error) {
	return d.output(dir, "remote", "get-url", remote)
}

// Fetch updates a remote ref, tolerating repositories without that remote.
func (d *Driver) Fetch(dir, remote string, refs ...string) error {
	args := append([]string{"fetch", remote}, refs...)
	_, err := d.run(dir, args...)
	return err
}
