package git

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileAtRef returns the contents of a file as committed at the given ref.
func (d *Driver) FileAtRef(repo, ref, path string) ([]byte, error) {
	cmd := gitCommand(repo, "show", ref+":"+path)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git show %s:%s: %w", ref, path, err)
	}
	return out, nil
}

// ListFiles returns tracked plus untracked (not ignored) paths in a worktree.
func (d *Driver) ListFiles(repo string) ([]string, error) {
	out, err := d.output(repo, "ls-files", "--cached", "--others", "--exclude-standard")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// ReadWorktreeFile reads a file from a worktree, rejecting paths that
// escape the worktree root.
func ReadWorktreeFile(worktree, rel string) ([]byte, error) {
	abs, err := securePath(worktree, rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

// securePath joins rel under root and verifies the result stays inside root.
func securePath(root, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path %q must be relative: %w", rel, fs.ErrInvalid)
	}
	abs := filepath.Join(root, rel)
	cleanRoot := filepath.Clean(root)
	if abs != cleanRoot && !strings.HasPrefix(abs, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes worktree: %w", rel, fs.ErrInvalid)
	}
	return abs, nil
}
