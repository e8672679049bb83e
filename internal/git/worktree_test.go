package git

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func setupRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	cmds := [][]string{
		{"git", "init"},
		{"git", "config", "user.email", "test@test.com"},
		{"git", "config", "user.name", "Test"},
	}
	for _, args := range cmds {
		cmd := exec.Command(args[0], args[1:]...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("%v failed: %s", args, out)
		}
	}

	commitFile(t, dir, "README.md", "# Test\n")
	gitRun(t, dir, "branch", "-m", "main")

	return dir
}

func gitRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %s", args, out)
	}
	return string(out)
}

func commitFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	gitRun(t, dir, "add", name)
	gitRun(t, dir, "commit", "-m", "add "+name)
}

func TestCreateWorktree(t *testing.T) {
	repo := setupRepo(t)
	d := NewDriver(nil)
	wtPath := filepath.Join(t.TempDir(), "attempt-1")

	info, err := d.CreateWorktree(repo, wtPath, "task/add-login-11111111", "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(wtPath); err != nil {
		t.Error("worktree directory not created")
	}
	if !d.BranchExists(repo, "task/add-login-11111111") {
		t.Error("branch not created")
	}
	if info.BaseBranch != "main" {
		t.Errorf("BaseBranch = %q, want main", info.BaseBranch)
	}

	wantCommit, err := d.RevParse(repo, "main")
	if err != nil {
		t.Fatal(err)
	}
	if info.BaseCommit != wantCommit {
		t.Errorf("BaseCommit = %q, want %q", info.BaseCommit, wantCommit)
	}

	branch, err := d.CurrentBranch(wtPath)
	if err != nil {
		t.Fatal(err)
	}
	if branch != "task/add-login-11111111" {
		t.Errorf("worktree branch = %q, want task/add-login-11111111", branch)
	}
}

func TestCreateWorktreeBranchCollision(t *testing.T) {
	repo := setupRepo(t)
	d := NewDriver(nil)
	gitRun(t, repo, "branch", "task/taken-11111111")

	_, err := d.CreateWorktree(repo, filepath.Join(t.TempDir(), "wt"), "task/taken-11111111", "main")
	if !errors.Is(err, ErrBranchExists) {
		t.Errorf("err = %v, want ErrBranchExists", err)
	}
}

func TestCreateWorktreePathCollision(t *testing.T) {
	repo := setupRepo(t)
	d := NewDriver(nil)
	wtPath := filepath.Join(t.TempDir(), "wt")
	if err := os.MkdirAll(wtPath, 0o755); err != nil {
		t.Fatal(err)
	}

	_, err := d.CreateWorktree(repo, wtPath, "task/fresh-11111111", "main")
	if !errors.Is(err, ErrWorktreeExists) {
		t.Errorf("err = %v, want ErrWorktreeExists", err)
	}
}

func TestCreateWorktreeUnknownBase(t *testing.T) {
	repo := setupRepo(t)
	d := NewDriver(nil)

	_, err := d.CreateWorktree(repo, filepath.Join(t.TempDir(), "wt"), "task/fresh-11111111", "does-not-exist")
	if !errors.Is(err, ErrBaseUnknown) {
		t.Errorf("err = %v, want ErrBaseUnknown", err)
	}
}

func TestRemoveWorktree(t *testing.T) {
	repo := setupRepo(t)
	d := NewDriver(nil)
	wtPath := filepath.Join(t.TempDir(), "wt")

	if _, err := d.CreateWorktree(repo, wtPath, "task/gone-11111111", "main"); err != nil {
		t.Fatal(err)
	}
	if err := d.RemoveWorktree(repo, wtPath); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(wtPath); !os.IsNotExist(err) {
		t.Error("worktree directory still exists")
	}

	paths, err := d.ListWorktrees(repo)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range paths {
		if p == wtPath {
			t.Error("removed worktree still registered")
		}
	}
}

func TestDefaultBranch(t *testing.T) {
	repo := setupRepo(t)
	d := NewDriver(nil)

	got, err := d.DefaultBranch(repo)
	if err != nil {
		t.Fatal(err)
	}
	if got != "main" {
		t.Errorf("DefaultBranch = %q, want main", got)
	}

	gitRun(t, repo, "branch", "-m", "main", "master")
	got, err = d.DefaultBranch(repo)
	if err != nil {
		t.Fatal(err)
	}
	if got != "master" {
		t.Errorf("DefaultBranch = %q, want master", got)
	}
}

func TestSynthesizeBranchAvoidsRepoCollision(t *testing.T) {
	repo := setupRepo(t)
	d := NewDriver(nil)

	first := SynthesizeBranch("Add login", testTaskID, func(name string) bool {
		return d.BranchExists(repo, name)
	})
	gitRun(t, repo, "branch", first)

	second := SynthesizeBranch("Add login", testTaskID, func(name string) bool {
		return d.BranchExists(repo, name)
	})

	if second == first {
		t.Errorf("collision not avoided, both %q", first)
	}
	if second != "task/add-login-2-11111111" {
		t.Errorf("second = %q, want task/add-login-2-11111111", second)
	}
}
