package maintenance

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/hochfrequenz/agent-workbench/internal/domain"
)

type fakeStore struct {
	active   map[string]bool
	projects []*domain.Project
}

func (f *fakeStore) ActiveWorktreePaths() (map[string]bool, error) { return f.active, nil }
func (f *fakeStore) ListProjects() ([]*domain.Project, error)     { return f.projects, nil }

type fakePruner struct {
	pruned []string
	err    error
}

func (f *fakePruner) PruneWorktrees(repo string) error {
	f.pruned = append(f.pruned, repo)
	return f.err
}

func TestSweepRemovesOrphanedDirectories(t *testing.T) {
	root := t.TempDir()
	keep := filepath.Join(root, "wb-keep")
	orphan := filepath.Join(root, "wb-orphan")
	for _, dir := range []string{keep, orphan} {
		if err := os.MkdirAll(filepath.Join(dir, "src"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	loose := filepath.Join(root, "notes.txt")
	if err := os.WriteFile(loose, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := &fakeStore{active: map[string]bool{keep: true}}
	j, err := NewJanitor(store, &fakePruner{}, root, "", nil)
	if err != nil {
		t.Fatalf("NewJanitor() error = %v", err)
	}
	if err := j.Sweep(); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Errorf("orphan %s still exists", orphan)
	}
	if _, err := os.Stat(keep); err != nil {
		t.Errorf("active worktree %s removed: %v", keep, err)
	}
	if _, err := os.Stat(loose); err != nil {
		t.Errorf("plain file %s removed: %v", loose, err)
	}
}

func TestSweepMissingRootIsNoop(t *testing.T) {
	store := &fakeStore{active: map[string]bool{}}
	j, err := NewJanitor(store, &fakePruner{}, filepath.Join(t.TempDir(), "absent"), "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Sweep(); err != nil {
		t.Errorf("Sweep() on missing root error = %v, want nil", err)
	}
}

func TestSweepPrunesEveryProject(t *testing.T) {
	store := &fakeStore{
		active: map[string]bool{},
		projects: []*domain.Project{
			{ID: uuid.New(), Name: "one", Path: "/repos/one"},
			{ID: uuid.New(), Name: "two", Path: "/repos/two"},
		},
	}
	pruner := &fakePruner{}
	j, err := NewJanitor(store, pruner, t.TempDir(), "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Sweep(); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if len(pruner.pruned) != 2 {
		t.Fatalf("pruned %d repos, want 2", len(pruner.pruned))
	}
	if pruner.pruned[0] != "/repos/one" || pruner.pruned[1] != "/repos/two" {
		t.Errorf("pruned = %v", pruner.pruned)
	}
}

func TestSweepToleratesPruneErrors(t *testing.T) {
	store := &fakeStore{
		active:   map[string]bool{},
		projects: []*domain.Project{{ID: uuid.New(), Name: "one", Path: "/repos/one"}},
	}
	j, err := NewJanitor(store, &fakePruner{err: errors.New("no repo")}, t.TempDir(), "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Sweep(); err != nil {
		t.Errorf("Sweep() error = %v, want nil despite prune failure", err)
	}
}

func TestNewJanitorRejectsBadSchedule(t *testing.T) {
	if _, err := NewJanitor(&fakeStore{}, &fakePruner{}, t.TempDir(), "not a cron line", nil); err == nil {
		t.Error("NewJanitor() with invalid schedule: want error, got nil")
	}
}
