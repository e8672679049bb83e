// Package maintenance keeps the worktree root from accumulating orphans.
//
// Attempt worktrees are normally removed when their attempt is deleted or
// merged, but a crash between creating the directory and tearing it down
// leaves debris behind. The janitor sweeps the worktree root on a cron
// schedule, removing directories no running attempt owns, and asks git to
// prune stale worktree registrations per project.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hochfrequenz/agent-workbench/internal/domain"
)

// DefaultSchedule runs the sweep daily at 03:00 local time.
const DefaultSchedule = "0 3 * * *"

// Store provides the attempt and project rows the sweep consults.
type Store interface {
	ActiveWorktreePaths() (map[string]bool, error)
	ListProjects() ([]*domain.Project, error)
}

// Pruner removes stale worktree registrations from a repository.
type Pruner interface {
	PruneWorktrees(repo string) error
}

// Janitor periodically reconciles the worktree root against the store.
type Janitor struct {
	store    Store
	git      Pruner
	root     string
	schedule cron.Schedule
	logger   *slog.Logger
}

// NewJanitor parses the cron expression (standard five-field syntax) and
// returns a janitor sweeping root on that schedule. An empty expression
// selects DefaultSchedule.
func NewJanitor(store Store, git Pruner, root, cronExpr string, logger *slog.Logger) (*Janitor, error) {
	if cronExpr == "" {
		cronExpr = DefaultSchedule
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("parsing janitor schedule %q: %w", cronExpr, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		store:    store,
		git:      git,
		root:     root,
		schedule: schedule,
		logger:   logger,
	}, nil
}

// Run sweeps on the configured schedule until the context is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	for {
		next := j.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			if err := j.Sweep(); err != nil {
				j.logger.Warn("worktree sweep failed", "error", err)
			}
		}
	}
}

// Sweep removes directories under the worktree root that no attempt with a
// live worktree owns, then prunes git's worktree registrations per project.
// Sweeping an absent root is a no-op.
func (j *Janitor) Sweep() error {
	active, err := j.store.ActiveWorktreePaths()
	if err != nil {
		return fmt.Errorf("loading active worktrees: %w", err)
	}

	entries, err := os.ReadDir(j.root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading worktree root: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(j.root, entry.Name())
		if active[path] {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			j.logger.Warn("removing orphaned worktree", "path", path, "error", err)
			continue
		}
		j.logger.Info("removed orphaned worktree", "path", path)
		removed++
	}

	projects, err := j.store.ListProjects()
	if err != nil {
		return fmt.Errorf("listing projects: %w", err)
	}
	for _, project := range projects {
		if err := j.git.PruneWorktrees(project.Path); err != nil {
			j.logger.Warn("pruning worktrees", "project", project.Name, "error", err)
		}
	}

	j.logger.Debug("worktree sweep complete", "removed", removed, "kept", len(active))
	return nil
}
