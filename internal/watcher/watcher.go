// Package watcher mirrors filesystem activity inside attempt worktrees onto
// the event bus, so the shell can refresh diffs while an agent edits files.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hochfrequenz/agent-workbench/internal/bus"
)

// DefaultDebounce coalesces bursts of writes from agents and build tools.
const DefaultDebounce = 500 * time.Millisecond

// Kind classifies a file change.
type Kind string

const (
	KindCreated  Kind = "created"
	KindModified Kind = "modified"
	KindRemoved  Kind = "removed"
	KindRenamed  Kind = "renamed"
)

// Event is the file-change payload published per changed file.
type Event struct {
	WorktreePath string `json:"worktree_path"`
	FilePath     string `json:"file_path"`
	Kind         Kind   `json:"kind"`
}

// Watcher tracks attempt worktrees and publishes debounced per-file change
// events. Changes under .git are ignored; git's own churn (index, locks)
// would otherwise drown the signal.
type Watcher struct {
	fs       *fsnotify.Watcher
	bus      *bus.Bus
	debounce time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	worktrees map[string]struct{}
	// pending collects changes per worktree between flushes; last op per
	// file wins.
	pending map[string]map[string]Kind
	timer   *time.Timer
}

// New creates a watcher publishing to the bus. debounce <= 0 selects
// DefaultDebounce.
func New(eventBus *bus.Bus, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		fs:        fs,
		bus:       eventBus,
		debounce:  debounce,
		logger:    logger,
		worktrees: make(map[string]struct{}),
		pending:   make(map[string]map[string]Kind),
	}, nil
}

// AddWorktree starts watching a worktree recursively.
func (w *Watcher) AddWorktree(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.worktrees[path]; exists {
		return nil
	}
	err := filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if info.Name() == ".git" {
			return filepath.SkipDir
		}
		return w.fs.Add(p)
	})
	if err != nil {
		return err
	}
	w.worktrees[path] = struct{}{}
	w.logger.Debug("watching worktree", "path", path)
	return nil
}

// RemoveWorktree stops watching a worktree.
func (w *Watcher) RemoveWorktree(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.worktrees[path]; !exists {
		return
	}
	filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			w.fs.Remove(p)
		}
		return nil
	})
	delete(w.worktrees, path)
	delete(w.pending, path)
	w.logger.Debug("unwatching worktree", "path", path)
}

// Run consumes fsnotify events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// Close releases the underlying watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.fs.Close()
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if inGitDir(event.Name) {
		return
	}
	kind, ok := classify(event.Op)
	if !ok {
		return
	}

	// New directories join the watch set so nested writes are seen.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.fs.Add(event.Name); err != nil {
				w.logger.Warn("watching new directory", "path", event.Name, "error", err)
			}
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	worktree := w.findWorktree(event.Name)
	if worktree == "" {
		return
	}
	if w.pending[worktree] == nil {
		w.pending[worktree] = make(map[string]Kind)
	}
	w.pending[worktree][event.Name] = kind

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) findWorktree(path string) string {
	for wt := range w.worktrees {
		if strings.HasPrefix(path, wt+string(filepath.Separator)) || path == wt {
			return wt
		}
	}
	return ""
}

func (w *Watcher) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]map[string]Kind)
	w.mu.Unlock()

	for worktree, files := range pending {
		for file, kind := range files {
			w.bus.Publish(bus.TopicFileChange, Event{
				WorktreePath: worktree,
				FilePath:     file,
				Kind:         kind,
			})
		}
	}
}

func classify(op fsnotify.Op) (Kind, bool) {
	switch {
	case op&fsnotify.Create != 0:
		return KindCreated, true
	case op&fsnotify.Write != 0:
		return KindModified, true
	case op&fsnotify.Remove != 0:
		return KindRemoved, true
	case op&fsnotify.Rename != 0:
		return KindRenamed, true
	default:
		return "", false
	}
}

func inGitDir(path string) bool {
	sep := string(filepath.Separator)
	return strings.Contains(path, sep+".git"+sep) || strings.HasSuffix(path, sep+".git")
}
