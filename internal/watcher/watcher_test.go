package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hochfrequenz/agent-workbench/internal/bus"
)

func startWatcher(t *testing.T) (*Watcher, *bus.Bus, string) {
	t.Helper()
	b := bus.New()
	w, err := New(b, 50*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { w.Close() })

	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := w.AddWorktree(dir); err != nil {
		t.Fatalf("AddWorktree() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Run(ctx)
	return w, b, dir
}

func waitEvent(t *testing.T, sub *bus.Subscription) Event {
	t.Helper()
	select {
	case ev := <-sub.Ch():
		payload, ok := ev.Payload.(Event)
		if !ok {
			t.Fatalf("payload type = %T, want watcher.Event", ev.Payload)
		}
		return payload
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for file-change event")
		return Event{}
	}
}

func TestPublishesFileChanges(t *testing.T) {
	_, b, dir := startWatcher(t)
	sub := b.Subscribe(bus.TopicFileChange)
	defer b.Unsubscribe(sub)

	path := filepath.Join(dir, "main.go")
	if err := os.WriteFile(path, []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ev := waitEvent(t, sub)
	if ev.WorktreePath != dir {
		t.Errorf("WorktreePath = %q, want %q", ev.WorktreePath, dir)
	}
	if ev.FilePath != path {
		t.Errorf("FilePath = %q, want %q", ev.FilePath, path)
	}
	if ev.Kind != KindCreated && ev.Kind != KindModified {
		t.Errorf("Kind = %q, want created or modified", ev.Kind)
	}
}

func TestIgnoresGitInternals(t *testing.T) {
	_, b, dir := startWatcher(t)
	sub := b.Subscribe(bus.TopicFileChange)
	defer b.Unsubscribe(sub)

	if err := os.WriteFile(filepath.Join(dir, ".git", "index.lock"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	// A regular write afterwards proves the watcher is alive; the .git
	// write must not surface first.
	if err := os.WriteFile(filepath.Join(dir, "visible.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	ev := waitEvent(t, sub)
	if filepath.Base(ev.FilePath) != "visible.txt" {
		t.Errorf("first event for %q, want visible.txt", ev.FilePath)
	}
}

func TestCoalescesWriteBursts(t *testing.T) {
	_, b, dir := startWatcher(t)

	path := filepath.Join(dir, "burst.txt")
	if err := os.WriteFile(path, []byte("0"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Let the create event flush before measuring the burst.
	time.Sleep(150 * time.Millisecond)

	sub := b.Subscribe(bus.TopicFileChange)
	defer b.Unsubscribe(sub)
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte{byte('0' + i)}, 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	events := 0
	deadline := time.After(500 * time.Millisecond)
	for done := false; !done; {
		select {
		case <-sub.Ch():
			events++
		case <-deadline:
			done = true
		}
	}
	if events != 1 {
		t.Errorf("events after write burst = %d, want 1 coalesced event", events)
	}
}

func TestRemoveWorktreeStopsEvents(t *testing.T) {
	w, b, dir := startWatcher(t)
	sub := b.Subscribe(bus.TopicFileChange)
	defer b.Unsubscribe(sub)

	w.RemoveWorktree(dir)
	if err := os.WriteFile(filepath.Join(dir, "after.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-sub.Ch():
		t.Fatalf("unexpected event %+v after RemoveWorktree", ev.Payload)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestInGitDir(t *testing.T) {
	sep := string(filepath.Separator)
	cases := []struct {
		path string
		want bool
	}{
		{filepath.Join("wt", ".git", "index"), true},
		{filepath.Join("wt", ".git"), true},
		{filepath.Join("wt", "src", "main.go"), false},
		{filepath.Join("wt", ".github", "ci.yml"), false},
		{"wt" + sep + ".gitignore", false},
	}
	for _, tc := range cases {
		if got := inGitDir(tc.path); got != tc.want {
			t.Errorf("inGitDir(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestWatchesNewSubdirectories(t *testing.T) {
	_, b, dir := startWatcher(t)
	sub := b.Subscribe(bus.TopicFileChange)
	defer b.Unsubscribe(sub)

	sub1 := filepath.Join(dir, "pkg")
	if err := os.Mkdir(sub1, 0o755); err != nil {
		t.Fatal(err)
	}
	// Give the watcher a beat to pick up the new directory.
	time.Sleep(100 * time.Millisecond)
	inner := filepath.Join(sub1, "code.go")
	if err := os.WriteFile(inner, []byte("package pkg\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sub.Ch():
			if payload, ok := ev.Payload.(Event); ok && payload.FilePath == inner {
				return
			}
		case <-deadline:
			t.Fatal("no event for file inside new subdirectory")
		}
	}
}
