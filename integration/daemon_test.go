//go:build integration

package integration

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestVersionCommand(t *testing.T) {
	bin := binaryPath(t)

	out, err := exec.Command(bin, "version").CombinedOutput()
	if err != nil {
		t.Fatalf("version command failed: %v\n%s", err, out)
	}
	if !strings.HasPrefix(string(out), "workbenchd ") {
		t.Errorf("version output = %q, want workbenchd prefix", out)
	}
}

// TestDaemonLifecycle boots the real daemon, drives the task flow over HTTP,
// watches the SSE stream and shuts down on SIGTERM.
func TestDaemonLifecycle(t *testing.T) {
	bin := binaryPath(t)
	port := freePort(t)
	configPath := writeConfig(t, port)
	repo := initRepo(t)
	base := fmt.Sprintf("http://127.0.0.1:%d", port)

	daemon := exec.Command(bin, "serve", "--config", configPath)
	daemon.Stdout = os.Stderr
	daemon.Stderr = os.Stderr
	if err := daemon.Start(); err != nil {
		t.Fatalf("starting daemon: %v", err)
	}
	defer daemon.Process.Kill()

	waitHealthy(t, base)

	// Register the repo as a project.
	var project struct {
		ID         string `json:"id"`
		MainBranch string `json:"main_branch"`
	}
	postJSON(t, base+"/api/projects", map[string]string{"path": repo}, http.StatusCreated, &project)
	if project.MainBranch != "main" {
		t.Errorf("main_branch = %q, want main", project.MainBranch)
	}

	// Open the event stream before mutating anything.
	events := openSSE(t, base+"/api/events")

	// Create a task; the daemon provisions branch + worktree.
	var created struct {
		Task struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"task"`
		Attempt struct {
			Branch       string `json:"branch"`
			WorktreePath string `json:"worktree_path"`
		} `json:"attempt"`
	}
	postJSON(t, base+"/api/tasks", map[string]string{
		"project_id": project.ID,
		"title":      "Wire up the settings page",
	}, http.StatusCreated, &created)

	if !strings.HasPrefix(created.Attempt.Branch, "task/") {
		t.Errorf("branch = %q, want task/ prefix", created.Attempt.Branch)
	}
	if _, err := os.Stat(created.Attempt.WorktreePath); err != nil {
		t.Errorf("worktree missing: %v", err)
	}

	// Status change must surface on the stream.
	req, err := http.NewRequest("PUT", base+"/api/tasks/"+created.Task.ID+"/status",
		strings.NewReader(`{"status":"reviewing"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("status update: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status update = %d, want 200", resp.StatusCode)
	}

	select {
	case line := <-events:
		if !strings.Contains(line, "task-status-updated") {
			t.Errorf("first event = %q, want task-status-updated", line)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event on the SSE stream")
	}

	// SIGTERM must shut the daemon down cleanly.
	if err := daemon.Process.Signal(os.Interrupt); err != nil {
		t.Fatalf("signalling daemon: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- daemon.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("daemon exit: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not exit on SIGTERM")
	}
}

func waitHealthy(t *testing.T, base string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(base + "/api/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("daemon never became healthy")
}

func postJSON(t *testing.T, url string, body any, wantStatus int, out any) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("POST %s = %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s response: %v", url, err)
		}
	}
}

// openSSE subscribes to the event stream and forwards event: lines.
func openSSE(t *testing.T, url string) <-chan string {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}
	t.Cleanup(func() { resp.Body.Close() })

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "event: ") {
				lines <- line
			}
		}
	}()
	return lines
}
