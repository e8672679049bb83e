package agent

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

// waitForFileContent polls until path holds exactly want. The fake CLI
// writes captures asynchronously, so assertions need a grace window.
func waitForFileContent(t *testing.T, path, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && string(data) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	data, _ := os.ReadFile(path)
	t.Fatalf("%s = %q, want %q", path, data, want)
}

func TestGeminiSendInputLifecycle(t *testing.T) {
	wd := t.TempDir()
	a := NewGeminiAgent(writeFakeCLI(t, t.TempDir()), []string{"GEMINI.md"})
	a.SetAPIKey("gm-key")
	execID := uuid.New()
	info := SessionInfo{WorkingDirectory: wd}
	ctx := context.Background()

	proc, err := a.SendInput(ctx, execID, info, "start the task")
	if err != nil {
		t.Fatalf("first SendInput: %v", err)
	}
	if proc == nil {
		t.Fatal("first input should spawn the chat process")
	}

	want := []string{
		"chat",
		"--message", "start the task",
		"--working-dir", wd,
		"--context-file", "GEMINI.md",
	}
	deadline := time.Now().Add(5 * time.Second)
	var args []string
	for time.Now().Before(deadline) {
		if data, err := os.ReadFile(filepath.Join(wd, "args.txt")); err == nil && len(data) > 0 {
			args = readLines(t, filepath.Join(wd, "args.txt"))
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(args) != len(want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}

	proc2, err := a.SendInput(ctx, execID, info, "more detail")
	if err != nil {
		t.Fatalf("second SendInput: %v", err)
	}
	if proc2 != nil {
		t.Error("second input spawned a process; it should reuse the running child")
	}
	waitForFileContent(t, filepath.Join(wd, "stdin.txt"), "more detail\n")

	if err := a.StopSession(execID, info); err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	_, _ = io.ReadAll(proc.Stdout)
	_, _ = io.ReadAll(proc.Stderr)
	_ = proc.Cmd.Wait()

	env := readLines(t, filepath.Join(wd, "env.txt"))
	if !envContains(env, "GEMINI_API_KEY=gm-key") {
		t.Error("GEMINI_API_KEY missing from child environment")
	}

	// A later input must start a fresh chat, not write to the dead child.
	proc3, err := a.SendInput(ctx, execID, info, "again")
	if err != nil {
		t.Fatalf("SendInput after stop: %v", err)
	}
	if proc3 == nil {
		t.Fatal("input after stop should spawn a new process")
	}
	_ = a.StopSession(execID, info)
	_, _ = io.ReadAll(proc3.Stdout)
	_, _ = io.ReadAll(proc3.Stderr)
	_ = proc3.Cmd.Wait()
}

func TestGeminiStartSessionSpawnsNothing(t *testing.T) {
	a := NewGeminiAgent("", nil)
	proc, err := a.StartSession(context.Background(), uuid.New(), SessionInfo{WorkingDirectory: t.TempDir()})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if proc != nil {
		t.Error("StartSession spawned a process; the first input should do that")
	}
}

func TestGeminiStopSessionIdempotent(t *testing.T) {
	a := NewGeminiAgent("", nil)
	if err := a.StopSession(uuid.New(), SessionInfo{}); err != nil {
		t.Errorf("stopping an idle execution: %v", err)
	}
}
