package agent

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/google/uuid"

	"github.com/hochfrequenz/agent-workbench/internal/domain"
)

// DefaultClaudePackage is the npm package launched through npx when no
// override is configured.
const DefaultClaudePackage = "@anthropic-ai/claude-code"

// ClaudeAgent drives the Claude CLI. The CLI is one-shot: every input
// spawns a fresh subprocess that picks up the session via --resume, so
// the adapter only tracks children long enough to be able to stop them.
//
// Callers serialize input per execution; the adapter does not.
type ClaudeAgent struct {
	pkg string
	npx string

	mu       sync.Mutex
	apiKey   string
	children map[uuid.UUID]*exec.Cmd
}

// NewClaudeAgent builds the adapter. pkg overrides the npm package and
// may be empty.
func NewClaudeAgent(pkg string) *ClaudeAgent {
	if pkg == "" {
		pkg = DefaultClaudePackage
	}
	return &ClaudeAgent{
		pkg:      pkg,
		npx:      "npx",
		children: make(map[uuid.UUID]*exec.Cmd),
	}
}

func (a *ClaudeAgent) Kind() domain.AgentKind { return domain.AgentClaude }

func (a *ClaudeAgent) SupportsResume() bool { return true }

// SetAPIKey replaces the key exported to child processes. An empty key
// leaves authentication to the ambient environment.
func (a *ClaudeAgent) SetAPIKey(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.apiKey = key
}

func (a *ClaudeAgent) NewConverter(onSessionID func(string)) MessageConverter {
	return NewClaudeConverter(onSessionID)
}

// StartSession is bookkeeping only; the first prompt arrives through
// SendInput and launches the actual subprocess.
func (a *ClaudeAgent) StartSession(ctx context.Context, executionID uuid.UUID, info SessionInfo) (*Process, error) {
	return nil, nil
}

// SendInput spawns a fresh CLI run carrying the prompt on stdin. When the
// session already has an id the run resumes it.
func (a *ClaudeAgent) SendInput(ctx context.Context, executionID uuid.UUID, info SessionInfo, input string) (*Process, error) {
	args := []string{
		"-y", a.pkg + "@latest",
		"-p",
		"--dangerously-skip-permissions",
		"--verbose",
		"--output-format=stream-json",
	}
	if info.SessionID != "" {
		args = append(args, "--resume", info.SessionID)
	}

	cmd := exec.CommandContext(ctx, a.npx, args...)
	cmd.Dir = info.WorkingDirectory
	cmd.Env = a.childEnv()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("claude stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("claude stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("claude stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start claude: %w", err)
	}

	go func() {
		_, _ = io.WriteString(stdin, input)
		_ = stdin.Close()
	}()

	a.mu.Lock()
	a.children[executionID] = cmd
	a.mu.Unlock()

	return &Process{Cmd: cmd, Stdout: stdout, Stderr: stderr}, nil
}

// StopSession kills the execution's process tree. Stopping an execution
// with no running child is a no-op.
func (a *ClaudeAgent) StopSession(executionID uuid.UUID, info SessionInfo) error {
	a.mu.Lock()
	cmd := a.children[executionID]
	delete(a.children, executionID)
	a.mu.Unlock()
	if cmd == nil {
		return nil
	}
	return KillTree(cmd)
}

func (a *ClaudeAgent) childEnv() []string {
	env := append(os.Environ(), "NODE_NO_WARNINGS=1")
	a.mu.Lock()
	if a.apiKey != "" {
		env = append(env, "ANTHROPIC_API_KEY="+a.apiKey)
	}
	a.mu.Unlock()
	return env
}
