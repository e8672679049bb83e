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

// DefaultGeminiBinary is the CLI launched for Gemini sessions.
const DefaultGeminiBinary = "google-gemini"

// GeminiAgent drives the Gemini CLI. One long-lived chat process serves
// the whole execution; follow-up input is written to its stdin. The CLI
// has no session resume.
//
// Callers serialize input per execution; the adapter does not.
type GeminiAgent struct {
	binary       string
	contextFiles []string

	mu       sync.Mutex
	apiKey   string
	children map[uuid.UUID]*geminiChild
}

type geminiChild struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// NewGeminiAgent builds the adapter. binary overrides the CLI name and
// may be empty; contextFiles are passed to every chat invocation.
func NewGeminiAgent(binary string, contextFiles []string) *GeminiAgent {
	if binary == "" {
		binary = DefaultGeminiBinary
	}
	return &GeminiAgent{
		binary:       binary,
		contextFiles: contextFiles,
		children:     make(map[uuid.UUID]*geminiChild),
	}
}

func (a *GeminiAgent) Kind() domain.AgentKind { return domain.AgentGemini }

func (a *GeminiAgent) SupportsResume() bool { return false }

// SetAPIKey replaces the key exported to child processes.
func (a *GeminiAgent) SetAPIKey(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.apiKey = key
}

func (a *GeminiAgent) NewConverter(onSessionID func(string)) MessageConverter {
	return NewGeminiConverter()
}

// StartSession is bookkeeping only; the chat process launches with the
// first input so the opening prompt can ride the --message flag.
func (a *GeminiAgent) StartSession(ctx context.Context, executionID uuid.UUID, info SessionInfo) (*Process, error) {
	return nil, nil
}

// SendInput starts the chat process on first use; afterwards input goes
// to the running child's stdin and no new process is returned.
func (a *GeminiAgent) SendInput(ctx context.Context, executionID uuid.UUID, info SessionInfo, input string) (*Process, error) {
	a.mu.Lock()
	child := a.children[executionID]
	a.mu.Unlock()

	if child != nil {
		if _, err := io.WriteString(child.stdin, input+"\n"); err != nil {
			return nil, fmt.Errorf("gemini stdin: %w", err)
		}
		return nil, nil
	}

	args := []string{"chat", "--message", input, "--working-dir", info.WorkingDirectory}
	for _, f := range a.contextFiles {
		args = append(args, "--context-file", f)
	}

	cmd := exec.CommandContext(ctx, a.binary, args...)
	cmd.Dir = info.WorkingDirectory
	cmd.Env = a.childEnv()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("gemini stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("gemini stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("gemini stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start gemini: %w", err)
	}

	a.mu.Lock()
	a.children[executionID] = &geminiChild{cmd: cmd, stdin: stdin}
	a.mu.Unlock()

	return &Process{Cmd: cmd, Stdout: stdout, Stderr: stderr}, nil
}

// StopSession closes the child's stdin and kills its process tree.
// Stopping an execution with no running child is a no-op.
func (a *GeminiAgent) StopSession(executionID uuid.UUID, info SessionInfo) error {
	a.mu.Lock()
	child := a.children[executionID]
	delete(a.children, executionID)
	a.mu.Unlock()
	if child == nil {
		return nil
	}
	_ = child.stdin.Close()
	return KillTree(child.cmd)
}

func (a *GeminiAgent) childEnv() []string {
	env := os.Environ()
	a.mu.Lock()
	if a.apiKey != "" {
		env = append(env, "GEMINI_API_KEY="+a.apiKey)
	}
	a.mu.Unlock()
	return env
}
