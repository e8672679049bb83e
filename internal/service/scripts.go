package service

import (
	"bufio"
	"errors"
	"io"
	"os/exec"
	"time"

	"github.com/google/uuid"

	"github.com/hochfrequenz/agent-workbench/internal/bus"
	"github.com/hochfrequenz/agent-workbench/internal/domain"
)

// scriptOutputLimit bounds how much captured output lands on the process row.
const scriptOutputLimit = 64 * 1024

// ProcessOutputEvent is one line of setup-script output.
type ProcessOutputEvent struct {
	ProcessID uuid.UUID          `json:"process_id"`
	AttemptID uuid.UUID          `json:"attempt_id"`
	Type      domain.ProcessType `json:"process_type"`
	Stream    string             `json:"stream"`
	Content   string             `json:"content"`
	Timestamp time.Time          `json:"timestamp"`
}

// ProcessCompletedEvent announces a finished auxiliary process.
type ProcessCompletedEvent struct {
	ProcessID uuid.UUID            `json:"process_id"`
	AttemptID uuid.UUID            `json:"attempt_id"`
	Type      domain.ProcessType   `json:"process_type"`
	Status    domain.ProcessStatus `json:"status"`
	ExitCode  *int                 `json:"exit_code,omitempty"`
}

// runSetupScript executes the project's setup script inside the fresh
// worktree. Script failures mark the process row Failed and are surfaced as
// events; they never fail the attempt.
func (s *Service) runSetupScript(p *domain.Project, attempt *domain.TaskAttempt) {
	processID := uuid.New()
	row := &domain.ExecutionProcess{
		ID:               processID,
		TaskAttemptID:    attempt.ID,
		ProcessType:      domain.ProcessSetupScript,
		Status:           domain.ProcessRunning,
		Command:          "sh",
		Args:             []string{"-c", p.SetupScript},
		WorkingDirectory: attempt.WorktreePath,
		StartedAt:        time.Now().UTC(),
	}
	if err := s.store.CreateExecutionProcess(row); err != nil {
		s.logger.Error("recording setup script process", "attempt_id", attempt.ID, "error", err)
		return
	}

	cmd := exec.Command("sh", "-c", p.SetupScript)
	cmd.Dir = attempt.WorktreePath

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.finishScript(processID, attempt.ID, domain.ProcessFailed, nil, "", err.Error())
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.finishScript(processID, attempt.ID, domain.ProcessFailed, nil, "", err.Error())
		return
	}
	if err := cmd.Start(); err != nil {
		s.finishScript(processID, attempt.ID, domain.ProcessFailed, nil, "", err.Error())
		return
	}
	s.logger.Info("setup script started", "attempt_id", attempt.ID, "process_id", processID)

	outBuf := newTailBuffer(scriptOutputLimit)
	errBuf := newTailBuffer(scriptOutputLimit)
	done := make(chan struct{}, 2)
	go func() {
		s.pumpScriptOutput(processID, attempt.ID, "stdout", stdout, outBuf)
		done <- struct{}{}
	}()
	go func() {
		s.pumpScriptOutput(processID, attempt.ID, "stderr", stderr, errBuf)
		done <- struct{}{}
	}()
	<-done
	<-done

	waitErr := cmd.Wait()
	status := domain.ProcessCompleted
	zero := 0
	exitCode := &zero
	if waitErr != nil {
		status = domain.ProcessFailed
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code := exitErr.ExitCode()
			exitCode = &code
		} else {
			exitCode = nil
		}
	}
	s.finishScript(processID, attempt.ID, status, exitCode, outBuf.String(), errBuf.String())
}

func (s *Service) pumpScriptOutput(processID, attemptID uuid.UUID, stream string, r io.Reader, buf *tailBuffer) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteLine(line)
		s.bus.Publish(bus.TopicProcessOutput, ProcessOutputEvent{
			ProcessID: processID,
			AttemptID: attemptID,
			Type:      domain.ProcessSetupScript,
			Stream:    stream,
			Content:   line,
			Timestamp: time.Now().UTC(),
		})
	}
}

func (s *Service) finishScript(processID, attemptID uuid.UUID, status domain.ProcessStatus, exitCode *int, stdout, stderr string) {
	if err := s.store.FinishExecutionProcess(processID, status, exitCode, stdout, stderr); err != nil {
		s.logger.Error("finishing setup script process", "process_id", processID, "error", err)
	}
	s.bus.Publish(bus.TopicProcessCompleted, ProcessCompletedEvent{
		ProcessID: processID,
		AttemptID: attemptID,
		Type:      domain.ProcessSetupScript,
		Status:    status,
		ExitCode:  exitCode,
	})
	s.logger.Info("setup script finished", "process_id", processID, "status", status)
}

// tailBuffer keeps the trailing bytes of captured output up to a limit.
type tailBuffer struct {
	buf   []byte
	limit int
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) WriteLine(line string) {
	t.buf = append(t.buf, line...)
	t.buf = append(t.buf, '\n')
	if len(t.buf) > t.limit {
		t.buf = t.buf[len(t.buf)-t.limit:]
	}
}

func (t *tailBuffer) String() string { return string(t.buf) }
