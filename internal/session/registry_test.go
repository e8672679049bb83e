package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/hochfrequenz/agent-workbench/internal/agent"
	"github.com/hochfrequenz/agent-workbench/internal/domain"
)

func reserve(t *testing.T, r *Registry, attemptID uuid.UUID) uuid.UUID {
	t.Helper()
	executionID := uuid.New()
	err := r.Reserve(executionID, uuid.New(), attemptID, domain.AgentClaude, agent.SessionInfo{AttemptID: attemptID}, nil)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	return executionID
}

func TestReserveRejectsSecondActiveExecution(t *testing.T) {
	r := NewRegistry()
	attemptID := uuid.New()
	reserve(t, r, attemptID)

	err := r.Reserve(uuid.New(), uuid.New(), attemptID, domain.AgentClaude, agent.SessionInfo{}, nil)
	if !errors.Is(err, ErrAttemptBusy) {
		t.Fatalf("second Reserve() error = %v, want ErrAttemptBusy", err)
	}

	// A different attempt is unaffected.
	if err := r.Reserve(uuid.New(), uuid.New(), uuid.New(), domain.AgentGemini, agent.SessionInfo{}, nil); err != nil {
		t.Fatalf("Reserve() for other attempt error = %v", err)
	}
}

func TestReserveEvictsFinishedSlot(t *testing.T) {
	r := NewRegistry()
	attemptID := uuid.New()
	first := reserve(t, r, attemptID)
	processID := uuid.New()
	r.Commit(first, processID, agent.SessionInfo{AttemptID: attemptID}, false)
	if !r.Finish(first, processID, StatusStopped) {
		t.Fatal("Finish() = false, want true")
	}

	second := reserve(t, r, attemptID)
	if _, ok := r.Get(first); ok {
		t.Error("finished slot still resident after re-reserve")
	}
	if _, ok := r.Get(second); !ok {
		t.Error("new slot missing after re-reserve")
	}
	if got := r.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
}

func TestConcurrentReserveHasSingleWinner(t *testing.T) {
	r := NewRegistry()
	attemptID := uuid.New()

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.Reserve(uuid.New(), uuid.New(), attemptID, domain.AgentClaude, agent.SessionInfo{}, nil)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case !errors.Is(err, ErrAttemptBusy):
			t.Errorf("Reserve() error = %v, want ErrAttemptBusy", err)
		}
	}
	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}

func TestReleaseFreesAttempt(t *testing.T) {
	r := NewRegistry()
	attemptID := uuid.New()
	executionID := reserve(t, r, attemptID)
	r.Release(executionID)

	if got := r.Count(); got != 0 {
		t.Fatalf("Count() after Release = %d, want 0", got)
	}
	reserve(t, r, attemptID)
}

func TestFinishIsIdempotent(t *testing.T) {
	r := NewRegistry()
	attemptID := uuid.New()
	executionID := reserve(t, r, attemptID)
	processID := uuid.New()
	r.Commit(executionID, processID, agent.SessionInfo{}, false)

	if !r.Finish(executionID, processID, StatusStopped) {
		t.Fatal("first Finish() = false, want true")
	}
	if r.Finish(executionID, processID, StatusError) {
		t.Error("second Finish() = true, want false")
	}
	slot, _ := r.Get(executionID)
	if slot.Status != StatusStopped {
		t.Errorf("Status = %q, want %q", slot.Status, StatusStopped)
	}
}

func TestFinishIgnoresReplacedProcess(t *testing.T) {
	r := NewRegistry()
	attemptID := uuid.New()
	executionID := reserve(t, r, attemptID)
	first := uuid.New()
	r.Commit(executionID, first, agent.SessionInfo{}, true)

	// A respawn hands the slot to a new subprocess; the old process's EOF
	// must not flip the slot terminal out from under it.
	second := uuid.New()
	r.MarkRunning(executionID, second)

	if r.Finish(executionID, first, StatusStopped) {
		t.Fatal("Finish() by replaced process = true, want false")
	}
	slot, _ := r.Get(executionID)
	if slot.Status != StatusRunning {
		t.Fatalf("Status = %q after stale Finish, want %q", slot.Status, StatusRunning)
	}

	if !r.Finish(executionID, second, StatusStopped) {
		t.Error("Finish() by current process = false, want true")
	}
}

func TestFinishOnRemovedSlot(t *testing.T) {
	r := NewRegistry()
	executionID := reserve(t, r, uuid.New())
	r.Remove(executionID)

	if r.Finish(executionID, uuid.New(), StatusStopped) {
		t.Error("Finish() on removed slot = true, want false")
	}
}

func TestSlotCopiesAreIsolated(t *testing.T) {
	r := NewRegistry()
	executionID := reserve(t, r, uuid.New())
	r.AppendMessage(executionID, agent.NewMessage(agent.TypeAssistant, agent.AssistantPayload{Content: "one"}))

	copy1, _ := r.Get(executionID)
	copy1.Messages = append(copy1.Messages, agent.NewMessage(agent.TypeAssistant, agent.AssistantPayload{Content: "two"}))

	copy2, _ := r.Get(executionID)
	if got := len(copy2.Messages); got != 1 {
		t.Errorf("registry transcript length = %d after mutating a copy, want 1", got)
	}
}

func TestActiveForAttemptIgnoresFinishedSlots(t *testing.T) {
	r := NewRegistry()
	attemptID := uuid.New()
	executionID := reserve(t, r, attemptID)
	processID := uuid.New()
	r.Commit(executionID, processID, agent.SessionInfo{}, false)

	if _, ok := r.ActiveForAttempt(attemptID); !ok {
		t.Fatal("ActiveForAttempt() = false for running slot")
	}

	r.Finish(executionID, processID, StatusError)
	if _, ok := r.ActiveForAttempt(attemptID); ok {
		t.Error("ActiveForAttempt() = true for finished slot")
	}
	if _, ok := r.ForAttempt(attemptID); !ok {
		t.Error("ForAttempt() = false, finished slot should stay resident")
	}
}

func TestSetSessionIDUpdatesInfo(t *testing.T) {
	r := NewRegistry()
	executionID := reserve(t, r, uuid.New())
	r.SetSessionID(executionID, "sess-42")

	slot, _ := r.Get(executionID)
	if slot.Info.SessionID != "sess-42" {
		t.Errorf("SessionID = %q, want %q", slot.Info.SessionID, "sess-42")
	}
}

func TestRunningListsOnlyActiveSlots(t *testing.T) {
	r := NewRegistry()
	a := reserve(t, r, uuid.New())
	b := reserve(t, r, uuid.New())
	bProc := uuid.New()
	r.Commit(a, uuid.New(), agent.SessionInfo{}, false)
	r.Commit(b, bProc, agent.SessionInfo{}, false)
	r.Finish(b, bProc, StatusStopped)

	running := r.Running()
	if len(running) != 1 {
		t.Fatalf("len(Running()) = %d, want 1", len(running))
	}
	if running[0].ExecutionID != a {
		t.Errorf("Running()[0] = %s, want %s", running[0].ExecutionID, a)
	}
}
