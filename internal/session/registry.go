// Package session tracks live agent executions and drives their lifecycle.
//
// The registry is the single source of truth for what is running right now.
// Persistence (execution_processes, messages) trails it: rows are written
// after the registry has already accepted the state change. All registry
// methods hold the mutex only for map reads and writes; adapter calls and
// store writes always happen outside the lock.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hochfrequenz/agent-workbench/internal/agent"
	"github.com/hochfrequenz/agent-workbench/internal/domain"
)

// ErrAttemptBusy is returned when an attempt already has an execution in
// Starting or Running state. At most one agent works a worktree at a time.
var ErrAttemptBusy = errors.New("attempt already has an active execution")

// ErrNoExecution is returned when no registry slot exists for the target.
var ErrNoExecution = errors.New("no execution found")

// Status is the lifecycle state of a registry slot.
type Status string

const (
	// StatusStarting marks a reservation whose adapter spawn is in flight.
	StatusStarting Status = "starting"
	// StatusRunning marks a slot with a live subprocess.
	StatusRunning Status = "running"
	// StatusStopped marks a slot whose last subprocess exited cleanly. The
	// slot stays resident so follow-up input can resume the conversation.
	StatusStopped Status = "stopped"
	// StatusError marks a slot whose last subprocess exited non-zero.
	StatusError Status = "error"
)

// Active reports whether the slot still occupies its attempt.
func (s Status) Active() bool { return s == StatusStarting || s == StatusRunning }

// Slot is the in-memory record of one execution: identity, live status and
// the accumulated transcript. Slots are stored by pointer and copied out by
// value; callers never hold a reference into the registry.
type Slot struct {
	ExecutionID uuid.UUID
	TaskID      uuid.UUID
	AttemptID   uuid.UUID
	Kind        domain.AgentKind
	Status      Status
	Info        agent.SessionInfo
	StartedAt   time.Time
	Messages    []agent.UnifiedMessage

	// processID is the execution_processes row of the current subprocess.
	// Each respawn (follow-up input on a one-shot CLI) gets a fresh row.
	processID uuid.UUID
	// oneShot marks adapters that spawn a subprocess per input. Follow-up
	// input for those must wait until the current subprocess exited.
	oneShot bool
	// conv survives subprocess respawns so tool-call names resolve across
	// the whole conversation, not just one process.
	conv agent.MessageConverter
}

// ProcessID returns the row id of the slot's current subprocess.
func (s Slot) ProcessID() uuid.UUID { return s.processID }

// OneShot reports whether the slot's adapter spawns one subprocess per
// input.
func (s Slot) OneShot() bool { return s.oneShot }

func (s *Slot) copyOut() Slot {
	out := *s
	out.Messages = make([]agent.UnifiedMessage, len(s.Messages))
	copy(out.Messages, s.Messages)
	return out
}

// Registry owns the executionID -> slot map behind one mutex.
type Registry struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*Slot
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{slots: make(map[uuid.UUID]*Slot)}
}

// Reserve inserts a placeholder slot in Starting state, enforcing at most
// one active execution per attempt. Finished slots for the same attempt are
// evicted so the registry holds at most one slot per attempt. The caller
// must follow up with Commit or Release.
func (r *Registry) Reserve(executionID, taskID, attemptID uuid.UUID, kind domain.AgentKind, info agent.SessionInfo, conv agent.MessageConverter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, slot := range r.slots {
		if slot.AttemptID != attemptID {
			continue
		}
		if slot.Status.Active() {
			return fmt.Errorf("attempt %s: %w", attemptID, ErrAttemptBusy)
		}
		delete(r.slots, id)
	}

	r.slots[executionID] = &Slot{
		ExecutionID: executionID,
		TaskID:      taskID,
		AttemptID:   attemptID,
		Kind:        kind,
		Status:      StatusStarting,
		Info:        info,
		StartedAt:   time.Now(),
		conv:        conv,
	}
	return nil
}

// Commit promotes a reservation to Running after the adapter spawn
// succeeded, recording the subprocess row id and whether the adapter is
// one-shot.
func (r *Registry) Commit(executionID, processID uuid.UUID, info agent.SessionInfo, oneShot bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slot, ok := r.slots[executionID]; ok {
		slot.Status = StatusRunning
		slot.Info = info
		slot.processID = processID
		slot.oneShot = oneShot
	}
}

// Release drops a reservation whose adapter spawn failed.
func (r *Registry) Release(executionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, executionID)
}

// MarkRunning flips a resident slot back to Running for a respawned
// subprocess (follow-up input after the previous process exited).
func (r *Registry) MarkRunning(executionID, processID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slot, ok := r.slots[executionID]; ok {
		slot.Status = StatusRunning
		slot.processID = processID
	}
}

// Finish moves an active slot to a terminal state, but only for the
// subprocess that currently owns it. It reports false when the slot is gone,
// already terminal, or owned by a different subprocess, which tells the
// caller the completion was handled elsewhere (an explicit stop racing
// subprocess EOF, or a stale EOF from a replaced process).
func (r *Registry) Finish(executionID, processID uuid.UUID, status Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.slots[executionID]
	if !ok || !slot.Status.Active() || slot.processID != processID {
		return false
	}
	slot.Status = status
	return true
}

// Remove deletes a slot and returns its final state.
func (r *Registry) Remove(executionID uuid.UUID) (Slot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.slots[executionID]
	if !ok {
		return Slot{}, false
	}
	delete(r.slots, executionID)
	return slot.copyOut(), true
}

// Get returns a copy of the slot for an execution.
func (r *Registry) Get(executionID uuid.UUID) (Slot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.slots[executionID]
	if !ok {
		return Slot{}, false
	}
	return slot.copyOut(), true
}

// ForAttempt returns the attempt's slot, active or finished.
func (r *Registry) ForAttempt(attemptID uuid.UUID) (Slot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, slot := range r.slots {
		if slot.AttemptID == attemptID {
			return slot.copyOut(), true
		}
	}
	return Slot{}, false
}

// ActiveForAttempt returns the attempt's slot only if it is Starting or
// Running.
func (r *Registry) ActiveForAttempt(attemptID uuid.UUID) (Slot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, slot := range r.slots {
		if slot.AttemptID == attemptID && slot.Status.Active() {
			return slot.copyOut(), true
		}
	}
	return Slot{}, false
}

// SetSessionID records the resumable session id the agent announced.
func (r *Registry) SetSessionID(executionID uuid.UUID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slot, ok := r.slots[executionID]; ok {
		slot.Info.SessionID = sessionID
	}
}

// AppendMessage adds one unified message to the slot transcript.
func (r *Registry) AppendMessage(executionID uuid.UUID, msg agent.UnifiedMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slot, ok := r.slots[executionID]; ok {
		slot.Messages = append(slot.Messages, msg)
	}
}

// Running returns copies of all slots in Starting or Running state.
func (r *Registry) Running() []Slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Slot
	for _, slot := range r.slots {
		if slot.Status.Active() {
			out = append(out, slot.copyOut())
		}
	}
	return out
}

// Count returns the number of resident slots, finished ones included.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

func (r *Registry) converter(executionID uuid.UUID) agent.MessageConverter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slot, ok := r.slots[executionID]; ok {
		return slot.conv
	}
	return nil
}
