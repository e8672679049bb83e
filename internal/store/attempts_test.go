package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hochfrequenz/agent-workbench/internal/domain"
)

func TestAttemptRoundTrip(t *testing.T) {
	s := newTestStore(t)
	p := testProject(t, s)
	task := testTask(t, s, p.ID)
	a := testAttempt(t, s, task.ID)

	got, err := s.GetAttempt(a.ID)
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if got.Branch != a.Branch {
		t.Errorf("Branch = %q, want %q", got.Branch, a.Branch)
	}
	if got.BaseCommit != "abc123def456" {
		t.Errorf("BaseCommit = %q", got.BaseCommit)
	}
	if got.Executor != domain.AgentClaude {
		t.Errorf("Executor = %q, want claude", got.Executor)
	}
	if got.Status != domain.AttemptRunning {
		t.Errorf("Status = %q, want running", got.Status)
	}
	if got.CompletedAt != nil {
		t.Errorf("CompletedAt = %v, want nil", got.CompletedAt)
	}
}

func TestUpdateAttemptStatusStampsCompletion(t *testing.T) {
	s := newTestStore(t)
	p := testProject(t, s)
	task := testTask(t, s, p.ID)
	a := testAttempt(t, s, task.ID)

	if err := s.UpdateAttemptStatus(a.ID, domain.AttemptSuccess); err != nil {
		t.Fatalf("UpdateAttemptStatus: %v", err)
	}
	got, _ := s.GetAttempt(a.ID)
	if got.Status != domain.AttemptSuccess {
		t.Errorf("Status = %q, want success", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not stamped on terminal status")
	}
}

func TestUpdateClaudeSessionID(t *testing.T) {
	s := newTestStore(t)
	p := testProject(t, s)
	task := testTask(t, s, p.ID)
	a := testAttempt(t, s, task.ID)

	if err := s.UpdateClaudeSessionID(a.ID, "sess-42"); err != nil {
		t.Fatalf("UpdateClaudeSessionID: %v", err)
	}
	got, _ := s.GetAttempt(a.ID)
	if got.ClaudeSessionID != "sess-42" {
		t.Errorf("ClaudeSessionID = %q, want sess-42", got.ClaudeSessionID)
	}
}

func TestConversationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	p := testProject(t, s)
	task := testTask(t, s, p.ID)
	a := testAttempt(t, s, task.ID)

	messages := []json.RawMessage{
		json.RawMessage(`{"type":"user","content":"fix it"}`),
		json.RawMessage(`{"type":"assistant","content":"done"}`),
	}
	if err := s.SaveConversation(a.ID, messages); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}

	conv, err := s.GetConversation(a.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(conv.Messages) != len(messages) {
		t.Fatalf("messages = %d, want %d", len(conv.Messages), len(messages))
	}
	for i := range messages {
		if string(conv.Messages[i]) != string(messages[i]) {
			t.Errorf("message[%d] = %s, want %s", i, conv.Messages[i], messages[i])
		}
	}

	// Saving again replaces the whole array.
	if err := s.SaveConversation(a.ID, messages[:1]); err != nil {
		t.Fatalf("SaveConversation replace: %v", err)
	}
	conv, _ = s.GetConversation(a.ID)
	if len(conv.Messages) != 1 {
		t.Errorf("after replace messages = %d, want 1", len(conv.Messages))
	}
}

func TestConversationNotFound(t *testing.T) {
	s := newTestStore(t)
	p := testProject(t, s)
	task := testTask(t, s, p.ID)
	a := testAttempt(t, s, task.ID)

	if _, err := s.GetConversation(a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestActiveWorktreePaths(t *testing.T) {
	s := newTestStore(t)
	p := testProject(t, s)
	task := testTask(t, s, p.ID)
	running := testAttempt(t, s, task.ID)
	finished := testAttempt(t, s, task.ID)
	if err := s.UpdateAttemptStatus(finished.ID, domain.AttemptFailed); err != nil {
		t.Fatalf("UpdateAttemptStatus: %v", err)
	}

	paths, err := s.ActiveWorktreePaths()
	if err != nil {
		t.Fatalf("ActiveWorktreePaths: %v", err)
	}
	if !paths[running.WorktreePath] {
		t.Errorf("running worktree %q missing", running.WorktreePath)
	}
	if paths[finished.WorktreePath] {
		t.Errorf("finished worktree %q still listed", finished.WorktreePath)
	}
}

func TestMessagesOrdered(t *testing.T) {
	s := newTestStore(t)
	p := testProject(t, s)
	task := testTask(t, s, p.ID)
	a := testAttempt(t, s, task.ID)

	for i, role := range []domain.MessageRole{domain.RoleUser, domain.RoleAssistant, domain.RoleTool} {
		m := &domain.Message{
			ID:          uuid.New(),
			AttemptID:   a.ID,
			Role:        role,
			ContentJSON: fmt.Sprintf(`{"i":%d}`, i),
			Timestamp:   a.CreatedAt.Add(time.Duration(i) * time.Millisecond),
		}
		if err := s.CreateMessage(m); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
	}

	msgs, err := s.ListMessages(a.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	wantRoles := []domain.MessageRole{domain.RoleUser, domain.RoleAssistant, domain.RoleTool}
	for i, m := range msgs {
		if m.Role != wantRoles[i] {
			t.Errorf("message[%d].Role = %q, want %q", i, m.Role, wantRoles[i])
		}
	}
}
