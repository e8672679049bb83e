package agent

import (
	"encoding/json"
	"testing"

	"github.com/hochfrequenz/agent-workbench/internal/domain"
)

func TestForKind(t *testing.T) {
	agents := []Agent{NewClaudeAgent(""), NewGeminiAgent("", nil)}

	a, ok := ForKind(domain.AgentClaude, agents)
	if !ok || a.Kind() != domain.AgentClaude {
		t.Fatalf("ForKind(claude) = %v, %v", a, ok)
	}
	a, ok = ForKind(domain.AgentGemini, agents)
	if !ok || a.Kind() != domain.AgentGemini {
		t.Fatalf("ForKind(gemini) = %v, %v", a, ok)
	}
	if _, ok := ForKind(domain.AgentKind("cursor"), agents); ok {
		t.Error("unknown kind resolved to an adapter")
	}
}

func TestUnifiedMessageRoundTrip(t *testing.T) {
	msgs := []UnifiedMessage{
		NewMessage(TypeAssistant, &AssistantPayload{ID: "m1", Content: "hello"}),
		NewMessage(TypeToolUse, &ToolUsePayload{ID: "t1", ToolName: "Bash", ToolInput: json.RawMessage(`{"cmd":"ls"}`)}),
		NewMessage(TypeToolResult, &ToolResultPayload{ToolUseID: "t1", ToolName: "Bash", Result: "ok"}),
		NewMessage(TypeExecutionComplete, &ExecutionCompletePayload{Success: true, Summary: "done", DurationMS: 12}),
		NewMessage(TypeRaw, &RawPayload{Source: "claude", Data: json.RawMessage(`{"type":"system"}`)}),
	}

	data, err := json.Marshal(msgs)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded []UnifiedMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded) != len(msgs) {
		t.Fatalf("len = %d, want %d", len(decoded), len(msgs))
	}

	use, ok := decoded[1].Payload.(*ToolUsePayload)
	if !ok {
		t.Fatalf("payload[1] = %T, want *ToolUsePayload", decoded[1].Payload)
	}
	if use.ToolName != "Bash" || string(use.ToolInput) != `{"cmd":"ls"}` {
		t.Errorf("tool_use = %+v", use)
	}

	done, ok := decoded[3].Payload.(*ExecutionCompletePayload)
	if !ok || !done.Success || done.DurationMS != 12 {
		t.Errorf("execution_complete = %+v", decoded[3].Payload)
	}

	if decoded[0].Timestamp.IsZero() {
		t.Error("timestamp lost in round trip")
	}
}

func TestUnifiedMessageRejectsUnknownType(t *testing.T) {
	var m UnifiedMessage
	err := json.Unmarshal([]byte(`{"type":"telepathy","timestamp":"2026-01-02T15:04:05Z"}`), &m)
	if err == nil {
		t.Fatal("unknown message type decoded without error")
	}
}

func TestInitialPrompt(t *testing.T) {
	tests := []struct {
		title, description, want string
	}{
		{"Fix bug", "The parser chokes on quotes.", "Fix bug\n\nThe parser chokes on quotes."},
		{"Fix bug", "", "Fix bug"},
		{"", "Just the body.", "Just the body."},
		{"  Padded  ", "  body  ", "Padded\n\nbody"},
	}
	for _, tt := range tests {
		if got := InitialPrompt(tt.title, tt.description); got != tt.want {
			t.Errorf("InitialPrompt(%q, %q) = %q, want %q", tt.title, tt.description, got, tt.want)
		}
	}
}
