// Package agent adapts AI coding-agent CLIs behind a common interface:
// spawning sessions, feeding input, and converting each tool's wire output
// into one unified message stream.
package agent

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType discriminates the unified message union.
type MessageType string

const (
	TypeUser              MessageType = "user"
	TypeAssistant         MessageType = "assistant"
	TypeThinking          MessageType = "thinking"
	TypeToolUse           MessageType = "tool_use"
	TypeToolResult        MessageType = "tool_result"
	TypeSystem            MessageType = "system"
	TypeExecutionComplete MessageType = "execution_complete"
	TypeRaw               MessageType = "raw"
)

// SystemLevel grades system messages.
type SystemLevel string

const (
	LevelInfo    SystemLevel = "info"
	LevelWarning SystemLevel = "warning"
	LevelError   SystemLevel = "error"
)

// UnifiedMessage wraps one agent event with a type discriminator. Payload
// holds the variant struct matching Type.
type UnifiedMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload,omitempty"`
}

// rawUnifiedMessage is the decode-side shape; the payload is dispatched on
// Type afterwards.
type rawUnifiedMessage struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// UserPayload is input forwarded to the agent.
type UserPayload struct {
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// AssistantPayload is agent-authored text.
type AssistantPayload struct {
	ID       string `json:"id,omitempty"`
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
}

// ThinkingPayload is extended reasoning surfaced by the agent.
type ThinkingPayload struct {
	Content string `json:"content"`
}

// ToolUsePayload records a tool invocation.
type ToolUsePayload struct {
	ID        string          `json:"id,omitempty"`
	ToolName  string          `json:"tool_name"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
}

// ToolResultPayload records a tool outcome, matched back to its invocation
// by ToolUseID.
type ToolResultPayload struct {
	ToolUseID string `json:"tool_use_id,omitempty"`
	ToolName  string `json:"tool_name"`
	Result    string `json:"result"`
	IsError   bool   `json:"is_error"`
}

// SystemPayload is a message from the agent's own machinery.
type SystemPayload struct {
	Content  string          `json:"content"`
	Level    SystemLevel     `json:"level"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// ExecutionCompletePayload terminates an execution's message stream.
type ExecutionCompletePayload struct {
	Success    bool     `json:"success"`
	Summary    string   `json:"summary,omitempty"`
	DurationMS int64    `json:"duration_ms"`
	CostUSD    *float64 `json:"cost_usd,omitempty"`
}

// RawPayload preserves wire lines that match no known shape.
type RawPayload struct {
	Source string          `json:"source"`
	Data   json.RawMessage `json:"data"`
}

// NewMessage stamps a unified message with the current time.
func NewMessage(t MessageType, payload any) UnifiedMessage {
	return UnifiedMessage{Type: t, Timestamp: time.Now().UTC(), Payload: payload}
}

// UnmarshalJSON dispatches the payload on the type discriminator so decoded
// messages carry the concrete variant struct, not a map.
func (m *UnifiedMessage) UnmarshalJSON(data []byte) error {
	var raw rawUnifiedMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Type = raw.Type
	m.Timestamp = raw.Timestamp
	m.Payload = nil
	if len(raw.Payload) == 0 {
		return nil
	}

	var payload any
	switch raw.Type {
	case TypeUser:
		payload = &UserPayload{}
	case TypeAssistant:
		payload = &AssistantPayload{}
	case TypeThinking:
		payload = &ThinkingPayload{}
	case TypeToolUse:
		payload = &ToolUsePayload{}
	case TypeToolResult:
		payload = &ToolResultPayload{}
	case TypeSystem:
		payload = &SystemPayload{}
	case TypeExecutionComplete:
		payload = &ExecutionCompletePayload{}
	case TypeRaw:
		payload = &RawPayload{}
	default:
		return fmt.Errorf("unknown message type %q", raw.Type)
	}
	if err := json.Unmarshal(raw.Payload, payload); err != nil {
		return err
	}
	m.Payload = payload
	return nil
}
