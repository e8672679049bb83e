package agent

import (
	"encoding/json"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tidwall/gjson"
)

// claudeToolCacheSize bounds the tool_use id to name map. Tool results
// arrive within seconds of their announcement, so a small window suffices.
const claudeToolCacheSize = 100

// ClaudeConverter translates the Claude CLI's stream-json lines into
// unified messages. It is stateful: tool_use announcements are remembered
// so later tool_result lines can be labelled with the tool name. Safe for
// concurrent use; the tool cache is the only mutable state.
type ClaudeConverter struct {
	tools       *lru.Cache[string, string]
	onSessionID func(string)
}

// NewClaudeConverter builds a converter for one execution. onSessionID is
// called when the stream announces its session id and may be nil.
func NewClaudeConverter(onSessionID func(string)) *ClaudeConverter {
	cache, _ := lru.New[string, string](claudeToolCacheSize)
	return &ClaudeConverter{tools: cache, onSessionID: onSessionID}
}

// Convert maps one stdout line to at most one unified message. Lines that
// are not valid JSON are preserved as Raw rather than dropped.
func (c *ClaudeConverter) Convert(line string) (UnifiedMessage, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return UnifiedMessage{}, false
	}
	if !gjson.Valid(line) {
		return NewMessage(TypeRaw, &RawPayload{Source: "claude", Data: jsonString(line)}), true
	}

	root := gjson.Parse(line)
	switch root.Get("type").String() {
	case "thinking":
		return NewMessage(TypeThinking, &ThinkingPayload{Content: claudeContentText(root)}), true
	case "assistant":
		return c.convertAssistant(root, line)
	case "user":
		return c.convertUser(root, line)
	case "result":
		return convertResult(root), true
	case "system":
		if root.Get("subtype").String() == "init" {
			if id := root.Get("session_id").String(); id != "" && c.onSessionID != nil {
				c.onSessionID(id)
			}
		}
		return NewMessage(TypeRaw, &RawPayload{Source: "claude", Data: json.RawMessage(line)}), true
	default:
		return NewMessage(TypeRaw, &RawPayload{Source: "claude", Data: json.RawMessage(line)}), true
	}
}

// convertAssistant handles both faces of assistant lines: tool invocations
// and plain text. Every tool_use in the content block is recorded; the
// first one becomes the emitted message.
func (c *ClaudeConverter) convertAssistant(root gjson.Result, line string) (UnifiedMessage, bool) {
	var toolUse *ToolUsePayload
	var text, thinking strings.Builder

	for _, entry := range root.Get("message.content").Array() {
		switch entry.Get("type").String() {
		case "tool_use":
			id := entry.Get("id").String()
			name := entry.Get("name").String()
			c.tools.Add(id, name)
			if toolUse == nil {
				toolUse = &ToolUsePayload{
					ID:        id,
					ToolName:  name,
					ToolInput: json.RawMessage(entry.Get("input").Raw),
				}
			}
		case "text":
			text.WriteString(entry.Get("text").String())
		case "thinking":
			thinking.WriteString(entry.Get("thinking").String())
		}
	}

	if toolUse != nil {
		return NewMessage(TypeToolUse, toolUse), true
	}
	if text.Len() > 0 || thinking.Len() > 0 {
		return NewMessage(TypeAssistant, &AssistantPayload{
			ID:       root.Get("message.id").String(),
			Content:  text.String(),
			Thinking: thinking.String(),
		}), true
	}
	return NewMessage(TypeRaw, &RawPayload{Source: "claude", Data: json.RawMessage(line)}), true
}

// convertUser extracts tool results. User lines without one are preserved
// as Raw.
func (c *ClaudeConverter) convertUser(root gjson.Result, line string) (UnifiedMessage, bool) {
	for _, entry := range root.Get("message.content").Array() {
		if entry.Get("type").String() != "tool_result" {
			continue
		}
		id := entry.Get("tool_use_id").String()
		name, ok := c.tools.Get(id)
		if !ok {
			name = "Unknown"
		}
		return NewMessage(TypeToolResult, &ToolResultPayload{
			ToolUseID: id,
			ToolName:  name,
			Result:    claudeResultText(entry.Get("content")),
			IsError:   entry.Get("is_error").Bool(),
		}), true
	}
	return NewMessage(TypeRaw, &RawPayload{Source: "claude", Data: json.RawMessage(line)}), true
}

func convertResult(root gjson.Result) UnifiedMessage {
	payload := &ExecutionCompletePayload{
		Success:    root.Get("subtype").String() == "success",
		Summary:    root.Get("result").String(),
		DurationMS: root.Get("duration_ms").Int(),
	}
	if cost := root.Get("total_cost_usd"); cost.Exists() {
		v := cost.Float()
		payload.CostUSD = &v
	}
	return NewMessage(TypeExecutionComplete, payload)
}

// claudeContentText reads content that may sit at the top level or inside
// the message envelope.
func claudeContentText(root gjson.Result) string {
	if v := root.Get("content"); v.Type == gjson.String {
		return v.String()
	}
	return root.Get("message.content").String()
}

// claudeResultText renders tool result content, which the wire carries as
// either a plain string or a structured block list.
func claudeResultText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if content.IsArray() {
		var b strings.Builder
		for _, entry := range content.Array() {
			if entry.Get("type").String() == "text" {
				b.WriteString(entry.Get("text").String())
			}
		}
		if b.Len() > 0 {
			return b.String()
		}
	}
	return content.Raw
}

func jsonString(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}
