package agent

import "strings"

// GeminiConverter classifies the Gemini CLI's plain-text output. The CLI
// has no structured stream mode, so classification is heuristic and
// stateless.
type GeminiConverter struct{}

// NewGeminiConverter returns the shared stateless converter.
func NewGeminiConverter() GeminiConverter { return GeminiConverter{} }

func (GeminiConverter) Convert(line string) (UnifiedMessage, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return UnifiedMessage{}, false
	}
	switch {
	case strings.HasPrefix(trimmed, "Error:") || strings.HasPrefix(trimmed, "ERROR:"):
		return NewMessage(TypeSystem, &SystemPayload{Content: trimmed, Level: LevelError}), true
	case strings.HasPrefix(trimmed, "Warning:") || strings.HasPrefix(trimmed, "WARN:"):
		return NewMessage(TypeSystem, &SystemPayload{Content: trimmed, Level: LevelWarning}), true
	case strings.Contains(trimmed, "Task completed") || strings.Contains(trimmed, "Execution finished"):
		return NewMessage(TypeExecutionComplete, &ExecutionCompletePayload{
			Success: true,
			Summary: trimmed,
		}), true
	default:
		return NewMessage(TypeAssistant, &AssistantPayload{Content: trimmed}), true
	}
}
