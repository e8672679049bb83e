package agent

import "strings"

// InitialPrompt renders the opening instruction for a task: the title,
// then the description as the body when present.
func InitialPrompt(title, description string) string {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	switch {
	case description == "":
		return title
	case title == "":
		return description
	default:
		return title + "\n\n" + description
	}
}

// FollowUpPrompt normalizes user-supplied follow-up input before it is
// handed to an adapter.
func FollowUpPrompt(input string) string {
	return strings.TrimSpace(input)
}
