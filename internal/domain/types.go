package domain

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	TaskBacklog   TaskStatus = "backlog"
	TaskWorking   TaskStatus = "working"
	TaskReviewing TaskStatus = "reviewing"
	TaskDone      TaskStatus = "done"
	TaskCancelled TaskStatus = "cancelled"
)

// Valid reports whether s is a known task status
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskBacklog, TaskWorking, TaskReviewing, TaskDone, TaskCancelled:
		return true
	}
	return false
}

// TaskPriority represents task priority
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

// Valid reports whether p is a known priority
func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// AttemptStatus represents the execution state of a task attempt
type AttemptStatus string

const (
	AttemptRunning   AttemptStatus = "running"
	AttemptSuccess   AttemptStatus = "success"
	AttemptFailed    AttemptStatus = "failed"
	AttemptCancelled AttemptStatus = "cancelled"
)

// ProcessType classifies an execution process
type ProcessType string

const (
	ProcessSetupScript ProcessType = "setup_script"
	ProcessCodingAgent ProcessType = "coding_agent"
	ProcessDevServer   ProcessType = "dev_server"
	ProcessTerminal    ProcessType = "terminal"
)

// ProcessStatus represents the state of an execution process
type ProcessStatus string

const (
	ProcessRunning   ProcessStatus = "running"
	ProcessCompleted ProcessStatus = "completed"
	ProcessFailed    ProcessStatus = "failed"
	ProcessKilled    ProcessStatus = "killed"
)

// AgentKind identifies a coding-agent CLI flavour
type AgentKind string

const (
	AgentClaude AgentKind = "claude"
	AgentGemini AgentKind = "gemini"
)

// Valid reports whether k is a supported agent kind
func (k AgentKind) Valid() bool {
	return k == AgentClaude || k == AgentGemini
}

// GitProvider identifies a forge
type GitProvider string

const (
	ProviderGitHub GitProvider = "github"
	ProviderGitLab GitProvider = "gitlab"
	ProviderOther  GitProvider = "other"
)

// MergeRequestState represents the forge-side state of a PR/MR
type MergeRequestState string

const (
	MRStateOpened MergeRequestState = "opened"
	MRStateClosed MergeRequestState = "closed"
	MRStateMerged MergeRequestState = "merged"
	MRStateLocked MergeRequestState = "locked"
)

// MessageRole classifies a persisted conversation message
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
	RoleSystem    MessageRole = "system"
)
