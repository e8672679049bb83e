package bus

import (
	"strings"
	"sync"
	"time"
)

const defaultBufferSize = 100

// Event is a message published on the bus. Timestamp is set at publish time.
type Event struct {
	Topic     string      `json:"topic"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Topics the core emits. The desktop shell re-queries on reconnect; nothing
// here is persisted.
const (
	TopicAgentMessage       = "coding-agent-message"
	TopicAgentOutput        = "coding-agent-output"
	TopicAgentCompleted     = "coding-agent-process-completed"
	TopicClaudeSessionID    = "claude-session-id-received"
	TopicAttemptExecution   = "attempt-execution-update"
	TopicExecutionSummary   = "task-execution-summary"
	TopicTaskUpdated        = "task-status-updated"
	TopicAttemptCreated     = "task-attempt-created"
	TopicAttemptStatus      = "task-attempt-status-updated"
	TopicMergeRequestUpdate = "vcs:merge-request-updated"
	TopicTaskStatusChanged  = "task:status-changed"
	TopicConversationState  = "conversation-state-update"
	TopicProcessOutput      = "process-output"
	TopicProcessCompleted   = "process-completed"
	TopicFileChange         = "file-change"
)

// Subscription represents an active subscription.
type Subscription struct {
	id     int
	prefix string
	ch     chan Event
}

// Ch returns the channel to receive events on.
func (s *Subscription) Ch() <-chan Event {
	return s.ch
}

// Bus is an in-process pub/sub fan-out with topic prefix matching. Delivery
// is non-blocking; slow subscribers drop events rather than stall publishers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

// Subscribe registers for events whose topic starts with topicPrefix. An
// empty prefix matches everything. The channel buffers 100 events.
func (b *Bus) Subscribe(topicPrefix string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		prefix: topicPrefix,
		ch:     make(chan Event, defaultBufferSize),
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// Publish sends an event to every matching subscriber without blocking.
func (b *Bus) Publish(topic string, payload interface{}) {
	event := Event{
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.prefix == "" || strings.HasPrefix(topic, sub.prefix) {
			select {
			case sub.ch <- event:
			default:
				// buffer full, drop for this subscriber
			}
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
