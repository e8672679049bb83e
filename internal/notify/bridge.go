package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/hochfrequenz/agent-workbench/internal/bus"
	"github.com/hochfrequenz/agent-workbench/internal/domain"
	"github.com/hochfrequenz/agent-workbench/internal/reconciler"
	"github.com/hochfrequenz/agent-workbench/internal/session"
)

// TaskLookup resolves task ids to rows so notifications can name tasks
// instead of printing ids.
type TaskLookup interface {
	GetTask(id uuid.UUID) (*domain.Task, error)
}

// Bridge subscribes to the event bus and turns selected events into
// notifications: reconciler-driven task transitions and agent completions.
type Bridge struct {
	bus      *bus.Bus
	notifier Notifier
	tasks    TaskLookup
	logger   *slog.Logger
}

// NewBridge wires a notifier to the bus. tasks may be nil; notifications
// then fall back to task ids.
func NewBridge(eventBus *bus.Bus, notifier Notifier, tasks TaskLookup, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{bus: eventBus, notifier: notifier, tasks: tasks, logger: logger}
}

// Run forwards events until the context is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.bus.Subscribe("")
	defer b.bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Ch():
			if !ok {
				return nil
			}
			b.handle(ev)
		}
	}
}

func (b *Bridge) handle(ev bus.Event) {
	switch ev.Topic {
	case bus.TopicTaskStatusChanged:
		payload, ok := ev.Payload.(reconciler.TaskStatusChangedEvent)
		if !ok {
			return
		}
		b.send(taskStatusNotification(payload))
	case bus.TopicAgentCompleted:
		payload, ok := ev.Payload.(session.AgentCompletedEvent)
		if !ok {
			return
		}
		b.send(b.agentCompletedNotification(payload))
	}
}

func (b *Bridge) send(n Notification) {
	if err := b.notifier.Send(n); err != nil {
		b.logger.Warn("sending notification", "title", n.Title, "error", err)
	}
}

func taskStatusNotification(ev reconciler.TaskStatusChangedEvent) Notification {
	name := ev.TaskID.String()
	if ev.Task != nil && ev.Task.Title != "" {
		name = ev.Task.Title
	}
	severity := SeverityInfo
	if ev.NewStatus == domain.TaskDone {
		severity = SeveritySuccess
	}
	return Notification{
		Title:    fmt.Sprintf("Task %s", ev.NewStatus),
		Message:  fmt.Sprintf("%q moved from %s to %s", name, ev.PreviousStatus, ev.NewStatus),
		Severity: severity,
		TaskID:   ev.TaskID.String(),
	}
}

func (b *Bridge) agentCompletedNotification(ev session.AgentCompletedEvent) Notification {
	name := ev.TaskID.String()
	if b.tasks != nil {
		if task, err := b.tasks.GetTask(ev.TaskID); err == nil {
			name = task.Title
		}
	}

	n := Notification{
		Title:    "Agent finished",
		Message:  fmt.Sprintf("Agent for %q finished %s", name, humanize.Time(ev.FinishedAt)),
		Severity: SeveritySuccess,
		TaskID:   ev.TaskID.String(),
	}
	if ev.Status == session.StatusError {
		n.Title = "Agent failed"
		n.Severity = SeverityError
		if ev.ExitCode != nil {
			n.Message = fmt.Sprintf("Agent for %q exited with code %d %s", name, *ev.ExitCode, humanize.Time(ev.FinishedAt))
		} else {
			n.Message = fmt.Sprintf("Agent for %q failed %s", name, humanize.Time(ev.FinishedAt))
		}
	}
	return n
}
