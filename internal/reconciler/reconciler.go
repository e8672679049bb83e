// Package reconciler polls the forge for open merge requests and folds the
// observed state back into the store, promoting tasks to done when their
// merge request merges.
package reconciler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hochfrequenz/agent-workbench/internal/bus"
	"github.com/hochfrequenz/agent-workbench/internal/domain"
	"github.com/hochfrequenz/agent-workbench/internal/forge"
)

// DefaultInterval is the poll cadence when none is configured.
const DefaultInterval = 60 * time.Second

// Store is the persistence slice the reconciler reads and writes.
type Store interface {
	ListOpenMergeRequests() ([]*domain.MergeRequest, error)
	GetMergeRequest(id uuid.UUID) (*domain.MergeRequest, error)
	UpdateMergeRequestSync(mr *domain.MergeRequest) error
	GetAttempt(id uuid.UUID) (*domain.TaskAttempt, error)
	GetTask(id uuid.UUID) (*domain.Task, error)
	UpdateTaskStatus(id uuid.UUID, status domain.TaskStatus) error
}

// Forges resolves a client for a remote; satisfied by *forge.Manager.
type Forges interface {
	ClientFor(remote forge.RemoteInfo) (forge.Client, error)
}

// Reconciler drives the poll loop. Ticks are strictly sequential: a tick
// runs to completion before the next fires, so state transitions are
// observed and emitted exactly once.
type Reconciler struct {
	store    Store
	forges   Forges
	bus      *bus.Bus
	interval time.Duration
	logger   *slog.Logger
}

// New builds a reconciler; interval <= 0 selects DefaultInterval.
func New(store Store, forges Forges, eventBus *bus.Bus, interval time.Duration, logger *slog.Logger) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:    store,
		forges:   forges,
		bus:      eventBus,
		interval: interval,
		logger:   logger,
	}
}

// Run ticks until the context is cancelled. The ticker's monotonic clock
// makes the cadence immune to wall-clock jumps.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick syncs every open merge request once. Per-row failures are logged and
// skipped; one unreachable forge must not stall the rest.
func (r *Reconciler) Tick(ctx context.Context) {
	open, err := r.store.ListOpenMergeRequests()
	if err != nil {
		r.logger.Error("listing open merge requests", "error", err)
		return
	}
	for _, mr := range open {
		if ctx.Err() != nil {
			return
		}
		if err := r.syncOne(ctx, mr); err != nil {
			r.logger.Warn("syncing merge request",
				"mr_id", mr.ID,
				"url", mr.WebURL,
				"error", err)
		}
	}
}

// SyncNow forces a single merge request sync outside the tick cadence.
func (r *Reconciler) SyncNow(ctx context.Context, mrID uuid.UUID) (*domain.MergeRequest, error) {
	mr, err := r.store.GetMergeRequest(mrID)
	if err != nil {
		return nil, err
	}
	if err := r.syncOne(ctx, mr); err != nil {
		return nil, err
	}
	return mr, nil
}

func (r *Reconciler) syncOne(ctx context.Context, mr *domain.MergeRequest) error {
	// A merge observation is terminal; never let a stale forge read
	// resurrect the row.
	if mr.MergedTerminal() {
		return nil
	}

	remote, number, err := forge.ParseMergeRequestURL(mr.WebURL)
	if err != nil {
		return err
	}
	client, err := r.forges.ClientFor(remote)
	if err != nil {
		return err
	}
	info, err := client.UpdateMergeRequestStatus(ctx, remote, number)
	if err != nil {
		return err
	}

	previous := mr.State
	mr.State = info.State
	mr.Title = info.Title
	mr.Description = info.Description
	mr.MergeStatus = info.MergeStatus
	mr.HasConflicts = info.HasConflicts
	mr.PipelineStatus = string(info.PipelineStatus)
	mr.UpdatedAt = info.UpdatedAt
	if info.MergedAt != nil {
		mr.MergedAt = info.MergedAt
	}
	now := time.Now().UTC()
	mr.SyncedAt = &now

	if err := r.store.UpdateMergeRequestSync(mr); err != nil {
		return err
	}

	if mr.State != previous {
		r.bus.Publish(bus.TopicMergeRequestUpdate, MergeRequestUpdateEvent{
			MergeRequestID: mr.ID,
			PreviousState:  previous,
			NewState:       mr.State,
			TaskAttemptID:  mr.TaskAttemptID,
		})
		r.logger.Info("merge request state changed",
			"mr_id", mr.ID,
			"previous", previous,
			"new", mr.State)
	}

	if mr.State == domain.MRStateMerged && previous != domain.MRStateMerged {
		if err := r.promoteTask(mr); err != nil {
			r.logger.Error("promoting task after merge", "mr_id", mr.ID, "error", err)
		}
	}
	return nil
}

// promoteTask moves the owning task to done. This is the only automatic
// done-transition in the system: it requires an observed merge.
func (r *Reconciler) promoteTask(mr *domain.MergeRequest) error {
	attempt, err := r.store.GetAttempt(mr.TaskAttemptID)
	if err != nil {
		return err
	}
	task, err := r.store.GetTask(attempt.TaskID)
	if err != nil {
		return err
	}
	if task.Status == domain.TaskDone {
		return nil
	}
	previous := task.Status
	if err := r.store.UpdateTaskStatus(task.ID, domain.TaskDone); err != nil {
		return err
	}
	task.Status = domain.TaskDone

	r.bus.Publish(bus.TopicTaskStatusChanged, TaskStatusChangedEvent{
		TaskID:         task.ID,
		PreviousStatus: previous,
		NewStatus:      domain.TaskDone,
		Task:           task,
	})
	r.logger.Info("task done after merge", "task_id", task.ID, "mr_id", mr.ID)
	return nil
}
