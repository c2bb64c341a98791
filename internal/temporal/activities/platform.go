package activities

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/unlock/orchestration-service/internal/domain"
	"github.com/unlock/orchestration-service/internal/observability"
	"github.com/unlock/orchestration-service/internal/outbox"
	"github.com/unlock/orchestration-service/internal/repository"
)

// PlatformActivities owns human tasks, run audit rows and lifecycle events.
type PlatformActivities struct {
	tasks   repository.TaskRepository
	audits  repository.RunAuditRepository
	events  EventStore
	emitter *outbox.Emitter
	metrics *observability.Metrics
}

// NewPlatformActivities creates the platform activities. metrics may be nil.
func NewPlatformActivities(tasks repository.TaskRepository, audits repository.RunAuditRepository, events EventStore, emitter *outbox.Emitter, metrics *observability.Metrics) *PlatformActivities {
	if emitter == nil {
		emitter = outbox.NewEmitter(outbox.EmitterConfig{})
	}
	return &PlatformActivities{tasks: tasks, audits: audits, events: events, emitter: emitter, metrics: metrics}
}

// Register registers every platform activity under its catalog name.
func (a *PlatformActivities) Register(r Registrar) {
	register(r, CreateTask, a.CreateTask)
	register(r, UpdateTask, a.UpdateTask)
	register(r, OpenRunAudit, a.OpenRunAudit)
	register(r, CloseRunAudit, a.CloseRunAudit)
	register(r, PublishEvent, a.PublishEvent)
}

// CreateTask inserts a pending task and records task.created. The task id
// is chosen by the workflow, so a redelivered attempt finds the stored row.
func (a *PlatformActivities) CreateTask(ctx context.Context, in CreateTaskInput) (result *TaskResult, err error) {
	start := time.Now()
	defer func() { err = finish(ctx, a.metrics, CreateTask, start, err) }()

	if in.TaskID == uuid.Nil {
		return nil, domain.NewValidationError("taskId", "is required")
	}
	task := &domain.Task{
		ID:         in.TaskID,
		TenantID:   in.TenantID,
		WorkflowID: in.WorkflowID,
		RunID:      in.RunID,
		SignalName: in.SignalName,
		Kind:       in.Kind,
		Status:     domain.TaskStatusPending,
		Context:    in.Context,
	}
	if in.EntityID != uuid.Nil {
		id := in.EntityID
		task.EntityID = &id
	}
	if !in.DueAt.IsZero() {
		due := in.DueAt
		task.DueAt = &due
	}

	stored, err := a.tasks.Create(ctx, task)
	if err != nil {
		return nil, err
	}
	if activity.GetInfo(ctx).Attempt == 1 {
		a.metrics.RecordTaskCreated(string(stored.Kind))
	}
	if err := a.emitTask(ctx, stored, "", nil); err != nil {
		return nil, err
	}
	return &TaskResult{TaskID: stored.ID, Status: stored.Status, Changed: true}, nil
}

// UpdateTask moves a task to a new status. Re-applying the current status
// reports Changed=false and emits nothing.
func (a *PlatformActivities) UpdateTask(ctx context.Context, in UpdateTaskInput) (result *TaskResult, err error) {
	start := time.Now()
	defer func() { err = finish(ctx, a.metrics, UpdateTask, start, err) }()

	if in.TaskID == uuid.Nil {
		return nil, domain.NewValidationError("taskId", "is required")
	}
	if !in.Status.Valid() {
		return nil, domain.NewValidationError("status", "unknown task status "+string(in.Status))
	}
	task, changed, err := a.tasks.Transition(ctx, in.TaskID, in.Status, in.Response)
	if err != nil {
		return nil, err
	}
	if changed {
		if task.Status.IsTerminal() {
			a.metrics.RecordTaskResolved(string(task.Status))
		}
		if err := a.emitTask(ctx, task, in.Assignee, in.Approved); err != nil {
			return nil, err
		}
	}
	return &TaskResult{TaskID: task.ID, Status: task.Status, Changed: changed}, nil
}

func (a *PlatformActivities) emitTask(ctx context.Context, task *domain.Task, assignee string, approved *bool) error {
	if a.events == nil {
		return nil
	}
	event, err := a.emitter.EmitTaskEvent(task, assignee, approved)
	if err != nil {
		return domain.NewPermanentError("task event", err)
	}
	return a.events.Insert(ctx, nil, event)
}

// OpenRunAudit records that a run started.
func (a *PlatformActivities) OpenRunAudit(ctx context.Context, in OpenRunAuditInput) (err error) {
	start := time.Now()
	defer func() { err = finish(ctx, a.metrics, OpenRunAudit, start, err) }()

	if in.WorkflowID == "" || in.RunID == "" {
		return domain.NewValidationError("run", "workflow id and run id are required")
	}
	startedAt := in.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	return a.audits.Open(ctx, &domain.RunAudit{
		WorkflowID:   in.WorkflowID,
		RunID:        in.RunID,
		WorkflowType: in.WorkflowType,
		TenantID:     in.TenantID,
		Status:       domain.RunStatusRunning,
		StartedAt:    startedAt,
	})
}

// CloseRunAudit records the terminal status of a run.
func (a *PlatformActivities) CloseRunAudit(ctx context.Context, in CloseRunAuditInput) (err error) {
	start := time.Now()
	defer func() { err = finish(ctx, a.metrics, CloseRunAudit, start, err) }()

	if !in.Status.IsTerminal() {
		return domain.NewValidationError("status", "must be terminal, got "+string(in.Status))
	}
	return a.audits.Close(ctx, in.WorkflowID, in.RunID, in.Status, in.Error, in.Summary)
}

// PublishEvent writes a workflow lifecycle event to the outbox.
func (a *PlatformActivities) PublishEvent(ctx context.Context, in PublishEventInput) (err error) {
	start := time.Now()
	defer func() { err = finish(ctx, a.metrics, PublishEvent, start, err) }()

	if a.events == nil {
		return nil
	}
	event, err := a.emitter.EmitWorkflowEvent(in.EventType, in.TenantID, in.Data)
	if err != nil {
		return domain.NewPermanentError("workflow event", err)
	}
	return a.events.Insert(ctx, nil, event)
}
