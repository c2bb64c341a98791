package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unlock/orchestration-service/internal/domain"
)

// Metadata keys attached to every event.
const (
	MetadataSource        = "source"
	MetadataCorrelationID = "correlation_id"
	MetadataRequestID     = "request_id"
	MetadataWorkflowRunID = "workflow_run_id"
)

// EmitterConfig configures the Emitter with service context.
type EmitterConfig struct {
	// ServiceName identifies the source service.
	ServiceName string
	// Now overrides the clock (tests).
	Now func() time.Time
}

// EmitParams contains the parameters for emitting an event.
type EmitParams struct {
	// AggregateID is the id of the workflow, task or entity group the event is about.
	AggregateID string
	// AggregateType is one of domain.AggregateWorkflow, AggregateTask, AggregateEntity.
	AggregateType string
	// TenantID scopes the event.
	TenantID string
	// EventType is the type of event (e.g., "workflow.started").
	EventType string
	// Data is JSON-serialized into the event body.
	Data interface{}
	// CorrelationID for request tracing (optional).
	CorrelationID string
	// RequestID of the HTTP request that caused the event (optional).
	RequestID string
	// RunID of the workflow run that caused the event (optional).
	RunID string
}

// Emitter creates domain events enriched with service metadata.
type Emitter struct {
	config EmitterConfig
}

// NewEmitter creates a new Emitter with the given service configuration.
func NewEmitter(config EmitterConfig) *Emitter {
	if config.ServiceName == "" {
		config.ServiceName = "orchestration-service"
	}
	if config.Now == nil {
		config.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Emitter{config: config}
}

// Emit creates an Event ready to be inserted into the outbox table.
func (e *Emitter) Emit(params EmitParams) (*domain.Event, error) {
	if params.AggregateID == "" {
		return nil, fmt.Errorf("aggregate_id is required")
	}
	if params.EventType == "" {
		return nil, fmt.Errorf("event_type is required")
	}
	if params.TenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	data, err := json.Marshal(params.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal data: %w", err)
	}

	event := &domain.Event{
		EventID:       uuid.New().String(),
		EventType:     params.EventType,
		AggregateType: params.AggregateType,
		EntityRef:     params.AggregateID,
		TenantID:      params.TenantID,
		Timestamp:     e.config.Now(),
		Data:          data,
	}
	event.WithMetadata(MetadataSource, e.config.ServiceName)
	if params.CorrelationID != "" {
		event.WithMetadata(MetadataCorrelationID, params.CorrelationID)
	}
	if params.RequestID != "" {
		event.WithMetadata(MetadataRequestID, params.RequestID)
	}
	if params.RunID != "" {
		event.WithMetadata(MetadataWorkflowRunID, params.RunID)
	}
	return event, nil
}

// EmitWorkflowEvent builds a workflow.* event.
func (e *Emitter) EmitWorkflowEvent(eventType, tenantID string, data domain.WorkflowEventData) (*domain.Event, error) {
	return e.Emit(EmitParams{
		AggregateID:   data.WorkflowID,
		AggregateType: domain.AggregateWorkflow,
		TenantID:      tenantID,
		EventType:     eventType,
		Data:          data,
		RunID:         data.RunID,
	})
}

// EmitTaskEvent builds a task.* event for the task's current status.
func (e *Emitter) EmitTaskEvent(task *domain.Task, assignee string, approved *bool) (*domain.Event, error) {
	return e.Emit(EmitParams{
		AggregateID:   task.ID.String(),
		AggregateType: domain.AggregateTask,
		TenantID:      task.TenantID,
		EventType:     domain.TaskEventType(task.Status),
		Data: domain.TaskEventData{
			TaskID:     task.ID,
			WorkflowID: task.WorkflowID,
			Kind:       task.Kind,
			Status:     task.Status,
			Assignee:   assignee,
			Approved:   approved,
			DueAt:      task.DueAt,
		},
		RunID: task.RunID,
	})
}

// EmitVersionStaged builds an entity.version_staged event.
func (e *Emitter) EmitVersionStaged(entity *domain.Entity) (*domain.Event, error) {
	return e.Emit(EmitParams{
		AggregateID:   entity.EntityGroupID.String(),
		AggregateType: domain.AggregateEntity,
		TenantID:      entity.TenantID,
		EventType:     domain.EventTypeEntityVersionStaged,
		Data: domain.EntityVersionStagedData{
			EntityGroupID: entity.EntityGroupID,
			EntityID:      entity.ID,
			Kind:          entity.Kind,
			Version:       entity.Version,
			CreatedBy:     entity.CreatedBy,
		},
	})
}
