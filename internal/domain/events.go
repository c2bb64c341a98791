package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants for lifecycle events.
const (
	EventTypeWorkflowStarted     = "workflow.started"
	EventTypeWorkflowCompleted   = "workflow.completed"
	EventTypeWorkflowFailed      = "workflow.failed"
	EventTypeWorkflowCancelled   = "workflow.cancelled"
	EventTypeTaskCreated         = "task.created"
	EventTypeTaskClaimed         = "task.claimed"
	EventTypeTaskCompleted       = "task.completed"
	EventTypeTaskCancelled       = "task.cancelled"
	EventTypeTaskExpired         = "task.expired"
	EventTypeEntityVersionStaged = "entity.version_staged"
)

// Aggregate types an event can refer to.
const (
	AggregateWorkflow = "workflow"
	AggregateTask     = "task"
	AggregateEntity   = "entity"
)

// TaskEventType maps a terminal or claimed task status to its event type.
func TaskEventType(status TaskStatus) string {
	switch status {
	case TaskStatusInProgress:
		return EventTypeTaskClaimed
	case TaskStatusCompleted:
		return EventTypeTaskCompleted
	case TaskStatusCancelled:
		return EventTypeTaskCancelled
	case TaskStatusExpired:
		return EventTypeTaskExpired
	default:
		return EventTypeTaskCreated
	}
}

// Event is a lifecycle record broadcast to subscribers. EntityRef is the id of
// the aggregate the event is about: a workflow id, task id or entity group id.
type Event struct {
	EventID       string            `json:"eventId"`
	EventType     string            `json:"eventType"`
	AggregateType string            `json:"aggregateType"`
	EntityRef     string            `json:"entityRef"`
	TenantID      string            `json:"tenantId"`
	Timestamp     time.Time         `json:"timestamp"`
	Data          json.RawMessage   `json:"data"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewEvent creates an event with a fresh id. The data is JSON-serialized.
func NewEvent(eventType, aggregateType, entityRef, tenantID string, data interface{}) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		AggregateType: aggregateType,
		EntityRef:     entityRef,
		TenantID:      tenantID,
		Timestamp:     time.Now().UTC(),
		Data:          raw,
	}, nil
}

// WithMetadata sets a metadata key on the event.
func (e *Event) WithMetadata(key, value string) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// WorkflowEventData is the payload for workflow.* events.
type WorkflowEventData struct {
	WorkflowType string     `json:"workflowType"`
	WorkflowID   string     `json:"workflowId"`
	RunID        string     `json:"runId,omitempty"`
	Status       RunStatus  `json:"status"`
	Step         string     `json:"step,omitempty"`
	Error        string     `json:"error,omitempty"`
	ErrorKind    string     `json:"errorKind,omitempty"`
	Entity       *EntityRef `json:"entity,omitempty"`
	DurationMs   int64      `json:"durationMs,omitempty"`
}

// TaskEventData is the payload for task.* events.
type TaskEventData struct {
	TaskID     uuid.UUID  `json:"taskId"`
	WorkflowID string     `json:"workflowId"`
	Kind       TaskKind   `json:"kind"`
	Status     TaskStatus `json:"status"`
	Assignee   string     `json:"assignee,omitempty"`
	Approved   *bool      `json:"approved,omitempty"`
	DueAt      *time.Time `json:"dueAt,omitempty"`
}

// EntityVersionStagedData is the payload for entity.version_staged events.
type EntityVersionStagedData struct {
	EntityGroupID uuid.UUID  `json:"entityGroupId"`
	EntityID      uuid.UUID  `json:"entityId"`
	Kind          EntityKind `json:"kind"`
	Version       int        `json:"version"`
	CreatedBy     string     `json:"createdBy"`
}
