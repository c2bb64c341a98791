package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Signal names a waiting workflow accepts for human tasks.
const (
	SignalTaskResponse = "task.response"
	SignalTaskClaim    = "task.claim"
)

// TaskKind is the type of human-in-the-loop work item.
type TaskKind string

const (
	TaskKindContentApproval TaskKind = "content_approval"
)

// TaskStatus represents the lifecycle of a human task.
// These values must match the human_tasks.status check constraint.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
	TaskStatusExpired    TaskStatus = "expired"
)

// IsTerminal returns true if the status represents a final state that will not change.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusCancelled, TaskStatusExpired:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusCancelled, TaskStatusExpired:
		return true
	default:
		return false
	}
}

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:    {TaskStatusInProgress, TaskStatusCompleted, TaskStatusCancelled, TaskStatusExpired},
	TaskStatusInProgress: {TaskStatusCompleted, TaskStatusCancelled, TaskStatusExpired},
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	for _, allowed := range taskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// SourcesFor returns the statuses from which next can be reached.
func SourcesFor(next TaskStatus) []TaskStatus {
	var out []TaskStatus
	for _, from := range []TaskStatus{TaskStatusPending, TaskStatusInProgress} {
		if from.CanTransitionTo(next) {
			out = append(out, from)
		}
	}
	return out
}

// Task is a human-in-the-loop work item whose resolution signals a waiting run.
type Task struct {
	ID         uuid.UUID       `json:"id"`
	TenantID   string          `json:"tenantId"`
	WorkflowID string          `json:"workflowId"`
	RunID      string          `json:"runId"`
	SignalName string          `json:"signalName"`
	Kind       TaskKind        `json:"kind"`
	EntityID   *uuid.UUID      `json:"entityId,omitempty"`
	Status     TaskStatus      `json:"status"`
	Context    json.RawMessage `json:"context,omitempty"`
	Response   json.RawMessage `json:"response,omitempty"`
	DueAt      *time.Time      `json:"dueAt,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	ResolvedAt *time.Time      `json:"resolvedAt,omitempty"`
}

// IsOpen reports whether the task still accepts a response.
func (t *Task) IsOpen() bool {
	return !t.Status.IsTerminal()
}

// TaskResponse is the body of a task.response signal.
type TaskResponse struct {
	TaskID   uuid.UUID       `json:"taskId" validate:"required"`
	Approved bool            `json:"approved"`
	Reviewer string          `json:"reviewer,omitempty" validate:"max=255"`
	Comments string          `json:"comments,omitempty" validate:"max=10000"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// TaskClaim is the body of a task.claim signal.
type TaskClaim struct {
	TaskID   uuid.UUID `json:"taskId" validate:"required"`
	Assignee string    `json:"assignee" validate:"required,max=255"`
}
