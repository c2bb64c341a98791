package activities

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/unlock/orchestration-service/internal/domain"
)

// DraftContentInput contains the parameters for drafting the first content version.
type DraftContentInput struct {
	TenantID      string
	EntityGroupID uuid.UUID
	// ProfileGroupID is the identity profile to write in the voice of (optional).
	ProfileGroupID uuid.UUID
	Title          string
	Brief          string
	Channel        string
}

// StageResult reports a newly staged version and annotations written alongside it.
type StageResult struct {
	Entity        domain.EntityRef
	AnnotationIDs []uuid.UUID
}

// EvaluateVoiceInput contains the parameters for scoring one content version.
type EvaluateVoiceInput struct {
	TenantID       string
	Entity         domain.EntityRef
	ProfileGroupID uuid.UUID
	Threshold      float64
}

// EvaluateVoiceResult contains the scores written as annotations.
type EvaluateVoiceResult struct {
	Score         float64
	Aligned       bool
	QualityScore  float64
	AnnotationIDs []uuid.UUID
}

// ReviseContentInput contains the parameters for staging a revised version.
type ReviseContentInput struct {
	TenantID       string
	Entity         domain.EntityRef
	ProfileGroupID uuid.UUID
}

// ArchiveContentInput contains the parameters for archiving a content group.
type ArchiveContentInput struct {
	TenantID      string
	EntityGroupID uuid.UUID
	Reason        string
}

// RecordFeedbackInput contains a reviewer's decision to record on a version.
type RecordFeedbackInput struct {
	TenantID string
	Entity   domain.EntityRef
	TaskID   uuid.UUID
	Reviewer string
	Approved bool
	Comments string
}

// AnnotationResult reports one written annotation.
type AnnotationResult struct {
	AnnotationID uuid.UUID
}

// AssessIdentityInput contains the parameters for assessing a tenant's voice.
type AssessIdentityInput struct {
	TenantID       string
	ProfileGroupID uuid.UUID
	Handle         string
	// ContentGroupIDs are the published content whose current versions are sampled.
	ContentGroupIDs []uuid.UUID
}

// AssessIdentityResult reports the assessed profile version.
type AssessIdentityResult struct {
	Profile      domain.EntityRef
	AnnotationID uuid.UUID
	Consistency  float64
}

// UpdateIdentityProfileInput contains the parameters for staging the next profile.
type UpdateIdentityProfileInput struct {
	TenantID string
	Profile  domain.EntityRef
	Handle   string
	// Since bounds which assessments are folded in (inclusive).
	Since time.Time
}

// CollectPerformanceInput contains the parameters for collecting one entity's metrics.
type CollectPerformanceInput struct {
	TenantID       string
	ContentGroupID uuid.UUID
	WindowStart    time.Time
	WindowEnd      time.Time
}

// CollectPerformanceResult reports the version metrics were recorded on.
type CollectPerformanceResult struct {
	Entity        domain.EntityRef
	AnnotationIDs []uuid.UUID
}

// SummarizePerformanceInput contains the parameters for staging a report.
// When AnnotationIDs is set only those metrics are summarized, so metrics
// an earlier run wrote on the same versions are not counted again.
type SummarizePerformanceInput struct {
	TenantID      string
	ReportGroupID uuid.UUID
	Entities      []domain.EntityRef
	AnnotationIDs []uuid.UUID
	Skipped       int
	WindowStart   time.Time
	WindowEnd     time.Time
}

// CreateTaskInput contains the parameters for raising a human task.
type CreateTaskInput struct {
	TaskID     uuid.UUID
	TenantID   string
	WorkflowID string
	RunID      string
	SignalName string
	Kind       domain.TaskKind
	EntityID   uuid.UUID
	Context    json.RawMessage
	DueAt      time.Time
}

// UpdateTaskInput contains the parameters for a task status change.
type UpdateTaskInput struct {
	TaskID   uuid.UUID
	Status   domain.TaskStatus
	Response json.RawMessage
	Assignee string
	Approved *bool
}

// TaskResult reports a task's status after an activity.
type TaskResult struct {
	TaskID  uuid.UUID
	Status  domain.TaskStatus
	Changed bool
}

// OpenRunAuditInput contains the parameters for opening a run's audit row.
type OpenRunAuditInput struct {
	WorkflowID   string
	RunID        string
	WorkflowType string
	TenantID     string
	StartedAt    time.Time
}

// CloseRunAuditInput contains the parameters for closing a run's audit row.
type CloseRunAuditInput struct {
	WorkflowID string
	RunID      string
	Status     domain.RunStatus
	Error      string
	Summary    json.RawMessage
}

// PublishEventInput contains a workflow lifecycle event to write to the outbox.
type PublishEventInput struct {
	EventType string
	TenantID  string
	Data      domain.WorkflowEventData
}
