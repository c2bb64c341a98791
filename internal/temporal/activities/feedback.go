package activities

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/unlock/orchestration-service/internal/domain"
	"github.com/unlock/orchestration-service/internal/observability"
	"github.com/unlock/orchestration-service/internal/outbox"
	"github.com/unlock/orchestration-service/internal/repository"
)

// EntityActivities writes annotations on behalf of humans.
type EntityActivities struct {
	writer
}

// NewEntityActivities creates the entity-store activities.
func NewEntityActivities(store repository.EntityStore, metrics *observability.Metrics) *EntityActivities {
	return &EntityActivities{writer: newWriter(store, nil, outbox.NewEmitter(outbox.EmitterConfig{}), metrics)}
}

// Register registers every entity-store activity under its catalog name.
func (a *EntityActivities) Register(r Registrar) {
	register(r, RecordFeedback, a.RecordFeedback)
}

// RecordFeedback writes a human_feedback annotation on the reviewed version.
func (a *EntityActivities) RecordFeedback(ctx context.Context, in RecordFeedbackInput) (result *AnnotationResult, err error) {
	start := time.Now()
	defer func() { err = finish(ctx, a.metrics, RecordFeedback, start, err) }()

	if in.Entity.EntityID == uuid.Nil {
		return nil, domain.NewValidationError("entity", "is required")
	}
	if in.TaskID == uuid.Nil {
		return nil, domain.NewValidationError("taskId", "is required")
	}
	scope, err := NewScope(RecordFeedback, a.store)
	if err != nil {
		return nil, err
	}
	annotation, err := a.annotate(ctx, scope, in.Entity.EntityID, &domain.HumanFeedbackV1{
		TaskID:   in.TaskID.String(),
		Reviewer: in.Reviewer,
		Approved: in.Approved,
		Comments: in.Comments,
	})
	if err != nil {
		return nil, err
	}
	return &AnnotationResult{AnnotationID: annotation.ID}, nil
}
