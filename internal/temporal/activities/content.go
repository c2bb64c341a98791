package activities

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/unlock/orchestration-service/internal/domain"
	"github.com/unlock/orchestration-service/internal/engines"
	"github.com/unlock/orchestration-service/internal/observability"
	"github.com/unlock/orchestration-service/internal/outbox"
	"github.com/unlock/orchestration-service/internal/repository"
)

// ContentActivities drafts, evaluates, revises and archives content.
type ContentActivities struct {
	writer
	engine engines.ContentEngine
}

// NewContentActivities creates the content activities. events and metrics may be nil.
func NewContentActivities(store repository.EntityStore, engine engines.ContentEngine, events EventStore, emitter *outbox.Emitter, metrics *observability.Metrics) *ContentActivities {
	return &ContentActivities{writer: newWriter(store, events, emitter, metrics), engine: engine}
}

// Register registers every content activity under its catalog name.
func (a *ContentActivities) Register(r Registrar) {
	register(r, DraftContent, a.DraftContent)
	register(r, EvaluateVoice, a.EvaluateVoice)
	register(r, ReviseContent, a.ReviseContent)
	register(r, ArchiveContent, a.ArchiveContent)
}

// DraftContent stages version 1 of a content group.
func (a *ContentActivities) DraftContent(ctx context.Context, in DraftContentInput) (result *StageResult, err error) {
	start := time.Now()
	defer func() { err = finish(ctx, a.metrics, DraftContent, start, err) }()

	if in.TenantID == "" {
		return nil, domain.NewValidationError("tenantId", "is required")
	}
	if in.EntityGroupID == uuid.Nil {
		return nil, domain.NewValidationError("entityGroupId", "is required")
	}
	profile, _, err := loadProfile(ctx, a.store, in.TenantID, in.ProfileGroupID)
	if err != nil {
		return nil, err
	}

	draft, err := a.engine.Draft(ctx, engines.DraftInput{
		TenantID: in.TenantID,
		Ref:      domain.EntityRef{EntityGroupID: in.EntityGroupID, Kind: domain.EntityKindContent},
		Title:    in.Title,
		Brief:    in.Brief,
		Channel:  in.Channel,
		Profile:  profile,
	})
	if err != nil {
		return nil, err
	}

	entity, err := a.stage(ctx, domain.StageParams{
		EntityGroupID:  in.EntityGroupID,
		Kind:           domain.EntityKindContent,
		TenantID:       in.TenantID,
		Payload:        draft,
		CreatedBy:      DraftContent,
		IdempotencyKey: stageKey(ctx, 0),
	})
	if err != nil {
		return nil, err
	}
	return &StageResult{Entity: entity.Ref()}, nil
}

// EvaluateVoice scores one content version against the identity profile and
// writes voice_alignment and quality_score annotations on it.
func (a *ContentActivities) EvaluateVoice(ctx context.Context, in EvaluateVoiceInput) (result *EvaluateVoiceResult, err error) {
	start := time.Now()
	defer func() { err = finish(ctx, a.metrics, EvaluateVoice, start, err) }()

	content, _, err := a.loadContent(ctx, in.TenantID, in.Entity)
	if err != nil {
		return nil, err
	}
	profile, _, err := loadProfile(ctx, a.store, in.TenantID, in.ProfileGroupID)
	if err != nil {
		return nil, err
	}

	eval, err := a.engine.Evaluate(ctx, engines.EvaluateInput{
		TenantID:  in.TenantID,
		Ref:       in.Entity,
		Content:   content,
		Profile:   profile,
		Threshold: in.Threshold,
	})
	if err != nil {
		return nil, err
	}

	scope, err := NewScope(EvaluateVoice, a.store)
	if err != nil {
		return nil, err
	}
	alignment, err := a.annotate(ctx, scope, in.Entity.EntityID, &eval.Alignment)
	if err != nil {
		return nil, err
	}
	quality, err := a.annotate(ctx, scope, in.Entity.EntityID, &eval.Quality)
	if err != nil {
		return nil, err
	}

	return &EvaluateVoiceResult{
		Score:         eval.Alignment.Score,
		Aligned:       eval.Alignment.Aligned,
		QualityScore:  eval.Quality.Score,
		AnnotationIDs: annotationIDs(alignment, quality),
	}, nil
}

// ReviseContent stages the next version of a content group from the
// alignment and feedback annotations on the given version, then writes a
// revision_note on the new version.
func (a *ContentActivities) ReviseContent(ctx context.Context, in ReviseContentInput) (result *StageResult, err error) {
	start := time.Now()
	defer func() { err = finish(ctx, a.metrics, ReviseContent, start, err) }()

	content, _, err := a.loadContent(ctx, in.TenantID, in.Entity)
	if err != nil {
		return nil, err
	}
	profile, _, err := loadProfile(ctx, a.store, in.TenantID, in.ProfileGroupID)
	if err != nil {
		return nil, err
	}

	scope, err := NewScope(ReviseContent, a.store)
	if err != nil {
		return nil, err
	}
	alignmentRows, err := scope.Read(ctx, in.Entity.EntityID, domain.AnnotationVoiceAlignment, time.Time{})
	if err != nil {
		return nil, err
	}
	alignments, err := decodeAll[*domain.VoiceAlignmentV1](alignmentRows)
	if err != nil {
		return nil, err
	}
	// Reviewer feedback accumulates across rounds, so earlier versions count.
	feedbackRows, err := scope.ReadGroup(ctx, in.Entity.EntityGroupID, domain.AnnotationHumanFeedback, time.Time{})
	if err != nil {
		return nil, err
	}
	feedback, err := decodeAll[*domain.HumanFeedbackV1](feedbackRows)
	if err != nil {
		return nil, err
	}
	activity.RecordHeartbeat(ctx, "inputs loaded")

	revision, err := a.engine.Revise(ctx, engines.ReviseInput{
		TenantID:   in.TenantID,
		Ref:        in.Entity,
		Content:    content,
		Profile:    profile,
		Alignments: alignments,
		Feedback:   feedback,
	})
	if err != nil {
		return nil, err
	}

	entity, err := a.stage(ctx, domain.StageParams{
		EntityGroupID:   in.Entity.EntityGroupID,
		Kind:            domain.EntityKindContent,
		TenantID:        in.TenantID,
		ExpectedVersion: in.Entity.Version,
		Payload:         &revision.Content,
		CreatedBy:       ReviseContent,
		IdempotencyKey:  stageKey(ctx, in.Entity.Version),
	})
	if err != nil {
		return nil, err
	}
	activity.RecordHeartbeat(ctx, "version staged")

	note, err := a.annotate(ctx, scope, entity.ID, &revision.Note)
	if err != nil {
		return nil, err
	}
	return &StageResult{Entity: entity.Ref(), AnnotationIDs: annotationIDs(note)}, nil
}

// ArchiveContent stages an archived copy of the current version. A group
// with no versions, or one already archived, is left as is.
func (a *ContentActivities) ArchiveContent(ctx context.Context, in ArchiveContentInput) (result *StageResult, err error) {
	start := time.Now()
	defer func() { err = finish(ctx, a.metrics, ArchiveContent, start, err) }()

	if in.TenantID == "" {
		return nil, domain.NewValidationError("tenantId", "is required")
	}
	current, version, err := currentVersion(ctx, a.store, in.TenantID, in.EntityGroupID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return &StageResult{}, nil
	}
	content, err := domain.DecodeAs[*domain.ContentV1](current.Payload)
	if err != nil {
		return nil, domain.NewPermanentError("content payload", err)
	}
	if content.Status == domain.ContentStatusArchived {
		return &StageResult{Entity: current.Ref()}, nil
	}

	archived := *content
	archived.Status = domain.ContentStatusArchived
	entity, err := a.stage(ctx, domain.StageParams{
		EntityGroupID:   in.EntityGroupID,
		Kind:            domain.EntityKindContent,
		TenantID:        in.TenantID,
		ExpectedVersion: version,
		Payload:         &archived,
		CreatedBy:       ArchiveContent,
		IdempotencyKey:  stageKey(ctx, version),
	})
	if err != nil {
		return nil, err
	}

	reason := in.Reason
	if reason == "" {
		reason = "archived"
	}
	scope, err := NewScope(ArchiveContent, a.store)
	if err != nil {
		return nil, err
	}
	note, err := a.annotate(ctx, scope, entity.ID, &domain.RevisionNoteV1{
		FromVersion: version,
		ToVersion:   entity.Version,
		Reason:      reason,
		Changes:     []string{"status: " + string(content.Status) + " -> " + string(domain.ContentStatusArchived)},
	})
	if err != nil {
		return nil, err
	}
	return &StageResult{Entity: entity.Ref(), AnnotationIDs: annotationIDs(note)}, nil
}

func (a *ContentActivities) loadContent(ctx context.Context, tenantID string, ref domain.EntityRef) (*domain.ContentV1, *domain.Entity, error) {
	if tenantID == "" {
		return nil, nil, domain.NewValidationError("tenantId", "is required")
	}
	if ref.EntityID == uuid.Nil {
		return nil, nil, domain.NewValidationError("entity", "is required")
	}
	entity, err := a.store.GetVersion(ctx, tenantID, ref.EntityID)
	if err != nil {
		return nil, nil, err
	}
	content, err := domain.DecodeAs[*domain.ContentV1](entity.Payload)
	if err != nil {
		return nil, nil, domain.NewPermanentError("content payload", err)
	}
	return content, entity, nil
}
