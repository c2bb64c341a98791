package activities

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/unlock/orchestration-service/internal/domain"
	"github.com/unlock/orchestration-service/internal/engines"
	"github.com/unlock/orchestration-service/internal/observability"
	"github.com/unlock/orchestration-service/internal/outbox"
	"github.com/unlock/orchestration-service/internal/repository"
)

// IdentityActivities assesses a tenant's voice and maintains its profile.
type IdentityActivities struct {
	writer
	engine engines.IdentityEngine
}

// NewIdentityActivities creates the identity activities. events and metrics may be nil.
func NewIdentityActivities(store repository.EntityStore, engine engines.IdentityEngine, events EventStore, emitter *outbox.Emitter, metrics *observability.Metrics) *IdentityActivities {
	return &IdentityActivities{writer: newWriter(store, events, emitter, metrics), engine: engine}
}

// Register registers every identity activity under its catalog name.
func (a *IdentityActivities) Register(r Registrar) {
	register(r, AssessIdentity, a.AssessIdentity)
	register(r, UpdateIdentityProfile, a.UpdateIdentityProfile)
}

// AssessIdentity samples the current versions of the given content groups
// and writes an identity_assessment on the current profile version. A
// profile group with no versions is seeded with an empty version 1.
func (a *IdentityActivities) AssessIdentity(ctx context.Context, in AssessIdentityInput) (result *AssessIdentityResult, err error) {
	start := time.Now()
	defer func() { err = finish(ctx, a.metrics, AssessIdentity, start, err) }()

	if in.TenantID == "" {
		return nil, domain.NewValidationError("tenantId", "is required")
	}
	if in.ProfileGroupID == uuid.Nil {
		return nil, domain.NewValidationError("profileGroupId", "is required")
	}

	samples, err := a.samples(ctx, in.TenantID, in.ContentGroupIDs)
	if err != nil {
		return nil, err
	}

	profile, entity, err := loadProfile(ctx, a.store, in.TenantID, in.ProfileGroupID)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		seed := &domain.IdentityProfileV1{Handle: in.Handle}
		entity, err = a.stage(ctx, domain.StageParams{
			EntityGroupID:  in.ProfileGroupID,
			Kind:           domain.EntityKindIdentityProfile,
			TenantID:       in.TenantID,
			Payload:        seed,
			CreatedBy:      AssessIdentity,
			IdempotencyKey: stageKey(ctx, 0),
		})
		if err != nil {
			return nil, err
		}
		profile = seed
	}

	assessment, err := a.engine.Assess(ctx, engines.AssessInput{
		TenantID: in.TenantID,
		Ref:      entity.Ref(),
		Handle:   in.Handle,
		Samples:  samples,
		Current:  profile,
	})
	if err != nil {
		return nil, err
	}

	scope, err := NewScope(AssessIdentity, a.store)
	if err != nil {
		return nil, err
	}
	annotation, err := a.annotate(ctx, scope, entity.ID, assessment)
	if err != nil {
		return nil, err
	}
	return &AssessIdentityResult{
		Profile:      entity.Ref(),
		AnnotationID: annotation.ID,
		Consistency:  assessment.Consistency,
	}, nil
}

func (a *IdentityActivities) samples(ctx context.Context, tenantID string, groupIDs []uuid.UUID) ([]string, error) {
	samples := make([]string, 0, len(groupIDs))
	for _, id := range groupIDs {
		entity, err := a.store.GetCurrent(ctx, tenantID, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		content, err := domain.DecodeAs[*domain.ContentV1](entity.Payload)
		if err != nil {
			return nil, domain.NewPermanentError("content payload", err)
		}
		if body := strings.TrimSpace(content.Body); body != "" {
			samples = append(samples, body)
		}
	}
	return samples, nil
}

// UpdateIdentityProfile stages the next profile version from the
// assessments written on the given version since in.Since.
func (a *IdentityActivities) UpdateIdentityProfile(ctx context.Context, in UpdateIdentityProfileInput) (result *StageResult, err error) {
	start := time.Now()
	defer func() { err = finish(ctx, a.metrics, UpdateIdentityProfile, start, err) }()

	if in.TenantID == "" {
		return nil, domain.NewValidationError("tenantId", "is required")
	}
	if in.Profile.EntityID == uuid.Nil {
		return nil, domain.NewValidationError("profile", "is required")
	}
	current, err := a.store.GetVersion(ctx, in.TenantID, in.Profile.EntityID)
	if err != nil {
		return nil, err
	}
	profile, err := domain.DecodeAs[*domain.IdentityProfileV1](current.Payload)
	if err != nil {
		return nil, domain.NewPermanentError("identity profile payload", err)
	}

	scope, err := NewScope(UpdateIdentityProfile, a.store)
	if err != nil {
		return nil, err
	}
	rows, err := scope.Read(ctx, current.ID, domain.AnnotationIdentityAssessment, in.Since)
	if err != nil {
		return nil, err
	}
	assessments, err := decodeAll[*domain.IdentityAssessmentV1](rows)
	if err != nil {
		return nil, err
	}

	next, err := a.engine.Synthesize(ctx, engines.SynthesizeInput{
		TenantID:    in.TenantID,
		Ref:         current.Ref(),
		Handle:      in.Handle,
		Current:     profile,
		Assessments: assessments,
	})
	if err != nil {
		return nil, err
	}

	entity, err := a.stage(ctx, domain.StageParams{
		EntityGroupID:   current.EntityGroupID,
		Kind:            domain.EntityKindIdentityProfile,
		TenantID:        in.TenantID,
		ExpectedVersion: current.Version,
		Payload:         next,
		CreatedBy:       UpdateIdentityProfile,
		IdempotencyKey:  stageKey(ctx, current.Version),
	})
	if err != nil {
		return nil, err
	}
	return &StageResult{Entity: entity.Ref()}, nil
}
