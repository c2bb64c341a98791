package activities

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unlock/orchestration-service/internal/domain"
	"github.com/unlock/orchestration-service/internal/engines"
	"github.com/unlock/orchestration-service/internal/repository/memstore"
	"github.com/unlock/orchestration-service/internal/temporal/resilience"
)

func TestIdentityActivities_AssessSeedsAndUpdates(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	events := &memEvents{}
	env := newActivityEnv(t, NewIdentityActivities(store, engines.NewTermIdentityEngine(), events, nil, nil))

	posts := []uuid.UUID{
		stageContent(t, store, tenant, &domain.ContentV1{Title: "1", Body: "Bold makers build bold things.", Status: domain.ContentStatusApproved}).EntityGroupID,
		stageContent(t, store, tenant, &domain.ContentV1{Title: "2", Body: "Makers stay bold.", Status: domain.ContentStatusApproved}).EntityGroupID,
		uuid.New(),
	}
	profileGroup := uuid.New()

	assessed, err := execute[AssessIdentityResult](t, env, AssessIdentity, AssessIdentityInput{
		TenantID:        tenant,
		ProfileGroupID:  profileGroup,
		Handle:          "acme",
		ContentGroupIDs: posts,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, assessed.Profile.Version)
	assert.Equal(t, domain.EntityKindIdentityProfile, assessed.Profile.Kind)

	rows, err := store.ReadAnnotations(ctx, assessed.Profile.EntityID, domain.AnnotationFilter{Type: domain.AnnotationIdentityAssessment})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, assessed.AnnotationID, rows[0].ID)

	updated, err := execute[StageResult](t, env, UpdateIdentityProfile, UpdateIdentityProfileInput{
		TenantID: tenant,
		Profile:  assessed.Profile,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Entity.Version)

	current, err := store.GetCurrent(ctx, tenant, profileGroup)
	require.NoError(t, err)
	profile, err := domain.DecodeAs[*domain.IdentityProfileV1](current.Payload)
	require.NoError(t, err)
	assert.Equal(t, "acme", profile.Handle)
	assert.Contains(t, profile.Tone, "bold")
	assert.Contains(t, profile.Tone, "makers")
	assert.Len(t, events.types(), 2)
}

func TestIdentityActivities_AssessExistingProfile(t *testing.T) {
	store := memstore.New()
	env := newActivityEnv(t, NewIdentityActivities(store, engines.NewTermIdentityEngine(), nil, nil, nil))

	profile := stageProfile(t, store, tenant, &domain.IdentityProfileV1{Handle: "acme", Tone: []string{"bold", "warm"}})
	post := stageContent(t, store, tenant, &domain.ContentV1{Title: "1", Body: "A bold launch.", Status: domain.ContentStatusApproved})

	assessed, err := execute[AssessIdentityResult](t, env, AssessIdentity, AssessIdentityInput{
		TenantID:        tenant,
		ProfileGroupID:  profile.EntityGroupID,
		ContentGroupIDs: []uuid.UUID{post.EntityGroupID},
	})
	require.NoError(t, err)
	assert.Equal(t, profile.ID, assessed.Profile.EntityID)
	assert.Equal(t, 0.5, assessed.Consistency)
}

func TestIdentityActivities_Errors(t *testing.T) {
	store := memstore.New()
	env := newActivityEnv(t, NewIdentityActivities(store, engines.NewTermIdentityEngine(), nil, nil, nil))

	_, err := execute[AssessIdentityResult](t, env, AssessIdentity, AssessIdentityInput{TenantID: tenant})
	requireAppErrorType(t, err, resilience.ErrTypeInvalidInput, true)

	// No samples: nothing to assess.
	_, err = execute[AssessIdentityResult](t, env, AssessIdentity, AssessIdentityInput{TenantID: tenant, ProfileGroupID: uuid.New()})
	requireAppErrorType(t, err, resilience.ErrTypeInvalidInput, true)

	// Assessments older than Since are ignored, leaving nothing to synthesize.
	profile := stageProfile(t, store, tenant, &domain.IdentityProfileV1{Handle: "acme"})
	scope, err := NewScope(AssessIdentity, store)
	require.NoError(t, err)
	_, err = scope.Write(context.Background(), profile.ID, &domain.IdentityAssessmentV1{Traits: []string{"calm"}})
	require.NoError(t, err)

	_, err = execute[StageResult](t, env, UpdateIdentityProfile, UpdateIdentityProfileInput{
		TenantID: tenant,
		Profile:  profile.Ref(),
		Since:    time.Now().Add(time.Hour),
	})
	requireAppErrorType(t, err, resilience.ErrTypeInvalidInput, true)
}
