package workflows

import (
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/unlock/orchestration-service/internal/temporal/activities"
	"github.com/unlock/orchestration-service/internal/temporal/resilience"
)

// IdentityEvaluationWorkflow assesses a tenant's voice against its published
// content and stages the next identity profile version. It has no
// compensation path; a cancelled run ends Failed.
func IdentityEvaluationWorkflow(ctx workflow.Context, input IdentityEvaluationInput) (*IdentityEvaluationResult, error) {
	if err := input.Validate(); err != nil {
		return nil, invalidInput(err)
	}

	ctx, r, err := startRun(ctx, IdentityEvaluation, input.TenantID)
	if err != nil {
		return nil, err
	}

	var assessed activities.AssessIdentityResult
	res := r.step(ctx, activities.AssessIdentity, resilience.FailRun, activities.AssessIdentity, activities.AssessIdentityInput{
		TenantID:        input.TenantID,
		ProfileGroupID:  input.ProfileGroupID,
		Handle:          input.Handle,
		ContentGroupIDs: input.ContentGroupIDs,
	}, &assessed)
	if !res.OK() {
		return nil, r.end(ctx, StateFailed, res.Err)
	}
	r.tracker.setEntity(assessed.Profile)

	// Every assessment on the assessed version is folded in; a zero bound
	// keeps worker clock skew out of the read.
	var updated activities.StageResult
	res = r.step(ctx, activities.UpdateIdentityProfile, resilience.FailRun, activities.UpdateIdentityProfile, activities.UpdateIdentityProfileInput{
		TenantID: input.TenantID,
		Profile:  assessed.Profile,
		Handle:   input.Handle,
		Since:    time.Time{},
	}, &updated)
	if !res.OK() {
		return nil, r.end(ctx, StateFailed, res.Err)
	}
	r.tracker.setEntity(updated.Entity)

	result := &IdentityEvaluationResult{Profile: updated.Entity, Consistency: assessed.Consistency}
	if err := r.complete(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}
