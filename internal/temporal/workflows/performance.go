package workflows

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.temporal.io/sdk/workflow"

	"github.com/unlock/orchestration-service/internal/domain"
	"github.com/unlock/orchestration-service/internal/temporal/activities"
	"github.com/unlock/orchestration-service/internal/temporal/resilience"
)

var errNothingCollected = errors.New("no performance metrics collected")

// PerformanceAssessmentWorkflow collects metrics for each content entity and
// stages a performance report over them.
//
// Collection fans out one activity per content group and skips entities
// whose collection fails; the report notes how many were skipped. The run
// fails only if nothing at all was collected.
func PerformanceAssessmentWorkflow(ctx workflow.Context, input PerformanceAssessmentInput) (*PerformanceAssessmentResult, error) {
	if err := input.Validate(); err != nil {
		return nil, invalidInput(err)
	}

	input.resolveWindow(workflow.Now(ctx))

	ctx, r, err := startRun(ctx, PerformanceAssessment, input.TenantID)
	if err != nil {
		return nil, err
	}

	if input.WaitForWindowEnd {
		if wait := input.WindowEnd.Sub(workflow.Now(ctx)); wait > 0 {
			r.tracker.note("waiting for window end " + input.WindowEnd.UTC().Format("2006-01-02T15:04:05Z"))
			if err := workflow.Sleep(ctx, wait); err != nil {
				return nil, r.end(ctx, StateFailed, &resilience.StepError{Step: "await_window", Category: resilience.Cancelled, Err: err})
			}
		}
	}

	groups := UniqueIDs(input.ContentGroupIDs)
	collectOpts := workflow.WithActivityOptions(ctx, activities.MustLookup(activities.CollectPerformance).ActivityOptions())

	futures := make([]workflow.Future, len(groups))
	for i, group := range groups {
		futures[i] = workflow.ExecuteActivity(collectOpts, activities.CollectPerformance, activities.CollectPerformanceInput{
			TenantID:       input.TenantID,
			ContentGroupID: group,
			WindowStart:    input.WindowStart,
			WindowEnd:      input.WindowEnd,
		})
	}

	var (
		collected []domain.EntityRef
		metricIDs []uuid.UUID
		lastErr   error
		skipped   int
	)
	for i, f := range futures {
		var out activities.CollectPerformanceResult
		step := resilience.Step{Name: activities.CollectPerformance, Policy: resilience.SkipStep}
		res := resilience.ExecuteStep(ctx, step, r.tracker, func(ctx workflow.Context) error {
			return f.Get(ctx, &out)
		})
		switch res.Outcome {
		case resilience.Succeeded:
			collected = append(collected, out.Entity)
			metricIDs = append(metricIDs, out.AnnotationIDs...)
		case resilience.Interrupted:
			return nil, r.end(ctx, StateFailed, res.Err)
		default:
			skipped++
			lastErr = res.Err
			r.tracker.note(fmt.Sprintf("skipped content group %s", groups[i]))
		}
	}
	if len(collected) == 0 {
		cause := lastErr
		if cause == nil {
			cause = errNothingCollected
		}
		return nil, r.end(ctx, StateFailed, cause)
	}

	var summary activities.StageResult
	res := r.step(ctx, activities.SummarizePerformance, resilience.FailRun, activities.SummarizePerformance, activities.SummarizePerformanceInput{
		TenantID:      input.TenantID,
		ReportGroupID: input.ReportGroupID,
		Entities:      collected,
		AnnotationIDs: metricIDs,
		Skipped:       skipped,
		WindowStart:   input.WindowStart,
		WindowEnd:     input.WindowEnd,
	}, &summary)
	if !res.OK() {
		return nil, r.end(ctx, StateFailed, res.Err)
	}
	r.tracker.setEntity(summary.Entity)

	result := &PerformanceAssessmentResult{Report: summary.Entity, Covered: len(collected), Skipped: skipped}
	if err := r.complete(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}
