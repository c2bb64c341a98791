package resilience

import (
	"fmt"

	"go.temporal.io/sdk/workflow"
)

// FailurePolicy is what a workflow does when a step fails for good.
type FailurePolicy string

const (
	// FailRun fails the whole run.
	FailRun FailurePolicy = "fail_run"
	// SkipStep records the failure and continues with the next step.
	SkipStep FailurePolicy = "skip_step"
	// Compensate runs the workflow's compensation path, then ends the run.
	Compensate FailurePolicy = "compensate"
)

// Valid reports whether p is a known policy.
func (p FailurePolicy) Valid() bool {
	switch p {
	case FailRun, SkipStep, Compensate:
		return true
	default:
		return false
	}
}

// Step names a workflow step and its failure policy.
type Step struct {
	Name   string
	Policy FailurePolicy
}

// Outcome is the result of executing one step.
type Outcome int

const (
	Succeeded Outcome = iota
	Failed
	Skipped
	Compensating
	Interrupted
)

// String returns a human-readable name for the outcome.
func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	case Compensating:
		return "compensating"
	case Interrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// StepError is the error of a step that did not succeed. It unwraps to both the
// category sentinel and the original error.
type StepError struct {
	Step     string
	Category ErrorCategory
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Step, e.Category, e.Err)
}

// Unwrap exposes the category sentinel and the cause.
func (e *StepError) Unwrap() []error {
	return []error{e.Category.Sentinel(), e.Err}
}

// StepResult contains the outcome of a step execution.
type StepResult struct {
	Outcome  Outcome
	Category ErrorCategory
	// Err is non-nil unless Outcome is Succeeded.
	Err error
}

// OK reports whether the step succeeded.
func (r StepResult) OK() bool {
	return r.Outcome == Succeeded
}

// Observer is notified around each step, typically to update the run log.
type Observer interface {
	StepStarted(step Step)
	StepFinished(step Step, result StepResult)
}

// ExecuteStep runs fn once and applies the step's failure policy to its error.
// Retries happen below this layer, in the activity retry policy; an activity
// that ran out of attempts arrives here as RetriesExhausted. Cancellation is
// reported as Interrupted regardless of policy.
func ExecuteStep(ctx workflow.Context, step Step, obs Observer, fn func(ctx workflow.Context) error) StepResult {
	if !step.Policy.Valid() {
		result := StepResult{
			Outcome:  Failed,
			Category: Permanent,
			Err:      &StepError{Step: step.Name, Category: Permanent, Err: fmt.Errorf("step has no failure policy")},
		}
		if obs != nil {
			obs.StepFinished(step, result)
		}
		return result
	}

	if obs != nil {
		obs.StepStarted(step)
	}

	result := runStep(ctx, step, fn)

	if obs != nil {
		obs.StepFinished(step, result)
	}
	return result
}

func runStep(ctx workflow.Context, step Step, fn func(ctx workflow.Context) error) StepResult {
	err := fn(ctx)
	if err == nil {
		return StepResult{Outcome: Succeeded}
	}

	category := Classify(err)
	if ctx.Err() != nil {
		category = Cancelled
	}
	stepErr := &StepError{Step: step.Name, Category: category, Err: err}

	workflow.GetLogger(ctx).Info("step failed",
		"step", step.Name,
		"policy", string(step.Policy),
		"errorCategory", category.String(),
		"error", err,
	)

	if category == Cancelled {
		return StepResult{Outcome: Interrupted, Category: category, Err: stepErr}
	}

	switch step.Policy {
	case SkipStep:
		return StepResult{Outcome: Skipped, Category: category, Err: stepErr}
	case Compensate:
		return StepResult{Outcome: Compensating, Category: category, Err: stepErr}
	default:
		return StepResult{Outcome: Failed, Category: category, Err: stepErr}
	}
}
