package workflows

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/unlock/orchestration-service/internal/domain"
	"github.com/unlock/orchestration-service/internal/temporal/activities"
	"github.com/unlock/orchestration-service/internal/temporal/resilience"
)

// Step names shared by every workflow.
const (
	stepOpenAudit    = "open_run_audit"
	stepCloseAudit   = "close_run_audit"
	stepPublishEvent = "publish_event"
	stepDeadline     = "execution_deadline"
)

// deadlineMargin is how long before the execution timeout a run stops
// itself, leaving room to close the audit row and publish the failure.
const deadlineMargin = time.Minute

var errDeadline = errors.New("execution deadline reached")

// run is what every workflow does around its own steps: the run log, the
// audit row and lifecycle events.
type run struct {
	workflowType string
	tenantID     string
	info         *workflow.Info
	started      time.Time
	tracker      *tracker
	// deadlineHit is set once the execution deadline cancelled the run.
	deadlineHit bool
}

// startRun opens the run and returns the context the workflow continues
// in. That context is cancelled shortly before the execution timeout so the
// run can end itself as timed out.
func startRun(ctx workflow.Context, workflowType, tenantID string) (workflow.Context, *run, error) {
	t, err := newTracker(ctx, workflowType, tenantID)
	if err != nil {
		return nil, nil, err
	}
	r := &run{
		workflowType: workflowType,
		tenantID:     tenantID,
		info:         workflow.GetInfo(ctx),
		started:      workflow.Now(ctx),
		tracker:      t,
	}
	r.step(ctx, stepOpenAudit, resilience.SkipStep, activities.OpenRunAudit, activities.OpenRunAuditInput{
		WorkflowID:   r.info.WorkflowExecution.ID,
		RunID:        r.info.WorkflowExecution.RunID,
		WorkflowType: workflowType,
		TenantID:     tenantID,
		StartedAt:    r.started,
	}, nil)

	runCtx, cancel := workflow.WithCancel(ctx)
	r.armDeadline(ctx, cancel)
	return runCtx, r, nil
}

// armDeadline cancels the run deadlineMargin before the execution timeout.
// Short timeouts keep a quarter of the timeout as the margin instead.
func (r *run) armDeadline(ctx workflow.Context, cancel workflow.CancelFunc) {
	timeout := r.info.WorkflowExecutionTimeout
	if timeout <= 0 {
		return
	}
	margin := deadlineMargin
	if timeout < 4*margin {
		margin = timeout / 4
	}
	wait := r.info.WorkflowStartTime.Add(timeout - margin).Sub(workflow.Now(ctx))
	if r.info.WorkflowStartTime.IsZero() {
		wait = timeout - margin
	}
	workflow.Go(ctx, func(ctx workflow.Context) {
		if err := workflow.Sleep(ctx, wait); err != nil {
			return
		}
		r.deadlineHit = true
		r.tracker.note(fmt.Sprintf("execution deadline reached, %s before the %s timeout", margin, timeout))
		cancel()
	})
}

// step dispatches one catalog activity under a failure policy.
func (r *run) step(ctx workflow.Context, name string, policy resilience.FailurePolicy, activityName string, in, out interface{}) resilience.StepResult {
	opts := activities.MustLookup(activityName).ActivityOptions()
	return resilience.ExecuteStep(ctx, resilience.Step{Name: name, Policy: policy}, r.tracker, func(ctx workflow.Context) error {
		actCtx := workflow.WithActivityOptions(ctx, opts)
		return workflow.ExecuteActivity(actCtx, activityName, in).Get(ctx, out)
	})
}

// complete closes the audit row, emits workflow.completed and ends the run.
func (r *run) complete(ctx workflow.Context, summary interface{}) error {
	if r.deadlineHit {
		return r.end(ctx, StateTimedOut, errDeadline)
	}
	if r.tracker.invalid != nil {
		return r.end(ctx, StateFailed, r.tracker.invalid)
	}
	r.close(ctx, domain.RunStatusCompleted, "", summary)
	r.publish(ctx, domain.EventTypeWorkflowCompleted, domain.RunStatusCompleted, "", nil)
	if err := r.tracker.transition(StateCompleted); err != nil {
		return r.end(ctx, StateFailed, err)
	}
	workflow.GetLogger(ctx).Info("run completed", "workflowType", r.workflowType)
	return nil
}

// end records a failed, cancelled or timed-out run and returns the error
// the workflow exits with. It works in a disconnected context so that a
// cancelled run still closes its audit row. Once the execution deadline has
// cancelled the run, it ends as timed out whatever the caller saw.
func (r *run) end(ctx workflow.Context, state RunState, cause error) error {
	dctx, _ := workflow.NewDisconnectedContext(ctx)
	if r.deadlineHit {
		step := r.tracker.snap.Step
		if step == "" {
			step = stepDeadline
		}
		state = StateTimedOut
		cause = &resilience.StepError{Step: step, Category: resilience.Timeout, Err: errDeadline}
	}

	category := resilience.Classify(cause)
	var stepErr *resilience.StepError
	if errors.As(cause, &stepErr) {
		category = stepErr.Category
	}
	r.tracker.setError(cause, category)
	failedStep := r.tracker.snap.Step
	if stepErr != nil {
		failedStep = stepErr.Step
	}

	status := state.RunStatus()
	eventType := domain.EventTypeWorkflowFailed
	if state == StateCancelled {
		eventType = domain.EventTypeWorkflowCancelled
	}
	r.close(dctx, status, cause.Error(), nil)
	r.publish(dctx, eventType, status, failedStep, cause)
	if err := r.tracker.transition(state); err != nil {
		workflow.GetLogger(ctx).Error("run ended from an illegal state", "error", err)
	}

	workflow.GetLogger(ctx).Warn("run ended",
		"workflowType", r.workflowType,
		"state", string(state),
		"errorKind", category.String(),
		"error", cause,
	)
	if state == StateCancelled {
		return temporal.NewCanceledError(cause.Error())
	}
	return temporal.NewNonRetryableApplicationError(cause.Error(), category.ErrorType(), cause)
}

func (r *run) close(ctx workflow.Context, status domain.RunStatus, errMsg string, summary interface{}) {
	var raw json.RawMessage
	if summary != nil {
		if b, err := json.Marshal(summary); err == nil {
			raw = b
		}
	}
	r.step(ctx, stepCloseAudit, resilience.SkipStep, activities.CloseRunAudit, activities.CloseRunAuditInput{
		WorkflowID: r.info.WorkflowExecution.ID,
		RunID:      r.info.WorkflowExecution.RunID,
		Status:     status,
		Error:      errMsg,
		Summary:    raw,
	}, nil)
}

// publish emits a lifecycle event. Delivery failures are skipped.
func (r *run) publish(ctx workflow.Context, eventType string, status domain.RunStatus, step string, cause error) {
	snap := r.tracker.snapshot()
	data := domain.WorkflowEventData{
		WorkflowType: r.workflowType,
		WorkflowID:   r.info.WorkflowExecution.ID,
		RunID:        r.info.WorkflowExecution.RunID,
		Status:       status,
		Step:         step,
		Entity:       snap.Entity,
		DurationMs:   workflow.Now(ctx).Sub(r.started).Milliseconds(),
	}
	if cause != nil {
		data.Error = cause.Error()
		data.ErrorKind = snap.ErrorKind
	}
	r.step(ctx, stepPublishEvent, resilience.SkipStep, activities.PublishEvent, activities.PublishEventInput{
		EventType: eventType,
		TenantID:  r.tenantID,
		Data:      data,
	}, nil)
}

// newUUID returns a random id recorded in history, so replays see the same value.
func newUUID(ctx workflow.Context) uuid.UUID {
	var id uuid.UUID
	_ = workflow.SideEffect(ctx, func(workflow.Context) interface{} {
		return uuid.New()
	}).Get(&id)
	return id
}

// isCancelled reports whether err is the interruption of a cancelled run.
func isCancelled(err error) bool {
	return errors.Is(err, domain.ErrCancelled)
}

func invalidInput(err error) error {
	return temporal.NewNonRetryableApplicationError(err.Error(), resilience.ErrTypeInvalidInput, err)
}
