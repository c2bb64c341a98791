package workflows

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/workflow"

	"github.com/unlock/orchestration-service/internal/domain"
	"github.com/unlock/orchestration-service/internal/temporal/activities"
	"github.com/unlock/orchestration-service/internal/temporal/resilience"
)

// Content production step names.
const (
	stepDraft          = "draft_content"
	stepEvaluate       = "evaluate_voice"
	stepRevise         = "revise_content"
	stepCreateTask     = "create_task"
	stepAwaitApproval  = "await_approval"
	stepClaimTask      = "claim_task"
	stepRecordFeedback = "record_feedback"
	stepResolveTask    = "resolve_task"
	stepExpireTask     = "expire_task"
	stepCancelTask     = "cancel_task"
	stepArchive        = "archive_content"
	stepHandoff        = "performance_handoff"
)

var (
	// errApprovalRoundsExhausted ends a run whose reviewers kept rejecting.
	errApprovalRoundsExhausted = errors.New("approval rounds exhausted without approval")
	// errApprovalExpired ends a run whose approval task passed its due time.
	errApprovalExpired = errors.New("approval task expired")
)

// ContentProductionWorkflow drafts content, refines it until it matches the
// tenant's voice and, when required, waits for a reviewer to approve it.
//
// The run proceeds through:
//  1. draft_content stages version 1
//  2. evaluate_voice / revise_content loop, bounded by MaxRevisions
//  3. optional approval: a task is created and the run waits for task.response
//     (task.claim marks it in progress) until the task's due time; a rejection
//     records the reviewer's feedback and goes back to step 2
//  4. optional handoff to a performance assessment child workflow
//
// Cancellation at any point archives the draft and cancels the open task.
func ContentProductionWorkflow(ctx workflow.Context, input ContentProductionInput) (*ContentProductionResult, error) {
	input.applyDefaults()
	if err := input.Validate(); err != nil {
		return nil, invalidInput(err)
	}

	ctx, r, err := startRun(ctx, ContentProduction, input.TenantID)
	if err != nil {
		return nil, err
	}

	p := &contentProduction{run: r, input: input, groupID: input.EntityGroupID}
	if p.groupID == uuid.Nil {
		p.groupID = newUUID(ctx)
	}

	err = p.produce(ctx)
	switch {
	case err == nil:
	case isCancelled(err):
		return nil, p.compensate(ctx, StateCancelled, err)
	case errors.Is(err, errApprovalExpired):
		return nil, r.end(ctx, StateTimedOut, err)
	case errors.As(err, new(compensationRequired)):
		return nil, p.compensate(ctx, StateFailed, err)
	default:
		return nil, r.end(ctx, StateFailed, err)
	}

	if err := r.complete(ctx, p.result); err != nil {
		return nil, err
	}
	p.handoff(ctx)
	return &p.result, nil
}

// compensationRequired marks a failure whose step policy is Compensate.
type compensationRequired struct{ err error }

func (c compensationRequired) Error() string { return c.err.Error() }
func (c compensationRequired) Unwrap() error { return c.err }

type contentProduction struct {
	run      *run
	input    ContentProductionInput
	groupID  uuid.UUID
	entity   domain.EntityRef
	openTask *uuid.UUID
	result   ContentProductionResult
}

func (p *contentProduction) setEntity(ref domain.EntityRef) {
	p.entity = ref
	p.result.Entity = ref
	p.run.tracker.setEntity(ref)
}

func (p *contentProduction) produce(ctx workflow.Context) error {
	var drafted activities.StageResult
	res := p.run.step(ctx, stepDraft, resilience.FailRun, activities.DraftContent, activities.DraftContentInput{
		TenantID:       p.input.TenantID,
		EntityGroupID:  p.groupID,
		ProfileGroupID: p.input.ProfileGroupID,
		Title:          p.input.Title,
		Brief:          p.input.Brief,
		Channel:        p.input.Channel,
	}, &drafted)
	if !res.OK() {
		return res.Err
	}
	p.setEntity(drafted.Entity)

	for {
		if err := p.refine(ctx); err != nil {
			return err
		}
		if !p.input.RequireApproval {
			return nil
		}

		approved, err := p.requestApproval(ctx)
		if err != nil {
			return err
		}
		if approved {
			p.result.Approved = true
			return nil
		}
		if p.result.ApprovalRounds >= p.input.MaxApprovalRounds {
			return &resilience.StepError{Step: stepAwaitApproval, Category: resilience.Permanent, Err: errApprovalRoundsExhausted}
		}
		if err := p.revise(ctx); err != nil {
			return err
		}
	}
}

// refine evaluates the current version and revises it while it is below
// the voice threshold, up to MaxRevisions times.
func (p *contentProduction) refine(ctx workflow.Context) error {
	for revisions := 0; ; revisions++ {
		var eval activities.EvaluateVoiceResult
		res := p.run.step(ctx, stepEvaluate, resilience.FailRun, activities.EvaluateVoice, activities.EvaluateVoiceInput{
			TenantID:       p.input.TenantID,
			Entity:         p.entity,
			ProfileGroupID: p.input.ProfileGroupID,
			Threshold:      p.input.VoiceThreshold,
		}, &eval)
		if !res.OK() {
			return res.Err
		}
		p.result.Score = eval.Score
		p.result.Aligned = eval.Aligned
		if eval.Aligned {
			return nil
		}
		if revisions >= p.input.MaxRevisions {
			p.run.tracker.note(fmt.Sprintf("voice alignment %.2f still below threshold after %d revisions", eval.Score, revisions))
			return nil
		}
		if err := p.revise(ctx); err != nil {
			return err
		}
	}
}

func (p *contentProduction) revise(ctx workflow.Context) error {
	var revised activities.StageResult
	res := p.run.step(ctx, stepRevise, resilience.FailRun, activities.ReviseContent, activities.ReviseContentInput{
		TenantID:       p.input.TenantID,
		Entity:         p.entity,
		ProfileGroupID: p.input.ProfileGroupID,
	}, &revised)
	if !res.OK() {
		return res.Err
	}
	p.result.Revisions++
	p.setEntity(revised.Entity)
	return nil
}

type approvalContext struct {
	Title   string           `json:"title,omitempty"`
	Channel string           `json:"channel"`
	Entity  domain.EntityRef `json:"entity"`
	Score   float64          `json:"score"`
	Round   int              `json:"round"`
}

// requestApproval raises a content approval task and waits for its outcome.
func (p *contentProduction) requestApproval(ctx workflow.Context) (bool, error) {
	p.result.ApprovalRounds++
	taskID := newUUID(ctx)
	due := workflow.Now(ctx).Add(p.input.approvalTimeout())
	taskContext, _ := json.Marshal(approvalContext{
		Title:   p.input.Title,
		Channel: p.input.Channel,
		Entity:  p.entity,
		Score:   p.result.Score,
		Round:   p.result.ApprovalRounds,
	})

	res := p.run.step(ctx, stepCreateTask, resilience.Compensate, activities.CreateTask, activities.CreateTaskInput{
		TaskID:     taskID,
		TenantID:   p.input.TenantID,
		WorkflowID: p.run.info.WorkflowExecution.ID,
		RunID:      p.run.info.WorkflowExecution.RunID,
		SignalName: SignalTaskResponse,
		Kind:       domain.TaskKindContentApproval,
		EntityID:   p.entity.EntityID,
		Context:    taskContext,
		DueAt:      due,
	}, nil)
	switch res.Outcome {
	case resilience.Succeeded:
	case resilience.Compensating:
		return false, compensationRequired{err: res.Err}
	default:
		return false, res.Err
	}
	p.openTask = &taskID
	p.run.tracker.setTask(&taskID)

	decision, err := p.awaitDecision(ctx, taskID, due)
	if err != nil {
		if errors.Is(err, errApprovalExpired) {
			p.resolveTask(ctx, stepExpireTask, resilience.SkipStep, activities.UpdateTaskInput{TaskID: taskID, Status: domain.TaskStatusExpired})
		}
		return false, err
	}

	if !decision.Approved {
		res := p.run.step(ctx, stepRecordFeedback, resilience.FailRun, activities.RecordFeedback, activities.RecordFeedbackInput{
			TenantID: p.input.TenantID,
			Entity:   p.entity,
			TaskID:   taskID,
			Reviewer: decision.Reviewer,
			Approved: false,
			Comments: decision.Comments,
		}, nil)
		if !res.OK() {
			return false, res.Err
		}
	}

	response, _ := json.Marshal(decision)
	approved := decision.Approved
	res = p.resolveTask(ctx, stepResolveTask, resilience.FailRun, activities.UpdateTaskInput{
		TaskID:   taskID,
		Status:   domain.TaskStatusCompleted,
		Response: response,
		Approved: &approved,
	})
	if !res.OK() {
		return false, res.Err
	}
	return approved, nil
}

func (p *contentProduction) resolveTask(ctx workflow.Context, step string, policy resilience.FailurePolicy, in activities.UpdateTaskInput) resilience.StepResult {
	res := p.run.step(ctx, step, policy, activities.UpdateTask, in, nil)
	if res.OK() && in.Status.IsTerminal() {
		p.openTask = nil
		p.run.tracker.setTask(nil)
	}
	return res
}

// awaitDecision blocks until a response for taskID arrives, the task's due
// time passes or the run is cancelled. Signals for other tasks stay
// unmatched; past maxBufferedSignals they are recorded as dropped.
func (p *contentProduction) awaitDecision(ctx workflow.Context, taskID uuid.UUID, due time.Time) (*domain.TaskResponse, error) {
	tracker := p.run.tracker
	if err := tracker.transition(StateAwaitingSignal); err != nil {
		return nil, err
	}

	responses := workflow.GetSignalChannel(ctx, SignalTaskResponse)
	claims := workflow.GetSignalChannel(ctx, SignalTaskClaim)

	timerCtx, cancelTimer := workflow.WithCancel(ctx)
	defer cancelTimer()
	timer := workflow.NewTimer(timerCtx, due.Sub(workflow.Now(ctx)))

	var (
		decision  *domain.TaskResponse
		claim     *domain.TaskClaim
		claimed   bool
		timedOut  bool
		cancelled bool
		unmatched int
	)
	ignore := func(signal, detail string) {
		unmatched++
		if unmatched > maxBufferedSignals {
			tracker.dropSignal(signal, detail)
			return
		}
		tracker.signal(signal, "ignored: "+detail)
	}

	for decision == nil && !timedOut && !cancelled {
		selector := workflow.NewSelector(ctx)
		selector.AddReceive(responses, func(c workflow.ReceiveChannel, _ bool) {
			var resp domain.TaskResponse
			c.Receive(ctx, &resp)
			if resp.TaskID != taskID {
				ignore(SignalTaskResponse, "no open task "+resp.TaskID.String())
				return
			}
			tracker.signal(SignalTaskResponse, fmt.Sprintf("approved=%t", resp.Approved))
			decision = &resp
		})
		selector.AddReceive(claims, func(c workflow.ReceiveChannel, _ bool) {
			var cl domain.TaskClaim
			c.Receive(ctx, &cl)
			if cl.TaskID != taskID {
				ignore(SignalTaskClaim, "no open task "+cl.TaskID.String())
				return
			}
			if claimed {
				ignore(SignalTaskClaim, "task already claimed")
				return
			}
			tracker.signal(SignalTaskClaim, "claimed by "+cl.Assignee)
			claimed = true
			claim = &cl
		})
		selector.AddFuture(timer, func(f workflow.Future) {
			if err := f.Get(ctx, nil); err != nil {
				cancelled = ctx.Err() != nil
				return
			}
			timedOut = true
		})
		selector.AddReceive(ctx.Done(), func(workflow.ReceiveChannel, bool) {
			cancelled = true
		})
		selector.Select(ctx)

		if claim != nil {
			p.resolveTask(ctx, stepClaimTask, resilience.SkipStep, activities.UpdateTaskInput{
				TaskID:   taskID,
				Status:   domain.TaskStatusInProgress,
				Assignee: claim.Assignee,
			})
			claim = nil
			if ctx.Err() == nil {
				if err := tracker.transition(StateAwaitingSignal); err != nil {
					return nil, err
				}
			}
		}
	}

	switch {
	case cancelled:
		return nil, &resilience.StepError{Step: stepAwaitApproval, Category: resilience.Cancelled, Err: ctx.Err()}
	case timedOut:
		return nil, &resilience.StepError{
			Step:     stepAwaitApproval,
			Category: resilience.Timeout,
			Err:      fmt.Errorf("%w: task %s not answered by %s", errApprovalExpired, taskID, due.UTC().Format(time.RFC3339)),
		}
	}
	return decision, nil
}

// compensate undoes what the run produced: the open task is cancelled and
// the draft archived. It runs in a disconnected context.
func (p *contentProduction) compensate(ctx workflow.Context, state RunState, cause error) error {
	dctx, _ := workflow.NewDisconnectedContext(ctx)
	p.run.tracker.note("compensating: " + cause.Error())

	if p.openTask != nil {
		p.resolveTask(dctx, stepCancelTask, resilience.SkipStep, activities.UpdateTaskInput{
			TaskID: *p.openTask,
			Status: domain.TaskStatusCancelled,
		})
	}
	if !p.entity.IsZero() {
		reason := "run cancelled"
		switch {
		case p.run.deadlineHit:
			reason = "execution deadline reached"
		case state != StateCancelled:
			reason = "compensation after failure"
		}
		var archived activities.StageResult
		res := p.run.step(dctx, stepArchive, resilience.SkipStep, activities.ArchiveContent, activities.ArchiveContentInput{
			TenantID:      p.input.TenantID,
			EntityGroupID: p.groupID,
			Reason:        reason,
		}, &archived)
		if res.OK() {
			p.setEntity(archived.Entity)
		}
	}
	return p.run.end(dctx, state, cause)
}

// handoff starts a performance assessment of the produced content. The child
// outlives this run; only its start is awaited.
func (p *contentProduction) handoff(ctx workflow.Context) {
	h := p.input.Handoff
	if h == nil {
		return
	}
	def, err := Lookup(PerformanceAssessment)
	if err != nil {
		p.run.tracker.note("handoff skipped: " + err.Error())
		return
	}

	now := workflow.Now(ctx)
	childID := p.run.info.WorkflowExecution.ID + "-performance"
	childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
		WorkflowID:               childID,
		TaskQueue:                def.Queue,
		WorkflowExecutionTimeout: time.Duration(h.WindowDays)*24*time.Hour + def.ExecutionTimeout,
		ParentClosePolicy:        enumspb.PARENT_CLOSE_POLICY_ABANDON,
	})
	child := workflow.ExecuteChildWorkflow(childCtx, PerformanceAssessment, PerformanceAssessmentInput{
		TenantID:         p.input.TenantID,
		ReportGroupID:    h.ReportGroupID,
		ContentGroupIDs:  []uuid.UUID{p.groupID},
		WindowStart:      now,
		WindowEnd:        now.Add(time.Duration(h.WindowDays) * 24 * time.Hour),
		WaitForWindowEnd: true,
	})

	var execution workflow.Execution
	if err := child.GetChildWorkflowExecution().Get(ctx, &execution); err != nil {
		workflow.GetLogger(ctx).Warn("performance handoff failed to start", "childWorkflowID", childID, "error", err)
		p.run.tracker.note("handoff failed: " + err.Error())
		return
	}
	p.result.HandoffWorkflowID = execution.ID
	p.run.tracker.note("handed off to " + execution.ID)
}
