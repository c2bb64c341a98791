package workflows

import (
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	commonpb "go.temporal.io/api/common/v1"
	enumspb "go.temporal.io/api/enums/v1"
	historypb "go.temporal.io/api/history/v1"
	taskqueuepb "go.temporal.io/api/taskqueue/v1"
	"go.temporal.io/sdk/converter"
	"go.temporal.io/sdk/worker"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/unlock/orchestration-service/internal/domain"
	"github.com/unlock/orchestration-service/internal/temporal/activities"
)

// historyBuilder assembles a workflow history the way the server records
// it: every workflow task is scheduled, started and completed, and command
// events carry the id of the completion that produced them.
type historyBuilder struct {
	t             *testing.T
	now           time.Time
	events        []*historypb.HistoryEvent
	lastCompleted int64
}

func newHistoryBuilder(t *testing.T, start time.Time) *historyBuilder {
	return &historyBuilder{t: t, now: start}
}

func (b *historyBuilder) add(eventType enumspb.EventType, set func(e *historypb.HistoryEvent)) int64 {
	b.now = b.now.Add(time.Second)
	e := &historypb.HistoryEvent{
		EventId:   int64(len(b.events) + 1),
		EventTime: timestamppb.New(b.now),
		EventType: eventType,
	}
	set(e)
	b.events = append(b.events, e)
	return e.EventId
}

func (b *historyBuilder) payloads(v interface{}) *commonpb.Payloads {
	if v == nil {
		return nil
	}
	p, err := converter.GetDefaultDataConverter().ToPayloads(v)
	require.NoError(b.t, err)
	return p
}

func (b *historyBuilder) started(workflowType string, input interface{}, timeout time.Duration) {
	b.add(enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_STARTED, func(e *historypb.HistoryEvent) {
		e.Attributes = &historypb.HistoryEvent_WorkflowExecutionStartedEventAttributes{
			WorkflowExecutionStartedEventAttributes: &historypb.WorkflowExecutionStartedEventAttributes{
				WorkflowType:             &commonpb.WorkflowType{Name: workflowType},
				TaskQueue:                &taskqueuepb.TaskQueue{Name: activities.QueueOrchestrator},
				Input:                    b.payloads(input),
				WorkflowExecutionTimeout: durationpb.New(timeout),
				WorkflowTaskTimeout:      durationpb.New(10 * time.Second),
				Attempt:                  1,
			},
		}
	})
}

// workflowTask records one completed workflow task.
func (b *historyBuilder) workflowTask() {
	scheduled := b.add(enumspb.EVENT_TYPE_WORKFLOW_TASK_SCHEDULED, func(e *historypb.HistoryEvent) {
		e.Attributes = &historypb.HistoryEvent_WorkflowTaskScheduledEventAttributes{
			WorkflowTaskScheduledEventAttributes: &historypb.WorkflowTaskScheduledEventAttributes{
				TaskQueue:           &taskqueuepb.TaskQueue{Name: activities.QueueOrchestrator},
				StartToCloseTimeout: durationpb.New(10 * time.Second),
				Attempt:             1,
			},
		}
	})
	started := b.add(enumspb.EVENT_TYPE_WORKFLOW_TASK_STARTED, func(e *historypb.HistoryEvent) {
		e.Attributes = &historypb.HistoryEvent_WorkflowTaskStartedEventAttributes{
			WorkflowTaskStartedEventAttributes: &historypb.WorkflowTaskStartedEventAttributes{
				ScheduledEventId: scheduled,
				Identity:         "worker-1",
				RequestId:        uuid.NewString(),
			},
		}
	})
	b.lastCompleted = b.add(enumspb.EVENT_TYPE_WORKFLOW_TASK_COMPLETED, func(e *historypb.HistoryEvent) {
		e.Attributes = &historypb.HistoryEvent_WorkflowTaskCompletedEventAttributes{
			WorkflowTaskCompletedEventAttributes: &historypb.WorkflowTaskCompletedEventAttributes{
				ScheduledEventId: scheduled,
				StartedEventId:   started,
				Identity:         "worker-1",
			},
		}
	})
}

// scheduleActivity records the command; its activity id is the event id.
func (b *historyBuilder) scheduleActivity(activityType string) int64 {
	id := int64(len(b.events) + 1)
	return b.add(enumspb.EVENT_TYPE_ACTIVITY_TASK_SCHEDULED, func(e *historypb.HistoryEvent) {
		e.Attributes = &historypb.HistoryEvent_ActivityTaskScheduledEventAttributes{
			ActivityTaskScheduledEventAttributes: &historypb.ActivityTaskScheduledEventAttributes{
				ActivityId:                   strconv.FormatInt(id, 10),
				ActivityType:                 &commonpb.ActivityType{Name: activityType},
				TaskQueue:                    &taskqueuepb.TaskQueue{Name: activities.MustLookup(activityType).Queue},
				StartToCloseTimeout:          durationpb.New(time.Minute),
				WorkflowTaskCompletedEventId: b.lastCompleted,
			},
		}
	})
}

func (b *historyBuilder) startTimer(timeout time.Duration) {
	id := int64(len(b.events) + 1)
	b.add(enumspb.EVENT_TYPE_TIMER_STARTED, func(e *historypb.HistoryEvent) {
		e.Attributes = &historypb.HistoryEvent_TimerStartedEventAttributes{
			TimerStartedEventAttributes: &historypb.TimerStartedEventAttributes{
				TimerId:                      strconv.FormatInt(id, 10),
				StartToFireTimeout:           durationpb.New(timeout),
				WorkflowTaskCompletedEventId: b.lastCompleted,
			},
		}
	})
}

func (b *historyBuilder) completeActivity(scheduled int64, result interface{}) {
	started := b.add(enumspb.EVENT_TYPE_ACTIVITY_TASK_STARTED, func(e *historypb.HistoryEvent) {
		e.Attributes = &historypb.HistoryEvent_ActivityTaskStartedEventAttributes{
			ActivityTaskStartedEventAttributes: &historypb.ActivityTaskStartedEventAttributes{
				ScheduledEventId: scheduled,
				Identity:         "worker-1",
				Attempt:          1,
			},
		}
	})
	b.add(enumspb.EVENT_TYPE_ACTIVITY_TASK_COMPLETED, func(e *historypb.HistoryEvent) {
		e.Attributes = &historypb.HistoryEvent_ActivityTaskCompletedEventAttributes{
			ActivityTaskCompletedEventAttributes: &historypb.ActivityTaskCompletedEventAttributes{
				Result:           b.payloads(result),
				ScheduledEventId: scheduled,
				StartedEventId:   started,
			},
		}
	})
}

// runActivity is one workflow task that schedules activityType, followed by
// its completion.
func (b *historyBuilder) runActivity(activityType string, result interface{}) {
	b.workflowTask()
	b.completeActivity(b.scheduleActivity(activityType), result)
}

func (b *historyBuilder) completed(result interface{}) {
	b.workflowTask()
	b.add(enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_COMPLETED, func(e *historypb.HistoryEvent) {
		e.Attributes = &historypb.HistoryEvent_WorkflowExecutionCompletedEventAttributes{
			WorkflowExecutionCompletedEventAttributes: &historypb.WorkflowExecutionCompletedEventAttributes{
				Result:                       b.payloads(result),
				WorkflowTaskCompletedEventId: b.lastCompleted,
			},
		}
	})
}

func (b *historyBuilder) history() *historypb.History {
	return &historypb.History{Events: b.events}
}

// identityHistory records a successful identity evaluation: the audit row
// is opened, the assessment and profile update run, then the audit row is
// closed and the completion published. updateActivity replaces the profile
// update step, to check that a reordered history is rejected.
func identityHistory(t *testing.T, updateActivity string) (*historypb.History, IdentityEvaluationResult) {
	start := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
	timeout := time.Hour
	input := IdentityEvaluationInput{
		TenantID:        tenant,
		ProfileGroupID:  uuid.MustParse("0b8e7f3e-3b1c-4d47-9a55-5b6b0c2f4a10"),
		ContentGroupIDs: []uuid.UUID{uuid.MustParse("6f1c1e2a-0d55-4d4b-8f0b-7b9d8d1f2c3e")},
	}
	assessed := domain.EntityRef{
		EntityID:      uuid.MustParse("1d0a3c5e-7b2f-4e61-8d9a-0c4b5e6f7a81"),
		EntityGroupID: input.ProfileGroupID,
		Kind:          domain.EntityKindIdentityProfile,
		Version:       1,
	}
	updated := assessed
	updated.EntityID = uuid.MustParse("2e1b4d6f-8c3a-4f72-9eab-1d5c6f7a8b92")
	updated.Version = 2
	result := IdentityEvaluationResult{Profile: updated, Consistency: 0.75}

	b := newHistoryBuilder(t, start)
	b.started(IdentityEvaluation, input, timeout)
	b.runActivity(activities.OpenRunAudit, nil)

	// The workflow task after the audit opens dispatches the assessment and
	// arms the execution deadline in the same batch of commands.
	b.workflowTask()
	assess := b.scheduleActivity(activities.AssessIdentity)
	b.startTimer(timeout - deadlineMargin)
	b.completeActivity(assess, activities.AssessIdentityResult{Profile: assessed, Consistency: 0.75})

	b.runActivity(updateActivity, activities.StageResult{Entity: updated})
	b.runActivity(activities.CloseRunAudit, nil)
	b.runActivity(activities.PublishEvent, nil)
	b.completed(result)
	return b.history(), result
}

func TestReplayIdentityEvaluationHistory(t *testing.T) {
	history, want := identityHistory(t, activities.UpdateIdentityProfile)

	replayer := worker.NewWorkflowReplayer()
	Register(replayer)
	require.NoError(t, replayer.ReplayWorkflowHistory(nil, history))

	var got IdentityEvaluationResult
	require.NoError(t, replayer.(interface {
		GetWorkflowResult(workflowID string, valuePtr interface{}) error
	}).GetWorkflowResult("", &got))
	assert.Equal(t, want, got)

	var dispatched []string
	for _, e := range history.Events {
		if attrs := e.GetActivityTaskScheduledEventAttributes(); attrs != nil {
			dispatched = append(dispatched, attrs.ActivityType.GetName())
		}
	}
	assert.Equal(t, []string{
		activities.OpenRunAudit,
		activities.AssessIdentity,
		activities.UpdateIdentityProfile,
		activities.CloseRunAudit,
		activities.PublishEvent,
	}, dispatched)
}

func TestReplayRejectsDivergentHistory(t *testing.T) {
	history, _ := identityHistory(t, activities.ArchiveContent)

	replayer := worker.NewWorkflowReplayer()
	Register(replayer)
	assert.Error(t, replayer.ReplayWorkflowHistory(nil, history))
}
