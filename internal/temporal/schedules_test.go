package temporal

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	commonpb "go.temporal.io/api/common/v1"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
	"go.temporal.io/sdk/mocks"
	sdktemporal "go.temporal.io/sdk/temporal"

	"github.com/unlock/orchestration-service/internal/domain"
	"github.com/unlock/orchestration-service/internal/observability"
	"github.com/unlock/orchestration-service/internal/temporal/activities"
	"github.com/unlock/orchestration-service/internal/temporal/workflows"
)

const identityInput = `{"profileGroupId":"0b8e7f3e-3b1c-4d47-9a55-5b6b0c2f4a10","contentGroupIds":["6f1c1e2a-0d55-4d4b-8f0b-7b9d8d1f2c3e"]}`

// scheduleIterator is a client.ScheduleListIterator over a fixed slice.
type scheduleIterator struct {
	entries []*client.ScheduleListEntry
}

func (it *scheduleIterator) HasNext() bool { return len(it.entries) > 0 }

func (it *scheduleIterator) Next() (*client.ScheduleListEntry, error) {
	e := it.entries[0]
	it.entries = it.entries[1:]
	return e, nil
}

func newTestScheduler(t *testing.T) (*Scheduler, *mocks.ScheduleClient) {
	t.Helper()
	sc := &mocks.ScheduleClient{}
	t.Cleanup(func() { sc.AssertExpectations(t) })
	engine := NewEngine(nil, EngineConfig{}, nil, nil, zerolog.Nop())
	return NewScheduler(sc, engine, zerolog.Nop()), sc
}

func tenantMemo(t *testing.T, tenant string) *commonpb.Memo {
	t.Helper()
	p, err := converter.GetDefaultDataConverter().ToPayload(tenant)
	require.NoError(t, err)
	return &commonpb.Memo{Fields: map[string]*commonpb.Payload{memoTenant: p}}
}

func identitySchedule() domain.ScheduleDefinition {
	return domain.ScheduleDefinition{
		ID:              "Weekly Identity",
		CronExpressions: []string{"0 6 * * MON"},
		WorkflowType:    workflows.IdentityEvaluation,
		TenantID:        testTenant,
		Input:           json.RawMessage(identityInput),
		OverlapPolicy:   domain.OverlapSkip,
		Note:            "weekly voice check",
	}
}

func TestOverlapPolicy(t *testing.T) {
	tests := []struct {
		policy domain.OverlapPolicy
		want   enumspb.ScheduleOverlapPolicy
	}{
		{domain.OverlapSkip, enumspb.SCHEDULE_OVERLAP_POLICY_SKIP},
		{domain.OverlapBufferOne, enumspb.SCHEDULE_OVERLAP_POLICY_BUFFER_ONE},
		{domain.OverlapCancelOther, enumspb.SCHEDULE_OVERLAP_POLICY_CANCEL_OTHER},
		{domain.OverlapAllowAll, enumspb.SCHEDULE_OVERLAP_POLICY_ALLOW_ALL},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			got, err := OverlapPolicy(tt.policy)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.policy, overlapFromEngine(got))
		})
	}

	t.Run("unknown policy", func(t *testing.T) {
		_, err := OverlapPolicy("sometimes")
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}

func TestScheduler_Create(t *testing.T) {
	t.Run("registers a normalized schedule that starts the workflow", func(t *testing.T) {
		s, sc := newTestScheduler(t)
		sc.On("Create", mock.Anything, mock.MatchedBy(func(o client.ScheduleOptions) bool {
			action, ok := o.Action.(*client.ScheduleWorkflowAction)
			if !ok || len(action.Args) != 1 {
				return false
			}
			in, ok := action.Args[0].(*workflows.IdentityEvaluationInput)
			return o.ID == "weekly-identity" &&
				o.Overlap == enumspb.SCHEDULE_OVERLAP_POLICY_SKIP &&
				o.Spec.CronExpressions[0] == "0 6 * * MON" &&
				o.Note == "weekly voice check" &&
				action.ID == "weekly-identity" &&
				action.Workflow == workflows.IdentityEvaluation &&
				action.TaskQueue == activities.QueueOrchestrator &&
				action.WorkflowExecutionTimeout == time.Hour &&
				ok && in.TenantID == testTenant
		})).Return(&mocks.ScheduleHandle{}, nil).Once()

		id, err := s.Create(context.Background(), identitySchedule())
		require.NoError(t, err)
		assert.Equal(t, "weekly-identity", id)
	})

	t.Run("performance schedules carry a relative window", func(t *testing.T) {
		s, sc := newTestScheduler(t)
		sc.On("Create", mock.Anything, mock.MatchedBy(func(o client.ScheduleOptions) bool {
			action, ok := o.Action.(*client.ScheduleWorkflowAction)
			if !ok || len(action.Args) != 1 {
				return false
			}
			in, ok := action.Args[0].(*workflows.PerformanceAssessmentInput)
			return ok && in.WindowDays == 7 && in.WindowStart.IsZero() && in.WindowEnd.IsZero()
		})).Return(&mocks.ScheduleHandle{}, nil).Once()

		def := identitySchedule()
		def.ID = "weekly-performance"
		def.WorkflowType = workflows.PerformanceAssessment
		def.Input = json.RawMessage(`{"reportGroupId":"0b8e7f3e-3b1c-4d47-9a55-5b6b0c2f4a10",` +
			`"contentGroupIds":["6f1c1e2a-0d55-4d4b-8f0b-7b9d8d1f2c3e"],"windowDays":7}`)
		_, err := s.Create(context.Background(), def)
		require.NoError(t, err)
	})

	t.Run("existing id succeeds", func(t *testing.T) {
		s, sc := newTestScheduler(t)
		sc.On("Create", mock.Anything, mock.Anything).Return(nil, sdktemporal.ErrScheduleAlreadyRunning).Once()

		id, err := s.Create(context.Background(), identitySchedule())
		require.NoError(t, err)
		assert.Equal(t, "weekly-identity", id)
	})

	t.Run("engine failure is wrapped", func(t *testing.T) {
		s, sc := newTestScheduler(t)
		sc.On("Create", mock.Anything, mock.Anything).Return(nil, serviceerror.NewUnavailable("down")).Once()

		_, err := s.Create(context.Background(), identitySchedule())
		assert.True(t, errors.Is(err, domain.ErrServiceUnavailable))
	})

	t.Run("needs a cron expression or an interval", func(t *testing.T) {
		s, _ := newTestScheduler(t)
		def := identitySchedule()
		def.CronExpressions = nil

		_, err := s.Create(context.Background(), def)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})

	t.Run("rejects unknown overlap policy", func(t *testing.T) {
		s, _ := newTestScheduler(t)
		def := identitySchedule()
		def.OverlapPolicy = "sometimes"

		_, err := s.Create(context.Background(), def)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})

	t.Run("rejects invalid workflow input", func(t *testing.T) {
		s, _ := newTestScheduler(t)
		def := identitySchedule()
		def.Input = json.RawMessage(`{"contentGroupIds":[]}`)

		_, err := s.Create(context.Background(), def)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}

func TestScheduler_PauseResumeDelete(t *testing.T) {
	t.Run("pause and resume pass the note", func(t *testing.T) {
		s, sc := newTestScheduler(t)
		handle := &mocks.ScheduleHandle{}
		sc.On("GetHandle", mock.Anything, "weekly-identity").Return(handle)
		handle.On("Pause", mock.Anything, client.SchedulePauseOptions{Note: "holiday"}).Return(nil).Once()
		handle.On("Unpause", mock.Anything, client.ScheduleUnpauseOptions{Note: "back"}).Return(nil).Once()

		require.NoError(t, s.Pause(context.Background(), "Weekly Identity", "holiday"))
		require.NoError(t, s.Resume(context.Background(), "weekly-identity", "back"))
		handle.AssertExpectations(t)
	})

	t.Run("tenant scoped change checks ownership", func(t *testing.T) {
		s, sc := newTestScheduler(t)
		handle := &mocks.ScheduleHandle{}
		sc.On("GetHandle", mock.Anything, "weekly-identity").Return(handle)
		handle.On("Describe", mock.Anything).Return(&client.ScheduleDescription{Memo: tenantMemo(t, "other")}, nil).Once()

		ctx := observability.WithTenant(context.Background(), testTenant)
		err := s.Pause(ctx, "weekly-identity", "")
		assert.True(t, errors.Is(err, domain.ErrNotFound))
		handle.AssertNotCalled(t, "Pause", mock.Anything, mock.Anything)
	})

	t.Run("delete of unknown schedule is not found", func(t *testing.T) {
		s, sc := newTestScheduler(t)
		handle := &mocks.ScheduleHandle{}
		sc.On("GetHandle", mock.Anything, "gone").Return(handle)
		handle.On("Delete", mock.Anything).Return(serviceerror.NewNotFound("schedule not found")).Once()

		err := s.Delete(context.Background(), "gone")
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})
}

func TestScheduler_Describe(t *testing.T) {
	s, sc := newTestScheduler(t)
	handle := &mocks.ScheduleHandle{}
	sc.On("GetHandle", mock.Anything, "weekly-identity").Return(handle)

	input, err := converter.GetDefaultDataConverter().ToPayload(json.RawMessage(identityInput))
	require.NoError(t, err)
	next := time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC)
	fired := time.Date(2026, 10, 12, 6, 0, 0, 0, time.UTC)

	handle.On("Describe", mock.Anything).Return(&client.ScheduleDescription{
		Schedule: client.Schedule{
			Action: &client.ScheduleWorkflowAction{
				ID:       "weekly-identity",
				Workflow: workflows.IdentityEvaluation,
				Args:     []interface{}{input},
			},
			Spec:   &client.ScheduleSpec{Intervals: []client.ScheduleIntervalSpec{{Every: 7 * 24 * time.Hour}}},
			Policy: &client.SchedulePolicies{Overlap: enumspb.SCHEDULE_OVERLAP_POLICY_BUFFER_ONE},
			State:  &client.ScheduleState{Paused: true, Note: "holiday"},
		},
		Info: client.ScheduleInfo{
			NextActionTimes: []time.Time{next},
			RecentActions: []client.ScheduleActionResult{{
				ScheduleTime: fired,
				ActualTime:   fired.Add(time.Second),
				StartWorkflowResult: &client.ScheduleWorkflowExecution{
					WorkflowID:          "weekly-identity-2026-10-12T06:00:00Z",
					FirstExecutionRunID: "run-9",
				},
			}},
		},
		Memo: tenantMemo(t, testTenant),
	}, nil).Once()

	desc, err := s.Describe(observability.WithTenant(context.Background(), testTenant), "weekly-identity")
	require.NoError(t, err)
	assert.Equal(t, testTenant, desc.Definition.TenantID)
	assert.Equal(t, workflows.IdentityEvaluation, desc.Definition.WorkflowType)
	assert.Equal(t, domain.OverlapBufferOne, desc.Definition.OverlapPolicy)
	assert.True(t, desc.Definition.Paused)
	assert.Equal(t, []time.Duration{7 * 24 * time.Hour}, desc.Definition.Intervals)
	assert.JSONEq(t, identityInput, string(desc.Definition.Input))
	assert.Equal(t, []time.Time{next}, desc.NextFireTimes)
	require.Len(t, desc.RecentRuns, 1)
	assert.Equal(t, "run-9", desc.RecentRuns[0].RunID)
	assert.Equal(t, fired, desc.RecentRuns[0].ScheduledAt)
}

func TestScheduler_List(t *testing.T) {
	s, sc := newTestScheduler(t)
	iter := &scheduleIterator{entries: []*client.ScheduleListEntry{
		{ID: "mine", Memo: tenantMemo(t, testTenant), Paused: true, Spec: &client.ScheduleSpec{CronExpressions: []string{"@daily"}}},
		{ID: "theirs", Memo: tenantMemo(t, "other")},
	}}
	sc.On("List", mock.Anything, mock.Anything).Return(iter, nil).Once()

	defs, err := s.List(observability.WithTenant(context.Background(), testTenant))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "mine", defs[0].ID)
	assert.True(t, defs[0].Paused)
	assert.Equal(t, []string{"@daily"}, defs[0].CronExpressions)
}
