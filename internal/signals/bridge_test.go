package signals

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/unlock/orchestration-service/internal/domain"
	"github.com/unlock/orchestration-service/internal/observability"
	"github.com/unlock/orchestration-service/internal/repository/memstore"
)

type mockSignaler struct {
	mock.Mock
}

func (m *mockSignaler) Signal(ctx context.Context, workflowID, signalName string, payload interface{}) error {
	args := m.Called(ctx, workflowID, signalName, payload)
	return args.Error(0)
}

func newTask(t *testing.T, store *memstore.Store) *domain.Task {
	t.Helper()
	task, err := store.Create(context.Background(), &domain.Task{
		TenantID:   "tenant-1",
		WorkflowID: "content-wf-1",
		RunID:      "run-1",
		SignalName: domain.SignalTaskResponse,
		Kind:       domain.TaskKindContentApproval,
	})
	require.NoError(t, err)
	return task
}

func TestBridge_RespondToTask(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers the response to the waiting workflow", func(t *testing.T) {
		store := memstore.New()
		task := newTask(t, store)
		signaler := new(mockSignaler)
		bridge := NewBridge(store, signaler, nil, zerolog.Nop())

		resp := domain.TaskResponse{TaskID: task.ID, Approved: true, Reviewer: "ana"}
		signaler.On("Signal", ctx, "content-wf-1", domain.SignalTaskResponse, resp).Return(nil)

		got, err := bridge.RespondToTask(ctx, "tenant-1", resp)
		require.NoError(t, err)
		assert.Equal(t, task.ID, got.ID)
		signaler.AssertExpectations(t)
	})

	t.Run("task of another tenant is not found", func(t *testing.T) {
		store := memstore.New()
		task := newTask(t, store)
		signaler := new(mockSignaler)
		bridge := NewBridge(store, signaler, nil, zerolog.Nop())

		_, err := bridge.RespondToTask(ctx, "tenant-2", domain.TaskResponse{TaskID: task.ID})
		assert.True(t, errors.Is(err, domain.ErrNotFound))
		signaler.AssertNotCalled(t, "Signal", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("resolved task rejects responses", func(t *testing.T) {
		store := memstore.New()
		task := newTask(t, store)
		_, _, err := store.Transition(ctx, task.ID, domain.TaskStatusExpired, nil)
		require.NoError(t, err)
		bridge := NewBridge(store, new(mockSignaler), nil, zerolog.Nop())

		_, err = bridge.RespondToTask(ctx, "tenant-1", domain.TaskResponse{TaskID: task.ID})
		assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
	})

	t.Run("signal failure is returned", func(t *testing.T) {
		store := memstore.New()
		task := newTask(t, store)
		signaler := new(mockSignaler)
		signaler.On("Signal", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(domain.NewTransientError("temporal", errors.New("unavailable")))
		bridge := NewBridge(store, signaler, nil, zerolog.Nop())

		_, err := bridge.RespondToTask(ctx, "tenant-1", domain.TaskResponse{TaskID: task.ID})
		assert.True(t, errors.Is(err, domain.ErrTransient))
	})
}

func TestBridge_ClaimTask(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	task := newTask(t, store)
	signaler := new(mockSignaler)
	bridge := NewBridge(store, signaler, nil, zerolog.Nop())

	claim := domain.TaskClaim{TaskID: task.ID, Assignee: "ana"}
	signaler.On("Signal", ctx, "content-wf-1", domain.SignalTaskClaim, claim).Return(nil)

	_, err := bridge.ClaimTask(ctx, "tenant-1", claim)
	require.NoError(t, err)

	_, _, err = store.Transition(ctx, task.ID, domain.TaskStatusInProgress, nil)
	require.NoError(t, err)
	_, err = bridge.ClaimTask(ctx, "tenant-1", claim)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	_, err = bridge.ClaimTask(ctx, "tenant-1", domain.TaskClaim{TaskID: task.ID})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput), "assignee is required")
	signaler.AssertNumberOfCalls(t, "Signal", 1)
}

func TestBridge_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("webhook forwards the payload", func(t *testing.T) {
		signaler := new(mockSignaler)
		bridge := NewBridge(memstore.New(), signaler, nil, zerolog.Nop())
		payload := json.RawMessage(`{"source":"crm"}`)
		signaler.On("Signal", mock.Anything, "identity-wf-1", "external.update", payload).Return(nil)

		err := bridge.Handle(ctx, Message{
			Kind:       KindWebhook,
			TenantID:   "tenant-1",
			WorkflowID: "identity-wf-1",
			SignalName: "external.update",
			Payload:    payload,
		})
		require.NoError(t, err)
		signaler.AssertExpectations(t)
	})

	t.Run("task response message", func(t *testing.T) {
		store := memstore.New()
		task := newTask(t, store)
		signaler := new(mockSignaler)
		signaler.On("Signal", mock.Anything, "content-wf-1", domain.SignalTaskResponse, mock.MatchedBy(func(r domain.TaskResponse) bool {
			return r.TaskID == task.ID && !r.Approved && r.Comments == "tone is off"
		})).Return(nil)
		bridge := NewBridge(store, signaler, nil, zerolog.Nop())

		err := bridge.Handle(ctx, Message{
			Kind:     KindTaskResponse,
			TenantID: "tenant-1",
			TaskID:   task.ID,
			Payload:  json.RawMessage(`{"approved":false,"comments":"tone is off"}`),
		})
		require.NoError(t, err)
		signaler.AssertExpectations(t)
	})

	tests := []struct {
		name string
		msg  Message
	}{
		{name: "unknown kind", msg: Message{Kind: "ping", TenantID: "tenant-1"}},
		{name: "missing tenant", msg: Message{Kind: KindWebhook, WorkflowID: "wf", SignalName: "s"}},
		{name: "webhook without workflow", msg: Message{Kind: KindWebhook, TenantID: "t", SignalName: "s"}},
		{name: "response without task", msg: Message{Kind: KindTaskResponse, TenantID: "t"}},
		{name: "malformed payload", msg: Message{Kind: KindTaskClaim, TenantID: "t", TaskID: uuid.New(), Payload: json.RawMessage(`[`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridge := NewBridge(memstore.New(), new(mockSignaler), nil, zerolog.Nop())
			err := bridge.Handle(ctx, tt.msg)
			assert.True(t, errors.Is(err, domain.ErrInvalidInput), "got %v", err)
		})
	}
}

type tenantSpySignaler struct {
	tenants []string
}

func (s *tenantSpySignaler) Signal(ctx context.Context, _, _ string, _ interface{}) error {
	s.tenants = append(s.tenants, observability.TenantFromContext(ctx))
	return nil
}

func TestBridge_HandleCarriesTenantOnContext(t *testing.T) {
	store := memstore.New()
	task := newTask(t, store)
	spy := &tenantSpySignaler{}
	var logs bytes.Buffer
	bridge := NewBridge(store, spy, nil, zerolog.New(&logs))
	ctx := context.Background()

	require.NoError(t, bridge.Handle(ctx, Message{
		Kind:           KindWebhook,
		TenantID:       "tenant-1",
		WorkflowID:     "identity-wf-1",
		SignalName:     "external.update",
		IdempotencyKey: "hook-7",
	}))
	require.NoError(t, bridge.Handle(ctx, Message{
		Kind:     KindTaskResponse,
		TenantID: "tenant-1",
		TaskID:   task.ID,
		Payload:  json.RawMessage(`{"approved":true}`),
	}))

	assert.Equal(t, []string{"tenant-1", "tenant-1"}, spy.tenants)
	assert.Empty(t, observability.TenantFromContext(ctx))
	assert.Contains(t, logs.String(), `"tenant_id":"tenant-1"`)
	assert.Contains(t, logs.String(), `"request_id":"hook-7"`)
}
