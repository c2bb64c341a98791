package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unlock/orchestration-service/internal/domain"
)

var taskColumnNames = []string{
	"id", "tenant_id", "workflow_id", "run_id", "signal_name", "kind", "entity_id", "status",
	"context", "response", "due_at", "created_at", "updated_at", "resolved_at",
}

func taskRow(id uuid.UUID, status domain.TaskStatus) *pgxmock.Rows {
	now := time.Now().UTC()
	return pgxmock.NewRows(taskColumnNames).AddRow(
		id, "tenant-1", "content-wf-1", "run-1", domain.SignalTaskResponse, domain.TaskKindContentApproval,
		nil, status, []byte(`{"title":"Launch notes"}`), nil, nil, now, now, nil,
	)
}

func TestPgTaskRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts a pending task", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id := uuid.New()
		mock.ExpectQuery("INSERT INTO human_tasks").
			WithArgs(id, "tenant-1", "content-wf-1", "run-1", domain.SignalTaskResponse,
				domain.TaskKindContentApproval, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnRows(taskRow(id, domain.TaskStatusPending))

		task, err := NewPgTaskRepository(mock).Create(ctx, &domain.Task{
			ID:         id,
			TenantID:   "tenant-1",
			WorkflowID: "content-wf-1",
			RunID:      "run-1",
			SignalName: domain.SignalTaskResponse,
			Kind:       domain.TaskKindContentApproval,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusPending, task.Status)
		assert.JSONEq(t, `{"title":"Launch notes"}`, string(task.Context))
		assert.Nil(t, task.Response)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("requires tenant", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		_, err = NewPgTaskRepository(mock).Create(ctx, &domain.Task{WorkflowID: "wf", SignalName: "s", Kind: "k"})
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}

func TestPgTaskRepository_Transition(t *testing.T) {
	ctx := context.Background()

	t.Run("pending to completed", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id := uuid.New()
		response := json.RawMessage(`{"approved":true}`)
		mock.ExpectQuery("UPDATE human_tasks SET").
			WithArgs(id, "completed", pgxmock.AnyArg(), true, []string{"pending", "in_progress"}).
			WillReturnRows(taskRow(id, domain.TaskStatusCompleted))

		task, changed, err := NewPgTaskRepository(mock).Transition(ctx, id, domain.TaskStatusCompleted, response)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, domain.TaskStatusCompleted, task.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redelivered terminal status is a no-op", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id := uuid.New()
		mock.ExpectQuery("UPDATE human_tasks SET").
			WithArgs(id, "completed", pgxmock.AnyArg(), true, []string{"pending", "in_progress"}).
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery("SELECT .* FROM human_tasks WHERE id = \\$1").
			WithArgs(id).
			WillReturnRows(taskRow(id, domain.TaskStatusCompleted))

		task, changed, err := NewPgTaskRepository(mock).Transition(ctx, id, domain.TaskStatusCompleted, nil)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, domain.TaskStatusCompleted, task.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("terminal task cannot move", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id := uuid.New()
		mock.ExpectQuery("UPDATE human_tasks SET").
			WithArgs(id, "in_progress", pgxmock.AnyArg(), false, []string{"pending"}).
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery("SELECT .* FROM human_tasks WHERE id = \\$1").
			WithArgs(id).
			WillReturnRows(taskRow(id, domain.TaskStatusExpired))

		_, changed, err := NewPgTaskRepository(mock).Transition(ctx, id, domain.TaskStatusInProgress, nil)
		assert.False(t, changed)
		assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing task is not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id := uuid.New()
		mock.ExpectQuery("UPDATE human_tasks SET").WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery("SELECT .* FROM human_tasks WHERE id = \\$1").
			WithArgs(id).
			WillReturnError(pgx.ErrNoRows)

		_, _, err = NewPgTaskRepository(mock).Transition(ctx, id, domain.TaskStatusCancelled, nil)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown status", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		_, _, err = NewPgTaskRepository(mock).Transition(ctx, uuid.New(), "snoozed", nil)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}

func TestPgTaskRepository_List(t *testing.T) {
	ctx := context.Background()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("SELECT .* FROM human_tasks WHERE tenant_id = \\$1 AND workflow_id = \\$2 AND status = ANY\\(\\$3\\) ORDER BY created_at DESC LIMIT \\$4").
		WithArgs("tenant-1", "content-wf-1", []string{"pending"}, 100).
		WillReturnRows(taskRow(id, domain.TaskStatusPending))

	tasks, err := NewPgTaskRepository(mock).List(ctx, TaskFilter{
		TenantID:   "tenant-1",
		WorkflowID: "content-wf-1",
		Status:     []domain.TaskStatus{domain.TaskStatusPending},
	})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, id, tasks[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
