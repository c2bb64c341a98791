package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/unlock/orchestration-service/internal/domain"
)

// TaskRepository persists human-in-the-loop tasks.
type TaskRepository interface {
	// Create inserts a pending task. A task id that already exists returns the
	// stored row, so activity redelivery does not create a duplicate.
	Create(ctx context.Context, task *domain.Task) (*domain.Task, error)

	// Get retrieves a task by id. Returns domain.ErrNotFound if absent.
	Get(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// Transition moves a task to the given status when its current status allows
	// it. Re-applying the status the task already has is a no-op reported with
	// changed=false. Any other disallowed move returns
	// domain.ErrInvalidTransition.
	Transition(ctx context.Context, id uuid.UUID, to domain.TaskStatus, response json.RawMessage) (task *domain.Task, changed bool, err error)

	// List returns tasks of a tenant matching the filter, newest first.
	List(ctx context.Context, filter TaskFilter) ([]*domain.Task, error)
}

// TaskFilter specifies criteria for listing tasks.
type TaskFilter struct {
	// TenantID is required.
	TenantID string
	// WorkflowID narrows to tasks raised by one workflow (optional).
	WorkflowID string
	// Status filters by one or more statuses (optional).
	Status []domain.TaskStatus
	// Limit defaults to 100 and is capped at 1000.
	Limit int
}

var _ TaskRepository = (*PgTaskRepository)(nil)

// PgTaskRepository is a PostgreSQL implementation of TaskRepository.
type PgTaskRepository struct {
	db DBTX
}

// NewPgTaskRepository creates a new PostgreSQL task repository.
func NewPgTaskRepository(db DBTX) *PgTaskRepository {
	return &PgTaskRepository{db: db}
}

const taskColumns = `id, tenant_id, workflow_id, run_id, signal_name, kind, entity_id, status,
	context, response, due_at, created_at, updated_at, resolved_at`

// Create inserts a pending task.
func (r *PgTaskRepository) Create(ctx context.Context, task *domain.Task) (*domain.Task, error) {
	if task == nil {
		return nil, domain.NewValidationError("task", "is required")
	}
	if task.TenantID == "" {
		return nil, domain.NewValidationError("tenantId", "is required")
	}
	if task.WorkflowID == "" || task.SignalName == "" {
		return nil, domain.NewValidationError("workflowId", "workflow id and signal name are required")
	}
	if task.Kind == "" {
		return nil, domain.NewValidationError("kind", "is required")
	}
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}

	taskContext := task.Context
	if len(taskContext) == 0 {
		taskContext = json.RawMessage(`{}`)
	}

	created, err := scanTask(r.db.QueryRow(ctx, `
		INSERT INTO human_tasks (
			id, tenant_id, workflow_id, run_id, signal_name, kind, entity_id, status, context, due_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8, $9)
		ON CONFLICT (id) DO UPDATE SET id = human_tasks.id
		RETURNING `+taskColumns,
		task.ID, task.TenantID, task.WorkflowID, task.RunID, task.SignalName, task.Kind, task.EntityID,
		[]byte(taskContext), task.DueAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return created, nil
}

// Get retrieves a task by id.
func (r *PgTaskRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	task, err := scanTask(r.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM human_tasks WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("task", id.String())
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// Transition applies a conditional status update.
func (r *PgTaskRepository) Transition(ctx context.Context, id uuid.UUID, to domain.TaskStatus, response json.RawMessage) (*domain.Task, bool, error) {
	if !to.Valid() {
		return nil, false, domain.NewValidationError("status", "unknown task status "+string(to))
	}

	sources := statusStrings(domain.SourcesFor(to))
	if len(sources) > 0 {
		var resp []byte
		if len(response) > 0 {
			resp = response
		}
		task, err := scanTask(r.db.QueryRow(ctx, `
			UPDATE human_tasks SET
				status = $2,
				response = COALESCE($3::jsonb, response),
				updated_at = NOW(),
				resolved_at = CASE WHEN $4::boolean THEN NOW() ELSE resolved_at END
			WHERE id = $1 AND status = ANY($5)
			RETURNING `+taskColumns,
			id, string(to), resp, to.IsTerminal(), sources,
		))
		if err == nil {
			return task, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("failed to transition task: %w", err)
		}
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if current.Status == to {
		return current, false, nil
	}
	return nil, false, domain.NewInvalidTransitionError("task", string(current.Status), string(to))
}

// List returns tasks of a tenant matching the filter.
func (r *PgTaskRepository) List(ctx context.Context, filter TaskFilter) ([]*domain.Task, error) {
	if filter.TenantID == "" {
		return nil, domain.NewValidationError("tenantId", "is required")
	}

	conditions := []string{"tenant_id = $1"}
	args := []interface{}{filter.TenantID}
	argIndex := 2

	if filter.WorkflowID != "" {
		conditions = append(conditions, fmt.Sprintf("workflow_id = $%d", argIndex))
		args = append(args, filter.WorkflowID)
		argIndex++
	}

	if len(filter.Status) > 0 {
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", argIndex))
		args = append(args, statusStrings(filter.Status))
		argIndex++
	}

	query := fmt.Sprintf(`SELECT %s FROM human_tasks WHERE %s ORDER BY created_at DESC LIMIT $%d`,
		taskColumns, strings.Join(conditions, " AND "), argIndex)
	args = append(args, clampLimit(filter.Limit))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]*domain.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

// statusStrings converts statuses to the text array bound to ANY($n).
func statusStrings(statuses []domain.TaskStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func scanTask(row pgx.Row) (*domain.Task, error) {
	var (
		t           domain.Task
		taskContext []byte
		response    []byte
	)
	err := row.Scan(
		&t.ID, &t.TenantID, &t.WorkflowID, &t.RunID, &t.SignalName, &t.Kind, &t.EntityID, &t.Status,
		&taskContext, &response, &t.DueAt, &t.CreatedAt, &t.UpdatedAt, &t.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(taskContext) > 0 {
		t.Context = taskContext
	}
	if len(response) > 0 {
		t.Response = response
	}
	return &t, nil
}
