package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/unlock/orchestration-service/internal/domain"
)

// RunAuditRepository records one summary row per workflow run.
type RunAuditRepository interface {
	// Open records a running row. Opening an existing run is a no-op.
	Open(ctx context.Context, audit *domain.RunAudit) error

	// Close records the terminal status of a run. Only a row that is still
	// running is updated, so a retried close keeps the first outcome.
	Close(ctx context.Context, workflowID, runID string, status domain.RunStatus, errorMessage string, summary json.RawMessage) error

	// Get retrieves the audit row of a run.
	Get(ctx context.Context, workflowID, runID string) (*domain.RunAudit, error)
}

var _ RunAuditRepository = (*PgRunAuditRepository)(nil)

// PgRunAuditRepository is a PostgreSQL implementation of RunAuditRepository.
type PgRunAuditRepository struct {
	db DBTX
}

// NewPgRunAuditRepository creates a new PostgreSQL run audit repository.
func NewPgRunAuditRepository(db DBTX) *PgRunAuditRepository {
	return &PgRunAuditRepository{db: db}
}

// Open records a running row.
func (r *PgRunAuditRepository) Open(ctx context.Context, audit *domain.RunAudit) error {
	if audit == nil || audit.WorkflowID == "" || audit.RunID == "" {
		return domain.NewValidationError("workflowId", "workflow id and run id are required")
	}
	startedAt := audit.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO workflow_run_audits (workflow_id, run_id, workflow_type, tenant_id, status, started_at)
		VALUES ($1, $2, $3, $4, 'running', $5)
		ON CONFLICT (workflow_id, run_id) DO NOTHING`,
		audit.WorkflowID, audit.RunID, audit.WorkflowType, audit.TenantID, startedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to open run audit: %w", err)
	}
	return nil
}

// Close records the terminal status of a run.
func (r *PgRunAuditRepository) Close(ctx context.Context, workflowID, runID string, status domain.RunStatus, errorMessage string, summary json.RawMessage) error {
	if !status.IsTerminal() {
		return domain.NewValidationError("status", "close requires a terminal status, got "+string(status))
	}
	if len(summary) == 0 {
		summary = json.RawMessage(`{}`)
	}

	_, err := r.db.Exec(ctx, `
		UPDATE workflow_run_audits SET
			status = $3,
			completed_at = NOW(),
			duration_ms = (EXTRACT(EPOCH FROM (NOW() - started_at)) * 1000)::BIGINT,
			error_message = $4,
			summary = $5
		WHERE workflow_id = $1 AND run_id = $2 AND status = 'running'`,
		workflowID, runID, string(status), nullString(errorMessage), []byte(summary),
	)
	if err != nil {
		return fmt.Errorf("failed to close run audit: %w", err)
	}
	return nil
}

// Get retrieves the audit row of a run.
func (r *PgRunAuditRepository) Get(ctx context.Context, workflowID, runID string) (*domain.RunAudit, error) {
	var (
		a            domain.RunAudit
		errorMessage *string
		summary      []byte
	)
	err := r.db.QueryRow(ctx, `
		SELECT workflow_id, run_id, workflow_type, tenant_id, status, started_at,
			completed_at, duration_ms, error_message, summary
		FROM workflow_run_audits
		WHERE workflow_id = $1 AND run_id = $2`,
		workflowID, runID,
	).Scan(
		&a.WorkflowID, &a.RunID, &a.WorkflowType, &a.TenantID, &a.Status, &a.StartedAt,
		&a.CompletedAt, &a.DurationMs, &errorMessage, &summary,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("run audit", workflowID+"/"+runID)
		}
		return nil, fmt.Errorf("failed to get run audit: %w", err)
	}
	a.ErrorMessage = derefString(errorMessage)
	a.Summary = summary
	return &a, nil
}
