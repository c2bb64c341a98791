package domain

import (
	"encoding/json"
	"time"
)

// RunStatus is the engine-level status of a workflow run.
// These values must match the workflow_run_audits.status check constraint.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusTimedOut  RunStatus = "timed_out"
)

// IsTerminal returns true if the status represents a final state that will not change.
func (s RunStatus) IsTerminal() bool {
	return s != RunStatusRunning && s != ""
}

// RunAudit is the durable summary row written for each workflow run.
type RunAudit struct {
	WorkflowID   string          `json:"workflowId"`
	RunID        string          `json:"runId"`
	WorkflowType string          `json:"workflowType"`
	TenantID     string          `json:"tenantId"`
	Status       RunStatus       `json:"status"`
	StartedAt    time.Time       `json:"startedAt"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	DurationMs   *int64          `json:"durationMs,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Summary      json.RawMessage `json:"summary,omitempty"`
}
