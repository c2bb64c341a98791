package temporal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	commonpb "go.temporal.io/api/common/v1"
	enumspb "go.temporal.io/api/enums/v1"
	historypb "go.temporal.io/api/history/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/unlock/orchestration-service/internal/domain"
	"github.com/unlock/orchestration-service/internal/observability"
	"github.com/unlock/orchestration-service/internal/outbox"
	"github.com/unlock/orchestration-service/internal/temporal/workflows"
)

// memoTenant is the memo key carrying the tenant of a run.
const memoTenant = "tenantId"

// EngineConfig tunes how the Engine starts runs.
type EngineConfig struct {
	// ExecutionTimeouts overrides the catalog execution timeout per workflow type.
	ExecutionTimeouts map[string]time.Duration

	// InputDefaults are input fields applied per workflow type when the caller
	// leaves them out, keyed by their JSON name.
	InputDefaults map[string]map[string]interface{}

	// HealthCheckTimeout is the timeout for health check operations.
	// Defaults to 5 seconds if not set.
	HealthCheckTimeout time.Duration
}

// WorkflowSettings are the deployment-wide workflow tunables from configuration.
// Zero values keep the catalog defaults.
type WorkflowSettings struct {
	ContentTimeout     time.Duration
	IdentityTimeout    time.Duration
	PerformanceTimeout time.Duration
	VoiceThreshold     float64
	MaxRevisions       int
	ApprovalDue        time.Duration
}

// EngineConfig translates the settings into per-type timeouts and input defaults.
func (s WorkflowSettings) EngineConfig() EngineConfig {
	cfg := EngineConfig{
		ExecutionTimeouts: map[string]time.Duration{},
		InputDefaults:     map[string]map[string]interface{}{},
	}
	for wf, d := range map[string]time.Duration{
		workflows.ContentProduction:     s.ContentTimeout,
		workflows.IdentityEvaluation:    s.IdentityTimeout,
		workflows.PerformanceAssessment: s.PerformanceTimeout,
	} {
		if d > 0 {
			cfg.ExecutionTimeouts[wf] = d
		}
	}

	content := map[string]interface{}{}
	if s.VoiceThreshold > 0 {
		content["voiceThreshold"] = s.VoiceThreshold
	}
	if s.MaxRevisions > 0 {
		content["maxRevisions"] = s.MaxRevisions
	}
	if s.ApprovalDue > 0 {
		content["approvalTimeoutSeconds"] = int(s.ApprovalDue / time.Second)
	}
	if len(content) > 0 {
		cfg.InputDefaults[workflows.ContentProduction] = content
	}
	return cfg
}

// StartRequest starts one workflow run.
type StartRequest struct {
	WorkflowType string
	// WorkflowID identifies the run; a fresh id is generated when empty.
	WorkflowID string
	TenantID   string
	Input      json.RawMessage
}

// StartResult identifies a started run.
type StartResult struct {
	WorkflowID string `json:"workflowId"`
	RunID      string `json:"runId"`
}

// RunView is the answer to Query: the engine status of the latest run plus the
// workflow-visible snapshot when a worker could answer the query.
type RunView struct {
	WorkflowID   string              `json:"workflowId"`
	RunID        string              `json:"runId"`
	WorkflowType string              `json:"workflowType"`
	TenantID     string              `json:"tenantId,omitempty"`
	Status       domain.RunStatus    `json:"status"`
	StartedAt    time.Time           `json:"startedAt"`
	ClosedAt     *time.Time          `json:"closedAt,omitempty"`
	Snapshot     *workflows.Snapshot `json:"snapshot,omitempty"`
}

// Engine starts, signals, queries and cancels workflow runs. Every call is
// scoped to the tenant carried by the context (observability.WithTenant)
// when one is set: runs of other tenants are reported as not found.
type Engine struct {
	mu                 sync.RWMutex
	client             client.Client
	events             *outbox.Publisher
	metrics            *observability.Metrics
	logger             zerolog.Logger
	config             EngineConfig
	healthCheckTimeout time.Duration
	closed             bool
}

// NewEngine creates an Engine. events and metrics may be nil.
func NewEngine(c client.Client, cfg EngineConfig, events *outbox.Publisher, metrics *observability.Metrics, logger zerolog.Logger) *Engine {
	healthTimeout := cfg.HealthCheckTimeout
	if healthTimeout == 0 {
		healthTimeout = DefaultHealthCheckTimeout
	}

	return &Engine{
		client:             c,
		events:             events,
		metrics:            metrics,
		logger:             logger.With().Str("component", "engine").Logger(),
		config:             cfg,
		healthCheckTimeout: healthTimeout,
	}
}

// Close closes the underlying Temporal client connection.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil && !e.closed {
		e.client.Close()
		e.closed = true
	}
}

// isClosed returns whether the engine has been closed. It is safe for concurrent use.
func (e *Engine) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// Client returns the underlying Temporal client for workers and schedules.
func (e *Engine) Client() client.Client {
	return e.client
}

// Health checks the connection health to the Temporal server.
func (e *Engine) Health(ctx context.Context) error {
	if e.isClosed() {
		return &TemporalError{Op: "Health", Kind: ErrClientClosed}
	}

	checkCtx, cancel := context.WithTimeout(ctx, e.healthCheckTimeout)
	defer cancel()

	if _, err := e.client.CheckHealth(checkCtx, &client.CheckHealthRequest{}); err != nil {
		return wrapTemporalError("Health", err, "", "")
	}
	return nil
}

// executionTimeout returns the configured or catalog execution timeout.
func (e *Engine) executionTimeout(def workflows.Definition) time.Duration {
	if d, ok := e.config.ExecutionTimeouts[def.Type]; ok && d > 0 {
		return d
	}
	return def.ExecutionTimeout
}

// prepareInput binds the tenant and the configured defaults into the raw input
// of a workflow type and validates it.
func (e *Engine) prepareInput(workflowType, tenantID string, raw json.RawMessage) (workflows.Input, error) {
	bound, err := bindInput(raw, tenantID, e.config.InputDefaults[workflowType])
	if err != nil {
		return nil, err
	}
	return workflows.DecodeInput(workflowType, bound)
}

// Start validates the input and starts a run. A run already open under the
// same workflow id is rejected with domain.ErrAlreadyRunning; a closed one is
// replaced by a new run.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	if e.isClosed() {
		return nil, &TemporalError{Op: "Start", Kind: ErrClientClosed, WorkflowID: req.WorkflowID}
	}

	def, err := workflows.Lookup(req.WorkflowType)
	if err != nil {
		return nil, err
	}
	if req.TenantID == "" {
		return nil, domain.NewValidationError("tenantId", "tenant is required")
	}
	in, err := e.prepareInput(def.Type, req.TenantID, req.Input)
	if err != nil {
		return nil, err
	}

	workflowID := req.WorkflowID
	if workflowID == "" {
		workflowID = fmt.Sprintf("%s-%s", strings.TrimSuffix(def.Type, "Workflow"), uuid.NewString())
	}

	options := client.StartWorkflowOptions{
		ID:                                       workflowID,
		TaskQueue:                                def.Queue,
		WorkflowExecutionTimeout:                 e.executionTimeout(def),
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowIDConflictPolicy:                 enumspb.WORKFLOW_ID_CONFLICT_POLICY_FAIL,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
		Memo:                                     map[string]interface{}{memoTenant: req.TenantID},
	}

	run, err := e.client.ExecuteWorkflow(ctx, options, def.Type, in)
	if err != nil {
		err = wrapTemporalError("Start", err, workflowID, "")
		if errors.Is(err, domain.ErrAlreadyRunning) && e.metrics != nil {
			e.metrics.RecordWorkflowStartConflict(def.Type)
		}
		return nil, err
	}

	result := &StartResult{WorkflowID: workflowID, RunID: run.GetRunID()}
	if e.metrics != nil {
		e.metrics.RecordWorkflowStarted(def.Type)
	}
	e.publishStarted(ctx, def.Type, req.TenantID, result)

	logger := observability.WithWorkflowContext(observability.LoggerFromContext(ctx, e.logger), result.WorkflowID, result.RunID)
	logger.Info().
		Str("workflow_type", def.Type).
		Msg("workflow started")

	return result, nil
}

// publishStarted writes workflow.started to the outbox. The run is already
// started, so a failure is logged rather than returned.
func (e *Engine) publishStarted(ctx context.Context, workflowType, tenantID string, run *StartResult) {
	if e.events == nil {
		return
	}
	err := e.events.Publish(ctx, nil, outbox.EmitParams{
		AggregateID:   run.WorkflowID,
		AggregateType: domain.AggregateWorkflow,
		TenantID:      tenantID,
		EventType:     domain.EventTypeWorkflowStarted,
		Data: domain.WorkflowEventData{
			WorkflowType: workflowType,
			WorkflowID:   run.WorkflowID,
			RunID:        run.RunID,
			Status:       domain.RunStatusRunning,
		},
		CorrelationID: observability.CorrelationIDFromContext(ctx),
		RequestID:     observability.RequestIDFromContext(ctx),
		RunID:         run.RunID,
	})
	if err != nil {
		logger := observability.LoggerFromContext(ctx, e.logger)
		logger.Warn().Err(err).
			Str("workflow_id", run.WorkflowID).
			Msg("publish workflow.started")
	}
}

// execution is the described latest run of a workflow id.
type execution struct {
	workflowType string
	runID        string
	tenantID     string
	status       domain.RunStatus
	startedAt    time.Time
	closedAt     *time.Time
}

// describe loads the latest run of workflowID and enforces tenant scoping.
func (e *Engine) describe(ctx context.Context, op, workflowID string) (*execution, error) {
	if e.isClosed() {
		return nil, &TemporalError{Op: op, Kind: ErrClientClosed, WorkflowID: workflowID}
	}

	resp, err := e.client.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		return nil, wrapTemporalError(op, err, workflowID, "")
	}
	info := resp.GetWorkflowExecutionInfo()
	if info == nil {
		return nil, &TemporalError{Op: op, Kind: domain.ErrNotFound, WorkflowID: workflowID}
	}

	exec := &execution{
		workflowType: info.GetType().GetName(),
		runID:        info.GetExecution().GetRunId(),
		tenantID:     memoString(info.GetMemo(), memoTenant),
		status:       runStatus(info.GetStatus()),
		startedAt:    info.GetStartTime().AsTime(),
	}
	if info.GetCloseTime() != nil {
		closed := info.GetCloseTime().AsTime()
		exec.closedAt = &closed
	}

	if tenant := observability.TenantFromContext(ctx); tenant != "" && tenant != exec.tenantID {
		return nil, &TemporalError{Op: op, Kind: domain.ErrNotFound, WorkflowID: workflowID}
	}
	return exec, nil
}

// Signal delivers a signal to the open run of workflowID. The signal name must
// be one the workflow type declares. Signals to closed or unknown runs fail
// with domain.ErrNotFound.
func (e *Engine) Signal(ctx context.Context, workflowID, signalName string, payload interface{}) error {
	exec, err := e.describe(ctx, "Signal", workflowID)
	if err != nil {
		return err
	}

	def, err := workflows.Lookup(exec.workflowType)
	if err != nil {
		return &TemporalError{Op: "Signal", Kind: domain.ErrNotFound, WorkflowID: workflowID, Err: err}
	}
	if !def.AcceptsSignal(signalName) {
		return domain.NewValidationError("signalName",
			fmt.Sprintf("%s does not accept signal %q", def.Type, signalName))
	}
	if exec.status.IsTerminal() {
		return &TemporalError{
			Op:         "Signal",
			Kind:       domain.ErrNotFound,
			WorkflowID: workflowID,
			RunID:      exec.runID,
			Err:        fmt.Errorf("run is %s", exec.status),
		}
	}

	if err := e.client.SignalWorkflow(ctx, workflowID, exec.runID, signalName, payload); err != nil {
		return wrapTemporalError("Signal", err, workflowID, exec.runID)
	}
	if e.metrics != nil {
		e.metrics.RecordSignalDelivered(signalName)
	}
	return nil
}

// Query returns the status of the latest run of workflowID with its run.status
// snapshot. An open run must answer the query; a closed run falls back to the
// engine status alone when no worker can replay it.
func (e *Engine) Query(ctx context.Context, workflowID string) (*RunView, error) {
	exec, err := e.describe(ctx, "Query", workflowID)
	if err != nil {
		return nil, err
	}

	view := &RunView{
		WorkflowID:   workflowID,
		RunID:        exec.runID,
		WorkflowType: exec.workflowType,
		TenantID:     exec.tenantID,
		Status:       exec.status,
		StartedAt:    exec.startedAt,
		ClosedAt:     exec.closedAt,
	}

	snap, err := e.snapshot(ctx, workflowID, exec.runID)
	if err != nil {
		if !exec.status.IsTerminal() {
			return nil, err
		}
		logger := observability.LoggerFromContext(ctx, e.logger)
		logger.Debug().Err(err).
			Str("workflow_id", workflowID).
			Msg("closed run did not answer status query")
		return view, nil
	}
	view.Snapshot = snap
	// A run that ends itself on a deadline or approval expiry fails at the
	// engine, while its snapshot records the timeout.
	if exec.status.IsTerminal() && snap.State.IsTerminal() {
		view.Status = snap.State.RunStatus()
	}
	return view, nil
}

func (e *Engine) snapshot(ctx context.Context, workflowID, runID string) (*workflows.Snapshot, error) {
	value, err := e.client.QueryWorkflow(ctx, workflowID, runID, workflows.QueryRunStatus)
	if err != nil {
		return nil, wrapTemporalError("Query", err, workflowID, runID)
	}
	var snap workflows.Snapshot
	if err := value.Get(&snap); err != nil {
		return nil, &TemporalError{
			Op:         "Query",
			Kind:       ErrQueryFailed,
			WorkflowID: workflowID,
			RunID:      runID,
			Err:        fmt.Errorf("decode query result: %w", err),
		}
	}
	return &snap, nil
}

// Cancel requests cooperative cancellation of the open run of workflowID.
func (e *Engine) Cancel(ctx context.Context, workflowID string) error {
	exec, err := e.describe(ctx, "Cancel", workflowID)
	if err != nil {
		return err
	}
	if exec.status.IsTerminal() {
		return &TemporalError{
			Op:         "Cancel",
			Kind:       domain.ErrNotFound,
			WorkflowID: workflowID,
			RunID:      exec.runID,
			Err:        fmt.Errorf("run is %s", exec.status),
		}
	}

	if err := e.client.CancelWorkflow(ctx, workflowID, exec.runID); err != nil {
		return wrapTemporalError("Cancel", err, workflowID, exec.runID)
	}
	logger := observability.WithWorkflowContext(observability.LoggerFromContext(ctx, e.logger), workflowID, exec.runID)
	logger.Info().Msg("workflow cancellation requested")
	return nil
}

// History exports the event history of the latest run of workflowID as
// protojson, the format the replay tests load.
func (e *Engine) History(ctx context.Context, workflowID string) ([]byte, error) {
	exec, err := e.describe(ctx, "History", workflowID)
	if err != nil {
		return nil, err
	}

	iter := e.client.GetWorkflowHistory(ctx, workflowID, exec.runID, false, enumspb.HISTORY_EVENT_FILTER_TYPE_ALL_EVENT)
	history := &historypb.History{}
	for iter.HasNext() {
		event, err := iter.Next()
		if err != nil {
			return nil, wrapTemporalError("History", err, workflowID, exec.runID)
		}
		history.Events = append(history.Events, event)
	}

	data, err := protojson.MarshalOptions{Indent: "  "}.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}
	return data, nil
}

// bindInput sets tenantId and any missing default fields on a raw JSON input
// object. An input naming a different tenant is rejected.
func bindInput(raw json.RawMessage, tenantID string, defaults map[string]interface{}) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, domain.NewValidationError("input", "input must be a JSON object")
		}
	}

	if existing, ok := fields[memoTenant]; ok {
		var tenant string
		if err := json.Unmarshal(existing, &tenant); err != nil || tenant != tenantID {
			return nil, domain.NewValidationError("input.tenantId", "does not match the request tenant")
		}
	}
	tenant, err := json.Marshal(tenantID)
	if err != nil {
		return nil, fmt.Errorf("encode tenant: %w", err)
	}
	fields[memoTenant] = tenant

	for _, key := range workflows.SortedMapKeys(defaults) {
		if _, ok := fields[key]; ok {
			continue
		}
		value, err := json.Marshal(defaults[key])
		if err != nil {
			return nil, fmt.Errorf("encode default %s: %w", key, err)
		}
		fields[key] = value
	}

	return json.Marshal(fields)
}

// memoString decodes a string memo field, or returns "".
func memoString(memo *commonpb.Memo, key string) string {
	payload, ok := memo.GetFields()[key]
	if !ok {
		return ""
	}
	var s string
	if err := converter.GetDefaultDataConverter().FromPayload(payload, &s); err != nil {
		return ""
	}
	return s
}

// runStatus maps the engine execution status to the run status vocabulary.
func runStatus(s enumspb.WorkflowExecutionStatus) domain.RunStatus {
	switch s {
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return domain.RunStatusCompleted
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED, enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED:
		return domain.RunStatusFailed
	case enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		return domain.RunStatusCancelled
	case enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		return domain.RunStatusTimedOut
	default:
		return domain.RunStatusRunning
	}
}
