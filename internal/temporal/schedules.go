package temporal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	commonpb "go.temporal.io/api/common/v1"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
	sdktemporal "go.temporal.io/sdk/temporal"

	"github.com/unlock/orchestration-service/internal/domain"
	"github.com/unlock/orchestration-service/internal/observability"
	"github.com/unlock/orchestration-service/internal/temporal/workflows"
)

var validate = validator.New()

// overlapPolicies maps the overlap vocabulary onto the engine's policies.
// skip never degrades to another policy.
var overlapPolicies = map[domain.OverlapPolicy]enumspb.ScheduleOverlapPolicy{
	domain.OverlapSkip:        enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
	domain.OverlapBufferOne:   enumspb.SCHEDULE_OVERLAP_POLICY_BUFFER_ONE,
	domain.OverlapCancelOther: enumspb.SCHEDULE_OVERLAP_POLICY_CANCEL_OTHER,
	domain.OverlapAllowAll:    enumspb.SCHEDULE_OVERLAP_POLICY_ALLOW_ALL,
}

// OverlapPolicy returns the engine policy for p.
func OverlapPolicy(p domain.OverlapPolicy) (enumspb.ScheduleOverlapPolicy, error) {
	policy, ok := overlapPolicies[p]
	if !ok {
		return enumspb.SCHEDULE_OVERLAP_POLICY_UNSPECIFIED,
			domain.NewValidationError("overlapPolicy", fmt.Sprintf("unknown overlap policy %q", p))
	}
	return policy, nil
}

// overlapFromEngine is the inverse of OverlapPolicy.
func overlapFromEngine(p enumspb.ScheduleOverlapPolicy) domain.OverlapPolicy {
	for k, v := range overlapPolicies {
		if v == p {
			return k
		}
	}
	// The engine treats an unspecified policy as skip.
	return domain.OverlapSkip
}

// Scheduler manages recurring workflow starts in the engine's schedule
// service. Each fire starts the target workflow with the schedule id as its
// workflow id; the engine appends the nominal fire time, so every fire gets a
// deterministic id of its own.
type Scheduler struct {
	client  client.ScheduleClient
	engine  *Engine
	logger  zerolog.Logger
	listMax int
}

// NewScheduler creates a Scheduler. The engine supplies input defaults and
// execution timeouts for the scheduled workflow types.
func NewScheduler(c client.ScheduleClient, engine *Engine, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		client:  c,
		engine:  engine,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		listMax: 1000,
	}
}

// Create registers a schedule. Registering an id that already exists
// succeeds without changing it.
func (s *Scheduler) Create(ctx context.Context, def domain.ScheduleDefinition) (string, error) {
	def.ID = domain.NormalizeScheduleID(def.ID)
	if err := validateDefinition(def); err != nil {
		return "", err
	}

	wf, err := workflows.Lookup(def.WorkflowType)
	if err != nil {
		return "", err
	}
	in, err := s.engine.prepareInput(wf.Type, def.TenantID, def.Input)
	if err != nil {
		return "", err
	}
	overlap, err := OverlapPolicy(def.OverlapPolicy)
	if err != nil {
		return "", err
	}

	intervals := make([]client.ScheduleIntervalSpec, 0, len(def.Intervals))
	for _, every := range def.Intervals {
		intervals = append(intervals, client.ScheduleIntervalSpec{Every: every})
	}

	options := client.ScheduleOptions{
		ID: def.ID,
		Spec: client.ScheduleSpec{
			CronExpressions: def.CronExpressions,
			Intervals:       intervals,
			TimeZoneName:    def.TimeZone,
		},
		Action: &client.ScheduleWorkflowAction{
			ID:                       def.ID,
			Workflow:                 wf.Type,
			Args:                     []interface{}{in},
			TaskQueue:                wf.Queue,
			WorkflowExecutionTimeout: s.engine.executionTimeout(wf),
			Memo:                     map[string]interface{}{memoTenant: def.TenantID},
		},
		Overlap: overlap,
		Note:    def.Note,
		Paused:  def.Paused,
		Memo:    map[string]interface{}{memoTenant: def.TenantID},
	}

	if _, err := s.client.Create(ctx, options); err != nil {
		if isScheduleExists(err) {
			s.logger.Info().Str("schedule_id", def.ID).Msg("schedule already registered")
			return def.ID, nil
		}
		return "", wrapTemporalError("CreateSchedule", err, def.ID, "")
	}

	s.logger.Info().
		Str("schedule_id", def.ID).
		Str("workflow_type", wf.Type).
		Str("overlap", string(def.OverlapPolicy)).
		Msg("schedule registered")
	return def.ID, nil
}

func isScheduleExists(err error) bool {
	if errors.Is(err, sdktemporal.ErrScheduleAlreadyRunning) {
		return true
	}
	kind := errorKind(err)
	return kind == domain.ErrAlreadyRunning || kind == domain.ErrAlreadyExists
}

// Pause stops a schedule from firing.
func (s *Scheduler) Pause(ctx context.Context, id, note string) error {
	id = domain.NormalizeScheduleID(id)
	if err := s.checkTenant(ctx, "PauseSchedule", id); err != nil {
		return err
	}
	handle := s.client.GetHandle(ctx, id)
	if err := handle.Pause(ctx, client.SchedulePauseOptions{Note: note}); err != nil {
		return wrapTemporalError("PauseSchedule", err, id, "")
	}
	s.logger.Info().Str("schedule_id", id).Str("note", note).Msg("schedule paused")
	return nil
}

// Resume lets a paused schedule fire again.
func (s *Scheduler) Resume(ctx context.Context, id, note string) error {
	id = domain.NormalizeScheduleID(id)
	if err := s.checkTenant(ctx, "ResumeSchedule", id); err != nil {
		return err
	}
	handle := s.client.GetHandle(ctx, id)
	if err := handle.Unpause(ctx, client.ScheduleUnpauseOptions{Note: note}); err != nil {
		return wrapTemporalError("ResumeSchedule", err, id, "")
	}
	s.logger.Info().Str("schedule_id", id).Str("note", note).Msg("schedule resumed")
	return nil
}

// Delete removes a schedule. Runs it already started keep running.
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	id = domain.NormalizeScheduleID(id)
	if err := s.checkTenant(ctx, "DeleteSchedule", id); err != nil {
		return err
	}
	handle := s.client.GetHandle(ctx, id)
	if err := handle.Delete(ctx); err != nil {
		return wrapTemporalError("DeleteSchedule", err, id, "")
	}
	s.logger.Info().Str("schedule_id", id).Msg("schedule deleted")
	return nil
}

// Describe returns the live state of a schedule.
func (s *Scheduler) Describe(ctx context.Context, id string) (*domain.ScheduleDescription, error) {
	id = domain.NormalizeScheduleID(id)
	desc, err := s.describe(ctx, "DescribeSchedule", id)
	if err != nil {
		return nil, err
	}
	return toScheduleDescription(id, desc), nil
}

func (s *Scheduler) describe(ctx context.Context, op, id string) (*client.ScheduleDescription, error) {
	desc, err := s.client.GetHandle(ctx, id).Describe(ctx)
	if err != nil {
		return nil, wrapTemporalError(op, err, id, "")
	}
	if tenant := observability.TenantFromContext(ctx); tenant != "" && tenant != memoString(desc.Memo, memoTenant) {
		return nil, &TemporalError{Op: op, Kind: domain.ErrNotFound, WorkflowID: id}
	}
	return desc, nil
}

// checkTenant verifies a schedule belongs to the context tenant before it is
// changed. Without a tenant in the context, any schedule may be changed.
func (s *Scheduler) checkTenant(ctx context.Context, op, id string) error {
	if observability.TenantFromContext(ctx) == "" {
		return nil
	}
	_, err := s.describe(ctx, op, id)
	return err
}

// List returns the definitions of every schedule, restricted to the context
// tenant when one is set. Entries carry what the list API reports: specs,
// pause state and workflow type.
func (s *Scheduler) List(ctx context.Context) ([]domain.ScheduleDefinition, error) {
	iter, err := s.client.List(ctx, client.ScheduleListOptions{PageSize: 100})
	if err != nil {
		return nil, wrapTemporalError("ListSchedules", err, "", "")
	}

	tenant := observability.TenantFromContext(ctx)
	defs := make([]domain.ScheduleDefinition, 0)
	for iter.HasNext() && len(defs) < s.listMax {
		entry, err := iter.Next()
		if err != nil {
			return nil, wrapTemporalError("ListSchedules", err, "", "")
		}
		owner := memoString(entry.Memo, memoTenant)
		if tenant != "" && owner != tenant {
			continue
		}
		def := domain.ScheduleDefinition{
			ID:           entry.ID,
			WorkflowType: entry.WorkflowType.Name,
			TenantID:     owner,
			Note:         entry.Note,
			Paused:       entry.Paused,
		}
		applySpec(&def, entry.Spec)
		defs = append(defs, def)
	}
	return defs, nil
}

func toScheduleDescription(id string, desc *client.ScheduleDescription) *domain.ScheduleDescription {
	out := &domain.ScheduleDescription{
		Definition: domain.ScheduleDefinition{
			ID:       id,
			TenantID: memoString(desc.Memo, memoTenant),
		},
		NextFireTimes: append([]time.Time(nil), desc.Info.NextActionTimes...),
		RecentRuns:    make([]domain.ScheduleRun, 0, len(desc.Info.RecentActions)),
		RunningCount:  len(desc.Info.RunningWorkflows),
	}

	schedule := desc.Schedule
	applySpec(&out.Definition, schedule.Spec)
	if schedule.Policy != nil {
		out.Definition.OverlapPolicy = overlapFromEngine(schedule.Policy.Overlap)
	}
	if schedule.State != nil {
		out.Definition.Note = schedule.State.Note
		out.Definition.Paused = schedule.State.Paused
	}
	if action, ok := schedule.Action.(*client.ScheduleWorkflowAction); ok {
		out.Definition.WorkflowType = workflowName(action.Workflow)
		if len(action.Args) > 0 {
			out.Definition.Input = payloadJSON(action.Args[0])
		}
	}

	for _, action := range desc.Info.RecentActions {
		run := domain.ScheduleRun{
			ScheduledAt: action.ScheduleTime,
			StartedAt:   action.ActualTime,
		}
		if action.StartWorkflowResult != nil {
			run.WorkflowID = action.StartWorkflowResult.WorkflowID
			run.RunID = action.StartWorkflowResult.FirstExecutionRunID
		}
		out.RecentRuns = append(out.RecentRuns, run)
	}
	return out
}

func applySpec(def *domain.ScheduleDefinition, spec *client.ScheduleSpec) {
	if spec == nil {
		return
	}
	def.CronExpressions = append([]string(nil), spec.CronExpressions...)
	for _, interval := range spec.Intervals {
		def.Intervals = append(def.Intervals, interval.Every)
	}
	def.TimeZone = spec.TimeZoneName
}

// workflowName reads the workflow type of a described action, which the SDK
// reports as a type name string.
func workflowName(w interface{}) string {
	if name, ok := w.(string); ok {
		return name
	}
	return fmt.Sprintf("%v", w)
}

// payloadJSON decodes a described action argument back to JSON.
func payloadJSON(arg interface{}) json.RawMessage {
	switch v := arg.(type) {
	case *commonpb.Payload:
		var raw json.RawMessage
		if err := converter.GetDefaultDataConverter().FromPayload(v, &raw); err != nil {
			return nil
		}
		return raw
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return data
	}
}

// validateDefinition runs struct tag validation on a schedule definition.
func validateDefinition(def domain.ScheduleDefinition) error {
	err := validate.Struct(def)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return domain.NewValidationError(fe.Field(), "failed "+fe.Tag())
	}
	return domain.NewValidationError("schedule", err.Error())
}
