// Package workflows defines the orchestrator's Temporal workflows: content
// production, identity evaluation and performance assessment.
//
// Workflows sequence activities purely by catalog name and pass entity
// references between steps. Every workflow keeps a workflow-visible run log
// answered by the run.status query, writes a run audit row and emits
// lifecycle events through the outbox.
package workflows

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.temporal.io/sdk/workflow"

	"github.com/unlock/orchestration-service/internal/domain"
	"github.com/unlock/orchestration-service/internal/temporal/activities"
)

// Workflow type names.
const (
	ContentProduction     = "ContentProductionWorkflow"
	IdentityEvaluation    = "IdentityEvaluationWorkflow"
	PerformanceAssessment = "PerformanceAssessmentWorkflow"
)

// Signal and query names.
const (
	SignalTaskResponse = domain.SignalTaskResponse
	SignalTaskClaim    = domain.SignalTaskClaim
	QueryRunStatus     = "run.status"
)

// Input is a workflow input that can be validated before a run starts.
type Input interface {
	Tenant() string
	Validate() error
}

// Definition is one workflow catalog entry.
type Definition struct {
	Type  string
	Queue string
	// Compensates reports whether cancellation runs a compensation path and
	// ends the run as cancelled. Without one, a cancelled run fails.
	Compensates      bool
	ExecutionTimeout time.Duration
	// Signals is the closed set of signal names the workflow accepts.
	Signals  []string
	newInput func() Input
}

// AcceptsSignal reports whether name is one of the declared signals.
func (d Definition) AcceptsSignal(name string) bool {
	for _, s := range d.Signals {
		if s == name {
			return true
		}
	}
	return false
}

var catalog = map[string]Definition{
	ContentProduction: {
		Type:             ContentProduction,
		Queue:            activities.QueueOrchestrator,
		Compensates:      true,
		ExecutionTimeout: 72 * time.Hour,
		Signals:          []string{SignalTaskResponse, SignalTaskClaim},
		newInput:         func() Input { return &ContentProductionInput{} },
	},
	IdentityEvaluation: {
		Type:             IdentityEvaluation,
		Queue:            activities.QueueOrchestrator,
		ExecutionTimeout: time.Hour,
		newInput:         func() Input { return &IdentityEvaluationInput{} },
	},
	PerformanceAssessment: {
		Type:             PerformanceAssessment,
		Queue:            activities.QueueOrchestrator,
		ExecutionTimeout: 2 * time.Hour,
		newInput:         func() Input { return &PerformanceAssessmentInput{} },
	},
}

// Lookup returns the catalog entry of a workflow type.
func Lookup(workflowType string) (Definition, error) {
	d, ok := catalog[workflowType]
	if !ok {
		return Definition{}, domain.NewValidationError("workflowType", fmt.Sprintf("unknown workflow type %q", workflowType))
	}
	return d, nil
}

// Types lists every workflow type, sorted.
func Types() []string {
	types := make([]string, 0, len(catalog))
	for t := range catalog {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// DecodeInput parses and validates the raw input of a workflow type.
func DecodeInput(workflowType string, raw json.RawMessage) (Input, error) {
	d, err := Lookup(workflowType)
	if err != nil {
		return nil, err
	}
	in := d.newInput()
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, in); err != nil {
		return nil, domain.NewValidationError("input", err.Error())
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return in, nil
}

// Registrar is the part of a Temporal worker that registers workflows.
type Registrar interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
}

// Register registers every workflow under its catalog type name.
func Register(r Registrar) {
	r.RegisterWorkflowWithOptions(ContentProductionWorkflow, workflow.RegisterOptions{Name: ContentProduction})
	r.RegisterWorkflowWithOptions(IdentityEvaluationWorkflow, workflow.RegisterOptions{Name: IdentityEvaluation})
	r.RegisterWorkflowWithOptions(PerformanceAssessmentWorkflow, workflow.RegisterOptions{Name: PerformanceAssessment})
}

var validate = validator.New()

// validateStruct runs struct tag validation and reports the first failure
// as a domain validation error.
func validateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		msg := "failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		return domain.NewValidationError(lowerFirst(fe.Field()), msg)
	}
	return domain.NewValidationError("input", err.Error())
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// Content production defaults.
const (
	defaultMaxRevisions      = 3
	defaultMaxApprovalRounds = 3
	defaultApprovalTimeout   = 48 * time.Hour
)

// ContentProductionInput starts a content production run.
type ContentProductionInput struct {
	TenantID string `json:"tenantId" validate:"required,max=64"`
	// EntityGroupID is the content group to stage into; generated when unset.
	EntityGroupID uuid.UUID `json:"entityGroupId,omitempty"`
	// ProfileGroupID is the identity profile to write in the voice of.
	ProfileGroupID uuid.UUID `json:"profileGroupId,omitempty"`
	Title          string    `json:"title,omitempty" validate:"max=300"`
	Brief          string    `json:"brief" validate:"required,max=10000"`
	Channel        string    `json:"channel" validate:"required,max=64"`
	// VoiceThreshold is the minimum voice alignment score (0 = engine default).
	VoiceThreshold float64 `json:"voiceThreshold,omitempty" validate:"gte=0,lte=1"`
	// MaxRevisions bounds the automatic evaluate/revise loop per approval round.
	MaxRevisions      int  `json:"maxRevisions,omitempty" validate:"gte=0,lte=10"`
	RequireApproval   bool `json:"requireApproval"`
	MaxApprovalRounds int  `json:"maxApprovalRounds,omitempty" validate:"gte=0,lte=10"`
	// ApprovalTimeoutSeconds is how long a reviewer has before the task expires.
	ApprovalTimeoutSeconds int `json:"approvalTimeoutSeconds,omitempty" validate:"gte=0"`
	// Handoff, when set, starts a performance assessment child once content is done.
	Handoff *PerformanceHandoff `json:"handoff,omitempty"`
}

// PerformanceHandoff configures the performance assessment started after production.
type PerformanceHandoff struct {
	ReportGroupID uuid.UUID `json:"reportGroupId"`
	WindowDays    int       `json:"windowDays" validate:"gte=1,lte=90"`
}

// Tenant returns the tenant the run belongs to.
func (in *ContentProductionInput) Tenant() string { return in.TenantID }

// Validate checks the input.
func (in *ContentProductionInput) Validate() error {
	if err := validateStruct(in); err != nil {
		return err
	}
	if in.Handoff != nil && in.Handoff.ReportGroupID == uuid.Nil {
		return domain.NewValidationError("handoff.reportGroupId", "is required")
	}
	return nil
}

func (in *ContentProductionInput) applyDefaults() {
	if in.MaxRevisions == 0 {
		in.MaxRevisions = defaultMaxRevisions
	}
	if in.MaxApprovalRounds == 0 {
		in.MaxApprovalRounds = defaultMaxApprovalRounds
	}
	if in.ApprovalTimeoutSeconds == 0 {
		in.ApprovalTimeoutSeconds = int(defaultApprovalTimeout / time.Second)
	}
}

func (in *ContentProductionInput) approvalTimeout() time.Duration {
	return time.Duration(in.ApprovalTimeoutSeconds) * time.Second
}

// ContentProductionResult is the outcome of a content production run.
type ContentProductionResult struct {
	Entity         domain.EntityRef `json:"entity"`
	Revisions      int              `json:"revisions"`
	Score          float64          `json:"score"`
	Aligned        bool             `json:"aligned"`
	Approved       bool             `json:"approved"`
	ApprovalRounds int              `json:"approvalRounds"`
	// HandoffWorkflowID is the performance assessment child, if one started.
	HandoffWorkflowID string `json:"handoffWorkflowId,omitempty"`
}

// IdentityEvaluationInput starts an identity evaluation run.
type IdentityEvaluationInput struct {
	TenantID        string      `json:"tenantId" validate:"required,max=64"`
	ProfileGroupID  uuid.UUID   `json:"profileGroupId"`
	Handle          string      `json:"handle,omitempty" validate:"max=100"`
	ContentGroupIDs []uuid.UUID `json:"contentGroupIds" validate:"required,min=1,max=100"`
}

// Tenant returns the tenant the run belongs to.
func (in *IdentityEvaluationInput) Tenant() string { return in.TenantID }

// Validate checks the input.
func (in *IdentityEvaluationInput) Validate() error {
	if err := validateStruct(in); err != nil {
		return err
	}
	if in.ProfileGroupID == uuid.Nil {
		return domain.NewValidationError("profileGroupId", "is required")
	}
	return nil
}

// IdentityEvaluationResult is the outcome of an identity evaluation run.
type IdentityEvaluationResult struct {
	Profile     domain.EntityRef `json:"profile"`
	Consistency float64          `json:"consistency"`
}

// PerformanceAssessmentInput starts a performance assessment run. The
// window is either absolute or, with WindowDays, the days before the run
// starts.
type PerformanceAssessmentInput struct {
	TenantID        string      `json:"tenantId" validate:"required,max=64"`
	ReportGroupID   uuid.UUID   `json:"reportGroupId"`
	ContentGroupIDs []uuid.UUID `json:"contentGroupIds" validate:"required,min=1,max=500"`
	WindowStart     time.Time   `json:"windowStart"`
	WindowEnd       time.Time   `json:"windowEnd"`
	WindowDays      int         `json:"windowDays,omitempty" validate:"gte=0,lte=366"`
	// WaitForWindowEnd sleeps until WindowEnd before collecting.
	WaitForWindowEnd bool `json:"waitForWindowEnd,omitempty"`
}

// Tenant returns the tenant the run belongs to.
func (in *PerformanceAssessmentInput) Tenant() string { return in.TenantID }

// Validate checks the input.
func (in *PerformanceAssessmentInput) Validate() error {
	if err := validateStruct(in); err != nil {
		return err
	}
	if in.ReportGroupID == uuid.Nil {
		return domain.NewValidationError("reportGroupId", "is required")
	}
	absolute := !in.WindowStart.IsZero() || !in.WindowEnd.IsZero()
	switch {
	case in.WindowDays > 0 && absolute:
		return domain.NewValidationError("windowDays", "cannot be combined with windowStart or windowEnd")
	case in.WindowDays > 0:
		return nil
	case in.WindowStart.IsZero() || !in.WindowEnd.After(in.WindowStart):
		return domain.NewValidationError("window", "windowEnd must be after windowStart")
	}
	return nil
}

// resolveWindow fixes a relative window to the WindowDays days ending at now.
func (in *PerformanceAssessmentInput) resolveWindow(now time.Time) {
	if in.WindowDays <= 0 {
		return
	}
	in.WindowEnd = now.UTC()
	in.WindowStart = in.WindowEnd.Add(-time.Duration(in.WindowDays) * 24 * time.Hour)
}

// PerformanceAssessmentResult is the outcome of a performance assessment run.
type PerformanceAssessmentResult struct {
	Report  domain.EntityRef `json:"report"`
	Covered int              `json:"covered"`
	Skipped int              `json:"skipped"`
}
