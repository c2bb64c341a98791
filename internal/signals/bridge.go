package signals

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/unlock/orchestration-service/internal/domain"
	"github.com/unlock/orchestration-service/internal/observability"
)

// Kind identifies an inbound message type.
type Kind string

// Inbound message kinds.
const (
	KindTaskResponse Kind = domain.SignalTaskResponse
	KindTaskClaim    Kind = domain.SignalTaskClaim
	KindWebhook      Kind = "webhook"
)

// Message is an inbound record from the signals topic.
type Message struct {
	Kind           Kind            `json:"kind" validate:"required,oneof=task.response task.claim webhook"`
	TenantID       string          `json:"tenantId" validate:"required,max=255"`
	TaskID         uuid.UUID       `json:"taskId,omitempty" validate:"required_unless=Kind webhook"`
	WorkflowID     string          `json:"workflowId,omitempty" validate:"required_if=Kind webhook,max=255"`
	SignalName     string          `json:"signalName,omitempty" validate:"required_if=Kind webhook,max=255"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty" validate:"max=255"`
}

// DedupKey returns the key used to drop redelivered messages. Messages without
// an idempotency key are never deduplicated.
func (m Message) DedupKey() string {
	if m.IdempotencyKey == "" {
		return ""
	}
	return m.TenantID + ":" + string(m.Kind) + ":" + m.IdempotencyKey
}

// Signaler delivers a named signal to a running workflow.
type Signaler interface {
	Signal(ctx context.Context, workflowID, signalName string, payload interface{}) error
}

// TaskReader looks up tasks.
type TaskReader interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Task, error)
}

// Bridge routes task responses, claims and webhooks to workflows. It never
// mutates tasks: the workflow that owns a task resolves it on receipt.
type Bridge struct {
	tasks    TaskReader
	signaler Signaler
	validate *validator.Validate
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

// NewBridge creates a Bridge. metrics may be nil.
func NewBridge(tasks TaskReader, signaler Signaler, metrics *observability.Metrics, logger zerolog.Logger) *Bridge {
	return &Bridge{
		tasks:    tasks,
		signaler: signaler,
		validate: validator.New(),
		metrics:  metrics,
		logger:   logger.With().Str("component", "signal_bridge").Logger(),
	}
}

// RespondToTask delivers a reviewer's response to the workflow waiting on the task.
func (b *Bridge) RespondToTask(ctx context.Context, tenantID string, resp domain.TaskResponse) (*domain.Task, error) {
	if err := b.validate.Struct(resp); err != nil {
		return nil, domain.NewValidationError("response", err.Error())
	}
	task, err := b.openTask(ctx, tenantID, resp.TaskID, "responded")
	if err != nil {
		return nil, err
	}
	if err := b.signal(ctx, task.WorkflowID, task.SignalName, resp); err != nil {
		return nil, err
	}
	b.logger.Info().
		Str("task_id", task.ID.String()).
		Str("workflow_id", task.WorkflowID).
		Bool("approved", resp.Approved).
		Msg("task response delivered")
	return task, nil
}

// ClaimTask tells the workflow waiting on the task that a reviewer took it.
func (b *Bridge) ClaimTask(ctx context.Context, tenantID string, claim domain.TaskClaim) (*domain.Task, error) {
	if err := b.validate.Struct(claim); err != nil {
		return nil, domain.NewValidationError("claim", err.Error())
	}
	task, err := b.openTask(ctx, tenantID, claim.TaskID, string(domain.TaskStatusInProgress))
	if err != nil {
		return nil, err
	}
	if task.Status == domain.TaskStatusInProgress {
		return nil, domain.NewInvalidTransitionError("task", string(task.Status), string(domain.TaskStatusInProgress))
	}
	if err := b.signal(ctx, task.WorkflowID, domain.SignalTaskClaim, claim); err != nil {
		return nil, err
	}
	return task, nil
}

// Forward delivers an arbitrary signal to a workflow. The engine validates the
// signal name against the workflow type.
func (b *Bridge) Forward(ctx context.Context, workflowID, signalName string, payload json.RawMessage) error {
	if workflowID == "" || signalName == "" {
		return domain.NewValidationError("signalName", "workflow id and signal name are required")
	}
	var body interface{}
	if len(payload) > 0 {
		body = payload
	}
	return b.signal(ctx, workflowID, signalName, body)
}

// Handle dispatches an inbound message by kind. The message tenant is carried
// on the context handed to the signaler.
func (b *Bridge) Handle(ctx context.Context, msg Message) error {
	if err := b.validate.Struct(msg); err != nil {
		return domain.NewValidationError("message", err.Error())
	}
	ctx = observability.WithTenant(ctx, msg.TenantID)

	logger := observability.WithTenantContext(b.logger, msg.TenantID, msg.IdempotencyKey)
	logger.Debug().
		Str("kind", string(msg.Kind)).
		Str("workflow_id", msg.WorkflowID).
		Msg("dispatching inbound message")

	switch msg.Kind {
	case KindTaskResponse:
		var resp domain.TaskResponse
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &resp); err != nil {
				return domain.NewValidationError("payload", "invalid task response: "+err.Error())
			}
		}
		resp.TaskID = msg.TaskID
		_, err := b.RespondToTask(ctx, msg.TenantID, resp)
		return err
	case KindTaskClaim:
		var claim domain.TaskClaim
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &claim); err != nil {
				return domain.NewValidationError("payload", "invalid task claim: "+err.Error())
			}
		}
		claim.TaskID = msg.TaskID
		_, err := b.ClaimTask(ctx, msg.TenantID, claim)
		return err
	case KindWebhook:
		return b.Forward(ctx, msg.WorkflowID, msg.SignalName, msg.Payload)
	default:
		return domain.NewValidationError("kind", fmt.Sprintf("unknown message kind %q", msg.Kind))
	}
}

func (b *Bridge) openTask(ctx context.Context, tenantID string, id uuid.UUID, action string) (*domain.Task, error) {
	task, err := b.tasks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.TenantID != tenantID {
		return nil, domain.NewNotFoundError("task", id.String())
	}
	if !task.IsOpen() {
		return nil, domain.NewInvalidTransitionError("task", string(task.Status), action)
	}
	return task, nil
}

func (b *Bridge) signal(ctx context.Context, workflowID, signalName string, payload interface{}) error {
	if err := b.signaler.Signal(ctx, workflowID, signalName, payload); err != nil {
		return fmt.Errorf("signal %s to %s: %w", signalName, workflowID, err)
	}
	b.metrics.RecordSignalDelivered(signalName)
	return nil
}
