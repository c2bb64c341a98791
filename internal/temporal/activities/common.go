package activities

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/unlock/orchestration-service/internal/database"
	"github.com/unlock/orchestration-service/internal/domain"
	"github.com/unlock/orchestration-service/internal/observability"
	"github.com/unlock/orchestration-service/internal/outbox"
	"github.com/unlock/orchestration-service/internal/repository"
	"github.com/unlock/orchestration-service/internal/temporal/resilience"
)

// EventStore is the outbox write path activities use.
type EventStore interface {
	Insert(ctx context.Context, tx database.DBTX, event *domain.Event) error
}

// idempotencyKey identifies an activity invocation across retries.
func idempotencyKey(ctx context.Context) string {
	info := activity.GetInfo(ctx)
	return info.WorkflowExecution.ID + "/" + info.ActivityID
}

// stageKey is the idempotency key for staging on top of expectedVersion.
// A retried attempt stages on top of the same version and reuses the key.
func stageKey(ctx context.Context, expectedVersion int) string {
	return idempotencyKey(ctx) + "@v" + strconv.Itoa(expectedVersion)
}

// finish records metrics and converts err for the activity boundary.
func finish(ctx context.Context, metrics *observability.Metrics, name string, start time.Time, err error) error {
	outcome := "success"
	if err != nil {
		outcome = resilience.ErrorKind(err)
		activity.GetLogger(ctx).Warn("activity failed", "activity", name, "error", err)
	}
	metrics.RecordActivity(name, outcome, time.Since(start).Seconds())
	return resilience.ToApplicationError(err)
}

// emitStaged writes an entity.version_staged event. Event delivery is
// best-effort here: a failed insert is logged, never returned.
func emitStaged(ctx context.Context, events EventStore, emitter *outbox.Emitter, entity *domain.Entity) {
	if events == nil {
		return
	}
	event, err := emitter.EmitVersionStaged(entity)
	if err == nil {
		err = events.Insert(ctx, nil, event)
	}
	if err != nil {
		activity.GetLogger(ctx).Warn("failed to record version staged event",
			"entityGroupID", entity.EntityGroupID, "version", entity.Version, "error", err)
	}
}

// currentVersion returns the current version of a group, 0 when it has none.
func currentVersion(ctx context.Context, store repository.EntityStore, tenantID string, groupID uuid.UUID) (*domain.Entity, int, error) {
	current, err := store.GetCurrent(ctx, tenantID, groupID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return current, current.Version, nil
}

// loadProfile returns the current identity profile of a group, or nil when
// groupID is unset or the group has no versions.
func loadProfile(ctx context.Context, store repository.EntityStore, tenantID string, groupID uuid.UUID) (*domain.IdentityProfileV1, *domain.Entity, error) {
	if groupID == uuid.Nil {
		return nil, nil, nil
	}
	entity, _, err := currentVersion(ctx, store, tenantID, groupID)
	if err != nil || entity == nil {
		return nil, nil, err
	}
	profile, err := domain.DecodeAs[*domain.IdentityProfileV1](entity.Payload)
	if err != nil {
		return nil, nil, err
	}
	return profile, entity, nil
}

func annotationIDs(annotations ...*domain.Annotation) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(annotations))
	for _, a := range annotations {
		ids = append(ids, a.ID)
	}
	return ids
}

// writer stages versions and writes annotations with metrics and events.
type writer struct {
	store   repository.EntityStore
	events  EventStore
	emitter *outbox.Emitter
	metrics *observability.Metrics
}

func newWriter(store repository.EntityStore, events EventStore, emitter *outbox.Emitter, metrics *observability.Metrics) writer {
	if emitter == nil {
		emitter = outbox.NewEmitter(outbox.EmitterConfig{})
	}
	return writer{store: store, events: events, emitter: emitter, metrics: metrics}
}

func (w *writer) stage(ctx context.Context, params domain.StageParams) (*domain.Entity, error) {
	entity, err := w.store.StageVersion(ctx, params)
	if err != nil {
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			w.metrics.RecordConcurrencyConflict(string(params.Kind))
		}
		return nil, err
	}
	w.metrics.RecordVersionStaged(string(params.Kind))
	emitStaged(ctx, w.events, w.emitter, entity)
	return entity, nil
}

func (w *writer) annotate(ctx context.Context, scope *Scope, entityID uuid.UUID, payload domain.Payload) (*domain.Annotation, error) {
	annotation, err := scope.Write(ctx, entityID, payload)
	if err != nil {
		return nil, err
	}
	w.metrics.RecordAnnotationWritten(string(annotation.AnnotationType))
	return annotation, nil
}
