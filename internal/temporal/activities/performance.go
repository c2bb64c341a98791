package activities

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/unlock/orchestration-service/internal/domain"
	"github.com/unlock/orchestration-service/internal/engines"
	"github.com/unlock/orchestration-service/internal/observability"
	"github.com/unlock/orchestration-service/internal/outbox"
	"github.com/unlock/orchestration-service/internal/repository"
)

// PerformanceActivities collects content metrics and stages reports.
type PerformanceActivities struct {
	writer
	engine engines.PerformanceEngine
}

// NewPerformanceActivities creates the performance activities. events and metrics may be nil.
func NewPerformanceActivities(store repository.EntityStore, engine engines.PerformanceEngine, events EventStore, emitter *outbox.Emitter, metrics *observability.Metrics) *PerformanceActivities {
	return &PerformanceActivities{writer: newWriter(store, events, emitter, metrics), engine: engine}
}

// Register registers every performance activity under its catalog name.
func (a *PerformanceActivities) Register(r Registrar) {
	register(r, CollectPerformance, a.CollectPerformance)
	register(r, SummarizePerformance, a.SummarizePerformance)
}

// CollectPerformance writes one performance_metric annotation per observed
// metric on the current version of a content group. A retried attempt
// rewrites the same keyed annotations and gets the earlier rows back.
func (a *PerformanceActivities) CollectPerformance(ctx context.Context, in CollectPerformanceInput) (result *CollectPerformanceResult, err error) {
	start := time.Now()
	defer func() { err = finish(ctx, a.metrics, CollectPerformance, start, err) }()

	if in.TenantID == "" {
		return nil, domain.NewValidationError("tenantId", "is required")
	}
	if in.ContentGroupID == uuid.Nil {
		return nil, domain.NewValidationError("contentGroupId", "is required")
	}
	entity, err := a.store.GetCurrent(ctx, in.TenantID, in.ContentGroupID)
	if err != nil {
		return nil, err
	}
	content, err := domain.DecodeAs[*domain.ContentV1](entity.Payload)
	if err != nil {
		return nil, domain.NewPermanentError("content payload", err)
	}

	observed, err := a.engine.Collect(ctx, engines.CollectInput{
		TenantID:    in.TenantID,
		Ref:         entity.Ref(),
		Content:     content,
		WindowStart: in.WindowStart,
		WindowEnd:   in.WindowEnd,
	})
	if err != nil {
		return nil, err
	}

	scope, err := NewScope(CollectPerformance, a.store)
	if err != nil {
		return nil, err
	}
	done := make([]uuid.UUID, 0, len(observed))
	for i := range observed {
		annotation, err := a.annotate(ctx, scope, entity.ID, &observed[i])
		if err != nil {
			return nil, err
		}
		done = append(done, annotation.ID)
		activity.RecordHeartbeat(ctx, len(done))
	}
	return &CollectPerformanceResult{Entity: entity.Ref(), AnnotationIDs: done}, nil
}

// SummarizePerformance stages the next report version for a reporting group
// from the metrics recorded on the given entities within the window, limited
// to the collected annotations when the input names them.
func (a *PerformanceActivities) SummarizePerformance(ctx context.Context, in SummarizePerformanceInput) (result *StageResult, err error) {
	start := time.Now()
	defer func() { err = finish(ctx, a.metrics, SummarizePerformance, start, err) }()

	if in.TenantID == "" {
		return nil, domain.NewValidationError("tenantId", "is required")
	}
	if in.ReportGroupID == uuid.Nil {
		return nil, domain.NewValidationError("reportGroupId", "is required")
	}

	scope, err := NewScope(SummarizePerformance, a.store)
	if err != nil {
		return nil, err
	}
	var wanted map[uuid.UUID]struct{}
	if len(in.AnnotationIDs) > 0 {
		wanted = make(map[uuid.UUID]struct{}, len(in.AnnotationIDs))
		for _, id := range in.AnnotationIDs {
			wanted[id] = struct{}{}
		}
	}
	var metrics []*domain.PerformanceMetricV1
	for _, ref := range in.Entities {
		rows, err := scope.Read(ctx, ref.EntityID, domain.AnnotationPerformanceMetric, in.WindowStart)
		if err != nil {
			return nil, err
		}
		if wanted != nil {
			kept := rows[:0]
			for _, row := range rows {
				if _, ok := wanted[row.ID]; ok {
					kept = append(kept, row)
				}
			}
			rows = kept
		}
		decoded, err := decodeAll[*domain.PerformanceMetricV1](rows)
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, decoded...)
	}

	report, err := a.engine.Summarize(ctx, engines.SummarizeInput{
		TenantID:    in.TenantID,
		WindowStart: in.WindowStart,
		WindowEnd:   in.WindowEnd,
		Metrics:     metrics,
		Covered:     len(in.Entities),
		Skipped:     in.Skipped,
	})
	if err != nil {
		return nil, err
	}

	_, version, err := currentVersion(ctx, a.store, in.TenantID, in.ReportGroupID)
	if err != nil {
		return nil, err
	}
	entity, err := a.stage(ctx, domain.StageParams{
		EntityGroupID:   in.ReportGroupID,
		Kind:            domain.EntityKindPerformanceReport,
		TenantID:        in.TenantID,
		ExpectedVersion: version,
		Payload:         report,
		CreatedBy:       SummarizePerformance,
		IdempotencyKey:  idempotencyKey(ctx),
	})
	if err != nil {
		return nil, err
	}
	return &StageResult{Entity: entity.Ref()}, nil
}
