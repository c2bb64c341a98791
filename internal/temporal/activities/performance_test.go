package activities

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unlock/orchestration-service/internal/domain"
	"github.com/unlock/orchestration-service/internal/engines"
	"github.com/unlock/orchestration-service/internal/repository/memstore"
	"github.com/unlock/orchestration-service/internal/temporal/resilience"
)

var (
	windowStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	windowEnd   = windowStart.Add(7 * 24 * time.Hour)
)

func TestPerformanceActivities_CollectAndSummarize(t *testing.T) {
	ctx := context.Background()
	store := memstore.New().WithClock(func() time.Time { return windowEnd })
	env := newActivityEnv(t, NewPerformanceActivities(store, engines.NewSyntheticPerformanceEngine(), nil, nil, nil))

	var refs []domain.EntityRef
	for _, body := range []string{"First post body.", "Second post body here."} {
		post := stageContent(t, store, tenant, &domain.ContentV1{Title: "t", Body: body, Channel: "blog", Status: domain.ContentStatusApproved})
		collected, err := execute[CollectPerformanceResult](t, env, CollectPerformance, CollectPerformanceInput{
			TenantID:       tenant,
			ContentGroupID: post.EntityGroupID,
			WindowStart:    windowStart,
			WindowEnd:      windowEnd,
		})
		require.NoError(t, err)
		assert.Equal(t, post.ID, collected.Entity.EntityID)
		assert.Len(t, collected.AnnotationIDs, 2)
		refs = append(refs, collected.Entity)
	}

	reportGroup := uuid.New()
	summary, err := execute[StageResult](t, env, SummarizePerformance, SummarizePerformanceInput{
		TenantID:      tenant,
		ReportGroupID: reportGroup,
		Entities:      refs,
		Skipped:       1,
		WindowStart:   windowStart,
		WindowEnd:     windowEnd,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Entity.Version)
	assert.Equal(t, domain.EntityKindPerformanceReport, summary.Entity.Kind)

	current, err := store.GetCurrent(ctx, tenant, reportGroup)
	require.NoError(t, err)
	report, err := domain.DecodeAs[*domain.PerformanceReportV1](current.Payload)
	require.NoError(t, err)
	assert.Equal(t, 2, report.EntitiesCovered)
	assert.Equal(t, 1, report.EntitiesSkipped)
	require.Len(t, report.Metrics, 2)
	assert.Equal(t, engines.MetricEngagements, report.Metrics[0].Name)
	assert.Equal(t, 2, report.Metrics[0].Samples)
	assert.Equal(t, engines.MetricImpressions, report.Metrics[1].Name)
}

func TestPerformanceActivities_CollectRetryReusesWrittenMetrics(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	flaky := &flakyAnnotations{EntityStore: store, failType: domain.AnnotationPerformanceMetric}

	post := stageContent(t, store, tenant, &domain.ContentV1{Title: "t", Body: "Body.", Status: domain.ContentStatusApproved})
	acts := NewPerformanceActivities(&failAfter{flakyAnnotations: flaky, after: 1}, engines.NewSyntheticPerformanceEngine(), nil, nil, nil)

	collected, err := executeWithRetries[CollectPerformanceResult](t, CollectPerformance, CollectPerformanceInput{
		TenantID:       tenant,
		ContentGroupID: post.EntityGroupID,
		WindowStart:    windowStart,
		WindowEnd:      windowEnd,
	}, acts)
	require.NoError(t, err)
	require.Len(t, collected.AnnotationIDs, 2)

	rows, err := store.ReadAnnotations(ctx, post.ID, domain.AnnotationFilter{Type: domain.AnnotationPerformanceMetric})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []uuid.UUID{rows[0].ID, rows[1].ID}, collected.AnnotationIDs)
}

// failAfter lets the first `after` metric writes through, then fails the
// next one once.
type failAfter struct {
	*flakyAnnotations
	after  int
	writes int
}

func (f *failAfter) Annotate(ctx context.Context, params domain.AnnotateParams) (*domain.Annotation, error) {
	f.mu.Lock()
	f.writes++
	if f.writes == f.after+1 {
		f.failures = 1
	}
	f.mu.Unlock()
	return f.flakyAnnotations.Annotate(ctx, params)
}

func TestPerformanceActivities_SummarizeCountsOnlyCollectedMetrics(t *testing.T) {
	ctx := context.Background()
	store := memstore.New().WithClock(func() time.Time { return windowEnd })
	env := newActivityEnv(t, NewPerformanceActivities(store, engines.NewSyntheticPerformanceEngine(), nil, nil, nil))

	post := stageContent(t, store, tenant, &domain.ContentV1{Title: "t", Body: "Body.", Channel: "blog", Status: domain.ContentStatusApproved})
	reportGroup := uuid.New()

	var totals []float64
	for run := 0; run < 2; run++ {
		collected, err := execute[CollectPerformanceResult](t, env, CollectPerformance, CollectPerformanceInput{
			TenantID:       tenant,
			ContentGroupID: post.EntityGroupID,
			WindowStart:    windowStart,
			WindowEnd:      windowEnd,
		})
		require.NoError(t, err)

		_, err = execute[StageResult](t, env, SummarizePerformance, SummarizePerformanceInput{
			TenantID:      tenant,
			ReportGroupID: reportGroup,
			Entities:      []domain.EntityRef{collected.Entity},
			AnnotationIDs: collected.AnnotationIDs,
			WindowStart:   windowStart,
			WindowEnd:     windowEnd,
		})
		require.NoError(t, err)

		current, err := store.GetCurrent(ctx, tenant, reportGroup)
		require.NoError(t, err)
		report, err := domain.DecodeAs[*domain.PerformanceReportV1](current.Payload)
		require.NoError(t, err)
		require.Len(t, report.Metrics, 2)
		assert.Equal(t, 1, report.Metrics[1].Samples)
		totals = append(totals, report.Metrics[1].Total)
	}

	// Both runs wrote metrics on the same version; each report sees only its own.
	rows, err := store.ReadAnnotations(ctx, post.ID, domain.AnnotationFilter{Type: domain.AnnotationPerformanceMetric})
	require.NoError(t, err)
	assert.Len(t, rows, 4)
	assert.Equal(t, totals[0], totals[1])
}

func TestPerformanceActivities_Errors(t *testing.T) {
	store := memstore.New()
	env := newActivityEnv(t, NewPerformanceActivities(store, engines.NewSyntheticPerformanceEngine(), nil, nil, nil))

	_, err := execute[CollectPerformanceResult](t, env, CollectPerformance, CollectPerformanceInput{
		TenantID:       tenant,
		ContentGroupID: uuid.New(),
		WindowStart:    windowStart,
		WindowEnd:      windowEnd,
	})
	requireAppErrorType(t, err, resilience.ErrTypeNotFound, true)

	post := stageContent(t, store, tenant, &domain.ContentV1{Title: "t", Body: "Body.", Status: domain.ContentStatusApproved})
	_, err = execute[CollectPerformanceResult](t, env, CollectPerformance, CollectPerformanceInput{
		TenantID:       tenant,
		ContentGroupID: post.EntityGroupID,
		WindowStart:    windowEnd,
		WindowEnd:      windowStart,
	})
	requireAppErrorType(t, err, resilience.ErrTypeInvalidInput, true)

	_, err = execute[StageResult](t, env, SummarizePerformance, SummarizePerformanceInput{
		TenantID:      tenant,
		ReportGroupID: uuid.New(),
		Skipped:       3,
		WindowStart:   windowStart,
		WindowEnd:     windowEnd,
	})
	requireAppErrorType(t, err, resilience.ErrTypeInvalidInput, true)
}
