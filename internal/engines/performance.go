package engines

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/unlock/orchestration-service/internal/domain"
)

// Metric names reported by the collector.
const (
	MetricImpressions = "impressions"
	MetricEngagements = "engagements"
)

// SyntheticPerformanceEngine derives stable metrics from the entity id so
// that assessments are reproducible without a channel integration.
type SyntheticPerformanceEngine struct{}

// NewSyntheticPerformanceEngine creates a SyntheticPerformanceEngine.
func NewSyntheticPerformanceEngine() *SyntheticPerformanceEngine {
	return &SyntheticPerformanceEngine{}
}

// Collect returns the metrics observed for one content version in the window.
func (e *SyntheticPerformanceEngine) Collect(_ context.Context, in CollectInput) ([]domain.PerformanceMetricV1, error) {
	if in.Content == nil {
		return nil, domain.NewValidationError("content", "is required")
	}
	if !in.WindowEnd.After(in.WindowStart) {
		return nil, domain.NewValidationError("window", "end must be after start")
	}

	h := fnv.New32a()
	_, _ = h.Write(in.Ref.EntityID[:])
	seed := h.Sum32()

	impressions := float64(100 + seed%900)
	rate := float64(len(words(in.Content.Body))%10+1) / 100
	return []domain.PerformanceMetricV1{
		{Name: MetricImpressions, Value: impressions, Channel: in.Content.Channel, ObservedAt: in.WindowEnd},
		{Name: MetricEngagements, Value: round(impressions * rate), Channel: in.Content.Channel, ObservedAt: in.WindowEnd},
	}, nil
}

// Summarize aggregates metrics by name.
func (e *SyntheticPerformanceEngine) Summarize(_ context.Context, in SummarizeInput) (*domain.PerformanceReportV1, error) {
	if in.Covered == 0 {
		return nil, domain.NewValidationError("metrics", "no content was covered in the window")
	}

	byName := make(map[string]*domain.MetricSummary)
	for _, m := range in.Metrics {
		if m == nil {
			continue
		}
		s, ok := byName[m.Name]
		if !ok {
			s = &domain.MetricSummary{Name: m.Name}
			byName[m.Name] = s
		}
		s.Total += m.Value
		s.Samples++
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	report := &domain.PerformanceReportV1{
		WindowStart:     in.WindowStart,
		WindowEnd:       in.WindowEnd,
		EntitiesCovered: in.Covered,
		EntitiesSkipped: in.Skipped,
		Metrics:         make([]domain.MetricSummary, 0, len(names)),
	}
	for _, name := range names {
		s := byName[name]
		s.Total = round(s.Total)
		s.Mean = round(s.Total / float64(s.Samples))
		report.Metrics = append(report.Metrics, *s)
	}

	if imp, ok := byName[MetricImpressions]; ok && imp.Total > 0 {
		if eng, ok := byName[MetricEngagements]; ok {
			report.Highlights = append(report.Highlights,
				fmt.Sprintf("engagement rate %.1f%%", eng.Total/imp.Total*100))
		}
	}
	if in.Skipped > 0 {
		report.Highlights = append(report.Highlights,
			fmt.Sprintf("%d of %d entities had no metrics", in.Skipped, in.Covered+in.Skipped))
	}
	return report, nil
}
