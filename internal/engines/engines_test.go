package engines

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unlock/orchestration-service/internal/domain"
)

var (
	_ ContentEngine     = (*TemplateContentEngine)(nil)
	_ IdentityEngine    = (*TermIdentityEngine)(nil)
	_ PerformanceEngine = (*SyntheticPerformanceEngine)(nil)
)

func profile() *domain.IdentityProfileV1 {
	return &domain.IdentityProfileV1{
		Handle:  "acme",
		Tone:    []string{"Bold", "warm"},
		Pillars: []string{"craft", "community"},
	}
}

func TestTemplateContentEngine_DraftEvaluateRevise(t *testing.T) {
	ctx := context.Background()
	e := NewTemplateContentEngine()

	draft, err := e.Draft(ctx, DraftInput{Brief: "Launch the spring collection for makers", Channel: "blog", Profile: profile()})
	require.NoError(t, err)
	assert.Equal(t, "Launch the spring collection for makers", draft.Title)
	assert.Equal(t, domain.ContentStatusDraft, draft.Status)
	assert.Contains(t, draft.Body, "craft, community")

	eval, err := e.Evaluate(ctx, EvaluateInput{Content: draft, Profile: profile(), Threshold: 0.75})
	require.NoError(t, err)
	assert.Equal(t, 0.0, eval.Alignment.Score)
	assert.False(t, eval.Alignment.Aligned)
	assert.Equal(t, []string{"missing tone: bold", "missing tone: warm"}, eval.Alignment.Deviations)
	assert.Positive(t, eval.Quality.WordCount)

	rev, err := e.Revise(ctx, ReviseInput{
		Ref:        domain.EntityRef{Version: 1},
		Content:    draft,
		Profile:    profile(),
		Alignments: []*domain.VoiceAlignmentV1{&eval.Alignment},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rev.Content.Revision)
	assert.Equal(t, 1, rev.Note.FromVersion)
	assert.Equal(t, 2, rev.Note.ToVersion)
	assert.Equal(t, "voice alignment below threshold", rev.Note.Reason)

	again, err := e.Evaluate(ctx, EvaluateInput{Content: &rev.Content, Profile: profile()})
	require.NoError(t, err)
	assert.Equal(t, 1.0, again.Alignment.Score)
	assert.True(t, again.Alignment.Aligned)
	assert.Equal(t, DefaultVoiceThreshold, again.Alignment.Threshold)
}

func TestTemplateContentEngine_ReviseAddressesRejection(t *testing.T) {
	e := NewTemplateContentEngine()
	content := &domain.ContentV1{Body: "Bold and warm words.", Revision: 2}

	rev, err := e.Revise(context.Background(), ReviseInput{
		Ref:        domain.EntityRef{Version: 3},
		Content:    content,
		Profile:    profile(),
		Alignments: []*domain.VoiceAlignmentV1{{Aligned: true}},
		Feedback: []*domain.HumanFeedbackV1{
			{Approved: false, Reviewer: "ana", Comments: "Mention the pop-up store."},
			{Approved: true, Comments: "ignored"},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, rev.Content.Body, "Reviewer note addressed: Mention the pop-up store.")
	assert.NotContains(t, rev.Content.Body, "ignored")
	assert.Equal(t, "reviewer requested changes", rev.Note.Reason)
	assert.Equal(t, []string{"addressed feedback from ana"}, rev.Note.Changes)
	assert.Equal(t, 3, rev.Content.Revision)
	assert.Equal(t, "Bold and warm words.", content.Body, "input is not mutated")
}

func TestTemplateContentEngine_InvalidInput(t *testing.T) {
	ctx := context.Background()
	e := NewTemplateContentEngine()

	_, err := e.Draft(ctx, DraftInput{Brief: "  "})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	_, err = e.Evaluate(ctx, EvaluateInput{})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	_, err = e.Revise(ctx, ReviseInput{})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestTemplateContentEngine_NoProfileIsAligned(t *testing.T) {
	eval, err := NewTemplateContentEngine().Evaluate(context.Background(), EvaluateInput{
		Content: &domain.ContentV1{Body: "Anything at all."},
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, eval.Alignment.Score)
	assert.Empty(t, eval.Alignment.Deviations)
}

func TestTermIdentityEngine(t *testing.T) {
	ctx := context.Background()
	e := NewTermIdentityEngine()
	samples := []string{
		"Bold ideas for makers. Bold tools for makers.",
		"Makers deserve bold design.",
	}

	assessment, err := e.Assess(ctx, AssessInput{Samples: samples, Current: profile()})
	require.NoError(t, err)
	assert.Equal(t, []string{"bold", "makers"}, assessment.Traits[:2])
	assert.Equal(t, 0.5, assessment.Consistency)
	assert.Equal(t, []string{"warm"}, assessment.Gaps)
	assert.Equal(t, "reinforce warm", assessment.Recommendation)

	next, err := e.Synthesize(ctx, SynthesizeInput{Current: profile(), Assessments: []*domain.IdentityAssessmentV1{assessment}})
	require.NoError(t, err)
	assert.Equal(t, "acme", next.Handle)
	assert.Equal(t, []string{"bold", "warm", "makers"}, next.Tone[:3])
	assert.LessOrEqual(t, len(next.Tone), maxTone)
	assert.Equal(t, []string{"craft", "community"}, next.Pillars)

	_, err = e.Assess(ctx, AssessInput{})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	_, err = e.Synthesize(ctx, SynthesizeInput{})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestSyntheticPerformanceEngine(t *testing.T) {
	ctx := context.Background()
	e := NewSyntheticPerformanceEngine()
	start := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(7 * 24 * time.Hour)
	ref := domain.EntityRef{EntityID: uuid.MustParse("6f1c2f64-3a4e-4e0b-9d55-0f6e1d2a9b11")}
	content := &domain.ContentV1{Body: "One two three.", Channel: "blog"}

	first, err := e.Collect(ctx, CollectInput{Ref: ref, Content: content, WindowStart: start, WindowEnd: end})
	require.NoError(t, err)
	second, err := e.Collect(ctx, CollectInput{Ref: ref, Content: content, WindowStart: start, WindowEnd: end})
	require.NoError(t, err)
	assert.Equal(t, first, second, "collection is reproducible")
	require.Len(t, first, 2)
	assert.Equal(t, MetricImpressions, first[0].Name)
	assert.Equal(t, end, first[0].ObservedAt)

	var metrics []*domain.PerformanceMetricV1
	for i := range first {
		metrics = append(metrics, &first[i])
	}
	report, err := e.Summarize(ctx, SummarizeInput{WindowStart: start, WindowEnd: end, Metrics: metrics, Covered: 1, Skipped: 1})
	require.NoError(t, err)
	require.Len(t, report.Metrics, 2)
	assert.Equal(t, MetricEngagements, report.Metrics[0].Name)
	assert.Equal(t, MetricImpressions, report.Metrics[1].Name)
	assert.Equal(t, 1, report.Metrics[1].Samples)
	assert.Len(t, report.Highlights, 2)

	_, err = e.Summarize(ctx, SummarizeInput{Skipped: 3})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	_, err = e.Collect(ctx, CollectInput{Content: content, WindowStart: end, WindowEnd: start})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}
