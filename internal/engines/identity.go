package engines

import (
	"context"
	"fmt"
	"strings"

	"github.com/unlock/orchestration-service/internal/domain"
)

const maxTone = 6

// TermIdentityEngine derives voice traits from term frequency across samples.
type TermIdentityEngine struct{}

// NewTermIdentityEngine creates a TermIdentityEngine.
func NewTermIdentityEngine() *TermIdentityEngine {
	return &TermIdentityEngine{}
}

// Assess measures how consistently samples carry the current profile's tone.
func (e *TermIdentityEngine) Assess(_ context.Context, in AssessInput) (*domain.IdentityAssessmentV1, error) {
	if len(in.Samples) == 0 {
		return nil, domain.NewValidationError("samples", "at least one sample is required")
	}

	traits := topTerms(in.Samples, 5)
	assessment := &domain.IdentityAssessmentV1{Traits: traits}

	if in.Current == nil || len(in.Current.Tone) == 0 {
		assessment.Recommendation = "establish a tone from observed traits: " + strings.Join(traits, ", ")
		return assessment, nil
	}

	set := wordSet(strings.Join(in.Samples, " "))
	present := 0
	for _, tone := range in.Current.Tone {
		if containsWord(set, tone) {
			present++
		} else {
			assessment.Gaps = append(assessment.Gaps, strings.ToLower(tone))
		}
	}
	assessment.Consistency = round(float64(present) / float64(len(in.Current.Tone)))
	if len(assessment.Gaps) == 0 {
		assessment.Recommendation = "voice is consistent"
	} else {
		assessment.Recommendation = "reinforce " + strings.Join(assessment.Gaps, ", ")
	}
	return assessment, nil
}

// Synthesize folds observed traits into the next profile version.
func (e *TermIdentityEngine) Synthesize(_ context.Context, in SynthesizeInput) (*domain.IdentityProfileV1, error) {
	if len(in.Assessments) == 0 {
		return nil, domain.NewValidationError("assessments", "at least one assessment is required")
	}

	next := &domain.IdentityProfileV1{Handle: in.Handle}
	var currentTone []string
	if in.Current != nil {
		if next.Handle == "" {
			next.Handle = in.Current.Handle
		}
		currentTone = in.Current.Tone
		next.Pillars = append(next.Pillars, in.Current.Pillars...)
	}

	var observed []string
	consistency := 0.0
	for _, a := range in.Assessments {
		observed = append(observed, a.Traits...)
		consistency += a.Consistency
	}
	next.Tone = union(currentTone, observed)
	if len(next.Tone) > maxTone {
		next.Tone = next.Tone[:maxTone]
	}
	next.Summary = fmt.Sprintf("%d assessments, mean consistency %.2f", len(in.Assessments), consistency/float64(len(in.Assessments)))
	return next, nil
}
