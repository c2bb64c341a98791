package engines

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/unlock/orchestration-service/internal/domain"
)

// DefaultVoiceThreshold is used when an evaluation does not name a threshold.
const DefaultVoiceThreshold = 0.75

// TemplateContentEngine writes content from the brief and scores it by how
// many of the profile's tone words the body carries.
type TemplateContentEngine struct{}

// NewTemplateContentEngine creates a TemplateContentEngine.
func NewTemplateContentEngine() *TemplateContentEngine {
	return &TemplateContentEngine{}
}

// Draft writes the first version of a piece of content.
func (e *TemplateContentEngine) Draft(_ context.Context, in DraftInput) (*domain.ContentV1, error) {
	brief := strings.TrimSpace(in.Brief)
	if brief == "" {
		return nil, domain.NewValidationError("brief", "is required")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = headline(brief)
	}

	var b strings.Builder
	b.WriteString(title)
	b.WriteString(". ")
	b.WriteString(strings.TrimSuffix(brief, "."))
	b.WriteString(".")
	if in.Profile != nil && len(in.Profile.Pillars) > 0 {
		fmt.Fprintf(&b, " It speaks to %s.", strings.Join(in.Profile.Pillars, ", "))
	}

	return &domain.ContentV1{
		Title:   title,
		Body:    b.String(),
		Channel: in.Channel,
		Brief:   brief,
		Status:  domain.ContentStatusDraft,
	}, nil
}

// Evaluate scores voice alignment and general quality.
func (e *TemplateContentEngine) Evaluate(_ context.Context, in EvaluateInput) (*Evaluation, error) {
	if in.Content == nil {
		return nil, domain.NewValidationError("content", "is required")
	}
	threshold := in.Threshold
	if threshold <= 0 {
		threshold = DefaultVoiceThreshold
	}

	missing := missingTone(in.Content.Body, in.Profile)
	score := 1.0
	if in.Profile != nil && len(in.Profile.Tone) > 0 {
		score = float64(len(in.Profile.Tone)-len(missing)) / float64(len(in.Profile.Tone))
	}
	deviations := make([]string, 0, len(missing))
	for _, m := range missing {
		deviations = append(deviations, "missing tone: "+m)
	}

	count := len(words(in.Content.Body))
	avgSentence := float64(count) / float64(max(sentences(in.Content.Body), 1))
	readability := math.Max(0, 1-math.Abs(avgSentence-15)/30)
	length := math.Min(float64(count)/50, 1)

	return &Evaluation{
		Alignment: domain.VoiceAlignmentV1{
			Score:      round(score),
			Threshold:  threshold,
			Aligned:    score >= threshold,
			Deviations: deviations,
		},
		Quality: domain.QualityScoreV1{
			Score:       round((readability + length) / 2),
			Readability: round(readability),
			WordCount:   count,
		},
	}, nil
}

// Revise rewrites content to carry missing tone words and address rejected feedback.
func (e *TemplateContentEngine) Revise(_ context.Context, in ReviseInput) (*Revision, error) {
	if in.Content == nil {
		return nil, domain.NewValidationError("content", "is required")
	}

	revised := *in.Content
	revised.Status = domain.ContentStatusDraft
	revised.Revision = in.Content.Revision + 1

	var changes []string
	body := strings.TrimSpace(revised.Body)
	if missing := missingTone(body, in.Profile); len(missing) > 0 {
		body += fmt.Sprintf(" Written to feel %s.", strings.Join(missing, " and "))
		changes = append(changes, "added tone: "+strings.Join(missing, ", "))
	}
	for _, fb := range in.Feedback {
		if fb == nil || fb.Approved || strings.TrimSpace(fb.Comments) == "" {
			continue
		}
		comment := strings.TrimSuffix(strings.TrimSpace(fb.Comments), ".")
		if strings.Contains(body, comment) {
			continue
		}
		body += fmt.Sprintf(" Reviewer note addressed: %s.", comment)
		changes = append(changes, "addressed feedback from "+reviewerName(fb))
	}
	revised.Body = body

	reason := "voice alignment below threshold"
	if len(in.Alignments) > 0 && in.Alignments[len(in.Alignments)-1].Aligned {
		reason = "reviewer requested changes"
	}
	if len(changes) == 0 {
		changes = []string{"no changes required"}
	}

	return &Revision{
		Content: revised,
		Note: domain.RevisionNoteV1{
			FromVersion: in.Ref.Version,
			ToVersion:   in.Ref.Version + 1,
			Reason:      reason,
			Changes:     changes,
		},
	}, nil
}

func missingTone(body string, profile *domain.IdentityProfileV1) []string {
	if profile == nil {
		return nil
	}
	set := wordSet(body)
	var missing []string
	for _, tone := range profile.Tone {
		if !containsWord(set, tone) {
			missing = append(missing, strings.ToLower(tone))
		}
	}
	return missing
}

func headline(brief string) string {
	w := strings.Fields(brief)
	if len(w) > 8 {
		w = w[:8]
	}
	return strings.TrimSuffix(strings.Join(w, " "), ".")
}

func reviewerName(fb *domain.HumanFeedbackV1) string {
	if fb.Reviewer == "" {
		return "reviewer"
	}
	return fb.Reviewer
}
