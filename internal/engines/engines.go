package engines

import (
	"context"
	"time"

	"github.com/unlock/orchestration-service/internal/domain"
)

// ContentEngine drafts, scores and revises content.
type ContentEngine interface {
	Draft(ctx context.Context, in DraftInput) (*domain.ContentV1, error)
	Evaluate(ctx context.Context, in EvaluateInput) (*Evaluation, error)
	Revise(ctx context.Context, in ReviseInput) (*Revision, error)
}

// IdentityEngine assesses published voice and synthesizes identity profiles.
type IdentityEngine interface {
	Assess(ctx context.Context, in AssessInput) (*domain.IdentityAssessmentV1, error)
	Synthesize(ctx context.Context, in SynthesizeInput) (*domain.IdentityProfileV1, error)
}

// PerformanceEngine collects metrics for content and summarizes a window.
type PerformanceEngine interface {
	Collect(ctx context.Context, in CollectInput) ([]domain.PerformanceMetricV1, error)
	Summarize(ctx context.Context, in SummarizeInput) (*domain.PerformanceReportV1, error)
}

// DraftInput is the brief a first content version is written from.
type DraftInput struct {
	TenantID string
	Ref      domain.EntityRef
	Title    string
	Brief    string
	Channel  string
	Profile  *domain.IdentityProfileV1
}

// EvaluateInput is a content version scored against a profile.
type EvaluateInput struct {
	TenantID  string
	Ref       domain.EntityRef
	Content   *domain.ContentV1
	Profile   *domain.IdentityProfileV1
	Threshold float64
}

// Evaluation is the result of scoring one content version.
type Evaluation struct {
	Alignment domain.VoiceAlignmentV1
	Quality   domain.QualityScoreV1
}

// ReviseInput is a content version plus the observations that motivate a revision.
type ReviseInput struct {
	TenantID   string
	Ref        domain.EntityRef
	Content    *domain.ContentV1
	Profile    *domain.IdentityProfileV1
	Alignments []*domain.VoiceAlignmentV1
	Feedback   []*domain.HumanFeedbackV1
}

// Revision is a revised body and the note explaining it.
type Revision struct {
	Content domain.ContentV1
	Note    domain.RevisionNoteV1
}

// AssessInput is a sample of a tenant's published content.
type AssessInput struct {
	TenantID string
	Ref      domain.EntityRef
	Handle   string
	Samples  []string
	Current  *domain.IdentityProfileV1
}

// SynthesizeInput folds assessments into the next profile version.
type SynthesizeInput struct {
	TenantID    string
	Ref         domain.EntityRef
	Handle      string
	Current     *domain.IdentityProfileV1
	Assessments []*domain.IdentityAssessmentV1
}

// CollectInput identifies one content version to collect metrics for.
type CollectInput struct {
	TenantID    string
	Ref         domain.EntityRef
	Content     *domain.ContentV1
	WindowStart time.Time
	WindowEnd   time.Time
}

// SummarizeInput is every metric collected in a window.
type SummarizeInput struct {
	TenantID    string
	WindowStart time.Time
	WindowEnd   time.Time
	Metrics     []*domain.PerformanceMetricV1
	Covered     int
	Skipped     int
}
