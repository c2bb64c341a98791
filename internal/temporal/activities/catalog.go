// Package activities implements the orchestrator's Temporal activities and
// the catalog that declares, for each activity type, its task queue,
// timeouts, retry policy and the annotation types it reads and writes.
//
// Activity inputs and outputs are serializable structs that cross the
// Temporal serialization boundary. Workflows carry entity references, never
// payloads; each activity re-reads what it needs from the entity store.
package activities

import (
	"fmt"
	"sort"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/unlock/orchestration-service/internal/domain"
	"github.com/unlock/orchestration-service/internal/temporal/resilience"
)

// Task queues. Each component's workers poll exactly one of them.
const (
	QueueOrchestrator      = "orchestrator"
	QueueContentEngine     = "content-engine"
	QueueIdentityEngine    = "identity-engine"
	QueuePerformanceEngine = "performance-engine"
	QueueEntityStore       = "entity-store"
	QueuePlatform          = "platform"
)

// Activity type names.
const (
	DraftContent          = "draft_content"
	EvaluateVoice         = "evaluate_voice"
	ReviseContent         = "revise_content"
	ArchiveContent        = "archive_content"
	RecordFeedback        = "record_feedback"
	AssessIdentity        = "assess_identity"
	UpdateIdentityProfile = "update_identity_profile"
	CollectPerformance    = "collect_performance"
	SummarizePerformance  = "summarize_performance"
	CreateTask            = "create_task"
	UpdateTask            = "update_task"
	OpenRunAudit          = "open_run_audit"
	CloseRunAudit         = "close_run_audit"
	PublishEvent          = "publish_event"
)

// RetryPolicy mirrors temporal.RetryPolicy in catalog form.
type RetryPolicy struct {
	InitialInterval        time.Duration
	BackoffCoefficient     float64
	MaximumInterval        time.Duration
	MaximumAttempts        int32
	NonRetryableErrorTypes []string
}

// Spec is one catalog entry.
type Spec struct {
	Name                   string
	Queue                  string
	StartToCloseTimeout    time.Duration
	ScheduleToCloseTimeout time.Duration
	HeartbeatTimeout       time.Duration
	Retry                  RetryPolicy
	Reads                  []domain.AnnotationType
	Writes                 []domain.AnnotationType
}

// ActivityOptions derives the options a workflow dispatches this activity with.
func (s Spec) ActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		TaskQueue:              s.Queue,
		StartToCloseTimeout:    s.StartToCloseTimeout,
		ScheduleToCloseTimeout: s.ScheduleToCloseTimeout,
		HeartbeatTimeout:       s.HeartbeatTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        s.Retry.InitialInterval,
			BackoffCoefficient:     s.Retry.BackoffCoefficient,
			MaximumInterval:        s.Retry.MaximumInterval,
			MaximumAttempts:        s.Retry.MaximumAttempts,
			NonRetryableErrorTypes: s.Retry.NonRetryableErrorTypes,
		},
	}
}

// CanRead reports whether the activity declares reads of t.
func (s Spec) CanRead(t domain.AnnotationType) bool {
	return contains(s.Reads, t)
}

// CanWrite reports whether the activity declares writes of t.
func (s Spec) CanWrite(t domain.AnnotationType) bool {
	return contains(s.Writes, t)
}

func contains(types []domain.AnnotationType, t domain.AnnotationType) bool {
	for _, declared := range types {
		if declared == t {
			return true
		}
	}
	return false
}

// DefaultRetryPolicy retries transient failures five times with exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval:        time.Second,
		BackoffCoefficient:     2.0,
		MaximumInterval:        time.Minute,
		MaximumAttempts:        5,
		NonRetryableErrorTypes: resilience.NonRetryableErrorTypes(),
	}
}

func spec(name, queue string, startToClose time.Duration, reads, writes []domain.AnnotationType) Spec {
	return Spec{
		Name:                name,
		Queue:               queue,
		StartToCloseTimeout: startToClose,
		Retry:               DefaultRetryPolicy(),
		Reads:               reads,
		Writes:              writes,
	}
}

func heartbeating(s Spec, heartbeat, scheduleToClose time.Duration) Spec {
	s.HeartbeatTimeout = heartbeat
	s.ScheduleToCloseTimeout = scheduleToClose
	return s
}

func attempts(s Spec, n int32) Spec {
	s.Retry.MaximumAttempts = n
	return s
}

type annotationTypes = []domain.AnnotationType

var catalog = func() map[string]Spec {
	entries := []Spec{
		spec(DraftContent, QueueContentEngine, 2*time.Minute, nil, nil),
		spec(EvaluateVoice, QueueContentEngine, time.Minute, nil,
			annotationTypes{domain.AnnotationVoiceAlignment, domain.AnnotationQualityScore}),
		heartbeating(spec(ReviseContent, QueueContentEngine, 5*time.Minute,
			annotationTypes{domain.AnnotationVoiceAlignment, domain.AnnotationHumanFeedback},
			annotationTypes{domain.AnnotationRevisionNote}), 30*time.Second, 0),
		spec(ArchiveContent, QueueContentEngine, time.Minute, nil, annotationTypes{domain.AnnotationRevisionNote}),
		spec(RecordFeedback, QueueEntityStore, 30*time.Second, nil, annotationTypes{domain.AnnotationHumanFeedback}),
		spec(AssessIdentity, QueueIdentityEngine, 2*time.Minute, nil, annotationTypes{domain.AnnotationIdentityAssessment}),
		spec(UpdateIdentityProfile, QueueIdentityEngine, time.Minute, annotationTypes{domain.AnnotationIdentityAssessment}, nil),
		heartbeating(spec(CollectPerformance, QueuePerformanceEngine, 5*time.Minute, nil,
			annotationTypes{domain.AnnotationPerformanceMetric}), 30*time.Second, 30*time.Minute),
		spec(SummarizePerformance, QueuePerformanceEngine, 2*time.Minute, annotationTypes{domain.AnnotationPerformanceMetric}, nil),
		spec(CreateTask, QueuePlatform, 30*time.Second, nil, nil),
		spec(UpdateTask, QueuePlatform, 30*time.Second, nil, nil),
		spec(OpenRunAudit, QueuePlatform, 30*time.Second, nil, nil),
		spec(CloseRunAudit, QueuePlatform, 30*time.Second, nil, nil),
		attempts(spec(PublishEvent, QueuePlatform, 30*time.Second, nil, nil), 3),
	}
	m := make(map[string]Spec, len(entries))
	for _, e := range entries {
		m[e.Name] = e
	}
	return m
}()

// Lookup returns the catalog entry of an activity type.
func Lookup(name string) (Spec, error) {
	s, ok := catalog[name]
	if !ok {
		return Spec{}, fmt.Errorf("unknown activity type %q", name)
	}
	return s, nil
}

// MustLookup is Lookup for names known at compile time.
func MustLookup(name string) Spec {
	s, err := Lookup(name)
	if err != nil {
		panic(err)
	}
	return s
}

// Names lists every activity type, sorted.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ForQueue lists the catalog entries served on a queue, sorted by name.
func ForQueue(queue string) []Spec {
	var out []Spec
	for _, name := range Names() {
		if catalog[name].Queue == queue {
			out = append(out, catalog[name])
		}
	}
	return out
}
