package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Payload is implemented by every typed entity and annotation body. Schema is
// the entity kind or annotation type the body belongs to; SchemaVersion is the
// body's version discriminator.
type Payload interface {
	Schema() string
	SchemaVersion() int
}

// Envelope is the persisted form of a Payload.
type Envelope struct {
	Schema  string          `json:"schema"`
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

type schemaKey struct {
	schema  string
	version int
}

// PayloadRegistry maps (schema, version) pairs to payload constructors.
// Breaking changes register a new version beside the old one; both stay decodable.
type PayloadRegistry struct {
	mu        sync.RWMutex
	factories map[schemaKey]func() Payload
}

// NewPayloadRegistry creates an empty registry.
func NewPayloadRegistry() *PayloadRegistry {
	return &PayloadRegistry{factories: make(map[schemaKey]func() Payload)}
}

// Register adds a constructor. The schema and version are read from a zero value.
func (r *PayloadRegistry) Register(factory func() Payload) {
	sample := factory()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[schemaKey{sample.Schema(), sample.SchemaVersion()}] = factory
}

// Registered lists the registered schema names with versions, sorted.
func (r *PayloadRegistry) Registered() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, fmt.Sprintf("%s/v%d", k.schema, k.version))
	}
	sort.Strings(out)
	return out
}

// Encode wraps p in an envelope and marshals it.
func (r *PayloadRegistry) Encode(p Payload) ([]byte, error) {
	if p == nil {
		return nil, NewValidationError("payload", "is required")
	}
	r.mu.RLock()
	_, ok := r.factories[schemaKey{p.Schema(), p.SchemaVersion()}]
	r.mu.RUnlock()
	if !ok {
		return nil, NewValidationError("payload", fmt.Sprintf("unregistered schema %s v%d", p.Schema(), p.SchemaVersion()))
	}

	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", p.Schema(), err)
	}
	return json.Marshal(Envelope{Schema: p.Schema(), Version: p.SchemaVersion(), Data: data})
}

// Decode unmarshals an envelope into its registered Go type.
// Unknown schemas or versions are input errors.
func (r *PayloadRegistry) Decode(raw []byte) (Payload, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, NewValidationError("payload", "malformed envelope: "+err.Error())
	}
	if env.Schema == "" || env.Version < 1 {
		return nil, NewValidationError("payload", "envelope missing schema or version")
	}

	r.mu.RLock()
	factory, ok := r.factories[schemaKey{env.Schema, env.Version}]
	r.mu.RUnlock()
	if !ok {
		return nil, NewValidationError("payload", fmt.Sprintf("unknown schema %s v%d", env.Schema, env.Version))
	}

	p := factory()
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, p); err != nil {
			return nil, NewValidationError("payload", fmt.Sprintf("decode %s v%d: %v", env.Schema, env.Version, err))
		}
	}
	return p, nil
}

// Payloads is the registry of every payload type the service persists.
var Payloads = func() *PayloadRegistry {
	r := NewPayloadRegistry()
	r.Register(func() Payload { return &ContentV1{} })
	r.Register(func() Payload { return &IdentityProfileV1{} })
	r.Register(func() Payload { return &PerformanceReportV1{} })
	r.Register(func() Payload { return &VoiceAlignmentV1{} })
	r.Register(func() Payload { return &QualityScoreV1{} })
	r.Register(func() Payload { return &RevisionNoteV1{} })
	r.Register(func() Payload { return &HumanFeedbackV1{} })
	r.Register(func() Payload { return &IdentityAssessmentV1{} })
	r.Register(func() Payload { return &PerformanceMetricV1{} })
	return r
}()

// EncodePayload encodes p with the service registry.
func EncodePayload(p Payload) ([]byte, error) {
	return Payloads.Encode(p)
}

// DecodePayload decodes raw with the service registry.
func DecodePayload(raw []byte) (Payload, error) {
	return Payloads.Decode(raw)
}

// DecodeAs decodes raw and asserts the result is a T.
func DecodeAs[T Payload](raw []byte) (T, error) {
	var zero T
	p, err := DecodePayload(raw)
	if err != nil {
		return zero, err
	}
	typed, ok := p.(T)
	if !ok {
		return zero, NewValidationError("payload", fmt.Sprintf("schema %s v%d is not %T", p.Schema(), p.SchemaVersion(), zero))
	}
	return typed, nil
}

// ContentStatus is the editorial state recorded in a content payload.
type ContentStatus string

const (
	ContentStatusDraft    ContentStatus = "draft"
	ContentStatusApproved ContentStatus = "approved"
	ContentStatusArchived ContentStatus = "archived"
)

// ContentV1 is a piece of content produced for a channel.
type ContentV1 struct {
	Title   string        `json:"title"`
	Body    string        `json:"body"`
	Channel string        `json:"channel"`
	Brief   string        `json:"brief,omitempty"`
	Status  ContentStatus `json:"status"`
	// Revision counts how many revise passes produced this body.
	Revision int `json:"revision"`
}

func (*ContentV1) Schema() string     { return string(EntityKindContent) }
func (*ContentV1) SchemaVersion() int { return 1 }

// IdentityProfileV1 describes a tenant's brand voice.
type IdentityProfileV1 struct {
	Handle  string   `json:"handle"`
	Tone    []string `json:"tone"`
	Pillars []string `json:"pillars"`
	Summary string   `json:"summary"`
}

func (*IdentityProfileV1) Schema() string     { return string(EntityKindIdentityProfile) }
func (*IdentityProfileV1) SchemaVersion() int { return 1 }

// MetricSummary aggregates one metric across a reporting window.
type MetricSummary struct {
	Name    string  `json:"name"`
	Total   float64 `json:"total"`
	Mean    float64 `json:"mean"`
	Samples int     `json:"samples"`
}

// PerformanceReportV1 summarizes metrics collected in a window.
type PerformanceReportV1 struct {
	WindowStart     time.Time       `json:"windowStart"`
	WindowEnd       time.Time       `json:"windowEnd"`
	EntitiesCovered int             `json:"entitiesCovered"`
	EntitiesSkipped int             `json:"entitiesSkipped"`
	Metrics         []MetricSummary `json:"metrics"`
	Highlights      []string        `json:"highlights,omitempty"`
}

func (*PerformanceReportV1) Schema() string     { return string(EntityKindPerformanceReport) }
func (*PerformanceReportV1) SchemaVersion() int { return 1 }

// VoiceAlignmentV1 scores how closely content matches the identity profile.
type VoiceAlignmentV1 struct {
	Score      float64  `json:"score"`
	Threshold  float64  `json:"threshold"`
	Aligned    bool     `json:"aligned"`
	Deviations []string `json:"deviations,omitempty"`
}

func (*VoiceAlignmentV1) Schema() string     { return string(AnnotationVoiceAlignment) }
func (*VoiceAlignmentV1) SchemaVersion() int { return 1 }

// QualityScoreV1 is a general quality assessment of content.
type QualityScoreV1 struct {
	Score       float64 `json:"score"`
	Readability float64 `json:"readability"`
	WordCount   int     `json:"wordCount"`
}

func (*QualityScoreV1) Schema() string     { return string(AnnotationQualityScore) }
func (*QualityScoreV1) SchemaVersion() int { return 1 }

// RevisionNoteV1 explains why a new content version was staged.
type RevisionNoteV1 struct {
	FromVersion int      `json:"fromVersion"`
	ToVersion   int      `json:"toVersion"`
	Reason      string   `json:"reason"`
	Changes     []string `json:"changes,omitempty"`
}

func (*RevisionNoteV1) Schema() string     { return string(AnnotationRevisionNote) }
func (*RevisionNoteV1) SchemaVersion() int { return 1 }

// HumanFeedbackV1 records a reviewer's decision on a task.
type HumanFeedbackV1 struct {
	TaskID   string `json:"taskId"`
	Reviewer string `json:"reviewer,omitempty"`
	Approved bool   `json:"approved"`
	Comments string `json:"comments,omitempty"`
}

func (*HumanFeedbackV1) Schema() string     { return string(AnnotationHumanFeedback) }
func (*HumanFeedbackV1) SchemaVersion() int { return 1 }

// IdentityAssessmentV1 evaluates consistency of a tenant's published voice.
type IdentityAssessmentV1 struct {
	Consistency    float64  `json:"consistency"`
	Traits         []string `json:"traits"`
	Gaps           []string `json:"gaps,omitempty"`
	Recommendation string   `json:"recommendation"`
}

func (*IdentityAssessmentV1) Schema() string     { return string(AnnotationIdentityAssessment) }
func (*IdentityAssessmentV1) SchemaVersion() int { return 1 }

// PerformanceMetricV1 is one observed metric value for a content entity.
type PerformanceMetricV1 struct {
	Name       string    `json:"name"`
	Value      float64   `json:"value"`
	Channel    string    `json:"channel,omitempty"`
	ObservedAt time.Time `json:"observedAt"`
}

func (*PerformanceMetricV1) Schema() string     { return string(AnnotationPerformanceMetric) }
func (*PerformanceMetricV1) SchemaVersion() int { return 1 }
