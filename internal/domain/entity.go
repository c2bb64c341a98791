package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EntityKind is the closed set of versioned business objects.
// These values must match the entities.kind check constraint.
type EntityKind string

const (
	EntityKindContent           EntityKind = "content"
	EntityKindIdentityProfile   EntityKind = "identity_profile"
	EntityKindPerformanceReport EntityKind = "performance_report"
)

// EntityKinds lists every entity kind in declaration order.
var EntityKinds = []EntityKind{EntityKindContent, EntityKindIdentityProfile, EntityKindPerformanceReport}

// Valid reports whether k is a known entity kind.
func (k EntityKind) Valid() bool {
	switch k {
	case EntityKindContent, EntityKindIdentityProfile, EntityKindPerformanceReport:
		return true
	default:
		return false
	}
}

// AnnotationType is the closed set of observation types activities exchange.
// These values must match the annotations.annotation_type check constraint.
type AnnotationType string

const (
	AnnotationVoiceAlignment     AnnotationType = "voice_alignment"
	AnnotationQualityScore       AnnotationType = "quality_score"
	AnnotationRevisionNote       AnnotationType = "revision_note"
	AnnotationHumanFeedback      AnnotationType = "human_feedback"
	AnnotationIdentityAssessment AnnotationType = "identity_assessment"
	AnnotationPerformanceMetric  AnnotationType = "performance_metric"
)

// AnnotationTypes lists every annotation type in declaration order.
var AnnotationTypes = []AnnotationType{
	AnnotationVoiceAlignment,
	AnnotationQualityScore,
	AnnotationRevisionNote,
	AnnotationHumanFeedback,
	AnnotationIdentityAssessment,
	AnnotationPerformanceMetric,
}

// Valid reports whether t is a known annotation type.
func (t AnnotationType) Valid() bool {
	for _, known := range AnnotationTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Entity is one immutable version row of a versioned business object.
// Exactly one row per EntityGroupID has IsCurrent set.
type Entity struct {
	ID             uuid.UUID       `json:"id"`
	EntityGroupID  uuid.UUID       `json:"entityGroupId"`
	TenantID       string          `json:"tenantId"`
	Kind           EntityKind      `json:"kind"`
	Version        int             `json:"version"`
	IsCurrent      bool            `json:"isCurrent"`
	Payload        json.RawMessage `json:"payload"`
	CreatedBy      string          `json:"createdBy"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	SupersededAt   *time.Time      `json:"supersededAt,omitempty"`
}

// Ref returns the lightweight reference passed between workflow steps.
func (e *Entity) Ref() EntityRef {
	return EntityRef{
		EntityGroupID: e.EntityGroupID,
		EntityID:      e.ID,
		Version:       e.Version,
		Kind:          e.Kind,
	}
}

// EntityRef identifies one version of an entity without its payload.
// Workflows carry refs, never payloads; activities re-read the store.
type EntityRef struct {
	EntityGroupID uuid.UUID  `json:"entityGroupId"`
	EntityID      uuid.UUID  `json:"entityId"`
	Version       int        `json:"version"`
	Kind          EntityKind `json:"kind"`
}

// IsZero reports whether the ref points at nothing.
func (r EntityRef) IsZero() bool {
	return r.EntityGroupID == uuid.Nil
}

// StageParams describes a new version to stage for an entity group.
type StageParams struct {
	EntityGroupID uuid.UUID
	Kind          EntityKind
	TenantID      string
	// ExpectedVersion is the version the caller last observed as current; 0 means
	// the caller expects the group to have no versions yet.
	ExpectedVersion int
	Payload         Payload
	CreatedBy       string
	// IdempotencyKey, when set, makes a retried stage return the version an
	// earlier attempt with the same key already committed.
	IdempotencyKey string
}

// Validate checks the stage parameters.
func (p StageParams) Validate() error {
	if p.EntityGroupID == uuid.Nil {
		return NewValidationError("entityGroupId", "is required")
	}
	if !p.Kind.Valid() {
		return NewValidationError("kind", "unknown entity kind "+string(p.Kind))
	}
	if p.TenantID == "" {
		return NewValidationError("tenantId", "is required")
	}
	if p.ExpectedVersion < 0 {
		return NewValidationError("expectedVersion", "must not be negative")
	}
	if p.Payload == nil {
		return NewValidationError("payload", "is required")
	}
	if p.Payload.Schema() != string(p.Kind) {
		return NewValidationError("payload", "schema "+p.Payload.Schema()+" does not match kind "+string(p.Kind))
	}
	if p.CreatedBy == "" {
		return NewValidationError("createdBy", "is required")
	}
	return nil
}

// Annotation is an immutable observation about one entity version.
type Annotation struct {
	ID             uuid.UUID       `json:"id"`
	Seq            int64           `json:"seq"`
	EntityID       uuid.UUID       `json:"entityId"`
	EntityGroupID  uuid.UUID       `json:"entityGroupId"`
	TenantID       string          `json:"tenantId"`
	AnnotationType AnnotationType  `json:"annotationType"`
	Producer       string          `json:"producer"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// AnnotateParams describes an annotation to append.
type AnnotateParams struct {
	EntityID       uuid.UUID
	AnnotationType AnnotationType
	Producer       string
	Payload        Payload
	// IdempotencyKey, when set, makes a repeated write with the same key on
	// the same entity return the annotation the first write appended.
	IdempotencyKey string
}

// Validate checks the annotate parameters.
func (p AnnotateParams) Validate() error {
	if p.EntityID == uuid.Nil {
		return NewValidationError("entityId", "is required")
	}
	if !p.AnnotationType.Valid() {
		return NewValidationError("annotationType", "unknown annotation type "+string(p.AnnotationType))
	}
	if p.Producer == "" {
		return NewValidationError("producer", "is required")
	}
	if p.Payload == nil {
		return NewValidationError("payload", "is required")
	}
	if p.Payload.Schema() != string(p.AnnotationType) {
		return NewValidationError("payload", "schema "+p.Payload.Schema()+" does not match type "+string(p.AnnotationType))
	}
	return nil
}

// AnnotationFilter narrows an annotation read. Zero values mean "any".
type AnnotationFilter struct {
	Type  AnnotationType
	Since time.Time
}
