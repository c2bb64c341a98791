package activities

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/unlock/orchestration-service/internal/domain"
	"github.com/unlock/orchestration-service/internal/repository"
)

// Scope is an activity's view of the annotation protocol. It lets the
// activity read and write only the annotation types its catalog entry
// declares; anything else is a permanent error.
type Scope struct {
	spec   Spec
	store  repository.EntityStore
	writes map[string]int
}

// NewScope builds the accessor for the named activity.
func NewScope(name string, store repository.EntityStore) (*Scope, error) {
	s, err := Lookup(name)
	if err != nil {
		return nil, domain.NewPermanentError("annotation scope", err)
	}
	return &Scope{spec: s, store: store, writes: make(map[string]int)}, nil
}

func (s *Scope) checkRead(t domain.AnnotationType) error {
	if !s.spec.CanRead(t) {
		return domain.NewPermanentError("annotation scope",
			fmt.Errorf("activity %s does not declare reads of %s", s.spec.Name, t))
	}
	return nil
}

// Read returns annotations of type t on one entity version created at or after since.
func (s *Scope) Read(ctx context.Context, entityID uuid.UUID, t domain.AnnotationType, since time.Time) ([]*domain.Annotation, error) {
	if err := s.checkRead(t); err != nil {
		return nil, err
	}
	return s.store.ReadAnnotations(ctx, entityID, domain.AnnotationFilter{Type: t, Since: since})
}

// ReadGroup returns annotations of type t across every version of a group.
func (s *Scope) ReadGroup(ctx context.Context, entityGroupID uuid.UUID, t domain.AnnotationType, since time.Time) ([]*domain.Annotation, error) {
	if err := s.checkRead(t); err != nil {
		return nil, err
	}
	return s.store.ReadGroupAnnotations(ctx, entityGroupID, domain.AnnotationFilter{Type: t, Since: since})
}

// Write appends an annotation whose type is the payload's schema. The
// producer is the activity type. Inside an activity every write is keyed by
// the invocation, the type, the entity and its position among this scope's
// writes of that pair, so a retried attempt replaying the same writes gets
// the rows of the earlier attempt back.
func (s *Scope) Write(ctx context.Context, entityID uuid.UUID, payload domain.Payload) (*domain.Annotation, error) {
	if payload == nil {
		return nil, domain.NewValidationError("payload", "is required")
	}
	t := domain.AnnotationType(payload.Schema())
	if !s.spec.CanWrite(t) {
		return nil, domain.NewPermanentError("annotation scope",
			fmt.Errorf("activity %s does not declare writes of %s", s.spec.Name, t))
	}
	return s.store.Annotate(ctx, domain.AnnotateParams{
		EntityID:       entityID,
		AnnotationType: t,
		Producer:       s.spec.Name,
		Payload:        payload,
		IdempotencyKey: s.writeKey(ctx, entityID, t),
	})
}

func (s *Scope) writeKey(ctx context.Context, entityID uuid.UUID, t domain.AnnotationType) string {
	if !activity.IsActivity(ctx) {
		return ""
	}
	key := idempotencyKey(ctx) + "/" + string(t) + "/" + entityID.String()
	n := s.writes[key]
	s.writes[key] = n + 1
	if n > 0 {
		key += "#" + strconv.Itoa(n)
	}
	return key
}

// decodeAll decodes annotation payloads as T, in order.
func decodeAll[T domain.Payload](annotations []*domain.Annotation) ([]T, error) {
	out := make([]T, 0, len(annotations))
	for _, a := range annotations {
		p, err := domain.DecodeAs[T](a.Payload)
		if err != nil {
			return nil, domain.NewPermanentError("annotation "+a.ID.String(), err)
		}
		out = append(out, p)
	}
	return out, nil
}
