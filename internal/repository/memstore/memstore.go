// Package memstore provides in-memory implementations of the repository
// interfaces. They follow the same contracts as the Postgres stores and back
// activity, workflow and handler tests.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unlock/orchestration-service/internal/domain"
	"github.com/unlock/orchestration-service/internal/repository"
)

var (
	_ repository.EntityStore        = (*Store)(nil)
	_ repository.TaskRepository     = (*Store)(nil)
	_ repository.RunAuditRepository = (*Audits)(nil)
)

// Store holds entities, annotations and tasks in memory.
type Store struct {
	mu          sync.Mutex
	now         func() time.Time
	seq         int64
	entities    map[uuid.UUID]*domain.Entity
	groups      map[uuid.UUID][]uuid.UUID
	annotations []*domain.Annotation
	keys        map[annotationKey]*domain.Annotation
	tasks       map[uuid.UUID]*domain.Task
}

type annotationKey struct {
	entityID uuid.UUID
	key      string
}

// New creates an empty store.
func New() *Store {
	return &Store{
		now:      func() time.Time { return time.Now().UTC() },
		entities: make(map[uuid.UUID]*domain.Entity),
		groups:   make(map[uuid.UUID][]uuid.UUID),
		keys:     make(map[annotationKey]*domain.Annotation),
		tasks:    make(map[uuid.UUID]*domain.Task),
	}
}

// WithClock replaces the time source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// StageVersion stages a new current version.
func (s *Store) StageVersion(_ context.Context, params domain.StageParams) (*domain.Entity, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	payload, err := domain.EncodePayload(params.Payload)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.groups[params.EntityGroupID]
	if params.IdempotencyKey != "" {
		for _, id := range ids {
			if e := s.entities[id]; e.IdempotencyKey == params.IdempotencyKey {
				return cloneEntity(e), nil
			}
		}
	}

	var current *domain.Entity
	if len(ids) > 0 {
		current = s.entities[ids[len(ids)-1]]
		if current.TenantID != params.TenantID {
			return nil, domain.NewNotFoundError("entity group", params.EntityGroupID.String())
		}
		if current.Kind != params.Kind {
			return nil, domain.NewValidationError("kind", "entity group is "+string(current.Kind))
		}
	}
	actual := 0
	if current != nil {
		actual = current.Version
	}
	if params.ExpectedVersion != actual {
		return nil, domain.NewConcurrencyConflictError(params.EntityGroupID.String(), params.ExpectedVersion, actual)
	}

	now := s.now()
	if current != nil {
		current.IsCurrent = false
		superseded := now
		current.SupersededAt = &superseded
	}

	e := &domain.Entity{
		ID:             uuid.New(),
		EntityGroupID:  params.EntityGroupID,
		TenantID:       params.TenantID,
		Kind:           params.Kind,
		Version:        actual + 1,
		IsCurrent:      true,
		Payload:        payload,
		CreatedBy:      params.CreatedBy,
		IdempotencyKey: params.IdempotencyKey,
		CreatedAt:      now,
	}
	s.entities[e.ID] = e
	s.groups[e.EntityGroupID] = append(ids, e.ID)
	return cloneEntity(e), nil
}

// GetCurrent returns the current version of a group.
func (s *Store) GetCurrent(_ context.Context, tenantID string, entityGroupID uuid.UUID) (*domain.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.groups[entityGroupID]
	if len(ids) == 0 {
		return nil, domain.NewNotFoundError("entity group", entityGroupID.String())
	}
	e := s.entities[ids[len(ids)-1]]
	if e.TenantID != tenantID {
		return nil, domain.NewNotFoundError("entity group", entityGroupID.String())
	}
	return cloneEntity(e), nil
}

// GetVersion returns one version row.
func (s *Store) GetVersion(_ context.Context, tenantID string, entityID uuid.UUID) (*domain.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[entityID]
	if !ok || e.TenantID != tenantID {
		return nil, domain.NewNotFoundError("entity", entityID.String())
	}
	return cloneEntity(e), nil
}

// ListVersions returns all versions of a group, oldest first.
func (s *Store) ListVersions(_ context.Context, tenantID string, entityGroupID uuid.UUID) ([]*domain.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.groups[entityGroupID]
	if len(ids) == 0 || s.entities[ids[0]].TenantID != tenantID {
		return nil, domain.NewNotFoundError("entity group", entityGroupID.String())
	}
	out := make([]*domain.Entity, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneEntity(s.entities[id]))
	}
	return out, nil
}

// Annotate appends an annotation.
func (s *Store) Annotate(_ context.Context, params domain.AnnotateParams) (*domain.Annotation, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	payload, err := domain.EncodePayload(params.Payload)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[params.EntityID]
	if !ok {
		return nil, domain.NewNotFoundError("entity", params.EntityID.String())
	}
	k := annotationKey{entityID: e.ID, key: params.IdempotencyKey}
	if params.IdempotencyKey != "" {
		if prev, ok := s.keys[k]; ok {
			out := *prev
			return &out, nil
		}
	}

	createdAt := s.now()
	for i := len(s.annotations) - 1; i >= 0; i-- {
		if prev := s.annotations[i]; prev.EntityID == e.ID {
			if !createdAt.After(prev.CreatedAt) {
				createdAt = prev.CreatedAt.Add(time.Microsecond)
			}
			break
		}
	}

	s.seq++
	a := &domain.Annotation{
		ID:             uuid.New(),
		Seq:            s.seq,
		EntityID:       e.ID,
		EntityGroupID:  e.EntityGroupID,
		TenantID:       e.TenantID,
		AnnotationType: params.AnnotationType,
		Producer:       params.Producer,
		Payload:        payload,
		CreatedAt:      createdAt,
	}
	s.annotations = append(s.annotations, a)
	if params.IdempotencyKey != "" {
		s.keys[k] = a
	}
	out := *a
	return &out, nil
}

// ReadAnnotations returns annotations of one entity version.
func (s *Store) ReadAnnotations(_ context.Context, entityID uuid.UUID, filter domain.AnnotationFilter) ([]*domain.Annotation, error) {
	return s.read(filter, func(a *domain.Annotation) bool { return a.EntityID == entityID })
}

// ReadGroupAnnotations returns annotations across all versions of a group.
func (s *Store) ReadGroupAnnotations(_ context.Context, entityGroupID uuid.UUID, filter domain.AnnotationFilter) ([]*domain.Annotation, error) {
	return s.read(filter, func(a *domain.Annotation) bool { return a.EntityGroupID == entityGroupID })
}

// LatestAnnotation returns the newest annotation of a type.
func (s *Store) LatestAnnotation(ctx context.Context, entityID uuid.UUID, annotationType domain.AnnotationType) (*domain.Annotation, error) {
	all, err := s.ReadAnnotations(ctx, entityID, domain.AnnotationFilter{Type: annotationType})
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, domain.NewNotFoundError(string(annotationType)+" annotation", entityID.String())
	}
	return all[len(all)-1], nil
}

func (s *Store) read(filter domain.AnnotationFilter, match func(*domain.Annotation) bool) ([]*domain.Annotation, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, domain.NewValidationError("type", "unknown annotation type "+string(filter.Type))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Annotation, 0)
	for _, a := range s.annotations {
		if !match(a) {
			continue
		}
		if filter.Type != "" && a.AnnotationType != filter.Type {
			continue
		}
		if !filter.Since.IsZero() && a.CreatedAt.Before(filter.Since) {
			continue
		}
		c := *a
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Create inserts a pending task.
func (s *Store) Create(_ context.Context, task *domain.Task) (*domain.Task, error) {
	if task == nil || task.TenantID == "" {
		return nil, domain.NewValidationError("tenantId", "is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if existing, ok := s.tasks[task.ID]; ok {
		return cloneTask(existing), nil
	}

	stored := cloneTask(task)
	stored.Status = domain.TaskStatusPending
	stored.CreatedAt = s.now()
	stored.UpdatedAt = stored.CreatedAt
	if len(stored.Context) == 0 {
		stored.Context = json.RawMessage(`{}`)
	}
	s.tasks[stored.ID] = stored
	return cloneTask(stored), nil
}

// Get retrieves a task.
func (s *Store) Get(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, domain.NewNotFoundError("task", id.String())
	}
	return cloneTask(t), nil
}

// Transition applies a conditional status update.
func (s *Store) Transition(_ context.Context, id uuid.UUID, to domain.TaskStatus, response json.RawMessage) (*domain.Task, bool, error) {
	if !to.Valid() {
		return nil, false, domain.NewValidationError("status", "unknown task status "+string(to))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, false, domain.NewNotFoundError("task", id.String())
	}
	if t.Status == to {
		return cloneTask(t), false, nil
	}
	if !t.Status.CanTransitionTo(to) {
		return nil, false, domain.NewInvalidTransitionError("task", string(t.Status), string(to))
	}

	now := s.now()
	t.Status = to
	t.UpdatedAt = now
	if len(response) > 0 {
		t.Response = append(json.RawMessage(nil), response...)
	}
	if to.IsTerminal() {
		t.ResolvedAt = &now
	}
	return cloneTask(t), true, nil
}

// List returns tasks of a tenant, newest first.
func (s *Store) List(_ context.Context, filter repository.TaskFilter) ([]*domain.Task, error) {
	if filter.TenantID == "" {
		return nil, domain.NewValidationError("tenantId", "is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Task, 0)
	for _, t := range s.tasks {
		if t.TenantID != filter.TenantID {
			continue
		}
		if filter.WorkflowID != "" && t.WorkflowID != filter.WorkflowID {
			continue
		}
		if len(filter.Status) > 0 && !containsStatus(filter.Status, t.Status) {
			continue
		}
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Audits holds run audit rows in memory.
type Audits struct {
	mu   sync.Mutex
	rows map[string]*domain.RunAudit
}

// NewAudits creates an empty audit store.
func NewAudits() *Audits {
	return &Audits{rows: make(map[string]*domain.RunAudit)}
}

// Open records a running audit row.
func (s *Audits) Open(_ context.Context, audit *domain.RunAudit) error {
	if audit == nil || audit.WorkflowID == "" || audit.RunID == "" {
		return domain.NewValidationError("workflowId", "workflow id and run id are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := audit.WorkflowID + "/" + audit.RunID
	if _, ok := s.rows[key]; ok {
		return nil
	}
	stored := *audit
	stored.Status = domain.RunStatusRunning
	if stored.StartedAt.IsZero() {
		stored.StartedAt = time.Now().UTC()
	}
	s.rows[key] = &stored
	return nil
}

// Close records the terminal status of a run.
func (s *Audits) Close(_ context.Context, workflowID, runID string, status domain.RunStatus, errorMessage string, summary json.RawMessage) error {
	if !status.IsTerminal() {
		return domain.NewValidationError("status", "close requires a terminal status, got "+string(status))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.rows[workflowID+"/"+runID]
	if !ok || a.Status != domain.RunStatusRunning {
		return nil
	}
	now := time.Now().UTC()
	duration := now.Sub(a.StartedAt).Milliseconds()
	a.Status = status
	a.CompletedAt = &now
	a.DurationMs = &duration
	a.ErrorMessage = errorMessage
	a.Summary = summary
	return nil
}

// Get retrieves a run audit row.
func (s *Audits) Get(_ context.Context, workflowID, runID string) (*domain.RunAudit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.rows[workflowID+"/"+runID]
	if !ok {
		return nil, domain.NewNotFoundError("run audit", workflowID+"/"+runID)
	}
	out := *a
	return &out, nil
}

func containsStatus(list []domain.TaskStatus, s domain.TaskStatus) bool {
	for _, candidate := range list {
		if candidate == s {
			return true
		}
	}
	return false
}

func cloneEntity(e *domain.Entity) *domain.Entity {
	out := *e
	out.Payload = append(json.RawMessage(nil), e.Payload...)
	return &out
}

func cloneTask(t *domain.Task) *domain.Task {
	out := *t
	return &out
}
