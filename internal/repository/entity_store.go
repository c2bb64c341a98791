package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/unlock/orchestration-service/internal/domain"
)

// EntityStore persists versioned entities and their annotations. It is the only
// channel through which activities exchange context.
type EntityStore interface {
	// StageVersion atomically supersedes the current version of the group and
	// inserts a new current version. Returns domain.ErrConcurrencyConflict when
	// params.ExpectedVersion does not match the current version (0 = none).
	// A retried call carrying an idempotency key that already committed returns
	// that version instead of staging again.
	StageVersion(ctx context.Context, params domain.StageParams) (*domain.Entity, error)

	// GetCurrent returns the current version of a group.
	GetCurrent(ctx context.Context, tenantID string, entityGroupID uuid.UUID) (*domain.Entity, error)

	// GetVersion returns one version row by its id.
	GetVersion(ctx context.Context, tenantID string, entityID uuid.UUID) (*domain.Entity, error)

	// ListVersions returns every version of a group, oldest first.
	ListVersions(ctx context.Context, tenantID string, entityGroupID uuid.UUID) ([]*domain.Entity, error)

	// Annotate appends an immutable annotation to an entity version. Timestamps
	// are strictly increasing per entity.
	Annotate(ctx context.Context, params domain.AnnotateParams) (*domain.Annotation, error)

	// ReadAnnotations returns annotations of one entity version ordered by
	// (created_at, seq). Returns an empty slice when none match.
	ReadAnnotations(ctx context.Context, entityID uuid.UUID, filter domain.AnnotationFilter) ([]*domain.Annotation, error)

	// ReadGroupAnnotations returns annotations across all versions of a group
	// ordered by (created_at, seq). Returns an empty slice when none match.
	ReadGroupAnnotations(ctx context.Context, entityGroupID uuid.UUID, filter domain.AnnotationFilter) ([]*domain.Annotation, error)

	// LatestAnnotation returns the most recent annotation of a type, for callers
	// that explicitly want only the newest observation.
	LatestAnnotation(ctx context.Context, entityID uuid.UUID, annotationType domain.AnnotationType) (*domain.Annotation, error)
}

var _ EntityStore = (*PgEntityStore)(nil)

// PgEntityStore is a PostgreSQL implementation of EntityStore.
type PgEntityStore struct {
	db DBTX
}

// NewPgEntityStore creates a new PostgreSQL entity store.
func NewPgEntityStore(db DBTX) *PgEntityStore {
	return &PgEntityStore{db: db}
}

const entityColumns = `id, entity_group_id, tenant_id, kind, version, is_current, payload,
	created_by, idempotency_key, created_at, superseded_at`

const annotationColumns = `id, seq, entity_id, entity_group_id, tenant_id, annotation_type,
	producer, payload, created_at`

// StageVersion stages a new current version of an entity group.
func (s *PgEntityStore) StageVersion(ctx context.Context, params domain.StageParams) (*domain.Entity, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	payload, err := domain.EncodePayload(params.Payload)
	if err != nil {
		return nil, err
	}

	var staged *domain.Entity
	err = withTx(ctx, s.db, func(tx DBTX) error {
		var err error
		staged, err = stageInTx(ctx, tx, params, payload)
		return err
	})
	if err != nil {
		if isPgUniqueViolation(err) {
			return nil, domain.NewConcurrencyConflictError(params.EntityGroupID.String(), params.ExpectedVersion, -1)
		}
		if errors.Is(err, domain.ErrConcurrencyConflict) || errors.Is(err, domain.ErrInvalidInput) ||
			errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to stage version: %w", err)
	}
	return staged, nil
}

func stageInTx(ctx context.Context, tx DBTX, params domain.StageParams, payload []byte) (*domain.Entity, error) {
	if params.IdempotencyKey != "" {
		prior, err := scanEntity(tx.QueryRow(ctx,
			`SELECT `+entityColumns+` FROM entities WHERE entity_group_id = $1 AND idempotency_key = $2`,
			params.EntityGroupID, params.IdempotencyKey))
		if err == nil {
			return prior, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to check idempotency key: %w", err)
		}
	}

	current, err := scanEntity(tx.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE entity_group_id = $1 AND is_current FOR UPDATE`,
		params.EntityGroupID))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to lock current version: %w", err)
	}

	actual := 0
	if current != nil {
		if current.TenantID != params.TenantID {
			return nil, domain.NewNotFoundError("entity group", params.EntityGroupID.String())
		}
		if current.Kind != params.Kind {
			return nil, domain.NewValidationError("kind",
				fmt.Sprintf("entity group is %s, not %s", current.Kind, params.Kind))
		}
		actual = current.Version
	}
	if params.ExpectedVersion != actual {
		return nil, domain.NewConcurrencyConflictError(params.EntityGroupID.String(), params.ExpectedVersion, actual)
	}

	now := time.Now().UTC()
	if current != nil {
		if _, err := tx.Exec(ctx,
			`UPDATE entities SET is_current = FALSE, superseded_at = $2 WHERE id = $1 AND is_current`,
			current.ID, now); err != nil {
			return nil, err
		}
	}

	entity := &domain.Entity{
		ID:             uuid.New(),
		EntityGroupID:  params.EntityGroupID,
		TenantID:       params.TenantID,
		Kind:           params.Kind,
		Version:        actual + 1,
		IsCurrent:      true,
		Payload:        payload,
		CreatedBy:      params.CreatedBy,
		IdempotencyKey: params.IdempotencyKey,
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO entities (
			id, entity_group_id, tenant_id, kind, version, is_current, payload,
			created_by, idempotency_key, created_at
		) VALUES ($1, $2, $3, $4, $5, TRUE, $6, $7, $8, $9)
		RETURNING created_at`,
		entity.ID, entity.EntityGroupID, entity.TenantID, entity.Kind, entity.Version, payload,
		entity.CreatedBy, nullString(entity.IdempotencyKey), now,
	).Scan(&entity.CreatedAt)
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// GetCurrent returns the current version of a group.
func (s *PgEntityStore) GetCurrent(ctx context.Context, tenantID string, entityGroupID uuid.UUID) (*domain.Entity, error) {
	e, err := scanEntity(s.db.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE entity_group_id = $1 AND tenant_id = $2 AND is_current`,
		entityGroupID, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("entity group", entityGroupID.String())
		}
		return nil, fmt.Errorf("failed to get current entity: %w", err)
	}
	return e, nil
}

// GetVersion returns one version row by its id.
func (s *PgEntityStore) GetVersion(ctx context.Context, tenantID string, entityID uuid.UUID) (*domain.Entity, error) {
	e, err := scanEntity(s.db.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = $1 AND tenant_id = $2`,
		entityID, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("entity", entityID.String())
		}
		return nil, fmt.Errorf("failed to get entity version: %w", err)
	}
	return e, nil
}

// ListVersions returns every version of a group, oldest first.
func (s *PgEntityStore) ListVersions(ctx context.Context, tenantID string, entityGroupID uuid.UUID) ([]*domain.Entity, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE entity_group_id = $1 AND tenant_id = $2 ORDER BY version`,
		entityGroupID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entity versions: %w", err)
	}
	defer rows.Close()

	versions := make([]*domain.Entity, 0)
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity version: %w", err)
		}
		versions = append(versions, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entity versions: %w", err)
	}
	if len(versions) == 0 {
		return nil, domain.NewNotFoundError("entity group", entityGroupID.String())
	}
	return versions, nil
}

// Annotate appends an annotation. The entity row supplies group and tenant, and
// created_at is bumped past the entity's newest annotation so per-entity
// timestamps never go backwards. A write whose idempotency key the entity
// already carries returns the existing row instead.
func (s *PgEntityStore) Annotate(ctx context.Context, params domain.AnnotateParams) (*domain.Annotation, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	payload, err := domain.EncodePayload(params.Payload)
	if err != nil {
		return nil, err
	}

	a := &domain.Annotation{
		ID:             uuid.New(),
		EntityID:       params.EntityID,
		AnnotationType: params.AnnotationType,
		Producer:       params.Producer,
		Payload:        payload,
	}

	err = s.db.QueryRow(ctx, `
		INSERT INTO annotations (
			id, entity_id, entity_group_id, tenant_id, annotation_type, producer, payload, idempotency_key, created_at
		)
		SELECT $1, e.id, e.entity_group_id, e.tenant_id, $3, $4, $5, $6,
			GREATEST(
				clock_timestamp(),
				COALESCE(
					(SELECT MAX(prev.created_at) FROM annotations prev WHERE prev.entity_id = e.id),
					'-infinity'::timestamptz
				) + INTERVAL '1 microsecond'
			)
		FROM entities e
		WHERE e.id = $2
		ON CONFLICT (entity_id, idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
		RETURNING seq, entity_group_id, tenant_id, created_at`,
		a.ID, a.EntityID, a.AnnotationType, a.Producer, payload, nullString(params.IdempotencyKey),
	).Scan(&a.Seq, &a.EntityGroupID, &a.TenantID, &a.CreatedAt)
	if err == nil {
		return a, nil
	}
	if isPgForeignKeyViolation(err) {
		return nil, domain.NewNotFoundError("entity", params.EntityID.String())
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to insert annotation: %w", err)
	}
	if params.IdempotencyKey == "" {
		return nil, domain.NewNotFoundError("entity", params.EntityID.String())
	}

	// No row back: either the entity is missing or the key already wrote one.
	existing, err := scanAnnotation(s.db.QueryRow(ctx,
		`SELECT `+annotationColumns+` FROM annotations WHERE entity_id = $1 AND idempotency_key = $2`,
		params.EntityID, params.IdempotencyKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewNotFoundError("entity", params.EntityID.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load annotation by idempotency key: %w", err)
	}
	return existing, nil
}

// ReadAnnotations returns annotations of one entity version.
func (s *PgEntityStore) ReadAnnotations(ctx context.Context, entityID uuid.UUID, filter domain.AnnotationFilter) ([]*domain.Annotation, error) {
	return s.readAnnotations(ctx, "entity_id", entityID, filter)
}

// ReadGroupAnnotations returns annotations across all versions of a group.
func (s *PgEntityStore) ReadGroupAnnotations(ctx context.Context, entityGroupID uuid.UUID, filter domain.AnnotationFilter) ([]*domain.Annotation, error) {
	return s.readAnnotations(ctx, "entity_group_id", entityGroupID, filter)
}

func (s *PgEntityStore) readAnnotations(ctx context.Context, keyColumn string, key uuid.UUID, filter domain.AnnotationFilter) ([]*domain.Annotation, error) {
	conditions := []string{keyColumn + " = $1"}
	args := []interface{}{key}

	if filter.Type != "" {
		if !filter.Type.Valid() {
			return nil, domain.NewValidationError("type", "unknown annotation type "+string(filter.Type))
		}
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("annotation_type = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	query := `SELECT ` + annotationColumns + ` FROM annotations WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY created_at, seq`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read annotations: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Annotation, 0)
	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan annotation: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate annotations: %w", err)
	}
	return out, nil
}

// LatestAnnotation returns the newest annotation of a type on an entity version.
func (s *PgEntityStore) LatestAnnotation(ctx context.Context, entityID uuid.UUID, annotationType domain.AnnotationType) (*domain.Annotation, error) {
	a, err := scanAnnotation(s.db.QueryRow(ctx,
		`SELECT `+annotationColumns+` FROM annotations
		WHERE entity_id = $1 AND annotation_type = $2
		ORDER BY created_at DESC, seq DESC LIMIT 1`,
		entityID, annotationType))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError(string(annotationType)+" annotation", entityID.String())
		}
		return nil, fmt.Errorf("failed to get latest annotation: %w", err)
	}
	return a, nil
}

func scanEntity(row pgx.Row) (*domain.Entity, error) {
	var (
		e              domain.Entity
		payload        []byte
		idempotencyKey *string
	)
	err := row.Scan(
		&e.ID, &e.EntityGroupID, &e.TenantID, &e.Kind, &e.Version, &e.IsCurrent, &payload,
		&e.CreatedBy, &idempotencyKey, &e.CreatedAt, &e.SupersededAt,
	)
	if err != nil {
		return nil, err
	}
	e.Payload = payload
	e.IdempotencyKey = derefString(idempotencyKey)
	return &e, nil
}

func scanAnnotation(row pgx.Row) (*domain.Annotation, error) {
	var (
		a       domain.Annotation
		payload []byte
	)
	err := row.Scan(
		&a.ID, &a.Seq, &a.EntityID, &a.EntityGroupID, &a.TenantID, &a.AnnotationType,
		&a.Producer, &payload, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Payload = payload
	return &a, nil
}
