package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/unlock/orchestration-service/internal/database"
	"github.com/unlock/orchestration-service/internal/domain"
)

// DefaultMaxAttempts is the default number of publish attempts per event.
const DefaultMaxAttempts = 5

// Record is a claimed outbox row.
type Record struct {
	Event       *domain.Event
	Attempts    int
	MaxAttempts int
}

// Result is the outcome of publishing one claimed record.
type Result struct {
	EventID string
	Err     error
}

// Store persists outbox events.
type Store interface {
	// Insert writes a pending event. When tx is nil the store's own connection is
	// used; pass a transaction to commit the event with other writes.
	Insert(ctx context.Context, tx database.DBTX, event *domain.Event) error

	// Process claims up to limit pending rows, hands them to fn and records the
	// per-event results fn returns, all in one transaction. Returns the number of
	// rows marked published and failed.
	Process(ctx context.Context, limit int, fn func(ctx context.Context, records []Record) []Result) (published, failed int, err error)
}

var _ Store = (*PgStore)(nil)

// PgStore is a PostgreSQL implementation of Store.
type PgStore struct {
	db          database.DBTX
	maxAttempts int
}

// NewPgStore creates an outbox store. maxAttempts <= 0 uses DefaultMaxAttempts.
func NewPgStore(db database.DBTX, maxAttempts int) *PgStore {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &PgStore{db: db, maxAttempts: maxAttempts}
}

// Insert writes a pending event.
func (s *PgStore) Insert(ctx context.Context, tx database.DBTX, event *domain.Event) error {
	if event == nil {
		return fmt.Errorf("outbox: event is required")
	}
	q := tx
	if q == nil {
		q = s.db
	}

	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("outbox: marshal metadata: %w", err)
	}
	if event.Metadata == nil {
		metadata = []byte(`{}`)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO outbox_events (
			event_id, aggregate_id, aggregate_type, event_type, tenant_id,
			payload, metadata, max_attempts, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO NOTHING`,
		event.EventID, event.EntityRef, event.AggregateType, event.EventType, event.TenantID,
		[]byte(event.Data), metadata, s.maxAttempts, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("outbox: insert event: %w", err)
	}
	return nil
}

type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Process claims pending rows and records publish results.
func (s *PgStore) Process(ctx context.Context, limit int, fn func(ctx context.Context, records []Record) []Result) (int, int, error) {
	b, ok := s.db.(beginner)
	if !ok {
		return 0, 0, fmt.Errorf("outbox: store connection cannot begin transactions")
	}
	if limit <= 0 {
		limit = 100
	}

	tx, err := b.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("outbox: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := claim(ctx, tx, limit)
	if err != nil {
		return 0, 0, err
	}
	if len(records) == 0 {
		return 0, 0, tx.Commit(ctx)
	}

	results := fn(ctx, records)
	byID := make(map[string]error, len(results))
	for _, r := range results {
		byID[r.EventID] = r.Err
	}

	var published, failed int
	now := time.Now().UTC()
	for _, rec := range records {
		publishErr, reported := byID[rec.Event.EventID]
		if !reported {
			publishErr = fmt.Errorf("no publish result")
		}
		if publishErr == nil {
			if _, err := tx.Exec(ctx,
				`UPDATE outbox_events SET status = 'published', attempts = attempts + 1, published_at = $2, last_error = NULL
				WHERE event_id = $1`,
				rec.Event.EventID, now); err != nil {
				return 0, 0, fmt.Errorf("outbox: mark published: %w", err)
			}
			published++
			continue
		}

		status := "pending"
		if rec.Attempts+1 >= rec.MaxAttempts {
			status = "failed"
		}
		if _, err := tx.Exec(ctx,
			`UPDATE outbox_events SET status = $2, attempts = attempts + 1, last_error = $3
			WHERE event_id = $1`,
			rec.Event.EventID, status, publishErr.Error()); err != nil {
			return 0, 0, fmt.Errorf("outbox: mark failed: %w", err)
		}
		failed++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("outbox: commit: %w", err)
	}
	return published, failed, nil
}

func claim(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error) {
	rows, err := tx.Query(ctx, `
		SELECT event_id, aggregate_id, aggregate_type, event_type, tenant_id,
			payload, metadata, attempts, max_attempts, created_at
		FROM outbox_events
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: claim: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			ev       domain.Event
			payload  []byte
			metadata []byte
			rec      Record
		)
		if err := rows.Scan(
			&ev.EventID, &ev.EntityRef, &ev.AggregateType, &ev.EventType, &ev.TenantID,
			&payload, &metadata, &rec.Attempts, &rec.MaxAttempts, &ev.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("outbox: scan: %w", err)
		}
		ev.Data = payload
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("outbox: decode metadata of %s: %w", ev.EventID, err)
			}
		}
		rec.Event = &ev
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: iterate: %w", err)
	}
	return records, nil
}
