package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store reads and writes the outbox table.
type Store struct {
	pool  *pgxpool.Pool
	lease time.Duration
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, lease: time.Minute}
}

// WithLease sets how long a claimed message stays invisible to other relays.
func (s *Store) WithLease(d time.Duration) *Store {
	if d > 0 {
		s.lease = d
	}
	return s
}

// Enqueue inserts an event inside tx so it commits or rolls back with the
// state change it describes.
func (s *Store) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if topic == "" {
		return fmt.Errorf("outbox: missing topic")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}
	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("outbox: enqueue: %w", err)
	}
	return nil
}

// Claim leases up to limit due messages. Rows locked by a concurrent claimer
// are skipped, and a lease that expires makes its rows claimable again.
func (s *Store) Claim(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 1
	}
	const q = `
		UPDATE outbox
		SET status = 'processing',
		    attempts = attempts + 1,
		    available_at = now() + make_interval(secs => $2)
		WHERE id IN (
			SELECT id
			FROM outbox
			WHERE status IN ('pending', 'processing')
			  AND available_at <= now()
			ORDER BY created_at, id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id::text, topic, payload, attempts, created_at
	`
	rows, err := s.pool.Query(ctx, q, limit, s.lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("outbox: claim: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("outbox: scan claim: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: iterate claim: %w", err)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) MarkPublished(ctx context.Context, id string) error {
	const q = `
		UPDATE outbox
		SET status = 'published', published_at = now(), last_error = NULL
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("outbox: mark published: %w", err)
	}
	return nil
}

// MarkFailed records a delivery failure. Dead messages are never claimed again;
// others become due after retryIn.
func (s *Store) MarkFailed(ctx context.Context, id string, dead bool, retryIn time.Duration, cause string) error {
	status := StatusPending
	if dead {
		status = StatusDead
	}
	const q = `
		UPDATE outbox
		SET status = $2,
		    last_error = $3,
		    available_at = now() + make_interval(secs => $4)
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, q, id, status, cause, retryIn.Seconds()); err != nil {
		return fmt.Errorf("outbox: mark failed: %w", err)
	}
	return nil
}
