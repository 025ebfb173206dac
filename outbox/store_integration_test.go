package outbox

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestStore_EnqueueClaimAndSettle(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	var exists bool
	if err := pool.QueryRow(ctx, `SELECT to_regclass('outbox') IS NOT NULL`).Scan(&exists); err != nil || !exists {
		t.Skip("table outbox does not exist; ensure migrations are applied")
	}

	issueID := uuid.NewString()
	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM outbox WHERE payload->>'issue_id' = $1`, issueID)
	})

	store := NewStore(pool).WithLease(time.Hour)

	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := store.Enqueue(ctx, tx, "issue.created", map[string]any{"issue_id": issueID}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if n := countFor(ctx, t, pool, issueID); n != 0 {
		t.Fatalf("rolled back enqueue left %d rows", n)
	}

	tx, err = pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := store.Enqueue(ctx, tx, "issue.created", map[string]any{"issue_id": issueID}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	mine := claimFor(ctx, t, store, issueID)
	if mine == nil {
		t.Fatalf("committed message was not claimed")
	}
	if mine.Attempts != 1 || mine.Key() != issueID {
		t.Fatalf("unexpected claimed message %+v", mine)
	}
	if again := claimFor(ctx, t, store, issueID); again != nil {
		t.Fatalf("leased message claimed twice")
	}

	if err := store.MarkFailed(ctx, mine.ID, false, time.Hour, "broker down"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if status := statusOf(ctx, t, pool, mine.ID); status != StatusPending {
		t.Fatalf("expected pending after retryable failure, got %s", status)
	}

	if err := store.MarkPublished(ctx, mine.ID); err != nil {
		t.Fatalf("mark published: %v", err)
	}
	if status := statusOf(ctx, t, pool, mine.ID); status != StatusPublished {
		t.Fatalf("expected published, got %s", status)
	}
}

func claimFor(ctx context.Context, t *testing.T, store *Store, issueID string) *Message {
	t.Helper()
	msgs, err := store.Claim(ctx, 1000)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	for i := range msgs {
		if msgs[i].Key() == issueID {
			return &msgs[i]
		}
	}
	return nil
}

func countFor(ctx context.Context, t *testing.T, pool *pgxpool.Pool, issueID string) int {
	t.Helper()
	var n int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE payload->>'issue_id' = $1`, issueID).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func statusOf(ctx context.Context, t *testing.T, pool *pgxpool.Pool, id string) string {
	t.Helper()
	var status string
	if err := pool.QueryRow(ctx, `SELECT status FROM outbox WHERE id = $1`, id).Scan(&status); err != nil {
		t.Fatalf("status: %v", err)
	}
	return status
}
