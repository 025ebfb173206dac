package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func TestRelayRunOnce_PublishesAndMarks(t *testing.T) {
	src := &fakeSource{pending: []Message{
		{ID: "m1", Topic: "issue.created", Payload: []byte(`{"issue_id":"iss-1"}`), Attempts: 1},
		{ID: "m2", Topic: "offer.submitted", Payload: []byte(`{"issue_id":"iss-1"}`), Attempts: 1},
	}}
	pub := &fakePublisher{}
	relay := NewRelay(src, pub).WithLogger(discardLogger())

	n, err := relay.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 claimed, got %d", n)
	}
	if len(pub.sent) != 2 || pub.sent[0].ID != "m1" || pub.sent[1].ID != "m2" {
		t.Fatalf("unexpected publish order: %+v", pub.sent)
	}
	if len(src.published) != 2 {
		t.Fatalf("expected both marked published, got %v", src.published)
	}
}

func TestRelayRunOnce_FailureSchedulesRetry(t *testing.T) {
	src := &fakeSource{pending: []Message{{ID: "m1", Topic: "offer.accepted", Attempts: 3}}}
	pub := &fakePublisher{err: errors.New("broker unreachable")}
	relay := NewRelay(src, pub).WithMaxAttempts(5).WithLogger(discardLogger())

	if _, err := relay.RunOnce(context.Background()); err != nil {
		t.Fatalf("publish failures are recorded, not returned: %v", err)
	}
	if len(src.failed) != 1 {
		t.Fatalf("expected one failure record, got %+v", src.failed)
	}
	got := src.failed[0]
	if got.dead || got.retryIn != 9*time.Second || got.cause != "broker unreachable" {
		t.Fatalf("unexpected failure record %+v", got)
	}
	if len(src.published) != 0 {
		t.Fatalf("failed message must not be marked published")
	}
}

func TestRelayRunOnce_DeadLettersAfterMaxAttempts(t *testing.T) {
	src := &fakeSource{pending: []Message{{ID: "m1", Topic: "offer.rejected", Attempts: 5}}}
	pub := &fakePublisher{err: errors.New("boom")}
	relay := NewRelay(src, pub).WithMaxAttempts(5).WithLogger(discardLogger())

	_, _ = relay.RunOnce(context.Background())
	if len(src.failed) != 1 || !src.failed[0].dead {
		t.Fatalf("expected dead-letter, got %+v", src.failed)
	}
}

func TestRelayRunOnce_ClaimError(t *testing.T) {
	src := &fakeSource{claimErr: errors.New("db down")}
	relay := NewRelay(src, &fakePublisher{}).WithLogger(discardLogger())
	if _, err := relay.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected claim error")
	}
}

func TestRelayRun_StopsOnCancel(t *testing.T) {
	src := &fakeSource{pending: []Message{{ID: "m1", Topic: "issue.created", Attempts: 1}}}
	pub := &fakePublisher{}
	relay := NewRelay(src, pub).WithInterval(5 * time.Millisecond).WithLogger(discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		if src.publishedCount() == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("relay did not publish in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("relay did not stop after cancel")
	}
}

func TestBackoffCaps(t *testing.T) {
	if got := backoff(0); got != time.Second {
		t.Errorf("backoff(0) = %v", got)
	}
	if got := backoff(100); got != maxBackoff {
		t.Errorf("backoff(100) = %v", got)
	}
}

func TestMessageKey(t *testing.T) {
	if k := (Message{ID: "m1", Payload: []byte(`{"issue_id":"iss-9"}`)}).Key(); k != "iss-9" {
		t.Errorf("expected issue id key, got %q", k)
	}
	if k := (Message{ID: "m1", Payload: []byte(`not json`)}).Key(); k != "m1" {
		t.Errorf("expected message id fallback, got %q", k)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type failure struct {
	id      string
	dead    bool
	retryIn time.Duration
	cause   string
}

type fakeSource struct {
	mu        sync.Mutex
	pending   []Message
	claimErr  error
	published []string
	failed    []failure
}

func (f *fakeSource) Claim(ctx context.Context, limit int) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	if limit > len(f.pending) {
		limit = len(f.pending)
	}
	out := f.pending[:limit]
	f.pending = f.pending[limit:]
	return out, nil
}

func (f *fakeSource) MarkPublished(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, id)
	return nil
}

func (f *fakeSource) MarkFailed(ctx context.Context, id string, dead bool, retryIn time.Duration, cause string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, failure{id: id, dead: dead, retryIn: retryIn, cause: cause})
	return nil
}

func (f *fakeSource) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

type fakePublisher struct {
	mu   sync.Mutex
	err  error
	sent []Message
}

func (f *fakePublisher) Publish(ctx context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}
