package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Source is the relay's view of the outbox table.
type Source interface {
	Claim(ctx context.Context, limit int) ([]Message, error)
	MarkPublished(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, dead bool, retryIn time.Duration, cause string) error
}

// Publisher delivers one message to the broker.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

const maxBackoff = 5 * time.Minute

// Relay polls the outbox and hands due messages to a Publisher. Delivery is
// at least once; consumers de-duplicate on the message id.
type Relay struct {
	source      Source
	publisher   Publisher
	interval    time.Duration
	batchSize   int
	maxAttempts int
	logger      *slog.Logger
}

func NewRelay(source Source, publisher Publisher) *Relay {
	return &Relay{
		source:      source,
		publisher:   publisher,
		interval:    2 * time.Second,
		batchSize:   50,
		maxAttempts: 10,
		logger:      slog.Default(),
	}
}

func (r *Relay) WithInterval(d time.Duration) *Relay {
	if d > 0 {
		r.interval = d
	}
	return r
}

func (r *Relay) WithBatchSize(n int) *Relay {
	if n > 0 {
		r.batchSize = n
	}
	return r
}

func (r *Relay) WithMaxAttempts(n int) *Relay {
	if n > 0 {
		r.maxAttempts = n
	}
	return r
}

func (r *Relay) WithLogger(l *slog.Logger) *Relay {
	if l != nil {
		r.logger = l
	}
	return r
}

// Run drains the outbox every interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		for {
			n, err := r.RunOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.ErrorContext(ctx, "outbox relay pass failed", slog.String("error", err.Error()))
				break
			}
			if n < r.batchSize {
				break
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce claims one batch and publishes it, returning the number claimed.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	msgs, err := r.source.Claim(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	var errs []error
	for _, msg := range msgs {
		if err := r.deliver(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return len(msgs), errors.Join(errs...)
}

func (r *Relay) deliver(ctx context.Context, msg Message) error {
	pubErr := r.publisher.Publish(ctx, msg)
	if pubErr == nil {
		if err := r.source.MarkPublished(ctx, msg.ID); err != nil {
			return fmt.Errorf("outbox: %s: %w", msg.ID, err)
		}
		return nil
	}

	dead := msg.Attempts >= r.maxAttempts
	retryIn := backoff(msg.Attempts)
	if err := r.source.MarkFailed(ctx, msg.ID, dead, retryIn, pubErr.Error()); err != nil {
		return fmt.Errorf("outbox: %s: %w", msg.ID, err)
	}

	attrs := []any{
		slog.String("message_id", msg.ID),
		slog.String("topic", msg.Topic),
		slog.Int("attempts", msg.Attempts),
		slog.String("error", pubErr.Error()),
	}
	if dead {
		r.logger.ErrorContext(ctx, "outbox message dead-lettered", attrs...)
	} else {
		r.logger.WarnContext(ctx, "outbox publish failed", append(attrs, slog.Duration("retry_in", retryIn))...)
	}
	return nil
}

func backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := time.Duration(attempts*attempts) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
