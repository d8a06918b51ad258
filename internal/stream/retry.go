package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/harmonia-erp/pulse/internal/metrics"
)

// Backoff retries an operation with exponentially increasing delays. The
// schedule is a fixed doubling series from Initial up to Cap, no jitter:
// with the defaults the sleeps between the five attempts are 1s, 2s, 4s, 8s.
// The policy does not interpret errors; any non-nil return counts as a
// failure, and after MaxAttempts the last error is handed back to the
// caller, which decides what exhaustion means.
type Backoff struct {
	MaxAttempts int
	Initial     time.Duration
	Cap         time.Duration
	// Log receives the per-attempt warnings; nil falls back to the default
	// logger.
	Log *slog.Logger
}

// DefaultBackoff returns the schedule used by the consumer.
func DefaultBackoff() Backoff {
	return Backoff{MaxAttempts: 5, Initial: time.Second, Cap: 30 * time.Second}
}

// Retry runs op until it succeeds, the attempts are exhausted, or ctx is
// done. A context error is returned as-is so callers can tell shutdown
// apart from a permanently failing operation.
func (b Backoff) Retry(ctx context.Context, label string, op func(context.Context) error) error {
	attempts := b.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := b.Initial
	if delay <= 0 {
		delay = time.Second
	}
	log := b.Log
	if log == nil {
		log = slog.Default()
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		metrics.HandlerRetries.Inc()
		log.Warn("operation failed, backing off",
			"op", label, "attempt", attempt, "max_attempts", attempts,
			"delay", delay, "err", lastErr)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		delay *= 2
		if b.Cap > 0 && delay > b.Cap {
			delay = b.Cap
		}
	}
	return lastErr
}
