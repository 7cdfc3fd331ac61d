// Package retry runs operations with exponential backoff.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// Backoff computes exponential delays with jitter.
type Backoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Delay returns the wait before retry number attempt (1-based):
// BaseDelay * 2^(attempt-1), capped at MaxDelay, plus up to 10% jitter.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	multiplier := math.Pow(2, float64(attempt-1))
	delay := time.Duration(float64(b.BaseDelay) * multiplier)

	if b.MaxDelay > 0 && (delay > b.MaxDelay || delay < 0) {
		delay = b.MaxDelay
	}

	jitter := time.Duration(rand.Float64() * 0.1 * float64(delay))
	return delay + jitter
}

// Do calls fn up to attempts times, sleeping between failures.
// It returns nil on the first success, or the last error once attempts are
// exhausted or ctx is done.
func Do(ctx context.Context, name string, attempts int, b Backoff, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		delay := b.Delay(attempt)
		slog.Warn("Operation failed, retrying", "operation", name, "attempt", attempt, "of", attempts, "delay", delay.Round(time.Millisecond), "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w (last error: %v)", name, ctx.Err(), err)
		case <-timer.C:
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, attempts, err)
}
