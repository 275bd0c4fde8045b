package retry

import (
	"context"
	"time"
)

// Backoff yields the delay before re-running attempt n (1-based).
type Backoff func(attempt int) time.Duration

// Linear grows the delay by base per failed attempt, the same pacing
// the realtime channel uses between reconnects.
func Linear(base time.Duration) Backoff {
	return func(attempt int) time.Duration {
		return base * time.Duration(attempt)
	}
}

// Do runs fn up to attempts times, sleeping backoff(n) after the n-th
// failure. It stops early if the context is canceled and returns the
// last error otherwise.
func Do(ctx context.Context, attempts int, backoff Backoff, fn func() error) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err = fn(); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(attempt)):
		}
	}
	return err
}
