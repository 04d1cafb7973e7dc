// Package backoff is a generic retry wrapper with exponential delay.
// Failure classification is delegated to a caller-supplied predicate so
// every provider client shares one executor instead of hand-rolled loops.
package backoff

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Policy controls how an operation is retried.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	Multiplier   float64
	// Retryable decides whether a failure is worth another attempt.
	// A nil predicate retries everything.
	Retryable func(error) bool
	Logger    zerolog.Logger
}

// Default returns the standard policy: 3 retries, 1s initial delay,
// doubling each attempt.
func Default() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		Multiplier:   2,
		Logger:       zerolog.Nop(),
	}
}

// ExhaustedError wraps the last failure after all attempts were spent.
// It unwraps to the underlying (retryable) error so callers one level up
// can still see the failure as transient and escalate to another provider
// rather than treat it as a data error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts exhausted: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do runs op, retrying retryable failures with exponential delay.
// Attempt i (zero-based) sleeps InitialDelay * Multiplier^i before the
// next try. Terminal failures return immediately.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if p.Multiplier <= 0 {
		p.Multiplier = 2
	}
	delay := p.InitialDelay

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
		if attempt == p.MaxRetries {
			break
		}
		p.Logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", p.MaxRetries+1).
			Dur("delay", delay).
			Msg("retrying after failure")
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
		delay = time.Duration(float64(delay) * p.Multiplier)
	}
	return zero, &ExhaustedError{Attempts: p.MaxRetries + 1, Err: lastErr}
}
