package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// ErrExhausted is returned by Backoff.Retry when the deadline or attempt
// budget runs out before the operation succeeds
var ErrExhausted = errors.New("retry budget exhausted")

// PermanentError marks an error that retrying cannot fix
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err has been marked permanent
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Backoff is a capped exponential retry policy bounded by a deadline
type Backoff struct {
	// Initial is the first wait between attempts
	Initial time.Duration
	// Max caps the wait
	Max time.Duration
	// Multiplier grows the wait after every attempt
	Multiplier float64
	// MaxAttempts bounds the total number of tries; 0 means unbounded
	MaxAttempts int
	// Jitter spreads each wait by up to ±20%
	Jitter bool
	// Sleep overrides the wait in tests
	Sleep func(ctx context.Context, d time.Duration) error
	// Now overrides the clock in tests
	Now func() time.Time
}

// ConnectBackoff is the policy used while waiting for the control plane
// endpoint to appear: 50ms growing by 1.6x up to 500ms
func ConnectBackoff() Backoff {
	return Backoff{Initial: 50 * time.Millisecond, Max: 500 * time.Millisecond, Multiplier: 1.6}
}

// PollBackoff is the policy used while polling the terminal buffer
func PollBackoff() Backoff {
	return Backoff{Initial: 50 * time.Millisecond, Max: 500 * time.Millisecond, Multiplier: 1.5}
}

// Retry calls fn until it succeeds, returns a permanent error, or the
// budget runs out. The deadline is checked after every failed attempt, so
// a deadline that has already passed still yields exactly one attempt.
// A zero deadline means no time bound. It returns the number of attempts made.
func (b Backoff) Retry(ctx context.Context, deadline time.Time, fn func(ctx context.Context, attempt int) error) (int, error) {
	now := b.Now
	if now == nil {
		now = time.Now
	}
	sleep := b.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	delay := b.Initial
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	maxDelay := b.Max
	if maxDelay < delay {
		maxDelay = delay
	}
	multiplier := b.Multiplier
	if multiplier < 1 {
		multiplier = 2
	}

	for attempt := 1; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if IsPermanent(err) {
			return attempt, errors.Unwrap(err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt, fmt.Errorf("retry cancelled: %w", errors.Join(ctxErr, err))
		}
		if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
			return attempt, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
		}

		wait := delay
		if b.Jitter {
			wait = jitter(wait)
		}
		if !deadline.IsZero() {
			remaining := deadline.Sub(now())
			if remaining <= 0 {
				return attempt, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
			}
			wait = min(wait, remaining)
		}

		if err := sleep(ctx, wait); err != nil {
			return attempt, fmt.Errorf("retry cancelled: %w", err)
		}

		delay = time.Duration(math.Min(float64(delay)*multiplier, float64(maxDelay)))
	}
}

func jitter(d time.Duration) time.Duration {
	spread := float64(d) * 0.2
	delta := rand.Float64()*2*spread - spread
	return time.Duration(math.Max(float64(d)+delta, float64(time.Millisecond)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
