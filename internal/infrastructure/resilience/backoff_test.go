package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSleep advances clock by each requested wait instead of sleeping
func recordingSleep(clock *fakeClock, waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		clock.Advance(d)
		return ctx.Err()
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	clock := newFakeClock()
	var waits []time.Duration
	b := ConnectBackoff()
	b.Now, b.Sleep = clock.Now, recordingSleep(clock, &waits)

	attempts, err := b.Retry(context.Background(), clock.Now().Add(10*time.Second), func(_ context.Context, n int) error {
		if n < 3 {
			return errBoom
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 80 * time.Millisecond}, waits)
}

func TestRetryCapsDelay(t *testing.T) {
	clock := newFakeClock()
	var waits []time.Duration
	b := ConnectBackoff()
	b.Now, b.Sleep = clock.Now, recordingSleep(clock, &waits)
	b.MaxAttempts = 10

	_, err := b.Retry(context.Background(), time.Time{}, func(context.Context, int) error { return errBoom })

	require.ErrorIs(t, err, ErrExhausted)
	require.ErrorIs(t, err, errBoom)
	require.Len(t, waits, 9)
	for _, w := range waits {
		assert.LessOrEqual(t, w, 500*time.Millisecond)
	}
	assert.Equal(t, 500*time.Millisecond, waits[len(waits)-1])
}

func TestRetryZeroTimeoutMakesOneAttempt(t *testing.T) {
	clock := newFakeClock()
	var waits []time.Duration
	b := ConnectBackoff()
	b.Now, b.Sleep = clock.Now, recordingSleep(clock, &waits)

	attempts, err := b.Retry(context.Background(), clock.Now(), func(context.Context, int) error { return errBoom })

	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Empty(t, waits)
}

func TestRetryStopsOnPermanent(t *testing.T) {
	attempts, err := ConnectBackoff().Retry(context.Background(), time.Time{}, func(context.Context, int) error {
		return Permanent(errBoom)
	})

	assert.Equal(t, 1, attempts)
	assert.Same(t, errBoom, err)
}

func TestRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts, err := ConnectBackoff().Retry(ctx, time.Time{}, func(context.Context, int) error { return errBoom })

	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryWaitNeverOvershootsDeadline(t *testing.T) {
	clock := newFakeClock()
	var waits []time.Duration
	b := Backoff{Initial: time.Second, Max: time.Second, Multiplier: 2, Now: clock.Now, Sleep: recordingSleep(clock, &waits)}

	_, err := b.Retry(context.Background(), clock.Now().Add(300*time.Millisecond), func(context.Context, int) error { return errBoom })

	require.True(t, errors.Is(err, ErrExhausted))
	assert.Equal(t, []time.Duration{300 * time.Millisecond}, waits)
}

func TestPermanentNil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
	assert.False(t, IsPermanent(errBoom))
	assert.True(t, IsPermanent(Permanent(errBoom)))
}
