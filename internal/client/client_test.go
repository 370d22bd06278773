package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/termlink/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termlink/internal/remote"
	"github.com/GriffinCanCode/termlink/internal/session"
	"github.com/GriffinCanCode/termlink/internal/shared/errs"
)

// fakeState is a session.State whose validity tests flip directly. Its
// fields are only touched on the client loop.
type fakeState struct {
	id      int
	valid   atomic.Bool
	refresh session.RefreshFunc
	ensures int
}

func (s *fakeState) EnsureState(ctx context.Context, refresh session.RefreshFunc) error {
	s.ensures++
	if s.valid.Load() {
		return nil
	}
	if refresh == nil {
		refresh = s.refresh
	}
	if refresh == nil {
		return session.ErrNoRefreshCallback
	}
	fresh, err := refresh(ctx)
	if err != nil {
		return err
	}
	return s.RefreshFrom(fresh)
}

func (s *fakeState) RefreshFrom(other session.State) error {
	o, ok := other.(*fakeState)
	if !ok {
		return session.ErrTypeMismatch
	}
	s.id = o.id
	s.valid.Store(o.valid.Load())
	return nil
}

func (s *fakeState) SetRefresh(fn session.RefreshFunc) { s.refresh = fn }

type fakeGateway struct {
	creates atomic.Int32
	closes  atomic.Int32
	err     error
	// block holds CreateState until it is closed or the context ends
	block chan struct{}
}

func (g *fakeGateway) CreateState(ctx context.Context) (*fakeState, error) {
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	s := &fakeState{id: int(g.creates.Add(1))}
	s.valid.Store(true)
	return s, nil
}

func (g *fakeGateway) Close() error {
	g.closes.Add(1)
	return nil
}

func newClient(t *testing.T, g *fakeGateway, opts Options) *Client[*fakeState] {
	t.Helper()
	c, err := New[*fakeState](context.Background(), g, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewCreatesStateOnce(t *testing.T) {
	g := &fakeGateway{}
	c := newClient(t, g, Options{Timeout: time.Second})
	ctx := context.Background()

	s1, err := c.GetState(ctx)
	require.NoError(t, err)
	s2, err := c.GetState(ctx)
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.Equal(t, int32(1), g.creates.Load())
	assert.NotNil(t, s1.refresh, "state gets the gateway as refresh source")
}

func TestCallRunsOnLoop(t *testing.T) {
	c := newClient(t, &fakeGateway{}, Options{})
	ctx := context.Background()
	assert.False(t, c.OnLoop(ctx))

	same, err := Call(ctx, c, func(ctx context.Context, s *fakeState) (bool, error) {
		if !c.OnLoop(ctx) {
			return false, errors.New("not on loop")
		}
		// nested calls run inline instead of deadlocking
		inner, err := Call(ctx, c, func(_ context.Context, inner *fakeState) (int, error) {
			return inner.id, nil
		})
		return inner == s.id, err
	})

	require.NoError(t, err)
	assert.True(t, same)
}

func TestCallsAreSerialised(t *testing.T) {
	c := newClient(t, &fakeGateway{}, Options{})
	ctx := context.Background()

	var (
		inFlight, peak atomic.Int32
		total          int
		wg             sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.Do(ctx, func(context.Context, *fakeState) error {
				n := inFlight.Add(1)
				if n > peak.Load() {
					peak.Store(n)
				}
				total++
				time.Sleep(100 * time.Microsecond)
				inFlight.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, total)
	assert.Equal(t, int32(1), peak.Load())
}

func TestStaleStateIsRefreshedInPlace(t *testing.T) {
	g := &fakeGateway{}
	c := newClient(t, g, Options{})
	ctx := context.Background()
	before, err := c.GetState(ctx)
	require.NoError(t, err)

	before.valid.Store(false)
	after, err := c.GetState(ctx)

	require.NoError(t, err)
	assert.Same(t, before, after)
	assert.Equal(t, 2, after.id)
	assert.Equal(t, int32(2), g.creates.Load())
}

func TestCallRetriesOnceWhenConnectionCloses(t *testing.T) {
	c := newClient(t, &fakeGateway{}, Options{})
	ctx := context.Background()

	var calls int
	got, err := Call(ctx, c, func(_ context.Context, s *fakeState) (int, error) {
		calls++
		if calls == 1 {
			return 0, remote.ErrClosed
		}
		return s.id, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, got)
	assert.Equal(t, 2, calls)

	calls = 0
	_, err = Call(ctx, c, func(context.Context, *fakeState) (int, error) {
		calls++
		return 0, remote.ErrClosed
	})
	assert.ErrorIs(t, err, remote.ErrClosed)
	assert.Equal(t, 2, calls, "exactly one retry")
}

func TestCallDoesNotRetryOtherErrors(t *testing.T) {
	c := newClient(t, &fakeGateway{}, Options{})
	boom := errors.New("boom")

	var calls int
	err := c.Do(context.Background(), func(context.Context, *fakeState) error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestNewReportsCreationFailure(t *testing.T) {
	boom := errors.New("no control plane")
	g := &fakeGateway{err: boom}

	c, err := New[*fakeState](context.Background(), g, Options{})

	assert.Nil(t, c)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), g.closes.Load(), "failed client is closed")
}

func TestNewTimesOut(t *testing.T) {
	g := &fakeGateway{block: make(chan struct{})}

	start := time.Now()
	_, err := New[*fakeState](context.Background(), g, Options{Timeout: 50 * time.Millisecond})

	require.Error(t, err)
	assert.True(t, errs.IsTimeout(err))
	var te *errs.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 50*time.Millisecond, te.After)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestStartIsAsynchronous(t *testing.T) {
	g := &fakeGateway{block: make(chan struct{})}
	c := Start[*fakeState](g, Options{})
	t.Cleanup(func() { _ = c.Close() })

	results := c.GetStateAsync(context.Background())
	select {
	case <-results:
		t.Fatal("state delivered before creation finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(g.block)
	require.NoError(t, c.Wait(context.Background()))
	r := <-results
	require.NoError(t, r.Err)
	assert.Equal(t, 1, r.Value.id)
}

func TestGoDeliversExactlyOneResult(t *testing.T) {
	c := newClient(t, &fakeGateway{}, Options{})

	ch := Go(context.Background(), c, func(_ context.Context, s *fakeState) (int, error) { return s.id * 10, nil })

	r := <-ch
	require.NoError(t, r.Err)
	assert.Equal(t, 10, r.Value)
}

func TestCloseIsIdempotentAndRejectsCalls(t *testing.T) {
	g := &fakeGateway{}
	c := newClient(t, g, Options{})

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	<-c.Done()

	_, err := c.GetState(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	r := <-c.GetStateAsync(context.Background())
	assert.ErrorIs(t, r.Err, ErrClosed)
	assert.Equal(t, int32(1), g.closes.Load())
}

func TestCloseFromLoopDoesNotWait(t *testing.T) {
	c := newClient(t, &fakeGateway{}, Options{CloseTimeout: time.Hour})

	start := time.Now()
	err := c.Do(context.Background(), func(ctx context.Context, _ *fakeState) error {
		return c.CloseContext(ctx)
	})

	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestCloseIsBoundedByTimeout(t *testing.T) {
	c := newClient(t, &fakeGateway{}, Options{CloseTimeout: 30 * time.Millisecond})
	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = c.Do(context.Background(), func(context.Context, *fakeState) error {
			close(started)
			<-release // ignores cancellation
			return nil
		})
	}()
	<-started

	err := c.Close()
	assert.True(t, errs.IsTimeout(err))

	close(release)
	<-c.Done()
}

func TestClosingCancelsRunningTask(t *testing.T) {
	c := newClient(t, &fakeGateway{}, Options{})
	started := make(chan struct{})
	result := make(chan error, 1)

	go func() {
		result <- c.Do(context.Background(), func(ctx context.Context, _ *fakeState) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		})
	}()
	<-started

	require.NoError(t, c.Close())
	assert.ErrorIs(t, <-result, context.Canceled)
}

func TestCallerContextCancellation(t *testing.T) {
	c := newClient(t, &fakeGateway{}, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.Do(ctx, func(ctx context.Context, _ *fakeState) error {
		<-ctx.Done()
		return ctx.Err()
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)

	s, err := c.GetState(context.Background())
	require.NoError(t, err, "loop survives a cancelled task")
	assert.Equal(t, 1, s.id)
}

func TestPanicInTaskBecomesError(t *testing.T) {
	c := newClient(t, &fakeGateway{}, Options{})

	err := c.Do(context.Background(), func(context.Context, *fakeState) error {
		panic("kaboom")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	_, err = c.GetState(context.Background())
	assert.NoError(t, err)
}

func TestBridgeMetrics(t *testing.T) {
	m := monitoring.NewMetrics()
	c := newClient(t, &fakeGateway{}, Options{Metrics: m})
	ctx := context.Background()

	require.NoError(t, c.Do(ctx, func(ctx context.Context, _ *fakeState) error {
		_, err := c.GetState(ctx)
		return err
	}))
	<-c.GetStateAsync(ctx)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.BridgeTasks.WithLabelValues("sync")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BridgeTasks.WithLabelValues("inline")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BridgeTasks.WithLabelValues("async")))
}
