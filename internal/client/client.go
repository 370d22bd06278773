package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/termlink/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termlink/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termlink/internal/remote"
	"github.com/GriffinCanCode/termlink/internal/session"
	"github.com/GriffinCanCode/termlink/internal/shared/errs"
)

// ErrClosed is returned by calls on a closed client
var ErrClosed = errors.New("client closed")

// DefaultCloseTimeout bounds how long Close waits for the loop to stop
const DefaultCloseTimeout = 5 * time.Second

// Options configures a Client
type Options struct {
	// Timeout bounds New's wait for the initial state; zero waits as long
	// as the caller's context allows
	Timeout      time.Duration
	CloseTimeout time.Duration
	Logger       *zap.Logger
	Metrics      *monitoring.Metrics
}

// Result carries the outcome of an asynchronous call
type Result[T any] struct {
	Value T
	Err   error
}

type loopKey struct{}

type task struct {
	ctx context.Context
	run func(ctx context.Context)
}

// Client owns one state and a loop goroutine. Every use of the state, and
// therefore every remote call, happens on the loop.
type Client[S session.State] struct {
	gateway Gateway[S]
	opts    Options
	log     *zap.Logger
	metrics *monitoring.Metrics

	tasks     chan task
	stop      chan struct{}
	done      chan struct{}
	base      context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	ready   chan struct{}
	initErr error

	// owned by the loop
	state    S
	hasState bool
}

// Start launches the loop and schedules creation of the state without
// waiting for it. Wait reports the outcome.
func Start[S session.State](gateway Gateway[S], opts Options) *Client[S] {
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = DefaultCloseTimeout
	}
	base, cancel := context.WithCancel(context.Background())
	c := &Client[S]{
		gateway: gateway,
		opts:    opts,
		log:     logging.OrNop(opts.Logger).Named("client"),
		metrics: opts.Metrics,
		tasks:   make(chan task),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		base:    base,
		cancel:  cancel,
		ready:   make(chan struct{}),
	}
	go c.loop()

	initial := dispatch(context.Background(), c, func(_ context.Context, s S) (S, error) { return s, nil })
	go func() {
		r := <-initial
		c.initErr = r.Err
		close(c.ready)
	}()
	return c
}

// New starts a client and blocks until its state exists, opts.Timeout
// elapses, or ctx ends. On failure the client is closed.
func New[S session.State](ctx context.Context, gateway Gateway[S], opts Options) (*Client[S], error) {
	c := Start(gateway, opts)

	wctx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	err := c.Wait(wctx)
	if err == nil {
		return c, nil
	}

	_ = c.Close()
	if opts.Timeout > 0 && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, errs.Timeout("creating the session state", opts.Timeout,
			"check that the control plane is running, or raise the timeout", err)
	}
	return nil, err
}

// Wait blocks until the initial state has been created and reports the
// creation error, if any
func (c *Client[S]) Wait(ctx context.Context) error {
	select {
	case <-c.ready:
		return c.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the loop has stopped
func (c *Client[S]) Done() <-chan struct{} { return c.done }

// OnLoop reports whether ctx belongs to a task running on this client's loop
func (c *Client[S]) OnLoop(ctx context.Context) bool {
	return ctx != nil && ctx.Value(loopKey{}) == any(c)
}

func (c *Client[S]) loop() {
	defer close(c.done)
	defer c.closeGateway()
	for {
		select {
		case <-c.stop:
			return
		case t := <-c.tasks:
			c.run(t)
		}
	}
}

func (c *Client[S]) run(t task) {
	ctx, cancel := context.WithCancel(context.WithValue(t.ctx, loopKey{}, any(c)))
	defer cancel()
	stop := context.AfterFunc(c.base, cancel)
	defer stop()
	t.run(ctx)
}

func (c *Client[S]) closeGateway() {
	closer, ok := c.gateway.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		c.log.Warn("closing gateway", zap.Error(err))
	}
}

func (c *Client[S]) submit(ctx context.Context, fn func(ctx context.Context)) error {
	select {
	case <-c.stop:
		return ErrClosed
	default:
	}
	select {
	case c.tasks <- task{ctx: ctx, run: fn}:
		return nil
	case <-c.stop:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ensure returns the state, creating it on first use and validating it,
// with the gateway as refresh source, afterwards. Loop only.
func (c *Client[S]) ensure(ctx context.Context) (S, error) {
	var zero S
	if !c.hasState {
		s, err := c.gateway.CreateState(ctx)
		if err != nil {
			return zero, fmt.Errorf("create state: %w", err)
		}
		s.SetRefresh(c.refresh)
		c.state, c.hasState = s, true
		c.log.Debug("state created")
		return s, nil
	}
	if err := c.state.EnsureState(ctx, c.refresh); err != nil {
		return zero, err
	}
	return c.state, nil
}

func (c *Client[S]) refresh(ctx context.Context) (session.State, error) {
	s, err := c.gateway.CreateState(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetState returns the validated state, refreshing it first if stale
func (c *Client[S]) GetState(ctx context.Context) (S, error) {
	return Call(ctx, c, func(_ context.Context, s S) (S, error) { return s, nil })
}

// GetStateAsync is GetState delivered on a channel
func (c *Client[S]) GetStateAsync(ctx context.Context) <-chan Result[S] {
	return Go(ctx, c, func(_ context.Context, s S) (S, error) { return s, nil })
}

// Do runs fn with the validated state on the loop
func (c *Client[S]) Do(ctx context.Context, fn func(ctx context.Context, state S) error) error {
	_, err := Call(ctx, c, func(ctx context.Context, s S) (struct{}, error) {
		return struct{}{}, fn(ctx, s)
	})
	return err
}

// Close stops the loop and waits for it, up to the close timeout. It is
// idempotent. Close cannot tell that it runs on the loop, so a task closing
// its own client must call CloseContext with the task's context instead.
func (c *Client[S]) Close() error {
	return c.CloseContext(context.Background())
}

// CloseContext is Close for callers that may be running on the loop. With a
// loop task's ctx it only signals the loop to stop and returns at once.
func (c *Client[S]) CloseContext(ctx context.Context) error {
	c.closeOnce.Do(func() {
		close(c.stop)
		c.cancel()
		c.log.Debug("client closing")
	})
	if c.OnLoop(ctx) {
		return nil
	}

	timer := time.NewTimer(c.opts.CloseTimeout)
	defer timer.Stop()
	select {
	case <-c.done:
		return nil
	case <-timer.C:
		return errs.Timeout("waiting for the client loop to stop", c.opts.CloseTimeout,
			"a remote call is ignoring cancellation", nil)
	}
}

// Call runs fn with the validated state on the loop and waits for its
// result. From the loop itself fn runs inline. A closed connection reported
// by fn triggers one state refresh and one retry, unless ctx is already
// inside a retry boundary.
func Call[S session.State, T any](ctx context.Context, c *Client[S], fn func(ctx context.Context, state S) (T, error)) (T, error) {
	if c.OnLoop(ctx) {
		c.metrics.RecordBridgeTask("inline")
		return call(ctx, c, fn)
	}
	c.metrics.RecordBridgeTask("sync")

	var zero T
	select {
	case r := <-dispatch(ctx, c, fn):
		return r.Value, r.Err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Go is Call delivered on a channel that receives exactly one Result
func Go[S session.State, T any](ctx context.Context, c *Client[S], fn func(ctx context.Context, state S) (T, error)) <-chan Result[T] {
	if c.OnLoop(ctx) {
		c.metrics.RecordBridgeTask("inline")
		out := make(chan Result[T], 1)
		v, err := call(ctx, c, fn)
		out <- Result[T]{Value: v, Err: err}
		return out
	}
	c.metrics.RecordBridgeTask("async")
	return dispatch(ctx, c, fn)
}

func dispatch[S session.State, T any](ctx context.Context, c *Client[S], fn func(ctx context.Context, state S) (T, error)) <-chan Result[T] {
	out := make(chan Result[T], 1)
	go func() {
		err := c.submit(ctx, func(ctx context.Context) {
			v, err := call(ctx, c, fn)
			out <- Result[T]{Value: v, Err: err}
		})
		if err != nil {
			out <- Result[T]{Err: err}
		}
	}()
	return out
}

func call[S session.State, T any](ctx context.Context, c *Client[S], fn func(ctx context.Context, state S) (T, error)) (out T, err error) {
	var zero T
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("task panicked", zap.Any("panic", r))
			out, err = zero, fmt.Errorf("client task panicked: %v", r)
		}
	}()

	state, err := c.ensure(ctx)
	if err != nil {
		return zero, err
	}
	if session.InRetry(ctx) {
		return fn(ctx, state)
	}

	ctx = session.WithRetry(ctx)
	out, err = fn(ctx, state)
	if !errors.Is(err, remote.ErrClosed) {
		return out, err
	}

	c.log.Info("connection closed mid-call, refreshing state and retrying once")
	if state, err = c.ensure(ctx); err != nil {
		return zero, err
	}
	return fn(ctx, state)
}
