package controlplane

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/GriffinCanCode/termlink/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termlink/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termlink/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/termlink/internal/remote"
	"github.com/GriffinCanCode/termlink/internal/shared/errs"
)

// SupervisorOptions configures a Supervisor
type SupervisorOptions struct {
	Dialer      Dialer
	Credentials CredentialSource
	// Launcher, if set, runs before every acquisition; failures are logged
	Launcher Launcher
	// Timeout bounds how long Acquire waits for the endpoint to appear
	Timeout time.Duration
	// Backoff overrides the retry policy
	Backoff *resilience.Backoff
	// Breaker, if set, makes Acquire fail fast after repeated failures
	Breaker *resilience.Breaker
	// Hint is appended to timeout errors
	Hint    string
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// Supervisor owns the control-plane link. It is the only component that
// creates connections; everyone else borrows the current one.
type Supervisor struct {
	opts    SupervisorOptions
	backoff resilience.Backoff
	log     *zap.Logger
	group   singleflight.Group

	mu           sync.Mutex
	current      remote.Remote
	lastAttempts int
}

// NewSupervisor creates a supervisor
func NewSupervisor(opts SupervisorOptions) *Supervisor {
	if opts.Credentials == nil {
		opts.Credentials = &HelperCredentials{}
	}
	backoff := resilience.ConnectBackoff()
	if opts.Backoff != nil {
		backoff = *opts.Backoff
	}
	return &Supervisor{
		opts:    opts,
		backoff: backoff,
		log:     logging.OrNop(opts.Logger).Named("supervisor"),
	}
}

// Current returns the live connection, if any, without dialing
func (s *Supervisor) Current() (remote.Remote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.Live() {
		return s.current, true
	}
	return nil, false
}

// LastAttempts is the number of dials the most recent acquisition made
func (s *Supervisor) LastAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAttempts
}

// Acquire returns the live connection, establishing a new one when the
// previous link died. Concurrent callers share a single dial sequence.
func (s *Supervisor) Acquire(ctx context.Context) (remote.Remote, error) {
	if conn, ok := s.Current(); ok {
		return conn, nil
	}

	// the shared dial ignores the starting caller's cancellation; connect
	// bounds it by opts.Timeout and each caller leaves on its own ctx
	dialCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan("acquire", func() (any, error) {
		if conn, ok := s.Current(); ok {
			return conn, nil
		}
		if s.opts.Breaker != nil {
			return resilience.Run(s.opts.Breaker, func() (remote.Remote, error) {
				return s.connect(dialCtx)
			})
		}
		return s.connect(dialCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			s.opts.Metrics.RecordAcquisition("error")
			return nil, res.Err
		}
		s.opts.Metrics.RecordAcquisition("ok")
		return res.Val.(remote.Remote), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the current connection
func (s *Supervisor) Close() error {
	s.mu.Lock()
	conn := s.current
	s.current = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (s *Supervisor) connect(ctx context.Context) (remote.Remote, error) {
	if s.opts.Dialer == nil {
		return nil, errors.New("supervisor: no dialer configured")
	}
	if s.opts.Launcher != nil {
		if err := s.opts.Launcher.Launch(ctx); err != nil {
			s.log.Warn("launcher failed, connecting anyway", zap.Error(err))
		}
	}

	creds, err := s.opts.Credentials.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	start := time.Now()
	deadline := start.Add(s.opts.Timeout)
	if s.backoff.Now != nil {
		start = s.backoff.Now()
		deadline = start.Add(s.opts.Timeout)
	}

	var (
		conn  remote.Remote
		dials int
	)
	_, err = s.backoff.Retry(ctx, deadline, func(ctx context.Context, attempt int) error {
		dials++
		c, err := s.dialOnce(ctx, &creds)
		if err != nil {
			s.log.Debug("connect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		conn = c
		return nil
	})

	s.mu.Lock()
	s.lastAttempts = dials
	s.mu.Unlock()

	if err != nil {
		if errors.Is(err, resilience.ErrExhausted) {
			return nil, errs.Timeout("waiting for the control-plane endpoint", s.opts.Timeout, s.hint(), err)
		}
		return nil, err
	}

	s.mu.Lock()
	s.current = conn
	s.mu.Unlock()
	s.log.Info("connected to control plane",
		zap.Int("attempts", dials),
		zap.Stringer("protocol", conn.ProtocolVersion()))
	return conn, nil
}

// dialOnce makes one dial, plus one immediate redial with fresh credentials
// when the handshake rejects stale ones. Errors that retrying cannot fix
// are returned as resilience.Permanent.
func (s *Supervisor) dialOnce(ctx context.Context, creds *Credentials) (remote.Remote, error) {
	conn, err := s.opts.Dialer.Dial(ctx, *creds)
	s.recordAttempt(err)

	if errors.Is(err, ErrUnauthorized) {
		if creds.Fresh {
			return nil, resilience.Permanent(fmt.Errorf("%w: fresh credentials were rejected", ErrAuthentication))
		}
		fresh, ferr := s.opts.Credentials.Refresh(ctx)
		if ferr != nil {
			return nil, resilience.Permanent(fmt.Errorf("%w: %w", ErrAuthentication, ferr))
		}
		fresh.Fresh = true
		*creds = fresh
		s.log.Info("retrying handshake with fresh credentials")

		conn, err = s.opts.Dialer.Dial(ctx, *creds)
		s.recordAttempt(err)
		if errors.Is(err, ErrUnauthorized) {
			return nil, resilience.Permanent(fmt.Errorf("%w: fresh credentials were rejected", ErrAuthentication))
		}
	}

	switch {
	case err == nil:
		return conn, nil
	case errors.Is(err, ErrProtocolVersion):
		return nil, resilience.Permanent(err)
	case IsRetryable(err):
		return nil, err
	default:
		return nil, resilience.Permanent(err)
	}
}

func (s *Supervisor) recordAttempt(err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrUnauthorized):
		outcome = "unauthorized"
	case errors.Is(err, ErrProtocolVersion):
		outcome = "version"
	case IsRetryable(err):
		outcome = "unreachable"
	default:
		outcome = "error"
	}
	s.opts.Metrics.RecordConnectAttempt(outcome)
}

func (s *Supervisor) hint() string {
	if s.opts.Hint != "" {
		return s.opts.Hint
	}
	return "start the control plane (for a local one: termlink mock-server) or raise TERMLINK_CONNECT_TIMEOUT"
}
