package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/termlink/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termlink/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termlink/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/termlink/internal/remote"
	"github.com/GriffinCanCode/termlink/internal/session"
	"github.com/GriffinCanCode/termlink/internal/shared/errs"
	"github.com/GriffinCanCode/termlink/internal/shared/id"
)

// ErrEmptyCommand is returned for a request without a command
var ErrEmptyCommand = errors.New("empty command")

// Options configures an Engine
type Options struct {
	// DefaultTimeout bounds a request that sets none
	DefaultTimeout time.Duration
	// TailLines is how many trailing lines each sentinel poll reads
	TailLines int
	// BeginWindow is the first window searched backwards for the begin
	// marker; it doubles until the marker or the buffer start is reached
	BeginWindow int
	// ProbeRetries bounds the empty-buffer check
	ProbeRetries  int
	ProbeInterval time.Duration
	// Poll paces sentinel polling
	Poll resilience.Backoff
	// Token returns a fresh marker token per command
	Token   func() string
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// DefaultOptions returns the stock engine settings
func DefaultOptions() Options {
	return Options{
		DefaultTimeout: 120 * time.Second,
		TailLines:      300,
		BeginWindow:    500,
		ProbeRetries:   10,
		ProbeInterval:  100 * time.Millisecond,
		Poll:           resilience.PollBackoff(),
	}
}

// Request is one command to run
type Request struct {
	Command string
	// Dir is changed into first when it differs from the session's cwd
	Dir string
	// Broadcast lets the typed text reach every session in a broadcast group
	Broadcast bool
	Timeout   time.Duration
}

// Result is the outcome of a finished command
type Result struct {
	Output     string        `json:"output"`
	ExitStatus int           `json:"exit_status"`
	Strategy   Strategy      `json:"strategy"`
	Phase      Phase         `json:"-"`
	Fallback   string        `json:"fallback,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Engine runs commands in sessions. It is stateless between commands and
// safe for concurrent use; commands on one session are serialised by the
// session's execution lock.
type Engine struct {
	opts    Options
	log     *zap.Logger
	metrics *monitoring.Metrics
}

// NewEngine creates an engine; zero fields in opts take their defaults
func NewEngine(opts Options) *Engine {
	def := DefaultOptions()
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = def.DefaultTimeout
	}
	if opts.TailLines <= 0 {
		opts.TailLines = def.TailLines
	}
	if opts.BeginWindow <= 0 {
		opts.BeginWindow = def.BeginWindow
	}
	if opts.ProbeRetries <= 0 {
		opts.ProbeRetries = def.ProbeRetries
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = def.ProbeInterval
	}
	if opts.Poll.Initial <= 0 {
		opts.Poll = def.Poll
	}
	if opts.Token == nil {
		opts.Token = id.NewToken
	}
	return &Engine{
		opts:    opts,
		log:     logging.OrNop(opts.Logger).Named("execution"),
		metrics: opts.Metrics,
	}
}

// run carries one command through its phases
type run struct {
	e       *Engine
	conn    remote.Remote
	session string
	req     Request
	phase   Phase
	log     *zap.Logger

	// strategy is the last strategy entered
	strategy Strategy
}

func (r *run) enter(p Phase) {
	r.log.Debug("phase", zap.Stringer("from", r.phase), zap.Stringer("to", p))
	r.phase = p
	switch p {
	case PhaseStructured:
		r.strategy = StrategyStructured
	case PhaseSentinel:
		r.strategy = StrategySentinel
	}
}

// Run executes req in the session behind h and waits for it to finish.
// The handle is validated, and refreshed if stale, under its execution lock.
// A connection that closes mid-command is reported as remote.ErrClosed;
// retrying is left to the caller.
func (e *Engine) Run(ctx context.Context, h *session.Handle, req Request) (*Result, error) {
	if req.Command == "" {
		return nil, ErrEmptyCommand
	}
	if req.Timeout <= 0 {
		req.Timeout = e.opts.DefaultTimeout
	}

	var res *Result
	err := h.Exclusive(ctx, func() error {
		if err := h.EnsureState(ctx, nil); err != nil {
			return err
		}
		r := &run{
			e:        e,
			conn:     h.Conn(),
			session:  h.SessionID(),
			req:      req,
			log:      e.log.With(zap.String("session", h.SessionID())),
			strategy: "none",
		}
		var err error
		res, err = r.execute(ctx)
		return err
	})
	return res, err
}

func (r *run) execute(ctx context.Context) (*Result, error) {
	start := time.Now()
	res, err := r.steps(ctx)

	outcome := "ok"
	switch {
	case err == nil:
		r.enter(PhaseDone)
		res.Phase = PhaseDone
		res.Duration = time.Since(start)
	case errs.IsTimeout(err):
		r.enter(PhaseTimedOut)
		outcome = "timeout"
	default:
		r.enter(PhaseFailed)
		outcome = "error"
	}

	r.e.metrics.RecordCommand(string(r.strategy), outcome, time.Since(start))
	if err != nil {
		r.log.Warn("command failed", zap.String("command", r.req.Command), zap.String("outcome", outcome), zap.Error(err))
		return nil, err
	}
	r.log.Debug("command finished",
		zap.String("strategy", string(res.Strategy)),
		zap.Int("status", res.ExitStatus),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (r *run) steps(ctx context.Context) (*Result, error) {
	if r.req.Dir != "" {
		r.enter(PhasePathSync)
		r.syncPath(ctx)
	}

	r.enter(PhaseStrategySelect)
	caps, err := r.e.probe(ctx, r.conn, r.session)
	if err != nil {
		return nil, fmt.Errorf("probe session: %w", err)
	}

	reason := caps.Reason
	if caps.Structured {
		r.enter(PhaseStructured)
		res, fallback, err := r.structured(ctx)
		if err != nil || fallback == "" {
			return res, err
		}
		reason = fallback
		r.log.Info("structured strategy failed, falling back to sentinel", zap.String("reason", reason))
	} else {
		r.log.Debug("using sentinel strategy", zap.String("reason", reason))
	}

	r.e.metrics.RecordFallback(reason)
	r.enter(PhaseSentinel)
	res, err := r.sentinel(ctx)
	if err != nil {
		return nil, err
	}
	res.Fallback = reason
	return res, nil
}

// syncPath changes into the requested directory when the session is
// elsewhere. It is best effort: failures are logged and the command runs
// regardless.
func (r *run) syncPath(ctx context.Context) {
	cwd, err := r.cwd(ctx)
	if err != nil {
		r.log.Warn("could not read working directory", zap.Error(err))
	}
	if cwd == r.req.Dir {
		return
	}
	if err := r.conn.SendText(ctx, r.session, "cd "+shellQuote(r.req.Dir)+"\r", !r.req.Broadcast); err != nil {
		r.log.Warn("could not change directory", zap.String("dir", r.req.Dir), zap.Error(err))
	}
}

func (r *run) cwd(ctx context.Context) (string, error) {
	p, err := r.conn.LastPrompt(ctx, r.session)
	if err != nil {
		return "", err
	}
	if p != nil && p.WorkingDirectory != "" {
		return p.WorkingDirectory, nil
	}
	return r.conn.Variable(ctx, remote.ScopeSession, r.session, remote.VarPath)
}

// Probe reports the capabilities of the session behind h without running
// anything
func (e *Engine) Probe(ctx context.Context, h *session.Handle) (Capabilities, error) {
	return session.Call(ctx, h, func(ctx context.Context, conn remote.Remote, ref session.Ref) (Capabilities, error) {
		return e.probe(ctx, conn, ref.SessionID)
	})
}

// Send types text into the session, waits up to settle for the screen to
// change, and returns the lines that changed
func (e *Engine) Send(ctx context.Context, h *session.Handle, text string, settle time.Duration) ([]string, error) {
	var changed []string
	err := h.Exclusive(ctx, func() error {
		var err error
		changed, err = session.Call(ctx, h, func(ctx context.Context, conn remote.Remote, ref session.Ref) ([]string, error) {
			return e.send(ctx, conn, ref.SessionID, text, settle)
		})
		return err
	})
	return changed, err
}

func (e *Engine) send(ctx context.Context, conn remote.Remote, sessionID, text string, settle time.Duration) ([]string, error) {
	before, err := Tail(ctx, conn, sessionID, e.opts.TailLines)
	if err != nil {
		return nil, err
	}
	if err := conn.SendText(ctx, sessionID, text, true); err != nil {
		return nil, err
	}

	var after Snapshot
	_, err = e.opts.Poll.Retry(ctx, time.Now().Add(settle), func(ctx context.Context, _ int) error {
		var err error
		if after, err = Tail(ctx, conn, sessionID, e.opts.TailLines); err != nil {
			return resilience.Permanent(err)
		}
		if len(ChangedSlice(before, after)) == 0 {
			return errUnchanged
		}
		return nil
	})
	if err != nil && !errors.Is(err, resilience.ErrExhausted) {
		return nil, err
	}
	return Snapshot{Lines: ChangedSlice(before, after)}.Texts(), nil
}

var errUnchanged = errors.New("screen unchanged")
