package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/termlink/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termlink/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termlink/internal/remote"
)

// RefreshFunc builds a brand-new State, usually by acquiring a connection
// and running the Resolver again
type RefreshFunc func(ctx context.Context) (State, error)

// State is what the client bridge needs from a session reference. Handle is
// the production implementation; tests supply their own.
type State interface {
	// EnsureState validates the state and rebuilds it in place when stale.
	// refresh overrides the stored callback when non-nil.
	EnsureState(ctx context.Context, refresh RefreshFunc) error
	// RefreshFrom replaces every field with those of other
	RefreshFrom(other State) error
	// SetRefresh stores the callback used by EnsureState
	SetRefresh(fn RefreshFunc)
}

// Ref locates a session on the control plane
type Ref struct {
	WindowID  string
	TabID     string
	SessionID string
	Profile   remote.Profile
	Hotkey    bool
}

// Handle is a validated reference to one terminal session
type Handle struct {
	log     *zap.Logger
	metrics *monitoring.Metrics

	// exec serialises command execution; a channel so waiters can give up
	exec chan struct{}

	mu        sync.Mutex
	conn      remote.Remote
	ref       Ref
	refresh   RefreshFunc
	lastCause error
}

var _ State = (*Handle)(nil)

// NewHandle creates a handle for ref on conn
func NewHandle(conn remote.Remote, ref Ref, log *zap.Logger, metrics *monitoring.Metrics) *Handle {
	return &Handle{
		log:     logging.OrNop(log).Named("session"),
		metrics: metrics,
		exec:    make(chan struct{}, 1),
		conn:    conn,
		ref:     ref,
	}
}

// Conn returns the connection the handle currently uses
func (h *Handle) Conn() remote.Remote {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn
}

// Ref returns a copy of the current references
func (h *Handle) Ref() Ref {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ref
}

// SessionID is shorthand for Ref().SessionID
func (h *Handle) SessionID() string {
	return h.Ref().SessionID
}

// LastValidationError is why the most recent validation failed, or nil
func (h *Handle) LastValidationError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastCause
}

// SetRefresh implements State
func (h *Handle) SetRefresh(fn RefreshFunc) {
	h.mu.Lock()
	h.refresh = fn
	h.mu.Unlock()
}

// Validated checks that the connection is live and the session still exists,
// and re-derives the owning window and tab from the session. It never fails
// outward: every problem reads as false, with the cause kept for
// LastValidationError.
func (h *Handle) Validated(ctx context.Context) bool {
	err := h.validate(ctx)

	h.mu.Lock()
	h.lastCause = err
	h.mu.Unlock()

	h.metrics.RecordValidation(err == nil)
	if err != nil {
		h.log.Debug("session failed validation", zap.String("session", h.SessionID()), zap.Error(err))
		return false
	}
	return true
}

func (h *Handle) validate(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("validation panicked: %v", r)
		}
	}()

	h.mu.Lock()
	conn, sessionID := h.conn, h.ref.SessionID
	h.mu.Unlock()

	if conn == nil || !conn.Live() {
		return remote.ErrClosed
	}
	layout, err := conn.Layout(ctx)
	if err != nil {
		return fmt.Errorf("fetch layout: %w", err)
	}
	loc, ok := layout.Locate(sessionID)
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, remote.ErrNotFound)
	}
	if loc.Window == nil || loc.Tab == nil {
		return fmt.Errorf("session %s has no owning window or tab", sessionID)
	}

	h.mu.Lock()
	h.ref.WindowID = loc.Window.ID
	h.ref.TabID = loc.Tab.ID
	h.ref.Hotkey = loc.Window.Hotkey
	h.mu.Unlock()
	return nil
}

// EnsureState implements State
func (h *Handle) EnsureState(ctx context.Context, refresh RefreshFunc) error {
	if h.Validated(ctx) {
		return nil
	}

	if refresh == nil {
		h.mu.Lock()
		refresh = h.refresh
		h.mu.Unlock()
	}
	if refresh == nil {
		return ErrNoRefreshCallback
	}

	fresh, err := refresh(ctx)
	h.metrics.RecordRefresh(err)
	if err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	if err := h.RefreshFrom(fresh); err != nil {
		return err
	}
	h.log.Info("session refreshed", zap.String("session", h.SessionID()))
	return nil
}

// RefreshFrom implements State. Everything but the execution lock is copied,
// so holders of h keep a valid reference. A nil callback on other leaves
// h's callback in place.
func (h *Handle) RefreshFrom(other State) error {
	src, ok := other.(*Handle)
	if !ok || src == nil {
		return fmt.Errorf("%w: got %T", ErrTypeMismatch, other)
	}
	if src == h {
		return nil
	}

	src.mu.Lock()
	conn, ref, refresh := src.conn, src.ref, src.refresh
	src.mu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.conn = conn
	h.ref = ref
	if refresh != nil {
		h.refresh = refresh
	}
	h.lastCause = nil
	return nil
}

// Exclusive runs fn while holding the handle's execution lock. Callers queue
// in turn; a caller whose context ends while waiting gives up.
func (h *Handle) Exclusive(ctx context.Context, fn func() error) error {
	select {
	case h.exec <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-h.exec }()
	return fn()
}

type retryKey struct{}

// WithRetry marks ctx as running inside a refresh-and-retry boundary. Call
// under such a context runs fn once and leaves the retry to the boundary.
func WithRetry(ctx context.Context) context.Context {
	return context.WithValue(ctx, retryKey{}, true)
}

// InRetry reports whether ctx is already inside a retry boundary
func InRetry(ctx context.Context) bool {
	on, _ := ctx.Value(retryKey{}).(bool)
	return on
}

// Call validates h, then runs fn against the current connection and
// references. If fn reports a closed connection, h is refreshed and fn runs
// exactly once more, unless an outer boundary already owns the retry.
func Call[T any](ctx context.Context, h *Handle, fn func(ctx context.Context, conn remote.Remote, ref Ref) (T, error)) (T, error) {
	var zero T
	if err := h.EnsureState(ctx, nil); err != nil {
		return zero, err
	}
	if InRetry(ctx) {
		return fn(ctx, h.Conn(), h.Ref())
	}

	ctx = WithRetry(ctx)
	out, err := fn(ctx, h.Conn(), h.Ref())
	if !errors.Is(err, remote.ErrClosed) {
		return out, err
	}

	h.log.Info("connection closed, refreshing session and retrying")
	if err := h.EnsureState(ctx, nil); err != nil {
		return zero, err
	}
	return fn(ctx, h.Conn(), h.Ref())
}

// Cwd is the working directory of the session's last prompt, falling back
// to the shell's path variable when no prompt has been recorded
func (h *Handle) Cwd(ctx context.Context) (string, error) {
	return Call(ctx, h, func(ctx context.Context, conn remote.Remote, ref Ref) (string, error) {
		p, err := conn.LastPrompt(ctx, ref.SessionID)
		if err != nil {
			return "", err
		}
		if p != nil && p.WorkingDirectory != "" {
			return p.WorkingDirectory, nil
		}
		return conn.Variable(ctx, remote.ScopeSession, ref.SessionID, remote.VarPath)
	})
}

// TabTitle returns the title of the tab that owns the session
func (h *Handle) TabTitle(ctx context.Context) (string, error) {
	return Call(ctx, h, func(ctx context.Context, conn remote.Remote, ref Ref) (string, error) {
		layout, err := conn.Layout(ctx)
		if err != nil {
			return "", err
		}
		loc, ok := layout.Locate(ref.SessionID)
		if !ok {
			return "", fmt.Errorf("session %s: %w", ref.SessionID, remote.ErrNotFound)
		}
		return loc.Tab.Title, nil
	})
}

// SessionProfile returns the profile the session is running
func (h *Handle) SessionProfile(ctx context.Context) (remote.Profile, error) {
	return Call(ctx, h, func(ctx context.Context, conn remote.Remote, ref Ref) (remote.Profile, error) {
		layout, err := conn.Layout(ctx)
		if err != nil {
			return remote.Profile{}, err
		}
		loc, ok := layout.Locate(ref.SessionID)
		if !ok {
			return remote.Profile{}, fmt.Errorf("session %s: %w", ref.SessionID, remote.ErrNotFound)
		}
		return conn.Profile(ctx, loc.Session.ProfileName)
	})
}

// SendCommand types command followed by a newline. Broadcast lets the text
// reach every session in a broadcast group.
func (h *Handle) SendCommand(ctx context.Context, command string, broadcast bool) error {
	_, err := Call(ctx, h, func(ctx context.Context, conn remote.Remote, ref Ref) (struct{}, error) {
		return struct{}{}, conn.SendText(ctx, ref.SessionID, command+"\n", !broadcast)
	})
	return err
}

// Description is a point-in-time dump of a handle for debug output
type Description struct {
	WindowID        string `json:"window_id"`
	TabID           string `json:"tab_id"`
	SessionID       string `json:"session_id"`
	Profile         string `json:"profile"`
	Hotkey          bool   `json:"hotkey"`
	Live            bool   `json:"live"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	LastValidation  string `json:"last_validation_error,omitempty"`
}

// Describe snapshots the handle without touching the control plane
func (h *Handle) Describe() Description {
	h.mu.Lock()
	defer h.mu.Unlock()
	d := Description{
		WindowID:  h.ref.WindowID,
		TabID:     h.ref.TabID,
		SessionID: h.ref.SessionID,
		Profile:   h.ref.Profile.Name,
		Hotkey:    h.ref.Hotkey,
	}
	if h.conn != nil {
		d.Live = h.conn.Live()
		d.ProtocolVersion = h.conn.ProtocolVersion().String()
	}
	if h.lastCause != nil {
		d.LastValidation = h.lastCause.Error()
	}
	return d
}

// Fields renders the description as zap fields
func (d Description) Fields() []zap.Field {
	return []zap.Field{
		zap.String("window", d.WindowID),
		zap.String("tab", d.TabID),
		zap.String("session", d.SessionID),
		zap.String("profile", d.Profile),
		zap.Bool("hotkey", d.Hotkey),
		zap.Bool("live", d.Live),
	}
}
