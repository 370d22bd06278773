package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/termlink/internal/mockplane"
	"github.com/GriffinCanCode/termlink/internal/remote"
)

func resolveOn(t *testing.T, conn remote.Remote) *Handle {
	t.Helper()
	h, err := NewResolver(nil, nil).Resolve(context.Background(), conn, Options{})
	require.NoError(t, err)
	return h
}

func TestValidatedIsIdempotent(t *testing.T) {
	p := newPlane(t, mockplane.ScriptedOptions{})
	h := resolveOn(t, p)
	ctx := context.Background()

	require.True(t, h.Validated(ctx))
	before := h.Ref()
	require.True(t, h.Validated(ctx))
	assert.Equal(t, before, h.Ref())
	assert.NoError(t, h.LastValidationError())
}

func TestValidatedFollowsMovedSession(t *testing.T) {
	ctx := context.Background()
	p := newPlane(t, mockplane.ScriptedOptions{})
	h := resolveOn(t, p)
	other, err := p.CreateWindow(ctx, "")
	require.NoError(t, err)

	require.NoError(t, p.MoveSession(h.SessionID(), other.WindowID))

	require.True(t, h.Validated(ctx))
	assert.Equal(t, other.WindowID, h.Ref().WindowID)
}

func TestValidatedFalseWhenSessionGone(t *testing.T) {
	p := newPlane(t, mockplane.ScriptedOptions{})
	h := resolveOn(t, p)

	p.CloseSession(h.SessionID())

	assert.False(t, h.Validated(context.Background()))
	assert.ErrorIs(t, h.LastValidationError(), remote.ErrNotFound)
	assert.False(t, h.Validated(context.Background()))
}

func TestValidatedFalseWhenConnectionDead(t *testing.T) {
	p := newPlane(t, mockplane.ScriptedOptions{})
	h := resolveOn(t, p)
	require.NoError(t, p.Close())

	assert.False(t, h.Validated(context.Background()))
	assert.ErrorIs(t, h.LastValidationError(), remote.ErrClosed)

	detached := NewHandle(nil, Ref{SessionID: "sess_x"}, nil, nil)
	assert.False(t, detached.Validated(context.Background()))
}

// panicky blows up on Layout
type panicky struct {
	remote.Remote
}

func (panicky) Layout(context.Context) (*remote.Layout, error) { panic("boom") }

func TestValidatedSwallowsPanics(t *testing.T) {
	p := newPlane(t, mockplane.ScriptedOptions{})
	h := NewHandle(panicky{p}, Ref{SessionID: "sess_x"}, nil, nil)

	assert.False(t, h.Validated(context.Background()))
	assert.ErrorContains(t, h.LastValidationError(), "boom")
}

func TestEnsureStateWithoutCallback(t *testing.T) {
	p := newPlane(t, mockplane.ScriptedOptions{})
	h := resolveOn(t, p)
	p.CloseSession(h.SessionID())

	err := h.EnsureState(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoRefreshCallback)
}

func TestEnsureStateValidSkipsRefresh(t *testing.T) {
	p := newPlane(t, mockplane.ScriptedOptions{})
	h := resolveOn(t, p)

	called := false
	err := h.EnsureState(context.Background(), func(context.Context) (State, error) {
		called = true
		return nil, errors.New("unexpected")
	})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestEnsureStateRefreshesInPlace(t *testing.T) {
	ctx := context.Background()
	p := newPlane(t, mockplane.ScriptedOptions{})
	r := NewResolver(nil, nil)
	h := resolveOn(t, p)
	stale := h.SessionID()
	h.SetRefresh(func(ctx context.Context) (State, error) {
		return r.Resolve(ctx, p, Options{})
	})

	p.CloseSession(stale)
	require.NoError(t, h.EnsureState(ctx, nil))

	assert.NotEqual(t, stale, h.SessionID())
	assert.True(t, h.Validated(ctx))

	p.CloseSession(h.SessionID())
	require.NoError(t, h.EnsureState(ctx, nil), "callback survives a refresh")
}

func TestEnsureStateRefreshError(t *testing.T) {
	p := newPlane(t, mockplane.ScriptedOptions{})
	h := resolveOn(t, p)
	p.CloseSession(h.SessionID())

	boom := errors.New("control plane down")
	err := h.EnsureState(context.Background(), func(context.Context) (State, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
}

// otherState is a State that is not a Handle
type otherState struct{}

func (otherState) EnsureState(context.Context, RefreshFunc) error { return nil }
func (otherState) RefreshFrom(State) error                        { return nil }
func (otherState) SetRefresh(RefreshFunc)                         {}

func TestRefreshFromTypeMismatch(t *testing.T) {
	p := newPlane(t, mockplane.ScriptedOptions{})
	h := resolveOn(t, p)
	before := h.Ref()

	err := h.RefreshFrom(otherState{})
	assert.ErrorIs(t, err, ErrTypeMismatch)
	assert.ErrorIs(t, h.RefreshFrom(nil), ErrTypeMismatch)
	assert.Equal(t, before, h.Ref(), "failed refresh changes nothing")

	assert.NoError(t, h.RefreshFrom(h))
}

func TestRefreshFromCopiesEverything(t *testing.T) {
	p := newPlane(t, mockplane.ScriptedOptions{})
	h := NewHandle(nil, Ref{SessionID: "old"}, nil, nil)
	src := NewHandle(p, Ref{WindowID: "w", TabID: "t", SessionID: "s", Profile: remote.Profile{Name: "work"}, Hotkey: true}, nil, nil)

	require.NoError(t, h.RefreshFrom(src))
	assert.Equal(t, src.Ref(), h.Ref())
	assert.Same(t, p, h.Conn().(*mockplane.Plane))
}

func TestExclusiveSerialisesAndHonoursContext(t *testing.T) {
	h := NewHandle(nil, Ref{}, nil, nil)
	release := make(chan struct{})
	entered := make(chan struct{})

	go func() {
		_ = h.Exclusive(context.Background(), func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := h.Exclusive(ctx, func() error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	assert.Eventually(t, func() bool {
		return h.Exclusive(context.Background(), func() error { return nil }) == nil
	}, time.Second, 5*time.Millisecond)
}

// flaky reports a closed connection for the first n SendText calls
type flaky struct {
	remote.Remote
	n     int32
	calls atomic.Int32
}

func (f *flaky) SendText(ctx context.Context, sessionID, text string, suppress bool) error {
	if f.calls.Add(1) <= f.n {
		return remote.ErrClosed
	}
	return f.Remote.SendText(ctx, sessionID, text, suppress)
}

func TestCallRetriesOnceAfterClosedConnection(t *testing.T) {
	p := newPlane(t, mockplane.ScriptedOptions{})
	created := resolveOn(t, p)
	conn := &flaky{Remote: p, n: 1}
	h := NewHandle(conn, created.Ref(), nil, nil)

	require.NoError(t, h.SendCommand(context.Background(), "ls", false))
	assert.Equal(t, int32(2), conn.calls.Load())

	s, _ := p.Session(h.SessionID())
	assert.Equal(t, []mockplane.SentText{{Text: "ls\n", SuppressBroadcast: true}}, s.Inputs())
}

func TestCallGivesUpAfterOneRetry(t *testing.T) {
	p := newPlane(t, mockplane.ScriptedOptions{})
	created := resolveOn(t, p)
	conn := &flaky{Remote: p, n: 5}
	h := NewHandle(conn, created.Ref(), nil, nil)

	err := h.SendCommand(context.Background(), "ls", true)
	assert.ErrorIs(t, err, remote.ErrClosed)
	assert.Equal(t, int32(2), conn.calls.Load())
}

func TestCallInsideRetryBoundaryRunsOnce(t *testing.T) {
	p := newPlane(t, mockplane.ScriptedOptions{})
	created := resolveOn(t, p)
	conn := &flaky{Remote: p, n: 5}
	h := NewHandle(conn, created.Ref(), nil, nil)

	err := h.SendCommand(WithRetry(context.Background()), "ls", true)
	assert.ErrorIs(t, err, remote.ErrClosed)
	assert.Equal(t, int32(1), conn.calls.Load())
}

func TestNestedCallsRetryOnlyAtTheOuterBoundary(t *testing.T) {
	p := newPlane(t, mockplane.ScriptedOptions{})
	created := resolveOn(t, p)
	conn := &flaky{Remote: p, n: 5}
	h := NewHandle(conn, created.Ref(), nil, nil)

	_, err := Call(context.Background(), h, func(ctx context.Context, _ remote.Remote, _ Ref) (struct{}, error) {
		assert.True(t, InRetry(ctx))
		return struct{}{}, h.SendCommand(ctx, "ls", true)
	})
	assert.ErrorIs(t, err, remote.ErrClosed)
	assert.Equal(t, int32(2), conn.calls.Load())
}

func TestConvenienceReads(t *testing.T) {
	ctx := context.Background()
	p := newPlane(t, mockplane.ScriptedOptions{Integration: true, Cwd: "/srv/app"})
	h, err := NewResolver(nil, nil).Resolve(ctx, p, Options{Profile: "work"})
	require.NoError(t, err)

	cwd, err := h.Cwd(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/srv/app", cwd)

	title, err := h.TabTitle(ctx)
	require.NoError(t, err)
	assert.Equal(t, "termlink:work", title)

	profile, err := h.SessionProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "work", profile.Name)

	d := h.Describe()
	assert.Equal(t, h.SessionID(), d.SessionID)
	assert.Equal(t, "work", d.Profile)
	assert.True(t, d.Live)
	assert.Equal(t, "1.0", d.ProtocolVersion)
	assert.Len(t, d.Fields(), 6)
}

func TestCwdFallsBackToPathVariable(t *testing.T) {
	p := newPlane(t, mockplane.ScriptedOptions{})
	h := resolveOn(t, p)

	cwd, err := h.Cwd(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/home/user", cwd)
}
