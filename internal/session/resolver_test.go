package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/termlink/internal/mockplane"
	"github.com/GriffinCanCode/termlink/internal/remote"
)

func newPlane(t *testing.T, shell mockplane.ScriptedOptions) *mockplane.Plane {
	t.Helper()
	p := mockplane.New(mockplane.Options{
		Profiles: []string{"work", "play"},
		Shell:    mockplane.Scripted(shell),
	})
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func tabCount(t *testing.T, p *mockplane.Plane) int {
	t.Helper()
	layout, err := p.Layout(context.Background())
	require.NoError(t, err)
	n := 0
	for _, w := range layout.Windows {
		n += len(w.Tabs)
	}
	return n
}

func TestTagFor(t *testing.T) {
	assert.Equal(t, "termlink", TagFor("", ""))
	assert.Equal(t, "termlink:work", TagFor("", "work"))
	assert.Equal(t, "ops:work", TagFor("ops", "work"))
}

func TestResolveReusesTaggedTab(t *testing.T) {
	ctx := context.Background()
	p := newPlane(t, mockplane.ScriptedOptions{})
	existing, err := p.CreateWindow(ctx, "work")
	require.NoError(t, err)
	require.NoError(t, p.SetTabTitle(ctx, existing.TabID, "termlink:work"))

	h, err := NewResolver(nil, nil).Resolve(ctx, p, Options{Profile: "work"})
	require.NoError(t, err)

	ref := h.Ref()
	assert.Equal(t, existing.SessionID, ref.SessionID)
	assert.Equal(t, existing.TabID, ref.TabID)
	assert.Equal(t, existing.WindowID, ref.WindowID)
	assert.Equal(t, "work", ref.Profile.Name)
	assert.Equal(t, 1, tabCount(t, p), "no tab was created")
}

func TestResolveMatchesSessionName(t *testing.T) {
	ctx := context.Background()
	p := newPlane(t, mockplane.ScriptedOptions{})
	first, err := p.CreateWindow(ctx, "")
	require.NoError(t, err)
	second, err := p.CreateTab(ctx, first.WindowID, "")
	require.NoError(t, err)
	require.NoError(t, p.SetSessionName(ctx, second.SessionID, "mine"))

	h, err := NewResolver(nil, nil).Resolve(ctx, p, Options{Tag: "mine"})
	require.NoError(t, err)
	assert.Equal(t, second.SessionID, h.SessionID())
}

func TestResolveCreatesAndTagsSoRunsConverge(t *testing.T) {
	ctx := context.Background()
	p := newPlane(t, mockplane.ScriptedOptions{})
	_, err := p.CreateWindow(ctx, "")
	require.NoError(t, err)
	r := NewResolver(nil, nil)

	h1, err := r.Resolve(ctx, p, Options{Profile: "work"})
	require.NoError(t, err)
	assert.Equal(t, 2, tabCount(t, p))

	layout, err := p.Layout(ctx)
	require.NoError(t, err)
	loc, ok := layout.Locate(h1.SessionID())
	require.True(t, ok)
	assert.Equal(t, "termlink:work", loc.Tab.Title)
	assert.Equal(t, "termlink:work", loc.Session.Name)

	h2, err := r.Resolve(ctx, p, Options{Profile: "work"})
	require.NoError(t, err)
	assert.Equal(t, h1.SessionID(), h2.SessionID())
	assert.Equal(t, 2, tabCount(t, p))
}

func TestResolveNewTabAlwaysCreates(t *testing.T) {
	ctx := context.Background()
	p := newPlane(t, mockplane.ScriptedOptions{})
	existing, err := p.CreateWindow(ctx, "work")
	require.NoError(t, err)
	require.NoError(t, p.SetTabTitle(ctx, existing.TabID, "termlink:work"))

	h, err := NewResolver(nil, nil).Resolve(ctx, p, Options{Profile: "work", NewTab: true})
	require.NoError(t, err)
	assert.NotEqual(t, existing.SessionID, h.SessionID())
	assert.Equal(t, existing.WindowID, h.Ref().WindowID)
	assert.Equal(t, 2, tabCount(t, p))
}

func TestResolveCreatesWindowWhenNoneExist(t *testing.T) {
	ctx := context.Background()
	p := newPlane(t, mockplane.ScriptedOptions{})

	h, err := NewResolver(nil, nil).Resolve(ctx, p, Options{})
	require.NoError(t, err)

	layout, err := p.Layout(ctx)
	require.NoError(t, err)
	require.Len(t, layout.Windows, 1)
	assert.Equal(t, layout.Windows[0].ID, h.Ref().WindowID)
	assert.Equal(t, "Default", h.Ref().Profile.Name)
	assert.Equal(t, "termlink:Default", layout.Windows[0].Tabs[0].Title)
}

func TestResolvePrefersHotkeyWindowWithProfile(t *testing.T) {
	ctx := context.Background()
	p := newPlane(t, mockplane.ScriptedOptions{})
	other, err := p.CreateWindow(ctx, "play")
	require.NoError(t, err)
	plain, err := p.CreateWindow(ctx, "work")
	require.NoError(t, err)
	hotkey, err := p.CreateWindow(ctx, "work")
	require.NoError(t, err)
	p.SetHotkey(hotkey.WindowID, true)
	require.NoError(t, p.Activate(ctx, other.SessionID, true, true))

	h, err := NewResolver(nil, nil).Resolve(ctx, p, Options{Profile: "work"})
	require.NoError(t, err)
	assert.Equal(t, hotkey.WindowID, h.Ref().WindowID)
	assert.True(t, h.Ref().Hotkey)

	p.SetHotkey(hotkey.WindowID, false)
	h, err = NewResolver(nil, nil).Resolve(ctx, p, Options{Profile: "work", Tag: "fresh"})
	require.NoError(t, err)
	assert.Equal(t, plain.WindowID, h.Ref().WindowID, "first window hosting the profile")
}

func TestResolveFallsBackToFocusedWindow(t *testing.T) {
	ctx := context.Background()
	p := newPlane(t, mockplane.ScriptedOptions{})
	_, err := p.CreateWindow(ctx, "")
	require.NoError(t, err)
	focused, err := p.CreateWindow(ctx, "")
	require.NoError(t, err)

	h, err := NewResolver(nil, nil).Resolve(ctx, p, Options{Profile: "play"})
	require.NoError(t, err)
	assert.Equal(t, focused.WindowID, h.Ref().WindowID)
}

func TestResolveUnknownProfile(t *testing.T) {
	p := newPlane(t, mockplane.ScriptedOptions{})

	_, err := NewResolver(nil, nil).Resolve(context.Background(), p, Options{Profile: "missing"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResolution)
	assert.ErrorIs(t, err, remote.ErrNotFound)
	var re *ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "profile", re.Step)
}

// noWindows refuses to create windows
type noWindows struct {
	remote.Remote
}

func (noWindows) CreateWindow(context.Context, string) (remote.Created, error) {
	return remote.Created{}, errors.New("window server unavailable")
}

func TestResolveFailsWhenNoWindowCanBeCreated(t *testing.T) {
	p := newPlane(t, mockplane.ScriptedOptions{})

	_, err := NewResolver(nil, nil).Resolve(context.Background(), noWindows{p}, Options{})
	var re *ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "create window", re.Step)
	assert.ErrorIs(t, err, ErrResolution)
}
