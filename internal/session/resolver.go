package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/termlink/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termlink/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termlink/internal/remote"
)

// DefaultTag prefixes the identifying tag when none is configured
const DefaultTag = "termlink"

// Options controls how a session is resolved
type Options struct {
	// Profile is the profile name to run under; empty means the default profile
	Profile string
	// NewTab always creates a fresh tab instead of reusing a tagged one
	NewTab bool
	// Tag identifies sessions owned by this tool; empty derives one from
	// the profile name
	Tag string
	// OrderWindowFront raises the chosen window
	OrderWindowFront bool
}

// TagFor derives the identifying tag for a profile
func TagFor(base, profile string) string {
	if base == "" {
		base = DefaultTag
	}
	if profile == "" {
		return base
	}
	return base + ":" + profile
}

// Resolver locates or creates the session commands run in
type Resolver struct {
	base    *zap.Logger
	log     *zap.Logger
	metrics *monitoring.Metrics
}

// NewResolver creates a resolver
func NewResolver(log *zap.Logger, metrics *monitoring.Metrics) *Resolver {
	base := logging.OrNop(log)
	return &Resolver{base: base, log: base.Named("resolver"), metrics: metrics}
}

// Resolve picks a window, then reuses the first tab whose title or current
// session name equals the tag, or creates and tags a new one.
//
// Window preference: a hotkey window already hosting the profile, any
// window hosting the profile, the focused window, the first window, and
// finally a newly created one.
func (r *Resolver) Resolve(ctx context.Context, conn remote.Remote, opts Options) (*Handle, error) {
	profile, err := r.profile(ctx, conn, opts.Profile)
	if err != nil {
		return nil, resolutionError("profile", err)
	}
	tag := opts.Tag
	if tag == "" {
		tag = TagFor(DefaultTag, profile.Name)
	}

	layout, err := conn.Layout(ctx)
	if err != nil {
		return nil, resolutionError("layout", err)
	}

	window := pickWindow(layout, profile.Name)
	if window == nil {
		created, err := conn.CreateWindow(ctx, profile.Name)
		if err != nil {
			return nil, resolutionError("create window", err)
		}
		r.tag(ctx, conn, created, tag)
		return r.finish(ctx, conn, opts, "created_window", Ref{
			WindowID: created.WindowID, TabID: created.TabID, SessionID: created.SessionID, Profile: profile,
		})
	}

	if !opts.NewTab {
		if tab, sess, ok := findTagged(window, tag); ok {
			return r.finish(ctx, conn, opts, "reused", Ref{
				WindowID: window.ID, TabID: tab.ID, SessionID: sess.ID, Profile: profile, Hotkey: window.Hotkey,
			})
		}
	}

	created, err := conn.CreateTab(ctx, window.ID, profile.Name)
	if err != nil {
		return nil, resolutionError("create tab", err)
	}
	r.tag(ctx, conn, created, tag)
	return r.finish(ctx, conn, opts, "created_tab", Ref{
		WindowID: created.WindowID, TabID: created.TabID, SessionID: created.SessionID, Profile: profile, Hotkey: window.Hotkey,
	})
}

func (r *Resolver) profile(ctx context.Context, conn remote.Remote, name string) (remote.Profile, error) {
	if name == "" {
		return conn.DefaultProfile(ctx)
	}
	return conn.Profile(ctx, name)
}

func pickWindow(layout *remote.Layout, profile string) *remote.Window {
	var candidate *remote.Window
	for i := range layout.Windows {
		w := &layout.Windows[i]
		if !w.HasProfile(profile) {
			continue
		}
		if w.Hotkey {
			return w
		}
		if candidate == nil {
			candidate = w
		}
	}
	if candidate != nil {
		return candidate
	}
	if w, ok := layout.CurrentWindow(); ok {
		return w
	}
	if len(layout.Windows) > 0 {
		return &layout.Windows[0]
	}
	return nil
}

func findTagged(w *remote.Window, tag string) (*remote.Tab, *remote.SessionInfo, bool) {
	for i := range w.Tabs {
		t := &w.Tabs[i]
		sess, ok := t.CurrentSession()
		if !ok {
			continue
		}
		if t.Title == tag || sess.Name == tag {
			return t, sess, true
		}
	}
	return nil, nil, false
}

// tag names a new tab and its session; failures only cost convergence
func (r *Resolver) tag(ctx context.Context, conn remote.Remote, c remote.Created, tag string) {
	if err := conn.SetTabTitle(ctx, c.TabID, tag); err != nil {
		r.log.Warn("could not set tab title", zap.String("tab", c.TabID), zap.Error(err))
	}
	if err := conn.SetSessionName(ctx, c.SessionID, tag); err != nil {
		r.log.Warn("could not set session name", zap.String("session", c.SessionID), zap.Error(err))
	}
}

func (r *Resolver) finish(ctx context.Context, conn remote.Remote, opts Options, how string, ref Ref) (*Handle, error) {
	if err := conn.Activate(ctx, ref.SessionID, true, opts.OrderWindowFront); err != nil {
		r.log.Warn("could not activate session", zap.String("session", ref.SessionID), zap.Error(err))
	}
	r.metrics.RecordResolution(how)
	r.log.Debug("session resolved",
		zap.String("how", how),
		zap.String("window", ref.WindowID),
		zap.String("tab", ref.TabID),
		zap.String("session", ref.SessionID))
	return NewHandle(conn, ref, r.base, r.metrics), nil
}
