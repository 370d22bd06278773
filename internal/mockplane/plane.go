package mockplane

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/termlink/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termlink/internal/remote"
	"github.com/GriffinCanCode/termlink/internal/shared/id"
)

// Options configures a Plane
type Options struct {
	// Profiles lists the known profile names; empty accepts any name
	Profiles       []string
	DefaultProfile string
	Width          int
	Height         int
	MaxLines       int
	Shell          ShellFactory
	Version        remote.Version
	Logger         *zap.Logger
}

// Plane is an in-memory control plane implementing remote.Remote
type Plane struct {
	opts Options
	log  *zap.Logger
	live atomic.Bool

	mu       sync.Mutex
	windows  []*window
	current  string
	sessions map[string]*Session
	vars     map[string]map[string]string
}

type window struct {
	id         string
	hotkey     bool
	tabs       []*tab
	currentTab string
}

type tab struct {
	id       string
	title    string
	sessions []*Session
	current  string
}

var _ remote.Remote = (*Plane)(nil)

// New creates an empty control plane
func New(opts Options) *Plane {
	if opts.DefaultProfile == "" {
		opts.DefaultProfile = "Default"
	}
	if opts.Width <= 0 {
		opts.Width = 120
	}
	if opts.Height <= 0 {
		opts.Height = 40
	}
	if opts.MaxLines <= 0 {
		opts.MaxLines = 10000
	}
	if opts.Shell == nil {
		opts.Shell = Scripted(ScriptedOptions{})
	}
	if opts.Version == (remote.Version{}) {
		opts.Version = remote.Version{Major: 1, Minor: 0}
	}
	p := &Plane{
		opts:     opts,
		log:      logging.OrNop(opts.Logger).Named("mockplane"),
		sessions: make(map[string]*Session),
		vars:     make(map[string]map[string]string),
	}
	p.live.Store(true)
	return p
}

func (p *Plane) Live() bool                      { return p.live.Load() }
func (p *Plane) ProtocolVersion() remote.Version { return p.opts.Version }

// Close shuts every session down and marks the plane dead
func (p *Plane) Close() error {
	if !p.live.Swap(false) {
		return nil
	}
	p.mu.Lock()
	sessions := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
	return nil
}

func (p *Plane) check(ctx context.Context) error {
	if !p.Live() {
		return remote.ErrClosed
	}
	return ctx.Err()
}

// ============================================================================
// Layout and profiles
// ============================================================================

func (p *Plane) Layout(ctx context.Context) (*remote.Layout, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	l := &remote.Layout{CurrentWindowID: p.current, Windows: make([]remote.Window, 0, len(p.windows))}
	for _, w := range p.windows {
		rw := remote.Window{ID: w.id, Hotkey: w.hotkey, CurrentTabID: w.currentTab, Tabs: make([]remote.Tab, 0, len(w.tabs))}
		for _, t := range w.tabs {
			rt := remote.Tab{ID: t.id, Title: t.title, CurrentSessionID: t.current}
			for _, s := range t.sessions {
				rt.Sessions = append(rt.Sessions, remote.SessionInfo{ID: s.ID, Name: s.Name(), ProfileName: s.Profile})
			}
			rw.Tabs = append(rw.Tabs, rt)
		}
		l.Windows = append(l.Windows, rw)
	}
	return l, nil
}

func (p *Plane) DefaultProfile(ctx context.Context) (remote.Profile, error) {
	if err := p.check(ctx); err != nil {
		return remote.Profile{}, err
	}
	return profileFor(p.opts.DefaultProfile), nil
}

func (p *Plane) Profile(ctx context.Context, name string) (remote.Profile, error) {
	if err := p.check(ctx); err != nil {
		return remote.Profile{}, err
	}
	if !p.knownProfile(name) {
		return remote.Profile{}, fmt.Errorf("profile %q: %w", name, remote.ErrNotFound)
	}
	return profileFor(name), nil
}

func (p *Plane) knownProfile(name string) bool {
	if name == p.opts.DefaultProfile || len(p.opts.Profiles) == 0 {
		return true
	}
	for _, known := range p.opts.Profiles {
		if known == name {
			return true
		}
	}
	return false
}

func profileFor(name string) remote.Profile {
	return remote.Profile{Name: name, GUID: "guid-" + strings.ToLower(strings.ReplaceAll(name, " ", "-"))}
}

// ============================================================================
// Creation and focus
// ============================================================================

func (p *Plane) CreateWindow(ctx context.Context, profile string) (remote.Created, error) {
	if err := p.check(ctx); err != nil {
		return remote.Created{}, err
	}
	profile, err := p.resolveProfile(profile)
	if err != nil {
		return remote.Created{}, err
	}

	w := &window{id: id.NewWindowID().String()}
	t, s, err := p.newTab(profile)
	if err != nil {
		return remote.Created{}, err
	}
	w.tabs = []*tab{t}
	w.currentTab = t.id

	p.mu.Lock()
	p.windows = append(p.windows, w)
	p.current = w.id
	p.mu.Unlock()

	p.log.Debug("window created", zap.String("window", w.id), zap.String("session", s.ID))
	return remote.Created{WindowID: w.id, TabID: t.id, SessionID: s.ID}, nil
}

func (p *Plane) CreateTab(ctx context.Context, windowID, profile string) (remote.Created, error) {
	if err := p.check(ctx); err != nil {
		return remote.Created{}, err
	}
	profile, err := p.resolveProfile(profile)
	if err != nil {
		return remote.Created{}, err
	}

	p.mu.Lock()
	w := p.window(windowID)
	p.mu.Unlock()
	if w == nil {
		return remote.Created{}, fmt.Errorf("window %s: %w", windowID, remote.ErrNotFound)
	}

	t, s, err := p.newTab(profile)
	if err != nil {
		return remote.Created{}, err
	}
	p.mu.Lock()
	w.tabs = append(w.tabs, t)
	w.currentTab = t.id
	p.mu.Unlock()

	p.log.Debug("tab created", zap.String("window", w.id), zap.String("tab", t.id), zap.String("session", s.ID))
	return remote.Created{WindowID: w.id, TabID: t.id, SessionID: s.ID}, nil
}

func (p *Plane) resolveProfile(profile string) (string, error) {
	if profile == "" {
		return p.opts.DefaultProfile, nil
	}
	if !p.knownProfile(profile) {
		return "", fmt.Errorf("profile %q: %w", profile, remote.ErrNotFound)
	}
	return profile, nil
}

func (p *Plane) newTab(profile string) (*tab, *Session, error) {
	s := newSession(profile, p.opts.Width, p.opts.Height, p.opts.MaxLines, p.opts.Shell(profile))
	if err := s.shell.Start(s); err != nil {
		return nil, nil, fmt.Errorf("start shell: %w", err)
	}
	p.mu.Lock()
	p.sessions[s.ID] = s
	p.mu.Unlock()
	return &tab{id: id.NewTabID().String(), sessions: []*Session{s}, current: s.ID}, s, nil
}

func (p *Plane) Activate(ctx context.Context, sessionID string, selectTab, orderWindowFront bool) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	w, t := p.locate(sessionID)
	if w == nil {
		return fmt.Errorf("session %s: %w", sessionID, remote.ErrNotFound)
	}
	t.current = sessionID
	if selectTab {
		w.currentTab = t.id
	}
	if orderWindowFront {
		p.current = w.id
	}
	return nil
}

func (p *Plane) window(windowID string) *window {
	for _, w := range p.windows {
		if w.id == windowID {
			return w
		}
	}
	return nil
}

func (p *Plane) locate(sessionID string) (*window, *tab) {
	for _, w := range p.windows {
		for _, t := range w.tabs {
			for _, s := range t.sessions {
				if s.ID == sessionID {
					return w, t
				}
			}
		}
	}
	return nil, nil
}

func (p *Plane) tab(tabID string) *tab {
	for _, w := range p.windows {
		for _, t := range w.tabs {
			if t.id == tabID {
				return t
			}
		}
	}
	return nil
}

// ============================================================================
// Variables and naming
// ============================================================================

func (p *Plane) Variable(ctx context.Context, scope remote.Scope, objectID, name string) (string, error) {
	if err := p.check(ctx); err != nil {
		return "", err
	}
	if scope == remote.ScopeSession {
		s, err := p.session(objectID)
		if err != nil {
			return "", err
		}
		return s.getVar(name), nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vars[string(scope)+":"+objectID][name], nil
}

func (p *Plane) SetVariable(ctx context.Context, scope remote.Scope, objectID, name, value string) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	if scope == remote.ScopeSession {
		s, err := p.session(objectID)
		if err != nil {
			return err
		}
		s.setVar(name, value)
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key := string(scope) + ":" + objectID
	if p.vars[key] == nil {
		p.vars[key] = make(map[string]string)
	}
	p.vars[key][name] = value
	return nil
}

func (p *Plane) SetTabTitle(ctx context.Context, tabID, title string) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.tab(tabID)
	if t == nil {
		return fmt.Errorf("tab %s: %w", tabID, remote.ErrNotFound)
	}
	t.title = title
	return nil
}

func (p *Plane) SetSessionName(ctx context.Context, sessionID, name string) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	s, err := p.session(sessionID)
	if err != nil {
		return err
	}
	s.setName(name)
	return nil
}

// ============================================================================
// Buffers, input and prompts
// ============================================================================

func (p *Plane) BufferInfo(ctx context.Context, sessionID string) (remote.BufferInfo, error) {
	if err := p.check(ctx); err != nil {
		return remote.BufferInfo{}, err
	}
	s, err := p.session(sessionID)
	if err != nil {
		return remote.BufferInfo{}, err
	}
	return s.buf.Info(s.height), nil
}

func (p *Plane) ReadLines(ctx context.Context, sessionID string, firstLine int64, count int) ([]remote.Line, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	s, err := p.session(sessionID)
	if err != nil {
		return nil, err
	}
	return s.buf.Read(firstLine, count), nil
}

func (p *Plane) SendText(ctx context.Context, sessionID, text string, suppressBroadcast bool) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	s, err := p.session(sessionID)
	if err != nil {
		return err
	}
	return s.send(text, suppressBroadcast)
}

func (p *Plane) LastPrompt(ctx context.Context, sessionID string) (*remote.Prompt, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	s, err := p.session(sessionID)
	if err != nil {
		return nil, err
	}
	return s.lastPrompt(), nil
}

func (p *Plane) Prompt(ctx context.Context, sessionID, promptID string) (*remote.Prompt, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	s, err := p.session(sessionID)
	if err != nil {
		return nil, err
	}
	pr, ok := s.prompt(promptID)
	if !ok {
		return nil, fmt.Errorf("prompt %s: %w", promptID, remote.ErrNotFound)
	}
	return pr, nil
}

func (p *Plane) SubscribePrompts(ctx context.Context, sessionID string) (remote.Subscription, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	s, err := p.session(sessionID)
	if err != nil {
		return nil, err
	}
	return s.subscribe(), nil
}

// ============================================================================
// Test and demo helpers
// ============================================================================

// Session returns the session with the given id
func (p *Plane) Session(sessionID string) (*Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[sessionID]
	return s, ok
}

func (p *Plane) session(sessionID string) (*Session, error) {
	s, ok := p.Session(sessionID)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, remote.ErrNotFound)
	}
	return s, nil
}

// SetHotkey flags a window as the hotkey window
func (p *Plane) SetHotkey(windowID string, hotkey bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w := p.window(windowID); w != nil {
		w.hotkey = hotkey
	}
}

// CloseSession removes a session as if its tab had been closed
func (p *Plane) CloseSession(sessionID string) {
	p.mu.Lock()
	s, ok := p.sessions[sessionID]
	delete(p.sessions, sessionID)
	for _, w := range p.windows {
		for ti, t := range w.tabs {
			for si, ts := range t.sessions {
				if ts.ID != sessionID {
					continue
				}
				t.sessions = append(t.sessions[:si], t.sessions[si+1:]...)
				if len(t.sessions) == 0 {
					w.tabs = append(w.tabs[:ti], w.tabs[ti+1:]...)
				}
				break
			}
		}
	}
	p.mu.Unlock()
	if ok {
		s.close()
	}
}

// MoveSession moves a session's tab into another window, as dragging a
// tab would
func (p *Plane) MoveSession(sessionID, windowID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	from, t := p.locate(sessionID)
	to := p.window(windowID)
	if from == nil || to == nil {
		return remote.ErrNotFound
	}
	for i, ft := range from.tabs {
		if ft == t {
			from.tabs = append(from.tabs[:i], from.tabs[i+1:]...)
			break
		}
	}
	to.tabs = append(to.tabs, t)
	return nil
}
