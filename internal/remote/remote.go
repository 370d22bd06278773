package remote

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a window, tab, session, profile or
	// prompt id no longer resolves
	ErrNotFound = errors.New("remote object not found")
	// ErrClosed is returned by calls on a connection that is no longer live
	ErrClosed = errors.New("connection closed")
)

// Version is the control-plane protocol version pair
type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
}

func (v Version) String() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }

// AtLeast reports whether v is at or above major.minor
func (v Version) AtLeast(major, minor int) bool {
	return v.Major > major || (v.Major == major && v.Minor >= minor)
}

// Scope selects which object a variable lives on
type Scope string

const (
	ScopeApp     Scope = "app"
	ScopeWindow  Scope = "window"
	ScopeTab     Scope = "tab"
	ScopeSession Scope = "session"
)

// Well-known session variables
const (
	VarUsername = "username"
	VarHostname = "hostname"
	VarPath     = "path"
)

// Created identifies the objects produced by CreateWindow or CreateTab
type Created struct {
	WindowID  string `json:"window_id"`
	TabID     string `json:"tab_id"`
	SessionID string `json:"session_id"`
}

// Subscription delivers prompt events for one session until closed
type Subscription interface {
	Events() <-chan PromptEvent
	Close() error
}

// Remote is the control-plane surface used by the session and execution
// layers. Implementations must be safe for concurrent use.
type Remote interface {
	// Live reports whether the link is still usable
	Live() bool
	// ProtocolVersion is the version negotiated at handshake
	ProtocolVersion() Version

	// Layout fetches the application object: every window, tab and session
	Layout(ctx context.Context) (*Layout, error)
	DefaultProfile(ctx context.Context) (Profile, error)
	Profile(ctx context.Context, name string) (Profile, error)
	CreateWindow(ctx context.Context, profile string) (Created, error)
	CreateTab(ctx context.Context, windowID, profile string) (Created, error)
	Activate(ctx context.Context, sessionID string, selectTab, orderWindowFront bool) error

	Variable(ctx context.Context, scope Scope, id, name string) (string, error)
	SetVariable(ctx context.Context, scope Scope, id, name, value string) error
	SetTabTitle(ctx context.Context, tabID, title string) error
	SetSessionName(ctx context.Context, sessionID, name string) error

	BufferInfo(ctx context.Context, sessionID string) (BufferInfo, error)
	// ReadLines returns up to count lines starting at the absolute line
	// firstLine, clipped to what the buffer still retains
	ReadLines(ctx context.Context, sessionID string, firstLine int64, count int) ([]Line, error)
	SendText(ctx context.Context, sessionID, text string, suppressBroadcast bool) error

	// LastPrompt returns nil, nil when the shell integration has not
	// recorded any prompt
	LastPrompt(ctx context.Context, sessionID string) (*Prompt, error)
	Prompt(ctx context.Context, sessionID, promptID string) (*Prompt, error)
	SubscribePrompts(ctx context.Context, sessionID string) (Subscription, error)

	Close() error
}
