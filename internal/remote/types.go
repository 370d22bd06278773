package remote

import "strings"

// Layout is a snapshot of the application object
type Layout struct {
	Windows         []Window `json:"windows"`
	CurrentWindowID string   `json:"current_window_id,omitempty"`
}

// Window is a top-level terminal window
type Window struct {
	ID           string `json:"id"`
	Hotkey       bool   `json:"hotkey,omitempty"`
	CurrentTabID string `json:"current_tab_id,omitempty"`
	Tabs         []Tab  `json:"tabs"`
}

// Tab groups one or more split-pane sessions
type Tab struct {
	ID               string        `json:"id"`
	Title            string        `json:"title"`
	CurrentSessionID string        `json:"current_session_id,omitempty"`
	Sessions         []SessionInfo `json:"sessions"`
}

// SessionInfo describes one terminal session
type SessionInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ProfileName string `json:"profile_name"`
}

// Profile is a named session configuration on the control plane
type Profile struct {
	Name string `json:"name"`
	GUID string `json:"guid"`
}

// Location ties a session to the tab and window that own it
type Location struct {
	Window  *Window
	Tab     *Tab
	Session *SessionInfo
}

// Locate finds the window and tab that currently own sessionID
func (l *Layout) Locate(sessionID string) (Location, bool) {
	if l == nil || sessionID == "" {
		return Location{}, false
	}
	for wi := range l.Windows {
		w := &l.Windows[wi]
		for ti := range w.Tabs {
			t := &w.Tabs[ti]
			for si := range t.Sessions {
				if t.Sessions[si].ID == sessionID {
					return Location{Window: w, Tab: t, Session: &t.Sessions[si]}, true
				}
			}
		}
	}
	return Location{}, false
}

// Window returns the window with the given id
func (l *Layout) Window(id string) (*Window, bool) {
	if l == nil {
		return nil, false
	}
	for i := range l.Windows {
		if l.Windows[i].ID == id {
			return &l.Windows[i], true
		}
	}
	return nil, false
}

// CurrentWindow returns the focused window, if any
func (l *Layout) CurrentWindow() (*Window, bool) {
	if l == nil || l.CurrentWindowID == "" {
		return nil, false
	}
	return l.Window(l.CurrentWindowID)
}

// HasProfile reports whether any session in w uses the named profile
func (w *Window) HasProfile(profile string) bool {
	for _, t := range w.Tabs {
		for _, s := range t.Sessions {
			if s.ProfileName == profile {
				return true
			}
		}
	}
	return false
}

// CurrentSession returns the active session of the tab, falling back to
// its first session
func (t *Tab) CurrentSession() (*SessionInfo, bool) {
	if len(t.Sessions) == 0 {
		return nil, false
	}
	for i := range t.Sessions {
		if t.Sessions[i].ID == t.CurrentSessionID {
			return &t.Sessions[i], true
		}
	}
	return &t.Sessions[0], true
}

// Line is one row of terminal text
type Line struct {
	Text string `json:"text"`
	// HardEOL is false when the row soft-wraps into the next one
	HardEOL bool `json:"hard_eol"`
}

// Blank reports whether the line has no visible characters
func (l Line) Blank() bool {
	return strings.TrimSpace(l.Text) == ""
}

// BufferInfo describes the retained region of a session buffer
type BufferInfo struct {
	// Overflow is the absolute line number of the oldest retained line
	Overflow int64 `json:"overflow"`
	// Lines is the number of retained lines, scrollback plus screen
	Lines int `json:"lines"`
	// Height is the number of screen rows
	Height int `json:"height"`
}

// End is one past the absolute number of the newest line
func (b BufferInfo) End() int64 {
	return b.Overflow + int64(b.Lines)
}

// Coord is a cell position in absolute line coordinates
type Coord struct {
	X int   `json:"x"`
	Y int64 `json:"y"`
}

// Range spans lines Start.Y through End.Y. The End line is excluded when
// End.X is 0, meaning the range stops at the very start of that line.
type Range struct {
	Start Coord `json:"start"`
	End   Coord `json:"end"`
}

// Lines returns the first absolute line and the number of lines covered
func (r Range) Lines() (first int64, count int) {
	last := r.End.Y
	if r.End.X == 0 {
		last--
	}
	if last < r.Start.Y {
		return r.Start.Y, 0
	}
	return r.Start.Y, int(last - r.Start.Y + 1)
}

// Degenerate reports whether the range was never populated
func (r Range) Degenerate() bool {
	return r.Start.Y == 0 && r.End.Y == 0
}

// PromptState tracks where a shell prompt is in its lifecycle
type PromptState string

const (
	PromptEditing  PromptState = "editing"
	PromptRunning  PromptState = "running"
	PromptFinished PromptState = "finished"
)

// Prompt is one shell-integration prompt record
type Prompt struct {
	ID               string      `json:"id"`
	State            PromptState `json:"state"`
	Command          string      `json:"command,omitempty"`
	WorkingDirectory string      `json:"working_directory,omitempty"`
	PromptRange      Range       `json:"prompt_range"`
	CommandRange     Range       `json:"command_range"`
	OutputRange      Range       `json:"output_range"`
	ExitStatus       *int        `json:"exit_status,omitempty"`
}

// PromptEventKind distinguishes structured shell events
type PromptEventKind string

const (
	EventPrompt       PromptEventKind = "prompt"
	EventCommandStart PromptEventKind = "command_start"
	EventCommandEnd   PromptEventKind = "command_end"
)

// PromptEvent is a structured completion event from the shell integration
type PromptEvent struct {
	SessionID string          `json:"session_id"`
	Kind      PromptEventKind `json:"kind"`
	PromptID  string          `json:"prompt_id"`
	Command   string          `json:"command,omitempty"`
	Status    int             `json:"status"`
}
