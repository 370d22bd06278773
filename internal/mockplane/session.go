package mockplane

import (
	"fmt"
	"sync"

	"github.com/GriffinCanCode/termlink/internal/remote"
	"github.com/GriffinCanCode/termlink/internal/shared/id"
)

// Shell drives a session: it receives typed text and writes output back
// through the session
type Shell interface {
	Start(s *Session) error
	Input(text string) error
	Close() error
}

// ShellFactory builds the shell for a new session
type ShellFactory func(profile string) Shell

// SentText records one SendText call
type SentText struct {
	Text              string
	SuppressBroadcast bool
}

// Session is one in-memory terminal session
type Session struct {
	ID      string
	Profile string

	buf    *LineBuffer
	height int
	shell  Shell

	mu      sync.Mutex
	name    string
	prompts []*remote.Prompt
	subs    map[*eventSub]struct{}
	inputs  []SentText
	vars    map[string]string
	closed  bool
}

func newSession(profile string, width, height, maxLines int, shell Shell) *Session {
	return &Session{
		ID:      id.NewSessionID().String(),
		Profile: profile,
		buf:     NewLineBuffer(width, maxLines),
		height:  height,
		shell:   shell,
		subs:    make(map[*eventSub]struct{}),
		vars:    make(map[string]string),
	}
}

func (s *Session) setVar(name, value string) {
	s.mu.Lock()
	s.vars[name] = value
	s.mu.Unlock()
}

func (s *Session) getVar(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vars[name]
}

// Buffer exposes the session's scrollback
func (s *Session) Buffer() *LineBuffer { return s.buf }

// Write appends shell output to the buffer
func (s *Session) Write(text string) { s.buf.WriteString(text) }

// Name returns the session name
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Inputs returns every SendText call received so far
func (s *Session) Inputs() []SentText {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SentText(nil), s.inputs...)
}

func (s *Session) setName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

func (s *Session) send(text string, suppressBroadcast bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session %s: %w", s.ID, remote.ErrNotFound)
	}
	s.inputs = append(s.inputs, SentText{Text: text, SuppressBroadcast: suppressBroadcast})
	s.mu.Unlock()
	return s.shell.Input(text)
}

func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	s.subs = make(map[*eventSub]struct{})
	s.mu.Unlock()

	for sub := range subs {
		sub.end()
	}
	_ = s.shell.Close()
}

// ============================================================================
// Shell integration: prompt records and events
// ============================================================================

// BeginPrompt records a new prompt at the cursor and announces it
func (s *Session) BeginPrompt(cwd string) string {
	cur := s.buf.Cursor()
	p := &remote.Prompt{
		ID:               id.Default().GenerateWithPrefix("prompt"),
		State:            remote.PromptEditing,
		WorkingDirectory: cwd,
		PromptRange:      remote.Range{Start: cur, End: cur},
	}
	s.mu.Lock()
	s.prompts = append(s.prompts, p)
	s.mu.Unlock()

	s.emit(remote.PromptEvent{SessionID: s.ID, Kind: remote.EventPrompt, PromptID: p.ID})
	return p.ID
}

// EndPromptText closes the prompt text range at the cursor
func (s *Session) EndPromptText() {
	s.updateLast(func(p *remote.Prompt) {
		p.PromptRange.End = s.buf.Cursor()
	})
}

// StartCommand marks the last prompt as running command, typed between
// from and the cursor
func (s *Session) StartCommand(command string, from remote.Coord) {
	var promptID string
	s.updateLast(func(p *remote.Prompt) {
		promptID = p.ID
		p.State = remote.PromptRunning
		p.Command = command
		p.CommandRange = remote.Range{Start: from, End: s.buf.Cursor()}
	})
	if promptID != "" {
		s.emit(remote.PromptEvent{SessionID: s.ID, Kind: remote.EventCommandStart, PromptID: promptID, Command: command})
	}
}

// FinishCommand marks the last prompt finished with output spanning from
// outputStart to the cursor. With recordRange false the output range is
// left unpopulated.
func (s *Session) FinishCommand(status int, outputStart remote.Coord, recordRange bool) {
	var promptID, command string
	s.updateLast(func(p *remote.Prompt) {
		promptID, command = p.ID, p.Command
		p.State = remote.PromptFinished
		st := status
		p.ExitStatus = &st
		if recordRange {
			p.OutputRange = remote.Range{Start: outputStart, End: s.buf.Cursor()}
		}
	})
	if promptID != "" {
		s.emit(remote.PromptEvent{SessionID: s.ID, Kind: remote.EventCommandEnd, PromptID: promptID, Command: command, Status: status})
	}
}

func (s *Session) updateLast(fn func(p *remote.Prompt)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.prompts); n > 0 {
		fn(s.prompts[n-1])
	}
}

func (s *Session) lastPrompt() *remote.Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.prompts); n > 0 {
		p := *s.prompts[n-1]
		return &p
	}
	return nil
}

func (s *Session) prompt(promptID string) (*remote.Prompt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.prompts {
		if p.ID == promptID {
			cp := *p
			return &cp, true
		}
	}
	return nil, false
}

func (s *Session) subscribe() *eventSub {
	sub := &eventSub{session: s, ch: make(chan remote.PromptEvent, 64)}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		sub.end()
		return sub
	}
	s.subs[sub] = struct{}{}
	return sub
}

func (s *Session) emit(ev remote.PromptEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// eventSub implements remote.Subscription for one session
type eventSub struct {
	session *Session
	ch      chan remote.PromptEvent
	once    sync.Once
}

func (e *eventSub) Events() <-chan remote.PromptEvent { return e.ch }

func (e *eventSub) Close() error {
	e.session.mu.Lock()
	delete(e.session.subs, e)
	e.session.mu.Unlock()
	e.end()
	return nil
}

func (e *eventSub) end() {
	e.once.Do(func() { close(e.ch) })
}
