package mockplane

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/termlink/internal/remote"
)

// Reply is what a scripted command prints and returns
type Reply struct {
	Output string
	Status int
	// Delay postpones completion, simulating a long-running command
	Delay time.Duration
	// Hang never completes the command
	Hang bool
}

// Responder maps a command line to its reply
type Responder func(command string) Reply

// Script is a Responder backed by a fixed table; unknown commands print
// "sh: CMD: not found" and exit 127
type Script map[string]Reply

// Respond implements Responder
func (s Script) Respond(command string) Reply {
	if r, ok := s[command]; ok {
		return r
	}
	if rest, ok := strings.CutPrefix(command, "echo "); ok {
		return Reply{Output: strings.Trim(rest, `'"`) + "\n"}
	}
	name, _, _ := strings.Cut(command, " ")
	return Reply{Output: fmt.Sprintf("sh: %s: not found\n", name), Status: 127}
}

// ScriptedOptions configures a ScriptedShell
type ScriptedOptions struct {
	Respond Responder
	// Integration enables prompt records and structured events
	Integration bool
	// OmitOutputRange leaves finished prompts without an output range
	OmitOutputRange bool
	// FirstPromptDelay holds back the first prompt, like a shell that is
	// still reading its rc files
	FirstPromptDelay time.Duration

	Username string
	Hostname string
	Cwd      string
}

// ScriptedShell is a deterministic line-oriented shell. It echoes typed
// text, runs each submitted line through a Responder, understands the
// sentinel wrapper used by the execution engine, and handles `cd`.
type ScriptedShell struct {
	opts ScriptedOptions

	mu      sync.Mutex
	s       *Session
	line    strings.Builder
	cmdFrom remote.Coord
	cwd     string
	started bool
	closed  bool
	timers  []*time.Timer
}

// Scripted returns a ShellFactory producing scripted shells
func Scripted(opts ScriptedOptions) ShellFactory {
	if opts.Respond == nil {
		opts.Respond = Script{}.Respond
	}
	if opts.Cwd == "" {
		opts.Cwd = "/home/user"
	}
	return func(string) Shell {
		return &ScriptedShell{opts: opts, cwd: opts.Cwd}
	}
}

// Start implements Shell
func (sh *ScriptedShell) Start(s *Session) error {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.s = s
	if sh.opts.Username != "" {
		s.setVar(remote.VarUsername, sh.opts.Username)
	}
	if sh.opts.Hostname != "" {
		s.setVar(remote.VarHostname, sh.opts.Hostname)
	}
	s.setVar(remote.VarPath, sh.cwd)
	if sh.opts.FirstPromptDelay <= 0 {
		sh.promptLocked()
		return nil
	}
	sh.timers = append(sh.timers, time.AfterFunc(sh.opts.FirstPromptDelay, func() {
		sh.mu.Lock()
		defer sh.mu.Unlock()
		if !sh.closed && !sh.started {
			sh.promptLocked()
		}
	}))
	return nil
}

// Input implements Shell
func (sh *ScriptedShell) Input(text string) error {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.closed {
		return remote.ErrNotFound
	}
	if !sh.started {
		sh.promptLocked()
	}
	for _, r := range text {
		switch r {
		case '\r', '\n':
			line := sh.line.String()
			sh.line.Reset()
			sh.s.Write("\n")
			sh.runLocked(line)
		default:
			sh.line.WriteRune(r)
			sh.s.Write(string(r))
		}
	}
	return nil
}

// Close implements Shell
func (sh *ScriptedShell) Close() error {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.closed = true
	for _, t := range sh.timers {
		t.Stop()
	}
	return nil
}

func (sh *ScriptedShell) promptLocked() {
	sh.started = true
	if sh.opts.Integration {
		sh.s.BeginPrompt(sh.cwd)
	}
	sh.s.Write("$ ")
	if sh.opts.Integration {
		sh.s.EndPromptText()
	}
	sh.cmdFrom = sh.s.buf.Cursor()
}

func (sh *ScriptedShell) runLocked(line string) {
	command := strings.TrimSpace(line)
	if command == "" {
		sh.promptLocked()
		return
	}
	if sh.opts.Integration {
		sh.s.StartCommand(command, sh.cmdFrom)
	}

	var prefix, suffix string
	var reply Reply
	if w, ok := parseWrapper(command); ok {
		reply = sh.reply(w.command)
		prefix = w.begin + "\n"
		suffix = fmt.Sprintf("%s:%d\n", w.endPrefix, reply.Status)
	} else {
		reply = sh.reply(command)
	}

	if reply.Hang {
		return
	}
	finish := func() {
		outputStart := sh.s.buf.Cursor()
		sh.s.Write(prefix + reply.Output + suffix)
		if sh.opts.Integration {
			sh.s.FinishCommand(reply.Status, outputStart, !sh.opts.OmitOutputRange)
		}
		sh.promptLocked()
	}
	if reply.Delay <= 0 {
		finish()
		return
	}
	sh.timers = append(sh.timers, time.AfterFunc(reply.Delay, func() {
		sh.mu.Lock()
		defer sh.mu.Unlock()
		if !sh.closed {
			finish()
		}
	}))
}

func (sh *ScriptedShell) reply(command string) Reply {
	if dir, ok := parseCd(command); ok {
		sh.cwd = dir
		sh.s.setVar(remote.VarPath, dir)
		sh.s.updateLast(func(p *remote.Prompt) { p.WorkingDirectory = dir })
		return Reply{}
	}
	return sh.opts.Respond(command)
}

// ============================================================================
// Parsing typed input
// ============================================================================

var (
	reWrapperBegin   = regexp.MustCompile(`^printf '%s%s\\n' '([^']*)' '([^']*)';`)
	reWrapperPayload = regexp.MustCompile("`printf '%s' '([A-Za-z0-9+/=]*)' \\| base64 -d`")
	reWrapperEnd     = regexp.MustCompile(`_ '([^']*)' '([^']*)' "\$\?"`)
	reCd             = regexp.MustCompile(`^cd (?:'([^']*)'|(\S+))$`)
)

type wrapper struct {
	begin     string
	endPrefix string
	command   string
}

func parseWrapper(line string) (wrapper, bool) {
	b := reWrapperBegin.FindStringSubmatch(line)
	p := reWrapperPayload.FindStringSubmatch(line)
	e := reWrapperEnd.FindStringSubmatch(line)
	if b == nil || p == nil || e == nil {
		return wrapper{}, false
	}
	decoded, err := base64.StdEncoding.DecodeString(p[1])
	if err != nil {
		return wrapper{}, false
	}
	return wrapper{begin: b[1] + b[2], endPrefix: e[1] + e[2], command: string(decoded)}, true
}

func parseCd(command string) (string, bool) {
	m := reCd.FindStringSubmatch(command)
	if m == nil {
		return "", false
	}
	if m[1] != "" {
		return m[1], true
	}
	return m[2], true
}
