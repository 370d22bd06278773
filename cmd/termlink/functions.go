package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/termlink/internal/client"
	"github.com/GriffinCanCode/termlink/internal/execution"
	"github.com/GriffinCanCode/termlink/internal/session"
)

const defaultCommand = "echo 'Hello from termlink!'"

// defaultSettle is how long send_text watches the buffer after typing
const defaultSettle = time.Second

var functions = []function{
	{
		name:   "send_command",
		params: []string{"command", "path", "timeout", "broadcast"},
		help:   "Run a command and print its output",
		run:    sendCommand,
	},
	{
		name:     "send_text",
		params:   []string{"text", "enter", "settle"},
		required: 1,
		help:     "Type text and print the lines it changed",
		run:      sendText,
	},
	{
		name: "get_cwd",
		help: "Print the session's working directory",
		run:  getCwd,
	},
	{
		name: "tab_title",
		help: "Print the title of the session's tab",
		run:  tabTitle,
	},
	{
		name: "show_capabilities",
		help: "Report what the session supports",
		run:  showCapabilities,
	},
}

func sendCommand(ctx context.Context, inv *invocation) error {
	timeout, err := inv.params.duration("timeout", inv.timeout)
	if err != nil {
		return err
	}
	broadcast, err := inv.params.flag("broadcast")
	if err != nil {
		return err
	}
	dir, err := resolvePath(inv.params.get("path", ""))
	if err != nil {
		return err
	}

	res, err := client.RunCommand(ctx, inv.session, inv.engine, execution.Request{
		Command:   inv.params.get("command", defaultCommand),
		Dir:       dir,
		Broadcast: broadcast,
		Timeout:   timeout,
	})
	if err != nil {
		return err
	}
	inv.log.Debug("command finished",
		zap.String("strategy", string(res.Strategy)),
		zap.String("fallback", res.Fallback),
		zap.Int("status", res.ExitStatus),
		zap.Duration("duration", res.Duration))

	fmt.Fprint(inv.out, res.Output)
	if res.ExitStatus != 0 {
		st := newStyles(inv.errOut)
		fmt.Fprintln(inv.errOut, st.render(st.bad, fmt.Sprintf("exit status %d", res.ExitStatus)))
		return &exitError{code: exitCode(res.ExitStatus)}
	}
	return nil
}

// exitCode maps a non-zero command status onto a process exit code. Statuses
// the process cannot report, which could otherwise wrap to 0, become 1.
func exitCode(status int) int {
	if status < 1 || status > 255 {
		return 1
	}
	return status
}

// resolvePath expands a leading ~ and makes path absolute
func resolvePath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand %s: %w", path, err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Abs(path)
}

func sendText(ctx context.Context, inv *invocation) error {
	enter, err := inv.params.flag("enter")
	if err != nil {
		return err
	}
	settle, err := inv.params.duration("settle", defaultSettle)
	if err != nil {
		return err
	}
	text := unescape(inv.params.get("text", ""))
	if enter {
		text += "\r"
	}

	lines, err := client.SendText(ctx, inv.session, inv.engine, text, settle)
	if err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Fprintln(inv.out, line)
	}
	return nil
}

// unescape interprets Go escapes such as \n or \x03, leaving text that is
// not a valid quoted body unchanged
func unescape(text string) string {
	if !strings.Contains(text, `\`) {
		return text
	}
	if s, err := strconv.Unquote(`"` + text + `"`); err == nil {
		return s
	}
	return text
}

func getCwd(ctx context.Context, inv *invocation) error {
	cwd, err := client.Call(ctx, inv.session, func(ctx context.Context, h *session.Handle) (string, error) {
		return h.Cwd(ctx)
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(inv.out, cwd)
	return nil
}

func tabTitle(ctx context.Context, inv *invocation) error {
	title, err := client.Call(ctx, inv.session, func(ctx context.Context, h *session.Handle) (string, error) {
		return h.TabTitle(ctx)
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(inv.out, title)
	return nil
}

func showCapabilities(ctx context.Context, inv *invocation) error {
	caps, err := client.Capabilities(ctx, inv.session, inv.engine)
	if err != nil {
		return err
	}
	desc, err := client.Call(ctx, inv.session, func(_ context.Context, h *session.Handle) (session.Description, error) {
		return h.Describe(), nil
	})
	if err != nil {
		return err
	}

	st := inv.styles
	fmt.Fprintln(inv.out, st.render(st.heading, "Session"))
	inv.field("session", desc.SessionID)
	inv.field("tab", desc.TabID)
	inv.field("window", desc.WindowID)
	inv.field("profile", desc.Profile)
	inv.field("hotkey", strconv.FormatBool(desc.Hotkey))
	inv.field("protocol", caps.ProtocolVersion)

	fmt.Fprintln(inv.out, st.render(st.heading, "Capabilities"))
	inv.field("buffer_ready", yesNo(st, caps.BufferReady))
	inv.field("username", caps.Username)
	inv.field("hostname", caps.Hostname)
	inv.field("has_prompt", yesNo(st, caps.HasPrompt))
	inv.field("structured", yesNo(st, caps.Structured))
	inv.field("strategy", string(caps.Strategy()))
	if caps.Reason != "" {
		inv.field("reason", st.render(st.muted, caps.Reason))
	}
	return nil
}

func yesNo(st styles, ok bool) string {
	if ok {
		return st.render(st.ok, "yes")
	}
	return st.render(st.bad, "no")
}
