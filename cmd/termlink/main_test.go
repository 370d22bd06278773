package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/GriffinCanCode/termlink/internal/infrastructure/server"
)

// isolate keeps the user's configuration file and environment out of a test
func isolate(t *testing.T) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	t.Setenv("TERMLINK_CONFIG", path)
	t.Setenv("TERMLINK_DEDICATED_PROFILE", "")
	t.Setenv("TERMLINK_CONNECT_SOCKET", filepath.Join(t.TempDir(), "absent.sock"))
}

func startControlPlane(t *testing.T, integration bool) {
	t.Helper()
	srv, err := server.NewServer(server.Config{Addr: "127.0.0.1:0", Integration: integration})
	require.NoError(t, err)
	require.NoError(t, srv.Listen())
	go func() { _ = srv.Run() }()
	t.Cleanup(func() { _ = srv.Close() })

	t.Setenv("TERMLINK_CONNECT_URL", srv.Endpoint())
	t.Setenv("TERMLINK_CONNECT_TIMEOUT", "5")
	t.Setenv("TERMLINK_COMMAND_TIMEOUT", "10")
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var stdout, stderr bytes.Buffer
	code := execute(ctx, args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		name   string
		raw    []string
		args   []string
		kwargs map[string]string
	}{
		{name: "empty", raw: nil, args: nil, kwargs: map[string]string{}},
		{name: "positional", raw: []string{"ls -la", "/tmp"}, args: []string{"ls -la", "/tmp"}, kwargs: map[string]string{}},
		{
			name:   "keyword",
			raw:    []string{"command=echo a=b", "timeout=3"},
			args:   nil,
			kwargs: map[string]string{"command": "echo a=b", "timeout": "3"},
		},
		{
			name:   "mixed",
			raw:    []string{"pwd", "path=~/src"},
			args:   []string{"pwd"},
			kwargs: map[string]string{"path": "~/src"},
		},
		{
			name:   "assignment inside a command stays positional",
			raw:    []string{"echo $HOME=x", "=x"},
			args:   []string{"echo $HOME=x", "=x"},
			kwargs: map[string]string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, kwargs := splitArgs(tt.raw)
			assert.Equal(t, tt.args, args)
			assert.Equal(t, tt.kwargs, kwargs)
		})
	}
}

func TestBind(t *testing.T) {
	fn, ok := lookupFunction("send_command")
	require.True(t, ok)

	p, err := fn.bind([]string{"ls", "/tmp"}, map[string]string{"timeout": "5"})
	require.NoError(t, err)
	assert.Equal(t, "ls", p.get("command", ""))
	assert.Equal(t, "/tmp", p.get("path", ""))
	d, err := p.duration("timeout", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)

	_, err = fn.bind([]string{"a", "b", "c", "d", "e"}, nil)
	assert.ErrorContains(t, err, "at most 4 arguments")

	_, err = fn.bind(nil, map[string]string{"colour": "red"})
	assert.ErrorContains(t, err, `unexpected argument "colour"`)

	_, err = fn.bind([]string{"ls"}, map[string]string{"command": "pwd"})
	assert.ErrorContains(t, err, `multiple values for "command"`)

	text, ok := lookupFunction("send_text")
	require.True(t, ok)
	_, err = text.bind(nil, nil)
	assert.ErrorContains(t, err, `missing "text"`)
}

func TestParams(t *testing.T) {
	p := params{"timeout": "1.5", "bad": "-1", "enter": "true", "word": "maybe"}

	d, err := p.duration("timeout", 0)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)

	_, err = p.duration("bad", 0)
	assert.Error(t, err)

	d, err = p.duration("absent", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	on, err := p.flag("enter")
	require.NoError(t, err)
	assert.True(t, on)

	_, err = p.flag("word")
	assert.Error(t, err)
}

func TestResolvePath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := resolvePath("~/src")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "src"), got)

	got, err = resolvePath("/var/../tmp")
	require.NoError(t, err)
	assert.Equal(t, "/tmp", got)

	got, err = resolvePath("")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUnescape(t *testing.T) {
	assert.Equal(t, "plain", unescape("plain"))
	assert.Equal(t, "a\nb", unescape(`a\nb`))
	assert.Equal(t, "\x03", unescape(`\x03`))
	assert.Equal(t, `say "\q"`, unescape(`say "\q"`))
}

func TestUnknownFunctionExitsOne(t *testing.T) {
	isolate(t)

	code, stdout, stderr := run(t, "run", "launch_rockets")
	assert.Equal(t, 1, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, `unknown function "launch_rockets"`)
	for _, name := range functionNames() {
		assert.Contains(t, stderr, name)
	}
}

func TestRunRequiresFunction(t *testing.T) {
	isolate(t)

	code, _, stderr := run(t, "run")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "requires at least 1 arg")
}

func TestVersion(t *testing.T) {
	code, stdout, _ := run(t, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "termlink library 1.0")
	assert.Contains(t, stdout, "termlink.v1")
}

func TestSetupLogger(t *testing.T) {
	isolate(t)
	t.Setenv("TERMLINK_LOG_LEVEL", "warn")

	quiet := &globals{}
	require.NoError(t, quiet.setup(newRootCmd(quiet)))
	assert.False(t, quiet.logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, quiet.logger.Core().Enabled(zapcore.WarnLevel))

	loud := &globals{debug: true}
	require.NoError(t, loud.setup(newRootCmd(loud)))
	assert.True(t, loud.logger.Core().Enabled(zapcore.DebugLevel))
}

func TestExitCode(t *testing.T) {
	for status, want := range map[int]int{1: 1, 2: 2, 127: 127, 255: 255, 256: 1, 512: 1, -1: 1, -255: 1} {
		assert.Equal(t, want, exitCode(status), "status %d", status)
	}
}

func TestSendCommandThroughSentinel(t *testing.T) {
	isolate(t)
	startControlPlane(t, false)

	code, stdout, stderr := run(t, "run", "send_command", "echo 'hi (there)'")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "hi (there)\n", stdout)
}

func TestSendCommandStructured(t *testing.T) {
	isolate(t)
	startControlPlane(t, true)

	code, stdout, stderr := run(t, "run", "send_command", "command=echo structured")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "structured\n", stdout)
}

func TestSendCommandDefault(t *testing.T) {
	isolate(t)
	startControlPlane(t, false)

	code, stdout, _ := run(t, "run", "send_command")
	assert.Equal(t, 0, code)
	assert.Equal(t, "Hello from termlink!\n", stdout)
}

func TestSendCommandPropagatesExitStatus(t *testing.T) {
	isolate(t)
	startControlPlane(t, false)

	code, stdout, stderr := run(t, "run", "send_command", "frobnicate --all")
	assert.Equal(t, 127, code)
	assert.Equal(t, "sh: frobnicate: not found\n", stdout)
	assert.Contains(t, stderr, "exit status 127")
}

func TestSessionReads(t *testing.T) {
	isolate(t)
	startControlPlane(t, false)

	code, stdout, stderr := run(t, "run", "get_cwd")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "/home/user\n", stdout)

	code, stdout, stderr = run(t, "run", "tab_title")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "termlink\n", stdout)

	code, stdout, stderr = run(t, "run", "--profile", "work", "tab_title")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "termlink:work\n", stdout)
}

func TestShowCapabilities(t *testing.T) {
	isolate(t)
	startControlPlane(t, true)

	code, stdout, stderr := run(t, "run", "show_capabilities")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "protocol: 1.0")
	assert.Contains(t, stdout, "username: user")
	assert.Contains(t, stdout, "structured: yes")
	assert.Contains(t, stdout, "strategy: structured")
}

func TestConnectTimeoutIsActionable(t *testing.T) {
	isolate(t)
	t.Setenv("TERMLINK_CONNECT_URL", "ws://127.0.0.1:1")
	t.Setenv("TERMLINK_CONNECT_TIMEOUT", "0.3")

	code, _, stderr := run(t, "run", "get_cwd")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "TERMLINK_CONNECT_TIMEOUT")
}
