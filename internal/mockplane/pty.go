package mockplane

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/user"
	"sync"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/termlink/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termlink/internal/remote"
)

// PTYOptions configures real shells started on a pseudo-terminal
type PTYOptions struct {
	Shell      string
	WorkingDir string
	Cols       int
	Rows       int
	Env        map[string]string
	Logger     *zap.Logger
}

// PTYShell runs a real shell process on a PTY and copies everything it
// prints into the session buffer. It has no shell integration, so commands
// sent to it always take the sentinel path.
type PTYShell struct {
	opts PTYOptions
	log  *zap.Logger

	mu     sync.RWMutex
	cmd    *exec.Cmd
	ptmx   *os.File
	closed bool
}

// PTY returns a ShellFactory producing PTY-backed shells
func PTY(opts PTYOptions) ShellFactory {
	if opts.Shell == "" {
		opts.Shell = "/bin/sh"
	}
	if opts.WorkingDir == "" {
		opts.WorkingDir = os.Getenv("HOME")
		if opts.WorkingDir == "" {
			opts.WorkingDir = os.TempDir()
		}
	}
	if opts.Cols <= 0 {
		opts.Cols = 120
	}
	if opts.Rows <= 0 {
		opts.Rows = 40
	}
	return func(string) Shell {
		return &PTYShell{opts: opts, log: logging.OrNop(opts.Logger).Named("pty")}
	}
}

// Start implements Shell
func (sh *PTYShell) Start(s *Session) error {
	cmd := exec.Command(sh.opts.Shell)
	cmd.Dir = sh.opts.WorkingDir
	cmd.Env = append(os.Environ(), "TERM=dumb", "PS1=$ ", "PROMPT_COMMAND=")
	for key, value := range sh.opts.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(sh.opts.Rows),
		Cols: uint16(sh.opts.Cols),
	})
	if err != nil {
		return fmt.Errorf("failed to start PTY: %w", err)
	}

	sh.mu.Lock()
	sh.cmd, sh.ptmx = cmd, ptmx
	sh.mu.Unlock()

	if u, err := user.Current(); err == nil {
		s.setVar(remote.VarUsername, u.Username)
	}
	if host, err := os.Hostname(); err == nil {
		s.setVar(remote.VarHostname, host)
	}
	s.setVar(remote.VarPath, sh.opts.WorkingDir)

	go sh.readOutput(s)
	go sh.monitorProcess(s)
	return nil
}

// readOutput copies PTY output into the session buffer until EOF
func (sh *PTYShell) readOutput(s *Session) {
	buf := make([]byte, 4096)
	for {
		n, err := sh.ptmx.Read(buf)
		if n > 0 {
			_, _ = s.buf.Write(buf[:n])
		}
		if err != nil {
			if err != io.EOF {
				sh.log.Debug("pty read ended", zap.String("session", s.ID), zap.Error(err))
			}
			return
		}
	}
}

// monitorProcess waits for the shell to exit and marks the shell closed
func (sh *PTYShell) monitorProcess(s *Session) {
	err := sh.cmd.Wait()
	sh.log.Debug("shell exited", zap.String("session", s.ID), zap.Error(err))

	sh.mu.Lock()
	sh.closed = true
	sh.mu.Unlock()

	_ = sh.ptmx.Close()
}

// Input implements Shell
func (sh *PTYShell) Input(text string) error {
	sh.mu.RLock()
	closed, ptmx := sh.closed, sh.ptmx
	sh.mu.RUnlock()

	if closed || ptmx == nil {
		return fmt.Errorf("shell has exited: %w", remote.ErrNotFound)
	}
	_, err := ptmx.Write([]byte(text))
	return err
}

// Resize changes the terminal dimensions
func (sh *PTYShell) Resize(cols, rows int) error {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.closed || sh.ptmx == nil {
		return fmt.Errorf("shell has exited")
	}
	return pty.Setsize(sh.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

// Close implements Shell
func (sh *PTYShell) Close() error {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.closed {
		return nil
	}
	sh.closed = true
	if sh.cmd != nil && sh.cmd.Process != nil {
		_ = sh.cmd.Process.Kill()
	}
	if sh.ptmx != nil {
		return sh.ptmx.Close()
	}
	return nil
}
