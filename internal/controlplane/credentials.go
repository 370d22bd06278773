package controlplane

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Credentials are the handshake secrets
type Credentials struct {
	Cookie string
	Key    string
	// Fresh marks credentials just obtained from the issuer; a rejection of
	// fresh credentials is final
	Fresh bool
}

// CredentialSource supplies handshake credentials
type CredentialSource interface {
	// Current returns the credentials to try first
	Current(ctx context.Context) (Credentials, error)
	// Refresh obtains newly issued credentials
	Refresh(ctx context.Context) (Credentials, error)
}

// HelperCredentials starts from static values and obtains fresh ones by
// running Helper, which must print "COOKIE [KEY]" on stdout
type HelperCredentials struct {
	Cookie  string
	Key     string
	Helper  string
	Timeout time.Duration

	mu     sync.Mutex
	cached *Credentials
}

// Current implements CredentialSource
func (h *HelperCredentials) Current(context.Context) (Credentials, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cached != nil {
		c := *h.cached
		c.Fresh = false
		return c, nil
	}
	return Credentials{Cookie: h.Cookie, Key: h.Key}, nil
}

// Refresh implements CredentialSource
func (h *HelperCredentials) Refresh(ctx context.Context) (Credentials, error) {
	if strings.TrimSpace(h.Helper) == "" {
		return Credentials{}, ErrNoFreshCredentials
	}
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", h.Helper)
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if err := cmd.Run(); err != nil {
		return Credentials{}, fmt.Errorf("credential helper: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	fields := strings.Fields(stdout.String())
	if len(fields) == 0 {
		return Credentials{}, fmt.Errorf("credential helper printed nothing")
	}
	creds := Credentials{Cookie: fields[0], Fresh: true}
	if len(fields) > 1 {
		creds.Key = fields[1]
	}

	h.mu.Lock()
	h.cached = &creds
	h.mu.Unlock()
	return creds, nil
}

// Launcher makes sure the control-plane application is running
type Launcher interface {
	Launch(ctx context.Context) error
}

// LauncherFunc adapts a function to Launcher
type LauncherFunc func(ctx context.Context) error

func (f LauncherFunc) Launch(ctx context.Context) error { return f(ctx) }

// CommandLauncher starts Command through the shell at most once per process.
// The child is not waited on beyond a reaper goroutine; the application is
// expected to outlive termlink.
type CommandLauncher struct {
	Command string

	once sync.Once
	err  error
}

// Launch implements Launcher
func (l *CommandLauncher) Launch(context.Context) error {
	if strings.TrimSpace(l.Command) == "" {
		return nil
	}
	l.once.Do(func() {
		cmd := exec.Command("/bin/sh", "-c", l.Command)
		if err := cmd.Start(); err != nil {
			l.err = fmt.Errorf("launch control plane: %w", err)
			return
		}
		go func() { _ = cmd.Wait() }()
	})
	return l.err
}
