package client

import (
	"context"
	"time"

	"github.com/GriffinCanCode/termlink/internal/execution"
	"github.com/GriffinCanCode/termlink/internal/session"
)

// Session is a client that owns a terminal session handle
type Session = Client[*session.Handle]

// NewSession creates a client that resolves its handle through gw
func NewSession(ctx context.Context, gw Gateway[*session.Handle], opts Options) (*Session, error) {
	return New[*session.Handle](ctx, gw, opts)
}

// RunCommand runs req in the client's session
func RunCommand(ctx context.Context, c *Session, engine *execution.Engine, req execution.Request) (*execution.Result, error) {
	return Call(ctx, c, func(ctx context.Context, h *session.Handle) (*execution.Result, error) {
		return engine.Run(ctx, h, req)
	})
}

// SendText types text into the client's session and returns the lines that
// changed within settle
func SendText(ctx context.Context, c *Session, engine *execution.Engine, text string, settle time.Duration) ([]string, error) {
	return Call(ctx, c, func(ctx context.Context, h *session.Handle) ([]string, error) {
		return engine.Send(ctx, h, text, settle)
	})
}

// Capabilities probes the client's session
func Capabilities(ctx context.Context, c *Session, engine *execution.Engine) (execution.Capabilities, error) {
	return Call(ctx, c, func(ctx context.Context, h *session.Handle) (execution.Capabilities, error) {
		return engine.Probe(ctx, h)
	})
}
