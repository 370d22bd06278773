package client

import (
	"context"

	"github.com/GriffinCanCode/termlink/internal/controlplane"
	"github.com/GriffinCanCode/termlink/internal/session"
)

// Gateway creates the state a Client manages
type Gateway[S session.State] interface {
	CreateState(ctx context.Context) (S, error)
}

// GatewayFunc adapts a function to Gateway
type GatewayFunc[S session.State] func(ctx context.Context) (S, error)

// CreateState implements Gateway
func (f GatewayFunc[S]) CreateState(ctx context.Context) (S, error) { return f(ctx) }

// HandleGateway acquires a control-plane connection and resolves the
// session to run in
type HandleGateway struct {
	Supervisor *controlplane.Supervisor
	Resolver   *session.Resolver
	Options    session.Options
}

var _ Gateway[*session.Handle] = (*HandleGateway)(nil)

// CreateState implements Gateway
func (g *HandleGateway) CreateState(ctx context.Context) (*session.Handle, error) {
	conn, err := g.Supervisor.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return g.Resolver.Resolve(ctx, conn, g.Options)
}

// Close releases the supervisor's connection
func (g *HandleGateway) Close() error {
	return g.Supervisor.Close()
}
