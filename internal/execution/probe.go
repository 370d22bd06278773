package execution

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/termlink/internal/remote"
)

// Capabilities reports what a session offers the engine
type Capabilities struct {
	SessionID       string `json:"session_id"`
	ProtocolVersion string `json:"protocol_version"`
	BufferReady     bool   `json:"buffer_ready"`
	Username        string `json:"username,omitempty"`
	Hostname        string `json:"hostname,omitempty"`
	HasPrompt       bool   `json:"has_prompt"`
	// Structured is true when every structured-strategy check passed
	Structured bool `json:"structured"`
	// Reason names the first failed check
	Reason string `json:"reason,omitempty"`
}

// Strategy is the strategy a command would use
func (c Capabilities) Strategy() Strategy {
	if c.Structured {
		return StrategyStructured
	}
	return StrategySentinel
}

// probe checks, in order, that the buffer shows something, that the shell
// integration has published the user and host, and that a prompt has been
// recorded. The buffer check is retried while a fresh shell starts up.
func (e *Engine) probe(ctx context.Context, conn remote.Remote, sessionID string) (Capabilities, error) {
	caps := Capabilities{SessionID: sessionID, ProtocolVersion: conn.ProtocolVersion().String()}

	ready, err := e.bufferReady(ctx, conn, sessionID)
	if err != nil {
		return caps, err
	}
	caps.BufferReady = ready

	if caps.Username, err = conn.Variable(ctx, remote.ScopeSession, sessionID, remote.VarUsername); err != nil {
		return caps, err
	}
	if caps.Hostname, err = conn.Variable(ctx, remote.ScopeSession, sessionID, remote.VarHostname); err != nil {
		return caps, err
	}
	p, err := conn.LastPrompt(ctx, sessionID)
	if err != nil {
		return caps, err
	}
	caps.HasPrompt = p != nil

	switch {
	case !caps.BufferReady:
		caps.Reason = ReasonEmptyBuffer
	case caps.Username == "" || caps.Hostname == "":
		caps.Reason = ReasonNoIdentity
	case !caps.HasPrompt:
		caps.Reason = ReasonNoPrompt
	default:
		caps.Structured = true
	}
	return caps, nil
}

func (e *Engine) bufferReady(ctx context.Context, conn remote.Remote, sessionID string) (bool, error) {
	for attempt := 0; ; attempt++ {
		tail, err := Tail(ctx, conn, sessionID, e.opts.TailLines)
		if err != nil {
			return false, err
		}
		for _, l := range tail.Lines {
			if !l.Blank() {
				return true, nil
			}
		}
		if attempt+1 >= e.opts.ProbeRetries {
			return false, nil
		}
		e.log.Debug("buffer still empty", zap.String("session", sessionID), zap.Int("attempt", attempt+1))
		t := time.NewTimer(e.opts.ProbeInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return false, ctx.Err()
		case <-t.C:
		}
	}
}
