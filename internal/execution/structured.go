package execution

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/termlink/internal/remote"
)

// structured runs the command through the shell integration. A non-empty
// reason instead of an error hands the command to the sentinel strategy.
func (r *run) structured(ctx context.Context) (*Result, string, error) {
	sub, err := r.conn.SubscribePrompts(ctx, r.session)
	if err != nil {
		if errors.Is(err, remote.ErrClosed) {
			return nil, "", err
		}
		r.log.Debug("could not subscribe to prompt events", zap.Error(err))
		return nil, ReasonSubscribeFailed, nil
	}
	defer sub.Close()

	prompt, err := r.conn.LastPrompt(ctx, r.session)
	if err != nil {
		return nil, "", err
	}
	if prompt == nil {
		return nil, ReasonNoPrompt, nil
	}

	if err := r.conn.SendText(ctx, r.session, r.req.Command+"\r", !r.req.Broadcast); err != nil {
		return nil, "", err
	}

	ev, reason, err := r.awaitEnd(ctx, sub, prompt)
	if err != nil || reason != "" {
		return nil, reason, err
	}

	finished, err := r.conn.Prompt(ctx, r.session, ev.PromptID)
	if err != nil {
		return nil, "", err
	}
	output, err := r.readOutput(ctx, finished)
	if err != nil {
		return nil, "", err
	}
	return &Result{Output: output, ExitStatus: ev.Status, Strategy: StrategyStructured}, "", nil
}

// awaitEnd waits for the command_end event belonging to the command typed
// into prompt. A prompt that had already finished belongs to an earlier
// command, so any other prompt's end is accepted instead.
func (r *run) awaitEnd(ctx context.Context, sub remote.Subscription, prompt *remote.Prompt) (remote.PromptEvent, string, error) {
	matches := func(ev remote.PromptEvent) bool {
		if ev.Kind != remote.EventCommandEnd {
			return false
		}
		if prompt.State == remote.PromptFinished {
			return ev.PromptID != prompt.ID
		}
		return ev.PromptID == prompt.ID
	}

	timer := time.NewTimer(r.req.Timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return remote.PromptEvent{}, "", ctx.Err()
		case <-timer.C:
			r.log.Debug("no command_end event before timeout", zap.Duration("timeout", r.req.Timeout))
			return remote.PromptEvent{}, ReasonTimeout, nil
		case ev, ok := <-sub.Events():
			if !ok {
				return remote.PromptEvent{}, ReasonSubscriptionClosed, nil
			}
			if matches(ev) {
				return ev, "", nil
			}
		}
	}
}

// readOutput renders a finished prompt's output range, skipping blank rows.
// Without an output range the rows under the command line are used.
func (r *run) readOutput(ctx context.Context, p *remote.Prompt) (string, error) {
	rng := p.OutputRange
	if rng.Degenerate() {
		rng = remote.Range{
			Start: remote.Coord{X: p.CommandRange.Start.X, Y: p.CommandRange.Start.Y + 1},
			End:   remote.Coord{X: p.CommandRange.End.X, Y: p.CommandRange.End.Y + 1},
		}
		r.log.Debug("prompt has no output range, reading below the command line")
	}
	first, count := rng.Lines()
	if count == 0 {
		return "", nil
	}
	snap, err := ReadSnapshot(ctx, r.conn, r.session, first, count)
	if err != nil {
		return "", err
	}
	return renderRows(snap.Lines, true), nil
}
