package execution

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/termlink/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/termlink/internal/shared/errs"
)

var errMarkerPending = errors.New("end marker not printed yet")

// endMarker is where a command's end marker was found
type endMarker struct {
	// last is the absolute row the marker line ends on
	last   int64
	status int
}

// sentinel types the wrapped command, polls the tail of the buffer for the
// end marker, then reads everything between the begin marker and the end
// marker.
func (r *run) sentinel(ctx context.Context) (*Result, error) {
	m := NewMarkers(r.e.opts.Token())
	if err := r.conn.SendText(ctx, r.session, m.Wrap(r.req.Command)+"\r", !r.req.Broadcast); err != nil {
		return nil, err
	}

	end := m.endPattern()
	var found endMarker
	attempts, err := r.e.opts.Poll.Retry(ctx, time.Now().Add(r.req.Timeout), func(ctx context.Context, _ int) error {
		tail, err := Tail(ctx, r.conn, r.session, r.e.opts.TailLines)
		if err != nil {
			return resilience.Permanent(err)
		}
		mk, ok := findEnd(tail, end)
		if !ok {
			return errMarkerPending
		}
		found = mk
		return nil
	})
	r.e.metrics.ObserveSentinelPolls(attempts)
	if err != nil {
		if errors.Is(err, resilience.ErrExhausted) {
			return nil, errs.Timeout(fmt.Sprintf("waiting for %q to finish", r.req.Command), r.req.Timeout,
				"pass a longer timeout, or check whether the command is waiting for input", nil)
		}
		return nil, err
	}
	r.log.Debug("end marker found", zap.Int64("row", found.last), zap.Int("polls", attempts))

	from, err := r.findBegin(ctx, m.Begin(), found.last)
	if err != nil {
		return nil, err
	}
	output, err := r.collect(ctx, from, found.last, end)
	if err != nil {
		return nil, err
	}
	return &Result{Output: output, ExitStatus: found.status, Strategy: StrategySentinel}, nil
}

// findEnd scans snap from the newest line back for a completed end-marker
// line
func findEnd(snap Snapshot, end *regexp.Regexp) (endMarker, bool) {
	lines := snap.logical()
	for i := len(lines) - 1; i >= 0; i-- {
		l := lines[i]
		if !l.Hard {
			continue
		}
		loc := end.FindStringSubmatchIndex(l.Text)
		if loc == nil {
			continue
		}
		status, err := strconv.Atoi(l.Text[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		return endMarker{last: l.Last(), status: status}, true
	}
	return endMarker{}, false
}

// findBegin searches backwards from endRow for the begin marker in windows
// that double until the marker or the start of the buffer is reached. It
// returns the first row of output. A begin marker that has scrolled out of
// the buffer yields the oldest retained row.
func (r *run) findBegin(ctx context.Context, begin string, endRow int64) (int64, error) {
	window := max(r.e.opts.BeginWindow, r.e.opts.TailLines)
	for {
		first := endRow - int64(window)
		snap, err := ReadSnapshot(ctx, r.conn, r.session, first, window)
		if err != nil {
			return 0, err
		}
		lines := snap.logical()
		for i := len(lines) - 1; i >= 0; i-- {
			if strings.Contains(lines[i].Text, begin) {
				return lines[i].Last() + 1, nil
			}
		}
		if snap.First > first || len(snap.Lines) == 0 {
			r.log.Warn("begin marker scrolled out of the buffer, returning what is retained",
				zap.Int64("oldest_row", snap.First))
			return snap.First, nil
		}
		window *= 2
	}
}

// collect renders rows from..endRow, cutting the end-marker line at the
// marker so output without a trailing newline is kept
func (r *run) collect(ctx context.Context, from, endRow int64, end *regexp.Regexp) (string, error) {
	snap, err := ReadSnapshot(ctx, r.conn, r.session, from, int(endRow-from+1))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, l := range snap.logical() {
		if l.Last() >= endRow {
			if loc := end.FindStringIndex(l.Text); loc != nil {
				b.WriteString(l.Text[:loc[0]])
			}
			break
		}
		b.WriteString(l.Text)
		if l.Hard {
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}
