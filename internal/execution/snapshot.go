package execution

import (
	"context"
	"strings"

	"github.com/GriffinCanCode/termlink/internal/remote"
)

// Snapshot is a contiguous run of buffer lines starting at absolute line
// First
type Snapshot struct {
	First int64
	Lines []remote.Line
}

// End is one past the absolute number of the last line
func (s Snapshot) End() int64 {
	return s.First + int64(len(s.Lines))
}

// Line returns the line at absolute number abs
func (s Snapshot) Line(abs int64) (remote.Line, bool) {
	if abs < s.First || abs >= s.End() {
		return remote.Line{}, false
	}
	return s.Lines[abs-s.First], true
}

// Texts returns the text of every line
func (s Snapshot) Texts() []string {
	out := make([]string, len(s.Lines))
	for i, l := range s.Lines {
		out[i] = l.Text
	}
	return out
}

// ReadSnapshot reads lines [first, first+count) clipped to the retained
// region of the buffer
func ReadSnapshot(ctx context.Context, conn remote.Remote, sessionID string, first int64, count int) (Snapshot, error) {
	info, err := conn.BufferInfo(ctx, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	end := first + int64(count)
	if first < info.Overflow {
		first = info.Overflow
	}
	if end > info.End() {
		end = info.End()
	}
	if end <= first {
		return Snapshot{First: first}, nil
	}
	lines, err := conn.ReadLines(ctx, sessionID, first, int(end-first))
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{First: first, Lines: lines}, nil
}

// Tail reads the newest n lines of the buffer
func Tail(ctx context.Context, conn remote.Remote, sessionID string, n int) (Snapshot, error) {
	info, err := conn.BufferInfo(ctx, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	first := info.End() - int64(n)
	if first < info.Overflow {
		first = info.Overflow
	}
	lines, err := conn.ReadLines(ctx, sessionID, first, int(info.End()-first))
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{First: first, Lines: lines}, nil
}

// ChangedSlice returns the lines of after from the first absolute line that
// differs from before through the end. Lines older than before's first line
// were never observed and count as unchanged.
func ChangedSlice(before, after Snapshot) []remote.Line {
	for i, line := range after.Lines {
		abs := after.First + int64(i)
		if abs < before.First {
			continue
		}
		if prev, ok := before.Line(abs); ok && prev == line {
			continue
		}
		return append([]remote.Line(nil), after.Lines[i:]...)
	}
	return nil
}

// logicalLine is one or more rows joined across soft wraps
type logicalLine struct {
	// Start is the absolute number of the first row
	Start int64
	// Rows is how many buffer rows the line spans
	Rows int
	Text string
	Hard bool
}

// Last is the absolute number of the final row
func (l logicalLine) Last() int64 { return l.Start + int64(l.Rows) - 1 }

// logical joins soft-wrapped rows. The final line is open unless its last
// row ends hard.
func (s Snapshot) logical() []logicalLine {
	var (
		out []logicalLine
		cur *logicalLine
		b   strings.Builder
	)
	for i, row := range s.Lines {
		if cur == nil {
			out = append(out, logicalLine{Start: s.First + int64(i)})
			cur = &out[len(out)-1]
			b.Reset()
		}
		b.WriteString(row.Text)
		cur.Rows++
		if row.HardEOL {
			cur.Text = b.String()
			cur.Hard = true
			cur = nil
		}
	}
	if cur != nil {
		cur.Text = b.String()
	}
	return out
}

// renderRows concatenates rows, ending hard rows with a newline. Blank rows
// are skipped when skipBlank is set.
func renderRows(rows []remote.Line, skipBlank bool) string {
	var b strings.Builder
	for _, row := range rows {
		if skipBlank && row.Blank() {
			continue
		}
		b.WriteString(row.Text)
		if row.HardEOL {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
