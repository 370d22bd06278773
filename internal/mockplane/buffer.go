package mockplane

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/GriffinCanCode/termlink/internal/remote"
)

// LineBuffer is a terminal scrollback in absolute line coordinates. The
// last line is always the open line the cursor sits on. When more than max
// lines are retained the oldest are discarded and counted as overflow.
type LineBuffer struct {
	mu       sync.RWMutex
	width    int
	max      int
	overflow int64
	lines    []remote.Line
	esc      escState
}

type escState int

const (
	escNone escState = iota
	escStart
	escCSI
)

// NewLineBuffer creates a buffer that wraps at width columns and retains
// at most max lines
func NewLineBuffer(width, max int) *LineBuffer {
	if width <= 0 {
		width = 80
	}
	if max <= 0 {
		max = 10000
	}
	return &LineBuffer{width: width, max: max, lines: []remote.Line{{}}}
}

// Write appends terminal output. '\n' ends a line hard, long lines wrap
// soft, '\r' is ignored and ANSI CSI sequences are stripped.
func (b *LineBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := 0; i < len(p); {
		r, size := utf8.DecodeRune(p[i:])
		i += size
		b.put(r)
	}
	b.trim()
	return len(p), nil
}

// WriteString appends terminal output
func (b *LineBuffer) WriteString(s string) {
	_, _ = b.Write([]byte(s))
}

func (b *LineBuffer) put(r rune) {
	switch b.esc {
	case escStart:
		if r == '[' {
			b.esc = escCSI
		} else {
			b.esc = escNone
		}
		return
	case escCSI:
		if r >= 0x40 && r <= 0x7e {
			b.esc = escNone
		}
		return
	}

	cur := &b.lines[len(b.lines)-1]
	switch r {
	case 0x1b:
		b.esc = escStart
	case '\n':
		cur.HardEOL = true
		b.lines = append(b.lines, remote.Line{})
	case '\r', 0x07:
	case '\b':
		if n := len(cur.Text); n > 0 {
			_, size := utf8.DecodeLastRuneInString(cur.Text)
			cur.Text = cur.Text[:n-size]
		}
	default:
		if r < 0x20 && r != '\t' {
			return
		}
		if utf8.RuneCountInString(cur.Text) >= b.width {
			cur.HardEOL = false
			b.lines = append(b.lines, remote.Line{})
			cur = &b.lines[len(b.lines)-1]
		}
		cur.Text += string(r)
	}
}

func (b *LineBuffer) trim() {
	if extra := len(b.lines) - b.max; extra > 0 {
		b.lines = append([]remote.Line(nil), b.lines[extra:]...)
		b.overflow += int64(extra)
	}
}

// Info reports the retained region
func (b *LineBuffer) Info(height int) remote.BufferInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return remote.BufferInfo{Overflow: b.overflow, Lines: len(b.lines), Height: height}
}

// Read returns up to count lines starting at the absolute line first,
// clipped to the retained region
func (b *LineBuffer) Read(first int64, count int) []remote.Line {
	b.mu.RLock()
	defer b.mu.RUnlock()

	start := first - b.overflow
	end := start + int64(count)
	if start < 0 {
		start = 0
	}
	if end > int64(len(b.lines)) {
		end = int64(len(b.lines))
	}
	if count <= 0 || start >= end {
		return []remote.Line{}
	}
	out := make([]remote.Line, end-start)
	copy(out, b.lines[start:end])
	return out
}

// Cursor is the position just after the last character written
func (b *LineBuffer) Cursor() remote.Coord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	last := b.lines[len(b.lines)-1]
	return remote.Coord{X: utf8.RuneCountInString(last.Text), Y: b.overflow + int64(len(b.lines)) - 1}
}

// Empty reports whether nothing visible was ever written
func (b *LineBuffer) Empty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.overflow == 0 && len(b.lines) == 1 && b.lines[0].Text == ""
}

// String renders the retained text, for tests and debugging
func (b *LineBuffer) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var sb strings.Builder
	for _, l := range b.lines {
		sb.WriteString(l.Text)
		if l.HardEOL {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
