package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/GriffinCanCode/termlink/internal/remote"
)

func hard(texts ...string) []remote.Line {
	out := make([]remote.Line, len(texts))
	for i, t := range texts {
		out[i] = remote.Line{Text: t, HardEOL: true}
	}
	return out
}

func TestSnapshotAddressing(t *testing.T) {
	s := Snapshot{First: 10, Lines: hard("a", "b")}

	assert.Equal(t, int64(12), s.End())
	l, ok := s.Line(11)
	assert.True(t, ok)
	assert.Equal(t, "b", l.Text)
	_, ok = s.Line(9)
	assert.False(t, ok)
	_, ok = s.Line(12)
	assert.False(t, ok)
	assert.Equal(t, []string{"a", "b"}, s.Texts())
}

func TestChangedSlice(t *testing.T) {
	before := Snapshot{First: 0, Lines: hard("$ ls", "a", "b")}

	t.Run("identical", func(t *testing.T) {
		assert.Empty(t, ChangedSlice(before, before))
	})

	t.Run("one new trailing line", func(t *testing.T) {
		after := Snapshot{First: 0, Lines: hard("$ ls", "a", "b", "c")}
		assert.Equal(t, hard("c"), ChangedSlice(before, after))
	})

	t.Run("edit in the middle returns through the end", func(t *testing.T) {
		after := Snapshot{First: 0, Lines: hard("$ ls", "A", "b")}
		assert.Equal(t, hard("A", "b"), ChangedSlice(before, after))
	})

	t.Run("scrolled window compares by absolute line", func(t *testing.T) {
		after := Snapshot{First: 1, Lines: hard("a", "b", "c")}
		assert.Equal(t, hard("c"), ChangedSlice(before, after))
	})

	t.Run("older unseen lines count as unchanged", func(t *testing.T) {
		later := Snapshot{First: 5, Lines: hard("x")}
		after := Snapshot{First: 3, Lines: hard("p", "q", "x")}
		assert.Empty(t, ChangedSlice(later, after))
	})

	t.Run("soft wrap change counts", func(t *testing.T) {
		after := Snapshot{First: 0, Lines: []remote.Line{{Text: "$ ls", HardEOL: true}, {Text: "a"}, {Text: "b", HardEOL: true}}}
		assert.Len(t, ChangedSlice(before, after), 2)
	})
}

func TestLogicalJoinsSoftWraps(t *testing.T) {
	s := Snapshot{First: 7, Lines: []remote.Line{
		{Text: "abc"},
		{Text: "def", HardEOL: true},
		{Text: "g", HardEOL: true},
		{Text: "$ "},
	}}

	lines := s.logical()

	assert.Len(t, lines, 3)
	assert.Equal(t, logicalLine{Start: 7, Rows: 2, Text: "abcdef", Hard: true}, lines[0])
	assert.Equal(t, int64(8), lines[0].Last())
	assert.Equal(t, logicalLine{Start: 9, Rows: 1, Text: "g", Hard: true}, lines[1])
	assert.Equal(t, logicalLine{Start: 10, Rows: 1, Text: "$ "}, lines[2])
}

func TestRenderRows(t *testing.T) {
	rows := []remote.Line{
		{Text: "one", HardEOL: true},
		{Text: "   ", HardEOL: true},
		{Text: "tw"},
		{Text: "o", HardEOL: true},
	}

	assert.Equal(t, "one\ntwo\n", renderRows(rows, true))
	assert.Equal(t, "one\n   \ntwo\n", renderRows(rows, false))
}
