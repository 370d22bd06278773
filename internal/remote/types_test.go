package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleLayout() *Layout {
	return &Layout{
		CurrentWindowID: "w2",
		Windows: []Window{
			{ID: "w1", Tabs: []Tab{
				{ID: "t1", Sessions: []SessionInfo{{ID: "s1", ProfileName: "Default"}}},
			}},
			{ID: "w2", Hotkey: true, Tabs: []Tab{
				{ID: "t2", CurrentSessionID: "s3", Sessions: []SessionInfo{
					{ID: "s2", ProfileName: "work"},
					{ID: "s3", ProfileName: "work"},
				}},
			}},
		},
	}
}

func TestLocate(t *testing.T) {
	l := sampleLayout()

	loc, ok := l.Locate("s3")
	require.True(t, ok)
	assert.Equal(t, "w2", loc.Window.ID)
	assert.Equal(t, "t2", loc.Tab.ID)
	assert.Equal(t, "s3", loc.Session.ID)

	_, ok = l.Locate("missing")
	assert.False(t, ok)

	var empty *Layout
	_, ok = empty.Locate("s1")
	assert.False(t, ok)
}

func TestWindowLookups(t *testing.T) {
	l := sampleLayout()

	w, ok := l.CurrentWindow()
	require.True(t, ok)
	assert.True(t, w.HasProfile("work"))
	assert.False(t, w.HasProfile("Default"))

	_, ok = l.Window("nope")
	assert.False(t, ok)
}

func TestCurrentSession(t *testing.T) {
	l := sampleLayout()

	s, ok := l.Windows[1].Tabs[0].CurrentSession()
	require.True(t, ok)
	assert.Equal(t, "s3", s.ID)

	s, ok = l.Windows[0].Tabs[0].CurrentSession()
	require.True(t, ok)
	assert.Equal(t, "s1", s.ID)

	_, ok = (&Tab{}).CurrentSession()
	assert.False(t, ok)
}

func TestRangeLines(t *testing.T) {
	tests := []struct {
		name  string
		r     Range
		first int64
		count int
	}{
		{"stops at line start", Range{Start: Coord{Y: 10}, End: Coord{Y: 13}}, 10, 3},
		{"partial end line", Range{Start: Coord{Y: 10}, End: Coord{X: 4, Y: 13}}, 10, 4},
		{"empty", Range{Start: Coord{Y: 10}, End: Coord{Y: 10}}, 10, 0},
		{"single partial", Range{Start: Coord{X: 2, Y: 7}, End: Coord{X: 9, Y: 7}}, 7, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, count := tt.r.Lines()
			assert.Equal(t, tt.first, first)
			assert.Equal(t, tt.count, count)
		})
	}
}

func TestValueHelpers(t *testing.T) {
	assert.True(t, Range{}.Degenerate())
	assert.False(t, Range{End: Coord{Y: 4}}.Degenerate())
	assert.Equal(t, int64(130), BufferInfo{Overflow: 100, Lines: 30}.End())
	assert.True(t, Line{Text: "  \t"}.Blank())
	assert.True(t, Version{Major: 1, Minor: 4}.AtLeast(1, 2))
	assert.False(t, Version{}.AtLeast(0, 1))
	assert.Equal(t, "1.4", Version{Major: 1, Minor: 4}.String())
}
