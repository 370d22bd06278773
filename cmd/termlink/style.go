package main

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

type styles struct {
	color bool

	heading lipgloss.Style
	key     lipgloss.Style
	value   lipgloss.Style
	ok      lipgloss.Style
	bad     lipgloss.Style
	muted   lipgloss.Style
}

func newStyles(w io.Writer) styles {
	green := lipgloss.Color("#05d98c")
	red := lipgloss.Color("#ff5f6d")
	blue := lipgloss.Color("#5fafff")
	grey := lipgloss.Color("#8a8a8a")

	return styles{
		color:   isTerminal(w),
		heading: lipgloss.NewStyle().Bold(true).Foreground(blue),
		key:     lipgloss.NewStyle().Foreground(grey),
		value:   lipgloss.NewStyle().Bold(true),
		ok:      lipgloss.NewStyle().Foreground(green),
		bad:     lipgloss.NewStyle().Bold(true).Foreground(red),
		muted:   lipgloss.NewStyle().Faint(true),
	}
}

// render leaves text untouched unless output goes to a terminal
func (s styles) render(st lipgloss.Style, text string) string {
	if !s.color {
		return text
	}
	return st.Render(text)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
