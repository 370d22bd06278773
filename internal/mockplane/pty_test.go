package mockplane

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPTYShellRunsCommands(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a real shell")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}

	p := New(Options{Shell: PTY(PTYOptions{WorkingDir: t.TempDir()})})
	defer p.Close()

	created, err := p.CreateWindow(context.Background(), "")
	if err != nil {
		t.Skipf("pty unavailable: %v", err)
	}
	s, ok := p.Session(created.SessionID)
	require.True(t, ok)

	require.NoError(t, p.SendText(context.Background(), created.SessionID, "echo pty-$((40+2))\r", false))

	assert.Eventually(t, func() bool {
		return strings.Contains(s.Buffer().String(), "pty-42")
	}, 5*time.Second, 20*time.Millisecond)
}
