package execution

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkers(t *testing.T) {
	m := NewMarkers("0123abcd")

	assert.Equal(t, "__PYTERM_MCP_BEGIN__0123abcd__", m.Begin())
	assert.Equal(t, "__PYTERM_MCP_END__0123abcd__", m.EndPrefix())
}

func TestWrapHidesMarkersAndParentheses(t *testing.T) {
	m := NewMarkers("f00d")
	wrapped := m.Wrap(`echo "$(date)" && ls -la (x)`)

	assert.NotContains(t, wrapped, m.Begin())
	assert.NotContains(t, wrapped, m.EndPrefix())
	assert.NotContains(t, wrapped, "(")
	assert.NotContains(t, wrapped, ")")
	assert.Contains(t, wrapped, "'__PYTERM_MCP_BEGIN__' 'f00d__'")
	assert.Contains(t, wrapped, "'__PYTERM_MCP_END__' 'f00d__'")
	assert.True(t, strings.HasSuffix(wrapped, "fi"))
}

func TestWrapCarriesCommandAsBase64(t *testing.T) {
	commands := []string{
		"ls",
		`printf '%s\n' "it's"`,
		"for i in 1 2; do\n  echo $i\ndone",
		"echo ünïcødé | tr a-z A-Z",
	}
	for _, cmd := range commands {
		wrapped := NewMarkers("tok").Wrap(cmd)

		assert.Contains(t, wrapped, base64.StdEncoding.EncodeToString([]byte(cmd)))
		decoded, ok := DecodePayload(wrapped)
		require.True(t, ok, cmd)
		assert.Equal(t, cmd, decoded)
		assert.NotContains(t, wrapped, "\n", "wrapper must stay on one line")
	}
}

func TestWrapPreservesExitStatusThroughTrampoline(t *testing.T) {
	wrapped := NewMarkers("tok").Wrap("false")

	assert.Equal(t, 2, strings.Count(wrapped, `exit "$3"' _`))
	assert.Contains(t, wrapped, `; then sh -c`)
	assert.Contains(t, wrapped, `; else sh -c`)
}

func TestDecodePayloadRejectsOtherText(t *testing.T) {
	_, ok := DecodePayload("echo hello")
	assert.False(t, ok)
}

func TestEndPatternNeedsStatus(t *testing.T) {
	m := NewMarkers("tok")
	re := m.endPattern()

	assert.True(t, re.MatchString("__PYTERM_MCP_END__tok__:0"))
	assert.True(t, re.MatchString("output__PYTERM_MCP_END__tok__:127  "))
	assert.False(t, re.MatchString("__PYTERM_MCP_END__tok__:"))
	assert.False(t, re.MatchString("__PYTERM_MCP_END__other__:0"))
	assert.False(t, re.MatchString(m.Wrap("ls")))
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'/srv/app'`, shellQuote("/srv/app"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}
