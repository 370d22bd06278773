package execution

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
)

// Marker prefixes printed around sentinel-wrapped commands
const (
	BeginPrefix = "__PYTERM_MCP_BEGIN__"
	EndPrefix   = "__PYTERM_MCP_END__"
)

// Markers is the one-time begin/end pair for a single command
type Markers struct {
	token string
}

// NewMarkers builds markers around token, which must be unique per command
func NewMarkers(token string) Markers {
	return Markers{token: token}
}

// Begin is the complete begin marker as printed by the shell
func (m Markers) Begin() string { return BeginPrefix + m.tail() }

// EndPrefix is the end marker without its ":STATUS" suffix
func (m Markers) EndPrefix() string { return EndPrefix + m.tail() }

func (m Markers) tail() string { return m.token + "__" }

// Wrap builds the text typed into the shell. The command travels
// base64-encoded so no character of it reaches line-editing widgets, and
// each marker is printed from two separate arguments so the typed text never
// contains a marker itself. The wrapper has no parentheses. Both branches
// exit through a child shell carrying the command's status, which keeps $?
// intact for the user.
func (m Markers) Wrap(command string) string {
	payload := base64.StdEncoding.EncodeToString([]byte(command))
	trampoline := fmt.Sprintf(`sh -c 'printf "%%s%%s:%%s\n" "$1" "$2" "$3"; exit "$3"' _ '%s' '%s' "$?"`, EndPrefix, m.tail())
	return fmt.Sprintf(`printf '%%s%%s\n' '%s' '%s'; if eval "`+"`printf '%%s' '%s' | base64 -d`"+`"; then %s; else %s; fi`,
		BeginPrefix, m.tail(), payload, trampoline, trampoline)
}

// endPattern matches a complete end-marker line and captures the status
func (m Markers) endPattern() *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(m.EndPrefix()) + `:(-?\d+)\s*$`)
}

// DecodePayload extracts and decodes the command carried by a wrapper
func DecodePayload(wrapper string) (string, bool) {
	m := payloadPattern.FindStringSubmatch(wrapper)
	if m == nil {
		return "", false
	}
	raw, err := base64.StdEncoding.DecodeString(m[1])
	if err != nil {
		return "", false
	}
	return string(raw), true
}

var payloadPattern = regexp.MustCompile("`printf '%s' '([A-Za-z0-9+/=]*)' \\| base64 -d`")

// shellQuote single-quotes s for a POSIX shell
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
