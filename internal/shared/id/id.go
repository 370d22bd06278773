// Package id provides identifier generation for termlink.
//
// Two families of identifiers are produced here:
//   - ULIDs with a short type prefix (req_*, sub_*, win_*, tab_*, sess_*) for
//     control-plane requests, event subscriptions and objects created by the
//     in-memory control plane. They sort by creation time, which keeps logs readable.
//   - Marker tokens: random UUIDs rendered as 32 hex characters, used once per
//     sentinel-wrapped command.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Type-Safe ID Wrappers
// ============================================================================

// RequestID correlates a control-plane request with its response
type RequestID string

// SubscriptionID identifies a long-lived event subscription
type SubscriptionID string

// WindowID identifies a terminal window
type WindowID string

// TabID identifies a tab within a window
type TabID string

// SessionID identifies a terminal session within a tab
type SessionID string

const (
	RequestPrefix      = "req"
	SubscriptionPrefix = "sub"
	WindowPrefix       = "win"
	TabPrefix          = "tab"
	SessionPrefix      = "sess"
)

// ============================================================================
// ULID Generator
// ============================================================================

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Tests use it for deterministic output.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// ============================================================================
// Typed ID Generators
// ============================================================================

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// NewSubscriptionID generates a new subscription ID
func NewSubscriptionID() SubscriptionID {
	return SubscriptionID(Default().GenerateWithPrefix(SubscriptionPrefix))
}

// NewWindowID generates a new window ID
func NewWindowID() WindowID {
	return WindowID(Default().GenerateWithPrefix(WindowPrefix))
}

// NewTabID generates a new tab ID
func NewTabID() TabID {
	return TabID(Default().GenerateWithPrefix(TabPrefix))
}

// NewSessionID generates a new session ID
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(SessionPrefix))
}

func (id RequestID) String() string      { return string(id) }
func (id SubscriptionID) String() string { return string(id) }
func (id WindowID) String() string       { return string(id) }
func (id TabID) String() string          { return string(id) }
func (id SessionID) String() string      { return string(id) }

// ============================================================================
// Marker Tokens
// ============================================================================

// NewToken returns a fresh 32-character lowercase hex token.
// Tokens contain only [0-9a-f] so they are safe inside single-quoted shell words.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ============================================================================
// Parsing
// ============================================================================

// HasPrefix reports whether s is a prefixed ULID of the given type
func HasPrefix(s, prefix string) bool {
	rest, ok := strings.CutPrefix(s, prefix+"_")
	if !ok {
		return false
	}
	_, err := ulid.Parse(rest)
	return err == nil
}
