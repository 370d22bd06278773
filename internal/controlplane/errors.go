package controlplane

import (
	"errors"
	"fmt"

	"github.com/GriffinCanCode/termlink/internal/remote"
)

var (
	// ErrUnauthorized is what a dial reports when the handshake rejects
	// the credentials; the supervisor decides whether it becomes fatal
	ErrUnauthorized = errors.New("control plane rejected credentials")
	// ErrAuthentication means fresh credentials were also rejected
	ErrAuthentication = errors.New("authentication failed")
	// ErrProtocolVersion means the control plane speaks an incompatible protocol
	ErrProtocolVersion = errors.New("incompatible control-plane protocol version")
	// ErrNoFreshCredentials means no credential helper is configured
	ErrNoFreshCredentials = errors.New("no source of fresh credentials")
	// ErrConnectionClosed is returned by calls on a dead connection
	ErrConnectionClosed = remote.ErrClosed
)

// TransientConnectError reports an endpoint that is not reachable yet,
// typically because the control plane is still starting
type TransientConnectError struct {
	Op       string // "dial"
	Endpoint string
	Err      error
}

func (e *TransientConnectError) Error() string {
	return fmt.Sprintf("%s %s: %v (retryable)", e.Op, e.Endpoint, e.Err)
}

func (e *TransientConnectError) Unwrap() error { return e.Err }

// HandshakeError carries the HTTP status of a rejected upgrade
type HandshakeError struct {
	Endpoint string
	Status   int
	Err      error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake with %s: status %d: %v", e.Endpoint, e.Status, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// Error codes carried in response frames
const (
	CodeNotFound      = "not_found"
	CodeInvalidParams = "invalid_params"
	CodeUnknownMethod = "unknown_method"
	CodeInternal      = "internal"
)

// RemoteError is an error response returned by the control plane
type RemoteError struct {
	Method  string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Method, e.Code, e.Message)
}

// Is maps not_found responses onto remote.ErrNotFound
func (e *RemoteError) Is(target error) bool {
	return target == remote.ErrNotFound && e.Code == CodeNotFound
}

// IsRetryable reports whether err is worth another dial
func IsRetryable(err error) bool {
	var te *TransientConnectError
	return errors.As(err, &te)
}
