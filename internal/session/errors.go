package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRefreshCallback means a Handle failed validation and nothing
	// could rebuild it
	ErrNoRefreshCallback = errors.New("session is stale and no refresh callback is set")
	// ErrTypeMismatch is returned by RefreshFrom for foreign State values
	ErrTypeMismatch = errors.New("refresh source is not a session handle")
	// ErrResolution means no window, tab or session could be located or created
	ErrResolution = errors.New("could not resolve a terminal session")
)

// ResolutionError reports the resolver step that failed
type ResolutionError struct {
	Step string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve session: %s: %v", e.Step, e.Err)
}

// Unwrap exposes both ErrResolution and the underlying cause
func (e *ResolutionError) Unwrap() []error {
	return []error{ErrResolution, e.Err}
}

func resolutionError(step string, err error) error {
	return &ResolutionError{Step: step, Err: err}
}
