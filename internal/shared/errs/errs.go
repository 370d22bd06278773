// Package errs holds error types shared by every termlink layer.
package errs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout matches every TimeoutError via errors.Is
var ErrTimeout = errors.New("operation timed out")

// TimeoutError reports a deadline-bounded wait that ran out.
// It matches ErrTimeout and unwraps to context.DeadlineExceeded.
type TimeoutError struct {
	Op    string        // what was being waited for
	After time.Duration // how long we waited
	Hint  string        // what the user can do about it (optional)
	Err   error         // last error seen before giving up (optional)
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("%s: waited %s", e.Op, e.After.Round(time.Millisecond))
	if e.Err != nil {
		msg += fmt.Sprintf(" (last error: %v)", e.Err)
	}
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout || target == context.DeadlineExceeded
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Timeout builds a TimeoutError
func Timeout(op string, after time.Duration, hint string, cause error) *TimeoutError {
	return &TimeoutError{Op: op, After: after, Hint: hint, Err: cause}
}

// IsTimeout reports whether err is a TimeoutError or a context deadline
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
