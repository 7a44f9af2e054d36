// Package errs defines the error-kind taxonomy from spec.md §7
// (Configuration, Authorization, Resolution, System, Applier, Timeout,
// Cancellation) as a typed wrapper, so callers can classify an error with
// errors.As instead of string-matching its message.
package errs

import "fmt"

// Kind names one of the error categories spec.md §7 enumerates.
type Kind string

const (
	Configuration Kind = "configuration"
	Authorization Kind = "authorization"
	Resolution    Kind = "resolution"
	System        Kind = "system"
	Applier       Kind = "applier"
	Timeout       Kind = "timeout"
	Cancellation  Kind = "cancellation"
)

// Error attaches a Kind to an underlying cause.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Wrap attaches kind to err, or returns nil if err is nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Cause: err}
}

// Of extracts the Kind attached to err, if any, and reports whether one
// was found.
func Of(err error) (Kind, bool) {
	var e *Error
	for err != nil {
		if as, ok := err.(*Error); ok {
			e = as
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return "", false
	}
	return e.Kind, true
}
