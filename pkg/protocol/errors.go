package protocol

import (
	"errors"
	"fmt"
)

// FatalError marks a handler failure as permanent: bad config, permanent
// upstream rejection. The engine fails the node immediately without retry.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatalError wraps an error as permanent.
func NewFatalError(err error) error {
	return &FatalError{Err: err}
}

// Fatalf builds a permanent error from a format string.
func Fatalf(format string, args ...any) error {
	return &FatalError{Err: fmt.Errorf(format, args...)}
}

// IsFatal reports whether the error chain carries a FatalError. Handler
// errors without the marker are treated as transient and retried per the
// node's policy.
func IsFatal(err error) bool {
	var fatal *FatalError

	return errors.As(err, &fatal)
}
