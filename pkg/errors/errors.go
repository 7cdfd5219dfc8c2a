package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// New returns an error with the supplied message, formatted when args are given.
// It records the stack trace at the point it was called.
func New(message string, args ...interface{}) error {
	if len(args) > 0 {
		return errors.Errorf(message, args...)
	}
	return errors.New(message)
}

// Wrap returns an error annotating err with a stack trace and the supplied
// message. If err is nil, Wrap returns nil.
func Wrap(err error, message string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if len(args) > 0 {
		return errors.Wrapf(err, message, args...)
	}
	return errors.Wrap(err, message)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Cause returns the underlying cause of the error, if possible.
func Cause(err error) error {
	return errors.Cause(err)
}

// Errorf is kept for call sites that want fmt-style wrapping with %w.
func Errorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
