// Package errors provides the error handling used throughout msistream. It
// wraps github.com/pkg/errors so that errors carry a stack trace, and adds
// fatal errors which terminate the program with a message instead of a trace.
package errors

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

// New creates a new error based on message. Wrapped so that this package does
// not appear in the stack trace.
var New = errors.New

// Errorf creates an error based on a format string and values. Wrapped so that
// this package does not appear in the stack trace.
var Errorf = errors.Errorf

// Wrap wraps an error retrieved from outside of msistream. Wrapped so that
// this package does not appear in the stack trace.
var Wrap = errors.Wrap

// Wrapf returns an error annotating err with a stack trace at the point Wrapf
// is called, and the format specifier. If err is nil, Wrapf returns nil.
var Wrapf = errors.Wrapf

// WithStack annotates err with a stack trace at the point WithStack was
// called. If err is nil, WithStack returns nil.
var WithStack = errors.WithStack

// Cause returns the cause of an error.
func Cause(err error) error {
	return errors.Cause(err)
}

func Is(x, y error) bool { return stderrors.Is(x, y) }

func As(err error, tgt interface{}) bool { return stderrors.As(err, tgt) }

func Unwrap(err error) error { return stderrors.Unwrap(err) }
