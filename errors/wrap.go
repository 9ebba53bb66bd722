// Package errors offers the github.com/pkg/errors API used across ksession together with the coded
// SessionError type that is surfaced to callers of a session.
//
// Every error created or wrapped here carries a stack trace; format with %+v to print it.
package errors

import (
	stderrors "errors" //nolint: depguard

	"github.com/pkg/errors" //nolint: depguard
)

// New returns an error with the supplied message and a stack trace.
func New(message string) error {
	return errors.New(message)
}

// Errorf formats according to a format specifier and records a stack trace.
func Errorf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

// Wrap annotates err with a message and a stack trace. If err is nil, Wrap returns nil.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf annotates err with a formatted message and a stack trace. If err is nil, Wrapf returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// WithStack annotates err with a stack trace unless it is a SessionError, which is shown to users as is.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	var se SessionError
	if stderrors.As(err, &se) {
		return err
	}
	return errors.WithStack(err)
}

// Cause returns the innermost error that does not implement Cause.
func Cause(err error) error {
	return errors.Cause(err)
}

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target interface{}) bool { return stderrors.As(err, target) }
