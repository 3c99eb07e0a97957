// Package apperr defines the error taxonomy shared by the store, the live
// subscription layer, the session authority and the transport.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound: referenced id absent at read, write or delete time.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument: required field missing or malformed.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidCredentials: login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRateLimited: too many failed logins for one identifier.
	ErrRateLimited = errors.New("too many login attempts")
	// ErrPermissionDenied: operation requires an admin session.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUnavailable: transient backend or network failure, retryable.
	ErrUnavailable = errors.New("unavailable")
)

// Code is the wire representation of an error class.
type Code string

const (
	CodeNotFound           Code = "NOT_FOUND"
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeUnavailable        Code = "UNAVAILABLE"
	CodeInternal           Code = "INTERNAL"
)

// Invalid wraps ErrInvalidArgument with a field-specific message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound naming the missing entity.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

// Unavailable marks err as retryable while keeping it in the chain.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// FromContext converts deadline and cancellation errors into ErrUnavailable
// and leaves everything else untouched.
func FromContext(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if errors.Is(err, ErrUnavailable) {
			return err
		}
		return Unavailable(op, err)
	}
	return err
}

// CodeOf classifies err for the transport.
func CodeOf(err error) Code {
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, ErrInvalidCredentials):
		return CodeInvalidCredentials
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrPermissionDenied):
		return CodePermissionDenied
	case errors.Is(err, ErrUnavailable):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}
