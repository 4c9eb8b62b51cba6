// Package errs defines the error categories shared by the saga, the
// authorization ledger, the rate limiter and the task executor.  Each
// category is a sentinel value; concrete errors wrap the sentinel so that
// callers can branch with errors.Is while still getting a readable message.
// Handlers translate the categories into HTTP status codes.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrArgument is returned when caller-supplied input fails validation
	// (bad phone number, price mismatch, unsupported payment method, wrong
	// code width).
	ErrArgument = errors.New("argument")

	// ErrForbidden is returned when the caller is not the owning agent of
	// the transaction or action.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound is returned when the referenced transaction, action or
	// task does not exist or does not match the expected scope.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyInUse is returned when a uniqueness constraint was violated
	// on persist (duplicate passport, duplicate order number).
	ErrAlreadyInUse = errors.New("already in use")

	// ErrRateLimitExceeded is returned when an admission slot is already
	// held by someone else.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// Argument wraps ErrArgument with a formatted message.
func Argument(format string, args ...any) error { return wrap(ErrArgument, format, args...) }

// Forbidden wraps ErrForbidden with a formatted message.
func Forbidden(format string, args ...any) error { return wrap(ErrForbidden, format, args...) }

// NotFound wraps ErrNotFound with a formatted message.
func NotFound(format string, args ...any) error { return wrap(ErrNotFound, format, args...) }

// AlreadyInUse wraps ErrAlreadyInUse with a formatted message.
func AlreadyInUse(format string, args ...any) error { return wrap(ErrAlreadyInUse, format, args...) }

// RateLimitExceeded wraps ErrRateLimitExceeded with a formatted message.
func RateLimitExceeded(format string, args ...any) error {
	return wrap(ErrRateLimitExceeded, format, args...)
}

func wrap(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// Category returns the sentinel the error belongs to, or nil when the error
// is not one of the known categories (infrastructure failures).
func Category(err error) error {
	for _, s := range []error{ErrArgument, ErrForbidden, ErrNotFound, ErrAlreadyInUse, ErrRateLimitExceeded} {
		if errors.Is(err, s) {
			return s
		}
	}
	return nil
}
