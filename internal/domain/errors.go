package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation           = errors.New("validation error")
	ErrAuth                 = errors.New("unauthorized")
	ErrQuotaDenied          = errors.New("quota denied")
	ErrInsufficientCredit   = errors.New("insufficient credit")
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrLimitReached         = errors.New("regeneration limit reached")
	ErrUpstreamUnavailable  = errors.New("upstream unavailable")
	ErrConflict             = errors.New("conflict")
	ErrNotFound             = errors.New("not found")
)

// Error pairs an error kind with a human readable message and an optional cause.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Is(target error) bool { return e.Kind == target }

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error of the given kind.
func Errorf(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around cause.
func Wrap(kind error, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Message returns the human message carried by err, falling back to err.Error().
func Message(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsRetryable reports whether the caller may retry with the same idempotency key.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable)
}

// IsQuotaError reports whether err is a business rule rejection surfaced to the user.
func IsQuotaError(err error) bool {
	return errors.Is(err, ErrQuotaDenied) ||
		errors.Is(err, ErrInsufficientCredit) ||
		errors.Is(err, ErrNoActiveSubscription) ||
		errors.Is(err, ErrLimitReached)
}
