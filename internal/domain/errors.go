package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures reported across component boundaries.
type ErrorKind string

const (
	KindInvalidInput      ErrorKind = "invalid_input"
	KindUnauthorized      ErrorKind = "unauthorized"
	KindNotFound          ErrorKind = "not_found"
	KindConflict          ErrorKind = "conflict"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindUnknownTool       ErrorKind = "unknown_tool"
	KindHandlerError      ErrorKind = "handler_error"
	KindUpstreamFailure   ErrorKind = "upstream_failure"
)

// Error is a classified failure. Message is safe to show to clients;
// Err carries the underlying cause for logs only.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same Kind, so errors.Is(err,
// &Error{Kind: KindNotFound}) works regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// NewError builds a classified error without a cause.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds a classified error around a cause.
func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func ErrInvalidInput(format string, args ...any) *Error {
	return NewError(KindInvalidInput, format, args...)
}

func ErrNotFound(format string, args ...any) *Error {
	return NewError(KindNotFound, format, args...)
}

func ErrConflict(format string, args ...any) *Error {
	return NewError(KindConflict, format, args...)
}

func ErrInvalidTransition(format string, args ...any) *Error {
	return NewError(KindInvalidTransition, format, args...)
}

func ErrUpstream(err error, format string, args ...any) *Error {
	return WrapError(KindUpstreamFailure, err, format, args...)
}

// KindOf returns the kind of err, or KindUpstreamFailure for errors that
// were never classified.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUpstreamFailure
}

// PublicMessage returns the client-safe message for err.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
