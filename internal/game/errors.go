package game

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an Error for callers that need to decide how loudly to
// report it and whether to retry.
type Kind string

const (
	KindAuth          Kind = "auth"
	KindAccess        Kind = "access"
	KindNotFound      Kind = "not-found"
	KindValidation    Kind = "validation"
	KindConflict      Kind = "conflict"
	KindConfiguration Kind = "configuration"
	KindTransient     Kind = "transient"
)

// Error is a classified failure. Code is the short string sent to clients.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code, so wrapped copies of a
// sentinel still satisfy errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

var (
	ErrInvalidAuthToken = &Error{Kind: KindAuth, Code: "invalid-auth-token", Message: "invalid auth token"}
	ErrInvalidGame      = &Error{Kind: KindNotFound, Code: "invalid-game", Message: "invalid game"}
	ErrLoginRequired    = &Error{Kind: KindAccess, Code: "login-required", Message: "login required"}
	ErrAccessDenied     = &Error{Kind: KindAccess, Code: "access-denied", Message: "access denied"}
	ErrUnknownVariable  = &Error{Kind: KindNotFound, Code: "unknown-variable", Message: "unknown user variable"}
	ErrInvalidActionSet = &Error{Kind: KindNotFound, Code: "invalid-action-set", Message: "invalid action set"}
	ErrUnknownGameState = &Error{Kind: KindNotFound, Code: "unknown-game-state", Message: "unknown game state"}
	ErrUnknownComponent = &Error{Kind: KindNotFound, Code: "unknown-component", Message: "unknown content component"}
	ErrInvalidData      = &Error{Kind: KindValidation, Code: "invalid-data", Message: "invalid data"}
	ErrNotReady         = &Error{Kind: KindValidation, Code: "not-ready", Message: "session not ready"}
	ErrAlreadyReady     = &Error{Kind: KindValidation, Code: "already-ready", Message: "session already ready"}
	ErrBusy             = &Error{Kind: KindConflict, Code: "busy", Message: "an action set is already in progress"}
	ErrConflict         = &Error{Kind: KindConflict, Code: "conflict", Message: "record was modified concurrently"}
	ErrTimeout          = &Error{Kind: KindTransient, Code: "timeout", Message: "operation timed out"}
	ErrUnavailable      = &Error{Kind: KindTransient, Code: "unavailable", Message: "storage unavailable"}
	ErrClosed           = &Error{Kind: KindTransient, Code: "closed", Message: "session closed"}
	ErrConfiguration    = &Error{Kind: KindConfiguration, Code: "internal-error", Message: "invalid game configuration"}
)

// Wrap returns a copy of base carrying err as its cause.
func Wrap(base *Error, err error) error {
	return &Error{Kind: base.Kind, Code: base.Code, Message: base.Message, Err: err}
}

// Configurationf reports authored content that cannot be executed.
func Configurationf(format string, args ...any) error {
	return &Error{
		Kind:    KindConfiguration,
		Code:    ErrConfiguration.Code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Invalidf reports a malformed request.
func Invalidf(format string, args ...any) error {
	return &Error{
		Kind:    KindValidation,
		Code:    ErrInvalidData.Code,
		Message: fmt.Sprintf(format, args...),
	}
}

// KindOf classifies err. Deadline expiry counts as transient, as does any
// error that was never classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// CodeOf returns the client-facing code for err, or "" for nil.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout.Code
	}
	return ErrUnavailable.Code
}
