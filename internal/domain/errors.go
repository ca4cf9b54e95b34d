package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures raised by the tracking workflow
type ErrorKind string

const (
	KindInvalidTaskDefinition  ErrorKind = "InvalidTaskDefinition"
	KindInvalidStateDefinition ErrorKind = "InvalidStateDefinition"
	KindInvalidStateStatus     ErrorKind = "InvalidStateStatus"
	KindInvalidTaskOperation   ErrorKind = "InvalidTaskOperation"
	KindTooManyCheckIns        ErrorKind = "TooManyCheckIns"
	KindInvalidCheckInTarget   ErrorKind = "InvalidCheckInTarget"
	KindCreateFailed           ErrorKind = "CreateError"
	KindUserNotFound           ErrorKind = "UserNotFound"
	KindGroupNotFound          ErrorKind = "GroupNotFound"
	KindInvalidHook            ErrorKind = "InvalidHook"
)

// Sentinels usable with errors.Is; a TrackingError matches the sentinel of its kind.
var (
	ErrInvalidTaskDefinition  = &TrackingError{Kind: KindInvalidTaskDefinition}
	ErrInvalidStateDefinition = &TrackingError{Kind: KindInvalidStateDefinition}
	ErrInvalidStateStatus     = &TrackingError{Kind: KindInvalidStateStatus}
	ErrInvalidTaskOperation   = &TrackingError{Kind: KindInvalidTaskOperation}
	ErrTooManyCheckIns        = &TrackingError{Kind: KindTooManyCheckIns}
	ErrInvalidCheckInTarget   = &TrackingError{Kind: KindInvalidCheckInTarget}
	ErrCreateFailed           = &TrackingError{Kind: KindCreateFailed}
	ErrUserNotFound           = &TrackingError{Kind: KindUserNotFound}
	ErrGroupNotFound          = &TrackingError{Kind: KindGroupNotFound}
	ErrInvalidHook            = &TrackingError{Kind: KindInvalidHook}
)

// TrackingError is a typed workflow error carrying its kind and an optional cause
type TrackingError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface
func (e *TrackingError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	} else {
		msg = fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *TrackingError) Unwrap() error {
	return e.Err
}

// Is matches any TrackingError of the same kind
func (e *TrackingError) Is(target error) bool {
	var t *TrackingError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// NewError creates a TrackingError of the given kind
func NewError(kind ErrorKind, format string, args ...interface{}) *TrackingError {
	return &TrackingError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates a TrackingError of the given kind around cause
func WrapError(kind ErrorKind, cause error, format string, args ...interface{}) *TrackingError {
	return &TrackingError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the kind of the first TrackingError in err's chain, or "" if there is none
func KindOf(err error) ErrorKind {
	var te *TrackingError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}
