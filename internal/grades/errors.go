package grades

import (
	"errors"
	"fmt"
)

// Kind classifies failures crossing component boundaries.
type Kind string

// Failure kinds. Only KindAuthRejected is terminal.
const (
	KindAuthRequestFailed Kind = "auth_request_failed"
	KindAuthRejected      Kind = "auth_rejected"
	KindAuthProtocol      Kind = "auth_protocol_error"
	KindRequestFailed     Kind = "request_failed"
	KindSessionExpired    Kind = "session_expired"
	KindSchemaInvalid     Kind = "schema_invalid"
	KindPersistence       Kind = "persistence_failed"
)

// Error is the tagged error returned by the auth, portal and storage layers.
// Detail carries raw upstream context (status, headers, body excerpt) for
// operators and is not part of Error().
type Error struct {
	Kind    Kind
	Message string
	Detail  string
	Cause   error
}

// NewError builds an Error of the given kind.
func NewError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// WithDetail attaches diagnostic detail and returns the receiver.
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether a later cycle may succeed.
func (e *Error) Retryable() bool {
	return e.Kind != KindAuthRejected
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// DetailOf returns the diagnostic detail attached to err, if any.
func DetailOf(err error) string {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Detail
	}
	return ""
}

// IsRetryable treats untagged errors as retryable.
func IsRetryable(err error) bool {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Retryable()
	}
	return err != nil
}
