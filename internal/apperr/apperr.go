// Package apperr classifies failures of the inbox and delivery pipelines so
// the HTTP layer can map them to status codes in one place.
package apperr

import (
	"errors"
	"net/http"
)

// Kind is the failure class
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindNotFound
	KindUnsupportedPayload
	KindPolicyDenied
	KindConflict
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindUnsupportedPayload:
		return "unsupported_payload"
	case KindPolicyDenied:
		return "policy_denied"
	case KindConflict:
		return "conflict"
	case KindStorage:
		return "storage_failure"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Message is safe to show to clients; Err
// carries the underlying cause.
type Error struct {
	Err     error
	Message string
	Kind    Kind
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func InvalidInput(msg string) error { return &Error{Kind: KindInvalidInput, Message: msg} }

func NotFound(msg string) error { return &Error{Kind: KindNotFound, Message: msg} }

func UnsupportedPayload(msg string, err error) error {
	return &Error{Kind: KindUnsupportedPayload, Message: msg, Err: err}
}

func PolicyDenied(msg string) error { return &Error{Kind: KindPolicyDenied, Message: msg} }

func Conflict(msg string) error { return &Error{Kind: KindConflict, Message: msg} }

func Storage(msg string, err error) error { return &Error{Kind: KindStorage, Message: msg, Err: err} }

// KindOf returns the class of err, KindUnknown for unclassified errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Message returns the client-facing message of err
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "Internal server error"
}

// HTTPStatus maps err to the status code an inbox answers with
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnsupportedPayload:
		return http.StatusUnsupportedMediaType
	case KindPolicyDenied:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
