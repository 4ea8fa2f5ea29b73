package domain

import (
	"errors"
	"fmt"
)

// ErrTaskNotFound is returned by storage implementations when no task has the
// requested id.
var ErrTaskNotFound = errors.New("task not found")

// ErrConcurrencyConflict indicates that the underlying storage rejected a
// write because the entity changed since it was read.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// ErrorKind classifies failures so the HTTP layer can map them to responses.
type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"
	KindBadRequest       ErrorKind = "bad_request"
	KindNotFound         ErrorKind = "not_found"
	KindRouteNotFound    ErrorKind = "route_not_found"
	KindMethodNotAllowed ErrorKind = "method_not_allowed"
	KindConflict         ErrorKind = "conflict"
	KindUnauthorized     ErrorKind = "unauthorized"
	KindInternal         ErrorKind = "internal"
)

// FieldError describes a single invalid request field.
type FieldError struct {
	Field   string
	Message string
}

func (f FieldError) String() string {
	return f.Field + ": " + f.Message
}

// Error is a classified failure. Msg is safe to show to callers; Err keeps the
// underlying cause for logs.
type Error struct {
	Kind   ErrorKind
	Msg    string
	Fields []FieldError
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	base := fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	if e.Err != nil {
		base += fmt.Sprintf(": %v", e.Err)
	}
	return base
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NotFound returns the error reported for an unknown task id.
func NotFound(id int64) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf("Task not found with id: %d", id), Err: ErrTaskNotFound}
}

// KindOf returns the kind of err, treating unclassified errors as internal.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == kind
}
