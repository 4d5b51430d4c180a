// Package syncerr defines the shared error taxonomy for the sync layer.
//
// Every failure surfaced across a component boundary is an *Error with
// a Code from the fixed taxonomy. Plumbing errors inside a component
// use plain wrapped errors; the boundary converts them.
package syncerr

import (
	"errors"
	"fmt"
)

// Code categorizes sync-layer errors.
type Code string

const (
	// CodeValidation indicates a malformed payload. The payload never
	// reached storage.
	CodeValidation Code = "VALIDATION"

	// CodeAccessDenied indicates an access predicate rejected the
	// operation. Row state and principal are recorded for audit but
	// not surfaced to the principal.
	CodeAccessDenied Code = "ACCESS_DENIED"

	// CodeNotFound indicates the target key was absent at write time.
	CodeNotFound Code = "NOT_FOUND"

	// CodeConflict indicates a uniqueness or cycle invariant would be
	// violated by the write.
	CodeConflict Code = "CONFLICT"

	// CodeResyncRequired indicates the feed cursor points before the
	// retention horizon. The client must discard local state and reload.
	CodeResyncRequired Code = "RESYNC_REQUIRED"

	// CodeTransport indicates a network or timeout failure. Retrying is
	// the caller's choice, never automatic.
	CodeTransport Code = "TRANSPORT"
)

// Error is a structured sync-layer error.
//
// Entity and Key identify the affected row where known. Details carries
// additional context for diagnostics (audit fields for denials, the
// violated constraint for conflicts).
type Error struct {
	Code    Code
	Message string
	Entity  string
	Key     string
	Details map[string]string

	// Err is the underlying cause, if any. Not part of the wire shape.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Entity != "" && e.Key != "":
		return fmt.Sprintf("%s: %s (entity=%s, key=%s)", e.Code, e.Message, e.Entity, e.Key)
	case e.Entity != "":
		return fmt.Sprintf("%s: %s (entity=%s)", e.Code, e.Message, e.Entity)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithEntity returns a copy of e annotated with entity and key.
func (e *Error) WithEntity(entity, key string) *Error {
	clone := *e
	clone.Entity = entity
	clone.Key = key
	return &clone
}

// WithDetail returns a copy of e with an extra detail field.
func (e *Error) WithDetail(k, v string) *Error {
	clone := *e
	clone.Details = make(map[string]string, len(e.Details)+1)
	for dk, dv := range e.Details {
		clone.Details[dk] = dv
	}
	clone.Details[k] = v
	return &clone
}

// CodeOf returns the taxonomy code of err, or "" if err is not a
// sync-layer error. Uses errors.As to handle wrapped errors.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsValidation reports whether err is a payload validation error.
func IsValidation(err error) bool { return CodeOf(err) == CodeValidation }

// IsAccessDenied reports whether err is an access denial.
func IsAccessDenied(err error) bool { return CodeOf(err) == CodeAccessDenied }

// IsNotFound reports whether err indicates an absent key.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsConflict reports whether err is a uniqueness or cycle violation.
func IsConflict(err error) bool { return CodeOf(err) == CodeConflict }

// IsResyncRequired reports whether err demands a client resync.
func IsResyncRequired(err error) bool { return CodeOf(err) == CodeResyncRequired }

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool { return CodeOf(err) == CodeTransport }
