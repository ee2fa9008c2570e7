// Package kernelerr defines the structured error kinds the kernel
// recognizes, shared by every internal/kernel/* component and
// translated to HTTP status codes by internal/httpapi.
package kernelerr

import "fmt"

// Kind classifies a kernel error for HTTP status mapping and metrics.
type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
	KindExpired    Kind = "expired"
	KindCapacity   Kind = "capacity"
	KindTransient  Kind = "transient"
	KindFatal      Kind = "fatal"
)

// Error is the structured error value returned by kernel components.
// Only truly unexpected failures are left as plain errors that unwind
// to the HTTP layer as 500s.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Detail  map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) WithDetail(key string, value any) *Error {
	if e.Detail == nil {
		e.Detail = make(map[string]any)
	}
	e.Detail[key] = value
	return e
}

func Validation(code, message string) *Error { return New(KindValidation, code, message) }
func Conflict(code, message string) *Error   { return New(KindConflict, code, message) }
func NotFound(code, message string) *Error   { return New(KindNotFound, code, message) }
func Expired(code, message string) *Error    { return New(KindExpired, code, message) }
func Capacity(code, message string) *Error   { return New(KindCapacity, code, message) }
func Transient(code, message string) *Error  { return New(KindTransient, code, message) }
func Fatal(code, message string) *Error      { return New(KindFatal, code, message) }

// As extracts a *Error from err, returning ok=false for plain errors.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}
