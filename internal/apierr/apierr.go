// Package apierr provides a small error taxonomy so HTTP handlers don't
// have to string-match collaborator errors to pick a status code.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an Error for status-code mapping and client handling.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindInvalid      Kind = "invalid"
	KindUnavailable  Kind = "unavailable"
	KindInternal     Kind = "internal"
	KindForbidden    Kind = "forbidden"
	KindGone         Kind = "gone"
	KindUnauthorized Kind = "unauthorized"
	KindTooLarge     Kind = "payload_too_large"
	KindUpstream     Kind = "upstream"
)

// Error is a classified error carrying an HTTP status and a stable code
// string clients can switch on without parsing Message.
type Error struct {
	Kind    Kind
	Status  int
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Wrap attaches a classified Error to an underlying cause for logging while
// keeping the Message as the client-facing text.
func (e *Error) Wrap(cause error) *Error {
	return &Error{Kind: e.Kind, Status: e.Status, Code: e.Code, Message: e.Message, cause: cause}
}

func NotFound(code, msg string) *Error    { return &Error{Kind: KindNotFound, Status: http.StatusNotFound, Code: code, Message: msg} }
func Conflict(code, msg string) *Error    { return &Error{Kind: KindConflict, Status: http.StatusConflict, Code: code, Message: msg} }
func Invalid(code, msg string) *Error     { return &Error{Kind: KindInvalid, Status: http.StatusBadRequest, Code: code, Message: msg} }
func Unavailable(code, msg string) *Error {
	return &Error{Kind: KindUnavailable, Status: http.StatusServiceUnavailable, Code: code, Message: msg}
}
func Internal(code, msg string) *Error  { return &Error{Kind: KindInternal, Status: http.StatusInternalServerError, Code: code, Message: msg} }
func Forbidden(code, msg string) *Error { return &Error{Kind: KindForbidden, Status: http.StatusForbidden, Code: code, Message: msg} }
func Gone(code, msg string) *Error      { return &Error{Kind: KindGone, Status: http.StatusGone, Code: code, Message: msg} }
func Unauthorized(code, msg string) *Error {
	return &Error{Kind: KindUnauthorized, Status: http.StatusUnauthorized, Code: code, Message: msg}
}
func TooLarge(code, msg string) *Error {
	return &Error{Kind: KindTooLarge, Status: http.StatusRequestEntityTooLarge, Code: code, Message: msg}
}
func Upstream(code, msg string) *Error {
	return &Error{Kind: KindUpstream, Status: http.StatusBadGateway, Code: code, Message: msg}
}

// As extracts an *Error from err, returning ok=false for unclassified errors
// (callers should fall back to a generic 500).
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusOf returns the HTTP status for err, defaulting to 500 when err is
// not a classified *Error.
func StatusOf(err error) int {
	if e, ok := As(err); ok {
		return e.Status
	}
	return http.StatusInternalServerError
}
