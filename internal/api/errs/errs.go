// Package errs provides the error shape the admin API returns and request
// validation on top of go-playground/validator.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an API error for status-code selection.
type Kind int

const (
	InvalidArgument Kind = iota
	NotFound
	Internal
	Unavailable
)

// Error is the error type the API handlers return.
type Error struct {
	Kind    Kind   `json:"-"`
	Message string `json:"error"`
}

// New constructs an Error from a kind and an underlying error.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Message: err.Error()}
}

// Newf constructs an Error from a kind and a format string.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string { return e.Message }

// HTTPStatus maps the kind to a status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case InvalidArgument:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsError reports whether err is an *Error and returns it.
func IsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
