package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is the only error type the HTTP boundary converts into a status code.
// Services return plain errors or *Error; handlers call Status to map them.
type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func Invalid(msg string) *Error {
	return New(http.StatusUnprocessableEntity, "input_invalid", errors.New(msg))
}

func Unauthorized(msg string) *Error {
	return New(http.StatusUnauthorized, "auth_invalid", errors.New(msg))
}

func Forbidden(msg string) *Error {
	return New(http.StatusForbidden, "forbidden", errors.New(msg))
}

func NotFound(what string) *Error {
	return New(http.StatusNotFound, "not_found", fmt.Errorf("%s not found", what))
}

func Conflict(msg string) *Error {
	return New(http.StatusConflict, "conflict", errors.New(msg))
}

func TooLarge(msg string) *Error {
	return New(http.StatusRequestEntityTooLarge, "payload_too_large", errors.New(msg))
}

func RateLimited(msg string) *Error {
	return New(http.StatusTooManyRequests, "rate_limited", errors.New(msg))
}

func Internal(err error) *Error {
	return New(http.StatusInternalServerError, "internal", err)
}

// Status resolves the HTTP status for any error, defaulting to 500.
func Status(err error) int {
	var ae *Error
	if errors.As(err, &ae) && ae.Status != 0 {
		return ae.Status
	}
	return http.StatusInternalServerError
}

// Code resolves the machine-readable code for any error.
func Code(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Code != "" {
		return ae.Code
	}
	return "internal"
}
