package core

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTokenNotFound is returned by a TokenStore that holds no token.
	ErrTokenNotFound = errors.New("operlog: token not found")
	// ErrNotFound matches (errors.Is) any ServerError with a 404 status.
	ErrNotFound = errors.New("operlog: not found")
	// ErrInvalidArgument is returned before any request is made when a required
	// argument is missing.
	ErrInvalidArgument = errors.New("operlog: invalid argument")
)

// AuthenticationError means the server would not accept our credentials or
// token, even after a renewal.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("operlog: authentication failed: %s: %s", e.Reason, e.Err.Error())
	}
	return fmt.Sprintf("operlog: authentication failed: %s", e.Reason)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// TransportError wraps a failure to get any response at all (connection
// refused, timeout, dns...).
type TransportError struct {
	Method   Method
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("operlog: %s %s: %s", e.Method, e.Endpoint, e.Err.Error())
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ServerError is a response whose status code was not the one the operation
// expects.
type ServerError struct {
	Method     Method
	Endpoint   string
	StatusCode int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf(
		"operlog: %s %s: unexpected status %d %s",
		e.Method, e.Endpoint, e.StatusCode, http.StatusText(e.StatusCode),
	)
}

func (e *ServerError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

func (e *ServerError) Is(target error) bool {
	return target == ErrNotFound && e.NotFound()
}

// ParseError means a response did not have the shape we rely on, for the html
// history view this usually means the markup changed.
type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("operlog: parse %s: %s", e.What, e.Err.Error())
	}
	return fmt.Sprintf("operlog: parse %s", e.What)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// MalformedDateError describes a date input that matched none of the accepted
// forms. It is informational, callers substitute a fallback instant.
type MalformedDateError struct {
	Input string
	Err   error
}

func (e *MalformedDateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("operlog: malformed date %q: %s", e.Input, e.Err.Error())
	}
	return fmt.Sprintf("operlog: malformed date %q", e.Input)
}

func (e *MalformedDateError) Unwrap() error {
	return e.Err
}
