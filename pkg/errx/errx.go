// Package errx provides rich errors with stable machine codes, categories,
// and HTTP status mapping. Each module registers its codes in a Registry so
// every error the gateway emits carries a code a client can switch on.
package errx

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type categorizes an error.
type Type string

const (
	TypeInternal      Type = "INTERNAL"
	TypeValidation    Type = "VALIDATION"
	TypeAuthorization Type = "AUTHORIZATION"
	TypeNotFound      Type = "NOT_FOUND"
	TypeConflict      Type = "CONFLICT"
	TypeRateLimit     Type = "RATE_LIMIT"
	TypeProtocol      Type = "PROTOCOL"
	TypeExternal      Type = "EXTERNAL"
)

func (t Type) String() string { return string(t) }

// Error is the error value used across the gateway.
type Error struct {
	// Code is the stable machine code, e.g. "OAUTH_INVALID_GRANT".
	Code string `json:"code"`

	// Message is the human readable message. For protocol errors this is
	// the safe error_description.
	Message string `json:"message"`

	Type       Type `json:"type"`
	HTTPStatus int  `json:"http_status"`

	// WireCode is the RFC 6749 error code ("invalid_grant", ...) for
	// protocol errors, empty otherwise.
	WireCode string `json:"error,omitempty"`

	// Details carries additional context. Never include credential material.
	Details map[string]any `json:"details,omitempty"`

	Err error `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors by code so sentinel comparisons survive wrapping.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// WithDetail attaches a detail and returns the error for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithMessage overrides the message, keeping code and status.
func (e *Error) WithMessage(message string) *Error {
	e.Message = message
	return e
}

// WithCause records the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

// MarshalJSON renders the error for response bodies.
func (e *Error) MarshalJSON() ([]byte, error) {
	type body struct {
		Code     string         `json:"code"`
		Message  string         `json:"message"`
		Type     string         `json:"type"`
		WireCode string         `json:"error,omitempty"`
		Details  map[string]any `json:"details,omitempty"`
	}
	return json.Marshal(body{
		Code:     e.Code,
		Message:  e.Message,
		Type:     string(e.Type),
		WireCode: e.WireCode,
		Details:  e.Details,
	})
}

// New creates an ad-hoc error without a registered code.
func New(message string, errType Type) *Error {
	return &Error{
		Code:       string(errType),
		Message:    message,
		Type:       errType,
		HTTPStatus: statusFor(errType),
	}
}

// Wrap wraps err with context. A wrapped *Error keeps its code and status.
func Wrap(err error, message string, errType Type) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{
			Code:       existing.Code,
			Message:    message,
			Type:       existing.Type,
			HTTPStatus: existing.HTTPStatus,
			WireCode:   existing.WireCode,
			Details:    existing.Details,
			Err:        err,
		}
	}
	return &Error{
		Code:       string(errType),
		Message:    message,
		Type:       errType,
		HTTPStatus: statusFor(errType),
		Err:        err,
	}
}

// As is a convenience wrapper around errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

func statusFor(t Type) int {
	switch t {
	case TypeValidation, TypeProtocol:
		return 400
	case TypeAuthorization:
		return 401
	case TypeNotFound:
		return 404
	case TypeConflict:
		return 409
	case TypeRateLimit:
		return 429
	case TypeExternal:
		return 502
	default:
		return 500
	}
}
