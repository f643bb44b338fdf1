package errx

import (
	"fmt"
	"sync"
)

// ErrorCode is a registered, stable error code.
type ErrorCode struct {
	Code       string
	Type       Type
	HTTPStatus int
	// WireCode is the RFC 6749 error code for OAuth protocol errors.
	WireCode string
	Message  string
}

// Registry manages the error codes of one module. Codes are prefixed with
// the registry name, e.g. "OAUTH_INVALID_GRANT".
type Registry struct {
	prefix string
	codes  map[string]*ErrorCode
	mu     sync.RWMutex
}

// NewRegistry creates an error registry with a module prefix.
func NewRegistry(prefix string) *Registry {
	return &Registry{
		prefix: prefix,
		codes:  make(map[string]*ErrorCode),
	}
}

// Register registers an error code.
func (r *Registry) Register(code string, errType Type, httpStatus int, message string) *ErrorCode {
	r.mu.Lock()
	defer r.mu.Unlock()

	ec := &ErrorCode{
		Code:       fmt.Sprintf("%s_%s", r.prefix, code),
		Type:       errType,
		HTTPStatus: httpStatus,
		Message:    message,
	}
	r.codes[code] = ec
	return ec
}

// RegisterProtocol registers an OAuth protocol error code with its RFC 6749
// wire code.
func (r *Registry) RegisterProtocol(code, wireCode string, httpStatus int, message string) *ErrorCode {
	ec := r.Register(code, TypeProtocol, httpStatus, message)
	ec.WireCode = wireCode
	return ec
}

// New creates an error from a registered code.
func (r *Registry) New(code *ErrorCode) *Error {
	return &Error{
		Code:       code.Code,
		Message:    code.Message,
		Type:       code.Type,
		HTTPStatus: code.HTTPStatus,
		WireCode:   code.WireCode,
	}
}

// NewWithMessage creates an error from a registered code with a custom message.
func (r *Registry) NewWithMessage(code *ErrorCode, message string) *Error {
	e := r.New(code)
	e.Message = message
	return e
}

// Get retrieves a registered code by its unprefixed name.
func (r *Registry) Get(code string) (*ErrorCode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ec, ok := r.codes[code]
	return ec, ok
}
