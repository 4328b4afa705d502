package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode string

// Error codes shared by the 2FA packages
const (
	// Generic errors
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"

	// Malformed input shape, rejected before any secret computation
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// Code or credential mismatch. The message must stay generic.
	ErrCodeAuthFailed ErrorCode = "AUTH_FAILED"

	// Pending login or reset code past its TTL, the flow must restart
	ErrCodeExpiredState ErrorCode = "EXPIRED_STATE"

	// Account store unreachable, retryable
	ErrCodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"

	// QR rendering failure, non-fatal
	ErrCodeProvisioningFailed ErrorCode = "PROVISIONING_FAILED"
)

// Error represents a structured error with code, message, and optional details
type Error struct {
	Code    ErrorCode              // Unique error code
	Message string                 // Human-readable error message
	Details map[string]interface{} // Optional additional details
	Err     error                  // Wrapped underlying error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail adds a detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *Error) HTTPStatusCode() int {
	return MapErrorCodeToHTTPStatus(e.Code)
}

// New creates a new Error with the given code and message
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with code and message
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error
// Returns ErrCodeInternal if the error is not a structured Error
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// IsRetryable reports whether the caller may retry the same request later.
func IsRetryable(err error) bool {
	return IsCode(err, ErrCodeStorageUnavailable)
}

// MapErrorCodeToHTTPStatus maps error codes to HTTP status codes
func MapErrorCodeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeValidationFailed:
		return http.StatusBadRequest

	case ErrCodeUnauthorized, ErrCodeAuthFailed:
		return http.StatusUnauthorized

	case ErrCodeForbidden:
		return http.StatusForbidden

	case ErrCodeNotFound:
		return http.StatusNotFound

	case ErrCodeConflict:
		return http.StatusConflict

	case ErrCodeExpiredState:
		return http.StatusGone

	case ErrCodeStorageUnavailable:
		return http.StatusServiceUnavailable

	case ErrCodeProvisioningFailed, ErrCodeInternal:
		fallthrough
	default:
		return http.StatusInternalServerError
	}
}

// Validation creates a "validation failed" error
func Validation(message string) *Error {
	return New(ErrCodeValidationFailed, message)
}

// AuthFailed creates an authentication failure with a generic message
func AuthFailed() *Error {
	return New(ErrCodeAuthFailed, "invalid code")
}

// Expired creates an "expired state" error
func Expired(message string) *Error {
	return New(ErrCodeExpiredState, message)
}

// StorageUnavailable wraps a store error as retryable
func StorageUnavailable(err error) *Error {
	return Wrap(err, ErrCodeStorageUnavailable, "account store unavailable")
}

// ProvisioningFailed wraps a QR rendering error
func ProvisioningFailed(err error) *Error {
	return Wrap(err, ErrCodeProvisioningFailed, "failed to render provisioning payload")
}

// InternalWrap wraps an internal error
func InternalWrap(err error, message string) *Error {
	return Wrap(err, ErrCodeInternal, message)
}

// Public returns the HTTP status and a message that is safe to show a client.
// Storage and internal failures never expose their cause.
func Public(err error) (int, string) {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError, "internal server error"
	}
	switch e.Code {
	case ErrCodeStorageUnavailable:
		return http.StatusServiceUnavailable, "service temporarily unavailable, please retry"
	case ErrCodeInternal:
		return http.StatusInternalServerError, "internal server error"
	}
	return e.HTTPStatusCode(), e.Message
}
