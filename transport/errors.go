package transport

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies transport errors.
type ErrorCode int

const (
	// ErrCodeSerialization indicates a body or parameter could not be encoded or decoded.
	ErrCodeSerialization ErrorCode = iota
	// ErrCodeAuthentication indicates the authenticator failed or returned an invalid descriptor.
	ErrCodeAuthentication
	// ErrCodeTransport indicates the network exchange failed before a status code was obtained.
	ErrCodeTransport
	// ErrCodeHTTP indicates a response whose status code is not ok.
	ErrCodeHTTP
)

// String returns the error code name.
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeSerialization:
		return "serialization"
	case ErrCodeAuthentication:
		return "authentication"
	case ErrCodeTransport:
		return "transport"
	case ErrCodeHTTP:
		return "http"
	default:
		return "unknown"
	}
}

// Error is a structured transport error with classification.
type Error struct {
	// Code classifies the error.
	Code ErrorCode
	// StatusCode is the HTTP status code (0 unless Code is ErrCodeHTTP).
	StatusCode int
	// Message describes the error.
	Message string
	// Retryable indicates whether re-issuing the request may succeed.
	Retryable bool
	// Body is the response body of an HTTP error (may be nil).
	Body []byte
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transport: %s (HTTP %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("transport: %s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewSerializationError creates a serialization error. It is never retryable.
func NewSerializationError(err error) *Error {
	return &Error{
		Code:    ErrCodeSerialization,
		Message: err.Error(),
		Err:     err,
	}
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(err error) *Error {
	return &Error{
		Code:    ErrCodeAuthentication,
		Message: err.Error(),
		Err:     err,
	}
}

// NewTransportFailure wraps a network-level failure without reinterpreting it.
func NewTransportFailure(err error) *Error {
	return &Error{
		Code:      ErrCodeTransport,
		Message:   err.Error(),
		Retryable: true,
		Err:       err,
	}
}

// WrapFailure returns err unchanged when it already is an *Error and wraps
// it with NewTransportFailure otherwise. A nil err stays nil.
func WrapFailure(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return NewTransportFailure(err)
}

// NewHTTPError creates the error variant for a response that is not ok.
// 429 and 5xx responses are retryable.
func NewHTTPError(statusCode int, body []byte) *Error {
	return &Error{
		Code:       ErrCodeHTTP,
		StatusCode: statusCode,
		Message:    httpStatusMessage(statusCode),
		Retryable:  IsRetryableStatus(statusCode),
		Body:       body,
	}
}

// IsRetryableStatus reports whether a status code indicates a transient condition.
func IsRetryableStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode >= http.StatusInternalServerError
}

func httpStatusMessage(statusCode int) string {
	if text := http.StatusText(statusCode); text != "" {
		return fmt.Sprintf("HTTP %d %s", statusCode, text)
	}
	return fmt.Sprintf("HTTP %d", statusCode)
}

// IsSerialization checks if an error is a serialization error.
func IsSerialization(err error) bool {
	return hasCode(err, ErrCodeSerialization)
}

// IsAuthentication checks if an error is an authentication error.
func IsAuthentication(err error) bool {
	return hasCode(err, ErrCodeAuthentication)
}

// IsTransportFailure checks if an error is a wrapped network failure.
func IsTransportFailure(err error) bool {
	return hasCode(err, ErrCodeTransport)
}

// IsHTTPError checks if an error is an HTTP status error.
func IsHTTPError(err error) bool {
	return hasCode(err, ErrCodeHTTP)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
