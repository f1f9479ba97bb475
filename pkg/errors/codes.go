package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique identifier for specific error conditions in the bridge.
type ErrorCode int

const (
	ErrCodeUnknown ErrorCode = 1000

	// Configuration: fail fast, never retried
	ErrCodeConfigInvalid     ErrorCode = 1001
	ErrCodeCredentialInvalid ErrorCode = 1002
	ErrCodeNoTransport       ErrorCode = 1003

	// Transport: enters the reconnect backoff path
	ErrCodeTransportFailed ErrorCode = 2001
	ErrCodeNotConnected    ErrorCode = 2002

	// Protocol
	ErrCodeDecodeFailed ErrorCode = 3001

	// Local store
	ErrCodeStoreRead  ErrorCode = 4001
	ErrCodeStoreWrite ErrorCode = 4002

	// Optional side channels
	ErrCodeEnrichmentFailed ErrorCode = 5001
)

// BridgeError is a custom error type that provides structured error information,
// including an error code, the operation being performed, and the underlying cause.
type BridgeError struct {
	// Code is the specific error code.
	Code ErrorCode
	// Msg is a human-readable description of the error.
	Msg string
	// Operation describes the action being performed when the error occurred.
	Operation string
	// Err is the underlying error that caused this error, if any.
	Err error
}

// Error returns a formatted string representation of the error.
func (e *BridgeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %s (cause: %v)", e.Code, e.Operation, e.Msg, e.Err)
	}
	return fmt.Sprintf("[%d] %s: %s", e.Code, e.Operation, e.Msg)
}

// Unwrap returns the underlying error.
func (e *BridgeError) Unwrap() error {
	return e.Err
}

// New creates a new BridgeError with the specified code, operation, message, and underlying error.
func New(code ErrorCode, op, msg string, err error) error {
	return &BridgeError{
		Code:      code,
		Msg:       msg,
		Operation: op,
		Err:       err,
	}
}

// CodeOf returns the code of the first BridgeError in err's chain, or
// ErrCodeUnknown when there is none.
func CodeOf(err error) ErrorCode {
	var be *BridgeError
	if stderrors.As(err, &be) {
		return be.Code
	}
	return ErrCodeUnknown
}

// IsConfiguration reports whether err is a configuration error. Those are
// surfaced to the caller and must not trigger a reconnect.
func IsConfiguration(err error) bool {
	switch CodeOf(err) {
	case ErrCodeConfigInvalid, ErrCodeCredentialInvalid, ErrCodeNoTransport:
		return true
	}
	return false
}

// Personal.AI order the ending
