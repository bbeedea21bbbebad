package ticketing

import (
	"errors"
	"fmt"
)

// Failure taxonomy shared by every storefront component.
var (
	ErrWalletUnavailable  = errors.New("wallet unavailable")
	ErrUserRejected       = errors.New("user rejected request")
	ErrSignatureRejected  = errors.New("signature rejected")
	ErrTransport          = errors.New("transport error")
	ErrPermissionDenied   = errors.New("camera permission denied")
	ErrNoDevice           = errors.New("no camera device")
	ErrMalformedPayload   = errors.New("malformed qr payload")
	ErrAuthority          = errors.New("verification authority error")
	ErrIncompleteAttempt  = errors.New("verification attempt incomplete")
	ErrSubmissionInFlight = errors.New("verification submission in flight")
	ErrCameraBusy         = errors.New("camera already in use")
	ErrNotStreaming       = errors.New("camera not streaming")
	ErrScanCanceled       = errors.New("qr scan canceled")
	ErrNoSession          = errors.New("no wallet session")
	ErrNotOrganizer       = errors.New("wallet is not an organizer")
)

// Validation errors returned by value constructors.
var (
	ErrInvalidWalletAddress = errors.New("invalid wallet address")
	ErrInvalidTokenID       = errors.New("invalid token id")
	ErrInvalidEventID       = errors.New("invalid event id")
	ErrInvalidMetadataURI   = errors.New("invalid metadata uri")
	ErrInvalidEvidence      = errors.New("invalid evidence")
	ErrInvalidStatus        = errors.New("invalid verification status")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// IsRecoverableLocally reports whether err is a condition the originating
// component resolves through a fallback path rather than a terminal outcome.
func IsRecoverableLocally(err error) bool {
	return errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrNoDevice) ||
		errors.Is(err, ErrMalformedPayload) ||
		errors.Is(err, ErrScanCanceled)
}
