package ticketing

import (
	"errors"
	"fmt"
	"testing"
)

const (
	operationName    = "verify"
	subjectName      = "payload"
	codeName         = "malformed"
	baseErrorMessage = "base error"
)

func TestOperationErrorFormatting(test *testing.T) {
	test.Parallel()
	baseError := errors.New(baseErrorMessage)
	wrappedError := WrapError(operationName, subjectName, codeName, baseError)
	if wrappedError == nil {
		test.Fatalf("expected wrapped error")
	}
	expected := operationName + "." + subjectName + "." + codeName + ": " + baseErrorMessage
	if wrappedError.Error() != expected {
		test.Fatalf("expected %q, got %q", expected, wrappedError.Error())
	}
	var operationError OperationError
	if !errors.As(wrappedError, &operationError) || operationError.Code() != codeName {
		test.Fatalf("expected OperationError with code %q, got %v", codeName, wrappedError)
	}
}

func TestWrapErrorNil(test *testing.T) {
	test.Parallel()
	if WrapError(operationName, subjectName, codeName, nil) != nil {
		test.Fatalf("expected nil wrapped error")
	}
}

func TestIsRecoverableLocally(test *testing.T) {
	test.Parallel()
	recoverable := []error{
		ErrPermissionDenied,
		fmt.Errorf("open: %w", ErrNoDevice),
		WrapError(OperationQRManual, subjectName, codeName, ErrMalformedPayload),
		ErrScanCanceled,
	}
	for _, err := range recoverable {
		if !IsRecoverableLocally(err) {
			test.Fatalf("expected %v to be recoverable", err)
		}
	}
	for _, err := range []error{ErrTransport, ErrAuthority, ErrSignatureRejected} {
		if IsRecoverableLocally(err) {
			test.Fatalf("expected %v to be terminal", err)
		}
	}
}
