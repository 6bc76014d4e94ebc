package usecase

import (
	"errors"
	"fmt"
)

// ErrorCode classifies stage failures. Validation errors reject with no side
// effects; transient errors propagate so the queue's redelivery retries them;
// permanent errors dead-letter once the attempt ceiling is reached; duplicate
// deliveries are expected under at-least-once and absorbed silently.
type ErrorCode string

const (
	ErrorValidation ErrorCode = "VALIDATION_ERROR"
	ErrorTransient  ErrorCode = "TRANSIENT_IO_ERROR"
	ErrorPermanent  ErrorCode = "PERMANENT_HANDLER_ERROR"
	ErrorDuplicate  ErrorCode = "DUPLICATE_DELIVERY"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf extracts the ErrorCode from err, defaulting to transient so unknown
// failures stay retryable rather than being dropped.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrorTransient
}

// ReasonOf extracts the Reason from err, empty for foreign errors.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}
