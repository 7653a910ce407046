package usecase

import (
	"context"
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrorNotFound           ErrorCode = "NOT_FOUND"
	ErrorDuplicateName      ErrorCode = "DUPLICATE_NAME"
	ErrorGenerationFailed   ErrorCode = "GENERATION_FAILED"
	ErrorCaptureFailed      ErrorCode = "CAPTURE_FAILED"
	ErrorDeliveryFailed     ErrorCode = "DELIVERY_FAILED"
	ErrorCausalityInversion ErrorCode = "CAUSALITY_INVERSION"
	ErrorCapabilityFailed   ErrorCode = "CAPABILITY_FAILED"
	ErrorInternal           ErrorCode = "INTERNAL_ERROR"
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

// NewError builds an Error for callers outside the package, such as the
// pipeline classifying capture and delivery failures.
func NewError(code ErrorCode, reason string, err error) *Error {
	return newError(code, reason, err)
}

// HasCode reports whether err carries an *Error with the given code.
func HasCode(err error, code ErrorCode) bool {
	var ue *Error
	return errors.As(err, &ue) && ue.Code == code
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

// generationError classifies a failed or empty generation step.
func generationError(step string, err error) *Error {
	if err == nil {
		return newError(ErrorGenerationFailed, step+"_empty", nil)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(ErrorGenerationFailed, step+"_timeout", err)
	}
	if status, ok := upstreamStatusCode(err); ok && status == 429 {
		return newError(ErrorGenerationFailed, step+"_rate_limited", err)
	}
	return newError(ErrorGenerationFailed, step+"_error", err)
}
