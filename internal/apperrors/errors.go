package apperrors

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates that a requested resource could not be found.
var ErrNotFound = errors.New("resource not found")

// ErrValidation indicates that input data failed validation checks.
var ErrValidation = errors.New("validation error")

// ErrConflict indicates that the request conflicts with the current state of
// a resource (e.g. a second in-progress scan session for the same user).
var ErrConflict = errors.New("resource conflict")

// ErrDuplicate indicates that an attempt was made to create a resource that already exists.
var ErrDuplicate = errors.New("resource already exists")

// ErrSessionExpired indicates that a scan session is past its expiry horizon.
// The session and its images are cleaned up before this error is surfaced.
var ErrSessionExpired = errors.New("session expired")

// RetryThrottledError is returned when a manual parse retry is requested
// inside the cooldown window. WaitSeconds tells the caller how long to wait.
type RetryThrottledError struct {
	WaitSeconds int
}

func (e *RetryThrottledError) Error() string {
	return fmt.Sprintf("retry throttled, wait %d seconds", e.WaitSeconds)
}

// NewRetryThrottledError creates a RetryThrottledError with the given wait hint.
func NewRetryThrottledError(waitSeconds int) *RetryThrottledError {
	return &RetryThrottledError{WaitSeconds: waitSeconds}
}
