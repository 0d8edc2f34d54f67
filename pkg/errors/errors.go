// Package errors defines common error types for the application.
package errors

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Error codes for the application.
const (
	CodeUnknown            = "UNKNOWN_ERROR"
	CodeConfigError        = "CONFIG_ERROR"
	CodeDroppedMessage     = "DROPPED_MESSAGE"
	CodeMalformedMessage   = "MALFORMED_MESSAGE"
	CodeSinkFailure        = "SINK_FAILURE"
	CodeInvariantViolation = "INVARIANT_VIOLATION"
	CodeQueueFull          = "QUEUE_FULL"
	CodeAlreadyConfigured  = "ALREADY_CONFIGURED"
	CodeAlreadyStopped     = "ALREADY_STOPPED"
	CodeStorageError       = "STORAGE_ERROR"
	CodeDatabaseError      = "DATABASE_ERROR"
	CodeNotFound           = "NOT_FOUND"
)

// AppError represents an application error with a code and message.
type AppError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError.
func New(code string, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError, attaching a stack
// trace via github.com/pkg/errors so context survives a package
// boundary (config load, destination construction, repository I/O).
// Purely internal bookkeeping on the sampling hot path (dropped or
// malformed messages) never goes through this; it increments an
// atomic counter instead of allocating an error value, since the
// ingestion core must never panic into an application's call site.
func Wrap(code string, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     pkgerrors.WithStack(err),
	}
}

// Common error instances.
var (
	ErrConfigError        = New(CodeConfigError, "configuration error")
	ErrDatabaseError      = New(CodeDatabaseError, "database error")
	ErrStorageError       = New(CodeStorageError, "storage error")
	ErrNotFound           = New(CodeNotFound, "resource not found")
	ErrSinkFailure        = New(CodeSinkFailure, "destination sink failure")
	ErrInvariantViolation = New(CodeInvariantViolation, "call-graph invariant violation")
)

// IsConfigError checks if the error is a configuration error.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrConfigError)
}

// IsDatabaseError checks if the error is a database error.
func IsDatabaseError(err error) bool {
	return errors.Is(err, ErrDatabaseError)
}

// IsSinkFailure checks if the error is a destination sink failure.
func IsSinkFailure(err error) bool {
	return errors.Is(err, ErrSinkFailure)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetErrorMessage extracts the error message from an error.
func GetErrorMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
