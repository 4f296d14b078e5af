// Package errors provides error codes shared by the queue, cache and API layers.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a class of failure. Codes are stable and surface in
// API responses and log entries.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Durable store errors
	ErrStorageFailed        ErrorCode = "STORAGE_FAILED"
	ErrStorageQuotaExceeded ErrorCode = "STORAGE_QUOTA_EXCEEDED"
	ErrQueueCorrupt         ErrorCode = "QUEUE_CORRUPT"
	ErrDatabase             ErrorCode = "DATABASE_ERROR"
	ErrMigration            ErrorCode = "MIGRATION_FAILED"

	// Order errors
	ErrOrderInvalid   ErrorCode = "ORDER_INVALID"
	ErrOrderDuplicate ErrorCode = "ORDER_DUPLICATE"

	// Remote order service errors
	ErrRemoteNotConfigured ErrorCode = "REMOTE_NOT_CONFIGURED"
	ErrRemoteUnavailable   ErrorCode = "REMOTE_UNAVAILABLE"
	ErrRemoteRejected      ErrorCode = "REMOTE_REJECTED"

	// Cache controller errors
	ErrCacheMiss         ErrorCode = "CACHE_MISS"
	ErrCacheFailed       ErrorCode = "CACHE_FAILED"
	ErrNetworkFailed     ErrorCode = "NETWORK_FAILED"
	ErrWorkerNotActive   ErrorCode = "WORKER_NOT_ACTIVE"
	ErrWorkerState       ErrorCode = "WORKER_INVALID_STATE"
	ErrInstallIncomplete ErrorCode = "INSTALL_INCOMPLETE"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
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

// Is matches another AppError with the same code. A target with an empty
// message matches any message, so New(code, "") works as a sentinel.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is reports whether any error in err's chain carries the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// CodeOf returns the code of the outermost AppError in err's chain, or
// ErrInternal when there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}
