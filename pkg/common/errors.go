package common

import (
	"errors"
	"net/http"
)

// Sentinel errors forming the dispatch error taxonomy. Only Validation,
// NotFound, Conflict and Expired are surfaced to request callers; Transient
// errors are retried internally and Fatal errors escalate the run.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("resource not found")
	ErrConflict   = errors.New("resource conflict")
	ErrExpired    = errors.New("deadline passed")
	ErrTransient  = errors.New("transient failure")
	ErrFatal      = errors.New("fatal error")

	ErrUnauthorized   = errors.New("unauthorized")
	ErrInternalServer = errors.New("internal server error")
)

// IsRetryable reports whether the error should be retried with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsFatal reports whether the error must short-circuit a dispatch run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// AppError represents an application error with HTTP status code
type AppError struct {
	Code      int    `json:"code"`
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message"`
	Err       error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes the underlying sentinel for errors.Is checks.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError
func NewAppError(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewNotFoundError(message string) *AppError {
	return &AppError{
		Code:      http.StatusNotFound,
		ErrorCode: "not_found",
		Message:   message,
		Err:       ErrNotFound,
	}
}

func NewConflictError(message string) *AppError {
	return &AppError{
		Code:      http.StatusConflict,
		ErrorCode: "conflict",
		Message:   message,
		Err:       ErrConflict,
	}
}

// NewExpiredError maps expired offers to 410 Gone so vendor apps can
// distinguish a lost race (409) from a missed deadline.
func NewExpiredError(message string) *AppError {
	return &AppError{
		Code:      http.StatusGone,
		ErrorCode: "expired",
		Message:   message,
		Err:       ErrExpired,
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:      http.StatusBadRequest,
		ErrorCode: "validation",
		Message:   message,
		Err:       ErrValidation,
	}
}

func NewBadRequestError(message string, err error) *AppError {
	return &AppError{
		Code:    http.StatusBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternalServerError(message string) *AppError {
	return &AppError{
		Code:    http.StatusInternalServerError,
		Message: message,
		Err:     ErrInternalServer,
	}
}
