package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// Session coordination
	ErrCodeNotAuthorized          ErrorCode = "NOT_AUTHORIZED"
	ErrCodeStreamNotLive          ErrorCode = "STREAM_NOT_LIVE"
	ErrCodeAlreadyLive            ErrorCode = "ALREADY_LIVE"
	ErrCodeStreamFull             ErrorCode = "STREAM_FULL"
	ErrCodeInvalidMetrics         ErrorCode = "INVALID_METRICS"
	ErrCodeInvalidRoute           ErrorCode = "INVALID_ROUTE"
	ErrCodeRecordingAlreadyActive ErrorCode = "RECORDING_ALREADY_ACTIVE"
	ErrCodeRecordingNotActive     ErrorCode = "RECORDING_NOT_ACTIVE"
	ErrCodeParticipantNotFound    ErrorCode = "PARTICIPANT_NOT_FOUND"
)

var statusByCode = map[ErrorCode]int{
	ErrCodeInvalidInput:           http.StatusBadRequest,
	ErrCodeNotFound:               http.StatusNotFound,
	ErrCodeUnauthorized:           http.StatusUnauthorized,
	ErrCodeConflict:               http.StatusConflict,
	ErrCodeRateLimit:              http.StatusTooManyRequests,
	ErrCodeInternal:               http.StatusInternalServerError,
	ErrCodeServiceUnavailable:     http.StatusServiceUnavailable,
	ErrCodeNotAuthorized:          http.StatusForbidden,
	ErrCodeStreamNotLive:          http.StatusConflict,
	ErrCodeAlreadyLive:            http.StatusConflict,
	ErrCodeStreamFull:             http.StatusConflict,
	ErrCodeInvalidMetrics:         http.StatusBadRequest,
	ErrCodeInvalidRoute:           http.StatusBadRequest,
	ErrCodeRecordingAlreadyActive: http.StatusConflict,
	ErrCodeRecordingNotActive:     http.StatusConflict,
	ErrCodeParticipantNotFound:    http.StatusNotFound,
}

// StatusFor returns the HTTP status conventionally paired with code.
func StatusFor(code ErrorCode) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates an application error with the status registered for code.
func New(code ErrorCode, message string) *AppError {
	return NewAppError(code, message, StatusFor(code))
}

// Wrap is New with an underlying cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	return WrapError(err, code, message, StatusFor(code))
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

// Common error constructors
func NewInvalidInputError(message string) *AppError {
	return New(ErrCodeInvalidInput, message)
}

func NewNotFoundError(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func NewUnauthorizedError(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func NewConflictError(message string) *AppError {
	return New(ErrCodeConflict, message)
}

func NewRateLimitError() *AppError {
	return New(ErrCodeRateLimit, "rate limit exceeded")
}

func NewInternalError(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func NewServiceUnavailableError(message string) *AppError {
	return New(ErrCodeServiceUnavailable, message)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}
