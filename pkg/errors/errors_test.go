package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	assert.Equal(t, "INVALID_INPUT: test error", err.Error())
}

func TestAppError_WithCause(t *testing.T) {
	originalErr := errors.New("original error")
	err := WrapError(originalErr, ErrCodeInternal, "wrapped error", 500)

	assert.Equal(t, originalErr, err.Cause)
	assert.Contains(t, err.Error(), "original error")
	assert.ErrorIs(t, err, originalErr)
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	err.WithContext("field", "value").WithContext("count", 42)

	assert.Equal(t, "value", err.Context["field"])
	assert.Equal(t, 42, err.Context["count"])
}

func TestStatusFor(t *testing.T) {
	cases := map[ErrorCode]int{
		ErrCodeNotAuthorized:          http.StatusForbidden,
		ErrCodeStreamNotLive:          http.StatusConflict,
		ErrCodeAlreadyLive:            http.StatusConflict,
		ErrCodeStreamFull:             http.StatusConflict,
		ErrCodeInvalidMetrics:         http.StatusBadRequest,
		ErrCodeInvalidRoute:           http.StatusBadRequest,
		ErrCodeRecordingAlreadyActive: http.StatusConflict,
		ErrCodeRecordingNotActive:     http.StatusConflict,
		ErrCodeParticipantNotFound:    http.StatusNotFound,
		ErrCodeUnauthorized:           http.StatusUnauthorized,
		ErrorCode("SOMETHING_ELSE"):   http.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, StatusFor(code), code)
	}
}

func TestConstructors(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, NewInvalidInputError("bad").HTTPStatus)

	notFound := NewNotFoundError("stream")
	assert.Equal(t, ErrCodeNotFound, notFound.Code)
	assert.Equal(t, "stream not found", notFound.Message)
	assert.Equal(t, http.StatusNotFound, notFound.HTTPStatus)

	assert.Equal(t, http.StatusTooManyRequests, NewRateLimitError().HTTPStatus)
	assert.Equal(t, http.StatusServiceUnavailable, NewServiceUnavailableError("down").HTTPStatus)

	full := Wrap(errors.New("capacity 30 reached"), ErrCodeStreamFull, "stream is full")
	assert.Equal(t, http.StatusConflict, full.HTTPStatus)
}

func TestIsAppError(t *testing.T) {
	assert.True(t, IsAppError(New(ErrCodeInvalidInput, "test")))
	assert.False(t, IsAppError(errors.New("regular error")))
}

func TestGetAppError(t *testing.T) {
	appErr := New(ErrCodeStreamFull, "full")

	assert.Same(t, appErr, GetAppError(appErr))

	wrapped := fmt.Errorf("join failed: %w", appErr)
	got := GetAppError(wrapped)
	require.NotNil(t, got)
	assert.Equal(t, ErrCodeStreamFull, got.Code)

	assert.Nil(t, GetAppError(errors.New("regular error")))
	assert.Nil(t, GetAppError(nil))
}
