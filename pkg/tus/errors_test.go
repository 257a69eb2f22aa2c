package tus

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode_HTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeInvalidLength, http.StatusBadRequest},
		{ErrCodeSizeExceeded, http.StatusRequestEntityTooLarge},
		{ErrCodeMetadataParseError, http.StatusBadRequest},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeOffsetConflict, http.StatusConflict},
		{ErrCodeChecksumMismatch, 460},
		{ErrCodeStorageIOError, http.StatusInternalServerError},
		{ErrCodeConcatenationError, http.StatusBadRequest},
		{ErrCodeUnsupportedAlgorithm, http.StatusBadRequest},
		{ErrCodePermissionDenied, http.StatusForbidden},
		{ErrCodeUnsupportedVersion, http.StatusPreconditionFailed},
		{ErrCodeInvalidOffset, http.StatusBadRequest},
		{ErrCodeInvalidContentType, http.StatusUnsupportedMediaType},
		{ErrCodeFinalUploadImmutable, http.StatusForbidden},
		{ErrCodeListenerError, http.StatusInternalServerError},
		{ErrCodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.code.HTTPStatus())
		})
	}
}

func TestError_Wrapping(t *testing.T) {
	t.Parallel()

	cause := errors.New("disk full")
	err := fmt.Errorf("request: %w", wrapError(ErrCodeStorageIOError, "abc", cause, "write chunk"))

	assert.True(t, IsCode(err, ErrCodeStorageIOError))
	assert.False(t, IsCode(err, ErrCodeNotFound))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrCodeStorageIOError, CodeOf(err))
	assert.Equal(t, "request: write chunk: disk full", err.Error())

	assert.Equal(t, ErrCodeInternal, CodeOf(cause))
	assert.Equal(t, ErrCodeNone, CodeOf(nil))
	assert.ErrorIs(t, newError(ErrCodeNotFound, "x", "gone"), ErrNotFound)
	assert.Equal(t, "ErrorCode(99)", ErrorCode(99).String())
}

func TestError_TooLargeStatus(t *testing.T) {
	t.Parallel()

	err := tooLarge("abc", 11, 10)
	assert.True(t, IsCode(err, ErrCodeInvalidLength))
	assert.Equal(t, http.StatusRequestEntityTooLarge, err.HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, newError(ErrCodeInvalidLength, "abc", "negative").HTTPStatus())
	assert.Equal(t, "upload length 11 exceeds maximum size 10", err.Error())
}
