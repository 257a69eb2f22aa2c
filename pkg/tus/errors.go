// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package tus

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusChecksumMismatch is the tus checksum extension's status code.
const StatusChecksumMismatch = 460

// Error codes for protocol operations
type ErrorCode int

const (
	ErrCodeNone ErrorCode = iota
	ErrCodeInvalidLength
	ErrCodeSizeExceeded
	ErrCodeMetadataParseError
	ErrCodeNotFound
	ErrCodeOffsetConflict
	ErrCodeChecksumMismatch
	ErrCodeStorageIOError
	ErrCodeConcatenationError
	ErrCodeUnsupportedAlgorithm
	ErrCodePermissionDenied
	ErrCodeUnsupportedVersion
	ErrCodeInvalidOffset
	ErrCodeInvalidContentType
	ErrCodeFinalUploadImmutable
	ErrCodeListenerError
	ErrCodeInternal
)

var codeNames = map[ErrorCode]string{
	ErrCodeNone:                 "None",
	ErrCodeInvalidLength:        "InvalidLength",
	ErrCodeSizeExceeded:         "SizeExceeded",
	ErrCodeMetadataParseError:   "MetadataParseError",
	ErrCodeNotFound:             "NotFound",
	ErrCodeOffsetConflict:       "OffsetConflict",
	ErrCodeChecksumMismatch:     "ChecksumMismatch",
	ErrCodeStorageIOError:       "StorageIOError",
	ErrCodeConcatenationError:   "ConcatenationError",
	ErrCodeUnsupportedAlgorithm: "UnsupportedAlgorithm",
	ErrCodePermissionDenied:     "PermissionDenied",
	ErrCodeUnsupportedVersion:   "UnsupportedVersion",
	ErrCodeInvalidOffset:        "InvalidOffset",
	ErrCodeInvalidContentType:   "InvalidContentType",
	ErrCodeFinalUploadImmutable: "FinalUploadImmutable",
	ErrCodeListenerError:        "ListenerError",
	ErrCodeInternal:             "Internal",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// HTTPStatus maps a code to its response status
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrCodeInvalidLength, ErrCodeMetadataParseError, ErrCodeConcatenationError,
		ErrCodeUnsupportedAlgorithm, ErrCodeInvalidOffset:
		return http.StatusBadRequest
	case ErrCodeSizeExceeded:
		return http.StatusRequestEntityTooLarge
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeOffsetConflict:
		return http.StatusConflict
	case ErrCodeChecksumMismatch:
		return StatusChecksumMismatch
	case ErrCodePermissionDenied, ErrCodeFinalUploadImmutable:
		return http.StatusForbidden
	case ErrCodeUnsupportedVersion:
		return http.StatusPreconditionFailed
	case ErrCodeInvalidContentType:
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}

// Error is returned by every Handler operation
type Error struct {
	Code     ErrorCode
	Message  string
	UploadID string
	Err      error

	// status overrides the code's default response status
	status int
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same code, so the package sentinels
// work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// HTTPStatus returns the response status for the error
func (e *Error) HTTPStatus() int {
	if e.status != 0 {
		return e.status
	}
	return e.Code.HTTPStatus()
}

// Sentinels for errors.Is
var (
	ErrNotFound         = &Error{Code: ErrCodeNotFound, Message: "upload not found"}
	ErrOffsetConflict   = &Error{Code: ErrCodeOffsetConflict, Message: "offset conflict"}
	ErrChecksumMismatch = &Error{Code: ErrCodeChecksumMismatch, Message: "checksum mismatch"}
	ErrPermission       = &Error{Code: ErrCodePermissionDenied, Message: "permission denied"}
)

func newError(code ErrorCode, id string, format string, args ...any) *Error {
	return &Error{Code: code, UploadID: id, Message: fmt.Sprintf(format, args...)}
}

// tooLarge is an InvalidLength error for a length over the configured
// maximum. tus answers those with 413.
func tooLarge(id string, length, max int64) *Error {
	e := newError(ErrCodeInvalidLength, id, "upload length %d exceeds maximum size %d", length, max)
	e.status = http.StatusRequestEntityTooLarge
	return e
}

func wrapError(code ErrorCode, id string, err error, message string) *Error {
	return &Error{Code: code, UploadID: id, Message: message, Err: err}
}

// IsCode reports whether err is a *Error carrying code.
func IsCode(err error, code ErrorCode) bool {
	var te *Error
	return errors.As(err, &te) && te.Code == code
}

// CodeOf returns the code of err, ErrCodeInternal for foreign errors and
// ErrCodeNone for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeNone
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return ErrCodeInternal
}

// asError coerces err into a *Error, wrapping foreign errors as Internal
func asError(err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return &Error{Code: ErrCodeInternal, Message: "internal error", Err: err}
}
