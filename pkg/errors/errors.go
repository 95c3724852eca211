package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to API consumers.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// WithMessage returns a copy of the AppError with a replacement message.
func (e *AppError) WithMessage(message string) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Message = message
	return &cpy
}

// Common errors exposed to the rest of the application.
var (
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "Permission denied",
		StatusCode: http.StatusForbidden,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}

	// ErrReferenceNotFound covers sessions created against a missing catalog entity.
	ErrReferenceNotFound = &AppError{
		Code:       "REFERENCE_NOT_FOUND",
		Message:    "Referenced course, project or internship does not exist",
		StatusCode: http.StatusNotFound,
	}

	// ErrInvalidTransition marks lifecycle preconditions that do not hold.
	ErrInvalidTransition = &AppError{
		Code:       "INVALID_TRANSITION",
		Message:    "Session is not in a state that allows this operation",
		StatusCode: http.StatusConflict,
	}

	// ErrSessionNotLive rejects presence operations against non-live sessions.
	ErrSessionNotLive = &AppError{
		Code:       "SESSION_NOT_LIVE",
		Message:    "Session is not live",
		StatusCode: http.StatusConflict,
	}

	// ErrCannotDeleteLive rejects deletion of a session that is currently live.
	ErrCannotDeleteLive = &AppError{
		Code:       "CANNOT_DELETE_LIVE",
		Message:    "Cannot delete a live session, end it first",
		StatusCode: http.StatusConflict,
	}

	// ErrCannotRevokeCurrentDevice forces the caller to use logout for its own device.
	ErrCannotRevokeCurrentDevice = &AppError{
		Code:       "CANNOT_REVOKE_CURRENT_DEVICE",
		Message:    "Cannot revoke current device, use logout instead",
		StatusCode: http.StatusBadRequest,
	}

	// ErrDeviceIDRequired is returned when the x-device-id header is missing.
	ErrDeviceIDRequired = &AppError{
		Code:       "DEVICE_ID_REQUIRED",
		Message:    "Device ID header (x-device-id) is required",
		StatusCode: http.StatusBadRequest,
	}

	// ErrPersistence surfaces store failures as retryable to the caller.
	ErrPersistence = &AppError{
		Code:       "PERSISTENCE_ERROR",
		Message:    "Storage temporarily unavailable, retry the request",
		StatusCode: http.StatusServiceUnavailable,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest wraps validation errors with a helpful message.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrBadRequest.Code,
		Message:    message,
		StatusCode: ErrBadRequest.StatusCode,
	}
}
