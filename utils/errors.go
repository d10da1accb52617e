package utils

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error kinds returned to clients
const (
	KindUnauthenticated  = "unauthenticated"
	KindNotFound         = "not_found"
	KindPermissionDenied = "permission_denied"
	KindInvalidState     = "invalid_state"
	KindValidation       = "validation_error"
	KindUpstream         = "upstream_failure"
	KindNotImplemented   = "not_implemented"
	KindInternal         = "internal"
)

// AppError represents a custom application error
type AppError struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the caller may retry the same request
func (e *AppError) Retryable() bool {
	return e.Kind == KindUpstream
}

// Common error constructors
func NewUnauthenticatedError(message string) *AppError {
	return &AppError{Code: http.StatusUnauthorized, Kind: KindUnauthenticated, Message: message}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:    http.StatusNotFound,
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

func NewPermissionDeniedError(message string) *AppError {
	return &AppError{Code: http.StatusForbidden, Kind: KindPermissionDenied, Message: message}
}

func NewInvalidStateError(message string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Kind: KindInvalidState, Message: message}
}

func NewValidationError(message string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Kind: KindValidation, Message: message}
}

func NewUpstreamError(message string, cause error) *AppError {
	return &AppError{Code: http.StatusBadGateway, Kind: KindUpstream, Message: message, Cause: cause}
}

func NewNotImplementedError(message string) *AppError {
	return &AppError{Code: http.StatusNotImplemented, Kind: KindNotImplemented, Message: message}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{Code: http.StatusInternalServerError, Kind: KindInternal, Message: message, Cause: cause}
}

// IsKind reports whether err carries an AppError of the given kind
func IsKind(err error, kind string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Kind == kind
}

// HandleError sends an appropriate HTTP response for an error
func HandleError(c *gin.Context, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Cause != nil {
			_ = c.Error(appErr.Cause)
		}
		c.AbortWithStatusJSON(appErr.Code, gin.H{"error": appErr.Message, "kind": appErr.Kind})
		return
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "kind": KindInternal})
}

// HandleSuccess sends a success response
func HandleSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// HandleCreated sends a 201 response
func HandleCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}
