// Package errors provides standardized error handling for the chat pipeline.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeMissingField     ErrorCode = "MISSING_FIELD"

	ErrCodeClassifierTransportFailed ErrorCode = "CLASSIFIER_TRANSPORT_FAILED"
	ErrCodeClassifierBadResponse     ErrorCode = "CLASSIFIER_BAD_RESPONSE"

	ErrCodeProductNotFound ErrorCode = "PRODUCT_NOT_FOUND"
	ErrCodeOutOfStock      ErrorCode = "OUT_OF_STOCK"
	ErrCodeOrderNotFound   ErrorCode = "ORDER_NOT_FOUND"

	ErrCodeAuthTokenMissing ErrorCode = "AUTH_TOKEN_MISSING"
	ErrCodeAuthTokenInvalid ErrorCode = "AUTH_TOKEN_INVALID"

	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// HTTPStatus maps an error code to the externally-facing status code.
// Out-of-stock is a business outcome, not a server fault, so it stays 200
// and is surfaced in the response body.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeValidationFailed, ErrCodeMissingField:
		return http.StatusBadRequest
	case ErrCodeAuthTokenMissing, ErrCodeAuthTokenInvalid:
		return http.StatusUnauthorized
	case ErrCodeOrderNotFound, ErrCodeProductNotFound:
		return http.StatusNotFound
	case ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeOutOfStock:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// AsStandard extracts a *StandardError from err, or wraps err as a
// non-retryable internal error.
func AsStandard(err error) *StandardError {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr
	}
	return &StandardError{
		Code:      "INTERNAL_ERROR",
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewValidationFailedError creates a non-retryable request validation error.
func NewValidationFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Request validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewMissingFieldError creates a non-retryable error for an absent entity
// the intent requires.
func NewMissingFieldError(field string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMissingField,
		Message:   "Required field could not be determined",
		Details:   fmt.Sprintf("field: %s", field),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewClassifierTransportError creates a retryable upstream transport error.
func NewClassifierTransportError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeClassifierTransportFailed,
		Message:   "Classification service unreachable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewClassifierBadResponseError creates a non-retryable malformed-reply
// error. Retrying the same input would produce the same bad answer.
func NewClassifierBadResponseError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeClassifierBadResponse,
		Message:   "Classifier returned a malformed reply",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewProductNotFoundError creates a non-retryable lookup miss.
func NewProductNotFoundError(name string) *StandardError {
	return &StandardError{
		Code:      ErrCodeProductNotFound,
		Message:   "Product not found",
		Details:   fmt.Sprintf("product: %s", name),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewOutOfStockError creates the insufficient-stock business outcome.
func NewOutOfStockError(name string, requested int) *StandardError {
	return &StandardError{
		Code:      ErrCodeOutOfStock,
		Message:   "Not enough stock to fulfil the order",
		Details:   fmt.Sprintf("product: %s, requested: %d", name, requested),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewAuthTokenMissingError creates a 401-class error for absent credentials.
func NewAuthTokenMissingError() *StandardError {
	return &StandardError{
		Code:      ErrCodeAuthTokenMissing,
		Message:   "Authorization token missing",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewAuthTokenInvalidError creates a 401-class error for rejected credentials.
func NewAuthTokenInvalidError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAuthTokenInvalid,
		Message:   "Authorization token invalid or expired",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewStoreUnavailableError creates a retryable persistence-layer error.
func NewStoreUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStoreUnavailable,
		Message:   "Inventory store unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}
