// Package errors provides custom error types and error handling utilities.
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error codes.
const (
	// Client errors (4xx).
	CodeValidation     = "VALIDATION_ERROR"
	CodeTenantMissing  = "TENANT_MISSING"
	CodeNotFound       = "NOT_FOUND"
	CodeRateLimited    = "RATE_LIMITED"
	CodeBudgetExceeded = "BUDGET_EXCEEDED"
	CodeInvalidRequest = "INVALID_REQUEST"

	// Server errors (5xx).
	CodeInternal      = "INTERNAL_ERROR"
	CodeUnavailable   = "SERVICE_UNAVAILABLE"
	CodeTimeout       = "TIMEOUT"
	CodeStoreError    = "STORE_ERROR"
	CodeEmbedderError = "EMBEDDER_ERROR"
	CodeLLMError      = "LLM_ERROR"
	CodeQueueFull     = "QUEUE_FULL"
	CodeParseError    = "PARSE_ERROR"
)

// AppError represents an application error with code and details.
type AppError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code for this error.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case CodeValidation, CodeInvalidRequest, CodeTenantMissing:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited, CodeBudgetExceeded:
		return http.StatusTooManyRequests
	case CodeUnavailable, CodeQueueFull:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new AppError.
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with an AppError.
func Wrap(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetail adds a single detail to the error.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Convenience constructors.

// ValidationError creates a validation error.
func ValidationError(message string) *AppError {
	return New(CodeValidation, message)
}

// TenantMissingError creates the error returned when a query or document
// carries no tenant id.
func TenantMissingError() *AppError {
	return New(CodeTenantMissing, "org_id is required for tenant isolation")
}

// StoreError creates a vector store error. The underlying error is kept for
// logging but never serialized to callers.
func StoreError(message string, err error) *AppError {
	return Wrap(CodeStoreError, message, err)
}

// EmbedderError creates an embedding failure error.
func EmbedderError(message string, err error) *AppError {
	return Wrap(CodeEmbedderError, message, err)
}

// LLMError creates an LLM provider error.
func LLMError(message string, err error) *AppError {
	return Wrap(CodeLLMError, message, err)
}

// QueueFullError creates the backpressure error raised by the batch queue.
func QueueFullError(size int) *AppError {
	return New(CodeQueueFull, "batch queue is full").
		WithDetail("max_queue_size", fmt.Sprintf("%d", size))
}

// RateLimitedError creates a rate limited error with retry information.
func RateLimitedError(retryAfterSeconds int) *AppError {
	err := New(CodeRateLimited, "request rate limit exceeded")
	return err.WithDetail("retry_after", fmt.Sprintf("%d", retryAfterSeconds))
}

// BudgetExceededError creates a cost budget error with retry information.
// retryAfterSeconds of 0 means the request can never succeed.
func BudgetExceededError(retryAfterSeconds int) *AppError {
	err := New(CodeBudgetExceeded, "cost budget exceeded")
	return err.WithDetail("retry_after", fmt.Sprintf("%d", retryAfterSeconds))
}

// TimeoutError creates a timeout error for a specific operation.
func TimeoutError(operation string) *AppError {
	message := "operation timed out"
	if operation != "" {
		message = fmt.Sprintf("%s timed out", operation)
	}
	return New(CodeTimeout, message)
}

// ParseError creates an event parse error.
func ParseError(message string) *AppError {
	return New(CodeParseError, message)
}

// IsCode checks whether err is an AppError carrying the given code.
func IsCode(err error, code string) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// IsTenantMissing checks if error is a tenant missing error.
func IsTenantMissing(err error) bool {
	return IsCode(err, CodeTenantMissing)
}

// IsQueueFull checks if error is a queue full error.
func IsQueueFull(err error) bool {
	return IsCode(err, CodeQueueFull)
}

// ErrorResponse is the standard JSON error response structure.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// WriteJSON writes a JSON error response to the ResponseWriter.
func WriteJSON(w http.ResponseWriter, status int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Ignore encoding errors - headers already sent
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteError writes an error response with proper sanitization.
// If err is an *AppError, it uses the code and status from the error.
// For other errors, it sanitizes the message to prevent leaking internal details.
func WriteError(w http.ResponseWriter, err error) {
	if appErr, ok := err.(*AppError); ok {
		WriteJSON(w, appErr.HTTPStatus(), ErrorResponse{
			Error:   appErr.Message,
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		})
		return
	}

	// Don't leak internal error details to clients
	WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal server error",
		Code:    CodeInternal,
		Message: "An unexpected error occurred",
	})
}

// WriteErrorWithStatus writes an error with a specific HTTP status code.
// 4xx messages are shown to the client; 5xx messages are sanitized.
func WriteErrorWithStatus(w http.ResponseWriter, status int, err error) {
	if appErr, ok := err.(*AppError); ok {
		WriteJSON(w, status, ErrorResponse{
			Error:   appErr.Message,
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		})
		return
	}

	if status >= 400 && status < 500 {
		WriteJSON(w, status, ErrorResponse{
			Error:   err.Error(),
			Code:    CodeInvalidRequest,
			Message: err.Error(),
		})
		return
	}

	WriteJSON(w, status, ErrorResponse{
		Error:   "internal server error",
		Code:    CodeInternal,
		Message: "An unexpected error occurred",
	})
}
