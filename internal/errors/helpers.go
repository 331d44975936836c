package errors

import (
	"fmt"
	"net/http"
)

// privateContextKeys never leave the process in an error response.
var privateContextKeys = map[string]bool{
	"token":   true,
	"secret":  true,
	"content": true,
	"path":    true,
}

// NewValidationError creates a validation error with field context
func NewValidationError(field, message string) *AppError {
	return New(ErrCodeInvalidInput, message).
		WithContext("field", field).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Database operation failed")
}

// NewAuthError is returned when a request carries no valid credential.
func NewAuthError(reason string) *AppError {
	return New(ErrCodeUnauthenticated, "authentication failed").
		WithContext("reason", reason).
		WithUserMessage("Not authorized, invalid or missing token")
}

// NewForbiddenError is returned when an authenticated user acts on a
// message they have no right to touch.
func NewForbiddenError(action string) *AppError {
	return New(ErrCodeForbidden, fmt.Sprintf("not allowed to %s", action)).
		WithContext("action", action).
		WithUserMessage(fmt.Sprintf("Not authorized to %s", action))
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

func NewUploadError(fileName string, err error) *AppError {
	return Wrap(err, ErrCodeUploadFailed, "file upload failed").
		WithContext("file_name", fileName).
		WithUserMessage("File upload failed")
}

func NewRateLimitError(limit int, window string) *AppError {
	return New(ErrCodeRateLimit, "rate limit exceeded").
		WithContext("limit", limit).
		WithContext("window", window).
		WithUserMessage("Too many requests, please try again later")
}

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case ErrCodeTimeout:
		return http.StatusRequestTimeout
	case ErrCodeUploadFailed:
		return http.StatusBadGateway
	case ErrCodeDatabaseConnection, ErrCodeDatabaseQuery:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the JSON body of every failed API call.
type HTTPErrorResponse struct {
	Success bool `json:"success"`
	Error   struct {
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Context interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{
		RequestID: requestID,
		Retryable: IsRetryable(err),
	}

	appErr, ok := As(err)
	if !ok {
		response.Error.Code = ErrCodeInternalError
		response.Error.Message = GetUserMessage(err)
		return response
	}

	response.Error.Code = appErr.Code
	response.Error.Message = GetUserMessage(err)
	public := make(map[string]interface{}, len(appErr.Context))
	for k, v := range appErr.Context {
		if !privateContextKeys[k] {
			public[k] = v
		}
	}
	if len(public) > 0 {
		response.Error.Context = public
	}
	return response
}
