package types

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"mercator-hq/tollgate/pkg/limits"
	"mercator-hq/tollgate/pkg/limits/quota"
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	// Error contains the error details.
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains detailed error information.
type ErrorDetail struct {
	// Message is a human-readable error message.
	Message string `json:"message"`

	// Type categorizes the error.
	Type string `json:"type"`

	// Code is a machine-readable error code.
	Code string `json:"code,omitempty"`
}

// Error type constants.
const (
	// ErrorTypeInvalidRequest indicates a client-side error (400).
	ErrorTypeInvalidRequest = "invalid_request_error"

	// ErrorTypeQuotaExceeded indicates an exhausted daily quota (403).
	ErrorTypeQuotaExceeded = "quota_exceeded"

	// ErrorTypeNotFound indicates a resource was not found (404).
	ErrorTypeNotFound = "not_found"

	// ErrorTypeRateLimitExceeded indicates too many requests (429).
	ErrorTypeRateLimitExceeded = "rate_limit_exceeded"

	// ErrorTypeServerError indicates an internal server error (500).
	ErrorTypeServerError = "server_error"

	// ErrorTypeServiceUnavailable indicates the quota store is unreachable (503).
	ErrorTypeServiceUnavailable = "service_unavailable"

	// ErrorTypeGatewayTimeout indicates the request ran out of time (504).
	ErrorTypeGatewayTimeout = "gateway_timeout"
)

// Error code constants for common error scenarios.
const (
	CodeMissingField    = "missing_field"
	CodeInvalidJSON     = "invalid_json"
	CodeUnknownLimiter  = "unknown_limiter"
	CodeUnknownFeature  = "unknown_feature"
	CodeUnknownTier     = "unknown_tier"
	CodeMissingIdentity = "missing_identity"
	CodeInternalError   = "internal_error"
	CodeTimeout         = "timeout"
)

// NewErrorResponse creates a new error response with the given details.
func NewErrorResponse(message, errorType, code string) *ErrorResponse {
	return &ErrorResponse{
		Error: ErrorDetail{
			Message: message,
			Type:    errorType,
			Code:    code,
		},
	}
}

// NewInvalidRequestError creates an error response for invalid requests (400).
func NewInvalidRequestError(message, code string) *ErrorResponse {
	return NewErrorResponse(message, ErrorTypeInvalidRequest, code)
}

// NewServerError creates an error response for internal server errors (500).
func NewServerError(message string) *ErrorResponse {
	return NewErrorResponse(message, ErrorTypeServerError, CodeInternalError)
}

// NewGatewayTimeoutError creates an error response for timed out requests (504).
func NewGatewayTimeoutError(message string) *ErrorResponse {
	return NewErrorResponse(message, ErrorTypeGatewayTimeout, CodeTimeout)
}

// HTTPStatusCode returns the appropriate HTTP status code for the error type.
func (e *ErrorDetail) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeQuotaExceeded:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrorTypeServiceUnavailable:
		return http.StatusServiceUnavailable
	case ErrorTypeGatewayTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// QuotaExceededResponse is the 403 body of a quota denial.
type QuotaExceededResponse struct {
	ErrorResponse
	Feature string    `json:"feature"`
	Used    int64     `json:"used"`
	Limit   int64     `json:"limit"`
	ResetAt time.Time `json:"reset_at"`
}

// NewQuotaExceededResponse describes e.
func NewQuotaExceededResponse(e *quota.ExceededError) *QuotaExceededResponse {
	return &QuotaExceededResponse{
		ErrorResponse: *NewErrorResponse(e.Error(), ErrorTypeQuotaExceeded, ErrorTypeQuotaExceeded),
		Feature:       e.Feature,
		Used:          e.Used,
		Limit:         e.Limit,
		ResetAt:       e.ResetAt,
	}
}

// RateLimitedResponse is the 429 body of a rate limit denial.
type RateLimitedResponse struct {
	ErrorResponse
	Limiter    string `json:"limiter"`
	RetryAfter int64  `json:"retry_after_seconds"`
}

// NewRateLimitedResponse describes a denied rate limit check.
func NewRateLimitedResponse(info *limits.RateLimitInfo) *RateLimitedResponse {
	return &RateLimitedResponse{
		ErrorResponse: *NewErrorResponse("Too many requests, please try again later.", ErrorTypeRateLimitExceeded, ErrorTypeRateLimitExceeded),
		Limiter:       info.Limiter,
		RetryAfter:    retryAfterSeconds(info.RetryAfter),
	}
}

// FromError maps an engine or quota error to its response. Unrecognized
// errors become a generic 500 so their text is never exposed.
func FromError(err error) *ErrorResponse {
	switch {
	case errors.Is(err, quota.ErrServiceUnavailable):
		return NewErrorResponse("Quota service is temporarily unavailable.", ErrorTypeServiceUnavailable, "")
	case errors.Is(err, limits.ErrUnknownLimiter):
		return NewErrorResponse(err.Error(), ErrorTypeNotFound, CodeUnknownLimiter)
	case errors.Is(err, quota.ErrUnknownFeature):
		return NewInvalidRequestError(err.Error(), CodeUnknownFeature)
	case errors.Is(err, quota.ErrUnknownTier):
		return NewInvalidRequestError(err.Error(), CodeUnknownTier)
	case errors.Is(err, limits.ErrMissingIdentity),
		errors.Is(err, limits.ErrMissingSubject),
		errors.Is(err, quota.ErrInvalidSubject):
		return NewInvalidRequestError(err.Error(), CodeMissingIdentity)
	default:
		return NewServerError("An internal error occurred. Please try again later.")
	}
}

// WriteJSON writes v as the JSON body with status code.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes resp with the status its type maps to.
func WriteError(w http.ResponseWriter, resp *ErrorResponse) {
	WriteJSON(w, resp.Error.HTTPStatusCode(), resp)
}

// WriteDenial writes the 429 or 403 response of a denied admission.
func WriteDenial(w http.ResponseWriter, result *limits.Result) {
	if result.Reason == limits.ReasonQuota {
		WriteJSON(w, http.StatusForbidden, NewQuotaExceededResponse(result.Exceeded))
		return
	}
	WriteJSON(w, http.StatusTooManyRequests, NewRateLimitedResponse(result.RateLimit))
}
