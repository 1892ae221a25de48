package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/trail-importer/internal/types"
)

// ErrorCategory groups failures by the layer that produced them
type ErrorCategory string

const (
	CategorySystem     ErrorCategory = "system"
	CategoryProvider   ErrorCategory = "provider"
	CategoryDatabase   ErrorCategory = "database"
	CategoryCache      ErrorCategory = "cache"
	CategoryValidation ErrorCategory = "validation"
	CategoryNotFound   ErrorCategory = "not_found"
	CategoryConflict   ErrorCategory = "conflict"
	CategoryRateLimit  ErrorCategory = "rate_limit"
	// CategoryJob is an import job that could not run at all
	CategoryJob ErrorCategory = "job"
)

// CategorizedError is what the API layer renders: a stable code, an HTTP status and
// details safe to show a client. Cause is logged, never returned.
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

func newCategorized(category ErrorCategory, status int, code, message string, cause error, details map[string]interface{}) *CategorizedError {
	return &CategorizedError{
		Category:   category,
		StatusCode: status,
		Code:       code,
		Message:    message,
		Details:    details,
		Cause:      cause,
	}
}

// NewInvalidParameterError rejects an import config or query parameter
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return newCategorized(CategoryValidation, http.StatusBadRequest, "INVALID_PARAMETER",
		fmt.Sprintf("invalid parameter '%s': %s", param, reason), nil,
		map[string]interface{}{"parameter": param, "reason": reason})
}

// NewNotFoundError reports a missing job or trail
func NewNotFoundError(resource string, id string) *CategorizedError {
	return newCategorized(CategoryNotFound, http.StatusNotFound, "NOT_FOUND",
		fmt.Sprintf("%s not found: %s", resource, id), nil,
		map[string]interface{}{"resource": resource, "id": id})
}

// NewConflictError reports a job whose state forbids the request
func NewConflictError(message string) *CategorizedError {
	return newCategorized(CategoryConflict, http.StatusConflict, "CONFLICT", message, nil, nil)
}

// NewRateLimitError is returned to an API client that exhausted its bucket
func NewRateLimitError(retryAfter int) *CategorizedError {
	return newCategorized(CategoryRateLimit, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED",
		"rate limit exceeded", nil, map[string]interface{}{"retryAfter": retryAfter})
}

// NewDatabaseError wraps a failed repository operation such as "get import job"
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return newCategorized(CategoryDatabase, http.StatusInternalServerError, "DATABASE_ERROR",
		fmt.Sprintf("database error during %s", operation), cause,
		map[string]interface{}{"operation": operation})
}

// NewCacheError wraps a failed job-status cache read or write
func NewCacheError(operation string, cause error) *CategorizedError {
	return newCategorized(CategoryCache, http.StatusInternalServerError, "CACHE_ERROR",
		fmt.Sprintf("cache error during %s", operation), cause,
		map[string]interface{}{"operation": operation})
}

// NewProviderError wraps any failure of an upstream trail source
func NewProviderError(provider string, cause error) *CategorizedError {
	return newCategorized(CategoryProvider, http.StatusBadGateway, "PROVIDER_ERROR",
		fmt.Sprintf("trail source error: %s", provider), cause,
		map[string]interface{}{"provider": provider})
}

// NewProviderTimeoutError is a source that did not answer within the request timeout
func NewProviderTimeoutError(provider string, cause error) *CategorizedError {
	return newCategorized(CategoryProvider, http.StatusGatewayTimeout, "PROVIDER_TIMEOUT",
		fmt.Sprintf("trail source timeout: %s", provider), cause,
		map[string]interface{}{"provider": provider})
}

// NewProviderRateLimitError is a source that kept answering 429
func NewProviderRateLimitError(provider string, cause error) *CategorizedError {
	return newCategorized(CategoryProvider, http.StatusTooManyRequests, "PROVIDER_RATE_LIMIT",
		fmt.Sprintf("trail source rate limit exceeded: %s", provider), cause,
		map[string]interface{}{"provider": provider})
}

// Categorize finds the outermost categorized error in err's chain, mapping pipeline
// errors onto the taxonomy. Anything else is an internal error.
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr
	}

	var fatal *JobFatalError
	if errors.As(err, &fatal) {
		return newCategorized(CategoryJob, http.StatusUnprocessableEntity, "JOB_FATAL", fatal.Message, fatal.Cause,
			map[string]interface{}{"jobId": fatal.JobID, "reason": string(types.ReasonFatal)})
	}

	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return NewProviderError(string(fetchErr.Source), fetchErr.Cause)
	}

	return newCategorized(CategorySystem, http.StatusInternalServerError, "INTERNAL_ERROR", "unexpected error", err, nil)
}

// GetHTTPStatusCode returns the status an API response for err should carry
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsUserError reports whether err is the caller's fault (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.StatusCode >= 400 && catErr.StatusCode < 500
}

// IsNotFound reports whether err categorizes as a missing resource
func IsNotFound(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == CategoryNotFound
}
