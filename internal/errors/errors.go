// Package errors provides the categorized error taxonomy for the vault engine.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/vault-engine/internal/fixedpoint"
	"github.com/vault-engine/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryState represents a transition attempted from the wrong vault status
	CategoryState ErrorCategory = "state"
	// CategoryValuation represents stale or rejected valuations
	CategoryValuation ErrorCategory = "valuation"
	// CategoryArithmetic represents arithmetic guard failures
	CategoryArithmetic ErrorCategory = "arithmetic"
	// CategoryRisk represents loss tolerance violations
	CategoryRisk ErrorCategory = "risk"
	// CategoryAuthorization represents authorization errors
	CategoryAuthorization ErrorCategory = "authorization"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents conflict errors
	CategoryConflict ErrorCategory = "conflict"
	// CategoryValidation represents input validation errors
	CategoryValidation ErrorCategory = "validation"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryCache represents cache errors
	CategoryCache ErrorCategory = "cache"
	// CategoryOracle represents price feed / valuer collaborator errors
	CategoryOracle ErrorCategory = "oracle"
	// CategorySystem represents internal errors
	CategorySystem ErrorCategory = "system"
)

// Stable error codes surfaced on the command interfaces.
const (
	CodeInvalidState          = "INVALID_STATE"
	CodeStaleValuation        = "STALE_VALUATION"
	CodeIncompleteRevaluation = "INCOMPLETE_REVALUATION"
	CodeLossLimitExceeded     = "LOSS_LIMIT_EXCEEDED"
	CodeDivisionByZero        = "DIVISION_BY_ZERO"
	CodeZeroAmount            = "ZERO_AMOUNT"
	CodeValuationRejected     = "VALUATION_REJECTED"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeNotFound              = "NOT_FOUND"
	CodeConflict              = "CONFLICT"
	CodeInvalidParameter      = "INVALID_PARAMETER"
	CodeDatabaseError         = "DATABASE_ERROR"
	CodeCacheError            = "CACHE_ERROR"
	CodeOracleError           = "ORACLE_ERROR"
	CodeInternalError         = "INTERNAL_ERROR"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// State errors

// NewInvalidStateError reports a transition attempted from the wrong vault status
func NewInvalidStateError(current types.VaultStatus, attempted string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryState,
		StatusCode: http.StatusConflict,
		Code:       CodeInvalidState,
		Message:    fmt.Sprintf("cannot %s while vault status is %s", attempted, current),
		Details: map[string]interface{}{
			"status":    string(current),
			"attempted": attempted,
		},
	}
}

// Valuation errors

// NewStaleValuationError reports a ledger entry older than the staleness window
func NewStaleValuationError(typeID types.AssetTypeID, ageMs, maxAgeMs int64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValuation,
		StatusCode: http.StatusConflict,
		Code:       CodeStaleValuation,
		Message:    fmt.Sprintf("valuation for %s is stale (age %dms, max %dms)", typeID, ageMs, maxAgeMs),
		Details: map[string]interface{}{
			"assetType": string(typeID),
			"ageMs":     ageMs,
			"maxAgeMs":  maxAgeMs,
		},
	}
}

// NewValuationRejectedError reports an unhealthy position the valuer refuses to value
func NewValuationRejectedError(typeID types.AssetTypeID, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValuation,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       CodeValuationRejected,
		Message:    fmt.Sprintf("valuation rejected for %s: %s", typeID, reason),
		Details: map[string]interface{}{
			"assetType": string(typeID),
			"reason":    reason,
		},
	}
}

// NewIncompleteRevaluationError reports a close attempted before all borrowed types refreshed
func NewIncompleteRevaluationError(missing []types.AssetTypeID) *CategorizedError {
	ids := make([]interface{}, 0, len(missing))
	for _, id := range missing {
		ids = append(ids, string(id))
	}
	return &CategorizedError{
		Category:   CategoryValuation,
		StatusCode: http.StatusConflict,
		Code:       CodeIncompleteRevaluation,
		Message:    fmt.Sprintf("%d borrowed asset type(s) have not been revalued", len(missing)),
		Details: map[string]interface{}{
			"missingTypes": ids,
		},
	}
}

// Risk errors

// NewLossLimitExceededError reports a cumulative epoch loss above tolerance
func NewLossLimitExceededError(loss, limit string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRisk,
		StatusCode: http.StatusConflict,
		Code:       CodeLossLimitExceeded,
		Message:    fmt.Sprintf("cumulative epoch loss %s exceeds tolerance %s", loss, limit),
		Details: map[string]interface{}{
			"cumulativeLoss": loss,
			"lossLimit":      limit,
		},
	}
}

// Arithmetic errors

// NewDivisionByZeroError reports a zero divisor in share or value math
func NewDivisionByZeroError(operation string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryArithmetic,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       CodeDivisionByZero,
		Message:    fmt.Sprintf("division by zero during %s", operation),
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewZeroAmountError reports a mint or redemption that would round to nothing
func NewZeroAmountError(operation string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryArithmetic,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       CodeZeroAmount,
		Message:    fmt.Sprintf("%s would produce a zero amount", operation),
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// Authorization / validation errors

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusUnauthorized,
		Code:       CodeUnauthorized,
		Message:    message,
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeConflict,
		Message:    message,
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidParameter,
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// Infrastructure errors

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeDatabaseError,
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewCacheError creates a cache error
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCache,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeCacheError,
		Message:    fmt.Sprintf("cache error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewOracleError creates a price feed collaborator error
func NewOracleError(feed, reason string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryOracle,
		StatusCode: http.StatusBadGateway,
		Code:       CodeOracleError,
		Message:    fmt.Sprintf("price feed error: %s: %s", feed, reason),
		Cause:      cause,
		Details: map[string]interface{}{
			"feed":   feed,
			"reason": reason,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternalError,
		Message:    message,
		Cause:      cause,
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	if stderrors.Is(err, fixedpoint.ErrDivisionByZero) {
		return NewDivisionByZeroError("fixed-point division")
	}

	return NewInternalError("unexpected error", err)
}

// HasCode reports whether the error carries the given stable code
func HasCode(err error, code string) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Code == code
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error is retryable. A stale valuation means
// "try again once the feed catches up"; a rejected valuation means the
// position must be unwound first and retrying is pointless.
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Code {
	case CodeStaleValuation, CodeOracleError:
		return true
	}

	switch catErr.Category {
	case CategoryDatabase, CategoryCache:
		return true
	default:
		return false
	}
}
