package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeValidation represents malformed input
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeConfig represents configuration errors
	ErrTypeConfig ErrorType = "config"
	// ErrTypeAuth represents assertion signing or token exchange failures
	ErrTypeAuth ErrorType = "authentication"
	// ErrTypeProfileLookup represents profile store failures other than not-found
	ErrTypeProfileLookup ErrorType = "profile_lookup"
	// ErrTypeRateLookup represents exchange-rate service failures
	ErrTypeRateLookup ErrorType = "rate_lookup"
	// ErrTypeCatalog represents catalog store failures other than not-found
	ErrTypeCatalog ErrorType = "catalog"
	// ErrTypeForward represents a rejected delivery to the collection endpoint
	ErrTypeForward ErrorType = "forward"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
	// ErrTypeTimeout represents timeout errors
	ErrTypeTimeout ErrorType = "timeout"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		contextParts := make([]string, 0, len(keys))
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return &AppError{Type: ErrTypeValidation, Message: msg}
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{Type: ErrTypeConfig, Message: msg}
}

// AuthError creates a new authentication error
func AuthError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeAuth, Message: msg, Cause: cause}
}

// ProfileLookupError creates an error for a failed profile store request
func ProfileLookupError(status int, cause error) *AppError {
	e := &AppError{Type: ErrTypeProfileLookup, Message: "profile lookup failed", Cause: cause}
	if status != 0 {
		e.WithContext("status", status)
	}
	return e
}

// RateLookupError creates an error for a failed exchange-rate request
func RateLookupError(currency string, status int, cause error) *AppError {
	e := &AppError{Type: ErrTypeRateLookup, Message: "exchange rate lookup failed", Cause: cause}
	e.WithContext("currency", currency)
	if status != 0 {
		e.WithContext("status", status)
	}
	return e
}

// CatalogError creates an error for a failed catalog request. The product id
// is always carried in the context.
func CatalogError(productID string, status int, reason string, cause error) *AppError {
	msg := "catalog lookup failed"
	if reason != "" {
		msg = fmt.Sprintf("catalog lookup failed (reason: %s)", reason)
	}
	e := &AppError{Type: ErrTypeCatalog, Message: msg, Cause: cause}
	e.WithContext("product_id", productID)
	if status != 0 {
		e.WithContext("status", status)
	}
	return e
}

// ForwardError creates an error for a rejected delivery
func ForwardError(status int, reason string, cause error) *AppError {
	msg := "collection endpoint rejected event"
	if reason != "" {
		msg = fmt.Sprintf("collection endpoint rejected event (reason: %s)", reason)
	}
	e := &AppError{Type: ErrTypeForward, Message: msg, Cause: cause}
	if status != 0 {
		e.WithContext("status", status)
	}
	return e
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeInternal, Message: msg, Cause: cause}
}

// TimeoutError creates a new timeout error
func TimeoutError(operation string, cause error) *AppError {
	return &AppError{Type: ErrTypeTimeout, Message: fmt.Sprintf("timeout during %s", operation), Cause: cause}
}

// As finds the first AppError in err's chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType checks if an error, or anything it wraps, is of a specific type
func IsType(err error, errType ErrorType) bool {
	appErr, ok := As(err)
	return ok && appErr.Type == errType
}

// GetType returns the error type if err wraps an AppError, otherwise ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}
	appErr, ok := As(err)
	if !ok {
		return ErrTypeInternal
	}
	return appErr.Type
}
