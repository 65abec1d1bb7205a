// Package errors defines the structured error type shared by every layer of the
// engine. Provider responses are mapped onto a small taxonomy so that the
// poller, the subscription managers and the dispatcher can react to a failure
// class (reauthorize, back off, skip, reuse) without parsing messages.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrorType classifies an AppError.
type ErrorType string

const (
	ErrTypeConnection ErrorType = "connection"
	ErrTypeValidation ErrorType = "validation"
	ErrTypeConfig     ErrorType = "config"
	ErrTypeAuth       ErrorType = "authentication"
	ErrTypeNotFound   ErrorType = "not_found"
	ErrTypeConflict   ErrorType = "conflict"
	ErrTypeInternal   ErrorType = "internal"
	ErrTypeTimeout    ErrorType = "timeout"
	ErrTypeRateLimit  ErrorType = "rate_limit"
)

// AppError is a classified error with optional code, cause and context.
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	StatusCode int                    `json:"status_code,omitempty"`
	RetryAfter time.Duration          `json:"retry_after,omitempty"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

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

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key/value pair and returns the same error.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode sets the error code and returns the same error.
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

func ConnectionError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeConnection, Message: msg, Cause: cause}
}

// TransportError reports a network failure talking to a provider.
func TransportError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeConnection, Message: msg, Cause: cause, Code: "transport"}
}

func ValidationError(msg string) *AppError {
	return &AppError{Type: ErrTypeValidation, Message: msg}
}

func ConfigError(msg string) *AppError {
	return &AppError{Type: ErrTypeConfig, Message: msg}
}

func AuthError(msg string) *AppError {
	return &AppError{Type: ErrTypeAuth, Message: msg, StatusCode: http.StatusUnauthorized}
}

func NotFoundError(resource string) *AppError {
	return &AppError{Type: ErrTypeNotFound, Message: fmt.Sprintf("%s not found", resource), StatusCode: http.StatusNotFound}
}

func ConflictError(msg string) *AppError {
	return &AppError{Type: ErrTypeConflict, Message: msg, StatusCode: http.StatusConflict}
}

func InternalError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeInternal, Message: msg, Cause: cause}
}

func TimeoutError(operation string) *AppError {
	return &AppError{Type: ErrTypeTimeout, Message: fmt.Sprintf("timeout during %s", operation)}
}

func RateLimitError(resource string, retryAfter time.Duration) *AppError {
	return &AppError{
		Type:       ErrTypeRateLimit,
		Message:    fmt.Sprintf("rate limit exceeded for %s", resource),
		StatusCode: http.StatusTooManyRequests,
		RetryAfter: retryAfter,
	}
}

// FromHTTPStatus classifies a non-2xx provider response.
func FromHTTPStatus(status int, msg string) *AppError {
	var err *AppError
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		err = AuthError(msg)
	case status == http.StatusNotFound:
		err = &AppError{Type: ErrTypeNotFound, Message: msg}
	case status == http.StatusConflict:
		err = ConflictError(msg)
	case status == http.StatusTooManyRequests:
		err = &AppError{Type: ErrTypeRateLimit, Message: msg}
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		err = ValidationError(msg)
	case status >= 500:
		err = TransportError(msg, nil)
	default:
		err = InternalError(msg, nil)
	}
	err.StatusCode = status
	return err
}

// ParseRetryAfter reads a Retry-After header given in seconds. Missing or
// malformed values yield fallback.
func ParseRetryAfter(header string, fallback time.Duration) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || seconds < 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// IsType reports whether err, or anything it wraps, is an AppError of errType.
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	return appErr.Type == errType
}

// GetType returns the error's type. Non-AppErrors are internal.
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return ErrTypeInternal
	}
	return appErr.Type
}

// As returns the AppError in err's chain, if any.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	ok := stderrors.As(err, &appErr)
	return appErr, ok
}
