package errors

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// ErrorCategory represents different types of errors in the system
type ErrorCategory string

const (
	// Tool argument validation errors
	ErrorCategoryValidation ErrorCategory = "validation"
	// Pizza API (upstream HTTP) errors
	ErrorCategoryUpstream ErrorCategory = "upstream"
	// MCP protocol related errors
	ErrorCategoryProtocol ErrorCategory = "protocol"
	// Response cache errors
	ErrorCategoryCache ErrorCategory = "cache"
	// Configuration loading errors
	ErrorCategoryConfig ErrorCategory = "config"
	// System/internal errors
	ErrorCategorySystem ErrorCategory = "system"
)

// ErrorSeverity represents the severity level of an error
type ErrorSeverity string

const (
	ErrorSeverityLow      ErrorSeverity = "low"
	ErrorSeverityMedium   ErrorSeverity = "medium"
	ErrorSeverityHigh     ErrorSeverity = "high"
	ErrorSeverityCritical ErrorSeverity = "critical"
)

// StructuredError represents a structured error with additional context
type StructuredError struct {
	Category    ErrorCategory          `json:"category"`
	Severity    ErrorSeverity          `json:"severity"`
	Code        string                 `json:"code"`
	Message     string                 `json:"message"`
	Details     string                 `json:"details,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Recoverable bool                   `json:"recoverable"`
	Cause       error                  `json:"-"`
}

// Error implements the error interface
func (se *StructuredError) Error() string {
	if se.Details != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", se.Category, se.Code, se.Message, se.Details)
	}
	return fmt.Sprintf("[%s:%s] %s", se.Category, se.Code, se.Message)
}

// Unwrap returns the underlying error for error unwrapping
func (se *StructuredError) Unwrap() error {
	return se.Cause
}

// ToProtocolError converts a StructuredError to a JSON-RPC wire error
func (se *StructuredError) ToProtocolError() *jsonrpc.Error {
	var code int64
	switch se.Category {
	case ErrorCategoryValidation:
		code = jsonrpc.CodeInvalidParams
	case ErrorCategoryProtocol:
		code = jsonrpc.CodeInvalidRequest
	default:
		code = jsonrpc.CodeInternalError
	}

	wire := &jsonrpc.Error{
		Code:    code,
		Message: se.Message,
	}

	data, err := json.Marshal(map[string]interface{}{
		"category":  se.Category,
		"code":      se.Code,
		"severity":  se.Severity,
		"timestamp": se.Timestamp,
		"context":   se.Context,
	})
	if err == nil {
		wire.Data = data
	}
	return wire
}

// NewStructuredError creates a new structured error
func NewStructuredError(category ErrorCategory, severity ErrorSeverity, code, message string) *StructuredError {
	return &StructuredError{
		Category:    category,
		Severity:    severity,
		Code:        code,
		Message:     message,
		Timestamp:   time.Now(),
		Recoverable: severity != ErrorSeverityCritical,
		Context:     make(map[string]interface{}),
	}
}

// WithDetails adds details to the error
func (se *StructuredError) WithDetails(details string) *StructuredError {
	se.Details = details
	return se
}

// WithContext adds context information to the error
func (se *StructuredError) WithContext(key string, value interface{}) *StructuredError {
	if se.Context == nil {
		se.Context = make(map[string]interface{})
	}
	se.Context[key] = value
	return se
}

// WithCause sets the underlying cause error
func (se *StructuredError) WithCause(err error) *StructuredError {
	se.Cause = err
	return se
}

// IsRecoverable returns whether the error is recoverable
func (se *StructuredError) IsRecoverable() bool {
	return se.Recoverable
}

// NewValidationError creates a tool argument validation error
func NewValidationError(code, message string, err error) *StructuredError {
	return NewStructuredError(ErrorCategoryValidation, ErrorSeverityLow, code, message).WithCause(err)
}

// NewUpstreamError creates a Pizza API error. Server side failures are more
// severe than rejected requests.
func NewUpstreamError(code, message string, err error) *StructuredError {
	severity := ErrorSeverityMedium
	switch code {
	case ErrCodeUpstreamNotFound, ErrCodeUpstreamRejected:
		severity = ErrorSeverityLow
	case ErrCodeUpstreamUnavailable:
		severity = ErrorSeverityHigh
	}

	return NewStructuredError(ErrorCategoryUpstream, severity, code, message).WithCause(err)
}

// NewProtocolError creates an MCP protocol related error
func NewProtocolError(code, message string, err error) *StructuredError {
	return NewStructuredError(ErrorCategoryProtocol, ErrorSeverityMedium, code, message).WithCause(err)
}

// NewCacheError creates a cache operation related error
func NewCacheError(code, message string, err error) *StructuredError {
	severity := ErrorSeverityMedium
	if code == ErrCodeCacheMiss || code == ErrCodeCacheExpired {
		severity = ErrorSeverityLow
	}

	return NewStructuredError(ErrorCategoryCache, severity, code, message).WithCause(err)
}

// NewConfigError creates a configuration error
func NewConfigError(code, message string, err error) *StructuredError {
	return NewStructuredError(ErrorCategoryConfig, ErrorSeverityHigh, code, message).WithCause(err)
}

// NewSystemError creates a system/internal error
func NewSystemError(code, message string, err error) *StructuredError {
	return NewStructuredError(ErrorCategorySystem, ErrorSeverityCritical, code, message).WithCause(err)
}

// Common error codes
const (
	// Validation error codes
	ErrCodeInvalidParams   = "INVALID_PARAMS"
	ErrCodeMissingArgument = "MISSING_ARGUMENT"
	ErrCodeInvalidID       = "INVALID_ID"

	// Upstream error codes
	ErrCodeUpstreamNotFound    = "UPSTREAM_NOT_FOUND"
	ErrCodeUpstreamRejected    = "UPSTREAM_REJECTED"
	ErrCodeUpstreamFailed      = "UPSTREAM_FAILED"
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrCodeRateLimited         = "RATE_LIMITED"

	// Protocol error codes
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeMalformedParams = "MALFORMED_PARAMS"
	ErrCodeDuplicateTool   = "DUPLICATE_TOOL"
	ErrCodeInvalidSchema   = "INVALID_SCHEMA"

	// Cache error codes
	ErrCodeCacheMiss    = "CACHE_MISS"
	ErrCodeCacheExpired = "CACHE_EXPIRED"

	// Config error codes
	ErrCodeConfigNotFound = "CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "CONFIG_INVALID"

	// System error codes
	ErrCodeInitializationFailed = "INITIALIZATION_FAILED"
	ErrCodeShutdownFailed       = "SHUTDOWN_FAILED"
	ErrCodeCircuitOpen          = "CIRCUIT_BREAKER_OPEN"
)
