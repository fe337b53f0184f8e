package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a namespaced error code for knowledge-graph errors.
type ErrorCode string

// Schema validation error codes
const (
	SCHEMA_UNKNOWN_ENTITY_TYPE        ErrorCode = "SCHEMA_UNKNOWN_ENTITY_TYPE"
	SCHEMA_UNKNOWN_RELATIONSHIP_TYPE  ErrorCode = "SCHEMA_UNKNOWN_RELATIONSHIP_TYPE"
	SCHEMA_MISSING_REQUIRED_ATTRIBUTE ErrorCode = "SCHEMA_MISSING_REQUIRED_ATTRIBUTE"
	SCHEMA_UNKNOWN_ATTRIBUTE          ErrorCode = "SCHEMA_UNKNOWN_ATTRIBUTE"
	SCHEMA_INVALID_ATTRIBUTE_VALUE    ErrorCode = "SCHEMA_INVALID_ATTRIBUTE_VALUE"
	SCHEMA_DISALLOWED_RELATIONSHIP    ErrorCode = "SCHEMA_DISALLOWED_RELATIONSHIP"
	SCHEMA_LOAD_FAILED                ErrorCode = "SCHEMA_LOAD_FAILED"
	SCHEMA_INVALID                    ErrorCode = "SCHEMA_INVALID"
)

// Mutation error codes
const (
	DISAMBIGUATION_REQUIRED ErrorCode = "DISAMBIGUATION_REQUIRED"
	TRANSIENT_CONFLICT      ErrorCode = "TRANSIENT_CONFLICT"
	DELETION_BLOCKED        ErrorCode = "DELETION_BLOCKED"
	NODE_NOT_FOUND          ErrorCode = "NODE_NOT_FOUND"
	EDGE_NOT_FOUND          ErrorCode = "EDGE_NOT_FOUND"
)

// Storage engine error codes
const (
	STORAGE_CONNECTION_FAILED ErrorCode = "STORAGE_CONNECTION_FAILED"
	STORAGE_QUERY_FAILED      ErrorCode = "STORAGE_QUERY_FAILED"
	STORAGE_TIMEOUT           ErrorCode = "STORAGE_TIMEOUT"
)

// Configuration error codes
const (
	CONFIG_LOAD_FAILED       ErrorCode = "CONFIG_LOAD_FAILED"
	CONFIG_VALIDATION_FAILED ErrorCode = "CONFIG_VALIDATION_FAILED"
)

// KGError represents a structured error with error code, message, and optional
// cause. It supports error wrapping, retryability hints, and typed detail
// fields so callers can branch programmatically instead of parsing strings.
type KGError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Cause     error

	// Attributes carries the offending attribute names for schema errors
	// (missing required attributes, unknown attributes).
	Attributes []string

	// Candidates carries the ambiguous candidate node IDs for
	// DISAMBIGUATION_REQUIRED errors.
	Candidates []ID

	// Context holds additional key-value detail for debugging.
	Context map[string]any
}

// Error implements the error interface, returning a formatted error message.
// Format: "[CODE] message" or "[CODE] message: cause" if cause exists.
func (e *KGError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error unwrapping chains.
func (e *KGError) Unwrap() error {
	return e.Cause
}

// Is checks if the target error matches this error by error code.
func (e *KGError) Is(target error) bool {
	var kgErr *KGError
	if errors.As(target, &kgErr) {
		return e.Code == kgErr.Code
	}
	return false
}

// WithContext adds additional context to the error for debugging.
// Returns the error for method chaining.
func (e *KGError) WithContext(key string, value any) *KGError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithAttributes records the attribute names the error refers to.
// Returns the error for method chaining.
func (e *KGError) WithAttributes(attrs ...string) *KGError {
	e.Attributes = append(e.Attributes, attrs...)
	return e
}

// WithCandidates records the ambiguous candidate node IDs.
// Returns the error for method chaining.
func (e *KGError) WithCandidates(ids ...ID) *KGError {
	e.Candidates = append(e.Candidates, ids...)
	return e
}

// NewError creates a new non-retryable KGError with the given code and message.
func NewError(code ErrorCode, message string) *KGError {
	return &KGError{
		Code:    code,
		Message: message,
	}
}

// NewRetryableError creates a new retryable KGError with the given code and
// message. Use this for transient errors that may succeed on retry.
func NewRetryableError(code ErrorCode, message string) *KGError {
	return &KGError{
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// WrapError creates a new non-retryable KGError that wraps an existing error.
func WrapError(code ErrorCode, message string, cause error) *KGError {
	return &KGError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsRetryable reports whether err (or any error in its chain) is a KGError
// marked retryable.
func IsRetryable(err error) bool {
	var kgErr *KGError
	if errors.As(err, &kgErr) {
		return kgErr.Retryable
	}
	return false
}

// CodeOf extracts the error code from err if it is a KGError, or "" otherwise.
func CodeOf(err error) ErrorCode {
	var kgErr *KGError
	if errors.As(err, &kgErr) {
		return kgErr.Code
	}
	return ""
}
