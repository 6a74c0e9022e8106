// Package errors provides the structured error system for Stowage with error
// codes, categories, and context.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for Stowage operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration Errors
	ErrCodeConfigValidation  ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigNotLoaded   ErrorCode = "CONFIG_NOT_LOADED"
	ErrCodeConfigSourceFetch ErrorCode = "CONFIG_SOURCE_FETCH"
	ErrCodeConfigLoad        ErrorCode = "CONFIG_LOAD"

	// Storage Backend Errors
	ErrCodeObjectNotFound ErrorCode = "OBJECT_NOT_FOUND"
	ErrCodeBucketNotFound ErrorCode = "BUCKET_NOT_FOUND"
	ErrCodePathInvalid    ErrorCode = "PATH_INVALID"
	ErrCodeStorageRead    ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite   ErrorCode = "STORAGE_WRITE"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryStorage       ErrorCategory = "storage"
	CategoryInternal      ErrorCategory = "internal"
)

// StowageError represents a structured error with context and metadata.
type StowageError struct {
	Code     ErrorCode     `json:"code"`
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`

	// Violations carries the complete list of schema violations for
	// CONFIG_VALIDATION errors. Empty for every other code.
	Violations []string `json:"violations,omitempty"`

	// Contextual information
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"` // Not serialized to avoid circular refs
	Timestamp time.Time         `json:"timestamp"`

	// Operational metadata
	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`
}

// Error implements the error interface.
func (e *StowageError) Error() string {
	msg := e.Message
	if len(e.Violations) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, strings.Join(e.Violations, "; "))
	}
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, msg)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *StowageError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
// Two StowageErrors match when their codes match.
func (e *StowageError) Is(target error) bool {
	if stowageErr, ok := target.(*StowageError); ok {
		return e.Code == stowageErr.Code
	}
	return false
}

// NewError creates a new Stowage error.
func NewError(code ErrorCode, message string) *StowageError {
	return &StowageError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
	}
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch {
	case strings.HasPrefix(string(code), "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(string(code), "OBJECT_"),
		strings.HasPrefix(string(code), "BUCKET_"),
		strings.HasPrefix(string(code), "PATH_"),
		strings.HasPrefix(string(code), "STORAGE_"):
		return CategoryStorage
	default:
		return CategoryInternal
	}
}

// WithContext adds contextual information to an error.
func (e *StowageError) WithContext(key, value string) *StowageError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithComponent sets the component for an error.
func (e *StowageError) WithComponent(component string) *StowageError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error.
func (e *StowageError) WithOperation(operation string) *StowageError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause.
func (e *StowageError) WithCause(cause error) *StowageError {
	e.Cause = cause
	return e
}

// WithViolations attaches the complete list of schema violations.
func (e *StowageError) WithViolations(violations []string) *StowageError {
	e.Violations = violations
	return e
}

// HasCode reports whether err (or anything it wraps) is a StowageError with
// the given code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if se, ok := err.(*StowageError); ok && se.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// IsNotFound reports whether err represents a missing object or bucket.
func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeObjectNotFound) || HasCode(err, ErrCodeBucketNotFound)
}
