package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrTypeConfig            ErrorType = "config"
	ErrTypeSourceUnavailable ErrorType = "source_unavailable"
	ErrTypeIndexNotBuilt     ErrorType = "index_not_built"
	ErrTypeCacheIncompatible ErrorType = "cache_incompatible"
	ErrTypeCacheCorrupt      ErrorType = "cache_corrupt"
	ErrTypeModelMismatch     ErrorType = "model_mismatch"
	ErrTypeValidation        ErrorType = "validation"
	ErrTypeNotFound          ErrorType = "not_found"
	ErrTypeFileSystem        ErrorType = "filesystem"
	ErrTypeInternal          ErrorType = "internal"
)

// Error represents a structured error with type and optional suggestions
type Error struct {
	Type        ErrorType
	Message     string
	Cause       error
	Suggestions []string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithSuggestion adds a suggestion for resolving the error
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// New creates a new structured error
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// Newf creates a new structured error with formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with formatted message
func Wrapf(err error, errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Type == errType
	}

	return false
}

// GetType returns the error type if it's a structured error
func GetType(err error) ErrorType {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Type
	}

	return ErrTypeInternal
}

// GetSuggestions collects suggestions from the outermost structured error
func GetSuggestions(err error) []string {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Suggestions
	}

	return nil
}

// NewConfigError creates a configuration error with suggestions
func NewConfigError(message, field string) *Error {
	err := New(ErrTypeConfig, message)
	if field != "" {
		err.Message = fmt.Sprintf("%s (field: %s)", message, field)
	}

	return err.
		WithSuggestion("Check your .env file or DATADICT_* environment variables").
		WithSuggestion("Run with --help to see valid configuration options")
}

// NewIndexNotBuiltError reports a search attempted without a usable index
func NewIndexNotBuiltError(message string) *Error {
	return New(ErrTypeIndexNotBuilt, message).
		WithSuggestion("Run with --build-index-only to build the index first")
}

// NewCacheIncompatibleError reports a cached index produced by a different model
func NewCacheIncompatibleError(cachedModel, activeModel string) *Error {
	return Newf(ErrTypeCacheIncompatible,
		"cached index was built with model %q but the active model is %q", cachedModel, activeModel).
		WithSuggestion("Run with --rebuild-index to rebuild the index for the active model")
}
