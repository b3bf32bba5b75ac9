// Package errors provides structured error handling for rowforge.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal invariant breaches
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeConfiguration represents conflicting or impossible client
	// settings, raised before any I/O happens
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypeUnsupportedType represents a column wire type with no binary
	// encoder; recorded at plan-build time, never per row
	ErrorTypeUnsupportedType ErrorType = "unsupported_type"
	// ErrorTypeValidation represents a row that fails plan constraints
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeEncoding represents a value its assigned encoder cannot
	// represent; aborts the current block
	ErrorTypeEncoding ErrorType = "encoding"
	// ErrorTypeTransport represents network or store failures; aborts all
	// remaining blocks of the call
	ErrorTypeTransport ErrorType = "transport"
)

// Detail keys used across the insert pipeline.
const (
	DetailTable  = "table"
	DetailColumn = "column"
	DetailRow    = "row"
	DetailFormat = "format"
	DetailBlock  = "block"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithRow annotates the error with the zero-based row index it refers to
func (e *Error) WithRow(index int) *Error {
	return e.WithDetail(DetailRow, index)
}

// WithColumn annotates the error with the column name it refers to
func (e *Error) WithColumn(name string) *Error {
	return e.WithDetail(DetailColumn, name)
}

// Detail returns the value stored under key, or nil
func (e *Error) Detail(key string) interface{} {
	if e.Details == nil {
		return nil
	}
	return e.Details[key]
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// Wrapf wraps an existing error with a formatted message
func Wrapf(err error, errType ErrorType, format string, args ...interface{}) *Error {
	return Wrap(err, errType, fmt.Sprintf(format, args...))
}

// IsType checks if the error is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// GetType returns the error's type, or ErrorTypeInternal for foreign errors
func GetType(err error) ErrorType {
	var e *Error
	if !errors.As(err, &e) {
		return ErrorTypeInternal
	}
	return e.Type
}

// AsError extracts a structured *Error from err, if present
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// Is re-exports the standard unwrapping check so callers need only one
// errors import.
func Is(err, target error) bool { return errors.Is(err, target) }

// As re-exports the standard unwrapping match so callers need only one
// errors import.
func As(err error, target interface{}) bool { return errors.As(err, target) }

// From returns err as a structured *Error so callers can annotate it.
// Foreign errors are wrapped as internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{
		Type:    ErrorTypeInternal,
		Message: err.Error(),
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsFailFast reports whether the error category must surface before any
// network activity: configuration and plan-level type errors.
func IsFailFast(err error) bool {
	switch GetType(err) {
	case ErrorTypeConfiguration, ErrorTypeUnsupportedType:
		return true
	default:
		return false
	}
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
