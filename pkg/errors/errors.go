// Package errors carries structured, typed errors through the pipeline.
// Every error holds a category, an optional cause and the stack captured
// where the failure happened, so callers can decide between retrying,
// reconfiguring and giving up without matching on message text.
package errors

import (
	"errors"
	"runtime"

	stringpool "github.com/ajitpratap0/pgcdc/pkg/strings"
)

// ErrorType classifies an error for handling decisions.
type ErrorType string

const (
	// ErrorTypeInternal indicates an unexpected internal error
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation indicates invalid input or state
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConflict indicates a conflicting operation
	ErrorTypeConflict ErrorType = "conflict"
	// ErrorTypeRateLimit indicates throttling or backpressure
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeTimeout indicates an operation timed out
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeConnection indicates a connection failure
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeConfig indicates a configuration error
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeData indicates malformed or undecodable data
	ErrorTypeData ErrorType = "data"
	// ErrorTypeQuery indicates a database query failure
	ErrorTypeQuery ErrorType = "query"
	// ErrorTypeParse indicates a type descriptor that could not be parsed
	ErrorTypeParse ErrorType = "parse"
	// ErrorTypeContract indicates a broken caller contract
	ErrorTypeContract ErrorType = "contract"
	// ErrorTypeUnknownType indicates a type name with no known OID mapping
	ErrorTypeUnknownType ErrorType = "unknown_type"
)

// Error is a classified error with an optional cause, free form details
// and the stack from the point of failure.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame is one resolved frame of a captured stack.
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error formats as "type: message" with the cause appended when set.
func (e *Error) Error() string {
	if e.Cause != nil {
		return stringpool.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return stringpool.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail attaches a key value pair and returns the error, so
// details can be chained onto New and Wrap calls.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New builds a classified error and records the caller's stack.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Wrap classifies an existing error. A nil err yields nil, so call
// sites can wrap unconditionally.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	e := &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
	}

	// A structured cause already recorded the stack at the original
	// failure point; that one stays.
	var cause *Error
	if errors.As(err, &cause) {
		e.Stack = cause.Stack
	} else {
		e.Stack = captureStack(2)
	}
	return e
}

// IsRetryable reports whether the error represents a transient
// condition worth another attempt.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeTimeout, ErrorTypeConnection:
		return true
	default:
		return false
	}
}

// IsType reports whether the outermost structured error in the chain
// has the given type.
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// captureStack resolves up to 32 frames starting skip levels above the
// caller.
func captureStack(skip int) []StackFrame {
	const maxFrames = 32

	pcs := make([]uintptr, maxFrames)
	n := runtime.Callers(skip+1, pcs)
	if n == 0 {
		return nil
	}

	stack := make([]StackFrame, 0, n)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if frame.Function != "" {
			stack = append(stack, StackFrame{
				Function: frame.Function,
				File:     frame.File,
				Line:     frame.Line,
			})
		}
		if !more {
			break
		}
	}
	return stack
}
