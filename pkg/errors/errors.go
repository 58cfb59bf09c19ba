// Package errors provides the structured error kinds returned by the pool,
// its connector, and the sessions it hands out.
//
// Every failure surfaced to callers is an *Error carrying an ErrorType:
//
//	obj, err := p.TryGet(ctx)
//	if errors.IsTimeout(err) {
//	    // every slot is checked out
//	}
//
// Errors returned by the underlying wire-protocol client are wrapped, not
// replaced, so errors.As still reaches a *pgconn.PgError.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal invariant violations
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeTimeout represents an elapsed phase deadline (wait, create, recycle)
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeClosed represents a closed pool or slot semaphore
	ErrorTypeClosed ErrorType = "closed"
	// ErrorTypeRecycling represents a failed validation or reset of an idle session
	ErrorTypeRecycling ErrorType = "recycling"
	// ErrorTypeConnection represents an exhausted connect retry budget
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeProtocol represents a query, prepare or execute failure
	ErrorTypeProtocol ErrorType = "protocol"
	// ErrorTypeSQLFormat represents malformed query construction
	ErrorTypeSQLFormat ErrorType = "sql_format"
	// ErrorTypeCanceled represents a caller-cancelled operation
	ErrorTypeCanceled ErrorType = "canceled"
	// ErrorTypeReadOnly represents a write statement issued on a read-only session
	ErrorTypeReadOnly ErrorType = "read_only"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
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

// Is reports whether target is an *Error of the same type with no message,
// which lets the sentinel values below be used with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Type == e.Type
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Sentinels for errors.Is. They match any *Error of the same type.
var (
	ErrTimeout   = &Error{Type: ErrorTypeTimeout}
	ErrClosed    = &Error{Type: ErrorTypeClosed}
	ErrRecycling = &Error{Type: ErrorTypeRecycling}
	ErrConnect   = &Error{Type: ErrorTypeConnection}
	ErrProtocol  = &Error{Type: ErrorTypeProtocol}
	ErrSQLFormat = &Error{Type: ErrorTypeSQLFormat}
	ErrReadOnly  = &Error{Type: ErrorTypeReadOnly}
)

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

// Protocol converts an error from the wire-protocol client into the unified
// kind. Errors that already carry a type are returned untouched.
func Protocol(err error, message string) error {
	if err == nil {
		return nil
	}
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return err
	}
	return Wrap(err, ErrorTypeProtocol, message)
}

// IsRetryable returns true if the error is retryable
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeConnection, ErrorTypeRecycling:
		return true
	default:
		return false
	}
}

// IsType checks if the error is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// IsTimeout reports whether err is a timeout error.
func IsTimeout(err error) bool { return IsType(err, ErrorTypeTimeout) }

// IsClosed reports whether err is a closed-pool error.
func IsClosed(err error) bool { return IsType(err, ErrorTypeClosed) }

// IsConnect reports whether err is an exhausted connect retry budget.
func IsConnect(err error) bool { return IsType(err, ErrorTypeConnection) }

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
