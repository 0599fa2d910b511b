// Package errors provides the typed error taxonomy for conductor.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Kind classifies an error for handling decisions.
type Kind int

const (
	// KindInternal is an unclassified internal fault.
	KindInternal Kind = iota

	// KindPlanning means the planner was unreachable or produced unusable output.
	// Fatal for the current execution; never recovered by running the raw
	// request through a command tool.
	KindPlanning

	// KindToolNotFound means a step referenced a tool that is not registered.
	KindToolNotFound

	// KindPolicy means a tool was rejected by the configured allowlist.
	KindPolicy

	// KindValidation means arguments or definitions failed schema validation.
	KindValidation

	// KindToolExecution means a tool handler returned an error.
	KindToolExecution

	// KindTimeout means a step or pipeline deadline was exceeded.
	KindTimeout

	// KindCircuitOpen means a model's circuit breaker is open.
	KindCircuitOpen

	// KindModelsUnavailable means every configured model was exhausted.
	KindModelsUnavailable
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindPlanning:
		return "planning"
	case KindToolNotFound:
		return "tool_not_found"
	case KindPolicy:
		return "policy"
	case KindValidation:
		return "validation"
	case KindToolExecution:
		return "tool_execution"
	case KindTimeout:
		return "timeout"
	case KindCircuitOpen:
		return "circuit_open"
	case KindModelsUnavailable:
		return "models_unavailable"
	default:
		return "internal"
	}
}

// AppError is the error type used at every fallible boundary.
type AppError struct {
	// Kind determines how the error is handled
	Kind Kind

	// Message is a human-readable description
	Message string

	// Inner is the underlying error, if any
	Inner error

	// Retryable indicates whether the operation may be retried
	Retryable bool

	// Context carries additional debugging fields
	Context map[string]interface{}
}

// Error returns the error message.
func (e *AppError) Error() string {
	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(e.Kind.String())
	sb.WriteString("] ")
	sb.WriteString(e.Message)

	if e.Inner != nil {
		innerMsg := e.Inner.Error()
		if innerMsg != "" && innerMsg != e.Message {
			sb.WriteString(": ")
			sb.WriteString(innerMsg)
		}
	}

	return sb.String()
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Inner
}

// WithContext attaches a debugging field and returns the error.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new AppError.
func New(kind Kind, message string) *AppError {
	return &AppError{
		Kind:    kind,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *AppError {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with a kind and message.
func Wrap(err error, kind Kind, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Kind:    kind,
		Message: message,
		Inner:   err,
	}
}

// Planning creates a planning error.
func Planning(message string) *AppError {
	return New(KindPlanning, message)
}

// Planningf creates a planning error with a formatted message.
func Planningf(format string, args ...interface{}) *AppError {
	return Newf(KindPlanning, format, args...)
}

// ToolNotFound creates a tool-not-found error for the named tool.
func ToolNotFound(tool string) *AppError {
	return Newf(KindToolNotFound, "tool not found: %s", tool).WithContext("tool", tool)
}

// Policy creates an allowlist rejection error for the named tool.
func Policy(tool string) *AppError {
	return Newf(KindPolicy, "tool not permitted by allowlist: %s", tool).WithContext("tool", tool)
}

// Validation creates a schema validation error.
func Validation(message string) *AppError {
	return New(KindValidation, message)
}

// ToolExecution wraps a handler failure, preserving the original message.
func ToolExecution(tool string, err error) *AppError {
	return Wrap(err, KindToolExecution, fmt.Sprintf("tool %s failed", tool)).WithContext("tool", tool)
}

// Timeout creates a deadline-exceeded error.
func Timeout(message string) *AppError {
	return &AppError{
		Kind:      KindTimeout,
		Message:   message,
		Retryable: true,
	}
}

// CircuitOpen creates a breaker-open error for the named model.
func CircuitOpen(model string) *AppError {
	return &AppError{
		Kind:      KindCircuitOpen,
		Message:   fmt.Sprintf("circuit open for model: %s", model),
		Retryable: true,
		Context:   map[string]interface{}{"model": model},
	}
}

// ModelsUnavailable creates an all-models-exhausted error.
func ModelsUnavailable(attempts int) *AppError {
	return Newf(KindModelsUnavailable, "all models unavailable after %d attempts", attempts)
}

// KindOf returns the kind of an error, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err is an AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// IsRetryable reports whether an error is worth retrying.
func IsRetryable(err error) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}
