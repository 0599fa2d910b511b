// Package tool provides the tool registry and the executive that validates
// and invokes tool calls.
package tool

import (
	"context"
	"time"
)

// Parameter describes one argument a tool accepts.
type Parameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// Handler is the capability invoked when a tool runs. Handlers must honor
// ctx cancellation; the executive supervises them with a deadline regardless.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Definition declares a tool. Immutable once registered.
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Handler     Handler     `json:"-"`

	// AllowUnknownArgs lets callers pass fields not declared in Parameters.
	// Default is strict rejection.
	AllowUnknownArgs bool `json:"allow_unknown_args,omitempty"`

	// Unsafe marks tools that execute arbitrary commands. They are only
	// registered when the configuration explicitly enables them.
	Unsafe bool `json:"unsafe,omitempty"`
}

// ExecutionContext provides the read-only per-execution environment handed to
// every step. Steps receive it by reference and must not mutate it.
type ExecutionContext struct {
	SessionID        string
	TraceID          string
	WorkingDirectory string
	Constraints      []string
	Metadata         map[string]interface{}
	StepTimeout      time.Duration
}

type execCtxKey struct{}

// WithExecutionContext attaches an ExecutionContext to ctx for handlers that
// need the working directory or constraint tags.
func WithExecutionContext(ctx context.Context, ec *ExecutionContext) context.Context {
	return context.WithValue(ctx, execCtxKey{}, ec)
}

// ExecutionContextFrom extracts the ExecutionContext, or nil.
func ExecutionContextFrom(ctx context.Context) *ExecutionContext {
	ec, _ := ctx.Value(execCtxKey{}).(*ExecutionContext)
	return ec
}

// HasConstraint reports whether the context carries a capability tag.
func (ec *ExecutionContext) HasConstraint(tag string) bool {
	if ec == nil {
		return false
	}
	for _, c := range ec.Constraints {
		if c == tag {
			return true
		}
	}
	return false
}
