package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/conductor-ai/conductor/internal/errors"
)

// DefaultInvokeTimeout bounds a handler when neither the execution context
// nor the executive config provides a budget.
const DefaultInvokeTimeout = 30 * time.Second

const maxOutputBytes = 10 * 1024

// ExecutiveConfig configures an Executive.
type ExecutiveConfig struct {
	// Allowlist restricts which tools may run. Nil allows all registered tools.
	Allowlist *Allowlist

	// DefaultTimeout bounds each invocation when the ExecutionContext has none.
	DefaultTimeout time.Duration

	// Logger receives per-invocation log lines. Nil uses the global logger.
	Logger *zerolog.Logger
}

// Executive validates and invokes individual tool calls against a registry.
// It performs no side effects of its own beyond validation, timing, and
// logging; everything else is the handler's doing.
type Executive struct {
	registry  *Registry
	allowlist *Allowlist
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewExecutive creates an executive bound to a registry.
func NewExecutive(registry *Registry, cfg ExecutiveConfig) *Executive {
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultInvokeTimeout
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Executive{
		registry:  registry,
		allowlist: cfg.Allowlist,
		timeout:   timeout,
		logger:    logger,
	}
}

// Invocation is the timed outcome of a successful Invoke.
type Invocation struct {
	Output    interface{}
	Truncated bool
	Latency   time.Duration
}

// Invoke looks up, authorizes, validates, and runs one tool call.
//
// Failure order is fixed: unknown tool, then allowlist, then argument schema,
// then handler execution. The handler is never called for a rejected tool.
func (e *Executive) Invoke(ctx context.Context, toolName string, args map[string]interface{}, execCtx *ExecutionContext) (*Invocation, error) {
	def, ok := e.registry.Get(toolName)
	if !ok {
		return nil, errors.ToolNotFound(toolName)
	}

	if !e.allowlist.Allowed(toolName) {
		e.logger.Warn().Str("tool", toolName).Msg("Tool rejected by allowlist")
		return nil, errors.Policy(toolName)
	}

	args = applyDefaults(def, args)
	if err := e.validateArgs(toolName, args); err != nil {
		return nil, err
	}

	timeout := e.timeout
	if execCtx != nil && execCtx.StepTimeout > 0 {
		timeout = execCtx.StepTimeout
	}

	invokeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if execCtx != nil {
		invokeCtx = WithExecutionContext(invokeCtx, execCtx)
	}

	start := time.Now()
	output, err := e.runHandler(invokeCtx, def, args)
	latency := time.Since(start)

	if err != nil {
		if invokeCtx.Err() == context.DeadlineExceeded {
			e.logger.Error().Str("tool", toolName).Dur("duration", latency).Msg("Tool invocation timed out")
			return nil, errors.Timeout(fmt.Sprintf("tool %s exceeded %v", toolName, timeout))
		}
		e.logger.Error().Str("tool", toolName).Dur("duration", latency).Err(err).Msg("Tool invocation failed")
		return nil, errors.ToolExecution(toolName, err)
	}

	output, truncated := truncateOutput(output)

	e.logger.Debug().
		Str("tool", toolName).
		Dur("duration", latency).
		Bool("truncated", truncated).
		Msg("Tool invocation completed")

	return &Invocation{Output: output, Truncated: truncated, Latency: latency}, nil
}

// runHandler supervises the handler in its own goroutine so a CPU-bound
// handler cannot outlive the deadline, and converts panics into errors.
func (e *Executive) runHandler(ctx context.Context, def *Definition, args map[string]interface{}) (interface{}, error) {
	type outcome struct {
		value interface{}
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		value, err := def.Handler(ctx, args)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Executive) validateArgs(toolName string, args map[string]interface{}) error {
	schema := e.registry.schema(toolName)
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return errors.Wrap(err, errors.KindValidation, "argument validation failed").
			WithContext("tool", toolName)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, verr := range result.Errors() {
			msgs = append(msgs, verr.String())
		}
		return errors.Newf(errors.KindValidation, "tool %s: invalid arguments: %v", toolName, msgs)
	}
	return nil
}

// applyDefaults fills in declared defaults for absent optional arguments
// without touching the caller's map.
func applyDefaults(def *Definition, args map[string]interface{}) map[string]interface{} {
	needed := false
	for _, p := range def.Parameters {
		if p.Default == nil {
			continue
		}
		if _, present := args[p.Name]; !present {
			needed = true
			break
		}
	}
	if !needed {
		return args
	}

	merged := make(map[string]interface{}, len(args)+1)
	for k, v := range args {
		merged[k] = v
	}
	for _, p := range def.Parameters {
		if p.Default == nil {
			continue
		}
		if _, present := merged[p.Name]; !present {
			merged[p.Name] = p.Default
		}
	}
	return merged
}

func truncateOutput(output interface{}) (interface{}, bool) {
	s, ok := output.(string)
	if !ok {
		return output, false
	}
	if len(s) <= maxOutputBytes {
		return output, false
	}
	return s[:maxOutputBytes] + "\n... [output truncated]", true
}
