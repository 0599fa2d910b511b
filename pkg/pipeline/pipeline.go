// Package pipeline turns a user request into a validated plan and runs the
// plan's steps under dependency, concurrency, and timeout constraints.
//
// A Pipeline owns one execution at a time per Execute call; it is safe for
// concurrent use. Planning failures abort the execution before any tool runs:
// there is no fallback path that executes the raw request text.
package pipeline

import (
	"context"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/conductor-ai/conductor/internal/errors"
	"github.com/conductor-ai/conductor/internal/metrics"
	"github.com/conductor-ai/conductor/internal/tracing"
	"github.com/conductor-ai/conductor/pkg/model"
	"github.com/conductor-ai/conductor/pkg/plan"
	"github.com/conductor-ai/conductor/pkg/telemetry"
	"github.com/conductor-ai/conductor/pkg/tool"
)

// Config wires a Pipeline's collaborators. Registry, Executive, and Parser
// are required; Router is only required when executions use auto-planning.
type Config struct {
	Registry  *tool.Registry
	Executive *tool.Executive
	Router    *model.Router
	Parser    *plan.Parser
	Sink      telemetry.Sink
	Metrics   *metrics.Metrics
	Logger    *zerolog.Logger
}

// Pipeline orchestrates planning and step execution.
type Pipeline struct {
	registry  *tool.Registry
	executive *tool.Executive
	router    *model.Router
	parser    *plan.Parser
	sink      telemetry.Sink
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// New creates a pipeline from its collaborators.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Registry == nil {
		return nil, errors.New(errors.KindInternal, "pipeline requires a tool registry")
	}
	if cfg.Executive == nil {
		return nil, errors.New(errors.KindInternal, "pipeline requires a tool executive")
	}
	if cfg.Parser == nil {
		return nil, errors.New(errors.KindInternal, "pipeline requires a plan parser")
	}
	sink := cfg.Sink
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Pipeline{
		registry:  cfg.Registry,
		executive: cfg.Executive,
		router:    cfg.Router,
		parser:    cfg.Parser,
		sink:      sink,
		metrics:   m,
		logger:    logger,
	}, nil
}

// Request is one execution request.
type Request struct {
	// Input is the free-form user request. It is planner input only; it is
	// never passed to a tool except as an argument of a validated step.
	Input string `json:"input"`

	// History holds prior conversation turns, oldest first. Planner input
	// only, same rule as Input.
	History []string `json:"history,omitempty"`

	// Context is the per-execution environment shared by all steps. Nil gets
	// an empty context.
	Context *tool.ExecutionContext `json:"-"`

	// Options tunes this execution.
	Options Options `json:"options"`
}

// StepResult is the recorded outcome of one step, in plan order.
type StepResult struct {
	Index     int           `json:"index"`
	Tool      string        `json:"tool"`
	Success   bool          `json:"success"`
	Skipped   bool          `json:"skipped,omitempty"`
	Output    interface{}   `json:"output,omitempty"`
	Truncated bool          `json:"truncated,omitempty"`
	Error     string        `json:"error,omitempty"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Latency   time.Duration `json:"latency_ns"`
}

// Result is the aggregate outcome of one execution. Steps always appear in
// plan-declared order regardless of completion order.
type Result struct {
	ExecutionID string                 `json:"execution_id"`
	Steps       []StepResult           `json:"steps"`
	Success     bool                   `json:"success"`
	FinalOutput interface{}            `json:"final_output,omitempty"`
	TotalTime   time.Duration          `json:"total_time_ns"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Execute runs one request to completion.
//
// Step-level failures are captured in the Result and do not produce an error;
// the returned error is reserved for execution-level failures (invalid
// options, planning failure, all models unavailable, a step using an unsafe
// tool without permission). On error no tool handler has run.
func (p *Pipeline) Execute(ctx context.Context, req Request) (*Result, error) {
	opts := req.Options.withDefaults()

	execID, err := gonanoid.New()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "generate execution id")
	}

	execCtx := p.execContext(ctx, req, opts)
	ctx = tracing.WithExecutionID(ctx, execID)
	if execCtx.TraceID != "" {
		ctx = tracing.WithTraceID(ctx, execCtx.TraceID)
	}
	ctx, span := tracing.StartSpan(ctx, "pipeline", "pipeline.execute",
		attribute.String("execution_id", execID))
	defer span.End()
	logger := p.logger.With().Str("execution_id", execID).Logger()

	start := time.Now()
	p.metrics.ExecutionsActive.Inc()
	defer p.metrics.ExecutionsActive.Dec()
	p.emit(telemetry.Event{
		Type:        telemetry.EventExecutionStart,
		ExecutionID: execID,
		TraceID:     execCtx.TraceID,
	})

	pl, planMeta, err := p.buildPlan(ctx, req, opts, execID)
	if err != nil {
		span.RecordError(err)
		logger.Error().Err(err).Msg("Execution aborted before any step ran")
		p.finish(execID, execCtx.TraceID, start, "error")
		return nil, err
	}

	levels, err := plan.Levels(pl)
	if err != nil {
		p.finish(execID, execCtx.TraceID, start, "error")
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	steps := p.runLevels(runCtx, pl, levels, opts, execCtx, execID)

	success := true
	for _, s := range steps {
		if !s.Success {
			success = false
			break
		}
	}

	result := &Result{
		ExecutionID: execID,
		Steps:       steps,
		Success:     success,
		FinalOutput: opts.Aggregator(steps),
		TotalTime:   time.Since(start),
		Metadata:    planMeta,
	}

	status := "success"
	if !success {
		status = "failure"
	}
	p.finish(execID, execCtx.TraceID, start, status)
	logger.Info().
		Bool("success", success).
		Int("steps", len(steps)).
		Dur("total_time", result.TotalTime).
		Msg("Execution finished")
	return result, nil
}

// execContext copies the caller's ExecutionContext so per-execution settings
// never leak back, and ensures a trace ID and step timeout are set.
func (p *Pipeline) execContext(ctx context.Context, req Request, opts Options) *tool.ExecutionContext {
	ec := tool.ExecutionContext{}
	if req.Context != nil {
		ec = *req.Context
	}
	if ec.TraceID == "" {
		if id := tracing.GetTraceID(ctx); id != "" {
			ec.TraceID = id
		} else {
			ec.TraceID = tracing.NewTraceID()
		}
	}
	ec.StepTimeout = opts.StepTimeout
	return &ec
}

// buildPlan produces the validated plan for this execution, either from
// caller-supplied steps or by asking the model router. Any failure here is
// fatal for the execution; no substitute plan is ever constructed.
func (p *Pipeline) buildPlan(ctx context.Context, req Request, opts Options, execID string) (*plan.Plan, map[string]interface{}, error) {
	meta := map[string]interface{}{}

	var (
		pl  *plan.Plan
		err error
	)
	switch {
	case opts.ProvidedSteps != nil:
		pl, err = p.parser.FromSteps(opts.ProvidedSteps, opts.Dependencies)
		meta["plan_source"] = "provided"
	case opts.AutoPlanning:
		pl, err = p.autoPlan(ctx, req, execID)
		meta["plan_source"] = "planner"
	default:
		return nil, nil, errors.Planning("no steps provided and auto planning disabled")
	}
	if err != nil {
		return nil, nil, err
	}

	for i, step := range pl.Steps {
		def, ok := p.registry.Get(step.Tool)
		if !ok {
			return nil, nil, errors.ToolNotFound(step.Tool)
		}
		if def.Unsafe && !opts.AllowUnsafeTools {
			return nil, nil, errors.Policy(step.Tool).
				WithContext("step", i).
				WithContext("reason", "unsafe tool not permitted for this execution")
		}
	}

	if pl.Reasoning != "" {
		meta["reasoning"] = pl.Reasoning
	}
	meta["confidence"] = pl.Confidence
	return pl, meta, nil
}

func (p *Pipeline) autoPlan(ctx context.Context, req Request, execID string) (*plan.Plan, error) {
	if p.router == nil {
		return nil, errors.Planning("auto planning requested but no model router is configured")
	}

	ctx, span := tracing.StartSpan(ctx, "pipeline", "pipeline.plan")
	defer span.End()

	p.emit(telemetry.Event{Type: telemetry.EventPlanningStart, ExecutionID: execID})

	resp, err := p.router.Complete(ctx, model.Request{
		Prompt:       planningUserPrompt(req.Input, req.History),
		SystemPrompt: planningSystemPrompt(p.registry),
		MaxTokens:    planningMaxTokens,
	})
	if err != nil {
		p.emit(telemetry.Event{
			Type:        telemetry.EventPlanningEnd,
			ExecutionID: execID,
			Data:        map[string]interface{}{"error": err.Error()},
		})
		if errors.IsKind(err, errors.KindModelsUnavailable) {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.KindPlanning, "planner call failed")
	}

	pl, err := p.parser.Parse(resp.Content)
	if err != nil {
		p.emit(telemetry.Event{
			Type:        telemetry.EventPlanningEnd,
			ExecutionID: execID,
			Model:       resp.Model,
			Data:        map[string]interface{}{"error": err.Error()},
		})
		return nil, err
	}

	p.emit(telemetry.Event{
		Type:        telemetry.EventPlanningEnd,
		ExecutionID: execID,
		Model:       resp.Model,
		Data: map[string]interface{}{
			"steps":      len(pl.Steps),
			"confidence": pl.Confidence,
		},
	})
	return pl, nil
}

func (p *Pipeline) finish(execID, traceID string, start time.Time, status string) {
	elapsed := time.Since(start)
	p.metrics.ExecutionsTotal.WithLabelValues(status).Inc()
	p.metrics.ExecutionDuration.Observe(elapsed.Seconds())
	p.emit(telemetry.Event{
		Type:        telemetry.EventExecutionEnd,
		ExecutionID: execID,
		TraceID:     traceID,
		Data:        map[string]interface{}{"status": status, "duration_ms": elapsed.Milliseconds()},
	})
}

func (p *Pipeline) emit(event telemetry.Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	p.sink.Record(event)
}
