package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/conductor-ai/conductor/internal/errors"
	"github.com/conductor-ai/conductor/internal/tracing"
	"github.com/conductor-ai/conductor/pkg/plan"
	"github.com/conductor-ai/conductor/pkg/telemetry"
	"github.com/conductor-ai/conductor/pkg/tool"
)

// runLevels executes the plan level by level. Every step in a level has all
// of its prerequisites completed, so a level's steps run concurrently up to
// MaxParallelism. Results are indexed by plan-declared step order.
//
// Failure policy: by default a failed step halts scheduling of its transitive
// dependents, which are recorded as skipped; steps independent of the failure
// still run. With ContinueOnError every step is scheduled regardless.
// If the execution deadline elapses, in-flight steps are cancelled through
// their context and unstarted steps are recorded as skipped with a timeout.
func (p *Pipeline) runLevels(ctx context.Context, pl *plan.Plan, levels [][]int, opts Options, execCtx *tool.ExecutionContext, execID string) []StepResult {
	results := make([]StepResult, len(pl.Steps))
	for i, step := range pl.Steps {
		results[i] = StepResult{Index: i, Tool: step.Tool}
	}

	sem := make(chan struct{}, opts.MaxParallelism)

	for _, level := range levels {
		var wg sync.WaitGroup
		for _, idx := range level {
			if ctx.Err() != nil {
				results[idx].Skipped = true
				results[idx].Error = "execution deadline exceeded before step started"
				results[idx].ErrorKind = errors.KindTimeout.String()
				continue
			}
			if !opts.ContinueOnError {
				if dep, ok := unmetPrereq(pl, idx, results); ok {
					results[idx].Skipped = true
					results[idx].Error = fmt.Sprintf("skipped: prerequisite step %d did not succeed", dep)
					continue
				}
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[idx].Skipped = true
				results[idx].Error = "execution deadline exceeded before step started"
				results[idx].ErrorKind = errors.KindTimeout.String()
				continue
			}

			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				defer func() { <-sem }()
				results[idx] = p.runStep(ctx, idx, pl.Steps[idx], execCtx, execID)
			}(idx)
		}
		// Dependent levels must observe every prerequisite's StepResult.
		wg.Wait()
	}
	return results
}

// unmetPrereq reports the first prerequisite of idx that did not succeed.
// Prerequisite results are final by the time a step is considered: levels are
// separated by wg.Wait, so each prerequisite has either succeeded, failed, or
// been skipped itself. Skipped prerequisites propagate, which is what makes
// the skip transitive.
func unmetPrereq(pl *plan.Plan, idx int, results []StepResult) (int, bool) {
	for _, dep := range pl.DependsOn(idx) {
		if !results[dep].Success {
			return dep, true
		}
	}
	return 0, false
}

func (p *Pipeline) runStep(ctx context.Context, idx int, step plan.Step, execCtx *tool.ExecutionContext, execID string) StepResult {
	ctx, span := tracing.StartSpan(ctx, "pipeline", "pipeline.step",
		attribute.String("tool", step.Tool),
		attribute.Int("step_index", idx))
	defer span.End()

	p.emit(telemetry.Event{
		Type:        telemetry.EventStepStart,
		ExecutionID: execID,
		TraceID:     execCtx.TraceID,
		Tool:        step.Tool,
		StepIndex:   idx,
	})

	start := time.Now()
	inv, err := p.executive.Invoke(ctx, step.Tool, step.Args, execCtx)
	elapsed := time.Since(start)

	result := StepResult{Index: idx, Tool: step.Tool, Latency: elapsed}
	if err != nil {
		span.RecordError(err)
		result.Error = err.Error()
		result.ErrorKind = errors.KindOf(err).String()
		p.metrics.StepErrors.WithLabelValues(step.Tool, result.ErrorKind).Inc()
		p.metrics.StepsTotal.WithLabelValues(step.Tool, "failure").Inc()
	} else {
		result.Success = true
		result.Output = inv.Output
		result.Truncated = inv.Truncated
		result.Latency = inv.Latency
		p.metrics.StepsTotal.WithLabelValues(step.Tool, "success").Inc()
	}
	p.metrics.StepDuration.WithLabelValues(step.Tool).Observe(elapsed.Seconds())

	event := telemetry.Event{
		Type:        telemetry.EventStepEnd,
		ExecutionID: execID,
		TraceID:     execCtx.TraceID,
		Tool:        step.Tool,
		StepIndex:   idx,
		Data: map[string]interface{}{
			"success":     result.Success,
			"duration_ms": elapsed.Milliseconds(),
		},
	}
	if result.Error != "" {
		event.Data["error"] = result.Error
	}
	p.emit(event)
	return result
}
