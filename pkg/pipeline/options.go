package pipeline

import (
	"time"

	"github.com/conductor-ai/conductor/pkg/plan"
)

const (
	// DefaultMaxParallelism caps concurrent steps within one execution.
	DefaultMaxParallelism = 4

	// DefaultTimeout bounds a whole execution.
	DefaultTimeout = 5 * time.Minute

	// DefaultStepTimeout bounds each individual step.
	DefaultStepTimeout = 30 * time.Second
)

// Aggregator combines the ordered step results into the execution's final
// output. It must be a pure function of its input.
type Aggregator func(steps []StepResult) interface{}

// Options tunes a single execution.
type Options struct {
	// AutoPlanning asks the model router for a plan built from the request
	// text. Ignored when ProvidedSteps is non-nil.
	AutoPlanning bool `json:"auto_planning"`

	// ProvidedSteps bypasses planning with a caller-supplied step list.
	ProvidedSteps []plan.Step `json:"provided_steps,omitempty"`

	// Dependencies orders ProvidedSteps; keys and values are step indices.
	Dependencies map[int][]int `json:"dependencies,omitempty"`

	// AllowUnsafeTools permits steps that run tools marked unsafe.
	AllowUnsafeTools bool `json:"allow_unsafe_tools"`

	// MaxParallelism caps concurrently running steps. Zero means the default.
	MaxParallelism int `json:"max_parallelism,omitempty"`

	// Timeout bounds the whole execution. Zero means the default.
	Timeout time.Duration `json:"timeout,omitempty"`

	// StepTimeout bounds each step. Zero means the default.
	StepTimeout time.Duration `json:"step_timeout,omitempty"`

	// ContinueOnError runs every step regardless of earlier failures. The
	// execution still reports success only when all steps succeeded.
	ContinueOnError bool `json:"continue_on_error"`

	// Aggregator overrides the default final-output derivation.
	Aggregator Aggregator `json:"-"`
}

func (o Options) withDefaults() Options {
	if o.MaxParallelism <= 0 {
		o.MaxParallelism = DefaultMaxParallelism
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.StepTimeout <= 0 {
		o.StepTimeout = DefaultStepTimeout
	}
	if o.Aggregator == nil {
		o.Aggregator = lastSuccessfulOutput
	}
	return o
}

// lastSuccessfulOutput is the default aggregator: the output of the last
// step (in plan order) that succeeded, or nil when none did.
func lastSuccessfulOutput(steps []StepResult) interface{} {
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Success {
			return steps[i].Output
		}
	}
	return nil
}
