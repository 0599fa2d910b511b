// Package plan converts raw planner output into validated execution plans.
package plan

import "time"

// DefaultConfidence is assumed when the planner omits a confidence score.
const DefaultConfidence = 0.5

// DefaultEstimatedTime is assumed when the planner omits an estimate.
const DefaultEstimatedTime = 30 * time.Second

// Step is one tool invocation with concrete arguments.
type Step struct {
	Tool string                 `json:"tool"`
	Args map[string]interface{} `json:"args"`
}

// Plan is a validated, ordered set of steps. It is a value produced once per
// planning call and never mutated afterwards.
//
// A plan with zero steps is valid and means "do nothing". A failed parse
// never degrades into a plan; in particular no step is ever fabricated from
// the raw user request.
type Plan struct {
	Steps []Step `json:"steps"`

	// Reasoning is the planner's free-text justification. Informational only.
	Reasoning string `json:"reasoning,omitempty"`

	// Confidence is the planner's self-reported score in [0, 1].
	Confidence float64 `json:"confidence"`

	// Dependencies maps a step index to the indices that must finish first.
	Dependencies map[int][]int `json:"dependencies,omitempty"`

	// EstimatedTime is the planner's runtime estimate.
	EstimatedTime time.Duration `json:"estimated_time_ns"`
}

// DependsOn returns the prerequisite indices for a step.
func (p *Plan) DependsOn(step int) []int {
	if p.Dependencies == nil {
		return nil
	}
	return p.Dependencies[step]
}
