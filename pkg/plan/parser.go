package plan

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/conductor-ai/conductor/internal/errors"
	"github.com/conductor-ai/conductor/pkg/tool"
)

// Parser validates raw planner responses against the tool registry and an
// optional allowlist.
//
// Parsing is strict: invalid JSON, a missing or non-array "steps" field, or a
// step referencing an unknown or disallowed tool all fail with a planning
// error. The parser never recovers from a failure by building a substitute
// plan; the request text is untrusted and must not reach a command tool
// except through an explicit, schema-validated step.
type Parser struct {
	registry  *tool.Registry
	allowlist *tool.Allowlist
}

// NewParser creates a parser bound to a registry and allowlist.
func NewParser(registry *tool.Registry, allowlist *tool.Allowlist) *Parser {
	return &Parser{registry: registry, allowlist: allowlist}
}

// rawPlan mirrors the planner's wire format. Pointers distinguish absent
// optional fields from present-but-zero ones.
type rawPlan struct {
	Steps           *[]rawStep       `json:"steps"`
	Reasoning       *string          `json:"reasoning"`
	Confidence      *float64         `json:"confidence"`
	Dependencies    map[string][]int `json:"dependencies"`
	EstimatedTimeMs *int64           `json:"estimatedTimeMs"`
}

type rawStep struct {
	Tool string                 `json:"tool"`
	Args map[string]interface{} `json:"args"`
}

// Parse converts a raw planner response into a Plan.
func (p *Parser) Parse(response string) (*Plan, error) {
	payload := stripFences(response)
	if strings.TrimSpace(payload) == "" {
		return nil, errors.Planning("planner returned an empty response")
	}

	// Unmarshal rather than a Decoder so trailing garbage after the JSON
	// value is rejected.
	var raw rawPlan
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, errors.Wrap(err, errors.KindPlanning, "planner response is not valid JSON")
	}

	if raw.Steps == nil {
		return nil, errors.Planning("planner response is missing a steps array")
	}

	steps := make([]Step, 0, len(*raw.Steps))
	for i, rs := range *raw.Steps {
		if rs.Tool == "" {
			return nil, errors.Planningf("step %d has no tool name", i)
		}
		if !p.registry.Has(rs.Tool) {
			return nil, errors.Planningf("step %d references unknown tool: %s", i, rs.Tool)
		}
		if !p.allowlist.Allowed(rs.Tool) {
			return nil, errors.Planningf("step %d references disallowed tool: %s", i, rs.Tool)
		}

		args := rs.Args
		if args == nil {
			args = map[string]interface{}{}
		}
		steps = append(steps, Step{Tool: rs.Tool, Args: args})
	}

	deps, err := parseDependencies(raw.Dependencies, len(steps))
	if err != nil {
		return nil, err
	}
	if err := checkAcyclic(deps, len(steps)); err != nil {
		return nil, err
	}

	plan := &Plan{
		Steps:         steps,
		Confidence:    DefaultConfidence,
		Dependencies:  deps,
		EstimatedTime: DefaultEstimatedTime,
	}

	if raw.Reasoning != nil {
		plan.Reasoning = *raw.Reasoning
	}
	if raw.Confidence != nil {
		c := *raw.Confidence
		if c < 0 || c > 1 {
			return nil, errors.Planningf("confidence %v outside [0, 1]", c)
		}
		plan.Confidence = c
	}
	if raw.EstimatedTimeMs != nil {
		if *raw.EstimatedTimeMs < 0 {
			return nil, errors.Planning("estimatedTimeMs cannot be negative")
		}
		plan.EstimatedTime = time.Duration(*raw.EstimatedTimeMs) * time.Millisecond
	}

	return plan, nil
}

// FromSteps builds a plan from caller-supplied steps, bypassing the planner
// but keeping the same tool and dependency validation.
func (p *Parser) FromSteps(steps []Step, deps map[int][]int) (*Plan, error) {
	for i, s := range steps {
		if s.Tool == "" {
			return nil, errors.Planningf("step %d has no tool name", i)
		}
		if !p.registry.Has(s.Tool) {
			return nil, errors.Planningf("step %d references unknown tool: %s", i, s.Tool)
		}
		if !p.allowlist.Allowed(s.Tool) {
			return nil, errors.Planningf("step %d references disallowed tool: %s", i, s.Tool)
		}
	}
	for step, prereqs := range deps {
		if step < 0 || step >= len(steps) {
			return nil, errors.Planningf("dependency for out-of-range step %d", step)
		}
		for _, d := range prereqs {
			if d < 0 || d >= len(steps) {
				return nil, errors.Planningf("step %d depends on out-of-range step %d", step, d)
			}
			if d == step {
				return nil, errors.Planningf("step %d depends on itself", step)
			}
		}
	}
	if err := checkAcyclic(deps, len(steps)); err != nil {
		return nil, err
	}

	copied := make([]Step, len(steps))
	copy(copied, steps)
	return &Plan{
		Steps:         copied,
		Confidence:    1.0,
		Dependencies:  deps,
		EstimatedTime: DefaultEstimatedTime,
	}, nil
}

func parseDependencies(raw map[string][]int, stepCount int) (map[int][]int, error) {
	deps := make(map[int][]int, len(raw))
	for key, prereqs := range raw {
		step, err := strconv.Atoi(key)
		if err != nil {
			return nil, errors.Planningf("dependency key %q is not a step index", key)
		}
		if step < 0 || step >= stepCount {
			return nil, errors.Planningf("dependency for out-of-range step %d", step)
		}
		for _, d := range prereqs {
			if d < 0 || d >= stepCount {
				return nil, errors.Planningf("step %d depends on out-of-range step %d", step, d)
			}
			if d == step {
				return nil, errors.Planningf("step %d depends on itself", step)
			}
		}
		deps[step] = prereqs
	}
	return deps, nil
}

// stripFences removes a markdown code fence wrapper, which planners routinely
// add around JSON output.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		// Drop the language tag line (e.g. "json").
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
