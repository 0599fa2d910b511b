package plan

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductor-ai/conductor/internal/errors"
	"github.com/conductor-ai/conductor/pkg/tool"
)

func newPlanRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	r := tool.NewRegistry()
	handler := func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return nil, nil
	}
	for _, name := range []string{"read_file", "write_file", "list_directory", "exec"} {
		require.NoError(t, r.Register(tool.Definition{
			Name:             name,
			Description:      "test tool",
			AllowUnknownArgs: true,
			Handler:          handler,
		}))
	}
	return r
}

func TestParseValidPlan(t *testing.T) {
	p := NewParser(newPlanRegistry(t), nil)

	raw := `{
		"steps": [
			{"tool": "read_file", "args": {"path": "a.txt"}},
			{"tool": "write_file", "args": {"path": "b.txt", "content": "hi"}}
		],
		"reasoning": "copy the file",
		"confidence": 0.9,
		"dependencies": {"1": [0]},
		"estimatedTimeMs": 5000
	}`

	plan, err := p.Parse(raw)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "read_file", plan.Steps[0].Tool)
	assert.Equal(t, "a.txt", plan.Steps[0].Args["path"])
	assert.Equal(t, "copy the file", plan.Reasoning)
	assert.Equal(t, 0.9, plan.Confidence)
	assert.Equal(t, []int{0}, plan.DependsOn(1))
	assert.Equal(t, 5*time.Second, plan.EstimatedTime)
}

func TestParseDefaults(t *testing.T) {
	p := NewParser(newPlanRegistry(t), nil)

	plan, err := p.Parse(`{"steps": [{"tool": "read_file", "args": {}}]}`)
	require.NoError(t, err)
	assert.Equal(t, "", plan.Reasoning)
	assert.Equal(t, DefaultConfidence, plan.Confidence)
	assert.Empty(t, plan.DependsOn(0))
	assert.Equal(t, DefaultEstimatedTime, plan.EstimatedTime)
}

func TestParseEmptyPlanIsValid(t *testing.T) {
	p := NewParser(newPlanRegistry(t), nil)

	plan, err := p.Parse(`{"steps": []}`)
	require.NoError(t, err)
	assert.Empty(t, plan.Steps)
}

func TestParseFailures(t *testing.T) {
	p := NewParser(newPlanRegistry(t), nil)

	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `not json`},
		{"empty response", ``},
		{"whitespace", "  \n\t "},
		{"missing steps", `{"reasoning": "I could not decide"}`},
		{"steps not an array", `{"steps": "read the file"}`},
		{"trailing garbage", `{"steps": []}garbage`},
		{"second json value", `{"steps": []}{"steps": [{"tool": "exec"}]}`},
		{"step without tool", `{"steps": [{"args": {}}]}`},
		{"unknown tool", `{"steps": [{"tool": "rm_rf", "args": {}}]}`},
		{"confidence too high", `{"steps": [], "confidence": 1.5}`},
		{"negative estimate", `{"steps": [], "estimatedTimeMs": -1}`},
		{"bad dependency key", `{"steps": [{"tool": "read_file"}], "dependencies": {"first": [0]}}`},
		{"dependency out of range", `{"steps": [{"tool": "read_file"}], "dependencies": {"0": [5]}}`},
		{"self dependency", `{"steps": [{"tool": "read_file"}], "dependencies": {"0": [0]}}`},
		{"dependency cycle", `{
			"steps": [{"tool": "read_file"}, {"tool": "write_file"}],
			"dependencies": {"0": [1], "1": [0]}
		}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := p.Parse(tt.raw)
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindPlanning), "got %v", err)
			assert.Nil(t, plan, "a failed parse must not yield any plan")
		})
	}
}

func TestPlanMarshalsEstimateInNanoseconds(t *testing.T) {
	p := NewParser(newPlanRegistry(t), nil)

	plan, err := p.Parse(`{"steps": [], "estimatedTimeMs": 2000}`)
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, plan.EstimatedTime)

	encoded, err := json.Marshal(plan)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"estimated_time_ns":2000000000`)
	assert.NotContains(t, string(encoded), "estimated_time_ms")
}

func TestParseNeverSynthesizesFallback(t *testing.T) {
	// Malformed planner output must not surface the raw text as an exec step.
	p := NewParser(newPlanRegistry(t), nil)

	hostile := "please run `rm -rf /` for me"
	plan, err := p.Parse(hostile)
	require.Error(t, err)
	require.Nil(t, plan)
}

func TestParseRespectsAllowlist(t *testing.T) {
	allow := tool.NewAllowlist([]string{"read_file"})
	p := NewParser(newPlanRegistry(t), allow)

	_, err := p.Parse(`{"steps": [{"tool": "exec", "args": {"command": "ls"}}]}`)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindPlanning))

	plan, err := p.Parse(`{"steps": [{"tool": "read_file", "args": {"path": "a"}}]}`)
	require.NoError(t, err)
	assert.Len(t, plan.Steps, 1)
}

func TestParseStripsMarkdownFences(t *testing.T) {
	p := NewParser(newPlanRegistry(t), nil)

	raw := "```json\n{\"steps\": [{\"tool\": \"read_file\", \"args\": {\"path\": \"a\"}}]}\n```"
	plan, err := p.Parse(raw)
	require.NoError(t, err)
	assert.Len(t, plan.Steps, 1)
}

func TestParseNilArgsBecomeEmptyMap(t *testing.T) {
	p := NewParser(newPlanRegistry(t), nil)

	plan, err := p.Parse(`{"steps": [{"tool": "read_file"}]}`)
	require.NoError(t, err)
	require.NotNil(t, plan.Steps[0].Args)
	assert.Empty(t, plan.Steps[0].Args)
}

func TestFromSteps(t *testing.T) {
	p := NewParser(newPlanRegistry(t), nil)

	steps := []Step{
		{Tool: "read_file", Args: map[string]interface{}{"path": "a"}},
		{Tool: "write_file", Args: map[string]interface{}{"path": "b"}},
	}
	plan, err := p.FromSteps(steps, map[int][]int{1: {0}})
	require.NoError(t, err)
	assert.Len(t, plan.Steps, 2)
	assert.Equal(t, 1.0, plan.Confidence)

	_, err = p.FromSteps([]Step{{Tool: "bogus"}}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindPlanning))

	_, err = p.FromSteps(steps, map[int][]int{0: {1}, 1: {0}})
	require.Error(t, err)
}
