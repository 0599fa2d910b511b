package pipeline

import (
	"fmt"
	"strings"

	"github.com/conductor-ai/conductor/pkg/tool"
)

const planningMaxTokens = 2048

const planningPreamble = `You are a task planner. Convert the user's request into a JSON plan.

Respond with a single JSON object and nothing else:

{
  "steps": [{"tool": "<name>", "args": {...}}],
  "reasoning": "<one sentence>",
  "confidence": <0.0-1.0>,
  "dependencies": {"<step index>": [<prerequisite indices>]},
  "estimatedTimeMs": <integer>
}

Rules:
- Use only the tools listed below, with exactly the arguments they declare.
- If the request needs no action, return {"steps": []}.
- If the request cannot be satisfied with the listed tools, return {"steps": []} and say why in "reasoning". Never invent a tool.`

// planningUserPrompt prefixes the request with prior conversation turns so
// the planner can resolve references like "that file".
func planningUserPrompt(input string, history []string) string {
	if len(history) == 0 {
		return input
	}
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, turn := range history {
		b.WriteString(turn)
		b.WriteString("\n")
	}
	b.WriteString("\nCurrent request: ")
	b.WriteString(input)
	return b.String()
}

// planningSystemPrompt renders the planner instructions plus the current tool
// catalog. Rebuilt per call so late registrations are visible.
func planningSystemPrompt(registry *tool.Registry) string {
	var b strings.Builder
	b.WriteString(planningPreamble)
	b.WriteString("\n\nAvailable tools:\n")

	for _, name := range registry.List() {
		def, ok := registry.Get(name)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", def.Name, def.Description)
		for _, param := range def.Parameters {
			required := "optional"
			if param.Required {
				required = "required"
			}
			fmt.Fprintf(&b, "    %s (%s, %s): %s\n", param.Name, param.Type, required, param.Description)
		}
	}
	return b.String()
}
