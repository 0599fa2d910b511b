// Package model routes completion calls across upstream providers with
// per-model circuit breaking and priority fallback.
package model

import "context"

// Config describes one upstream model. Loaded once at startup and treated as
// read-only; the router may be handed a replacement table at runtime.
type Config struct {
	// Name is the model identifier sent to the provider (e.g. claude-sonnet-4-5).
	Name string `json:"name" mapstructure:"name"`

	// Provider selects the SDK: anthropic, openai, or stub.
	Provider string `json:"provider" mapstructure:"provider"`

	// APIKey authenticates against the provider.
	APIKey string `json:"api_key" mapstructure:"api_key"`

	// CostPerToken is the blended cost in USD used for usage accounting.
	CostPerToken float64 `json:"cost_per_token" mapstructure:"cost_per_token"`

	// Priority orders fallback; lower values are tried first.
	Priority int `json:"priority" mapstructure:"priority"`
}

// Request is a completion request.
type Request struct {
	Prompt       string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is a completion response with usage metadata.
type Response struct {
	Content string  `json:"content"`
	Model   string  `json:"model"`
	Usage   Usage   `json:"usage"`
	Cost    float64 `json:"cost"`
}

// Provider is a single upstream completion API.
type Provider interface {
	// Complete performs one completion call.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Name returns the provider name.
	Name() string
}
