package model

import (
	"context"
	"fmt"
	"sync/atomic"
)

// NewProvider creates a provider from a model config.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey, cfg.Name), nil
	case "openai":
		return NewOpenAIProvider(cfg.APIKey, cfg.Name), nil
	case "stub":
		return NewStubProvider(cfg.Name), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// StubProvider returns canned responses. Used in tests and dry runs.
type StubProvider struct {
	model    string
	response atomic.Value // string
	fail     atomic.Bool
	calls    atomic.Int64
}

// NewStubProvider creates a stub echoing a fixed response.
func NewStubProvider(model string) *StubProvider {
	p := &StubProvider{model: model}
	p.response.Store(`{"steps": []}`)
	return p
}

// SetResponse changes the canned response.
func (p *StubProvider) SetResponse(s string) {
	p.response.Store(s)
}

// SetFailing toggles failure mode.
func (p *StubProvider) SetFailing(fail bool) {
	p.fail.Store(fail)
}

// Calls returns how many completions were attempted.
func (p *StubProvider) Calls() int64 {
	return p.calls.Load()
}

// Name returns the provider name.
func (p *StubProvider) Name() string {
	return "stub"
}

// Complete implements Provider.
func (p *StubProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	p.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.fail.Load() {
		return nil, fmt.Errorf("stub provider failing on purpose")
	}
	content := p.response.Load().(string)
	return &Response{
		Content: content,
		Model:   p.model,
		Usage: Usage{
			InputTokens:  len(req.Prompt) / 4,
			OutputTokens: len(content) / 4,
		},
	}, nil
}
