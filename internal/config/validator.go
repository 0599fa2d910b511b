package config

import (
	"fmt"
	"strings"
)

var knownProviders = map[string]bool{
	"anthropic": true,
	"openai":    true,
	"stub":      true,
}

// Validate checks the configuration for mistakes that would only surface at
// request time: bad provider names, duplicate models, malformed keys.
func Validate(cfg *Config) error {
	seen := map[string]bool{}
	for i, m := range cfg.Models {
		if strings.TrimSpace(m.Name) == "" {
			return fmt.Errorf("models[%d]: name is required", i)
		}
		if seen[m.Name] {
			return fmt.Errorf("models[%d]: duplicate model %q", i, m.Name)
		}
		seen[m.Name] = true

		if !knownProviders[m.Provider] {
			return fmt.Errorf("models[%d]: unknown provider %q", i, m.Provider)
		}
		if err := validateAPIKey(m.APIKey, m.Provider); err != nil {
			return fmt.Errorf("models[%d]: %w", i, err)
		}
		if m.CostPerToken < 0 {
			return fmt.Errorf("models[%d]: cost_per_token cannot be negative", i)
		}
	}

	if cfg.Routing.MaxFallbackAttempts < 0 {
		return fmt.Errorf("routing: max_fallback_attempts cannot be negative")
	}
	if cfg.Pipeline.MaxParallelism < 0 {
		return fmt.Errorf("pipeline: max_parallelism cannot be negative")
	}
	if cfg.Gateway.Enabled && (cfg.Gateway.Port < 1 || cfg.Gateway.Port > 65535) {
		return fmt.Errorf("gateway: port %d out of range", cfg.Gateway.Port)
	}

	switch cfg.Logging.Level {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging: unknown level %q", cfg.Logging.Level)
	}

	return nil
}

func validateAPIKey(key, provider string) error {
	switch provider {
	case "anthropic":
		if key == "" {
			return fmt.Errorf("anthropic API key is required")
		}
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("anthropic API keys start with sk-ant-")
		}
	case "openai":
		if key == "" {
			return fmt.Errorf("openai API key is required")
		}
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("openai API keys start with sk-")
		}
	}
	// Stub models need no key.
	return nil
}
