package model

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/conductor-ai/conductor/internal/errors"
	"github.com/conductor-ai/conductor/internal/metrics"
	"github.com/conductor-ai/conductor/pkg/telemetry"
)

// RouterConfig configures a Router.
type RouterConfig struct {
	// Models is the provider table, tried in Priority order.
	Models []Config

	// Breaker tunes the per-model circuit breakers.
	Breaker BreakerConfig

	// MaxFallbackAttempts bounds how many providers one Complete call may
	// try. Zero means every configured model once.
	MaxFallbackAttempts int

	// Sink receives breaker transition and fallback events. Nil discards.
	Sink telemetry.Sink

	// Metrics records call counters. Optional.
	Metrics *metrics.Metrics

	// Logger for routing decisions. Nil uses the global logger.
	Logger *zerolog.Logger

	// NewProvider overrides provider construction, for tests.
	NewProvider func(Config) (Provider, error)
}

type routeEntry struct {
	cfg      Config
	provider Provider
	breaker  *Breaker
}

type usageTotals struct {
	calls        int64
	inputTokens  int64
	outputTokens int64
	cost         float64
}

// UsageReport summarizes accumulated usage for one model.
type UsageReport struct {
	Model        string  `json:"model"`
	Calls        int64   `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// Router selects an upstream model for each completion call, consulting each
// model's circuit breaker and falling back down the priority order. It is the
// single place retry and failover decisions are made; it exclusively owns the
// breaker state for its models.
type Router struct {
	mu          sync.RWMutex
	entries     []*routeEntry
	usage       map[string]*usageTotals
	maxAttempts int
	breakerCfg  BreakerConfig
	sink        telemetry.Sink
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	newProvider func(Config) (Provider, error)
}

// NewRouter builds a router from the model table.
func NewRouter(cfg RouterConfig) (*Router, error) {
	if len(cfg.Models) == 0 {
		return nil, errors.Validation("at least one model must be configured")
	}

	sink := cfg.Sink
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	newProvider := cfg.NewProvider
	if newProvider == nil {
		newProvider = NewProvider
	}

	r := &Router{
		usage:       make(map[string]*usageTotals),
		maxAttempts: cfg.MaxFallbackAttempts,
		breakerCfg:  cfg.Breaker,
		sink:        sink,
		metrics:     cfg.Metrics,
		logger:      logger,
		newProvider: newProvider,
	}

	if err := r.UpdateModels(cfg.Models); err != nil {
		return nil, err
	}
	return r, nil
}

// UpdateModels replaces the model table atomically. Breakers for models that
// survive the swap keep their state; new models start closed.
func (r *Router) UpdateModels(models []Config) error {
	if len(models) == 0 {
		return errors.Validation("model table cannot be empty")
	}

	sorted := make([]Config, len(models))
	copy(sorted, models)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	r.mu.Lock()
	defer r.mu.Unlock()

	existing := make(map[string]*Breaker, len(r.entries))
	for _, e := range r.entries {
		existing[e.cfg.Name] = e.breaker
	}

	entries := make([]*routeEntry, 0, len(sorted))
	for _, mc := range sorted {
		provider, err := r.newProvider(mc)
		if err != nil {
			return errors.Wrap(err, errors.KindValidation, "invalid model config").
				WithContext("model", mc.Name)
		}

		breaker, ok := existing[mc.Name]
		if !ok {
			breaker = NewBreaker(mc.Name, r.breakerCfg)
			breaker.OnTransition(r.breakerTransition)
		}

		entries = append(entries, &routeEntry{cfg: mc, provider: provider, breaker: breaker})
		if _, ok := r.usage[mc.Name]; !ok {
			r.usage[mc.Name] = &usageTotals{}
		}
	}

	r.entries = entries
	r.logger.Info().Int("models", len(entries)).Msg("Model table updated")
	return nil
}

// Complete routes one completion call.
//
// Models whose breaker is open are skipped without a network call. A failed
// call records on that model's breaker and falls through to the next
// priority; the same model is never retried within one call beyond the
// breaker's probe semantics.
func (r *Router) Complete(ctx context.Context, req Request) (*Response, error) {
	r.mu.RLock()
	entries := r.entries
	maxAttempts := r.maxAttempts
	r.mu.RUnlock()

	if maxAttempts <= 0 || maxAttempts > len(entries) {
		maxAttempts = len(entries)
	}

	attempts := 0
	var lastErr error

	for _, entry := range entries {
		if attempts >= maxAttempts {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := entry.breaker.Allow(); err != nil {
			r.logger.Debug().Str("model", entry.cfg.Name).Msg("Circuit open, skipping model")
			lastErr = err
			continue
		}

		attempts++
		start := time.Now()
		resp, err := entry.provider.Complete(ctx, req)
		elapsed := time.Since(start)

		if err != nil {
			if ctx.Err() != nil {
				// Cancellation is the caller's doing, not evidence against the model.
				return nil, ctx.Err()
			}

			entry.breaker.RecordFailure()
			lastErr = err
			r.recordCall(entry.cfg, elapsed, nil)
			r.logger.Warn().
				Str("model", entry.cfg.Name).
				Dur("duration", elapsed).
				Err(err).
				Msg("Model call failed, falling back")
			r.sink.Record(telemetry.Event{
				Type:  telemetry.EventModelFallback,
				Time:  time.Now(),
				Model: entry.cfg.Name,
				Data:  map[string]interface{}{"error": err.Error()},
			})
			if r.metrics != nil {
				r.metrics.ModelFallbacks.Inc()
			}
			continue
		}

		entry.breaker.RecordSuccess()
		resp.Cost = float64(resp.Usage.InputTokens+resp.Usage.OutputTokens) * entry.cfg.CostPerToken
		if resp.Model == "" {
			resp.Model = entry.cfg.Name
		}
		r.recordCall(entry.cfg, elapsed, resp)
		return resp, nil
	}

	err := errors.ModelsUnavailable(attempts)
	err.Inner = lastErr
	return nil, err
}

// BreakerStates snapshots every model's breaker state.
func (r *Router) BreakerStates() map[string]BreakerState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make(map[string]BreakerState, len(r.entries))
	for _, e := range r.entries {
		states[e.cfg.Name] = e.breaker.State()
	}
	return states
}

// ResetBreaker forces the named model's breaker closed. Explicit admin action.
func (r *Router) ResetBreaker(model string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e.cfg.Name == model {
			e.breaker.Reset()
			return true
		}
	}
	return false
}

// Usage reports accumulated per-model usage.
func (r *Router) Usage() []UsageReport {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reports := make([]UsageReport, 0, len(r.usage))
	for name, u := range r.usage {
		reports = append(reports, UsageReport{
			Model:        name,
			Calls:        u.calls,
			InputTokens:  u.inputTokens,
			OutputTokens: u.outputTokens,
			Cost:         u.cost,
		})
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Model < reports[j].Model })
	return reports
}

func (r *Router) recordCall(cfg Config, elapsed time.Duration, resp *Response) {
	status := "success"
	if resp == nil {
		status = "error"
	}

	if r.metrics != nil {
		r.metrics.ModelCallsTotal.WithLabelValues(cfg.Name, status).Inc()
		r.metrics.ModelCallDuration.WithLabelValues(cfg.Name).Observe(elapsed.Seconds())
		if resp != nil {
			r.metrics.ModelTokensTotal.WithLabelValues(cfg.Name, "input").Add(float64(resp.Usage.InputTokens))
			r.metrics.ModelTokensTotal.WithLabelValues(cfg.Name, "output").Add(float64(resp.Usage.OutputTokens))
		}
	}

	if resp == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.usage[cfg.Name]
	if !ok {
		u = &usageTotals{}
		r.usage[cfg.Name] = u
	}
	u.calls++
	u.inputTokens += int64(resp.Usage.InputTokens)
	u.outputTokens += int64(resp.Usage.OutputTokens)
	u.cost += resp.Cost
}

func (r *Router) breakerTransition(model string, from, to BreakerState) {
	r.logger.Info().
		Str("model", model).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Circuit breaker transition")

	r.sink.Record(telemetry.Event{
		Type:  telemetry.EventBreakerChange,
		Time:  time.Now(),
		Model: model,
		Data: map[string]interface{}{
			"from": from.String(),
			"to":   to.String(),
		},
	})

	if r.metrics != nil {
		r.metrics.BreakerState.WithLabelValues(model).Set(float64(to))
		r.metrics.BreakerTransitions.WithLabelValues(model, to.String()).Inc()
	}
}
