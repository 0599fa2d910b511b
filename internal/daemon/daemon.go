// Package daemon assembles the conductor runtime: tool registry, model
// router, pipeline, queue, and gateway, wired from configuration.
package daemon

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/conductor-ai/conductor/internal/config"
	"github.com/conductor-ai/conductor/internal/logger"
	"github.com/conductor-ai/conductor/internal/metrics"
	"github.com/conductor-ai/conductor/internal/tracing"
	"github.com/conductor-ai/conductor/pkg/coretools"
	"github.com/conductor-ai/conductor/pkg/gateway"
	"github.com/conductor-ai/conductor/pkg/model"
	"github.com/conductor-ai/conductor/pkg/pipeline"
	"github.com/conductor-ai/conductor/pkg/plan"
	"github.com/conductor-ai/conductor/pkg/store"
	"github.com/conductor-ai/conductor/pkg/telemetry"
	"github.com/conductor-ai/conductor/pkg/tool"
)

// Daemon is the assembled runtime.
type Daemon struct {
	cfg    *config.Config
	log    *logger.Logger
	zl     zerolog.Logger
	loader *config.Loader

	registry    *tool.Registry
	executive   *tool.Executive
	router      *model.Router
	pipeline    *pipeline.Pipeline
	queue       *pipeline.Queue
	gateway     *gateway.Server
	broadcaster *telemetry.Broadcaster
	metrics     *metrics.Metrics
	watcher     *config.Watcher

	mu        sync.RWMutex
	running   bool
	startTime time.Time
}

// New builds a daemon from configuration. Nothing starts until Start.
func New(cfg *config.Config, log *logger.Logger, loader *config.Loader) (*Daemon, error) {
	zl := log.Zerolog()

	if err := tracing.InitOpenTelemetry("conductor"); err != nil {
		zl.Warn().Err(err).Msg("Tracing disabled")
	}

	d := &Daemon{
		cfg:         cfg,
		log:         log,
		zl:          zl,
		loader:      loader,
		metrics:     metrics.New(),
		broadcaster: telemetry.NewBroadcaster(256),
	}

	if err := d.buildToolLayer(); err != nil {
		return nil, err
	}
	if err := d.buildRouter(); err != nil {
		return nil, err
	}
	if err := d.buildPipeline(); err != nil {
		return nil, err
	}
	if cfg.Gateway.Enabled {
		if cfg.Gateway.AuthToken == "" {
			zl.Warn().Msg("Gateway disabled: no auth token configured")
		} else if err := d.buildGateway(); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *Daemon) buildToolLayer() error {
	d.registry = tool.NewRegistry()
	if err := coretools.Register(d.registry, coretools.Options{
		WorkspaceRoot: d.cfg.WorkspacePath,
		EnableExec:    d.cfg.Tools.EnableExec,
	}); err != nil {
		return fmt.Errorf("register core tools: %w", err)
	}

	var allowlist *tool.Allowlist
	if len(d.cfg.Tools.Allowlist) > 0 {
		allowlist = tool.NewAllowlist(d.cfg.Tools.Allowlist)
	}
	d.executive = tool.NewExecutive(d.registry, tool.ExecutiveConfig{
		Allowlist:      allowlist,
		DefaultTimeout: time.Duration(d.cfg.Pipeline.StepTimeoutSecs) * time.Second,
		Logger:         &d.zl,
	})
	return nil
}

func (d *Daemon) buildRouter() error {
	if len(d.cfg.Models) == 0 {
		d.zl.Warn().Msg("No models configured, auto planning is unavailable")
		return nil
	}
	router, err := model.NewRouter(model.RouterConfig{
		Models:              d.cfg.Models,
		Breaker:             d.cfg.Routing.Breaker(),
		MaxFallbackAttempts: d.cfg.Routing.MaxFallbackAttempts,
		Sink:                d.broadcaster,
		Metrics:             d.metrics,
		Logger:              &d.zl,
	})
	if err != nil {
		return fmt.Errorf("build model router: %w", err)
	}
	d.router = router
	return nil
}

func (d *Daemon) buildPipeline() error {
	var allowlist *tool.Allowlist
	if len(d.cfg.Tools.Allowlist) > 0 {
		allowlist = tool.NewAllowlist(d.cfg.Tools.Allowlist)
	}

	p, err := pipeline.New(pipeline.Config{
		Registry:  d.registry,
		Executive: d.executive,
		Router:    d.router,
		Parser:    plan.NewParser(d.registry, allowlist),
		Sink:      telemetry.NewMultiSink(d.broadcaster, telemetry.NewLogSink(d.zl)),
		Metrics:   d.metrics,
		Logger:    &d.zl,
	})
	if err != nil {
		return err
	}
	d.pipeline = p

	var resultStore store.ResultStore
	if d.cfg.Queue.Persist && d.cfg.Queue.DatabaseFile != "" {
		if err := os.MkdirAll(d.cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
		resultStore, err = store.NewSQLiteStore(d.cfg.Queue.DatabaseFile)
		if err != nil {
			return fmt.Errorf("open result store: %w", err)
		}
	}

	queue, err := pipeline.NewQueue(pipeline.QueueConfig{
		Pipeline:  p,
		Store:     resultStore,
		Workers:   d.cfg.Queue.Workers,
		Retention: time.Duration(d.cfg.Queue.RetentionHrs) * time.Hour,
		Logger:    &d.zl,
	})
	if err != nil {
		return err
	}
	d.queue = queue
	return nil
}

func (d *Daemon) buildGateway() error {
	srv, err := gateway.NewServer(gateway.Config{
		Host:        d.cfg.Gateway.Host,
		Port:        d.cfg.Gateway.Port,
		AuthToken:   d.cfg.Gateway.AuthToken,
		AllowUnsafe: d.cfg.Tools.AllowUnsafe,
		Pipeline:    d.pipeline,
		Queue:       d.queue,
		Registry:    d.registry,
		Router:      d.router,
		Broadcaster: d.broadcaster,
		Metrics:     d.metrics,
		Logger:      &d.zl,
	})
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}
	d.gateway = srv
	return nil
}

// Start brings the gateway and the config watcher up.
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("daemon already running")
	}

	if d.gateway != nil {
		if err := d.gateway.Start(); err != nil {
			return err
		}
	}

	if d.loader != nil {
		watcher, err := config.NewWatcher(d.loader, d.zl, d.onConfigChange)
		if err != nil {
			d.zl.Warn().Err(err).Msg("Config hot reload disabled")
		} else {
			d.watcher = watcher
		}
	}

	d.running = true
	d.startTime = time.Now()
	d.zl.Info().
		Int("tools", d.registry.Count()).
		Int("models", len(d.cfg.Models)).
		Msg("Conductor daemon started")
	return nil
}

// onConfigChange applies the reloadable subset of a fresh config. Only the
// model table swaps at runtime; everything else needs a restart.
func (d *Daemon) onConfigChange(cfg *config.Config) {
	if d.router == nil || len(cfg.Models) == 0 {
		return
	}
	if err := d.router.UpdateModels(cfg.Models); err != nil {
		d.zl.Error().Err(err).Msg("Model table reload failed")
		return
	}
	d.mu.Lock()
	d.cfg.Models = cfg.Models
	d.mu.Unlock()
	d.zl.Info().Int("models", len(cfg.Models)).Msg("Model table reloaded")
}

// Stop shuts everything down in dependency order.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return nil
	}

	if d.watcher != nil {
		_ = d.watcher.Stop()
	}
	if d.gateway != nil {
		if err := d.gateway.Stop(); err != nil {
			d.zl.Error().Err(err).Msg("Gateway shutdown failed")
		}
	}
	if d.queue != nil {
		if err := d.queue.Close(); err != nil {
			d.zl.Error().Err(err).Msg("Queue shutdown failed")
		}
	}
	d.broadcaster.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = tracing.ShutdownOpenTelemetry(ctx)

	d.running = false
	d.zl.Info().Dur("uptime", time.Since(d.startTime)).Msg("Conductor daemon stopped")
	return nil
}

// Pipeline exposes the pipeline for in-process callers (the CLI run command).
func (d *Daemon) Pipeline() *pipeline.Pipeline { return d.pipeline }

// Queue exposes the async queue.
func (d *Daemon) Queue() *pipeline.Queue { return d.queue }

// Registry exposes the tool registry.
func (d *Daemon) Registry() *tool.Registry { return d.registry }

// Router exposes the model router, or nil when no models are configured.
func (d *Daemon) Router() *model.Router { return d.router }
