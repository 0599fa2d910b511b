// Package config loads and validates the daemon configuration.
package config

import (
	"time"

	"github.com/conductor-ai/conductor/pkg/model"
)

// Config is the main conductor configuration.
type Config struct {
	// Models is the routing table, tried in priority order.
	Models []model.Config `json:"models" mapstructure:"models"`

	// Routing tunes failover behavior.
	Routing RoutingConfig `json:"routing" mapstructure:"routing"`

	// Pipeline sets execution defaults.
	Pipeline PipelineConfig `json:"pipeline" mapstructure:"pipeline"`

	// Tools controls the registered tool set.
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Queue configures asynchronous execution.
	Queue QueueConfig `json:"queue" mapstructure:"queue"`

	// Gateway configures the HTTP server.
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Logging configures structured logging.
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// DataDir holds the result database and logs.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// WorkspacePath confines filesystem tools.
	WorkspacePath string `json:"workspace_path" mapstructure:"workspace_path"`
}

// RoutingConfig tunes the model router and its circuit breakers.
type RoutingConfig struct {
	MaxFallbackAttempts int `json:"max_fallback_attempts" mapstructure:"max_fallback_attempts"`

	// Breaker thresholds. Zero values take the built-in defaults.
	FailureThreshold  int `json:"failure_threshold" mapstructure:"failure_threshold"`
	FailureWindowSecs int `json:"failure_window_seconds" mapstructure:"failure_window_seconds"`
	CooldownSecs      int `json:"cooldown_seconds" mapstructure:"cooldown_seconds"`
	HalfOpenProbes    int `json:"half_open_probes" mapstructure:"half_open_probes"`
}

// Breaker converts the routing section into breaker settings.
func (r RoutingConfig) Breaker() model.BreakerConfig {
	cfg := model.DefaultBreakerConfig()
	if r.FailureThreshold > 0 {
		cfg.FailureThreshold = r.FailureThreshold
	}
	if r.FailureWindowSecs > 0 {
		cfg.FailureWindow = time.Duration(r.FailureWindowSecs) * time.Second
	}
	if r.CooldownSecs > 0 {
		cfg.Cooldown = time.Duration(r.CooldownSecs) * time.Second
	}
	if r.HalfOpenProbes > 0 {
		cfg.MaxProbes = r.HalfOpenProbes
	}
	return cfg
}

// PipelineConfig sets per-execution defaults.
type PipelineConfig struct {
	MaxParallelism  int  `json:"max_parallelism" mapstructure:"max_parallelism"`
	TimeoutSecs     int  `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	StepTimeoutSecs int  `json:"step_timeout_seconds" mapstructure:"step_timeout_seconds"`
	AutoPlanning    bool `json:"auto_planning" mapstructure:"auto_planning"`
}

// ToolsConfig controls tool registration and access.
type ToolsConfig struct {
	// Allowlist restricts executable tools. Empty means all registered.
	Allowlist []string `json:"allowlist" mapstructure:"allowlist"`

	// EnableExec registers the command tool. Off by default.
	EnableExec bool `json:"enable_exec" mapstructure:"enable_exec"`

	// AllowUnsafe lets executions use unsafe tools without a per-request flag.
	AllowUnsafe bool `json:"allow_unsafe" mapstructure:"allow_unsafe"`
}

// QueueConfig configures the async execution queue.
type QueueConfig struct {
	Workers      int    `json:"workers" mapstructure:"workers"`
	RetentionHrs int    `json:"retention_hours" mapstructure:"retention_hours"`
	Persist      bool   `json:"persist" mapstructure:"persist"`
	DatabaseFile string `json:"database_file" mapstructure:"database_file"`
}

// GatewayConfig configures the HTTP and WebSocket surface.
type GatewayConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Host      string `json:"host" mapstructure:"host"`
	Port      int    `json:"port" mapstructure:"port"`
	AuthToken string `json:"auth_token" mapstructure:"auth_token"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Models: []model.Config{},
		Pipeline: PipelineConfig{
			MaxParallelism:  4,
			TimeoutSecs:     300,
			StepTimeoutSecs: 30,
			AutoPlanning:    true,
		},
		Queue: QueueConfig{
			Workers:      2,
			RetentionHrs: 24,
			Persist:      true,
		},
		Gateway: GatewayConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8710,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Redaction: true,
		},
	}
}
