// Package telemetry defines the event stream emitted by the pipeline.
//
// The pipeline only depends on the Sink interface; concrete sinks forward
// events to logs, metrics, or connected stream clients.
package telemetry

import (
	"time"

	"github.com/rs/zerolog"
)

// EventType identifies what happened.
type EventType string

const (
	EventExecutionStart  EventType = "execution_start"
	EventExecutionEnd    EventType = "execution_end"
	EventPlanningStart   EventType = "planning_start"
	EventPlanningEnd     EventType = "planning_end"
	EventStepStart       EventType = "step_start"
	EventStepEnd         EventType = "step_end"
	EventBreakerChange   EventType = "breaker_transition"
	EventModelFallback   EventType = "model_fallback"
	EventQueueSubmitted  EventType = "queue_submitted"
	EventQueueCompleted  EventType = "queue_completed"
)

// Event is a single observation emitted by the pipeline or router.
type Event struct {
	Type        EventType              `json:"type"`
	Time        time.Time              `json:"time"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	TraceID     string                 `json:"trace_id,omitempty"`
	Tool        string                 `json:"tool,omitempty"`
	StepIndex   int                    `json:"step_index,omitempty"`
	Model       string                 `json:"model,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// Sink receives pipeline events. Record must not block the caller for long;
// slow consumers belong behind a Broadcaster.
type Sink interface {
	Record(event Event)
}

// NopSink discards all events.
type NopSink struct{}

// Record implements Sink.
func (NopSink) Record(Event) {}

// LogSink writes events as structured log lines.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink logging at debug level.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Record implements Sink.
func (s *LogSink) Record(event Event) {
	evt := s.logger.Debug().
		Str("event", string(event.Type)).
		Time("at", event.Time)
	if event.ExecutionID != "" {
		evt = evt.Str("execution_id", event.ExecutionID)
	}
	if event.Tool != "" {
		evt = evt.Str("tool", event.Tool).Int("step_index", event.StepIndex)
	}
	if event.Model != "" {
		evt = evt.Str("model", event.Model)
	}
	evt.Fields(event.Data).Msg("telemetry")
}

// MultiSink fans an event out to several sinks in order.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a sink delegating to each of the given sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Record implements Sink.
func (m *MultiSink) Record(event Event) {
	for _, s := range m.sinks {
		s.Record(event)
	}
}
