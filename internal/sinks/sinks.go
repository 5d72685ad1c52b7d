// Package sinks fans incident lifecycle events out to named audit sinks.
package sinks

import (
	"github.com/rs/zerolog/log"

	"github.com/jneo8/mcp-sentinel/internal/logging"
	"github.com/jneo8/mcp-sentinel/internal/models"
)

// Event is a structured lifecycle event. Immutable once constructed.
type Event struct {
	Type         string
	CardName     string
	ResourceName string
	Message      string
	Payload      map[string]any
}

// Sink receives lifecycle events. Implementations must be safe for
// concurrent use; errors are logged by the dispatcher and never propagate.
type Sink interface {
	Emit(event Event) error
}

// LoggerSink writes events through zerolog at its configured level.
type LoggerSink struct {
	config models.SinkConfig
}

// NewLoggerSink builds a sink backed by the process logger.
func NewLoggerSink(config models.SinkConfig) *LoggerSink {
	return &LoggerSink{config: config}
}

// Emit implements Sink.
func (s *LoggerSink) Emit(event Event) error {
	log.WithLevel(logging.ParseLevel(s.config.Level)).
		Str("sink", s.config.Name).
		Str("channel", s.config.Channel).
		Str("event_type", event.Type).
		Str("resource", event.ResourceName).
		Str("card", event.CardName).
		Interface("payload", event.Payload).
		Msg(event.Message)
	return nil
}

// Dispatcher routes events to the sinks a card names. A missing or failing
// sink never aborts the emission loop.
type Dispatcher struct {
	sinks map[string]Sink
}

// NewDispatcher wraps an explicit sink registry, used by tests.
func NewDispatcher(registry map[string]Sink) *Dispatcher {
	sinks := make(map[string]Sink, len(registry))
	for name, sink := range registry {
		sinks[name] = sink
	}
	return &Dispatcher{sinks: sinks}
}

// FromSettings builds the sink registry declared in configuration. Duplicate
// names keep the first definition; unsupported types are skipped.
func FromSettings(settings *models.SentinelSettings) *Dispatcher {
	registry := make(map[string]Sink)
	for _, cfg := range settings.Sinks {
		if _, exists := registry[cfg.Name]; exists {
			log.Warn().Str("sink", cfg.Name).Msg("Duplicate sink definition; keeping first instance")
			continue
		}
		switch cfg.Type {
		case "logger":
			registry[cfg.Name] = NewLoggerSink(cfg)
		default:
			log.Error().
				Str("sink", cfg.Name).
				Str("type", cfg.Type).
				Msg("Unsupported sink type; skipping")
		}
	}
	return &Dispatcher{sinks: registry}
}

// Emit delivers the event to every named sink. Never panics and never
// returns an error regardless of sink behaviour.
func (d *Dispatcher) Emit(sinkNames []string, event Event) {
	for _, name := range sinkNames {
		sink, ok := d.sinks[name]
		if !ok {
			log.Warn().
				Str("sink", name).
				Str("event_type", event.Type).
				Str("card", event.CardName).
				Str("resource", event.ResourceName).
				Msg("No sink configured for card entry; event skipped")
			continue
		}
		emitGuarded(name, sink, event)
	}
}

func emitGuarded(name string, sink Sink, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("sink", name).
				Str("event_type", event.Type).
				Interface("panic", r).
				Msg("Sink emission panicked")
		}
	}()
	if err := sink.Emit(event); err != nil {
		log.Error().
			Err(err).
			Str("sink", name).
			Str("event_type", event.Type).
			Str("card", event.CardName).
			Str("resource", event.ResourceName).
			Msg("Sink emission failed")
	}
}

// IncidentStartEvent describes the start of incident processing.
func IncidentStartEvent(card models.IncidentCard, notification models.IncidentNotification) Event {
	resource := notification.Resource
	return Event{
		Type:         "incident.started",
		CardName:     card.Name,
		ResourceName: resource.Name,
		Message:      "Incident processing started",
		Payload: map[string]any{
			"state":       resource.State,
			"value":       resource.Value,
			"labels":      resource.Labels,
			"annotations": resource.Annotations,
		},
	}
}

// IncidentCompletionEvent describes the terminal outcome of incident
// processing; outcome is "success" or "failure".
func IncidentCompletionEvent(card models.IncidentCard, notification models.IncidentNotification, outcome string, payload map[string]any) Event {
	message := "Incident processing completed"
	if outcome != "success" {
		message = "Incident processing failed"
	}
	return Event{
		Type:         "incident." + outcome,
		CardName:     card.Name,
		ResourceName: notification.Resource.Name,
		Message:      message,
		Payload:      payload,
	}
}
