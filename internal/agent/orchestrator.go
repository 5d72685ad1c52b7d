package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jneo8/mcp-sentinel/internal/metrics"
	"github.com/jneo8/mcp-sentinel/internal/models"
	"github.com/jneo8/mcp-sentinel/internal/prompts"
	"github.com/jneo8/mcp-sentinel/internal/sinks"
	"github.com/jneo8/mcp-sentinel/internal/toolserver"
)

// ToolResolver resolves card tool identifiers into handles.
// *toolserver.Registry satisfies it.
type ToolResolver interface {
	Resolve(identifiers []string) []toolserver.Handle
}

// EventEmitter fans lifecycle events out to named sinks.
// *sinks.Dispatcher satisfies it.
type EventEmitter interface {
	Emit(sinkNames []string, event sinks.Event)
}

// Orchestrator runs one incident end to end: render instructions, emit
// lifecycle events, connect tool-server sessions, invoke the runtime, and
// guarantee session cleanup on every exit path.
type Orchestrator struct {
	settings *models.SentinelSettings
	prompts  *prompts.Repository
	renderer *prompts.Renderer
	registry ToolResolver
	sinks    EventEmitter
	runtime  Runtime
}

// NewOrchestrator wires the orchestrator dependencies.
func NewOrchestrator(settings *models.SentinelSettings, registry ToolResolver, emitter EventEmitter, runtime Runtime) *Orchestrator {
	return &Orchestrator{
		settings: settings,
		prompts:  prompts.NewRepository(),
		renderer: prompts.NewRenderer(),
		registry: registry,
		sinks:    emitter,
		runtime:  runtime,
	}
}

// RunIncident executes the incident workflow for one card and notification.
// The returned error reflects either a tool-server connect failure or a
// runtime failure; in both cases every session has been cleaned up before
// RunIncident returns.
func (o *Orchestrator) RunIncident(ctx context.Context, card models.IncidentCard, notification models.IncidentNotification) error {
	incidentID := uuid.NewString()
	logger := log.With().
		Str("incident_id", incidentID).
		Str("card", card.Name).
		Str("resource", notification.Resource.Name).
		Logger()

	instructions := o.renderer.Render(o.prompts.Load(card.PromptTemplate), notification)
	logger.Debug().Int("instructions_length", len(instructions)).Msg("Rendered agent instructions")

	o.sinks.Emit(card.Sinks, sinks.IncidentStartEvent(card, notification))

	localTools, sessions := partitionHandles(o.registry.Resolve(card.Tools))
	logger.Debug().
		Int("local_tools", len(localTools)).
		Int("remote_servers", len(sessions)).
		Msg("Resolved tool handles")

	defer func() {
		for _, session := range sessions {
			if err := session.Cleanup(); err != nil {
				logger.Warn().Err(err).Str("server", session.Name()).Msg("Failed to clean up MCP session")
			}
		}
	}()

	for _, session := range sessions {
		if err := session.Connect(ctx); err != nil {
			logger.Error().Err(err).Str("server", session.Name()).Msg("Failed to connect to MCP server")
			metrics.IncidentsTotal.WithLabelValues("failure").Inc()
			return fmt.Errorf("connect tool server %s: %w", session.Name(), err)
		}
	}

	model := card.Model
	if model == "" {
		model = o.settings.OpenAI.Model
	}
	spec := Spec{
		Name:         card.Name + "-agent",
		Instructions: instructions,
		Model:        model,
		Tools:        localTools,
		Servers:      sessions,
	}
	opts := RunOptions{
		MaxTurns:     card.MaxIterations,
		WorkflowName: "incident::" + card.Name,
		TraceMetadata: map[string]string{
			"incident_id": incidentID,
			"resource":    notification.Resource.Name,
			"card":        card.Name,
		},
	}

	logger.Info().
		Str("model", model).
		Int("max_turns", card.MaxIterations).
		Msg("Starting agent run")

	result, err := o.runtime.Run(ctx, spec, prompts.BuildInitialInput(notification), opts)
	if err != nil {
		o.sinks.Emit(card.Sinks, sinks.IncidentCompletionEvent(card, notification, "failure", map[string]any{
			"error": err.Error(),
		}))
		metrics.IncidentsTotal.WithLabelValues("failure").Inc()
		logger.Error().Err(err).Msg("Agent run failed")
		return fmt.Errorf("agent run for card %s: %w", card.Name, err)
	}

	o.sinks.Emit(card.Sinks, sinks.IncidentCompletionEvent(card, notification, "success", map[string]any{
		"final_output": result.FinalOutput,
		"turn_count":   result.TurnCount,
	}))
	metrics.IncidentsTotal.WithLabelValues("success").Inc()
	logger.Info().
		Int("turn_count", result.TurnCount).
		Str("final_output", result.FinalOutput).
		Msg("Agent run completed")
	return nil
}

// partitionHandles separates in-process tools from remote server sessions.
// A handle advertising a description is a local tool; everything else must
// be a RemoteSession.
func partitionHandles(handles []toolserver.Handle) ([]toolserver.Handle, []RemoteSession) {
	var locals []toolserver.Handle
	var sessions []RemoteSession
	for _, handle := range handles {
		if _, ok := handle.(interface{ Description() string }); ok {
			locals = append(locals, handle)
			continue
		}
		if session, ok := handle.(RemoteSession); ok {
			sessions = append(sessions, session)
			continue
		}
		log.Warn().Str("handle", handle.Name()).Msg("Unrecognised tool handle; skipping")
	}
	return locals, sessions
}
