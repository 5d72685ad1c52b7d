package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jneo8/mcp-sentinel/internal/models"
	"github.com/jneo8/mcp-sentinel/internal/sinks"
	"github.com/jneo8/mcp-sentinel/internal/toolserver"
)

type stubSession struct {
	name       string
	connectErr error
	connects   int
	cleanups   int
}

func (s *stubSession) Name() string { return s.name }

func (s *stubSession) Connect(ctx context.Context) error {
	s.connects++
	return s.connectErr
}

func (s *stubSession) Cleanup() error {
	s.cleanups++
	return nil
}

type stubResolver struct {
	handles []toolserver.Handle
}

func (r *stubResolver) Resolve(identifiers []string) []toolserver.Handle {
	return r.handles
}

type recordingEmitter struct {
	events []sinks.Event
}

func (e *recordingEmitter) Emit(sinkNames []string, event sinks.Event) {
	e.events = append(e.events, event)
}

func (e *recordingEmitter) types() []string {
	out := make([]string, 0, len(e.events))
	for _, event := range e.events {
		out = append(out, event.Type)
	}
	return out
}

type stubRuntime struct {
	result   *Result
	err      error
	lastSpec Spec
	lastOpts RunOptions
	input    string
}

func (r *stubRuntime) Run(ctx context.Context, spec Spec, input string, opts RunOptions) (*Result, error) {
	r.lastSpec = spec
	r.lastOpts = opts
	r.input = input
	if r.err != nil {
		return nil, r.err
	}
	return r.result, nil
}

func orchestratorFixture(runtime Runtime, handles ...toolserver.Handle) (*Orchestrator, *recordingEmitter) {
	settings := &models.SentinelSettings{
		OpenAI: models.OpenAISettings{Model: "gpt-4.1-mini"},
	}
	emitter := &recordingEmitter{}
	o := NewOrchestrator(settings, &stubResolver{handles: handles}, emitter, runtime)
	return o, emitter
}

func testCard() models.IncidentCard {
	return models.IncidentCard{
		Name:           "cpu-card",
		Resource:       "high-cpu",
		PromptTemplate: "Investigate ${resource_name}",
		Tools:          []string{"grafana.*"},
		Sinks:          []string{"audit"},
		MaxIterations:  4,
	}
}

func testIncident() models.IncidentNotification {
	return models.IncidentNotification{
		Resource: models.Resource{
			Type:  "prometheus_alert",
			Name:  "high-cpu",
			State: "firing",
			Value: "0.97",
		},
	}
}

func TestRunIncidentSuccess(t *testing.T) {
	session := &stubSession{name: "grafana"}
	runtime := &stubRuntime{result: &Result{FinalOutput: "scaled the deployment", TurnCount: 2}}
	o, emitter := orchestratorFixture(runtime, session)

	err := o.RunIncident(context.Background(), testCard(), testIncident())
	require.NoError(t, err)

	assert.Equal(t, []string{"incident.started", "incident.success"}, emitter.types())
	success := emitter.events[1]
	assert.Equal(t, "scaled the deployment", success.Payload["final_output"])
	assert.Equal(t, 2, success.Payload["turn_count"])

	assert.Equal(t, 1, session.connects)
	assert.Equal(t, 1, session.cleanups)

	// Rendered instructions reach the runtime; card without model falls back
	// to the global default.
	assert.Equal(t, "Investigate high-cpu", runtime.lastSpec.Instructions)
	assert.Equal(t, "gpt-4.1-mini", runtime.lastSpec.Model)
	assert.Equal(t, 4, runtime.lastOpts.MaxTurns)
	assert.Equal(t, "incident::cpu-card", runtime.lastOpts.WorkflowName)
	assert.Contains(t, runtime.input, "Incident resource high-cpu")
}

func TestRunIncidentCardModelOverride(t *testing.T) {
	runtime := &stubRuntime{result: &Result{FinalOutput: "ok", TurnCount: 1}}
	o, _ := orchestratorFixture(runtime)

	card := testCard()
	card.Model = "gpt-4.1"
	require.NoError(t, o.RunIncident(context.Background(), card, testIncident()))
	assert.Equal(t, "gpt-4.1", runtime.lastSpec.Model)
}

func TestRunIncidentRuntimeFailure(t *testing.T) {
	session := &stubSession{name: "grafana"}
	runtime := &stubRuntime{err: errors.New("model unavailable")}
	o, emitter := orchestratorFixture(runtime, session)

	err := o.RunIncident(context.Background(), testCard(), testIncident())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model unavailable")

	assert.Equal(t, []string{"incident.started", "incident.failure"}, emitter.types())
	failure := emitter.events[1]
	assert.Equal(t, "model unavailable", failure.Payload["error"])

	// Cleanup still runs exactly once.
	assert.Equal(t, 1, session.cleanups)
}

func TestRunIncidentConnectFailure(t *testing.T) {
	broken := &stubSession{name: "grafana", connectErr: errors.New("connection refused")}
	runtime := &stubRuntime{result: &Result{FinalOutput: "unused", TurnCount: 1}}
	o, emitter := orchestratorFixture(runtime, broken)

	err := o.RunIncident(context.Background(), testCard(), testIncident())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	// A connect failure surfaces through the returned error only; no
	// completion event is emitted.
	assert.Equal(t, []string{"incident.started"}, emitter.types())
	assert.Equal(t, 1, broken.cleanups)
}

func TestRunIncidentCleansUpEverySession(t *testing.T) {
	first := &stubSession{name: "grafana"}
	second := &stubSession{name: "kubernetes", connectErr: errors.New("refused")}
	runtime := &stubRuntime{result: &Result{FinalOutput: "unused", TurnCount: 1}}
	o, _ := orchestratorFixture(runtime, first, second)

	err := o.RunIncident(context.Background(), testCard(), testIncident())
	require.Error(t, err)

	assert.Equal(t, 1, first.cleanups)
	assert.Equal(t, 1, second.cleanups)
}

func TestPartitionHandles(t *testing.T) {
	local := &toolserver.LocalTool{ToolName: "echo", ToolDescription: "echoes"}
	session := &stubSession{name: "grafana"}

	locals, sessions := partitionHandles([]toolserver.Handle{local, session})
	require.Len(t, locals, 1)
	require.Len(t, sessions, 1)
	assert.Equal(t, "echo", locals[0].Name())
	assert.Equal(t, "grafana", sessions[0].Name())
}
