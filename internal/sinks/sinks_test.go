package sinks

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jneo8/mcp-sentinel/internal/models"
)

type recordingSink struct {
	events []Event
	err    error
}

func (s *recordingSink) Emit(event Event) error {
	s.events = append(s.events, event)
	return s.err
}

type panickingSink struct{}

func (panickingSink) Emit(Event) error { panic("sink exploded") }

func TestEmitDeliversToNamedSinks(t *testing.T) {
	audit := &recordingSink{}
	ops := &recordingSink{}
	d := NewDispatcher(map[string]Sink{"audit": audit, "ops": ops})

	d.Emit([]string{"audit"}, Event{Type: "incident.started", CardName: "cpu"})

	require.Len(t, audit.events, 1)
	assert.Equal(t, "incident.started", audit.events[0].Type)
	assert.Empty(t, ops.events)
}

func TestEmitSkipsMissingSink(t *testing.T) {
	audit := &recordingSink{}
	d := NewDispatcher(map[string]Sink{"audit": audit})

	// Must not panic or abort the loop on the unknown name.
	d.Emit([]string{"missing", "audit"}, Event{Type: "incident.success"})

	require.Len(t, audit.events, 1)
}

func TestEmitSurvivesFailingAndPanickingSinks(t *testing.T) {
	failing := &recordingSink{err: errors.New("sink unavailable")}
	healthy := &recordingSink{}
	d := NewDispatcher(map[string]Sink{
		"broken":  failing,
		"panicky": panickingSink{},
		"healthy": healthy,
	})

	d.Emit([]string{"broken", "panicky", "healthy"}, Event{Type: "incident.failure"})

	assert.Len(t, failing.events, 1)
	assert.Len(t, healthy.events, 1)
}

func TestFromSettingsSkipsUnsupportedAndDuplicateSinks(t *testing.T) {
	settings := &models.SentinelSettings{
		Sinks: []models.SinkConfig{
			{Name: "audit", Type: "logger", Level: "INFO"},
			{Name: "audit", Type: "logger", Level: "DEBUG"},
			{Name: "pager", Type: "webhook"},
		},
	}
	d := FromSettings(settings)

	assert.Len(t, d.sinks, 1)
	_, ok := d.sinks["audit"]
	assert.True(t, ok)
}

func TestIncidentStartEvent(t *testing.T) {
	card := models.IncidentCard{Name: "cpu-card"}
	notification := models.IncidentNotification{
		Resource: models.Resource{
			Name:   "high-cpu",
			State:  "firing",
			Value:  "0.97",
			Labels: map[string]string{"instance": "node-1"},
		},
	}

	event := IncidentStartEvent(card, notification)
	assert.Equal(t, "incident.started", event.Type)
	assert.Equal(t, "cpu-card", event.CardName)
	assert.Equal(t, "high-cpu", event.ResourceName)
	assert.Equal(t, "firing", event.Payload["state"])
	assert.Equal(t, "0.97", event.Payload["value"])
}

func TestIncidentCompletionEvent(t *testing.T) {
	card := models.IncidentCard{Name: "cpu-card"}
	notification := models.IncidentNotification{Resource: models.Resource{Name: "high-cpu"}}

	success := IncidentCompletionEvent(card, notification, "success", map[string]any{"final_output": "done"})
	assert.Equal(t, "incident.success", success.Type)
	assert.Equal(t, "Incident processing completed", success.Message)

	failure := IncidentCompletionEvent(card, notification, "failure", map[string]any{"error": "boom"})
	assert.Equal(t, "incident.failure", failure.Type)
	assert.Equal(t, "Incident processing failed", failure.Message)
	assert.Equal(t, "boom", failure.Payload["error"])
}
