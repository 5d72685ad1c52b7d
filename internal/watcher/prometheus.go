// Package watcher polls Prometheus-compatible alert endpoints and converts
// firing alerts into incident notifications.
package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jneo8/mcp-sentinel/internal/metrics"
	"github.com/jneo8/mcp-sentinel/internal/models"
)

// Notifier accepts matched notifications. *dispatcher.Dispatcher satisfies it.
type Notifier interface {
	Dispatch(notification models.IncidentNotification) models.DispatcherResult
}

// PrometheusWatcher polls one alert endpoint on an interval and routes each
// firing alert through its resource definitions.
type PrometheusWatcher struct {
	config      models.WatcherConfig
	definitions []models.ResourceDefinition
	notifier    Notifier
	client      *http.Client
	alertsURL   string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPrometheusWatcher resolves the watcher's resource references against the
// configured definitions. A reference with no definition gets a synthetic one
// that matches on the alertname label. A watcher with no references has
// nothing to route and dispatches no alerts.
func NewPrometheusWatcher(config models.WatcherConfig, available []models.ResourceDefinition, notifier Notifier, client *http.Client) *PrometheusWatcher {
	byName := make(map[string]models.ResourceDefinition, len(available))
	for _, def := range available {
		byName[def.Name] = def
	}

	var definitions []models.ResourceDefinition
	for _, ref := range config.Resources {
		if def, ok := byName[ref]; ok {
			definitions = append(definitions, def)
			continue
		}
		log.Warn().
			Str("watcher", config.Name).
			Str("resource", ref).
			Msg("Watcher references undefined resource; matching on alertname")
		definitions = append(definitions, models.ResourceDefinition{
			Name:    ref,
			Filters: map[string]string{"alertname": ref},
		})
	}
	if len(definitions) == 0 {
		log.Warn().
			Str("watcher", config.Name).
			Msg("Watcher configured without resources; no alerts will be dispatched")
	}

	if client == nil {
		client = &http.Client{Timeout: config.TimeoutSeconds.Duration()}
	}
	return &PrometheusWatcher{
		config:      config,
		definitions: definitions,
		notifier:    notifier,
		client:      client,
		alertsURL:   alertsURL(config.Endpoint),
	}
}

// alertsURL appends the alerts path unless the endpoint already names it.
func alertsURL(endpoint string) string {
	trimmed := strings.TrimRight(endpoint, "/")
	if strings.HasSuffix(trimmed, "/alerts") {
		return trimmed
	}
	return trimmed + "/alerts"
}

// Start begins the poll loop in its own goroutine. The first poll happens
// immediately, then every poll interval until the context is cancelled or
// Stop is called.
func (w *PrometheusWatcher) Start(ctx context.Context) {
	if w.done != nil {
		log.Debug().Str("watcher", w.config.Name).Msg("Watcher already running")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	interval := w.config.PollIntervalSeconds.Duration()
	log.Info().
		Str("watcher", w.config.Name).
		Str("url", w.alertsURL).
		Dur("interval", interval).
		Msg("Starting alert watcher")

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		w.PollOnce(loopCtx)
		for {
			select {
			case <-loopCtx.Done():
				log.Info().Str("watcher", w.config.Name).Msg("Watcher stopped")
				return
			case <-ticker.C:
				w.PollOnce(loopCtx)
			}
		}
	}()
}

// Stop cancels the poll loop and waits for it to exit. Idempotent.
func (w *PrometheusWatcher) Stop() {
	if w.done == nil {
		return
	}
	w.cancel()
	<-w.done
	w.done = nil
}

// PollOnce fetches the endpoint once and dispatches every matching alert.
// It returns the number of notifications the dispatcher queued. Transport
// and payload errors are logged and count as an empty poll.
func (w *PrometheusWatcher) PollOnce(ctx context.Context) int {
	alerts, err := w.fetchAlerts(ctx)
	if err != nil {
		log.Error().Err(err).Str("watcher", w.config.Name).Msg("Alert poll failed")
		metrics.WatcherPollsTotal.WithLabelValues(w.config.Name, "error").Inc()
		return 0
	}
	metrics.WatcherPollsTotal.WithLabelValues(w.config.Name, "ok").Inc()

	queued := 0
	for _, alert := range alerts {
		labels := stringMap(alert["labels"])
		// An alert dispatches once per matching definition: each match is
		// routed as its own resource.
		for _, def := range w.definitions {
			if !def.Matches(labels) {
				continue
			}
			notification := w.buildNotification(def, alert, labels)
			result := w.notifier.Dispatch(notification)
			if result.Status == models.StatusQueued {
				queued++
			}
		}
	}
	log.Debug().
		Str("watcher", w.config.Name).
		Int("alerts", len(alerts)).
		Int("queued", queued).
		Msg("Completed alert poll")
	return queued
}

func (w *PrometheusWatcher) fetchAlerts(ctx context.Context) ([]map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.alertsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll %s: %w", w.alertsURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("poll %s: unexpected status %d", w.alertsURL, resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode alerts payload: %w", err)
	}
	return extractAlerts(body), nil
}

// extractAlerts accepts both the Prometheus HTTP API envelope
// ({"data":{"alerts":[...]}}) and a bare {"alerts":[...]} payload.
func extractAlerts(body map[string]any) []map[string]any {
	container := body
	if data, ok := body["data"].(map[string]any); ok {
		container = data
	}
	raw, ok := container["alerts"].([]any)
	if !ok {
		return nil
	}
	alerts := make([]map[string]any, 0, len(raw))
	for _, entry := range raw {
		if alert, ok := entry.(map[string]any); ok {
			alerts = append(alerts, alert)
		}
	}
	return alerts
}

func (w *PrometheusWatcher) buildNotification(def models.ResourceDefinition, alert map[string]any, labels map[string]string) models.IncidentNotification {
	annotations := make(map[string]string, len(def.Annotations))
	for k, v := range def.Annotations {
		annotations[k] = v
	}
	for k, v := range stringMap(alert["annotations"]) {
		annotations[k] = v
	}

	resourceType := def.Type
	if resourceType == "" {
		resourceType = models.DefaultResourceType
	}
	resource := models.Resource{
		Type:        resourceType,
		Name:        def.Name,
		Labels:      labels,
		Annotations: annotations,
		State:       alertState(alert),
		Value:       scalarString(alert["value"]),
		Timestamp:   alertTimestamp(alert),
	}
	return models.IncidentNotification{Resource: resource, RawPayload: alert}
}

// alertState handles both the flat rules-endpoint form ("state": "firing")
// and the Alertmanager form ("status": {"state": "active"}).
func alertState(alert map[string]any) string {
	if state := scalarString(alert["state"]); state != "" {
		return state
	}
	if status, ok := alert["status"].(map[string]any); ok {
		if state := scalarString(status["state"]); state != "" {
			return state
		}
		return scalarString(status["value"])
	}
	return scalarString(alert["status"])
}

func alertTimestamp(alert map[string]any) string {
	if ts := scalarString(alert["startsAt"]); ts != "" {
		return ts
	}
	return scalarString(alert["activeAt"])
}

func stringMap(value any) map[string]string {
	raw, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = scalarString(v)
	}
	return out
}

func scalarString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
