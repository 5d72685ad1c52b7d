// Package models holds the value types shared across sentinel components:
// resources, notifications, incident cards, and the settings aggregate.
package models

import (
	"fmt"
	"sort"
	"strings"
)

// Defaults and bounds applied during settings validation.
const (
	DefaultQueueSize         = 100
	DefaultDedupeTTLSeconds  = 600
	DefaultWorkerConcurrency = 4
	DefaultMaxIterations     = 6
	DefaultPollSeconds       = 30
	DefaultTimeoutSeconds    = 10
	DefaultResourceType      = "prometheus_alert"
	DefaultOpenAIModel       = "gpt-4.1-mini"
	DefaultTemperature       = 0.2
)

// Resource is the routing identity derived from a single alert activation.
// The (Type, Name) pair routes it to an incident card; labels and annotations
// are opaque metadata carried along for prompts and dedupe.
type Resource struct {
	Type        string            `yaml:"type" json:"type"`
	Name        string            `yaml:"name" json:"name"`
	Labels      map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
	Annotations map[string]string `yaml:"annotations,omitempty" json:"annotations,omitempty"`
	State       string            `yaml:"state,omitempty" json:"state,omitempty"`
	Value       string            `yaml:"value,omitempty" json:"value,omitempty"`
	Timestamp   string            `yaml:"timestamp,omitempty" json:"timestamp,omitempty"`
}

// DedupeKey returns a deterministic key used to suppress repeats of the same
// alert within the dedupe TTL. Label and annotation maps are flattened in
// sorted order so the key is stable regardless of insertion order.
func (r Resource) DedupeKey() string {
	parts := []string{
		r.Type,
		r.Name,
		sortedPairs(r.Labels),
		sortedPairs(r.Annotations),
	}
	if r.Timestamp != "" {
		parts = append(parts, r.Timestamp)
	}
	nonEmpty := parts[:0]
	for _, part := range parts {
		if part != "" {
			nonEmpty = append(nonEmpty, part)
		}
	}
	return strings.Join(nonEmpty, "|")
}

func sortedPairs(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

// IncidentNotification is emitted by a watcher when an alert matches a
// resource definition, and consumed by the dispatcher and orchestrator.
type IncidentNotification struct {
	Resource   Resource       `json:"resource"`
	RawPayload map[string]any `json:"raw_payload,omitempty"`
}

// IncidentCard declares how incidents for one resource name are handled:
// which prompt drives the agent, which tool servers it may use, which sinks
// receive lifecycle events, and the turn budget.
type IncidentCard struct {
	Name           string   `yaml:"name" json:"name"`
	Resource       string   `yaml:"resource" json:"resource"`
	PromptTemplate string   `yaml:"prompt_template" json:"prompt_template"`
	Model          string   `yaml:"model,omitempty" json:"model,omitempty"`
	Tools          []string `yaml:"tools,omitempty" json:"tools,omitempty"`
	Sinks          []string `yaml:"sinks,omitempty" json:"sinks,omitempty"`
	MaxIterations  int      `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty"`
}

// ResourceDefinition selects alerts by label equality and names the resource
// they are routed as. Definition annotations are defaults merged under the
// alert's own annotations.
type ResourceDefinition struct {
	Name        string            `yaml:"name" json:"name"`
	Type        string            `yaml:"type,omitempty" json:"type,omitempty"`
	Filters     map[string]string `yaml:"filters,omitempty" json:"filters,omitempty"`
	Annotations map[string]string `yaml:"annotations,omitempty" json:"annotations,omitempty"`
}

// Matches reports whether the alert labels satisfy every filter entry.
// An empty filter set matches all alerts.
func (d ResourceDefinition) Matches(labels map[string]string) bool {
	for key, expected := range d.Filters {
		if labels[key] != expected {
			return false
		}
	}
	return true
}

// WatcherConfig configures one polling watcher against an alert endpoint.
type WatcherConfig struct {
	Name                string   `yaml:"name" json:"name"`
	Endpoint            string   `yaml:"endpoint" json:"endpoint"`
	PollIntervalSeconds Seconds  `yaml:"poll_interval_seconds,omitempty" json:"poll_interval_seconds,omitempty"`
	TimeoutSeconds      Seconds  `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Resources           []string `yaml:"resources,omitempty" json:"resources,omitempty"`
}

// ToolServerConfig describes one external MCP tool server. At least one of
// ServerURL or ConnectorID must be set; only URL-backed servers can be opened
// as streamable HTTP sessions.
type ToolServerConfig struct {
	Name                string            `yaml:"name" json:"name"`
	ServerLabel         string            `yaml:"server_label,omitempty" json:"server_label,omitempty"`
	ServerURL           string            `yaml:"server_url,omitempty" json:"server_url,omitempty"`
	ConnectorID         string            `yaml:"connector_id,omitempty" json:"connector_id,omitempty"`
	Authorization       string            `yaml:"authorization,omitempty" json:"authorization,omitempty"`
	Headers             map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	DefaultAllowedTools []string          `yaml:"default_allowed_tools,omitempty" json:"default_allowed_tools,omitempty"`
	RequireApproval     string            `yaml:"require_approval,omitempty" json:"require_approval,omitempty"`
	Description         string            `yaml:"description,omitempty" json:"description,omitempty"`
}

// SinkConfig declares a named lifecycle-event sink. "logger" is the only
// supported type.
type SinkConfig struct {
	Name    string `yaml:"name" json:"name"`
	Type    string `yaml:"type,omitempty" json:"type,omitempty"`
	Level   string `yaml:"level,omitempty" json:"level,omitempty"`
	Channel string `yaml:"channel,omitempty" json:"channel,omitempty"`
}

// DispatcherSettings tunes the admission queue, dedupe cache, and worker pool.
type DispatcherSettings struct {
	QueueSize         int `yaml:"queue_size,omitempty" json:"queue_size,omitempty"`
	DedupeTTLSeconds  int `yaml:"dedupe_ttl_seconds,omitempty" json:"dedupe_ttl_seconds,omitempty"`
	WorkerConcurrency int `yaml:"worker_concurrency,omitempty" json:"worker_concurrency,omitempty"`
}

// OpenAISettings controls the default model used by the agent runtime.
// The OPENAI_API_KEY environment variable takes precedence over APIKey.
type OpenAISettings struct {
	Model       string  `yaml:"model,omitempty" json:"model,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	APIKey      string  `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	BaseURL     string  `yaml:"base_url,omitempty" json:"base_url,omitempty"`
}

// SentinelSettings is the top-level configuration aggregate.
type SentinelSettings struct {
	IncidentCards []IncidentCard       `yaml:"incident_cards,omitempty" json:"incident_cards,omitempty"`
	Resources     []ResourceDefinition `yaml:"resources,omitempty" json:"resources,omitempty"`
	Watchers      []WatcherConfig      `yaml:"watchers,omitempty" json:"watchers,omitempty"`
	ToolServers   []ToolServerConfig   `yaml:"tool_servers,omitempty" json:"tool_servers,omitempty"`
	Sinks         []SinkConfig         `yaml:"sinks,omitempty" json:"sinks,omitempty"`
	Dispatcher    DispatcherSettings   `yaml:"dispatcher,omitempty" json:"dispatcher,omitempty"`
	OpenAI        OpenAISettings       `yaml:"openai,omitempty" json:"openai,omitempty"`
}

// Dispatch admission statuses reported by DispatcherResult.
const (
	StatusQueued    = "queued"
	StatusDuplicate = "duplicate"
	StatusDropped   = "dropped"
)

// DispatcherResult is the synchronous admission decision for one notification.
type DispatcherResult struct {
	Status       string        `json:"status"`
	Detail       string        `json:"detail,omitempty"`
	IncidentCard *IncidentCard `json:"incident_card,omitempty"`
}
