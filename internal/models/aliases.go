package models

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// The YAML unmarshalers below accept the kebab-case and shorthand key
// spellings that older sentinel configs used (prompt, model-name,
// max-iterations, queue-size, ...) alongside the canonical snake_case keys.
// Unknown keys are rejected so typos surface at load time.

// UnmarshalYAML implements yaml.Unmarshaler for IncidentCard.
func (c *IncidentCard) UnmarshalYAML(value *yaml.Node) error {
	fields, err := mappingFields(value)
	if err != nil {
		return fmt.Errorf("incident card: %w", err)
	}
	for key, node := range fields {
		var err error
		switch key {
		case "name":
			err = node.Decode(&c.Name)
		case "resource":
			err = node.Decode(&c.Resource)
		case "prompt_template", "prompt-template", "prompt":
			err = node.Decode(&c.PromptTemplate)
		case "model", "model-name":
			err = node.Decode(&c.Model)
		case "tools", "tool-list":
			err = node.Decode(&c.Tools)
		case "sinks", "sink-list":
			err = node.Decode(&c.Sinks)
		case "max_iterations", "max-iterations":
			err = node.Decode(&c.MaxIterations)
		default:
			return fmt.Errorf("incident card: unknown key %q", key)
		}
		if err != nil {
			return fmt.Errorf("incident card: key %q: %w", key, err)
		}
	}
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler for WatcherConfig.
func (w *WatcherConfig) UnmarshalYAML(value *yaml.Node) error {
	fields, err := mappingFields(value)
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	for key, node := range fields {
		var err error
		switch key {
		case "name":
			err = node.Decode(&w.Name)
		case "endpoint":
			err = node.Decode(&w.Endpoint)
		case "poll_interval_seconds", "poll-interval-seconds", "poll_interval", "poll-interval":
			err = node.Decode(&w.PollIntervalSeconds)
		case "timeout_seconds", "timeout-seconds", "timeout":
			err = node.Decode(&w.TimeoutSeconds)
		case "resources":
			err = node.Decode(&w.Resources)
		default:
			return fmt.Errorf("watcher: unknown key %q", key)
		}
		if err != nil {
			return fmt.Errorf("watcher: key %q: %w", key, err)
		}
	}
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler for DispatcherSettings.
func (d *DispatcherSettings) UnmarshalYAML(value *yaml.Node) error {
	fields, err := mappingFields(value)
	if err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}
	for key, node := range fields {
		var err error
		switch key {
		case "queue_size", "queue-size":
			err = node.Decode(&d.QueueSize)
		case "dedupe_ttl_seconds", "dedupe-ttl-seconds":
			err = node.Decode(&d.DedupeTTLSeconds)
		case "worker_concurrency", "worker-concurrency":
			err = node.Decode(&d.WorkerConcurrency)
		default:
			return fmt.Errorf("dispatcher: unknown key %q", key)
		}
		if err != nil {
			return fmt.Errorf("dispatcher: key %q: %w", key, err)
		}
	}
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler for OpenAISettings.
func (o *OpenAISettings) UnmarshalYAML(value *yaml.Node) error {
	fields, err := mappingFields(value)
	if err != nil {
		return fmt.Errorf("openai: %w", err)
	}
	for key, node := range fields {
		var err error
		switch key {
		case "model", "model-name":
			err = node.Decode(&o.Model)
		case "temperature", "temp":
			err = node.Decode(&o.Temperature)
		case "api_key", "api-key":
			err = node.Decode(&o.APIKey)
		case "base_url", "base-url":
			err = node.Decode(&o.BaseURL)
		default:
			return fmt.Errorf("openai: unknown key %q", key)
		}
		if err != nil {
			return fmt.Errorf("openai: key %q: %w", key, err)
		}
	}
	return nil
}

func mappingFields(value *yaml.Node) (map[string]*yaml.Node, error) {
	if value.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping, got %s", nodeKind(value))
	}
	fields := make(map[string]*yaml.Node, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		var key string
		if err := value.Content[i].Decode(&key); err != nil {
			return nil, err
		}
		fields[key] = value.Content[i+1]
	}
	return fields, nil
}

func nodeKind(node *yaml.Node) string {
	switch node.Kind {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.MappingNode:
		return "mapping"
	default:
		return "document"
	}
}
