package models

import "fmt"

// ApplyDefaults fills zero-valued settings with their documented defaults.
// Called by the config loader before Validate.
func (s *SentinelSettings) ApplyDefaults() {
	if s.Dispatcher.QueueSize == 0 {
		s.Dispatcher.QueueSize = DefaultQueueSize
	}
	if s.Dispatcher.DedupeTTLSeconds == 0 {
		s.Dispatcher.DedupeTTLSeconds = DefaultDedupeTTLSeconds
	}
	if s.Dispatcher.WorkerConcurrency == 0 {
		s.Dispatcher.WorkerConcurrency = DefaultWorkerConcurrency
	}
	if s.OpenAI.Model == "" {
		s.OpenAI.Model = DefaultOpenAIModel
	}
	if s.OpenAI.Temperature == 0 {
		s.OpenAI.Temperature = DefaultTemperature
	}
	for i := range s.IncidentCards {
		if s.IncidentCards[i].MaxIterations == 0 {
			s.IncidentCards[i].MaxIterations = DefaultMaxIterations
		}
	}
	for i := range s.Resources {
		if s.Resources[i].Type == "" {
			s.Resources[i].Type = DefaultResourceType
		}
	}
	for i := range s.Watchers {
		if s.Watchers[i].PollIntervalSeconds == 0 {
			s.Watchers[i].PollIntervalSeconds = DefaultPollSeconds
		}
		if s.Watchers[i].TimeoutSeconds == 0 {
			s.Watchers[i].TimeoutSeconds = DefaultTimeoutSeconds
		}
	}
	for i := range s.Sinks {
		if s.Sinks[i].Type == "" {
			s.Sinks[i].Type = "logger"
		}
		if s.Sinks[i].Level == "" {
			s.Sinks[i].Level = "INFO"
		}
	}
}

// Validate checks field bounds and cross-entity invariants. It assumes
// ApplyDefaults has run.
func (s *SentinelSettings) Validate() error {
	if s.Dispatcher.QueueSize < 1 || s.Dispatcher.QueueSize > 1000 {
		return fmt.Errorf("dispatcher.queue_size must be within [1, 1000], got %d", s.Dispatcher.QueueSize)
	}
	if s.Dispatcher.DedupeTTLSeconds < 10 || s.Dispatcher.DedupeTTLSeconds > 3600 {
		return fmt.Errorf("dispatcher.dedupe_ttl_seconds must be within [10, 3600], got %d", s.Dispatcher.DedupeTTLSeconds)
	}
	if s.Dispatcher.WorkerConcurrency < 1 || s.Dispatcher.WorkerConcurrency > 32 {
		return fmt.Errorf("dispatcher.worker_concurrency must be within [1, 32], got %d", s.Dispatcher.WorkerConcurrency)
	}
	if s.OpenAI.Temperature < 0 || s.OpenAI.Temperature > 2 {
		return fmt.Errorf("openai.temperature must be within [0, 2], got %v", s.OpenAI.Temperature)
	}
	for _, card := range s.IncidentCards {
		if card.Name == "" {
			return fmt.Errorf("incident card missing name")
		}
		if card.Resource == "" {
			return fmt.Errorf("incident card %q missing resource", card.Name)
		}
		if card.PromptTemplate == "" {
			return fmt.Errorf("incident card %q missing prompt_template", card.Name)
		}
		if card.MaxIterations < 1 || card.MaxIterations > 20 {
			return fmt.Errorf("incident card %q: max_iterations must be within [1, 20], got %d", card.Name, card.MaxIterations)
		}
	}
	for _, def := range s.Resources {
		if def.Name == "" {
			return fmt.Errorf("resource definition missing name")
		}
	}
	for _, w := range s.Watchers {
		if w.Name == "" {
			return fmt.Errorf("watcher missing name")
		}
		if w.Endpoint == "" {
			return fmt.Errorf("watcher %q missing endpoint", w.Name)
		}
		if w.PollIntervalSeconds < 1 {
			return fmt.Errorf("watcher %q: poll_interval_seconds must be >= 1", w.Name)
		}
		if w.TimeoutSeconds < 1 {
			return fmt.Errorf("watcher %q: timeout_seconds must be >= 1", w.Name)
		}
	}
	for _, server := range s.ToolServers {
		if server.Name == "" {
			return fmt.Errorf("tool server missing name")
		}
		if server.ServerURL == "" && server.ConnectorID == "" {
			return fmt.Errorf("tool server %q requires server_url or connector_id", server.Name)
		}
	}
	for _, sink := range s.Sinks {
		if sink.Name == "" {
			return fmt.Errorf("sink missing name")
		}
	}
	return nil
}
