package watcher

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/jneo8/mcp-sentinel/internal/models"
)

// Service owns the full set of configured watchers and starts and stops them
// together.
type Service struct {
	watchers []*PrometheusWatcher
}

// NewService builds one watcher per watcher config. Each watcher gets its own
// HTTP client so per-watcher timeouts apply.
func NewService(settings *models.SentinelSettings, notifier Notifier) *Service {
	watchers := make([]*PrometheusWatcher, 0, len(settings.Watchers))
	for _, config := range settings.Watchers {
		watchers = append(watchers, NewPrometheusWatcher(config, settings.Resources, notifier, nil))
	}
	return &Service{watchers: watchers}
}

// Start launches every watcher's poll loop.
func (s *Service) Start(ctx context.Context) {
	log.Info().Int("watchers", len(s.watchers)).Msg("Starting watcher service")
	for _, w := range s.watchers {
		w.Start(ctx)
	}
}

// Stop halts every watcher and waits for their loops to exit.
func (s *Service) Stop() {
	for _, w := range s.watchers {
		w.Stop()
	}
	log.Info().Msg("Watcher service stopped")
}

// PollAll runs a single synchronous poll across every watcher and returns the
// total number of queued notifications. Used by run-once mode.
func (s *Service) PollAll(ctx context.Context) int {
	total := 0
	for _, w := range s.watchers {
		total += w.PollOnce(ctx)
	}
	return total
}
