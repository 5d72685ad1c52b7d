// Package dispatcher admits watcher notifications through a bounded,
// deduplicated queue and fans them out to a fixed pool of incident workers.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jneo8/mcp-sentinel/internal/metrics"
	"github.com/jneo8/mcp-sentinel/internal/models"
)

// IncidentRunner executes one incident. *agent.Orchestrator satisfies it.
type IncidentRunner interface {
	RunIncident(ctx context.Context, card models.IncidentCard, notification models.IncidentNotification) error
}

// Dispatcher routes notifications to incident workers. Dispatch is a
// synchronous admission decision and never blocks on queue space; workers
// drain the queue until Stop.
type Dispatcher struct {
	settings *models.SentinelSettings
	runner   IncidentRunner
	queue    chan models.IncidentNotification
	cards    map[string]models.IncidentCard

	mu     sync.Mutex
	dedupe map[string]time.Time

	lifecycle sync.Mutex
	running   bool
	cancel    context.CancelFunc
	workers   sync.WaitGroup
	inflight  sync.WaitGroup

	now func() time.Time
}

// New builds a dispatcher. The card index maps resource names to cards;
// when several cards claim the same resource the first wins.
func New(settings *models.SentinelSettings, runner IncidentRunner) *Dispatcher {
	cards := make(map[string]models.IncidentCard, len(settings.IncidentCards))
	for _, card := range settings.IncidentCards {
		if existing, ok := cards[card.Resource]; ok {
			log.Warn().
				Str("resource", card.Resource).
				Str("kept", existing.Name).
				Str("ignored", card.Name).
				Msg("Multiple incident cards for resource; keeping first")
			continue
		}
		cards[card.Resource] = card
	}
	return &Dispatcher{
		settings: settings,
		runner:   runner,
		queue:    make(chan models.IncidentNotification, settings.Dispatcher.QueueSize),
		cards:    cards,
		dedupe:   make(map[string]time.Time),
		now:      time.Now,
	}
}

// Start spawns the configured number of worker goroutines. Idempotent.
func (d *Dispatcher) Start(ctx context.Context) {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()
	if d.running {
		log.Debug().Msg("Dispatcher already running")
		return
	}
	d.running = true

	workerCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	concurrency := d.settings.Dispatcher.WorkerConcurrency
	log.Info().Int("concurrency", concurrency).Msg("Starting dispatcher")
	for id := 0; id < concurrency; id++ {
		d.workers.Add(1)
		go d.workerLoop(workerCtx, id)
	}
}

// Stop cancels all workers, waits for them to finish their current incident,
// and drops whatever is left in the queue. Idempotent.
func (d *Dispatcher) Stop() {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()
	if !d.running {
		return
	}
	log.Info().Int("pending", len(d.queue)).Msg("Stopping dispatcher")
	d.cancel()
	d.workers.Wait()

	for {
		select {
		case notification := <-d.queue:
			log.Warn().
				Str("resource", notification.Resource.Name).
				Msg("Dropping queued notification on shutdown")
			d.inflight.Done()
		default:
			d.running = false
			metrics.QueueDepth.Set(0)
			return
		}
	}
}

// Join blocks until every admitted notification has been handled. Used by
// tests and shutdown sequencing.
func (d *Dispatcher) Join() {
	d.inflight.Wait()
}

// Dispatch decides admission for one notification: purge expired dedupe
// entries, reject duplicates, drop resources with no incident card, and
// enqueue with a fresh dedupe entry. The dedupe entry is NOT inserted when
// the queue is full, so the same alert can retry on the next poll.
func (d *Dispatcher) Dispatch(notification models.IncidentNotification) models.DispatcherResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.purgeExpiredLocked(now)

	key := notification.Resource.DedupeKey()
	if expires, ok := d.dedupe[key]; ok && expires.After(now) {
		log.Debug().
			Str("resource", notification.Resource.Name).
			Str("dedupe_key", key).
			Msg("Dropping duplicate alert")
		metrics.NotificationsTotal.WithLabelValues(models.StatusDuplicate).Inc()
		return models.DispatcherResult{Status: models.StatusDuplicate, Detail: "dedupe cache hit"}
	}

	card, ok := d.cards[notification.Resource.Name]
	if !ok {
		log.Warn().
			Str("resource", notification.Resource.Name).
			Msg("No incident card mapped for resource")
		metrics.NotificationsTotal.WithLabelValues(models.StatusDropped).Inc()
		return models.DispatcherResult{Status: models.StatusDropped, Detail: "no incident card"}
	}

	// Add before the send: a worker may dequeue and Done before this
	// goroutine resumes, and the counter must never go negative.
	d.inflight.Add(1)
	select {
	case d.queue <- notification:
	default:
		d.inflight.Done()
		log.Error().
			Int("queue_size", len(d.queue)).
			Str("resource", notification.Resource.Name).
			Msg("Dispatcher queue full, dropping alert")
		metrics.NotificationsTotal.WithLabelValues(models.StatusDropped).Inc()
		return models.DispatcherResult{Status: models.StatusDropped, Detail: "queue full"}
	}

	d.dedupe[key] = now.Add(time.Duration(d.settings.Dispatcher.DedupeTTLSeconds) * time.Second)
	metrics.NotificationsTotal.WithLabelValues(models.StatusQueued).Inc()
	metrics.QueueDepth.Set(float64(len(d.queue)))
	log.Info().
		Str("resource", notification.Resource.Name).
		Str("incident_card", card.Name).
		Msg("Queued notification for processing")
	return models.DispatcherResult{Status: models.StatusQueued, IncidentCard: &card}
}

func (d *Dispatcher) workerLoop(ctx context.Context, id int) {
	defer d.workers.Done()
	log.Debug().Int("worker_id", id).Msg("Worker loop started")
	for {
		select {
		case <-ctx.Done():
			log.Debug().Int("worker_id", id).Msg("Worker loop exited")
			return
		default:
		}
		select {
		case <-ctx.Done():
			log.Debug().Int("worker_id", id).Msg("Worker loop exited")
			return
		case notification := <-d.queue:
			metrics.QueueDepth.Set(float64(len(d.queue)))
			d.handle(ctx, notification, id)
			d.inflight.Done()
		}
	}
}

// handle re-resolves the card and runs the incident. A failed incident is
// logged and swallowed so the worker survives.
func (d *Dispatcher) handle(ctx context.Context, notification models.IncidentNotification, workerID int) {
	resourceName := notification.Resource.Name
	card, ok := d.cards[resourceName]
	if !ok {
		log.Warn().
			Str("resource", resourceName).
			Int("worker_id", workerID).
			Msg("Skipping notification due to missing card")
		return
	}

	log.Info().
		Int("worker_id", workerID).
		Str("incident_card", card.Name).
		Str("resource", resourceName).
		Msg("Dispatching incident to agent")

	if err := d.runner.RunIncident(ctx, card, notification); err != nil {
		log.Error().
			Err(err).
			Int("worker_id", workerID).
			Str("resource", resourceName).
			Msg("Incident processing failed")
	}
}

func (d *Dispatcher) purgeExpiredLocked(now time.Time) {
	var purged int
	for key, expires := range d.dedupe {
		if !expires.After(now) {
			delete(d.dedupe, key)
			purged++
		}
	}
	if purged > 0 {
		log.Debug().Int("count", purged).Msg("Purged expired dedupe entries")
	}
}
