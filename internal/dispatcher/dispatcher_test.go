package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jneo8/mcp-sentinel/internal/models"
)

type stubRunner struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *stubRunner) RunIncident(ctx context.Context, card models.IncidentCard, notification models.IncidentNotification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, notification.Resource.Name)
	return r.err
}

func (r *stubRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func testSettings(queueSize int) *models.SentinelSettings {
	return &models.SentinelSettings{
		IncidentCards: []models.IncidentCard{
			{Name: "cpu-card", Resource: "high-cpu", PromptTemplate: "p", MaxIterations: 3},
			{Name: "mem-card", Resource: "high-mem", PromptTemplate: "p", MaxIterations: 3},
		},
		Dispatcher: models.DispatcherSettings{
			QueueSize:         queueSize,
			DedupeTTLSeconds:  60,
			WorkerConcurrency: 2,
		},
	}
}

func notificationFor(resource, timestamp string) models.IncidentNotification {
	return models.IncidentNotification{
		Resource: models.Resource{
			Type:      "prometheus_alert",
			Name:      resource,
			Timestamp: timestamp,
		},
	}
}

func TestDispatchQueuesAndRuns(t *testing.T) {
	runner := &stubRunner{}
	d := New(testSettings(10), runner)
	d.Start(context.Background())
	defer d.Stop()

	result := d.Dispatch(notificationFor("high-cpu", "t1"))
	require.Equal(t, models.StatusQueued, result.Status)
	require.NotNil(t, result.IncidentCard)
	assert.Equal(t, "cpu-card", result.IncidentCard.Name)

	d.Join()
	assert.Equal(t, 1, runner.callCount())
}

func TestDispatchSuppressesDuplicates(t *testing.T) {
	d := New(testSettings(10), &stubRunner{})

	first := d.Dispatch(notificationFor("high-cpu", "t1"))
	require.Equal(t, models.StatusQueued, first.Status)

	second := d.Dispatch(notificationFor("high-cpu", "t1"))
	assert.Equal(t, models.StatusDuplicate, second.Status)
	assert.Equal(t, "dedupe cache hit", second.Detail)

	// A different activation timestamp is a different incident.
	third := d.Dispatch(notificationFor("high-cpu", "t2"))
	assert.Equal(t, models.StatusQueued, third.Status)

	d.Start(context.Background())
	d.Join()
	d.Stop()
}

func TestDispatchExpiresDedupeEntries(t *testing.T) {
	d := New(testSettings(10), &stubRunner{})
	current := time.Now()
	d.now = func() time.Time { return current }

	require.Equal(t, models.StatusQueued, d.Dispatch(notificationFor("high-cpu", "t1")).Status)
	assert.Equal(t, models.StatusDuplicate, d.Dispatch(notificationFor("high-cpu", "t1")).Status)

	current = current.Add(61 * time.Second)
	assert.Equal(t, models.StatusQueued, d.Dispatch(notificationFor("high-cpu", "t1")).Status)

	d.Start(context.Background())
	d.Join()
	d.Stop()
}

func TestDispatchDropsUnmappedResource(t *testing.T) {
	d := New(testSettings(10), &stubRunner{})

	result := d.Dispatch(notificationFor("unknown-resource", "t1"))
	assert.Equal(t, models.StatusDropped, result.Status)
	assert.Equal(t, "no incident card", result.Detail)
	assert.Nil(t, result.IncidentCard)
}

func TestDispatchQueueFullSkipsDedupeInsert(t *testing.T) {
	runner := &stubRunner{}
	d := New(testSettings(1), runner)

	require.Equal(t, models.StatusQueued, d.Dispatch(notificationFor("high-cpu", "t1")).Status)

	overflow := d.Dispatch(notificationFor("high-mem", "t1"))
	require.Equal(t, models.StatusDropped, overflow.Status)
	assert.Equal(t, "queue full", overflow.Detail)

	// Drain the queue, then the dropped notification must be admitted on
	// retry rather than treated as a duplicate.
	d.Start(context.Background())
	d.Join()

	retry := d.Dispatch(notificationFor("high-mem", "t1"))
	assert.Equal(t, models.StatusQueued, retry.Status)

	d.Join()
	d.Stop()
	assert.Equal(t, 2, runner.callCount())
}

func TestWorkerSurvivesRunnerFailure(t *testing.T) {
	runner := &stubRunner{err: errors.New("agent exploded")}
	d := New(testSettings(10), runner)
	d.Start(context.Background())
	defer d.Stop()

	require.Equal(t, models.StatusQueued, d.Dispatch(notificationFor("high-cpu", "t1")).Status)
	d.Join()
	require.Equal(t, models.StatusQueued, d.Dispatch(notificationFor("high-mem", "t1")).Status)
	d.Join()

	assert.Equal(t, 2, runner.callCount())
}

func TestDispatchUnderConcurrentDrain(t *testing.T) {
	runner := &stubRunner{}
	settings := testSettings(4)
	settings.Dispatcher.WorkerConcurrency = 4
	d := New(settings, runner)
	d.Start(context.Background())
	defer d.Stop()

	// Workers dequeue while Dispatch is still admitting; every queued
	// notification must be balanced in the inflight accounting so Join
	// terminates and the counts line up.
	queued := 0
	for i := 0; i < 500; i++ {
		result := d.Dispatch(notificationFor("high-cpu", fmt.Sprintf("t%d", i)))
		switch result.Status {
		case models.StatusQueued:
			queued++
		case models.StatusDropped:
			require.Equal(t, "queue full", result.Detail)
		default:
			t.Fatalf("unexpected status %q", result.Status)
		}
	}
	d.Join()
	assert.Equal(t, queued, runner.callCount())
}

func TestStopDrainsPendingQueue(t *testing.T) {
	runner := &stubRunner{}
	d := New(testSettings(10), runner)

	require.Equal(t, models.StatusQueued, d.Dispatch(notificationFor("high-cpu", "t1")).Status)
	require.Equal(t, models.StatusQueued, d.Dispatch(notificationFor("high-mem", "t1")).Status)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Start(ctx)
	d.Stop()

	// Join must not block after Stop dropped the queued items.
	d.Join()
	assert.Equal(t, 0, runner.callCount())
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	d := New(testSettings(10), &stubRunner{})
	d.Start(context.Background())
	d.Start(context.Background())
	d.Stop()
	d.Stop()
}

func TestNewKeepsFirstCardPerResource(t *testing.T) {
	settings := testSettings(10)
	settings.IncidentCards = append(settings.IncidentCards, models.IncidentCard{
		Name:           "cpu-card-shadow",
		Resource:       "high-cpu",
		PromptTemplate: "p",
		MaxIterations:  3,
	})
	d := New(settings, &stubRunner{})

	result := d.Dispatch(notificationFor("high-cpu", "t1"))
	require.Equal(t, models.StatusQueued, result.Status)
	assert.Equal(t, "cpu-card", result.IncidentCard.Name)
}
