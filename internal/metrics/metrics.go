// Package metrics exposes operational counters for the sentinel pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NotificationsTotal counts admission decisions by status
	// (queued, duplicate, dropped).
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "notifications_total",
		Help:      "Notifications handled by the dispatcher, labelled by admission status.",
	}, []string{"status"})

	// IncidentsTotal counts completed incident executions by outcome
	// (success, failure).
	IncidentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "incidents_total",
		Help:      "Incident executions completed by the orchestrator, labelled by outcome.",
	}, []string{"outcome"})

	// QueueDepth tracks the number of notifications waiting for a worker.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Name:      "queue_depth",
		Help:      "Notifications currently queued for dispatch.",
	})

	// WatcherPollsTotal counts watcher poll attempts by result (ok, error).
	WatcherPollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "watcher_polls_total",
		Help:      "Alert endpoint polls, labelled by watcher name and result.",
	}, []string{"watcher", "result"})
)
