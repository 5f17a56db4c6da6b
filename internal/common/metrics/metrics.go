// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_evaluations_total",
			Help: "Total rule evaluations by outcome",
		},
		[]string{"outcome"},
	)

	QueueTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_queue_transitions_total",
			Help: "Queued notification status transitions",
		},
		[]string{"to"},
	)

	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "notifier_send_duration_seconds",
			Help: "Duration of delivery channel sends in seconds",
		},
		[]string{"channel", "status"},
	)

	PendingItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifier_queue_pending",
			Help: "Number of notifications waiting in the delay window",
		},
	)

	SyncResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_sync_items_total",
			Help: "Sync pass outcomes per item",
		},
		[]string{"result"},
	)

	ConflictsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifier_sync_conflicts_open",
			Help: "Sync items waiting for conflict resolution",
		},
	)
)
