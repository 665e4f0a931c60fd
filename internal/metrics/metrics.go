// Package metrics exposes Prometheus instruments for sync sessions, queue
// depth, and device connection state. Instruments register with the default
// registry and are served by the daemon at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsTotal counts finished sync sessions by outcome.
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipoddock_sync_sessions_total",
			Help: "Sync sessions by outcome (committed, failed, empty, coalesced)",
		},
		[]string{"outcome"},
	)

	// SessionDuration tracks wall time of non-empty sessions.
	SessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ipoddock_sync_session_duration_seconds",
			Help:    "Duration of sync sessions that touched the device",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	// ItemsTotal counts per-item outcomes.
	ItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipoddock_sync_items_total",
			Help: "Queue items processed by kind and outcome",
		},
		[]string{"kind", "status"},
	)

	// QueueDepth is the number of pending queue items.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ipoddock_queue_depth",
			Help: "Pending items in the durable queue",
		},
	)

	// EnqueuedTotal counts accepted items by producer.
	EnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipoddock_enqueued_total",
			Help: "Items accepted into the queue by source (api, cli, inbox)",
		},
		[]string{"source"},
	)

	// TriggersTotal counts sync triggers by reason and whether they started a session.
	TriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipoddock_sync_triggers_total",
			Help: "Sync triggers by reason and result (started, coalesced)",
		},
		[]string{"reason", "result"},
	)

	// DeviceState is 1 for the current connection state and 0 for the others.
	DeviceState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ipoddock_device_state",
			Help: "Player connection state (disconnected, connected, degraded)",
		},
		[]string{"state"},
	)
)

var deviceStates = []string{"disconnected", "connected", "degraded"}

// RecordSession records a finished session.
func RecordSession(outcome string, duration time.Duration) {
	SessionsTotal.WithLabelValues(outcome).Inc()
	if duration > 0 {
		SessionDuration.Observe(duration.Seconds())
	}
}

// RecordItem records one item outcome.
func RecordItem(kind, status string) {
	ItemsTotal.WithLabelValues(kind, status).Inc()
}

// SetQueueDepth publishes the pending item count.
func SetQueueDepth(n int) {
	QueueDepth.Set(float64(n))
}

// RecordEnqueue counts an accepted item.
func RecordEnqueue(source string) {
	EnqueuedTotal.WithLabelValues(source).Inc()
}

// RecordTrigger counts a sync trigger.
func RecordTrigger(reason string, started bool) {
	result := "coalesced"
	if started {
		result = "started"
	}
	TriggersTotal.WithLabelValues(reason, result).Inc()
}

// SetDeviceState marks state as current.
func SetDeviceState(state string) {
	for _, s := range deviceStates {
		value := 0.0
		if s == state {
			value = 1
		}
		DeviceState.WithLabelValues(s).Set(value)
	}
}
