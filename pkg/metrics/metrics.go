package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LiveSessions tracks sessions currently in the LIVE state.
	LiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skillup_live_sessions",
			Help: "Number of sessions currently live",
		},
	)

	// ActiveParticipants tracks participants with an open presence entry.
	ActiveParticipants = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skillup_active_participants",
			Help: "Number of participants currently active across live sessions",
		},
	)

	// ConnectedClients tracks open realtime websocket connections.
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skillup_realtime_clients",
			Help: "Number of connected realtime clients",
		},
	)

	// PushDeliveries counts multicast outcomes by result (success|failure).
	PushDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillup_push_deliveries_total",
			Help: "Total number of push delivery attempts",
		},
		[]string{"result"},
	)

	// StaleTokensRetired counts push tokens cleared after permanent delivery failures.
	StaleTokensRetired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skillup_stale_push_tokens_retired_total",
			Help: "Total number of push tokens cleared after permanent failures",
		},
	)

	// DeviceRevocations counts device session revocations by initiator (single|all).
	DeviceRevocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillup_device_revocations_total",
			Help: "Total number of device session revocations",
		},
		[]string{"scope"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skillup_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
