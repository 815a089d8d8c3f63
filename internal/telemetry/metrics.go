package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LeaderboardBroadcasts counts emitted leaderboard ticks across sessions.
	LeaderboardBroadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "typingcomp",
		Name:      "leaderboard_broadcasts_total",
		Help:      "Number of leaderboard ticks emitted to subscribers.",
	})

	// ProgressAccepted counts progress events that mutated a live record.
	ProgressAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "typingcomp",
		Name:      "progress_events_accepted_total",
		Help:      "Number of accepted participant progress events.",
	})

	// ProgressDropped counts progress events rejected as late or out-of-round.
	ProgressDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "typingcomp",
		Name:      "progress_events_dropped_total",
		Help:      "Number of silently dropped participant progress events.",
	})

	// ActiveConnections tracks open websocket connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "typingcomp",
		Name:      "websocket_connections",
		Help:      "Currently open websocket connections.",
	})
)
