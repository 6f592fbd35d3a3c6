// Package metrics provides Prometheus instrumentation for the radar service.
// It exposes gauges for connection, session and chat counts, and counters
// for radar pushes, chat transitions and safety actions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of open WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "radar_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// SessionsCreated counts sessions created by onboarding.
	SessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "radar_sessions_created_total",
		Help: "Total number of sessions created",
	})

	// SessionsExpired counts sessions removed after their TTL passed.
	SessionsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "radar_sessions_expired_total",
		Help: "Total number of sessions removed by TTL expiry",
	})

	// RadarUpdates counts radar:update pushes.
	RadarUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "radar_updates_total",
		Help: "Total number of radar updates pushed to subscribers",
	})

	// RankDuration records how long a single rank computation takes.
	RankDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "radar_rank_duration_seconds",
		Help:    "Time spent scoring and sorting radar candidates",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
	})

	// ChatTransitions counts chat lifecycle events, labeled by event:
	// "requested", "accepted", "declined", "ended".
	ChatTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "radar_chat_transitions_total",
		Help: "Chat lifecycle transitions",
	}, []string{"event"})

	// ChatEnds counts ended chats labeled by reason.
	ChatEnds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "radar_chat_ends_total",
		Help: "Ended chats by reason",
	}, []string{"reason"})

	// ActiveChats tracks the current number of active chat pairs.
	ActiveChats = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "radar_active_chats",
		Help: "Current number of active chat pairs",
	})

	// CooldownsTriggered counts cooldown activations.
	CooldownsTriggered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "radar_cooldowns_triggered_total",
		Help: "Total number of request cooldowns triggered",
	})

	// Exclusions counts safety exclusions labeled by source: "reports", "panic".
	Exclusions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "radar_safety_exclusions_total",
		Help: "Safety exclusions applied",
	}, []string{"source"})

	// Reports counts accepted reports labeled by category.
	Reports = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "radar_reports_total",
		Help: "Reports filed",
	}, []string{"category"})

	// MessagesTotal counts chat messages, labeled "relayed" or "blocked".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "radar_messages_total",
		Help: "Chat messages processed",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		SessionsCreated,
		SessionsExpired,
		RadarUpdates,
		RankDuration,
		ChatTransitions,
		ChatEnds,
		ActiveChats,
		CooldownsTriggered,
		Exclusions,
		Reports,
		MessagesTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
