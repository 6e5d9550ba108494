// Package metrics provides Prometheus instrumentation for the Hushh pairing
// server. It exposes gauges for connection, queue and room counts, plus
// counters for matches, decisions and relayed signaling frames.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connections tracks the current number of registered sessions.
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hushh_connections",
		Help: "Current number of registered sessions",
	})

	// WaitingUsers tracks the current size of the match waiting queue.
	WaitingUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hushh_waiting_users",
		Help: "Current number of users in the video match waiting queue",
	})

	// ActiveRooms tracks the current number of active video rooms.
	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hushh_active_rooms",
		Help: "Current number of active video rooms",
	})

	// MatchesTotal counts rooms created by the pairing engine.
	MatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hushh_matches_total",
		Help: "Total number of video matches created",
	})

	// DecisionsTotal counts match decisions, labeled by action.
	DecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hushh_match_decisions_total",
		Help: "Total number of match decisions processed",
	}, []string{"action"}) // action = "continue", "end"

	// SignalsRelayed counts relayed signaling frames, labeled by kind.
	SignalsRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hushh_signals_relayed_total",
		Help: "Total number of signaling frames relayed between room occupants",
	}, []string{"kind"}) // kind = "offer", "answer", "ice-candidate"

	// BannedRejects counts connections and searches rejected by the ban gate.
	BannedRejects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hushh_banned_rejects_total",
		Help: "Total number of events rejected by the ban gate",
	})
)

func init() {
	prometheus.MustRegister(
		Connections,
		WaitingUsers,
		ActiveRooms,
		MatchesTotal,
		DecisionsTotal,
		SignalsRelayed,
		BannedRejects,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
