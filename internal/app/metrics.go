/**
 * @description
 * Prometheus metrics for the conversation engine, registered on the default
 * registry and exposed by the HTTP server's /metrics endpoint.
 */
package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	inboundMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_inbound_messages_total",
		Help: "Inbound messages by handling outcome.",
	}, []string{"outcome"})

	stateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_state_transitions_total",
		Help: "Session state transitions by destination state.",
	}, []string{"state"})

	gatewayCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_gateway_calls_total",
		Help: "Payment gateway execution outcomes.",
	}, []string{"result"})

	settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_settlements_total",
		Help: "Ledger entry resolutions by terminal status and source.",
	}, []string{"status", "source"})

	sweepExpiredSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_sweep_expired_sessions_total",
		Help: "Sessions expired by the timeout sweep.",
	})

	handleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_handle_inbound_seconds",
		Help:    "Latency of full inbound message handling.",
		Buckets: prometheus.DefBuckets,
	})
)
