package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BreakerTrips counts circuit breaker trip transitions by scope
var BreakerTrips = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tradeguard_breaker_trips_total",
		Help: "Total number of circuit breaker trip transitions",
	},
	[]string{"scope"},
)

// BreakerResets counts reset transitions split by how they were initiated
var BreakerResets = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tradeguard_breaker_resets_total",
		Help: "Total number of circuit breaker reset transitions",
	},
	[]string{"mode"}, // manual or auto
)

// VerifierFallbacks counts order-existence checks that fell back to the
// internally recorded status instead of a live exchange answer. A rising
// rate means duplicate-prevention decisions may be running on stale data.
var VerifierFallbacks = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tradeguard_verifier_fallbacks_total",
		Help: "Order existence checks answered from internal state instead of the exchange",
	},
	[]string{"reason"}, // no_adapter, adapter_error or order_not_found
)

// GuardDecisions counts duplicate-guard outcomes
var GuardDecisions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tradeguard_guard_decisions_total",
		Help: "Duplicate guard retry decisions",
	},
	[]string{"decision"}, // allowed or denied
)

// ExpiredRecordsRemoved counts idempotency records purged by the sweeper
var ExpiredRecordsRemoved = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "tradeguard_idempotency_expired_removed_total",
		Help: "Idempotency records physically removed after TTL expiry",
	},
)

// SignalsEvaluated counts risk signals run through the condition evaluator
var SignalsEvaluated = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tradeguard_signals_evaluated_total",
		Help: "Risk signals evaluated against breaker conditions",
	},
	[]string{"scope"},
)

func init() {
	prometheus.MustRegister(BreakerTrips, BreakerResets)
	prometheus.MustRegister(VerifierFallbacks, GuardDecisions)
	prometheus.MustRegister(ExpiredRecordsRemoved, SignalsEvaluated)
}
