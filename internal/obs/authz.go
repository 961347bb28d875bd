package obs

import "github.com/prometheus/client_golang/prometheus"

var (
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Authorization decisions by module, outcome and deny reason.",
		},
		[]string{"module", "decision", "reason"},
	)

	// Kept apart from decisionsTotal: a malformed request is a caller bug, not policy.
	invalidRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_invalid_requests_total",
			Help: "Authorization calls rejected as malformed, by kind.",
		},
		[]string{"kind"},
	)

	auditDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authz_audit_dropped_total",
		Help: "Decision audit records dropped because the sink was saturated or failed.",
	})
)

// ObserveDecision counts one authorization decision.
func ObserveDecision(module, decision, reason string) {
	decisionsTotal.WithLabelValues(module, decision, reason).Inc()
}

// ObserveInvalidRequest counts one malformed authorization call.
func ObserveInvalidRequest(kind string) {
	invalidRequestsTotal.WithLabelValues(kind).Inc()
}

// ObserveAuditDropped counts one audit record that never reached the sink.
func ObserveAuditDropped() {
	auditDroppedTotal.Inc()
}
