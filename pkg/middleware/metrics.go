package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the dispatch counters.
type Metrics struct {
	ToolCalls    *prometheus.CounterVec
	AuthFailures *prometheus.CounterVec
	GateRejected *prometheus.CounterVec
	AuditErrors  prometheus.Counter
}

// NewMetrics registers the dispatch counters with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		ToolCalls: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "toorpia_tool_calls_total",
			Help: "Tool invocations by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		AuthFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "toorpia_auth_failures_total",
			Help: "Authentication and authorization failures by error code.",
		}, []string{"code"}),
		GateRejected: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "toorpia_gate_rejections_total",
			Help: "Workflow gate rejections by error code.",
		}, []string{"code"}),
		AuditErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "toorpia_audit_write_failures_total",
			Help: "Audit records that could not be persisted.",
		}),
	}
}

// observeOutcome records a completed tool call.
func (m *Metrics) observeOutcome(tool string, success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "error"
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
}

// observeAuthFailure records an authentication or authorization failure.
func (m *Metrics) observeAuthFailure(code string) {
	if m == nil {
		return
	}
	m.AuthFailures.WithLabelValues(code).Inc()
}

// ObserveGateRejection records a workflow gate rejection. Called by tool
// handlers, which own the gate checks.
func (m *Metrics) ObserveGateRejection(code string) {
	if m == nil {
		return
	}
	m.GateRejected.WithLabelValues(code).Inc()
}

// observeAuditError records a failed audit write.
func (m *Metrics) observeAuditError() {
	if m == nil {
		return
	}
	m.AuditErrors.Inc()
}
