// Package metrics provides Prometheus instrumentation for the control
// loop. All metric operations are thread-safe via Prometheus's internal
// locking; initialize once at startup and share the value.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "autonomic"
)

// Metrics holds the control-loop instruments.
type Metrics struct {
	// DiagnosticRuns counts diagnostic cycles by result ("ok", "denied").
	DiagnosticRuns *prometheus.CounterVec

	// IssuesDetected counts issues by severity.
	IssuesDetected *prometheus.CounterVec

	// HealthScore is the latest aggregate health score.
	HealthScore prometheus.Gauge

	// ComponentHealth is the latest per-component health score.
	ComponentHealth *prometheus.GaugeVec

	// RepairsTotal counts terminal repairs by action type and status.
	RepairsTotal *prometheus.CounterVec

	// ActiveRepairs tracks the in-flight repair count.
	ActiveRepairs prometheus.Gauge

	// RepairRejections counts submissions rejected at capacity.
	RepairRejections prometheus.Counter

	// RiskScore is the latest predictive risk per module.
	RiskScore *prometheus.GaugeVec

	// PreventionsTotal counts pre-emptive repairs by outcome.
	PreventionsTotal *prometheus.CounterVec

	// EscalationsTotal counts escalations handed to the sink.
	EscalationsTotal prometheus.Counter

	// LoopErrors counts recovered loop-level failures by loop name.
	LoopErrors *prometheus.CounterVec
}

// New registers the control-loop metrics on the given registerer and
// returns them. A nil registerer uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		DiagnosticRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "diag",
			Name:      "runs_total",
			Help:      "Diagnostic cycles by result.",
		}, []string{"result"}),
		IssuesDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "diag",
			Name:      "issues_total",
			Help:      "Detected issues by severity.",
		}, []string{"severity"}),
		HealthScore: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "diag",
			Name:      "health_score",
			Help:      "Latest aggregate health score (0-100).",
		}),
		ComponentHealth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "diag",
			Name:      "component_health_score",
			Help:      "Latest per-component health score (0-100).",
		}, []string{"component"}),
		RepairsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "repair",
			Name:      "actions_total",
			Help:      "Terminal repair actions by action type and status.",
		}, []string{"action_type", "status"}),
		ActiveRepairs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "repair",
			Name:      "active",
			Help:      "Repairs currently in progress.",
		}),
		RepairRejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "repair",
			Name:      "rejections_total",
			Help:      "Repair submissions rejected at the concurrency cap.",
		}),
		RiskScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "predict",
			Name:      "risk_score",
			Help:      "Latest predictive risk per module (0-100).",
		}, []string{"module"}),
		PreventionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "predict",
			Name:      "preventions_total",
			Help:      "Pre-emptive repairs by outcome.",
		}, []string{"outcome"}),
		EscalationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "escalations_total",
			Help:      "Escalations handed to the external sink.",
		}),
		LoopErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "errors_total",
			Help:      "Recovered loop-level failures by loop.",
		}, []string{"loop"}),
	}
}
