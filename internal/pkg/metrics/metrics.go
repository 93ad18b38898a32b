package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
	ResultPassed  = "passed"
	ResultError   = "error"
)

var (
	// UpgradePhase is 1 for the current admin upgrade phase and 0 for all others.
	UpgradePhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "admin_upgrade_phase",
			Help: "Current admin node upgrade phase (1 for the active phase).",
		},
		[]string{"phase"},
	)

	// PhaseTransitionsTotal counts observed phase changes.
	PhaseTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_upgrade_phase_transitions_total",
			Help: "Total number of observed admin upgrade phase transitions.",
		},
		[]string{"from", "to"},
	)

	// OperationsTotal counts launch, cancel and prepare requests.
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_upgrade_operations_total",
			Help: "Total number of admin upgrade operations by result.",
		},
		[]string{"operation", "result"}, // result: success or the error kind
	)

	// PrecheckResultsTotal counts precheck outcomes.
	PrecheckResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_upgrade_precheck_results_total",
			Help: "Total number of precheck evaluations by check and outcome.",
		},
		[]string{"check", "result"}, // result: passed/failed/error
	)

	// PrecheckDuration records how long each check takes.
	PrecheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "admin_upgrade_precheck_duration_seconds",
			Help:    "Duration of precheck evaluations.",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"check"},
	)
)

// init registers the collectors with the controller-runtime registry served on /metrics.
func init() {
	metrics.Registry.MustRegister(UpgradePhase)
	metrics.Registry.MustRegister(PhaseTransitionsTotal)
	metrics.Registry.MustRegister(OperationsTotal)
	metrics.Registry.MustRegister(PrecheckResultsTotal)
	metrics.Registry.MustRegister(PrecheckDuration)
}

// SetPhase marks phase active and every other known phase inactive.
func SetPhase(phase string, all []string) {
	for _, p := range all {
		v := 0.0
		if p == phase {
			v = 1
		}
		UpgradePhase.WithLabelValues(p).Set(v)
	}
}
