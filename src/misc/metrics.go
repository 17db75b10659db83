package misc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "jacpim"
)

// Metrics exposes engine counters to Prometheus. A nil *Metrics is valid and
// records nothing, so components can be built without a registry.
type Metrics struct {
	TraceSteps      *prometheus.CounterVec
	MramBytes       *prometheus.CounterVec
	ResultsDropped  *prometheus.CounterVec
	UnitRuns        *prometheus.CounterVec
	UnitRunDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		TraceSteps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "trace_steps_total",
				Help:      "Trace entries dispatched, by unit",
			},
			[]string{"unit"},
		),
		MramBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "mram_bytes_total",
				Help:      "Bytes moved between MRAM and WRAM, by unit and direction",
			},
			[]string{"unit", "direction"},
		),
		ResultsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "results_dropped_total",
				Help:      "Result identifiers dropped because the container was full",
			},
			[]string{"unit"},
		),
		UnitRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "unit_runs_total",
				Help:      "Compute unit runs, by outcome",
			},
			[]string{"outcome"},
		),
		UnitRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "unit_run_seconds",
				Help:      "Wall time of one compute unit run",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"outcome"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			metrics.TraceSteps,
			metrics.MramBytes,
			metrics.ResultsDropped,
			metrics.UnitRuns,
			metrics.UnitRunDuration,
		)
	}

	return metrics
}

func (m *Metrics) ObserveStep(unit string) {
	if m == nil {
		return
	}
	m.TraceSteps.WithLabelValues(unit).Inc()
}

func (m *Metrics) ObserveRead(unit string, bytes int64) {
	if m == nil || bytes <= 0 {
		return
	}
	m.MramBytes.WithLabelValues(unit, "read").Add(float64(bytes))
}

func (m *Metrics) ObserveWrite(unit string, bytes int64) {
	if m == nil || bytes <= 0 {
		return
	}
	m.MramBytes.WithLabelValues(unit, "write").Add(float64(bytes))
}

func (m *Metrics) ObserveDrop(unit string) {
	if m == nil {
		return
	}
	m.ResultsDropped.WithLabelValues(unit).Inc()
}

// ObserveUnitRun records one unit run; outcome is "completed" or "faulted".
func (m *Metrics) ObserveUnitRun(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.UnitRuns.WithLabelValues(outcome).Inc()
	m.UnitRunDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}
