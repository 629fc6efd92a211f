package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	intervals   *prometheus.CounterVec
	replicas    *prometheus.CounterVec
	fallbacks   *prometheus.CounterVec
	experiments *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

// New creates a recorder registered on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a recorder registered on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		intervals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rewind_intervals_total",
				Help: "Intervals settled, by status",
			},
			[]string{"status"},
		),
		replicas: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rewind_replicas_total",
				Help: "Replica decisions, by decision path and outcome",
			},
			[]string{"path", "outcome"},
		),
		fallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rewind_fallbacks_total",
				Help: "Agentic replicas that fell back to a direct decision",
			},
			[]string{"reason"},
		),
		experiments: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rewind_experiments_total",
				Help: "Experiments finished, by status",
			},
			[]string{"status"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rewind_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rewind_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"operation"},
		),
	}
}

// RecordInterval counts one settled interval.
func (r *Recorder) RecordInterval(status string) {
	r.intervals.WithLabelValues(status).Inc()
}

// RecordReplica counts one replica outcome.
func (r *Recorder) RecordReplica(path, outcome string) {
	r.replicas.WithLabelValues(path, outcome).Inc()
}

// RecordFallback counts one agentic-to-direct fallback.
func (r *Recorder) RecordFallback(reason string) {
	r.fallbacks.WithLabelValues(reason).Inc()
}

// RecordExperiment counts one finished experiment.
func (r *Recorder) RecordExperiment(status string) {
	r.experiments.WithLabelValues(status).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
