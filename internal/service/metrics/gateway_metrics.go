package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	GatewayLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rewind",
			Subsystem: "gateway",
			Name:      "latency_seconds",
			Help:      "Latency of external gateway calls",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"service", "operation"},
	)

	GatewayErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewind",
			Subsystem: "gateway",
			Name:      "errors_total",
			Help:      "Errors by gateway and error class",
		},
		[]string{"service", "class"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rewind",
			Subsystem: "gateway",
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"service"},
	)

	LimiterWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rewind",
			Subsystem: "ratelimit",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for a rate limiter slot",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		},
		[]string{"service"},
	)
)

// Register adds the gateway collectors to the default registry once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(GatewayLatency, GatewayErrors, BreakerState, LimiterWait)
	})
}

// ObserveCall records one gateway call. class is empty on success.
func ObserveCall(service, operation, class string, d time.Duration) {
	GatewayLatency.WithLabelValues(service, operation).Observe(d.Seconds())
	if class != "" {
		GatewayErrors.WithLabelValues(service, class).Inc()
	}
}

// ObserveWait records how long a caller waited for a limiter slot.
func ObserveWait(service string, d time.Duration) {
	LimiterWait.WithLabelValues(service).Observe(d.Seconds())
}
