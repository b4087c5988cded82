package jobs

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the job runner's Prometheus collectors.
type Metrics struct {
	Started  prometheus.Counter
	Finished *prometheus.CounterVec
	Duration prometheus.Histogram
	Active   prometheus.Gauge
}

// NewMetrics registers the collectors with reg, reusing collectors that are
// already registered there.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Metrics{
		Started: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "optbench",
			Subsystem: "jobs",
			Name:      "started_total",
			Help:      "Optimization jobs handed to a worker.",
		})),
		Finished: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "optbench",
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Optimization jobs finished, by final state.",
		}, []string{"state"})),
		Duration: register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "optbench",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Wall time of optimization jobs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		})),
		Active: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "optbench",
			Subsystem: "jobs",
			Name:      "active",
			Help:      "Jobs whose worker is running.",
		})),
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
