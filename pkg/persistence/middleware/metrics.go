package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// NewMetrics counts backend calls by operation and outcome and observes
// their latency. Collectors already registered on reg are reused, so
// several sessions can share one registry.
func NewMetrics(reg prometheus.Registerer) Middleware {
	calls := register(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remodel_backend_calls_total",
			Help: "Backend calls by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	))
	duration := register(reg, prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remodel_backend_call_duration_seconds",
			Help:    "Backend call latency by operation.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	))

	return observe(func(_ context.Context, op string, elapsed time.Duration, err error) {
		calls.WithLabelValues(op, outcome(err)).Inc()
		duration.WithLabelValues(op).Observe(elapsed.Seconds())
	})
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
