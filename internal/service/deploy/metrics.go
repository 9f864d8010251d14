package deploy

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mosaiq-software/server-manager-sub000/internal/domain"
)

type deployMetrics struct {
	total    *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration prometheus.Histogram
}

func newDeployMetrics() *deployMetrics {
	total := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "controlplane",
		Subsystem: "deploy",
		Name:      "total",
		Help:      "Deployment attempts by outcome",
	}, []string{"outcome"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "controlplane",
		Subsystem: "deploy",
		Name:      "failures_total",
		Help:      "Failed deployment attempts by reason",
	}, []string{"reason"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "controlplane",
		Subsystem: "deploy",
		Name:      "duration_seconds",
		Help:      "Time from deploy request to dispatch or failure",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	})
	return &deployMetrics{
		total:    registerCounterVec(total),
		failures: registerCounterVec(failures),
		duration: registerHistogram(duration),
	}
}

func registerCounterVec(c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return c
}

func registerHistogram(h prometheus.Histogram) prometheus.Histogram {
	if err := prometheus.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing
			}
		}
	}
	return h
}

func (m *deployMetrics) observe(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.duration.Observe(elapsed.Seconds())
	if err == nil {
		m.total.WithLabelValues("dispatched").Inc()
		return
	}
	m.total.WithLabelValues("failed").Inc()
	m.failures.WithLabelValues(failureReason(err)).Inc()
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidConfig):
		return "invalid_config"
	case errors.Is(err, domain.ErrUnassigned):
		return "unassigned"
	case errors.Is(err, domain.ErrStateConflict):
		return "state_conflict"
	case errors.Is(err, domain.ErrDriftDetected):
		return "drift"
	case errors.Is(err, domain.ErrResourceExhausted):
		return "resource_exhausted"
	case errors.Is(err, domain.ErrRemote):
		return "remote"
	default:
		return "internal"
	}
}
