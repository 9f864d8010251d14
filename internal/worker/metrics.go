package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type rpcMetrics struct {
	duration *prometheus.HistogramVec
}

func newRPCMetrics() *rpcMetrics {
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "controlplane",
		Subsystem: "worker",
		Name:      "rpc_duration_seconds",
		Help:      "Latency of worker RPC calls",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 60, 300},
	}, []string{"call", "status"})
	if err := prometheus.Register(duration); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				duration = existing
			}
		}
	}
	return &rpcMetrics{duration: duration}
}

func (m *rpcMetrics) observe(call string, err error, elapsed time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.duration.With(prometheus.Labels{"call": call, "status": status}).Observe(elapsed.Seconds())
}
