package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for buffered delivery, labelled by owning device.
var (
	pendingEvents = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Subsystem: "dispatch",
		Name:      "pending_events",
		Help:      "Events waiting in the retry buffer",
	}, []string{"device"})

	retryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "dispatch",
		Name:      "retries_total",
		Help:      "Send attempts made for buffered events",
	}, []string{"device"})

	deliveredEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "dispatch",
		Name:      "delivered_total",
		Help:      "Buffered events eventually delivered",
	}, []string{"device"})

	expiredEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "dispatch",
		Name:      "expired_total",
		Help:      "Buffered events dropped after the retry timeout",
	}, []string{"device"})
)

// metrics caches the label-bound series for one dispatcher.
type metrics struct {
	pending   prometheus.Gauge
	retries   prometheus.Counter
	delivered prometheus.Counter
	expired   prometheus.Counter
}

func newMetrics(device string) metrics {
	return metrics{
		pending:   pendingEvents.WithLabelValues(device),
		retries:   retryAttempts.WithLabelValues(device),
		delivered: deliveredEvents.WithLabelValues(device),
		expired:   expiredEvents.WithLabelValues(device),
	}
}
