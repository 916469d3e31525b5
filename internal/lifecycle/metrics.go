package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "lifecycle",
		Name:      "transitions_total",
		Help:      "Lifecycle state transitions",
	}, []string{"from", "to"})

	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "lifecycle",
		Name:      "commands_total",
		Help:      "Commands processed, by outcome",
	}, []string{"command", "result"})

	childReportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "lifecycle",
		Name:      "child_reports_total",
		Help:      "State reports received from children",
	}, []string{"kind", "result"})
)
