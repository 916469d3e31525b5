// Package telemetry fans device state and schedule changes out to logs,
// InfluxDB, MQTT, the SQLite history and WebSocket clients.
//
// Every sink implements lifecycle.Sink. Publish is called from a device's
// loop, so sinks that can block on I/O are wrapped in an Async queue that
// drops rather than stalls when the backend falls behind.
package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nerrad567/gray-logic-orchestrator/internal/lifecycle"
)

var (
	publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_telemetry_published_total",
		Help: "Telemetry records written, by sink.",
	}, []string{"sink"})

	droppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_telemetry_dropped_total",
		Help: "Telemetry records dropped because a sink queue was full or failed.",
	}, []string{"sink"})
)

// Record is one published property change.
type Record struct {
	Device   string    `json:"device"`
	Property string    `json:"property"`
	Value    any       `json:"value"`
	At       time.Time `json:"timestamp"`
}

// Text renders the value the way text backends store it: instants as
// RFC 3339 in UTC, everything else with fmt.
func (r Record) Text() string {
	return FormatValue(r.Value)
}

// FormatValue renders a published value as text.
func FormatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}

// Multi publishes to every sink in order.
type Multi []lifecycle.Sink

// Publish implements lifecycle.Sink.
func (m Multi) Publish(device, name string, value any) {
	for _, s := range m {
		s.Publish(device, name, value)
	}
}

// Logger is the logging interface used by this package.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// LogSink writes every change as a structured log line.
type LogSink struct {
	logger Logger
}

// NewLogSink creates a sink logging at info level.
func NewLogSink(logger Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Publish implements lifecycle.Sink.
func (s *LogSink) Publish(device, name string, value any) {
	s.logger.Info("device telemetry", "device", device, "property", name, "value", FormatValue(value))
	publishedTotal.WithLabelValues("log").Inc()
}
