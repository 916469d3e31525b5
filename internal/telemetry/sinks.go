package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"github.com/nerrad567/gray-logic-orchestrator/internal/history"
	"github.com/nerrad567/gray-logic-orchestrator/internal/infrastructure/mqtt"
)

// ─── InfluxDB ───────────────────────────────────────────────────

// InfluxWriter is the subset of the InfluxDB client used by InfluxSink.
type InfluxWriter interface {
	WriteLifecycle(device, property string, value any, ts time.Time)
}

// InfluxSink writes each change as a point in the lifecycle measurement.
// The client batches writes itself, so no queue is needed.
type InfluxSink struct {
	client InfluxWriter
	clock  clock.PassiveClock
}

// NewInfluxSink creates an InfluxDB sink. A nil clock uses the real clock.
func NewInfluxSink(client InfluxWriter, clk clock.PassiveClock) *InfluxSink {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &InfluxSink{client: client, clock: clk}
}

// Publish implements lifecycle.Sink.
func (s *InfluxSink) Publish(device, name string, value any) {
	s.client.WriteLifecycle(device, name, value, s.clock.Now())
	publishedTotal.WithLabelValues("influxdb").Inc()
}

// ─── MQTT ───────────────────────────────────────────────────────

// MQTTPublisher is the subset of the broker client used by MQTTWriter.
type MQTTPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// MQTTWriter publishes each change retained on
// orchestrator/device/<device>/<property>, so a late subscriber sees the
// current state of every device.
type MQTTWriter struct {
	client MQTTPublisher
	qos    byte
	topics mqtt.Topics
}

// NewMQTTWriter creates a writer publishing with the given QoS.
func NewMQTTWriter(client MQTTPublisher, qos byte) *MQTTWriter {
	return &MQTTWriter{client: client, qos: qos}
}

// Write implements Writer.
func (w *MQTTWriter) Write(_ context.Context, r Record) error {
	payload, err := json.Marshal(struct {
		Value     string `json:"value"`
		Timestamp string `json:"timestamp"`
	}{r.Text(), r.At.UTC().Format(time.RFC3339)})
	if err != nil {
		return fmt.Errorf("encoding telemetry: %w", err)
	}
	return w.client.Publish(w.topics.DeviceProperty(r.Device, r.Property), payload, w.qos, true)
}

// ─── History ────────────────────────────────────────────────────

// HistoryWriter records each change in the SQLite history.
type HistoryWriter struct {
	repo history.Repository
	host string
}

// NewHistoryWriter creates a writer tagging rows with host.
func NewHistoryWriter(repo history.Repository, host string) *HistoryWriter {
	return &HistoryWriter{repo: repo, host: host}
}

// Write implements Writer.
func (w *HistoryWriter) Write(ctx context.Context, r Record) error {
	return w.repo.Record(ctx, history.Entry{
		Device:    r.Device,
		Property:  r.Property,
		Value:     r.Text(),
		Host:      w.host,
		CreatedAt: r.At,
	})
}

// ─── WebSocket ──────────────────────────────────────────────────

// Channel is the WebSocket channel carrying telemetry.
const Channel = "device.telemetry"

// Broadcaster is implemented by the API's WebSocket hub.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// HubSink forwards each change to WebSocket clients subscribed to Channel.
type HubSink struct {
	hub   Broadcaster
	clock clock.PassiveClock
}

// NewHubSink creates a WebSocket sink. A nil clock uses the real clock.
func NewHubSink(hub Broadcaster, clk clock.PassiveClock) *HubSink {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &HubSink{hub: hub, clock: clk}
}

// Publish implements lifecycle.Sink.
func (s *HubSink) Publish(device, name string, value any) {
	s.hub.Broadcast(Channel, Record{Device: device, Property: name, Value: FormatValue(value), At: s.clock.Now()})
	publishedTotal.WithLabelValues("websocket").Inc()
}
