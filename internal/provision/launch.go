package provision

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-orchestrator/internal/infrastructure/mqtt"
)

// LaunchRequest asks a host to run a device with the blob stored under Ref.
type LaunchRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Ref  string `json:"ref"`
	Host string `json:"host,omitempty"`
}

// Launcher starts a device. Launching a device that already runs succeeds
// without side effects.
type Launcher interface {
	Launch(ctx context.Context, req LaunchRequest) error
}

// MQTTLauncher forwards launch requests to orchestrator/host/<host>/launch.
type MQTTLauncher struct {
	client MQTTClient
	qos    byte
	topics mqtt.Topics
}

// NewMQTTLauncher creates a launcher publishing with the given QoS.
func NewMQTTLauncher(client MQTTClient, qos byte) *MQTTLauncher {
	return &MQTTLauncher{client: client, qos: qos}
}

// Launch publishes req to its host. The request is not retained: a host
// that is down misses it and the parent's transition times out.
func (l *MQTTLauncher) Launch(_ context.Context, req LaunchRequest) error {
	if req.Host == "" {
		return fmt.Errorf("%w: empty host", ErrNoRoute)
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding launch request: %w", err)
	}
	if err := l.client.Publish(l.topics.HostLaunch(req.Host), data, l.qos, false); err != nil {
		return fmt.Errorf("publishing launch request for %s: %w", req.Name, err)
	}
	return nil
}

// ServeLaunches subscribes to this host's launch topic and hands every
// request to local.
//
// Parameters:
//   - ctx: Passed to each Launch call
//   - client: Broker client
//   - qos: Subscription QoS
//   - host: This node's host name
//   - local: Launcher that starts devices in this process
//   - logger: Receives malformed and failed requests; nil silences them
//
// Returns:
//   - error: If the subscription fails
func ServeLaunches(ctx context.Context, client MQTTClient, qos byte, host string, local Launcher, logger Logger) error {
	if logger == nil {
		logger = noopLogger{}
	}
	topic := mqtt.Topics{}.HostLaunch(host)
	return client.Subscribe(topic, qos, func(_ string, payload []byte) error {
		var req LaunchRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			logger.Warn("ignoring malformed launch request", "error", err)
			return nil
		}
		if req.Name == "" || ValidateRef(req.Ref) != nil {
			logger.Warn("ignoring incomplete launch request", "id", req.ID, "name", req.Name, "ref", req.Ref)
			return nil
		}
		logger.Info("launch requested", "id", req.ID, "name", req.Name, "ref", req.Ref)
		if err := local.Launch(ctx, req); err != nil {
			logger.Warn("launch failed", "id", req.ID, "name", req.Name, "error", err)
		}
		return nil
	})
}
