// Package mqtt provides the broker client used by orchestrator nodes.
//
// The broker carries four kinds of traffic for the orchestrator:
//
//   - Port envelopes between devices hosted on different nodes
//   - Retained device configuration blobs, fetched by reference
//   - Launch requests asking a host to start a child device
//   - Retained lifecycle telemetry (state and schedule per device)
//
// Topic names are built with Topics so publishers and subscribers agree.
// The client re-subscribes after reconnects and maintains the node's
// retained status with a Last Will.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.HostLaunch(cfg.Node.Host), 1,
//	    func(topic string, payload []byte) error {
//	        return launcher.handle(payload)
//	    })
//
// Package mqtttest provides an in-memory broker with the same Publish and
// Subscribe signatures for tests.
package mqtt
