package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for orchestrator traffic.
//
// Everything lives under a single root so one ACL entry covers a node:
//
//	orchestrator/port/{node}             point-to-point port envelopes
//	orchestrator/config/{ref}            retained device configuration blobs
//	orchestrator/host/{host}/launch      child launch requests
//	orchestrator/device/{name}/{prop}    retained lifecycle telemetry
//	orchestrator/system/status           node online/offline (LWT)
const (
	// TopicPrefix is the root of every orchestrator topic.
	TopicPrefix = "orchestrator"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = TopicPrefix + "/system"
)

// Topics provides builders for orchestrator MQTT topics.
// Using these helpers keeps publishers and subscribers in agreement.
//
//	topics := mqtt.Topics{}
//	inbox := topics.PortInbox("station")
//	// Returns: "orchestrator/port/station"
type Topics struct{}

// ─── Point-to-point ─────────────────────────────────────────────

// PortInbox returns the topic a node's port endpoint listens on.
//
// Example: orchestrator/port/station
func (Topics) PortInbox(node string) string {
	return fmt.Sprintf("%s/port/%s", TopicPrefix, node)
}

// HostLaunch returns the topic a host listens on for child launch requests.
//
// Example: orchestrator/host/rack-2/launch
func (Topics) HostLaunch(host string) string {
	return fmt.Sprintf("%s/host/%s/launch", TopicPrefix, host)
}

// ─── Retained state ─────────────────────────────────────────────

// Config returns the retained topic holding the configuration blob for ref.
//
// Example: orchestrator/config/station.dish1
func (Topics) Config(ref string) string {
	return fmt.Sprintf("%s/config/%s", TopicPrefix, ref)
}

// DeviceProperty returns the retained telemetry topic for one device property.
//
// Example: orchestrator/device/station/state
func (Topics) DeviceProperty(device, property string) string {
	return fmt.Sprintf("%s/device/%s/%s", TopicPrefix, device, property)
}

// SystemStatus returns the node status topic used for the LWT.
//
// Example: orchestrator/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// ─── Wildcards ──────────────────────────────────────────────────

// AllDeviceProperties matches every telemetry topic.
//
// Pattern: orchestrator/device/+/+
func (Topics) AllDeviceProperties() string {
	return TopicPrefix + "/device/+/+"
}

// AllTopics matches all orchestrator traffic.
//
// Pattern: orchestrator/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// ParseDeviceProperty splits a telemetry topic into device and property.
func ParseDeviceProperty(topic string) (device, property string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != "device" || parts[2] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[2], parts[3], true
}

// TopicMatches reports whether topic matches a subscription filter using
// MQTT wildcard rules: "+" matches one level and a trailing "#" matches the
// remaining levels, including none.
func TopicMatches(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")

	for i, f := range fp {
		if f == "#" {
			return i == len(fp)-1
		}
		if i >= len(tp) {
			return false
		}
		if f != "+" && f != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}
