package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the Shadow Core MQTT namespace.
//
// Device-facing topics use the flat scheme: shadow/{device_id}/{leaf}
// Devices publish observed state to the reported leaf and subscribe to the
// delta leaf for pending desired changes.
const (
	// TopicPrefixShadow is the base for all device shadow topics.
	TopicPrefixShadow = "shadow"

	// TopicPrefixSystem is the base for service status topics.
	TopicPrefixSystem = "shadowcore/system"
)

// Topic leaves under shadow/{device_id}/.
const (
	leafReported = "reported"
	leafDelta    = "delta"
	leafDocument = "document"
)

// Topics provides builders for Shadow Core MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	deltaTopic := topics.DeviceDelta("thermostat-01")
//	// Returns: "shadow/thermostat-01/delta"
type Topics struct{}

// DeviceReported returns the topic a device publishes its observed state to.
//
// Example: shadow/thermostat-01/reported
func (Topics) DeviceReported(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixShadow, deviceID, leafReported)
}

// DeviceDelta returns the topic the service publishes pending desired
// changes to. Published retained so a device reconnecting after downtime
// immediately sees what it still has to apply.
//
// Example: shadow/thermostat-01/delta
func (Topics) DeviceDelta(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixShadow, deviceID, leafDelta)
}

// DeviceDocument returns the topic carrying the full shadow document.
// Published retained after every accepted mutation.
//
// Example: shadow/thermostat-01/document
func (Topics) DeviceDocument(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixShadow, deviceID, leafDocument)
}

// SystemStatus returns the service status topic used for online/offline
// announcements and the Last Will and Testament.
//
// Example: shadowcore/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllDeviceReported returns a pattern matching reported-state publications
// from every device.
//
// Pattern: shadow/+/reported
func (Topics) AllDeviceReported() string {
	return fmt.Sprintf("%s/+/%s", TopicPrefixShadow, leafReported)
}

// AllShadowTopics returns a pattern matching all shadow traffic.
// Use with caution - this receives ALL device publications.
//
// Pattern: shadow/#
func (Topics) AllShadowTopics() string {
	return TopicPrefixShadow + "/#"
}

// topicParts is the expected segment count of a shadow device topic.
const topicParts = 3

// ParseDeviceTopic extracts the device ID from a shadow/{device_id}/{leaf}
// topic. Returns ok=false for topics outside the shadow namespace or with
// an empty device segment.
func ParseDeviceTopic(topic string) (deviceID string, leaf string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != topicParts || parts[0] != TopicPrefixShadow {
		return "", "", false
	}
	if parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
