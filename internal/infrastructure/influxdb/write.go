package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteShadowMutation records a single accepted shadow mutation.
//
// This is the primary method for shadow telemetry. The write is
// non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Unique identifier for the device (e.g., "thermostat-01")
//   - substate: Which half of the shadow changed ("reported" or "desired")
//   - version: Shadow version after the mutation
//   - deltaSize: Number of keys still pending in the desired-vs-reported delta
//
// Example:
//
//	client.WriteShadowMutation("thermostat-01", "reported", 42, 0)
func (c *Client) WriteShadowMutation(deviceID, substate string, version int64, deltaSize int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"shadow_mutations",
		map[string]string{
			"device_id": deviceID,
			"substate":  substate,
		},
		map[string]interface{}{
			"version":    version,
			"delta_size": deltaSize,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteStateField records a numeric reported-state field for a device.
//
// Used for graphing device telemetry carried in shadow updates
// (temperatures, power draw, battery level).
//
// Parameters:
//   - deviceID: Device identifier
//   - field: State key (e.g., "temperature", "battery")
//   - value: The numeric value to record
func (c *Client) WriteStateField(deviceID, field string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"shadow_state",
		map[string]string{
			"device_id": deviceID,
			"field":     field,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("service_stats",
//	    map[string]string{"instance": "shadowcore-001"},
//	    map[string]interface{}{"shadows": 120, "ws_clients": 14})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., replayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
