package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteWaterLevel records a telemetry sample from a device.
//
// The write is non-blocking; data is batched and sent asynchronously.
// The sample timestamp comes from the device, not the ingest time, so
// replayed store-and-forward data lands at its original position in
// the series.
//
// Parameters:
//   - deviceID: Device identifier (e.g., "tank-01")
//   - waterLevel: Level in centimetres from the tank floor
//   - pumpRunning: Pump state at sample time
//   - sampledAt: Device-side sample timestamp
func (c *Client) WriteWaterLevel(deviceID string, waterLevel float64, pumpRunning bool, sampledAt time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"water_level",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"level_cm":     waterLevel,
			"pump_running": pumpRunning,
		},
		sampledAt,
	)

	c.writeAPI.WritePoint(point)
}

// WritePumpEvent records a pump state transition.
//
// Used for confirmation events (pump_started, pump_stopped) so runtime
// and cycle counts can be derived from the series.
//
// Parameters:
//   - deviceID: Device identifier
//   - eventKind: "pump_started" or "pump_stopped"
//   - occurredAt: Device-side event timestamp
func (c *Client) WritePumpEvent(deviceID string, eventKind string, occurredAt time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"pump_events",
		map[string]string{
			"device_id": deviceID,
			"event":     eventKind,
		},
		map[string]interface{}{
			"value": 1,
		},
		occurredAt,
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
