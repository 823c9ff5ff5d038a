package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by this package.
const (
	MeasurementRequests = "dm_requests"
	MeasurementFirmware = "dm_firmware"
	MeasurementInbound  = "dm_inbound"
)

// WriteRequest records the outcome of a device-initiated request.
//
// Parameters:
//   - kind: request kind (e.g. "manage", "add_log")
//   - rc: return code from the platform, 0 if none arrived
//   - failed: whether the request ended in error (timeout, rejection)
//   - elapsed: time from publish to outcome
//   - at: when the outcome was observed
func (c *Client) WriteRequest(kind string, rc int, failed bool, elapsed time.Duration, at time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		MeasurementRequests,
		map[string]string{"kind": kind},
		map[string]interface{}{
			"rc":         rc,
			"failed":     failed,
			"elapsed_ms": float64(elapsed) / float64(time.Millisecond),
		},
		at,
	)
	c.writeAPI.WritePoint(point)
}

// WriteFirmware records a firmware state change.
//
// Example:
//
//	client.WriteFirmware("downloaded", 0, "2.4.1", time.Now())
func (c *Client) WriteFirmware(state string, updateStatus int, version string, at time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		MeasurementFirmware,
		map[string]string{"state": state},
		map[string]interface{}{
			"update_status": updateStatus,
			"version":       version,
		},
		at,
	)
	c.writeAPI.WritePoint(point)
}

// WriteInbound counts one inbound message of the given category.
func (c *Client) WriteInbound(category string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		MeasurementInbound,
		map[string]string{"category": category},
		map[string]interface{}{"count": 1},
		c.now(),
	)
	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with a specific timestamp. A zero
// timestamp means now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	if timestamp.IsZero() {
		timestamp = c.now()
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
