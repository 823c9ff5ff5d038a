// Package influxdb writes device-management telemetry to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health monitoring.
//
// # Purpose
//
// Three measurements are written:
//   - dm_requests: outcome and latency of each device-initiated request
//   - dm_firmware: firmware state transitions
//   - dm_inbound: platform messages by category
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, map[string]string{
//	    "device_type": cfg.Device.Type,
//	    "device_id":   cfg.Device.ID,
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteRequest("manage", 200, false, 140*time.Millisecond, time.Now())
//
// # Error Handling
//
// Write errors are delivered asynchronously through SetOnError. Connection
// and health check errors are returned directly.
package influxdb
