// Package telemetry fans device-management engine events out to Prometheus,
// InfluxDB and the request journal.
//
// Recorder implements dm.Observer. The engine calls it from its loop
// goroutine, so every sink is either non-blocking or queued:
//
//   - Prometheus collectors are updated inline.
//   - InfluxDB points go to the client's batched write API.
//   - Journal entries go to a bounded queue drained by Run.
//
// Any sink may be nil.
package telemetry
