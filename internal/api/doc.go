// Package api implements the agent's local HTTP status and control API.
//
// It is meant for the device operator, bound to loopback by default:
//   - GET  /api/v1/health       component health
//   - GET  /api/v1/session      device-management session snapshot
//   - GET  /api/v1/requests     request journal, newest first (?limit=N)
//   - POST /api/v1/manage       announce the device as managed
//   - POST /api/v1/unmanage     withdraw from management
//   - PUT  /api/v1/location     report the device location
//   - POST /api/v1/diag/errors  add an error code; DELETE clears them
//   - POST /api/v1/diag/logs    add a log entry; DELETE clears them
//   - POST /api/v1/events/{event}  publish the body as an event (?format=, default json)
//   - GET  /metrics             Prometheus exposition
//
// Management calls block until the platform answers or the write timeout
// is near. Platform rejections map to 502, timeouts to 504.
package api
