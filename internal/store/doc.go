// Package store persists device-management state in the agent's SQLite
// database: the firmware record, so a restart does not forget an image that
// was already downloaded, and a journal of request outcomes for the status
// API.
package store
