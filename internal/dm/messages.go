package dm

import (
	"encoding/json"
	"time"
)

// Field names the platform addresses in update, observe and cancel requests.
const (
	FieldFirmware = "mgmt.firmware"
	FieldLocation = "location"
)

// Field is one entry of a "d.fields" list.
type Field struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Response is a correlated platform reply to a device request.
type Response struct {
	ReqID   string
	Code    ReturnCode
	Message string

	// Payload is the raw message as received.
	Payload []byte
}

type fieldList struct {
	Fields []Field `json:"fields"`
}

// inboundRequest is the shape of update, observe, cancel and action
// requests received from the platform.
type inboundRequest struct {
	ReqID string    `json:"reqId"`
	D     fieldList `json:"d"`
}

type inboundResponse struct {
	RC      ReturnCode `json:"rc"`
	Message string     `json:"message"`
	ReqID   string     `json:"reqId"`
}

// outboundResponse answers a platform-initiated request.
type outboundResponse struct {
	RC      ReturnCode `json:"rc"`
	Message string     `json:"message,omitempty"`
	ReqID   string     `json:"reqId"`
	D       *fieldList `json:"d,omitempty"`
}

type notification struct {
	D fieldList `json:"d"`
}

// envelope wraps every device-initiated request.
type envelope struct {
	D     any    `json:"d,omitempty"`
	ReqID string `json:"reqId"`
}

// formatTime renders t the way the platform expects date-time fields.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
