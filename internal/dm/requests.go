package dm

import (
	"encoding/json"
	"fmt"
	"time"
)

// Request is a device-initiated device-management request.
//
// The concrete request types in this file are the only implementations.
type Request interface {
	// Kind is a short name used in logs, metrics and the request journal.
	Kind() string

	// Topic is the outbound topic the request is published on.
	Topic() string

	validate() error
	body(s *session) any
}

// Request kinds.
const (
	KindManage          = "manage"
	KindUnmanage        = "unmanage"
	KindUpdateLocation  = "update_location"
	KindAddErrorCode    = "add_error_code"
	KindClearErrorCodes = "clear_error_codes"
	KindAddLog          = "add_log"
	KindClearLogs       = "clear_logs"
)

// minLifetime is the smallest non-zero manage lifetime the platform accepts.
const minLifetime = 3600

// Manage asks the platform to treat the device as managed.
// The device info and metadata come from the engine's session.
type Manage struct {
	// Lifetime in seconds before the platform marks the device dormant.
	// Zero means never; otherwise it must be at least 3600.
	Lifetime        int
	DeviceActions   bool
	FirmwareActions bool
}

type manageBody struct {
	Metadata   json.RawMessage `json:"metadata"`
	Lifetime   int             `json:"lifetime"`
	Supports   supports        `json:"supports"`
	DeviceInfo DeviceInfo      `json:"deviceInfo"`
}

type supports struct {
	DeviceActions   int `json:"deviceActions"`
	FirmwareActions int `json:"firmwareActions"`
}

func (Manage) Kind() string { return KindManage }
func (Manage) Topic() string { return TopicManage }

func (m Manage) validate() error {
	if m.Lifetime < 0 || (m.Lifetime > 0 && m.Lifetime < minLifetime) {
		return fmt.Errorf("%w: lifetime must be 0 or at least %d seconds, got %d", ErrInvalidRequest, minLifetime, m.Lifetime)
	}
	return nil
}

func (m Manage) body(s *session) any {
	return manageBody{
		Metadata: s.metadata,
		Lifetime: m.Lifetime,
		Supports: supports{
			DeviceActions:   boolFlag(m.DeviceActions),
			FirmwareActions: boolFlag(m.FirmwareActions),
		},
		DeviceInfo: s.info,
	}
}

// Unmanage asks the platform to stop managing the device.
type Unmanage struct{}

func (Unmanage) Kind() string { return KindUnmanage }
func (Unmanage) Topic() string { return TopicUnmanage }
func (Unmanage) validate() error { return nil }
func (Unmanage) body(*session) any { return nil }

// UpdateLocation reports the device position.
type UpdateLocation struct {
	Latitude  float64
	Longitude float64
	Elevation float64
	Accuracy  float64

	// MeasuredAt is when the position was taken. Required.
	MeasuredAt time.Time

	// UpdatedAt is omitted from the message when zero.
	UpdatedAt time.Time
}

type locationBody struct {
	Longitude        float64 `json:"longitude"`
	Latitude         float64 `json:"latitude"`
	Elevation        float64 `json:"elevation"`
	MeasuredDateTime string  `json:"measuredDateTime"`
	UpdatedDateTime  string  `json:"updatedDateTime,omitempty"`
	Accuracy         float64 `json:"accuracy"`
}

func (UpdateLocation) Kind() string { return KindUpdateLocation }
func (UpdateLocation) Topic() string { return TopicUpdateLocation }

func (u UpdateLocation) validate() error {
	if u.Latitude < -90 || u.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidRequest, u.Latitude)
	}
	if u.Longitude < -180 || u.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidRequest, u.Longitude)
	}
	if u.MeasuredAt.IsZero() {
		return fmt.Errorf("%w: measured time is required", ErrInvalidRequest)
	}
	return nil
}

func (u UpdateLocation) body(*session) any {
	b := locationBody{
		Longitude:        u.Longitude,
		Latitude:         u.Latitude,
		Elevation:        u.Elevation,
		MeasuredDateTime: formatTime(u.MeasuredAt),
		Accuracy:         u.Accuracy,
	}
	if !u.UpdatedAt.IsZero() {
		b.UpdatedDateTime = formatTime(u.UpdatedAt)
	}
	return b
}

// AddErrorCode appends a diagnostic error code.
type AddErrorCode struct {
	Code int
}

func (AddErrorCode) Kind() string { return KindAddErrorCode }
func (AddErrorCode) Topic() string { return TopicAddErrorCode }
func (AddErrorCode) validate() error { return nil }

func (a AddErrorCode) body(*session) any {
	return struct {
		ErrorCode int `json:"errorCode"`
	}{a.Code}
}

// ClearErrorCodes removes all diagnostic error codes.
type ClearErrorCodes struct{}

func (ClearErrorCodes) Kind() string { return KindClearErrorCodes }
func (ClearErrorCodes) Topic() string { return TopicClearErrorCodes }
func (ClearErrorCodes) validate() error { return nil }
func (ClearErrorCodes) body(*session) any { return nil }

// LogSeverity grades a diagnostic log entry.
type LogSeverity int

// Diagnostic log severities.
const (
	SeverityInfo    LogSeverity = 0
	SeverityWarning LogSeverity = 1
	SeverityError   LogSeverity = 2
)

// AddLog appends a diagnostic log entry.
type AddLog struct {
	Message   string
	Timestamp time.Time
	Data      string
	Severity  LogSeverity
}

type logBody struct {
	Message   string      `json:"message"`
	Timestamp string      `json:"timestamp"`
	Data      string      `json:"data"`
	Severity  LogSeverity `json:"severity"`
}

func (AddLog) Kind() string { return KindAddLog }
func (AddLog) Topic() string { return TopicAddLog }

func (a AddLog) validate() error {
	if a.Message == "" {
		return fmt.Errorf("%w: log message is required", ErrInvalidRequest)
	}
	if a.Timestamp.IsZero() {
		return fmt.Errorf("%w: log timestamp is required", ErrInvalidRequest)
	}
	if a.Severity < SeverityInfo || a.Severity > SeverityError {
		return fmt.Errorf("%w: unknown log severity %d", ErrInvalidRequest, a.Severity)
	}
	return nil
}

func (a AddLog) body(*session) any {
	return logBody{
		Message:   a.Message,
		Timestamp: formatTime(a.Timestamp),
		Data:      a.Data,
		Severity:  a.Severity,
	}
}

// ClearLogs removes all diagnostic log entries.
type ClearLogs struct{}

func (ClearLogs) Kind() string { return KindClearLogs }
func (ClearLogs) Topic() string { return TopicClearLogs }
func (ClearLogs) validate() error { return nil }
func (ClearLogs) body(*session) any { return nil }

// encodeRequest renders req as the JSON message published on req.Topic().
func encodeRequest(req Request, reqID string, s *session) ([]byte, error) {
	return json.Marshal(envelope{D: req.body(s), ReqID: reqID})
}

func boolFlag(b bool) int {
	if b {
		return 1
	}
	return 0
}
