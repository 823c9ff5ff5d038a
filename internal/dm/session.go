package dm

import (
	"encoding/json"
	"slices"
)

// DeviceInfo describes the device in the manage request.
type DeviceInfo struct {
	SerialNumber        string `json:"serialNumber,omitempty"`
	Manufacturer        string `json:"manufacturer,omitempty"`
	Model               string `json:"model,omitempty"`
	DeviceClass         string `json:"deviceClass,omitempty"`
	Description         string `json:"description,omitempty"`
	FWVersion           string `json:"fwVersion,omitempty"`
	HWVersion           string `json:"hwVersion,omitempty"`
	DescriptiveLocation string `json:"descriptiveLocation,omitempty"`
}

// Snapshot is a point-in-time copy of the engine's session.
type Snapshot struct {
	DeviceInfo      DeviceInfo     `json:"deviceInfo"`
	Managed         bool           `json:"managed"`
	Observed        []string       `json:"observed"`
	Firmware        FirmwareRecord `json:"firmware"`
	PendingRequests int            `json:"pendingRequests"`
	QueuedPublishes int            `json:"queuedPublishes"`
}

// session is the mutable device-management state. It is owned by the engine
// loop goroutine and never shared.
type session struct {
	info     DeviceInfo
	metadata json.RawMessage
	managed  bool
	firmware FirmwareRecord

	// observed holds the field names the platform asked to be notified about.
	observed map[string]bool
}

func newSession(info DeviceInfo, metadata json.RawMessage) *session {
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}
	return &session{
		info:     info,
		metadata: metadata,
		observed: make(map[string]bool),
	}
}

func (s *session) observe(field string) {
	s.observed[field] = true
}

func (s *session) cancel(field string) {
	delete(s.observed, field)
}

func (s *session) isObserved(field string) bool {
	return s.observed[field]
}

func (s *session) snapshot() Snapshot {
	observed := make([]string, 0, len(s.observed))
	for f := range s.observed {
		observed = append(observed, f)
	}
	slices.Sort(observed)
	return Snapshot{
		DeviceInfo: s.info,
		Managed:    s.managed,
		Observed:   observed,
		Firmware:   s.firmware,
	}
}
