package dm

import (
	"encoding/json"
	"fmt"
	"time"
)

// FirmwareState is the position of the device in the firmware lifecycle.
type FirmwareState int

// Firmware lifecycle states.
//
// FirmwareUpdating has no wire value of its own; it is reported as
// Downloaded with update status InProgress.
const (
	FirmwareIdle FirmwareState = iota
	FirmwareDownloading
	FirmwareDownloaded
	FirmwareUpdating
)

var firmwareStateNames = [...]string{
	FirmwareIdle:        "idle",
	FirmwareDownloading: "downloading",
	FirmwareDownloaded:  "downloaded",
	FirmwareUpdating:    "updating",
}

func (s FirmwareState) String() string {
	if !s.valid() {
		return fmt.Sprintf("FirmwareState(%d)", int(s))
	}
	return firmwareStateNames[s]
}

func (s FirmwareState) valid() bool {
	return s >= FirmwareIdle && s <= FirmwareUpdating
}

// MarshalText renders the state name for JSON status output.
func (s FirmwareState) MarshalText() ([]byte, error) {
	if !s.valid() {
		return nil, fmt.Errorf("invalid firmware state %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *FirmwareState) UnmarshalText(text []byte) error {
	for i, name := range firmwareStateNames {
		if name == string(text) {
			*s = FirmwareState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown firmware state %q", text)
}

// wire returns the state value sent to the platform.
func (s FirmwareState) wire() int {
	if s == FirmwareUpdating {
		return int(FirmwareDownloaded)
	}
	return int(s)
}

// FirmwareUpdateStatus is the result code of the last firmware operation.
type FirmwareUpdateStatus int

// Firmware update status values. Everything from OutOfMemory up is a failure.
const (
	UpdateSuccess FirmwareUpdateStatus = iota
	UpdateInProgress
	UpdateOutOfMemory
	UpdateConnectionLost
	UpdateVerificationFailed
	UpdateUnsupportedImage
	UpdateInvalidURI
)

var updateStatusNames = [...]string{
	UpdateSuccess:            "success",
	UpdateInProgress:         "in_progress",
	UpdateOutOfMemory:        "out_of_memory",
	UpdateConnectionLost:     "connection_lost",
	UpdateVerificationFailed: "verification_failed",
	UpdateUnsupportedImage:   "unsupported_image",
	UpdateInvalidURI:         "invalid_uri",
}

func (u FirmwareUpdateStatus) String() string {
	if !u.valid() {
		return fmt.Sprintf("FirmwareUpdateStatus(%d)", int(u))
	}
	return updateStatusNames[u]
}

func (u FirmwareUpdateStatus) valid() bool {
	return u >= UpdateSuccess && u <= UpdateInvalidURI
}

// Failed reports whether u is one of the failure codes.
func (u FirmwareUpdateStatus) Failed() bool {
	return u >= UpdateOutOfMemory && u.valid()
}

// FirmwareRecord is the device's view of the mgmt.firmware resource.
type FirmwareRecord struct {
	Version      string               `json:"version,omitempty"`
	Name         string               `json:"name,omitempty"`
	URI          string               `json:"uri,omitempty"`
	Verifier     string               `json:"verifier,omitempty"`
	State        FirmwareState        `json:"state"`
	UpdateStatus FirmwareUpdateStatus `json:"updateStatus"`
	UpdatedAt    time.Time            `json:"updatedAt,omitzero"`
}

// Failed reports whether the last update attempt ended in a failure.
func (r FirmwareRecord) Failed() bool {
	return r.State == FirmwareIdle && r.UpdateStatus.Failed()
}

// wireValue is the mgmt.firmware value sent in notifications and observe
// replies.
func (r FirmwareRecord) wireValue() firmwareValue {
	return firmwareValue{State: r.State.wire(), UpdateStatus: int(r.UpdateStatus)}
}

type firmwareValue struct {
	State        int `json:"state"`
	UpdateStatus int `json:"updateStatus"`
}

// firmwareUpdate is an mgmt.firmware value pushed by the platform. Only the
// fields present are applied.
type firmwareUpdate struct {
	Version         *string `json:"version"`
	Name            *string `json:"name"`
	URI             *string `json:"uri"`
	Verifier        *string `json:"verifier"`
	State           *int    `json:"state"`
	UpdateStatus    *int    `json:"updateStatus"`
	UpdatedDateTime *string `json:"updatedDateTime"`
}

// applyFirmwareUpdate merges a platform-supplied value into rec. Unknown
// state and status values are ignored.
func applyFirmwareUpdate(rec FirmwareRecord, raw json.RawMessage, now time.Time) (FirmwareRecord, error) {
	var u firmwareUpdate
	if err := json.Unmarshal(raw, &u); err != nil {
		return rec, fmt.Errorf("decoding mgmt.firmware value: %w", err)
	}
	if u.Version != nil {
		rec.Version = *u.Version
	}
	if u.Name != nil {
		rec.Name = *u.Name
	}
	if u.URI != nil {
		rec.URI = *u.URI
	}
	if u.Verifier != nil {
		rec.Verifier = *u.Verifier
	}
	if u.State != nil {
		if s := FirmwareState(*u.State); s >= FirmwareIdle && s <= FirmwareDownloaded {
			rec.State = s
		}
	}
	if u.UpdateStatus != nil {
		if st := FirmwareUpdateStatus(*u.UpdateStatus); st.valid() {
			rec.UpdateStatus = st
		}
	}
	rec.UpdatedAt = now
	if u.UpdatedDateTime != nil {
		if t, err := time.Parse(time.RFC3339, *u.UpdatedDateTime); err == nil {
			rec.UpdatedAt = t
		}
	}
	return rec, nil
}

// transitionState moves rec to the target lifecycle state.
// Re-entering the current state is a no-op and reports changed=false.
// Starting a download clears the previous update status; entering Updating
// marks the update in progress.
func transitionState(rec FirmwareRecord, to FirmwareState) (FirmwareRecord, bool, error) {
	if !to.valid() {
		return rec, false, fmt.Errorf("%w: unknown state %d", ErrInvalidTransition, int(to))
	}
	if rec.State == to {
		return rec, false, nil
	}
	if !stateAllowed(rec.State, to) {
		return rec, false, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, rec.State, to)
	}
	rec.State = to
	switch to {
	case FirmwareDownloading:
		rec.UpdateStatus = UpdateSuccess
	case FirmwareUpdating:
		rec.UpdateStatus = UpdateInProgress
	}
	return rec, true, nil
}

func stateAllowed(from, to FirmwareState) bool {
	switch from {
	case FirmwareIdle:
		return to == FirmwareDownloading
	case FirmwareDownloading:
		return to == FirmwareDownloaded || to == FirmwareIdle
	case FirmwareDownloaded:
		return to == FirmwareUpdating || to == FirmwareIdle
	case FirmwareUpdating:
		return to == FirmwareIdle
	}
	return false
}

// transitionStatus records an update status and applies the state change it
// implies:
//
//	InProgress  Downloaded/Updating → Updating; invalid from Idle
//	Success     Updating → Idle
//	failure     any non-Idle state → Idle
func transitionStatus(rec FirmwareRecord, status FirmwareUpdateStatus) (FirmwareRecord, bool, error) {
	if !status.valid() {
		return rec, false, fmt.Errorf("%w: unknown update status %d", ErrInvalidTransition, int(status))
	}
	before := rec
	switch {
	case status == UpdateInProgress:
		if rec.State == FirmwareIdle {
			return rec, false, fmt.Errorf("%w: update in progress while idle", ErrInvalidTransition)
		}
		if rec.State == FirmwareDownloaded {
			rec.State = FirmwareUpdating
		}
	case status == UpdateSuccess:
		if rec.State == FirmwareUpdating {
			rec.State = FirmwareIdle
		}
	case status.Failed():
		rec.State = FirmwareIdle
	}
	rec.UpdateStatus = status
	return rec, rec.State != before.State || rec.UpdateStatus != before.UpdateStatus, nil
}
