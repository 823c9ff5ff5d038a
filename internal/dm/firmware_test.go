package dm

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestTransitionState(t *testing.T) {
	tests := []struct {
		from    FirmwareState
		to      FirmwareState
		changed bool
		wantErr bool
	}{
		{FirmwareIdle, FirmwareDownloading, true, false},
		{FirmwareIdle, FirmwareIdle, false, false},
		{FirmwareIdle, FirmwareDownloaded, false, true},
		{FirmwareIdle, FirmwareUpdating, false, true},
		{FirmwareDownloading, FirmwareDownloaded, true, false},
		{FirmwareDownloading, FirmwareIdle, true, false},
		{FirmwareDownloading, FirmwareUpdating, false, true},
		{FirmwareDownloaded, FirmwareUpdating, true, false},
		{FirmwareDownloaded, FirmwareIdle, true, false},
		{FirmwareDownloaded, FirmwareDownloading, false, true},
		{FirmwareUpdating, FirmwareIdle, true, false},
		{FirmwareUpdating, FirmwareDownloaded, false, true},
		{FirmwareIdle, FirmwareState(9), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"_to_"+tt.to.String(), func(t *testing.T) {
			rec, changed, err := transitionState(FirmwareRecord{State: tt.from}, tt.to)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("err = %v, want ErrInvalidTransition", err)
				}
				if rec.State != tt.from {
					t.Errorf("state = %s after rejected transition", rec.State)
				}
				return
			}
			if changed != tt.changed {
				t.Errorf("changed = %v, want %v", changed, tt.changed)
			}
			if rec.State != tt.to {
				t.Errorf("state = %s, want %s", rec.State, tt.to)
			}
		})
	}
}

func TestTransitionState_UpdateStatus(t *testing.T) {
	tests := []struct {
		name   string
		from   FirmwareRecord
		to     FirmwareState
		status FirmwareUpdateStatus
	}{
		{"download clears failure", FirmwareRecord{State: FirmwareIdle, UpdateStatus: UpdateInvalidURI}, FirmwareDownloading, UpdateSuccess},
		{"updating marks in progress", FirmwareRecord{State: FirmwareDownloaded}, FirmwareUpdating, UpdateInProgress},
		{"downloaded keeps status", FirmwareRecord{State: FirmwareDownloading}, FirmwareDownloaded, UpdateSuccess},
		{"abort keeps failure", FirmwareRecord{State: FirmwareDownloading, UpdateStatus: UpdateConnectionLost}, FirmwareIdle, UpdateConnectionLost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _, err := transitionState(tt.from, tt.to)
			if err != nil {
				t.Fatalf("transitionState() error = %v", err)
			}
			if rec.UpdateStatus != tt.status {
				t.Errorf("update status = %s, want %s", rec.UpdateStatus, tt.status)
			}
		})
	}
}

func TestTransitionStatus(t *testing.T) {
	tests := []struct {
		name      string
		from      FirmwareState
		status    FirmwareUpdateStatus
		wantState FirmwareState
		wantErr   bool
	}{
		{"in progress from downloaded", FirmwareDownloaded, UpdateInProgress, FirmwareUpdating, false},
		{"in progress while downloading", FirmwareDownloading, UpdateInProgress, FirmwareDownloading, false},
		{"in progress while idle", FirmwareIdle, UpdateInProgress, FirmwareIdle, true},
		{"success after update", FirmwareUpdating, UpdateSuccess, FirmwareIdle, false},
		{"success after download", FirmwareDownloaded, UpdateSuccess, FirmwareDownloaded, false},
		{"verification failure", FirmwareDownloading, UpdateVerificationFailed, FirmwareIdle, false},
		{"out of memory during update", FirmwareUpdating, UpdateOutOfMemory, FirmwareIdle, false},
		{"invalid uri while idle", FirmwareIdle, UpdateInvalidURI, FirmwareIdle, false},
		{"unknown status", FirmwareDownloaded, FirmwareUpdateStatus(42), FirmwareDownloaded, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _, err := transitionStatus(FirmwareRecord{State: tt.from}, tt.status)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if rec.State != tt.wantState {
				t.Errorf("state = %s, want %s", rec.State, tt.wantState)
			}
			if err == nil && rec.UpdateStatus != tt.status {
				t.Errorf("update status = %s, want %s", rec.UpdateStatus, tt.status)
			}
		})
	}
}

func TestFirmwareRecord_Failed(t *testing.T) {
	if !(FirmwareRecord{State: FirmwareIdle, UpdateStatus: UpdateConnectionLost}).Failed() {
		t.Error("idle with connection lost should be failed")
	}
	if (FirmwareRecord{State: FirmwareIdle, UpdateStatus: UpdateSuccess}).Failed() {
		t.Error("idle with success should not be failed")
	}
	if (FirmwareRecord{State: FirmwareUpdating, UpdateStatus: UpdateInProgress}).Failed() {
		t.Error("updating should not be failed")
	}
}

func TestFirmwareRecord_WireValue(t *testing.T) {
	tests := []struct {
		state FirmwareState
		want  string
	}{
		{FirmwareIdle, `{"state":0,"updateStatus":0}`},
		{FirmwareDownloading, `{"state":1,"updateStatus":0}`},
		{FirmwareDownloaded, `{"state":2,"updateStatus":0}`},
	}
	for _, tt := range tests {
		got, _ := json.Marshal(FirmwareRecord{State: tt.state}.wireValue())
		if string(got) != tt.want {
			t.Errorf("%s: wire value = %s, want %s", tt.state, got, tt.want)
		}
	}

	got, _ := json.Marshal(FirmwareRecord{State: FirmwareUpdating, UpdateStatus: UpdateInProgress}.wireValue())
	if string(got) != `{"state":2,"updateStatus":1}` {
		t.Errorf("updating wire value = %s", got)
	}
}

func TestApplyFirmwareUpdate(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	base := FirmwareRecord{Version: "1.0.0", State: FirmwareIdle}

	raw := json.RawMessage(`{"version":"1.1.0","name":"core","uri":"https://fw.example.com/core.bin","verifier":"abc123","extra":true}`)
	rec, err := applyFirmwareUpdate(base, raw, now)
	if err != nil {
		t.Fatalf("applyFirmwareUpdate() error = %v", err)
	}
	if rec.Version != "1.1.0" || rec.Name != "core" || rec.URI != "https://fw.example.com/core.bin" || rec.Verifier != "abc123" {
		t.Errorf("record = %+v", rec)
	}
	if rec.State != FirmwareIdle || !rec.UpdatedAt.Equal(now) {
		t.Errorf("state = %s, updatedAt = %v", rec.State, rec.UpdatedAt)
	}

	rec, err = applyFirmwareUpdate(rec, json.RawMessage(`{"state":7,"updateStatus":3,"updatedDateTime":"2026-02-01T10:00:00Z"}`), now)
	if err != nil {
		t.Fatalf("applyFirmwareUpdate() error = %v", err)
	}
	if rec.State != FirmwareIdle {
		t.Errorf("unknown state applied: %s", rec.State)
	}
	if rec.UpdateStatus != UpdateConnectionLost {
		t.Errorf("update status = %s", rec.UpdateStatus)
	}
	if want := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC); !rec.UpdatedAt.Equal(want) {
		t.Errorf("updatedAt = %v, want %v", rec.UpdatedAt, want)
	}
	if rec.Version != "1.1.0" {
		t.Errorf("absent field cleared version: %+v", rec)
	}

	if _, err := applyFirmwareUpdate(base, json.RawMessage(`"nope"`), now); err == nil {
		t.Error("expected error for non-object value")
	}
}

func TestFirmwareState_Text(t *testing.T) {
	b, err := json.Marshal(FirmwareRecord{State: FirmwareDownloaded})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var out struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(b, &out); err != nil || out.State != "downloaded" {
		t.Errorf("state = %q (%v)", out.State, err)
	}

	var s FirmwareState
	if err := s.UnmarshalText([]byte("updating")); err != nil || s != FirmwareUpdating {
		t.Errorf("UnmarshalText(updating) = %s, %v", s, err)
	}
	if err := s.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("expected error for unknown state name")
	}
}
