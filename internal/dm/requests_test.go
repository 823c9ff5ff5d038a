package dm

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestEncodeRequest(t *testing.T) {
	s := newSession(DeviceInfo{SerialNumber: "SN-1", Manufacturer: "Acme", FWVersion: "1.0.0"}, nil)
	measured := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)

	tests := []struct {
		name string
		req  Request
		want string
	}{
		{
			"manage",
			Manage{Lifetime: 4000, DeviceActions: true, FirmwareActions: true},
			`{"d":{"metadata":{},"lifetime":4000,"supports":{"deviceActions":1,"firmwareActions":1},"deviceInfo":{"serialNumber":"SN-1","manufacturer":"Acme","fwVersion":"1.0.0"}},"reqId":"r1"}`,
		},
		{
			"manage without actions",
			Manage{},
			`{"d":{"metadata":{},"lifetime":0,"supports":{"deviceActions":0,"firmwareActions":0},"deviceInfo":{"serialNumber":"SN-1","manufacturer":"Acme","fwVersion":"1.0.0"}},"reqId":"r1"}`,
		},
		{"unmanage", Unmanage{}, `{"reqId":"r1"}`},
		{
			"location",
			UpdateLocation{Latitude: 51.5, Longitude: -0.12, Elevation: 11, Accuracy: 3, MeasuredAt: measured},
			`{"d":{"longitude":-0.12,"latitude":51.5,"elevation":11,"measuredDateTime":"2026-05-04T03:02:01Z","accuracy":3},"reqId":"r1"}`,
		},
		{
			"location with update time",
			UpdateLocation{MeasuredAt: measured, UpdatedAt: measured.Add(time.Second)},
			`{"d":{"longitude":0,"latitude":0,"elevation":0,"measuredDateTime":"2026-05-04T03:02:01Z","updatedDateTime":"2026-05-04T03:02:02Z","accuracy":0},"reqId":"r1"}`,
		},
		{"error code", AddErrorCode{Code: 12}, `{"d":{"errorCode":12},"reqId":"r1"}`},
		{"clear error codes", ClearErrorCodes{}, `{"reqId":"r1"}`},
		{
			"log",
			AddLog{Message: "disk low", Data: "sda1", Severity: SeverityWarning, Timestamp: measured},
			`{"d":{"message":"disk low","timestamp":"2026-05-04T03:02:01Z","data":"sda1","severity":1},"reqId":"r1"}`,
		},
		{"clear logs", ClearLogs{}, `{"reqId":"r1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := encodeRequest(tt.req, "r1", s)
			if err != nil {
				t.Fatalf("encodeRequest() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("payload =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}

func TestEncodeRequest_Metadata(t *testing.T) {
	s := newSession(DeviceInfo{}, json.RawMessage(`{"site":"north"}`))
	got, err := encodeRequest(Manage{Lifetime: 3600}, "r2", s)
	if err != nil {
		t.Fatalf("encodeRequest() error = %v", err)
	}
	want := `{"d":{"metadata":{"site":"north"},"lifetime":3600,"supports":{"deviceActions":0,"firmwareActions":0},"deviceInfo":{}},"reqId":"r2"}`
	if string(got) != want {
		t.Errorf("payload = %s, want %s", got, want)
	}
}

func TestRequestValidation(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		req  Request
		ok   bool
	}{
		{"lifetime zero", Manage{}, true},
		{"lifetime minimum", Manage{Lifetime: 3600}, true},
		{"lifetime too short", Manage{Lifetime: 60}, false},
		{"lifetime negative", Manage{Lifetime: -1}, false},
		{"location", UpdateLocation{Latitude: 10, Longitude: 20, MeasuredAt: now}, true},
		{"latitude out of range", UpdateLocation{Latitude: 91, MeasuredAt: now}, false},
		{"longitude out of range", UpdateLocation{Longitude: -181, MeasuredAt: now}, false},
		{"location without time", UpdateLocation{}, false},
		{"log", AddLog{Message: "m", Timestamp: now}, true},
		{"log without message", AddLog{Timestamp: now}, false},
		{"log without timestamp", AddLog{Message: "m"}, false},
		{"log bad severity", AddLog{Message: "m", Timestamp: now, Severity: 3}, false},
		{"error code", AddErrorCode{Code: -5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.validate()
			if tt.ok && err != nil {
				t.Errorf("validate() = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("validate() = %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestRequestTopics(t *testing.T) {
	tests := map[Request]string{
		Manage{}:          "iotdevice-1/mgmt/manage",
		Unmanage{}:        "iotdevice-1/mgmt/unmanage",
		UpdateLocation{}:  "iotdevice-1/device/update/location",
		AddErrorCode{}:    "iotdevice-1/add/diag/errorCodes",
		ClearErrorCodes{}: "iotdevice-1/clear/diag/errorCodes",
		AddLog{}:          "iotdevice-1/add/diag/log",
		ClearLogs{}:       "iotdevice-1/clear/diag/log",
	}
	for req, want := range tests {
		if got := req.Topic(); got != want {
			t.Errorf("%s.Topic() = %q, want %q", req.Kind(), got, want)
		}
	}
}
