package dm

import (
	"encoding/json"
	"testing"
)

func TestReturnCode_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		input   string
		want    ReturnCode
		wantErr bool
	}{
		{`{"rc":200}`, CodeSuccess, false},
		{`{"rc":"202"}`, CodeAccepted, false},
		{`{"rc":" 404"}`, 0, true},
		{`{"rc":null}`, 0, false},
		{`{}`, 0, false},
		{`{"rc":"ok"}`, 0, true},
		{`{"rc":4.5}`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var v struct {
				RC ReturnCode `json:"rc"`
			}
			err := json.Unmarshal([]byte(tt.input), &v)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && v.RC != tt.want {
				t.Errorf("rc = %d, want %d", v.RC, tt.want)
			}
		})
	}
}

func TestReturnCode_OK(t *testing.T) {
	for _, c := range []ReturnCode{CodeSuccess, CodeAccepted, CodeChanged} {
		if !c.OK() {
			t.Errorf("%d.OK() = false", c)
		}
	}
	for _, c := range []ReturnCode{0, CodeBadRequest, CodeConflict, CodeActionFailed, CodeNotSupported} {
		if c.OK() {
			t.Errorf("%d.OK() = true", c)
		}
	}
}

func TestReturnCode_ActionMessage(t *testing.T) {
	tests := map[ReturnCode]string{
		CodeAccepted:     "Device action initiated immediately",
		CodeActionFailed: "Device action attempt fails",
		CodeNotSupported: "Device action is not supported",
		CodeBadRequest:   "",
		CodeSuccess:      "",
	}
	for code, want := range tests {
		if got := code.ActionMessage(); got != want {
			t.Errorf("%d.ActionMessage() = %q, want %q", code, got, want)
		}
	}
}
