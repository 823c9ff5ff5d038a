package dm

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		topic string
		want  Category
	}{
		{"iotdm-1/response", CategoryResponse},
		{"iotdm-1/device/update", CategoryUpdate},
		{"iotdm-1/observe", CategoryObserve},
		{"iotdm-1/cancel", CategoryCancel},
		{"iotdm-1/mgmt/initiate/device/reboot", CategoryReboot},
		{"iotdm-1/mgmt/initiate/device/factory_reset", CategoryFactoryReset},
		{"iotdm-1/mgmt/initiate/firmware/download", CategoryFirmwareDownload},
		{"iotdm-1/mgmt/initiate/firmware/update", CategoryFirmwareUpdate},
		{"iot-2/cmd/blink/fmt/json", CategoryCommand},
		{"iotdm-1/response/extra", CategoryUnknown},
		{"iotdm-1/device/update/location", CategoryUnknown},
		{"iotdevice-1/response", CategoryUnknown},
		{"", CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			if got := Classify(tt.topic); got != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.topic, got, tt.want)
			}
		})
	}
}

func TestCategory_String(t *testing.T) {
	if CategoryFactoryReset.String() != "factory_reset" {
		t.Errorf("String() = %q", CategoryFactoryReset.String())
	}
	if Category(99).String() != "unknown" {
		t.Errorf("out-of-range String() = %q", Category(99).String())
	}
}

func TestActionName(t *testing.T) {
	if got := actionName(TopicReboot); got != "reboot" {
		t.Errorf("actionName(reboot topic) = %q", got)
	}
	if got := actionName(TopicFactoryReset); got != "factory_reset" {
		t.Errorf("actionName(factory reset topic) = %q", got)
	}
}
