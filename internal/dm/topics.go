package dm

import (
	"strings"

	"github.com/nerrad567/iotdm-agent/internal/infrastructure/mqtt"
)

// Inbound topics (platform → device).
const (
	TopicResponse         = "iotdm-1/response"
	TopicUpdate           = "iotdm-1/device/update"
	TopicObserve          = "iotdm-1/observe"
	TopicCancel           = "iotdm-1/cancel"
	TopicReboot           = "iotdm-1/mgmt/initiate/device/reboot"
	TopicFactoryReset     = "iotdm-1/mgmt/initiate/device/factory_reset"
	TopicFirmwareDownload = "iotdm-1/mgmt/initiate/firmware/download"
	TopicFirmwareUpdate   = "iotdm-1/mgmt/initiate/firmware/update"

	// SubscriptionFilter matches every inbound device-management topic.
	SubscriptionFilter = "iotdm-1/#"
)

// Outbound topics (device → platform).
const (
	TopicManage          = "iotdevice-1/mgmt/manage"
	TopicUnmanage        = "iotdevice-1/mgmt/unmanage"
	TopicUpdateLocation  = "iotdevice-1/device/update/location"
	TopicAddErrorCode    = "iotdevice-1/add/diag/errorCodes"
	TopicClearErrorCodes = "iotdevice-1/clear/diag/errorCodes"
	TopicAddLog          = "iotdevice-1/add/diag/log"
	TopicClearLogs       = "iotdevice-1/clear/diag/log"
	TopicDeviceResponse  = "iotdevice-1/response"
	TopicNotify          = "iotdevice-1/notify"
)

// Category classifies an inbound topic.
type Category int

// Inbound categories. CategoryUnknown topics are ignored.
const (
	CategoryUnknown Category = iota
	CategoryResponse
	CategoryUpdate
	CategoryObserve
	CategoryCancel
	CategoryReboot
	CategoryFactoryReset
	CategoryFirmwareDownload
	CategoryFirmwareUpdate
	CategoryCommand
)

var categoryNames = [...]string{
	CategoryUnknown:          "unknown",
	CategoryResponse:         "response",
	CategoryUpdate:           "update",
	CategoryObserve:          "observe",
	CategoryCancel:           "cancel",
	CategoryReboot:           "reboot",
	CategoryFactoryReset:     "factory_reset",
	CategoryFirmwareDownload: "firmware_download",
	CategoryFirmwareUpdate:   "firmware_update",
	CategoryCommand:          "command",
}

func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return "unknown"
	}
	return categoryNames[c]
}

var inboundTopics = map[string]Category{
	TopicResponse:         CategoryResponse,
	TopicUpdate:           CategoryUpdate,
	TopicObserve:          CategoryObserve,
	TopicCancel:           CategoryCancel,
	TopicReboot:           CategoryReboot,
	TopicFactoryReset:     CategoryFactoryReset,
	TopicFirmwareDownload: CategoryFirmwareDownload,
	TopicFirmwareUpdate:   CategoryFirmwareUpdate,
}

// Classify maps an inbound topic to its category by exact match.
// Device command topics (iot-2/cmd/<name>/fmt/<format>) classify as
// CategoryCommand; anything else is CategoryUnknown.
func Classify(topic string) Category {
	if c, ok := inboundTopics[topic]; ok {
		return c
	}
	if _, _, ok := (mqtt.Topics{}).ParseDeviceCommand(topic); ok {
		return CategoryCommand
	}
	return CategoryUnknown
}

// actionName returns the last topic segment, e.g. "reboot" or "factory_reset".
func actionName(topic string) string {
	return topic[strings.LastIndexByte(topic, '/')+1:]
}
