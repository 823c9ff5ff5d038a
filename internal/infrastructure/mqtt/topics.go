package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the device application channel.
//
// Device-management topics (iotdm-1/..., iotdevice-1/...) are owned by the
// dm package; this file covers the plain event and command channel.
const (
	// TopicPrefixApp is the base for device events and commands.
	TopicPrefixApp = "iot-2"

	// commandTopicParts is the number of segments in iot-2/cmd/<name>/fmt/<format>.
	commandTopicParts = 5
)

// Topics provides builders for the device application topics.
//
//	topics := mqtt.Topics{}
//	topics.DeviceEvent("status", "json")
//	// Returns: "iot-2/evt/status/fmt/json"
type Topics struct{}

// DeviceEvent returns the topic a device publishes an event on.
//
// Example: iot-2/evt/status/fmt/json
func (Topics) DeviceEvent(event, format string) string {
	return fmt.Sprintf("%s/evt/%s/fmt/%s", TopicPrefixApp, event, format)
}

// DeviceCommand returns the topic a named command arrives on.
//
// Example: iot-2/cmd/reboot/fmt/json
func (Topics) DeviceCommand(command, format string) string {
	return fmt.Sprintf("%s/cmd/%s/fmt/%s", TopicPrefixApp, command, format)
}

// AllDeviceCommands returns the subscription filter for every command.
//
// Returns: iot-2/cmd/+/fmt/+
func (t Topics) AllDeviceCommands() string {
	return t.DeviceCommand("+", "+")
}

// ParseDeviceCommand extracts the command name and format from a command
// topic. ok is false for any other topic.
func (Topics) ParseDeviceCommand(topic string) (command, format string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != commandTopicParts {
		return "", "", false
	}
	if parts[0] != TopicPrefixApp || parts[1] != "cmd" || parts[3] != "fmt" {
		return "", "", false
	}
	if parts[2] == "" || parts[4] == "" {
		return "", "", false
	}
	return parts[2], parts[4], true
}

// ValidateEventName reports whether s can be used as an event name or format
// segment: non-empty and free of topic separators and wildcards.
func ValidateEventName(s string) error {
	if s == "" {
		return ErrInvalidTopic
	}
	if strings.ContainsAny(s, "/+#") {
		return fmt.Errorf("%w: %q contains a reserved character", ErrInvalidTopic, s)
	}
	return nil
}
