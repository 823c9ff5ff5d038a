package dm

import (
	"bytes"
	"fmt"
	"strconv"
)

// ReturnCode is the "rc" status carried by every device-management response.
type ReturnCode int

// Return codes used by the platform and the device.
const (
	CodeSuccess      ReturnCode = 200
	CodeAccepted     ReturnCode = 202
	CodeChanged      ReturnCode = 204
	CodeBadRequest   ReturnCode = 400
	CodeNotFound     ReturnCode = 404
	CodeConflict     ReturnCode = 409
	CodeActionFailed ReturnCode = 500
	CodeNotSupported ReturnCode = 501
)

// OK reports whether c is a 2xx success code.
func (c ReturnCode) OK() bool {
	return c >= 200 && c < 300
}

// ActionMessage returns the text sent alongside a device action result.
// Codes without a fixed text return "".
func (c ReturnCode) ActionMessage() string {
	switch c {
	case CodeAccepted:
		return "Device action initiated immediately"
	case CodeActionFailed:
		return "Device action attempt fails"
	case CodeNotSupported:
		return "Device action is not supported"
	default:
		return ""
	}
}

// UnmarshalJSON accepts the code as a JSON number or a quoted number; the
// platform has sent both.
func (c *ReturnCode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	data = bytes.Trim(data, `"`)
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return fmt.Errorf("return code %q: %w", data, err)
	}
	*c = ReturnCode(n)
	return nil
}
