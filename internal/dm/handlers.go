package dm

import (
	"context"
	"time"
)

// Logger is the logging interface used by the engine.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Handlers are the application callbacks. Any of them may be nil.
//
// Callbacks run one at a time on a dedicated goroutine, in the order the
// triggering messages arrived. They may call Engine methods.
type Handlers struct {
	// Response receives every correlated response to a device request.
	Response ResponseHandler

	// Location receives location pushed by the platform.
	Location LocationHandler

	// Reboot and FactoryReset receive device actions. A nil handler makes
	// the engine answer 501. Otherwise the handler must report the outcome
	// with Engine.ChangeState.
	Reboot       ActionHandler
	FactoryReset ActionHandler

	// Firmware receives download and update initiations. A nil handler
	// makes the engine answer 501.
	Firmware FirmwareHandler

	// Command receives device commands. The engine subscribes to the
	// command topics only when set.
	Command CommandHandler
}

// ResponseHandler observes correlated platform responses.
type ResponseHandler interface {
	HandleResponse(ctx context.Context, kind string, resp Response)
}

// ResponseHandlerFunc adapts a function to ResponseHandler.
type ResponseHandlerFunc func(ctx context.Context, kind string, resp Response)

func (f ResponseHandlerFunc) HandleResponse(ctx context.Context, kind string, resp Response) {
	f(ctx, kind, resp)
}

// Location is a position pushed by the platform.
type Location struct {
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	Elevation        float64 `json:"elevation"`
	Accuracy         float64 `json:"accuracy"`
	MeasuredDateTime string  `json:"measuredDateTime"`
	UpdatedDateTime  string  `json:"updatedDateTime"`
}

// LocationHandler applies location updates.
type LocationHandler interface {
	HandleLocation(ctx context.Context, loc Location)
}

// LocationHandlerFunc adapts a function to LocationHandler.
type LocationHandlerFunc func(ctx context.Context, loc Location)

func (f LocationHandlerFunc) HandleLocation(ctx context.Context, loc Location) { f(ctx, loc) }

// ActionRequest is a platform-initiated device action.
type ActionRequest struct {
	ReqID string

	// Action is "reboot" or "factory_reset".
	Action  string
	Payload []byte
}

// ActionHandler carries out a device action.
type ActionHandler interface {
	HandleAction(ctx context.Context, req ActionRequest)
}

// ActionHandlerFunc adapts a function to ActionHandler.
type ActionHandlerFunc func(ctx context.Context, req ActionRequest)

func (f ActionHandlerFunc) HandleAction(ctx context.Context, req ActionRequest) { f(ctx, req) }

// FirmwareHandler downloads and installs firmware. The engine has already
// answered 202 when these are called; progress is reported through
// Engine.ChangeFirmwareState and Engine.ChangeFirmwareUpdateState.
type FirmwareHandler interface {
	Download(ctx context.Context, fw FirmwareRecord)
	Update(ctx context.Context, fw FirmwareRecord)
}

// Command is a device command received on iot-2/cmd/<name>/fmt/<format>.
type Command struct {
	Name       string
	Format     string
	Payload    []byte
	ReceivedAt time.Time
}

// CommandHandler receives device commands.
type CommandHandler interface {
	HandleCommand(ctx context.Context, cmd Command)
}

// CommandHandlerFunc adapts a function to CommandHandler.
type CommandHandlerFunc func(ctx context.Context, cmd Command)

func (f CommandHandlerFunc) HandleCommand(ctx context.Context, cmd Command) { f(ctx, cmd) }

// Observer receives engine events for metrics and journaling. Methods are
// called from the engine loop and must not block.
type Observer interface {
	ObserveRequest(ev RequestEvent)
	ObserveInbound(cat Category)
	ObserveFirmware(rec FirmwareRecord)
	ObservePublishError(topic string, err error)
}

// RequestEvent describes how a device request finished.
type RequestEvent struct {
	ReqID   string
	Kind    string
	Code    ReturnCode
	Err     error
	Elapsed time.Duration
	At      time.Time
}

// FirmwareStore persists the firmware record across restarts.
type FirmwareStore interface {
	LoadFirmware(ctx context.Context) (FirmwareRecord, bool, error)
	SaveFirmware(ctx context.Context, rec FirmwareRecord) error
}
