package agent

import (
	"context"
	"sync"

	"github.com/nerrad567/iotdm-agent/internal/dm"
	"github.com/nerrad567/iotdm-agent/internal/infrastructure/config"
	"github.com/nerrad567/iotdm-agent/internal/process"
)

// Engine is the part of the device-management engine the agent reports to.
type Engine interface {
	ChangeState(ctx context.Context, reqID string, rc dm.ReturnCode) error
	ChangeFirmwareState(ctx context.Context, state dm.FirmwareState) error
	ChangeFirmwareUpdateState(ctx context.Context, status dm.FirmwareUpdateStatus) error
}

// Logger defines the logging interface for the agent.
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

// Agent implements the engine's handler interfaces.
type Agent struct {
	cfg    config.ActionsConfig
	runner *process.Runner
	fetch  *fetcher
	logger Logger

	mu     sync.RWMutex
	engine Engine

	wg sync.WaitGroup
}

// New creates an Agent. Bind must be called before the engine runs.
func New(cfg config.ActionsConfig, logger Logger) *Agent {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Agent{
		cfg:    cfg,
		runner: process.NewRunner(logger),
		fetch:  newFetcher(cfg.FirmwareDir, cfg.DownloadTimeout),
		logger: logger,
	}
}

// Bind sets the engine outcomes are reported to.
func (a *Agent) Bind(e Engine) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.engine = e
}

func (a *Agent) bound() Engine {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.engine
}

// Handlers returns the engine callbacks. Actions without a configured
// command are left nil so the engine answers 501 for them.
func (a *Agent) Handlers() dm.Handlers {
	h := dm.Handlers{
		Response: dm.ResponseHandlerFunc(a.handleResponse),
		Location: dm.LocationHandlerFunc(a.handleLocation),
		Command:  dm.CommandHandlerFunc(a.handleCommand),
	}
	if len(a.cfg.RebootCommand) > 0 {
		h.Reboot = dm.ActionHandlerFunc(a.handleAction)
	}
	if len(a.cfg.FactoryResetCommand) > 0 {
		h.FactoryReset = dm.ActionHandlerFunc(a.handleAction)
	}
	if a.cfg.FirmwareDir != "" {
		h.Firmware = a
	}
	return h
}

// Wait blocks until background firmware work and started action commands
// have finished.
func (a *Agent) Wait() {
	a.wg.Wait()
}

func (a *Agent) handleResponse(_ context.Context, kind string, resp dm.Response) {
	a.logger.Debug("platform response", "kind", kind, "req_id", resp.ReqID, "rc", int(resp.Code))
}

func (a *Agent) handleLocation(_ context.Context, loc dm.Location) {
	a.logger.Info("location updated by platform",
		"latitude", loc.Latitude,
		"longitude", loc.Longitude,
		"elevation", loc.Elevation,
		"measured", loc.MeasuredDateTime,
	)
}

func (a *Agent) handleCommand(_ context.Context, cmd dm.Command) {
	a.logger.Info("device command received",
		"command", cmd.Name,
		"format", cmd.Format,
		"bytes", len(cmd.Payload),
	)
}
