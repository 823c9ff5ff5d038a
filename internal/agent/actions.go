package agent

import (
	"context"

	"github.com/nerrad567/iotdm-agent/internal/dm"
	"github.com/nerrad567/iotdm-agent/internal/process"
)

// Action names as they arrive in dm.ActionRequest.
const (
	ActionReboot       = "reboot"
	ActionFactoryReset = "factory_reset"
)

// handleAction starts the configured command and reports 202 once it is
// running, 500 if it could not be started and 501 if none is configured.
// The command runs to completion in the background.
func (a *Agent) handleAction(ctx context.Context, req dm.ActionRequest) {
	argv := a.commandFor(req.Action)
	if len(argv) == 0 {
		a.report(ctx, req, dm.CodeNotSupported)
		return
	}

	h, err := a.runner.Start(ctx, process.Command{Name: req.Action, Argv: argv})
	if err != nil {
		a.logger.Error("device action failed to start", "action", req.Action, "req_id", req.ReqID, "error", err)
		a.report(ctx, req, dm.CodeActionFailed)
		return
	}
	a.report(ctx, req, dm.CodeAccepted)

	a.wg.Go(func() {
		h.Wait() //nolint:errcheck // outcome is logged by the runner
	})
}

func (a *Agent) commandFor(action string) []string {
	switch action {
	case ActionReboot:
		return a.cfg.RebootCommand
	case ActionFactoryReset:
		return a.cfg.FactoryResetCommand
	}
	return nil
}

func (a *Agent) report(ctx context.Context, req dm.ActionRequest, rc dm.ReturnCode) {
	e := a.bound()
	if e == nil {
		a.logger.Error("agent not bound to an engine", "action", req.Action)
		return
	}
	if err := e.ChangeState(ctx, req.ReqID, rc); err != nil {
		a.logger.Warn("reporting device action outcome failed", "action", req.Action, "rc", int(rc), "error", err)
	}
}
