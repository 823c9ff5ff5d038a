package dm

import (
	"context"
	"fmt"

	"github.com/nerrad567/iotdm-agent/internal/infrastructure/mqtt"
)

// ChangeState reports the outcome of a device action to the platform.
// reqID is the ActionRequest.ReqID the handler received.
func (e *Engine) ChangeState(ctx context.Context, reqID string, rc ReturnCode) error {
	if reqID == "" {
		return fmt.Errorf("%w: request id is required", ErrInvalidRequest)
	}
	return e.exec(ctx, func(context.Context) error {
		e.logger.Info("device action state changed", "req_id", reqID, "rc", int(rc))
		return e.respond(reqID, rc, rc.ActionMessage(), nil)
	})
}

// ChangeFirmwareState moves the firmware lifecycle to state and notifies
// the platform if mgmt.firmware is observed. Disallowed transitions return
// an error wrapping ErrInvalidTransition and leave the record unchanged.
func (e *Engine) ChangeFirmwareState(ctx context.Context, state FirmwareState) error {
	return e.exec(ctx, func(ctx context.Context) error {
		rec, changed, err := transitionState(e.session.firmware, state)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		rec.UpdatedAt = e.now()
		return e.commitFirmware(ctx, rec)
	})
}

// ChangeFirmwareUpdateState records a firmware update status, applying the
// state change it implies, and notifies the platform if observed.
func (e *Engine) ChangeFirmwareUpdateState(ctx context.Context, status FirmwareUpdateStatus) error {
	return e.exec(ctx, func(ctx context.Context) error {
		rec, changed, err := transitionStatus(e.session.firmware, status)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		rec.UpdatedAt = e.now()
		return e.commitFirmware(ctx, rec)
	})
}

// PublishEvent sends an application event on iot-2/evt/<event>/fmt/<format>.
func (e *Engine) PublishEvent(ctx context.Context, event, format string, payload []byte) error {
	if err := mqtt.ValidateEventName(event); err != nil {
		return fmt.Errorf("event name: %w", err)
	}
	if err := mqtt.ValidateEventName(format); err != nil {
		return fmt.Errorf("event format: %w", err)
	}
	topic := mqtt.Topics{}.DeviceEvent(event, format)
	return e.exec(ctx, func(context.Context) error {
		return e.publish(topic, payload)
	})
}

// commitFirmware stores rec as the session firmware, persists it and
// notifies observers and, when observed, the platform.
func (e *Engine) commitFirmware(ctx context.Context, rec FirmwareRecord) error {
	e.session.firmware = rec
	e.logger.Info("firmware record changed",
		"state", rec.State.String(),
		"update_status", rec.UpdateStatus.String(),
		"version", rec.Version,
	)

	if e.store != nil {
		sctx, cancel := context.WithTimeout(ctx, storeTimeout)
		err := e.store.SaveFirmware(sctx, rec)
		cancel()
		if err != nil {
			e.logger.Warn("persisting firmware record failed", "error", err)
		}
	}
	for _, o := range e.observers {
		o.ObserveFirmware(rec)
	}
	return e.notifyFirmware()
}
