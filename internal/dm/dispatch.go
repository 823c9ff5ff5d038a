package dm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/iotdm-agent/internal/infrastructure/mqtt"
)

// dispatch routes one inbound message. It runs on the engine loop and never
// lets a panic escape.
func (e *Engine) dispatch(ctx context.Context, msg inbound) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic dispatching message", "topic", msg.topic, "panic", fmt.Sprint(r))
		}
	}()

	cat := Classify(msg.topic)
	for _, o := range e.observers {
		o.ObserveInbound(cat)
	}

	switch cat {
	case CategoryResponse:
		e.handleResponse(ctx, msg)
	case CategoryUpdate:
		e.handleUpdate(ctx, msg)
	case CategoryObserve:
		e.handleObserve(msg)
	case CategoryCancel:
		e.handleCancel(msg)
	case CategoryReboot:
		e.handleAction(ctx, msg, e.handlers.Reboot)
	case CategoryFactoryReset:
		e.handleAction(ctx, msg, e.handlers.FactoryReset)
	case CategoryFirmwareDownload:
		e.handleFirmwareDownload(ctx, msg)
	case CategoryFirmwareUpdate:
		e.handleFirmwareUpdate(ctx, msg)
	case CategoryCommand:
		e.handleCommand(ctx, msg)
	default:
		e.logger.Debug("ignoring message on unknown topic", "topic", msg.topic)
	}
}

func (e *Engine) decodeRequest(msg inbound) (inboundRequest, bool) {
	var req inboundRequest
	if err := json.Unmarshal(msg.payload, &req); err != nil {
		e.logger.Warn("dropping malformed request", "topic", msg.topic, "error", err)
		return req, false
	}
	return req, true
}

func (e *Engine) handleResponse(ctx context.Context, msg inbound) {
	var in inboundResponse
	if err := json.Unmarshal(msg.payload, &in); err != nil {
		e.logger.Warn("dropping malformed response", "error", err)
		return
	}
	resp := Response{ReqID: in.ReqID, Code: in.RC, Message: in.Message, Payload: msg.payload}

	kind, elapsed, ok := e.correlator.resolve(resp)
	if !ok {
		e.logger.Debug("dropping response with no pending request", "req_id", in.ReqID, "rc", int(in.RC))
		return
	}

	if resp.Code.OK() {
		switch kind {
		case KindManage:
			e.session.managed = true
		case KindUnmanage:
			e.session.managed = false
		}
	}

	e.logger.Info("request completed",
		"kind", kind,
		"req_id", resp.ReqID,
		"rc", int(resp.Code),
		"elapsed", elapsed,
	)
	ev := RequestEvent{ReqID: resp.ReqID, Kind: kind, Code: resp.Code, Elapsed: elapsed, At: msg.at}
	for _, o := range e.observers {
		o.ObserveRequest(ev)
	}

	if h := e.handlers.Response; h != nil {
		e.worker.enqueue(func() { h.HandleResponse(ctx, kind, resp) })
	}
}

// handleUpdate applies every field in the message and acknowledges once.
// Unsupported fields are accepted and ignored.
func (e *Engine) handleUpdate(ctx context.Context, msg inbound) {
	req, ok := e.decodeRequest(msg)
	if !ok {
		return
	}

	for _, f := range req.D.Fields {
		switch f.Field {
		case FieldLocation:
			var loc Location
			if err := json.Unmarshal(f.Value, &loc); err != nil {
				e.logger.Warn("ignoring malformed location update", "req_id", req.ReqID, "error", err)
				continue
			}
			if h := e.handlers.Location; h != nil {
				e.worker.enqueue(func() { h.HandleLocation(ctx, loc) })
			}
		case FieldFirmware:
			rec, err := applyFirmwareUpdate(e.session.firmware, f.Value, msg.at)
			if err != nil {
				e.logger.Warn("ignoring malformed firmware update", "req_id", req.ReqID, "error", err)
				continue
			}
			if err := e.commitFirmware(ctx, rec); err != nil {
				e.logger.Warn("firmware update applied but notification failed", "error", err)
			}
		default:
			e.logger.Debug("ignoring update for unsupported field", "field", f.Field)
		}
	}

	if err := e.respond(req.ReqID, CodeChanged, "", nil); err != nil {
		e.logger.Warn("acknowledging update failed", "error", err)
	}
}

func (e *Engine) handleObserve(msg inbound) {
	req, ok := e.decodeRequest(msg)
	if !ok {
		return
	}

	matched := []Field{}
	for _, f := range req.D.Fields {
		if f.Field != FieldFirmware {
			e.logger.Debug("ignoring observe for unsupported field", "field", f.Field)
			continue
		}
		e.session.observe(f.Field)
		value, err := json.Marshal(e.session.firmware.wireValue())
		if err != nil {
			e.logger.Error("encoding firmware value", "error", err)
			continue
		}
		matched = append(matched, Field{Field: FieldFirmware, Value: value})
	}

	if err := e.respond(req.ReqID, CodeSuccess, "", &fieldList{Fields: matched}); err != nil {
		e.logger.Warn("acknowledging observe failed", "error", err)
	}
}

func (e *Engine) handleCancel(msg inbound) {
	req, ok := e.decodeRequest(msg)
	if !ok {
		return
	}

	for _, f := range req.D.Fields {
		if f.Field != FieldFirmware {
			e.logger.Debug("ignoring cancel for unsupported field", "field", f.Field)
			continue
		}
		e.session.cancel(f.Field)
		if err := e.respond(req.ReqID, CodeSuccess, "", nil); err != nil {
			e.logger.Warn("acknowledging cancel failed", "error", err)
		}
	}
}

// handleAction hands a reboot or factory reset to the device. The handler
// reports the outcome itself through ChangeState.
func (e *Engine) handleAction(ctx context.Context, msg inbound, h ActionHandler) {
	req, ok := e.decodeRequest(msg)
	if !ok {
		return
	}
	action := actionName(msg.topic)

	if h == nil {
		e.logger.Info("device action not supported", "action", action, "req_id", req.ReqID)
		e.answerAction(req.ReqID, CodeNotSupported)
		return
	}

	e.logger.Info("device action requested", "action", action, "req_id", req.ReqID)
	ar := ActionRequest{ReqID: req.ReqID, Action: action, Payload: msg.payload}
	e.worker.enqueue(func() { h.HandleAction(ctx, ar) })
}

func (e *Engine) handleFirmwareDownload(ctx context.Context, msg inbound) {
	req, ok := e.decodeRequest(msg)
	if !ok {
		return
	}
	if st := e.session.firmware.State; st != FirmwareIdle {
		e.logger.Info("rejecting firmware download", "state", st.String(), "req_id", req.ReqID)
		e.answerAction(req.ReqID, CodeBadRequest)
		return
	}
	h := e.handlers.Firmware
	if h == nil {
		e.answerAction(req.ReqID, CodeNotSupported)
		return
	}

	e.answerAction(req.ReqID, CodeAccepted)
	rec, _, err := transitionState(e.session.firmware, FirmwareDownloading)
	if err != nil {
		e.logger.Error("entering firmware download", "req_id", req.ReqID, "error", err)
		return
	}
	rec.UpdatedAt = msg.at
	if err := e.commitFirmware(ctx, rec); err != nil {
		e.logger.Warn("firmware download started but notification failed", "error", err)
	}
	e.logger.Info("firmware download accepted", "req_id", req.ReqID, "uri", rec.URI, "version", rec.Version)
	e.worker.enqueue(func() { h.Download(ctx, rec) })
}

func (e *Engine) handleFirmwareUpdate(ctx context.Context, msg inbound) {
	req, ok := e.decodeRequest(msg)
	if !ok {
		return
	}
	if st := e.session.firmware.State; st != FirmwareDownloaded {
		e.logger.Info("rejecting firmware update", "state", st.String(), "req_id", req.ReqID)
		e.answerAction(req.ReqID, CodeBadRequest)
		return
	}
	h := e.handlers.Firmware
	if h == nil {
		e.answerAction(req.ReqID, CodeNotSupported)
		return
	}

	e.answerAction(req.ReqID, CodeAccepted)
	rec, _, err := transitionState(e.session.firmware, FirmwareUpdating)
	if err != nil {
		e.logger.Error("entering firmware update", "req_id", req.ReqID, "error", err)
		return
	}
	rec.UpdatedAt = msg.at
	if err := e.commitFirmware(ctx, rec); err != nil {
		e.logger.Warn("firmware update started but notification failed", "error", err)
	}
	e.logger.Info("firmware update accepted", "req_id", req.ReqID, "version", rec.Version)
	e.worker.enqueue(func() { h.Update(ctx, rec) })
}

func (e *Engine) handleCommand(ctx context.Context, msg inbound) {
	h := e.handlers.Command
	if h == nil {
		return
	}
	name, format, _ := mqtt.Topics{}.ParseDeviceCommand(msg.topic)
	cmd := Command{Name: name, Format: format, Payload: msg.payload, ReceivedAt: msg.at}
	e.worker.enqueue(func() { h.HandleCommand(ctx, cmd) })
}

// answerAction replies with rc and its fixed action message, if any.
func (e *Engine) answerAction(reqID string, rc ReturnCode) {
	if err := e.respond(reqID, rc, rc.ActionMessage(), nil); err != nil {
		e.logger.Warn("answering device action failed", "req_id", reqID, "rc", int(rc), "error", err)
	}
}
