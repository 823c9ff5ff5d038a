package dm

import (
	"encoding/json"
	"fmt"
)

// outbound is a device request waiting to be (re)published.
type outbound struct {
	reqID   string
	req     Request
	payload []byte
}

// accept encodes and publishes a newly submitted request. A failed publish
// leaves the request on the retry queue.
func (e *Engine) accept(ob *outbound) {
	payload, err := encodeRequest(ob.req, ob.reqID, e.session)
	if err != nil {
		e.correlator.fail(ob.reqID, fmt.Errorf("encoding %s request: %w", ob.req.Kind(), err))
		return
	}
	ob.payload = payload

	if err := e.publish(ob.req.Topic(), payload); err != nil {
		e.logger.Warn("publish failed, will retry",
			"kind", ob.req.Kind(),
			"req_id", ob.reqID,
			"error", err,
		)
		e.retryQueue = append(e.retryQueue, ob)
		return
	}
	e.logger.Debug("request sent", "kind", ob.req.Kind(), "req_id", ob.reqID)
}

// retryPending re-publishes queued requests. Requests that were answered,
// abandoned or timed out in the meantime are dropped.
func (e *Engine) retryPending() {
	if len(e.retryQueue) == 0 {
		return
	}
	remaining := e.retryQueue[:0]
	for _, ob := range e.retryQueue {
		if !e.correlator.matches(ob.reqID) {
			continue
		}
		if err := e.publish(ob.req.Topic(), ob.payload); err != nil {
			remaining = append(remaining, ob)
			continue
		}
		e.logger.Info("request sent after retry", "kind", ob.req.Kind(), "req_id", ob.reqID)
	}
	clear(e.retryQueue[len(remaining):])
	e.retryQueue = remaining
}

func (e *Engine) evictExpired() {
	for _, x := range e.correlator.evict() {
		e.logger.Warn("request timed out", "kind", x.kind, "req_id", x.reqID, "age", x.age)
		ev := RequestEvent{
			ReqID:   x.reqID,
			Kind:    x.kind,
			Err:     ErrRequestTimeout,
			Elapsed: x.age,
			At:      e.now(),
		}
		for _, o := range e.observers {
			o.ObserveRequest(ev)
		}
	}
}

func (e *Engine) publish(topic string, payload []byte) error {
	if err := e.transport.Publish(topic, payload, e.qos, false); err != nil {
		for _, o := range e.observers {
			o.ObservePublishError(topic, err)
		}
		return err
	}
	return nil
}

// respond answers a platform-initiated request on the device response topic.
func (e *Engine) respond(reqID string, rc ReturnCode, message string, d *fieldList) error {
	payload, err := json.Marshal(outboundResponse{RC: rc, Message: message, ReqID: reqID, D: d})
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	if err := e.publish(TopicDeviceResponse, payload); err != nil {
		return fmt.Errorf("publishing response %s: %w", reqID, err)
	}
	e.logger.Debug("response sent", "req_id", reqID, "rc", int(rc))
	return nil
}

// notifyFirmware pushes the firmware value if the platform observes it.
func (e *Engine) notifyFirmware() error {
	if !e.session.isObserved(FieldFirmware) {
		e.logger.Debug("firmware not observed, notification suppressed")
		return nil
	}
	value, err := json.Marshal(e.session.firmware.wireValue())
	if err != nil {
		return fmt.Errorf("encoding firmware value: %w", err)
	}
	payload, err := json.Marshal(notification{D: fieldList{Fields: []Field{{Field: FieldFirmware, Value: value}}}})
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	if err := e.publish(TopicNotify, payload); err != nil {
		return fmt.Errorf("publishing firmware notification: %w", err)
	}
	return nil
}
