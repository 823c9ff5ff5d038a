package dm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/nerrad567/iotdm-agent/internal/infrastructure/mqtt"
)

// Defaults applied by New when the corresponding Options field is zero.
const (
	DefaultQoS            = 1
	DefaultRequestTimeout = 60 * time.Second
	DefaultRetryInterval  = 2 * time.Second
	DefaultInboundQueue   = 64

	storeTimeout = 5 * time.Second
)

// Transport is the MQTT connection the engine talks through.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	IsConnected() bool
}

// Options configures an Engine.
type Options struct {
	Transport Transport
	Handlers  Handlers

	// DeviceInfo and Metadata are sent with every manage request.
	DeviceInfo DeviceInfo
	Metadata   json.RawMessage

	// Firmware persists the firmware record. Optional.
	Firmware  FirmwareStore
	Observers []Observer
	Logger    Logger

	// QoS for every publish. Zero selects DefaultQoS; device-management
	// traffic is never sent at QoS 0.
	QoS            byte
	RequestTimeout time.Duration

	// RetryInterval is both the publish retry cadence and the
	// request-timeout sweep interval.
	RetryInterval time.Duration
	InboundQueue  int

	// Entropy seeds request ids. Nil uses crypto/rand.
	Entropy io.Reader
}

type inbound struct {
	topic   string
	payload []byte
	at      time.Time
}

type op struct {
	fn   func(ctx context.Context) error
	errc chan error
}

// Engine runs the device side of the device-management protocol.
//
// All session state is owned by the goroutine executing Run. Other
// goroutines reach it through Send, Deliver and the Change*/Snapshot
// methods, which pass messages to that goroutine.
type Engine struct {
	transport     Transport
	handlers      Handlers
	store         FirmwareStore
	observers     []Observer
	logger        Logger
	qos           byte
	retryInterval time.Duration
	now           func() time.Time

	correlator *correlator
	worker     *worker

	// Loop-owned.
	session    *session
	retryQueue []*outbound

	inbox   chan inbound
	submit  chan *outbound
	ops     chan op
	done    chan struct{}
	running atomic.Bool
}

// New creates an Engine. Call Run to start it.
func New(opts Options) (*Engine, error) {
	if opts.Transport == nil {
		return nil, errors.New("dm: transport is required")
	}
	if opts.QoS > 2 {
		return nil, fmt.Errorf("dm: invalid qos %d", opts.QoS)
	}
	if len(opts.Metadata) > 0 && !json.Valid(opts.Metadata) {
		return nil, errors.New("dm: metadata is not valid JSON")
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	qos := opts.QoS
	if qos == 0 {
		qos = DefaultQoS
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	retry := opts.RetryInterval
	if retry <= 0 {
		retry = DefaultRetryInterval
	}
	queue := opts.InboundQueue
	if queue <= 0 {
		queue = DefaultInboundQueue
	}

	return &Engine{
		transport:     opts.Transport,
		handlers:      opts.Handlers,
		store:         opts.Firmware,
		observers:     opts.Observers,
		logger:        logger,
		qos:           qos,
		retryInterval: retry,
		now:           time.Now,
		correlator:    newCorrelator(timeout, opts.Entropy),
		worker:        newWorker(logger),
		session:       newSession(opts.DeviceInfo, opts.Metadata),
		inbox:         make(chan inbound, queue),
		submit:        make(chan *outbound),
		ops:           make(chan op),
		done:          make(chan struct{}),
	}, nil
}

// Run subscribes to the device-management topics and processes messages
// until ctx is cancelled. Pending requests fail with ErrEngineStopped when
// Run returns.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrEngineRunning
	}
	defer func() {
		close(e.done)
		e.correlator.failAll(ErrEngineStopped)
	}()

	e.restoreFirmware(ctx)

	if err := e.transport.Subscribe(SubscriptionFilter, e.qos, e.receive); err != nil {
		return fmt.Errorf("subscribing to %s: %w", SubscriptionFilter, err)
	}
	if e.handlers.Command != nil {
		filter := mqtt.Topics{}.AllDeviceCommands()
		if err := e.transport.Subscribe(filter, e.qos, e.receive); err != nil {
			return fmt.Errorf("subscribing to %s: %w", filter, err)
		}
	}

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go e.worker.run(workerCtx)

	ticker := time.NewTicker(e.retryInterval)
	defer ticker.Stop()

	e.logger.Info("device management engine started", "qos", e.qos)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("device management engine stopped")
			return nil
		case msg := <-e.inbox:
			e.dispatch(workerCtx, msg)
		case ob := <-e.submit:
			e.accept(ob)
		case o := <-e.ops:
			o.errc <- e.runOp(workerCtx, o.fn)
		case <-ticker.C:
			e.retryPending()
			e.evictExpired()
		}
	}
}

// Deliver queues an inbound message for dispatch without blocking. It
// returns false if the inbound queue is full and the message was dropped.
func (e *Engine) Deliver(topic string, payload []byte) bool {
	msg := inbound{topic: topic, payload: bytes.Clone(payload), at: e.now()}
	select {
	case e.inbox <- msg:
		return true
	default:
		e.logger.Warn("inbound queue full, dropping message", "topic", topic)
		return false
	}
}

func (e *Engine) receive(topic string, payload []byte) {
	e.Deliver(topic, payload)
}

// Send publishes req and waits for the correlated response.
//
// A publish failure does not fail the call: the message is re-sent every
// retry interval until a response arrives, the request times out or ctx is
// cancelled. A response with a non-2xx code is returned together with an
// error wrapping ErrRequestRejected.
func (e *Engine) Send(ctx context.Context, req Request) (Response, error) {
	if req == nil {
		return Response{}, fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if err := req.validate(); err != nil {
		return Response{}, err
	}

	id, resc, err := e.correlator.issue(req.Kind())
	if err != nil {
		return Response{}, err
	}

	select {
	case e.submit <- &outbound{reqID: id, req: req}:
	case <-ctx.Done():
		e.correlator.abandon(id)
		return Response{}, ctx.Err()
	case <-e.done:
		e.correlator.abandon(id)
		return Response{}, ErrEngineStopped
	}

	select {
	case res := <-resc:
		if res.err != nil {
			return Response{}, fmt.Errorf("%s request %s: %w", req.Kind(), id, res.err)
		}
		if !res.resp.Code.OK() {
			return res.resp, fmt.Errorf("%w: %s request %s returned %d %s",
				ErrRequestRejected, req.Kind(), id, res.resp.Code, res.resp.Message)
		}
		return res.resp, nil
	case <-ctx.Done():
		e.correlator.abandon(id)
		return Response{}, ctx.Err()
	case <-e.done:
		return Response{}, ErrEngineStopped
	}
}

// Manage registers the device as managed.
func (e *Engine) Manage(ctx context.Context, lifetime int, deviceActions, firmwareActions bool) (Response, error) {
	return e.Send(ctx, Manage{Lifetime: lifetime, DeviceActions: deviceActions, FirmwareActions: firmwareActions})
}

// Unmanage ends device management.
func (e *Engine) Unmanage(ctx context.Context) (Response, error) {
	return e.Send(ctx, Unmanage{})
}

// UpdateLocation reports the device position. A zero MeasuredAt is set to
// the current time.
func (e *Engine) UpdateLocation(ctx context.Context, loc UpdateLocation) (Response, error) {
	if loc.MeasuredAt.IsZero() {
		loc.MeasuredAt = e.now()
	}
	return e.Send(ctx, loc)
}

// AddErrorCode appends a diagnostic error code.
func (e *Engine) AddErrorCode(ctx context.Context, code int) (Response, error) {
	return e.Send(ctx, AddErrorCode{Code: code})
}

// ClearErrorCodes removes all diagnostic error codes.
func (e *Engine) ClearErrorCodes(ctx context.Context) (Response, error) {
	return e.Send(ctx, ClearErrorCodes{})
}

// AddLog appends a diagnostic log entry stamped with the current time.
func (e *Engine) AddLog(ctx context.Context, message, data string, severity LogSeverity) (Response, error) {
	return e.Send(ctx, AddLog{Message: message, Data: data, Severity: severity, Timestamp: e.now()})
}

// ClearLogs removes all diagnostic log entries.
func (e *Engine) ClearLogs(ctx context.Context) (Response, error) {
	return e.Send(ctx, ClearLogs{})
}

// Snapshot returns a copy of the current session.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := e.exec(ctx, func(context.Context) error {
		snap = e.session.snapshot()
		snap.QueuedPublishes = len(e.retryQueue)
		return nil
	})
	snap.PendingRequests = e.correlator.count()
	return snap, err
}

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// exec runs fn on the engine loop and returns its error.
func (e *Engine) exec(ctx context.Context, fn func(ctx context.Context) error) error {
	o := op{fn: fn, errc: make(chan error, 1)}
	select {
	case e.ops <- o:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrEngineStopped
	}
	select {
	case err := <-o.errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrEngineStopped
	}
}

func (e *Engine) runOp(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic in engine operation", "panic", fmt.Sprint(r))
			err = fmt.Errorf("dm: operation panicked: %v", r)
		}
	}()
	return fn(ctx)
}

func (e *Engine) restoreFirmware(ctx context.Context) {
	if e.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	rec, ok, err := e.store.LoadFirmware(ctx)
	if err != nil {
		e.logger.Warn("loading firmware record failed", "error", err)
		return
	}
	if !ok {
		return
	}
	// A download cannot survive a restart.
	if rec.State == FirmwareDownloading {
		rec.State = FirmwareIdle
		rec.UpdateStatus = UpdateConnectionLost
	}
	e.session.firmware = rec
	e.logger.Info("firmware record restored",
		"state", rec.State.String(),
		"update_status", rec.UpdateStatus.String(),
		"version", rec.Version,
	)
}
