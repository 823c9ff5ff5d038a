package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/iotdm-agent/internal/dm"
	"github.com/nerrad567/iotdm-agent/internal/infrastructure/metrics"
	"github.com/nerrad567/iotdm-agent/internal/store"
)

const (
	defaultQueueSize      = 256
	defaultPruneInterval  = time.Hour
	defaultSampleInterval = 15 * time.Second
	journalWriteTimeout   = 5 * time.Second
)

// Failure reasons attached to request metrics.
const (
	ReasonTimeout  = "timeout"
	ReasonRejected = "rejected"
	ReasonError    = "error"
)

// InfluxWriter is the subset of the InfluxDB client the recorder uses.
type InfluxWriter interface {
	WriteRequest(kind string, rc int, failed bool, elapsed time.Duration, at time.Time)
	WriteFirmware(state string, updateStatus int, version string, at time.Time)
	WriteInbound(category string)
}

// SessionSource supplies session snapshots for the gauges.
type SessionSource interface {
	Snapshot(ctx context.Context) (dm.Snapshot, error)
}

// Options configures a Recorder.
type Options struct {
	Metrics *metrics.Metrics
	Influx  InfluxWriter
	Journal store.Journal

	// Session, when set, is sampled every SampleInterval by Run.
	Session        SessionSource
	SampleInterval time.Duration

	// Retention is how long journal entries are kept. Zero disables pruning.
	Retention     time.Duration
	PruneInterval time.Duration

	QueueSize int
	Logger    dm.Logger
}

// Recorder implements dm.Observer.
type Recorder struct {
	metrics *metrics.Metrics
	influx  InfluxWriter
	journal store.Journal
	session SessionSource
	logger  dm.Logger

	sampleInterval time.Duration
	retention      time.Duration
	pruneInterval  time.Duration

	queue chan store.Entry
}

var _ dm.Observer = (*Recorder)(nil)

// New creates a Recorder. Call Run to drain the journal queue.
func New(opts Options) *Recorder {
	r := &Recorder{
		metrics:        opts.Metrics,
		influx:         opts.Influx,
		journal:        opts.Journal,
		session:        opts.Session,
		logger:         opts.Logger,
		sampleInterval: opts.SampleInterval,
		retention:      opts.Retention,
		pruneInterval:  opts.PruneInterval,
	}
	if r.logger == nil {
		r.logger = discardLogger{}
	}
	if r.sampleInterval <= 0 {
		r.sampleInterval = defaultSampleInterval
	}
	if r.pruneInterval <= 0 {
		r.pruneInterval = defaultPruneInterval
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	r.queue = make(chan store.Entry, size)
	return r
}

// BindSession sets the session source sampled by Run. It must be called
// before Run, typically once the engine that uses r as an observer exists.
func (r *Recorder) BindSession(s SessionSource) {
	r.session = s
}

// ObserveRequest records a finished device request.
func (r *Recorder) ObserveRequest(ev dm.RequestEvent) {
	reason := failureReason(ev)

	if r.metrics != nil {
		r.metrics.ObserveRequest(ev.Kind, int(ev.Code), ev.Elapsed, reason)
		if reason == "" {
			switch ev.Kind {
			case dm.KindManage:
				r.metrics.Managed.Set(1)
			case dm.KindUnmanage:
				r.metrics.Managed.Set(0)
			}
		}
	}
	if r.influx != nil {
		r.influx.WriteRequest(ev.Kind, int(ev.Code), reason != "", ev.Elapsed, ev.At)
	}
	if r.journal != nil {
		select {
		case r.queue <- store.EntryFromEvent(ev):
		default:
			r.logger.Warn("journal queue full, dropping entry", "req_id", ev.ReqID, "kind", ev.Kind)
		}
	}
}

// ObserveInbound counts a platform message.
func (r *Recorder) ObserveInbound(cat dm.Category) {
	if r.metrics != nil {
		r.metrics.InboundMessages.WithLabelValues(cat.String()).Inc()
	}
	if r.influx != nil {
		r.influx.WriteInbound(cat.String())
	}
}

// ObserveFirmware records a firmware state change.
func (r *Recorder) ObserveFirmware(rec dm.FirmwareRecord) {
	if r.metrics != nil {
		r.metrics.FirmwareState.Set(float64(rec.State))
		r.metrics.FirmwareResult.Set(float64(rec.UpdateStatus))
	}
	if r.influx != nil {
		at := rec.UpdatedAt
		if at.IsZero() {
			at = time.Now()
		}
		r.influx.WriteFirmware(rec.State.String(), int(rec.UpdateStatus), rec.Version, at)
	}
}

// ObservePublishError counts a failed publish.
func (r *Recorder) ObservePublishError(topic string, _ error) {
	if r.metrics != nil {
		r.metrics.PublishErrors.WithLabelValues(topic).Inc()
	}
}

// Run drains the journal queue, prunes old entries and samples the session
// until ctx is cancelled. Entries still queued at cancellation are written
// before Run returns.
func (r *Recorder) Run(ctx context.Context) error {
	prune := time.NewTicker(r.pruneInterval)
	defer prune.Stop()
	sample := time.NewTicker(r.sampleInterval)
	defer sample.Stop()

	r.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			r.drain()
			return nil
		case e := <-r.queue:
			r.record(e)
		case <-prune.C:
			r.prune(ctx)
		case <-sample.C:
			r.sample(ctx)
		}
	}
}

// record writes outside Run's context so shutdown does not lose entries.
func (r *Recorder) record(e store.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()
	if err := r.journal.Record(ctx, e); err != nil {
		r.logger.Warn("journal write failed", "req_id", e.ReqID, "error", err)
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case e := <-r.queue:
			r.record(e)
		default:
			return
		}
	}
}

func (r *Recorder) prune(ctx context.Context) {
	if r.journal == nil || r.retention <= 0 {
		return
	}
	n, err := r.journal.Prune(ctx, r.retention)
	if err != nil {
		r.logger.Warn("journal prune failed", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("journal pruned", "removed", n)
	}
}

func (r *Recorder) sample(ctx context.Context) {
	if r.session == nil || r.metrics == nil {
		return
	}
	snap, err := r.session.Snapshot(ctx)
	if err != nil {
		if !errors.Is(err, dm.ErrEngineStopped) {
			r.logger.Debug("session sample failed", "error", err)
		}
		return
	}
	managed := 0.0
	if snap.Managed {
		managed = 1
	}
	r.metrics.Managed.Set(managed)
	r.metrics.PendingRequests.Set(float64(snap.PendingRequests))
}

// failureReason classifies a request outcome; empty means success.
func failureReason(ev dm.RequestEvent) string {
	switch {
	case errors.Is(ev.Err, dm.ErrRequestTimeout):
		return ReasonTimeout
	case ev.Err != nil:
		return ReasonError
	case !ev.Code.OK():
		return ReasonRejected
	default:
		return ""
	}
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}
