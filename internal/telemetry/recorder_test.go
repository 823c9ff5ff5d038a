package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/iotdm-agent/internal/dm"
	"github.com/nerrad567/iotdm-agent/internal/infrastructure/metrics"
	"github.com/nerrad567/iotdm-agent/internal/store"
)

type memoryJournal struct {
	mu      sync.Mutex
	entries []store.Entry
	pruned  []time.Duration
	fail    error
}

func (j *memoryJournal) Record(_ context.Context, e store.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail != nil {
		return j.fail
	}
	j.entries = append(j.entries, e)
	return nil
}

func (j *memoryJournal) List(_ context.Context, _ int) ([]store.Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]store.Entry(nil), j.entries...), nil
}

func (j *memoryJournal) Prune(_ context.Context, olderThan time.Duration) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.pruned = append(j.pruned, olderThan)
	return 0, nil
}

func (j *memoryJournal) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

type influxCall struct {
	measurement string
	tag         string
	failed      bool
}

type fakeInflux struct {
	mu    sync.Mutex
	calls []influxCall
}

func (f *fakeInflux) WriteRequest(kind string, _ int, failed bool, _ time.Duration, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, influxCall{"request", kind, failed})
}

func (f *fakeInflux) WriteFirmware(state string, _ int, _ string, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, influxCall{measurement: "firmware", tag: state})
}

func (f *fakeInflux) WriteInbound(category string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, influxCall{measurement: "inbound", tag: category})
}

type fakeSession struct {
	snap dm.Snapshot
}

func (s fakeSession) Snapshot(context.Context) (dm.Snapshot, error) {
	return s.snap, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFailureReason(t *testing.T) {
	tests := []struct {
		name string
		ev   dm.RequestEvent
		want string
	}{
		{"success", dm.RequestEvent{Code: dm.CodeSuccess}, ""},
		{"accepted", dm.RequestEvent{Code: dm.CodeAccepted}, ""},
		{"rejected", dm.RequestEvent{Code: dm.CodeConflict}, ReasonRejected},
		{"timeout", dm.RequestEvent{Err: dm.ErrRequestTimeout}, ReasonTimeout},
		{"wrapped timeout", dm.RequestEvent{Err: errors.Join(errors.New("manage"), dm.ErrRequestTimeout)}, ReasonTimeout},
		{"other error", dm.RequestEvent{Err: errors.New("boom")}, ReasonError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := failureReason(tt.ev); got != tt.want {
				t.Errorf("failureReason() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRecorder_ObserveRequest(t *testing.T) {
	m := metrics.New("")
	influx := &fakeInflux{}
	journal := &memoryJournal{}
	r := New(Options{Metrics: m, Influx: influx, Journal: journal})

	r.ObserveRequest(dm.RequestEvent{ReqID: "1", Kind: dm.KindManage, Code: dm.CodeSuccess, Elapsed: 80 * time.Millisecond})
	r.ObserveRequest(dm.RequestEvent{ReqID: "2", Kind: dm.KindAddLog, Err: dm.ErrRequestTimeout, Elapsed: time.Minute})
	r.ObserveRequest(dm.RequestEvent{ReqID: "3", Kind: dm.KindUnmanage, Code: dm.CodeNotFound})

	if got := testutil.ToFloat64(m.Managed); got != 1 {
		t.Errorf("managed = %v, want 1 (rejected unmanage must not clear it)", got)
	}
	if got := testutil.ToFloat64(m.RequestErrors.WithLabelValues(dm.KindAddLog, ReasonTimeout)); got != 1 {
		t.Errorf("timeouts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RequestErrors.WithLabelValues(dm.KindUnmanage, ReasonRejected)); got != 1 {
		t.Errorf("rejections = %v, want 1", got)
	}

	if len(influx.calls) != 3 || influx.calls[0].failed || !influx.calls[1].failed || !influx.calls[2].failed {
		t.Errorf("influx calls = %+v", influx.calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx) //nolint:errcheck // always nil
	}()
	waitFor(t, func() bool { return journal.count() == 3 })
	cancel()
	<-done

	entries, _ := journal.List(context.Background(), 0)
	if entries[1].Error != dm.ErrRequestTimeout.Error() || entries[2].Code != 404 {
		t.Errorf("journal entries = %+v", entries)
	}
}

func TestRecorder_QueueFull(t *testing.T) {
	journal := &memoryJournal{}
	r := New(Options{Journal: journal, QueueSize: 1})

	r.ObserveRequest(dm.RequestEvent{ReqID: "1", Kind: dm.KindClearLogs, Code: dm.CodeSuccess})
	r.ObserveRequest(dm.RequestEvent{ReqID: "2", Kind: dm.KindClearLogs, Code: dm.CodeSuccess})

	if len(r.queue) != 1 {
		t.Fatalf("queue length = %d, want 1", len(r.queue))
	}

	// Entries queued before shutdown are still written.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if journal.count() != 1 {
		t.Errorf("journal has %d entries, want 1", journal.count())
	}
}

func TestRecorder_FirmwareAndInbound(t *testing.T) {
	m := metrics.New("")
	influx := &fakeInflux{}
	r := New(Options{Metrics: m, Influx: influx})

	r.ObserveInbound(dm.CategoryObserve)
	r.ObserveFirmware(dm.FirmwareRecord{State: dm.FirmwareDownloaded, UpdateStatus: dm.UpdateSuccess, Version: "1.2"})
	r.ObservePublishError(dm.TopicDeviceResponse, errors.New("not connected"))

	if got := testutil.ToFloat64(m.InboundMessages.WithLabelValues("observe")); got != 1 {
		t.Errorf("inbound{observe} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.FirmwareState); got != float64(dm.FirmwareDownloaded) {
		t.Errorf("firmware_state = %v", got)
	}
	if got := testutil.ToFloat64(m.PublishErrors.WithLabelValues(dm.TopicDeviceResponse)); got != 1 {
		t.Errorf("publish_errors = %v, want 1", got)
	}

	want := []influxCall{{measurement: "inbound", tag: "observe"}, {measurement: "firmware", tag: "downloaded"}}
	if len(influx.calls) != len(want) || influx.calls[0] != want[0] || influx.calls[1] != want[1] {
		t.Errorf("influx calls = %+v, want %+v", influx.calls, want)
	}
}

func TestRecorder_NilSinks(t *testing.T) {
	r := New(Options{})

	r.ObserveRequest(dm.RequestEvent{Kind: dm.KindManage, Code: dm.CodeSuccess})
	r.ObserveInbound(dm.CategoryReboot)
	r.ObserveFirmware(dm.FirmwareRecord{})
	r.ObservePublishError("t", errors.New("x"))

	if len(r.queue) != 0 {
		t.Error("entry queued without a journal")
	}
}

func TestRecorder_PruneAndSample(t *testing.T) {
	m := metrics.New("")
	journal := &memoryJournal{}
	r := New(Options{
		Metrics:        m,
		Journal:        journal,
		Retention:      48 * time.Hour,
		PruneInterval:  time.Hour,
		Session:        fakeSession{snap: dm.Snapshot{Managed: true, PendingRequests: 3}},
		SampleInterval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx) //nolint:errcheck // always nil
	}()

	waitFor(t, func() bool { return testutil.ToFloat64(m.PendingRequests) == 3 })
	cancel()
	<-done

	if got := testutil.ToFloat64(m.Managed); got != 1 {
		t.Errorf("managed = %v, want 1", got)
	}
	journal.mu.Lock()
	defer journal.mu.Unlock()
	if len(journal.pruned) != 1 || journal.pruned[0] != 48*time.Hour {
		t.Errorf("prune calls = %v, want one with 48h", journal.pruned)
	}
}
