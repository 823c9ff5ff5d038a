package dm

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"
)

// fakeTransport records publishes and optionally fails the next N of them.
type fakeTransport struct {
	mu           sync.Mutex
	published    []publishedMessage
	subscribed   []string
	failNext     int
	subscribeErr error
	onPublish    func(topic string, payload []byte)
}

type publishedMessage struct {
	topic   string
	payload []byte
}

var errFakePublish = errors.New("fake publish failure")

func (f *fakeTransport) Publish(topic string, payload []byte, _ byte, _ bool) error {
	f.mu.Lock()
	if f.failNext > 0 {
		f.failNext--
		f.mu.Unlock()
		return errFakePublish
	}
	f.published = append(f.published, publishedMessage{topic: topic, payload: payload})
	hook := f.onPublish
	f.mu.Unlock()

	if hook != nil {
		hook(topic, payload)
	}
	return nil
}

func (f *fakeTransport) Subscribe(topic string, _ byte, _ func(string, []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.subscribed = append(f.subscribed, topic)
	return nil
}

func (f *fakeTransport) IsConnected() bool { return true }

func (f *fakeTransport) setHook(hook func(topic string, payload []byte)) {
	f.mu.Lock()
	f.onPublish = hook
	f.mu.Unlock()
}

// messages returns the payloads published on topic.
func (f *fakeTransport) messages(topic string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, m := range f.published {
		if m.topic == topic {
			out = append(out, m.payload)
		}
	}
	return out
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

// waitForMessages polls until n messages were published on topic.
func waitForMessages(t *testing.T, tr *fakeTransport, topic string, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := tr.messages(topic); len(msgs) >= n {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d message(s) on %s, got %d", n, topic, len(tr.messages(topic)))
	return nil
}

// newTestEngine builds an engine whose loop is not running. Tests drive
// dispatch directly; the handler worker is started.
func newTestEngine(t *testing.T, handlers Handlers) (*Engine, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	e, err := New(Options{
		Transport: tr,
		Handlers:  handlers,
		Entropy:   rand.New(rand.NewSource(1)),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go e.worker.run(ctx)
	return e, tr
}

// startEngine runs the engine loop until the test ends.
func startEngine(t *testing.T, opts Options) (*Engine, *fakeTransport) {
	t.Helper()
	tr, ok := opts.Transport.(*fakeTransport)
	if !ok {
		tr = &fakeTransport{}
		opts.Transport = tr
	}
	if opts.Entropy == nil {
		opts.Entropy = rand.New(rand.NewSource(7))
	}
	if opts.RetryInterval == 0 {
		opts.RetryInterval = 10 * time.Millisecond
	}
	e, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-errc; err != nil {
			t.Errorf("Run() error = %v", err)
		}
	})
	return e, tr
}

// respondTo makes the fake platform answer every request on topic with rc.
func respondTo(e *Engine, tr *fakeTransport, topic string, rc string) {
	tr.setHook(func(got string, payload []byte) {
		if got != topic {
			return
		}
		var msg struct {
			ReqID string `json:"reqId"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil {
			return
		}
		e.Deliver(TopicResponse, []byte(`{"rc":`+rc+`,"reqId":"`+msg.ReqID+`"}`))
	})
}

func deliverSync(e *Engine, topic, payload string) {
	e.dispatch(context.Background(), inbound{topic: topic, payload: []byte(payload), at: time.Now()})
}

// decodeResponse parses a published device response.
func decodeResponse(t *testing.T, payload []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		t.Fatalf("decoding %s: %v", payload, err)
	}
	return m
}

type recordingObserver struct {
	mu        sync.Mutex
	requests  []RequestEvent
	inbound   []Category
	firmware  []FirmwareRecord
	pubErrors int
}

func (o *recordingObserver) ObserveRequest(ev RequestEvent) {
	o.mu.Lock()
	o.requests = append(o.requests, ev)
	o.mu.Unlock()
}

func (o *recordingObserver) ObserveInbound(cat Category) {
	o.mu.Lock()
	o.inbound = append(o.inbound, cat)
	o.mu.Unlock()
}

func (o *recordingObserver) ObserveFirmware(rec FirmwareRecord) {
	o.mu.Lock()
	o.firmware = append(o.firmware, rec)
	o.mu.Unlock()
}

func (o *recordingObserver) ObservePublishError(string, error) {
	o.mu.Lock()
	o.pubErrors++
	o.mu.Unlock()
}

type memoryStore struct {
	mu    sync.Mutex
	rec   FirmwareRecord
	found bool
	saves int
}

func (s *memoryStore) LoadFirmware(context.Context) (FirmwareRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec, s.found, nil
}

func (s *memoryStore) SaveFirmware(_ context.Context, rec FirmwareRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = rec
	s.found = true
	s.saves++
	return nil
}

// eventually polls cond until it holds or two seconds pass.
func eventually(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func (o *recordingObserver) requestEvents() []RequestEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]RequestEvent(nil), o.requests...)
}
