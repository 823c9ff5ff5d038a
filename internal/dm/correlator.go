package dm

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// result is delivered to the waiter of a pending request exactly once.
type result struct {
	resp Response
	err  error
}

type pendingRequest struct {
	kind     string
	issued   time.Time
	deadline time.Time
	done     chan result
}

// expiredRequest identifies a request evicted by its deadline.
type expiredRequest struct {
	reqID string
	kind  string
	age   time.Duration
}

// correlator tracks outstanding device requests by reqId.
//
// Thread Safety: all methods are safe for concurrent use. Send goroutines
// issue and abandon entries while the engine loop resolves and evicts them.
type correlator struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
	timeout time.Duration
	entropy io.Reader
	now     func() time.Time
}

func newCorrelator(timeout time.Duration, entropy io.Reader) *correlator {
	return &correlator{
		pending: make(map[string]*pendingRequest),
		timeout: timeout,
		entropy: entropy,
		now:     time.Now,
	}
}

func (c *correlator) newID() (string, error) {
	var (
		id  uuid.UUID
		err error
	)
	if c.entropy != nil {
		id, err = uuid.NewRandomFromReader(c.entropy)
	} else {
		id, err = uuid.NewRandom()
	}
	if err != nil {
		return "", fmt.Errorf("generating request id: %w", err)
	}
	return id.String(), nil
}

// issue registers a new pending request and returns its id and the channel
// its result arrives on.
func (c *correlator) issue(kind string) (string, <-chan result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := c.newID()
	if err != nil {
		return "", nil, err
	}
	now := c.now()
	p := &pendingRequest{
		kind:     kind,
		issued:   now,
		deadline: now.Add(c.timeout),
		done:     make(chan result, 1),
	}
	c.pending[id] = p
	return id, p.done, nil
}

// matches reports whether reqID is still awaiting a response.
func (c *correlator) matches(reqID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[reqID]
	return ok
}

// resolve completes the pending request named by resp.ReqID. ok is false if
// no such request is outstanding.
func (c *correlator) resolve(resp Response) (kind string, elapsed time.Duration, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, found := c.pending[resp.ReqID]
	if !found {
		return "", 0, false
	}
	delete(c.pending, resp.ReqID)
	p.done <- result{resp: resp}
	return p.kind, c.now().Sub(p.issued), true
}

// fail completes a pending request with err.
func (c *correlator) fail(reqID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pending[reqID]; ok {
		delete(c.pending, reqID)
		p.done <- result{err: err}
	}
}

// abandon forgets a request whose caller stopped waiting.
func (c *correlator) abandon(reqID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, reqID)
}

// evict fails every request past its deadline with ErrRequestTimeout.
func (c *correlator) evict() []expiredRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var expired []expiredRequest
	for id, p := range c.pending {
		if now.Before(p.deadline) {
			continue
		}
		delete(c.pending, id)
		p.done <- result{err: ErrRequestTimeout}
		expired = append(expired, expiredRequest{reqID: id, kind: p.kind, age: now.Sub(p.issued)})
	}
	return expired
}

// failAll completes every pending request with err.
func (c *correlator) failAll(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, p := range c.pending {
		delete(c.pending, id)
		p.done <- result{err: err}
	}
}

func (c *correlator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
