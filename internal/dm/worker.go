package dm

import (
	"context"
	"fmt"
	"sync"
)

// worker runs handler callbacks one at a time in the order they were
// enqueued. Callbacks may call back into the engine since they never run on
// the engine loop.
type worker struct {
	mu     sync.Mutex
	jobs   []func()
	wake   chan struct{}
	logger Logger
}

func newWorker(logger Logger) *worker {
	return &worker{
		wake:   make(chan struct{}, 1),
		logger: logger,
	}
}

// enqueue never blocks.
func (w *worker) enqueue(job func()) {
	w.mu.Lock()
	w.jobs = append(w.jobs, job)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *worker) next() func() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.jobs) == 0 {
		return nil
	}
	job := w.jobs[0]
	w.jobs[0] = nil
	w.jobs = w.jobs[1:]
	return job
}

func (w *worker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		}
		for job := w.next(); job != nil; job = w.next() {
			w.safely(job)
		}
	}
}

func (w *worker) safely(job func()) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("handler panicked", "panic", fmt.Sprint(r))
		}
	}()
	job()
}
