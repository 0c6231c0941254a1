// Package writequeue serializes persistent-store mutations. The backing
// store is treated as a single-writer engine: handlers run concurrently, so
// without a total order interleaved writes (create racing mark-delivered)
// can violate ordering invariants. One global queue, no per-key partitioning.
package writequeue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"relaycore/internal/observability/metrics"
)

type task struct {
	label string
	fn    func(ctx context.Context) error
	done  chan error
}

type Queue struct {
	tasks chan task

	mu      sync.RWMutex
	closed  bool
	drained chan struct{}
}

// New starts the single worker. depth bounds how many callers may be parked
// waiting for their turn; Do blocks once the buffer is full.
func New(depth int) *Queue {
	if depth <= 0 {
		depth = 1024
	}
	q := &Queue{
		tasks:   make(chan task, depth),
		drained: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.drained)
	for t := range q.tasks {
		metrics.WriteQueueDepth.WithLabelValues().Set(float64(len(q.tasks)))
		t.done <- q.execute(t)
	}
}

func (q *Queue) execute(t task) (err error) {
	start := time.Now()
	defer func() {
		metrics.WriteTaskDurationSeconds.WithLabelValues(t.label).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			err = fmt.Errorf("write task %q panicked: %v", t.label, r)
			slog.Error("write task panic", "label", t.label, "panic", r)
		}
	}()
	if err := t.fn(context.Background()); err != nil {
		// The failure belongs to the submitting caller only; the queue
		// keeps executing subsequent tasks.
		slog.Warn("write task failed", "label", t.label, "error", err)
		return err
	}
	return nil
}

// Do enqueues fn and blocks until it has executed, returning its error.
// Tasks run strictly one at a time in submission order. ctx only covers
// the wait for a queue slot; once enqueued a task always runs to completion.
func (q *Queue) Do(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	t := task{label: label, fn: fn, done: make(chan error, 1)}

	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return fmt.Errorf("write queue closed, dropping task %q", label)
	}
	select {
	case q.tasks <- t:
		q.mu.RUnlock()
	case <-ctx.Done():
		q.mu.RUnlock()
		return ctx.Err()
	}
	return <-t.done
}

// Close stops accepting tasks, lets the worker drain what was already
// enqueued, and returns once the queue is empty.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()
	<-q.drained
}
