// Package jobs runs detached background work on a bounded worker pool.
// Jobs carry no ordering guarantee relative to each other or to the caller.
package jobs

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-service/internal/metrics"
)

type Func func(ctx context.Context) error

type job struct {
	name string
	fn   Func
}

type Queue struct {
	ch     chan job
	log    *zap.SugaredLogger
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool

	workers sync.WaitGroup
	pending sync.WaitGroup
}

func New(workers, size int, log *zap.SugaredLogger) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		ch:     make(chan job, size),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		q.workers.Add(1)
		go q.run()
	}
	return q
}

// Submit enqueues fn without blocking. It returns false when the queue is full or closed.
func (q *Queue) Submit(name string, fn Func) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		metrics.Jobs.WithLabelValues(name, "rejected").Inc()
		return false
	}
	q.pending.Add(1)
	select {
	case q.ch <- job{name: name, fn: fn}:
		return true
	default:
		q.pending.Done()
		metrics.Jobs.WithLabelValues(name, "dropped").Inc()
		q.log.Warnw("job queue full, dropping job", "job", name)
		return false
	}
}

// Wait blocks until every job submitted so far has finished.
func (q *Queue) Wait() { q.pending.Wait() }

// Close stops intake and drains queued jobs. Jobs still running when ctx
// expires see their context cancelled.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		return ctx.Err()
	}
}

func (q *Queue) run() {
	defer q.workers.Done()
	for j := range q.ch {
		q.exec(j)
	}
}

func (q *Queue) exec(j job) {
	defer q.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			metrics.Jobs.WithLabelValues(j.name, "panic").Inc()
			q.log.Errorw("job panicked", "job", j.name, "panic", fmt.Sprint(r))
		}
	}()
	if err := j.fn(q.ctx); err != nil {
		metrics.Jobs.WithLabelValues(j.name, "failed").Inc()
		q.log.Warnw("job failed", "job", j.name, "error", err)
		return
	}
	metrics.Jobs.WithLabelValues(j.name, "ok").Inc()
}
