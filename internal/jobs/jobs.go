// Package jobs runs background work off the request path: a single-worker
// queue for one-off jobs and tickers that feed it recurring ones.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/andresmejia3/idgate/internal/utils"
)

var (
	ErrQueueFull = errors.New("job queue full")
	ErrClosed    = errors.New("job queue closed")
)

// Job is one unit of background work.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Queue executes jobs one at a time in submission order.
type Queue struct {
	tasks  chan Job
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewQueue(size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = 64
	}
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	return &Queue{tasks: make(chan Job, size), logger: logger}
}

// Start launches the worker. It drains the queue after Close, or stops
// early when ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case job, ok := <-q.tasks:
				if !ok {
					return
				}
				q.run(ctx, job)
			}
		}
	}()
}

func (q *Queue) run(ctx context.Context, job Job) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			q.logger.Error("job panicked", "job", job.Name, "panic", fmt.Sprint(p))
		}
	}()
	if err := job.Run(ctx); err != nil {
		q.logger.Warn("job failed", "job", job.Name, "error", err)
		return
	}
	q.logger.Debug("job done", "job", job.Name, "took", time.Since(start))
}

// Enqueue submits job without blocking.
func (q *Queue) Enqueue(job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.tasks <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Every enqueues job on each tick of interval until ctx is done. A tick
// that finds the queue full is skipped.
func (q *Queue) Every(ctx context.Context, interval time.Duration, job Job) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := q.Enqueue(job); err != nil {
					q.logger.Warn("recurring job skipped", "job", job.Name, "error", err)
					if errors.Is(err, ErrClosed) {
						return
					}
				}
			}
		}
	}()
}

// Close stops accepting jobs and waits for queued ones to finish. Recurring
// schedules must be stopped through their context first.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
