package async

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/packet-parser/internal/common"
)

// WorkerQueue runs jobs on a fixed pool of goroutines fed by a bounded channel.
type WorkerQueue struct {
	runner  Runner
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	// quit releases enqueuers waiting on a full queue once shutdown begins.
	quit     chan struct{}
	quitOnce sync.Once

	mu     sync.RWMutex
	closed bool
}

type Option func(*WorkerQueue)

func WithWorkers(n int) Option {
	return func(q *WorkerQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *WorkerQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

// WithRunTimeout bounds a single job; the runner applies its own timeout as well.
func WithRunTimeout(d time.Duration) Option {
	return func(q *WorkerQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewWorkerQueue(runner Runner, logger *slog.Logger, opts ...Option) *WorkerQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &WorkerQueue{
		runner:  runner,
		logger:  logger,
		workers: 4,
		timeout: 10 * time.Minute,
		ch:      make(chan Job, 256),
		quit:    make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *WorkerQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)

				for job := range q.ch {
					ctx := context.Background()
					if job.RequestID != "" {
						ctx = common.WithRequestID(ctx, job.RequestID)
					}
					ctx, cancel := context.WithTimeout(ctx, q.timeout)
					err := q.runner.Run(ctx, job.ParseID)
					cancel()

					if err != nil {
						q.logger.Error("run failed", "worker_id", workerID, "parse_id", job.ParseID, "queued_ms", time.Since(job.SubmittedAt).Milliseconds(), "error", err)
					} else {
						q.logger.Info("run finished", "worker_id", workerID, "parse_id", job.ParseID)
					}
				}

				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

// Enqueue adds a run. A full queue applies backpressure until ctx ends or shutdown begins.
// Enqueuers hold only the read lock, so one blocked caller never stalls another.
func (q *WorkerQueue) Enqueue(ctx context.Context, id uuid.UUID) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "parse_id", id)
		return ErrClosed
	}
	job := Job{ParseID: id, SubmittedAt: time.Now(), RequestID: common.RequestIDFromContext(ctx)}
	select {
	case q.ch <- job:
		q.logger.Info("queued parse for processing", "parse_id", id)
		return nil
	default:
	}
	q.logger.Warn("queue full, applying backpressure", "parse_id", id)
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.quit:
		return ErrClosed
	}
}

// Len reports how many jobs are waiting.
func (q *WorkerQueue) Len() int { return len(q.ch) }

func (q *WorkerQueue) Shutdown(ctx context.Context) {
	q.quitOnce.Do(func() { close(q.quit) })
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
