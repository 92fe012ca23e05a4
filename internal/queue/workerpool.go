package queue

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Handler services one dequeued request. It should respect ctx cancellation
// for any blocking work it performs.
type Handler func(ctx context.Context, req *Request) error

// Option is a functional option for [NewWorkerPool].
type Option func(*WorkerPool)

// WithPollInterval sets how often idle workers re-check the queue when no
// not-empty signal has arrived. Defaults to 50ms; this is a backstop against
// a missed signal, not the primary wakeup mechanism.
func WithPollInterval(d time.Duration) Option {
	return func(p *WorkerPool) { p.pollInterval = d }
}

// WithDiscardHandler installs a callback invoked once for every request
// [Queue.DequeueReady] pops off the heap already cancelled or past its
// deadline. Without this, such a request is simply dropped: its caller gets
// no response and any bookkeeping keyed on it (e.g. an inflight entry) is
// never cleaned up. If unset, discarded requests are silently ignored,
// matching the pool's pre-existing behavior.
func WithDiscardHandler(fn func(*Request)) Option {
	return func(p *WorkerPool) { p.onDiscard = fn }
}

// WorkerPool drains a [Queue] with a fixed number of concurrent workers,
// run under an errgroup for bounded fan-out.
type WorkerPool struct {
	queue        *Queue
	handler      Handler
	workers      int
	pollInterval time.Duration
	onDiscard    func(*Request)
}

// NewWorkerPool creates a [WorkerPool] with workers concurrent goroutines,
// each pulling ready requests from q and invoking handler. workers is
// clamped to at least 1.
func NewWorkerPool(q *Queue, workers int, handler Handler, opts ...Option) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	p := &WorkerPool{
		queue:        q,
		handler:      handler,
		workers:      workers,
		pollInterval: 50 * time.Millisecond,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run starts all workers and blocks until ctx is cancelled, at which point
// every worker finishes its current request (if any) and returns. Run never
// returns an error from a handler failure — handler errors are logged and
// the worker moves on to the next request, since one failing request must
// not stop the pool from draining the rest of the queue.
func (p *WorkerPool) Run(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		workerID := i
		eg.Go(func() error {
			p.runWorker(egCtx, workerID)
			return nil
		})
	}
	return eg.Wait()
}

func (p *WorkerPool) runWorker(ctx context.Context, workerID int) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.queue.WaitNotEmpty():
		case <-ticker.C:
		}

		for {
			req, discarded, ok := p.queue.DequeueReady(time.Now())
			for _, d := range discarded {
				if p.onDiscard != nil {
					p.onDiscard(d)
				}
			}
			if !ok {
				break
			}
			if err := p.handler(ctx, req); err != nil {
				slog.Error("queue: request handler failed",
					"worker", workerID, "request_id", req.ID, "error", err)
			}
			if ctx.Err() != nil {
				return
			}
		}

		if ctx.Err() != nil {
			return
		}
	}
}
