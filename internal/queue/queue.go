// Package queue implements the inference request queue: a bounded priority
// queue ordered by (priority descending, enqueue time ascending), with
// cooperative cancellation and a fixed worker pool to drain it.
package queue

import (
	"container/heap"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MythologIQ/hearthlink-core/internal/protocol"
)

// ErrQueueFull is returned by [Queue.Enqueue] when the queue is already at
// its configured maximum depth.
var ErrQueueFull = errors.New("queue: at maximum depth")

// ErrNotFound is returned by [Queue.Cancel] when id does not name a request
// currently waiting in the queue (it may have already been dequeued or
// never existed).
var ErrNotFound = errors.New("queue: request not found")

// Request is one inference request waiting to be dispatched to a worker.
// Params is opaque to the queue itself; it is threaded through to whichever
// component ultimately services the request.
type Request struct {
	ID          string
	ModelID     string
	Prompt      string
	Params      protocol.InferenceParams
	Priority    int
	EnqueueTime time.Time
	Deadline    time.Time // zero value means no deadline

	cancelled atomic.Bool
	index     int // maintained by container/heap; unused outside heap.go
}

// Cancelled reports whether this request has been cancelled. Workers should
// check this after dequeuing and before doing any expensive work.
func (r *Request) Cancelled() bool { return r.cancelled.Load() }

// HasDeadline reports whether the request carries a deadline.
func (r *Request) HasDeadline() bool { return !r.Deadline.IsZero() }

// Expired reports whether the request's deadline has passed as of now.
func (r *Request) Expired(now time.Time) bool {
	return r.HasDeadline() && now.After(r.Deadline)
}

// Queue is a bounded, priority-ordered request queue. It is safe for
// concurrent use by multiple producers and multiple consumers.
type Queue struct {
	maxDepth int

	mu       sync.Mutex
	heap     requestHeap
	byID     map[string]*Request
	notEmpty chan struct{}
}

// New creates a [Queue] bounded at maxDepth entries. A non-positive maxDepth
// means unbounded.
func New(maxDepth int) *Queue {
	q := &Queue{
		maxDepth: maxDepth,
		byID:     make(map[string]*Request),
		notEmpty: make(chan struct{}, 1),
	}
	heap.Init(&q.heap)
	return q
}

// Enqueue adds req to the queue. It returns [ErrQueueFull] if the queue is
// already at its configured maximum depth.
func (q *Queue) Enqueue(req *Request) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxDepth > 0 && len(q.heap) >= q.maxDepth {
		return ErrQueueFull
	}
	if req.EnqueueTime.IsZero() {
		req.EnqueueTime = time.Now()
	}
	heap.Push(&q.heap, req)
	q.byID[req.ID] = req
	q.signal()
	return nil
}

// Cancel flags the request named by id as cancelled and removes it from the
// queue immediately. Returns [ErrNotFound] if no such request is waiting.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	req, ok := q.byID[id]
	if !ok {
		return ErrNotFound
	}
	req.cancelled.Store(true)
	heap.Remove(&q.heap, req.index)
	delete(q.byID, id)
	return nil
}

// DequeueReady removes and returns the highest-priority, earliest-enqueued
// request that is neither cancelled nor expired as of now. Already-settled
// entries encountered along the way are popped off the heap too, and
// returned in discarded so the caller can still resolve them to a terminal
// response instead of leaving them silently dropped. Returns nil, false for
// the ready slot if the queue has no ready request; discarded may be
// non-empty even then.
func (q *Queue) DequeueReady(now time.Time) (ready *Request, discarded []*Request, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.heap) > 0 {
		req := heap.Pop(&q.heap).(*Request)
		delete(q.byID, req.ID)
		if req.Cancelled() || req.Expired(now) {
			discarded = append(discarded, req)
			continue
		}
		return req, discarded, true
	}
	return nil, discarded, false
}

// Len returns the number of requests currently waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Snapshot returns a copy of every request currently waiting, in no
// particular order. Intended for health/diagnostic reporting, not for the
// dispatch hot path.
func (q *Queue) Snapshot() []*Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Request, len(q.heap))
	copy(out, q.heap)
	return out
}

// signal is called with q.mu held; it notifies one blocked waiter (see
// [Queue.WaitNotEmpty]) that the queue transitioned from possibly-empty to
// non-empty, without blocking the caller.
func (q *Queue) signal() {
	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
}

// WaitNotEmpty returns a channel that receives a value whenever the queue
// may have become non-empty. It is a hint, not a guarantee: callers must
// still call [Queue.DequeueReady] and handle the empty case, since another
// consumer may have already drained the queue.
func (q *Queue) WaitNotEmpty() <-chan struct{} {
	return q.notEmpty
}
