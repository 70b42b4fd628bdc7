// Package translate implements TranslationWorker and TranslationQueue: a
// priority queue by segment arrival order, batched same-provider requests,
// and generation-tagged cancellation, per spec §4.8.
package translate

import (
	"sync"
	"time"
)

// Request is one queued translation: order is the segment's index in
// SegmentIndex at enqueue time, so the queue dequeues in transcript-arrival
// order even across providers.
type Request struct {
	Name       string
	Provider   string
	Order      int
	Generation uint64
}

// Queue is ordered by Order ascending; a pending set enforces uniqueness by
// name, and a condition variable signals non-empty to the worker.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []Request
	pending map[string]struct{}
	closed  bool
}

func NewQueue() *Queue {
	q := &Queue{pending: make(map[string]struct{})}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue inserts req in Order position, skipping it if name is already
// pending (dedup by name). Returns false if the name was already queued.
func (q *Queue) Enqueue(req Request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.pending[req.Name]; exists {
		return false
	}
	q.pending[req.Name] = struct{}{}

	i := 0
	for i < len(q.items) && q.items[i].Order <= req.Order {
		i++
	}
	q.items = append(q.items, Request{})
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = req

	q.cond.Signal()
	return true
}

func (q *Queue) popLocked() Request {
	item := q.items[0]
	q.items = q.items[1:]
	delete(q.pending, item.Name)
	return item
}

// DrainBatch blocks until at least one live (matching currentGeneration)
// request is queued, then greedily batches up to maxBatch requests
// (default 1 = no batching), polling every 10ms for more to arrive while
// under the cap. Returns nil if the queue was closed while waiting.
func (q *Queue) DrainBatch(maxBatch int, currentGeneration func() uint64) []Request {
	if maxBatch <= 0 {
		maxBatch = 1
	}

	first, ok := q.blockForFirst(currentGeneration)
	if !ok {
		return nil
	}
	batch := []Request{first}
	gen := first.Generation

	// Bound the fill-wait: poll for up to ~50ms of total idle time for more
	// same-generation arrivals before sending what's collected so far. A
	// segment_batch_size of 1 (the default) never reaches this loop.
	const maxIdlePolls = 5
	idle := 0
	for len(batch) < maxBatch {
		item, got := q.tryPop(gen)
		if got {
			idle = 0
			batch = append(batch, item)
			continue
		}
		if !q.hasMoreComing() || idle >= maxIdlePolls {
			break
		}
		idle++
		time.Sleep(10 * time.Millisecond)
	}
	return batch
}

// blockForFirst waits for the queue to become non-empty, discarding any
// stale-generation head items, and returns the first live request.
func (q *Queue) blockForFirst(currentGeneration func() uint64) (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		for len(q.items) > 0 && q.items[0].Generation != currentGeneration() {
			q.popLocked()
		}
		if len(q.items) > 0 {
			return q.popLocked(), true
		}
		if q.closed {
			return Request{}, false
		}
		q.cond.Wait()
	}
}

func (q *Queue) tryPop(gen uint64) (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) > 0 && q.items[0].Generation != gen {
		q.popLocked()
	}
	if len(q.items) == 0 {
		return Request{}, false
	}
	return q.popLocked(), true
}

// hasMoreComing is a cheap liveness check: if the queue was closed, stop
// polling for more batch members.
func (q *Queue) hasMoreComing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.closed
}

// Clear empties the queue, used by clear_task_queues on generation bump.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.pending = make(map[string]struct{})
}

// Close unblocks any waiter in DrainBatch without enqueuing a Request,
// used on worker shutdown.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
