package pipeline

import (
	"sync"

	"github.com/blackmichael/bluesky-modlists/internal/domain"
)

// Queue is an unbounded concurrent FIFO. Pop blocks until an item arrives or
// the queue is closed; TryPop never blocks. Unboundedness is policed by the
// supervisor's compaction pass, not by the queue itself.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
}

// NewQueue creates an empty open queue.
func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an item. Pushing to a closed queue is a no-op.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, item)
	q.cond.Signal()
}

// Pop removes and returns the oldest item, blocking until one is available.
// It returns false once the queue is closed and drained.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// TryPop removes and returns the oldest item without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Len returns the current depth.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes and returns every queued item in order.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// Close marks the queue closed and wakes every blocked Pop. Remaining items
// may still be popped; Clear discards them.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Clear discards all queued items.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

// Queues bundles the three pipeline work queues. Schedule and Query carry
// DIDs; Listadd carries full profiles so the reconciler never re-reads the
// cache.
type Queues struct {
	Schedule *Queue[string]
	Query    *Queue[string]
	Listadd  *Queue[*domain.Profile]
}

// NewQueues creates the three empty queues.
func NewQueues() *Queues {
	return &Queues{
		Schedule: NewQueue[string](),
		Query:    NewQueue[string](),
		Listadd:  NewQueue[*domain.Profile](),
	}
}

// CloseAll closes the three queues, waking every blocked worker.
func (qs *Queues) CloseAll() {
	qs.Schedule.Close()
	qs.Query.Close()
	qs.Listadd.Close()
}

// ClearAll discards every queued item.
func (qs *Queues) ClearAll() {
	qs.Schedule.Clear()
	qs.Query.Clear()
	qs.Listadd.Clear()
}
