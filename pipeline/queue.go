package pipeline

import (
	"errors"
	"sync"

	"github.com/emirpasic/gods/v2/lists/arraylist"
)

var errQueueClosed = errors.New("pipeline: queue closed")

// queue is a bounded blocking FIFO between two stages. Closing it wakes all
// waiters; items already queued can still be popped.
type queue[T comparable] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	items    *arraylist.List[T]
	capacity int
	closed   bool
	high     int
}

func newQueue[T comparable](capacity int) *queue[T] {
	q := &queue[T]{items: arraylist.New[T](), capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// push blocks while the queue is full.
func (q *queue[T]) push(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Size() >= q.capacity && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return errQueueClosed
	}

	q.items.Add(v)
	q.high = max(q.high, q.items.Size())
	q.notEmpty.Signal()
	return nil
}

// pop blocks while the queue is empty. It reports false once the queue is
// closed and empty.
func (q *queue[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Size() == 0 && !q.closed {
		q.notEmpty.Wait()
	}

	var zero T
	v, ok := q.items.Get(0)
	if !ok {
		return zero, false
	}
	q.items.Remove(0)
	q.notFull.Signal()
	return v, true
}

func (q *queue[T]) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// drain removes and returns everything still queued.
func (q *queue[T]) drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items.Values()
	q.items.Clear()
	q.notFull.Broadcast()
	return out
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Size()
}

// highWater is the largest length the queue has reached.
func (q *queue[T]) highWater() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.high
}
