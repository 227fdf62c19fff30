// Package util provides a lock-free Multi-Producer Single-Consumer (MPSC) FIFO queue.
//
// Features and Guarantees:
//
//   - Lock-Free writes: atomic operations for high throughput even under contention
//   - Unbounded Size: the queue can grow to any size as needed, limited only by available memory
//   - Small Footprint: minimal memory overhead per item (one value and one pointer per item)
//   - Thread-Safe writes: Allows any number of goroutines to safely Push() concurrently
//   - Synchronous Single Consumer: the consumer drains the queue in place with Drain(),
//     there is no background goroutine. Exactly one goroutine may drain at a time.
//   - FIFO per linearization: items are drained in the order their Push() completed.
//     If producers are serialized externally (e.g. by a mutex) this is strict insertion order.
package util

import (
	"runtime"
	"sync/atomic"
)

// node represents a single element in the queue
type node[T any] struct {
	value T
	next  atomic.Pointer[node[T]]
}

// Queue is a lock-free multi-producer single-consumer queue.
// Implementation uses a linked list of nodes with a sentinel head;
// producers append at the tail with CAS, the consumer advances the head.
type Queue[T any] struct {
	head atomic.Pointer[node[T]]
	tail atomic.Pointer[node[T]]
	size atomic.Int64
}

// NewQueue creates a new, empty queue
func NewQueue[T any]() *Queue[T] {
	// Create a sentinel node (dummy node at the beginning)
	sentinel := &node[T]{}

	q := &Queue[T]{}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	return q
}

// Push adds an item to the back of the queue.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *Queue[T]) Push(value T) {
	newNode := &node[T]{value: value}

	var backoff uint8 = 0
	for {
		tailNode := q.tail.Load()

		next := tailNode.next.Load()
		if next == nil {
			// the tail has no next node yet, try to append our node
			if tailNode.next.CompareAndSwap(nil, newNode) {
				/*
				 Successfully appended, now try to update tail
				 Note: CAS may fail if another producer helps update tail,
				 but that's okay - tail will still be updated eventually
				*/
				q.tail.CompareAndSwap(tailNode, newNode)
				q.size.Add(1)
				return
			}
		} else {
			// help update the tail pointer if another producer has already appended a node but hasn't updated the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		// exponential backoff: spin at low contention, yield at high contention
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// Drain removes every item currently in the queue and passes them to fn in FIFO order.
// Items pushed concurrently while draining may or may not be included.
// Returns the number of drained items.
//
// If fn returns false, draining stops after that item (the item counts as consumed).
//
// Thread-safety: Only one goroutine may call Drain (or Clear) at a time.
func (q *Queue[T]) Drain(fn func(value T) bool) int {
	count := 0
	for {
		head := q.head.Load()
		next := head.next.Load()
		if next == nil {
			return count
		}

		value := next.value

		// move head pointer, the old sentinel becomes garbage
		q.head.Store(next)
		q.size.Add(-1)

		// help go gc - the new sentinel must not retain the value
		var zero T
		next.value = zero

		count++
		if !fn(value) {
			return count
		}
	}
}

// Clear drops every item currently in the queue.
//
// Thread-safety: Only one goroutine may call Drain (or Clear) at a time.
func (q *Queue[T]) Clear() int {
	return q.Drain(func(T) bool { return true })
}

// Len returns the number of items in the queue.
// Under concurrent pushes the value is a snapshot and may already be stale.
func (q *Queue[T]) Len() int {
	// a producer increments after linking its node, so a concurrent drain can dip below zero
	if n := q.size.Load(); n > 0 {
		return int(n)
	}
	return 0
}

// IsEmpty reports whether the queue currently holds no items.
func (q *Queue[T]) IsEmpty() bool {
	return q.head.Load().next.Load() == nil
}
