// Package util provides the low-level data structures of dSnap.
//
// The package contains:
//   - queue: a lock-free Multi-Producer Single-Consumer (MPSC) FIFO queue with a
//     synchronous Drain, used as the operation queue of the persistent store
//   - mapheap: a keyed min-heap, used as the delay queue of the scheduled worker
//     pool so that cancelled tasks can be removed in O(log n)
//
// Both structures are independent of the store and the executor and can be used
// on their own.
package util
