// Package util
//
// This file provides the keyed min-heap used as the delay queue of the
// scheduled worker pool. Entries are task ids prioritized by their due time.
//
//   - O(log n) AddItem, PopMin and RemoveByKey
//   - O(1) Peek and Len
//
// RemoveByKey is what sets it apart from a plain container/heap: a cancelled
// task leaves the queue at once instead of lingering until its due time.
//
// Concurrency Considerations:
//   - This implementation is not thread-safe, the owner synchronizes access
//
// Example usage:
//
//	delays := NewMapHeap()
//	delays.AddItem(1001, dueAt1)
//	delays.AddItem(1002, dueAt2)
//	delays.RemoveByKey(1001) // cancelled
//	next, ok := delays.PopMin()
package util

import (
	"container/heap"
	"strconv"
)

// Item is an entry of a MapHeap
type Item struct {
	Key      uint64 // Unique identifier of the entry
	Priority uint64 // Ordering value, lowest first. Equal priorities pop in key order.
	index    int
}

func (i *Item) String() string {
	return "{Key: " + strconv.FormatUint(i.Key, 10) + ", Priority: " + strconv.FormatUint(i.Priority, 10) + "}"
}

// entries is the heap.Interface backing a MapHeap. It keeps every item's
// index current so items can be fixed or removed by position.
type entries []*Item

func (e entries) Len() int { return len(e) }

func (e entries) Less(i, j int) bool {
	if e[i].Priority != e[j].Priority {
		return e[i].Priority < e[j].Priority
	}
	return e[i].Key < e[j].Key
}

func (e entries) Swap(i, j int) {
	e[i], e[j] = e[j], e[i]
	e[i].index = i
	e[j].index = j
}

func (e *entries) Push(x any) {
	it := x.(*Item)
	it.index = len(*e)
	*e = append(*e, it)
}

func (e *entries) Pop() any {
	old := *e
	last := len(old) - 1
	it := old[last]
	old[last] = nil
	it.index = -1
	*e = old[:last]
	return it
}

// MapHeap is a min-heap with removal by key
type MapHeap struct {
	heap  entries
	byKey map[uint64]*Item
}

// NewMapHeap creates a new, empty heap
func NewMapHeap() *MapHeap {
	return &MapHeap{byKey: make(map[uint64]*Item)}
}

// Len returns the number of entries
func (mh *MapHeap) Len() int { return len(mh.heap) }

// AddItem adds key with the given priority, or moves an existing key to it
func (mh *MapHeap) AddItem(key, priority uint64) {
	if it, ok := mh.byKey[key]; ok {
		it.Priority = priority
		heap.Fix(&mh.heap, it.index)
		return
	}

	it := &Item{Key: key, Priority: priority}
	mh.byKey[key] = it
	heap.Push(&mh.heap, it)
}

// RemoveByKey removes key and returns its priority
func (mh *MapHeap) RemoveByKey(key uint64) (uint64, bool) {
	it, ok := mh.byKey[key]
	if !ok {
		return 0, false
	}

	delete(mh.byKey, key)
	heap.Remove(&mh.heap, it.index)
	return it.Priority, true
}

// Peek returns the entry with the lowest priority without removing it
func (mh *MapHeap) Peek() (*Item, bool) {
	if len(mh.heap) == 0 {
		return nil, false
	}
	return mh.heap[0], true
}

// PopMin removes and returns the entry with the lowest priority
func (mh *MapHeap) PopMin() (*Item, bool) {
	if len(mh.heap) == 0 {
		return nil, false
	}

	it := heap.Pop(&mh.heap).(*Item)
	delete(mh.byKey, it.Key)
	return it, true
}
