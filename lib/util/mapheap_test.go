package util

import (
	"sort"
	"testing"
)

// TestNewMapHeap tests the creation of a new MapHeap
func TestNewMapHeap(t *testing.T) {
	mh := NewMapHeap()

	if mh == nil {
		t.Fatal("NewMapHeap() returned nil")
	}

	if mh.Len() != 0 {
		t.Errorf("New heap should be empty, but has length %d", mh.Len())
	}

	if _, ok := mh.PopMin(); ok {
		t.Error("PopMin on a new heap should return ok=false")
	}
}

// TestAddAndReschedule tests adding items and moving their due time
func TestAddAndReschedule(t *testing.T) {
	mh := NewMapHeap()

	mh.AddItem(1, 100)
	mh.AddItem(2, 200)
	mh.AddItem(3, 50)

	if mh.Len() != 3 {
		t.Errorf("Heap should have 3 items, but has %d", mh.Len())
	}

	next, exists := mh.Peek()
	if !exists {
		t.Fatal("Peek() should return an item")
	}
	if next.Key != 3 || next.Priority != 50 {
		t.Errorf("Expected next item to be (3,50), got (%d,%d)", next.Key, next.Priority)
	}

	// push task 3 behind the others
	mh.AddItem(3, 300)

	next, _ = mh.Peek()
	if next.Key != 1 {
		t.Errorf("Next item should now be key 1, got %d", next.Key)
	}

	priority, exists := mh.RemoveByKey(3)
	if !exists || priority != 300 {
		t.Errorf("Key 3 should have priority 300, got %d", priority)
	}
	if mh.Len() != 2 {
		t.Errorf("Rescheduling must not duplicate the key, heap has %d items", mh.Len())
	}
}

// TestRemoveByKey tests that a cancelled task leaves the heap immediately
func TestRemoveByKey(t *testing.T) {
	mh := NewMapHeap()

	mh.AddItem(1, 100)
	mh.AddItem(2, 200)
	mh.AddItem(3, 300)

	priority, exists := mh.RemoveByKey(2)
	if !exists {
		t.Fatal("RemoveByKey should return true for existing key")
	}
	if priority != 200 {
		t.Errorf("RemoveByKey should return priority 200, got %d", priority)
	}

	if mh.Len() != 2 {
		t.Errorf("Heap should have 2 items after removal, has %d", mh.Len())
	}
	if _, exists = mh.RemoveByKey(2); exists {
		t.Error("Key 2 should be gone after removal")
	}

	if _, exists = mh.RemoveByKey(99); exists {
		t.Error("RemoveByKey should return false for non-existent key")
	}
}

// TestPopOrder tests if items are popped in due order
func TestPopOrder(t *testing.T) {
	mh := NewMapHeap()

	items := []struct {
		key      uint64
		priority uint64
	}{
		{5, 50},
		{3, 30},
		{1, 10},
		{4, 40},
		{2, 20},
	}

	for _, it := range items {
		mh.AddItem(it.key, it.priority)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].priority < items[j].priority
	})

	for i, expected := range items {
		it, ok := mh.PopMin()
		if !ok {
			t.Fatalf("Heap empty after %d items, expected %d items", i, len(items))
		}
		if it.Key != expected.key || it.Priority != expected.priority {
			t.Errorf("Pop %d: expected (%d,%d), got (%d,%d)",
				i, expected.key, expected.priority, it.Key, it.Priority)
		}
	}

	if mh.Len() != 0 {
		t.Errorf("Heap should be empty after popping all items, has %d items", mh.Len())
	}
}

// TestEqualPriorityKeepsKeyOrder tests that tasks due at the same instant run in submission order
func TestEqualPriorityKeepsKeyOrder(t *testing.T) {
	mh := NewMapHeap()

	for key := uint64(10); key > 0; key-- {
		mh.AddItem(key, 1000)
	}

	for want := uint64(1); want <= 10; want++ {
		it, _ := mh.PopMin()
		if it.Key != want {
			t.Fatalf("Expected key %d, got %d", want, it.Key)
		}
	}
}

// TestLargeNumberOfItems tests the heap with many items and interleaved removals
func TestLargeNumberOfItems(t *testing.T) {
	mh := NewMapHeap()

	const count = 10000
	for i := uint64(0); i < count; i++ {
		mh.AddItem(i, (i*7919)%count)
	}

	// remove every even key
	for i := uint64(0); i < count; i += 2 {
		mh.RemoveByKey(i)
	}

	if mh.Len() != count/2 {
		t.Fatalf("Expected %d items, got %d", count/2, mh.Len())
	}

	var last uint64
	for mh.Len() > 0 {
		it, _ := mh.PopMin()
		if it.Priority < last {
			t.Fatalf("Heap order violated: %d after %d", it.Priority, last)
		}
		if it.Key%2 == 0 {
			t.Fatalf("Removed key %d popped", it.Key)
		}
		last = it.Priority
	}
}
