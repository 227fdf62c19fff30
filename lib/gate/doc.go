// Package gate provides a tiny synchronization primitive: a shared "pending"
// flag protected by a mutex and a condition variable.
//
// The persist package raises the gate when the first operation is queued after
// an idle period and clears it once the matching flush cycle has completed,
// successfully or not. Callers that need to know that their mutation reached
// the disk block on the gate instead of polling.
//
// Usage Example:
//
//	g := gate.New()
//	g.SetAwaiting(true)
//
//	go func() {
//	    // ... do the work
//	    g.SetAwaiting(false)
//	}()
//
//	g.Await() // returns once the work is done
//
// Thread Safety:
//
//	All methods are safe for concurrent use. Any number of goroutines may wait
//	concurrently; clearing the flag wakes all of them.
package gate
