package gate

import (
	"context"
	"sync"
	"time"
)

// Gate is a shared boolean "pending" flag with blocking wait semantics.
// Raising the flag never blocks, clearing it wakes every waiter.
// There is no ownership: any goroutine may raise, clear or wait.
type Gate struct {
	mu       sync.Mutex
	cond     *sync.Cond
	awaiting bool

	// closed whenever the flag is cleared, replaced when it is raised again.
	// Lets timed and context-aware waiters select instead of polling.
	cleared chan struct{}
}

// New creates a cleared gate
func New() *Gate {
	g := &Gate{cleared: make(chan struct{})}
	g.cond = sync.NewCond(&g.mu)
	close(g.cleared)
	return g
}

// SetAwaiting raises (true) or clears (false) the flag.
// Clearing wakes all goroutines blocked in one of the Await methods.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (g *Gate) SetAwaiting(awaiting bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.awaiting == awaiting {
		return
	}
	g.awaiting = awaiting

	if awaiting {
		g.cleared = make(chan struct{})
		return
	}
	close(g.cleared)
	g.cond.Broadcast()
}

// IsAwaiting reports whether the flag is currently raised.
func (g *Gate) IsAwaiting() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.awaiting
}

// Await blocks while the flag is raised. Returns immediately if it is clear.
func (g *Gate) Await() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.awaiting {
		g.cond.Wait()
	}
}

// AwaitTimeout blocks while the flag is raised, at most for the given timeout.
// Returns true if the flag was cleared, false if the timeout elapsed first.
func (g *Gate) AwaitTimeout(timeout time.Duration) bool {
	ch := g.clearedChan()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return !g.IsAwaiting()
	}
}

// AwaitContext blocks while the flag is raised or until the context is done.
func (g *Gate) AwaitContext(ctx context.Context) error {
	select {
	case <-g.clearedChan():
		return nil
	case <-ctx.Done():
		if !g.IsAwaiting() {
			return nil
		}
		return ctx.Err()
	}
}

func (g *Gate) clearedChan() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cleared
}
