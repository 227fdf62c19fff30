package executor

import (
	"context"
	"sync"
	"time"
)

type poolState int

const (
	poolRunning poolState = iota
	poolShutdown
	poolStopped
)

// --------------------------------------------------------------------------
// One-shot pool
// --------------------------------------------------------------------------

// OneShotPool runs submitted tasks immediately.
//
// The pool keeps MinWorkers goroutines warm and grows without bound. It never
// buffers: a submitted task is handed to an idle worker, and if no worker is
// idle a new one is spawned. Workers above the minimum exit after being idle
// for IdleTimeout.
//
// Thread-safety: All methods are thread-safe.
type OneShotPool struct {
	minWorkers  int
	idleTimeout time.Duration
	report      func(error)

	// handoff is unbuffered, a send only succeeds if a worker is idle
	handoff chan *Future

	mu         sync.Mutex
	state      poolState
	workers    int
	nextID     uint64
	quit       chan struct{}
	terminated chan struct{}
	closedTerm bool

	ctx    context.Context
	cancel context.CancelFunc

	metrics poolMetrics
}

func newOneShotPool(minWorkers int, idleTimeout time.Duration, report func(error)) *OneShotPool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &OneShotPool{
		minWorkers:  minWorkers,
		idleTimeout: idleTimeout,
		report:      report,
		handoff:     make(chan *Future),
		quit:        make(chan struct{}),
		terminated:  make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		metrics:     newPoolMetrics("oneshot"),
	}

	p.mu.Lock()
	for i := 0; i < minWorkers; i++ {
		p.spawnLocked(nil)
	}
	p.mu.Unlock()

	return p
}

// Submit runs the task on an idle or a new worker.
// Returns ErrRejected once the pool is shutting down.
func (p *OneShotPool) Submit(task Task) (*Future, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != poolRunning {
		p.metrics.rejected.Inc()
		return nil, ErrRejected
	}

	p.nextID++
	f := newFuture(p.nextID, task)
	p.metrics.submitted.Inc()

	select {
	case p.handoff <- f:
	default:
		p.spawnLocked(f)
	}
	return f, nil
}

// Workers returns the number of live workers
func (p *OneShotPool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}

// IsStopping reports whether Shutdown or ShutdownNow was called
func (p *OneShotPool) IsStopping() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state != poolRunning
}

// Shutdown stops accepting tasks. Running tasks complete normally.
func (p *OneShotPool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shutdownLocked(poolShutdown)
}

// ShutdownNow stops accepting tasks and cancels the context of running tasks.
// The pool does not buffer, so there are never unstarted tasks to return.
func (p *OneShotPool) ShutdownNow() []Task {
	p.mu.Lock()
	p.shutdownLocked(poolStopped)
	p.mu.Unlock()

	p.cancel()
	return nil
}

// AwaitTermination waits until all workers exited after a shutdown
func (p *OneShotPool) AwaitTermination(timeout time.Duration) bool {
	return awaitClosed(p.terminated, timeout)
}

func (p *OneShotPool) shutdownLocked(state poolState) {
	if p.state >= state {
		return
	}
	if p.state == poolRunning {
		close(p.quit)
	}
	p.state = state
	p.terminateIfIdleLocked()
}

// spawnLocked starts a worker that runs first (if set) and then waits for handoffs.
// p.mu must be held.
func (p *OneShotPool) spawnLocked(first *Future) {
	p.workers++
	p.metrics.workers.Inc()
	go p.worker(first)
}

// removeWorkerLocked accounts for an exiting worker. p.mu must be held.
func (p *OneShotPool) removeWorkerLocked() {
	p.workers--
	p.metrics.workers.Dec()
	p.terminateIfIdleLocked()
}

func (p *OneShotPool) terminateIfIdleLocked() {
	if p.state != poolRunning && p.workers == 0 && !p.closedTerm {
		p.closedTerm = true
		close(p.terminated)
	}
}

func (p *OneShotPool) worker(first *Future) {
	if first != nil {
		p.run(first)
	}

	idle := time.NewTimer(p.idleTimeout)
	defer idle.Stop()

	for {
		idle.Reset(p.idleTimeout)

		select {
		case f := <-p.handoff:
			p.run(f)

		case <-p.quit:
			p.mu.Lock()
			p.removeWorkerLocked()
			p.mu.Unlock()
			return

		case <-idle.C:
			p.mu.Lock()
			if p.workers > p.minWorkers {
				p.removeWorkerLocked()
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
		}
	}
}

func (p *OneShotPool) run(f *Future) {
	f.execute(p.ctx, func(err error) {
		p.metrics.failed.Inc()
		p.report(err)
	})
}

// awaitClosed waits for ch to be closed, at most for timeout
func awaitClosed(ch <-chan struct{}, timeout time.Duration) bool {
	if timeout <= 0 {
		select {
		case <-ch:
			return true
		default:
			return false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}
