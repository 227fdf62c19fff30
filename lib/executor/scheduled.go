package executor

import (
	"context"
	"sync"
	"time"

	"github.com/ValentinKolb/dSnap/lib/util"
)

// --------------------------------------------------------------------------
// Scheduled pool
// --------------------------------------------------------------------------

// ScheduledPool runs delayed and periodic tasks on a fixed number of workers.
//
// Pending tasks live in a keyed min-heap ordered by due time, so a cancelled
// task leaves the queue at once instead of waiting for its due time. A single
// dispatcher goroutine pops due tasks and hands them to the workers.
//
// Thread-safety: All methods are thread-safe.
type ScheduledPool struct {
	size   int
	report func(error)
	epoch  time.Time

	mu     sync.Mutex
	state  poolState
	nextID uint64
	delays *util.MapHeap
	tasks  map[uint64]*Future

	wake    chan struct{}
	quit    chan struct{}
	quitNow chan struct{}
	ready   chan *Future

	wg         sync.WaitGroup
	terminated chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	metrics poolMetrics
}

func newScheduledPool(size int, report func(error)) *ScheduledPool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &ScheduledPool{
		size:       size,
		report:     report,
		epoch:      time.Now(),
		delays:     util.NewMapHeap(),
		tasks:      make(map[uint64]*Future),
		wake:       make(chan struct{}, 1),
		quit:       make(chan struct{}),
		quitNow:    make(chan struct{}),
		ready:      make(chan *Future),
		terminated: make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		metrics:    newPoolMetrics("scheduled"),
	}

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		p.metrics.workers.Inc()
		go p.worker()
	}
	go p.dispatch()

	go func() {
		p.wg.Wait()
		close(p.terminated)
	}()

	return p
}

// Schedule runs the task once after delay.
// Returns ErrRejected once the pool is shutting down.
func (p *ScheduledPool) Schedule(delay time.Duration, task Task) (*Future, error) {
	return p.schedule(delay, 0, false, task)
}

// ScheduleWithFixedDelay runs the task after initialDelay and then again
// delay after each run completed. The repetition ends when the task returns an
// error, the future is cancelled or the pool shuts down.
func (p *ScheduledPool) ScheduleWithFixedDelay(initialDelay, delay time.Duration, task Task) (*Future, error) {
	return p.schedule(initialDelay, delay, true, task)
}

func (p *ScheduledPool) schedule(delay, period time.Duration, periodic bool, task Task) (*Future, error) {
	if delay < 0 {
		delay = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != poolRunning {
		p.metrics.rejected.Inc()
		return nil, ErrRejected
	}

	p.nextID++
	f := newFuture(p.nextID, task)
	f.periodic = periodic
	f.period = period
	f.onCancel = func() { p.remove(f.id) }

	p.enqueueLocked(f, delay)
	p.metrics.submitted.Inc()
	return f, nil
}

// Pending returns the number of tasks waiting in the delay queue
func (p *ScheduledPool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delays.Len()
}

// IsStopping reports whether Shutdown or ShutdownNow was called
func (p *ScheduledPool) IsStopping() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state != poolRunning
}

// Shutdown stops accepting tasks. Delayed tasks that are already queued still
// run when they are due, periodic tasks are not re-armed.
func (p *ScheduledPool) Shutdown() {
	p.mu.Lock()
	if p.state != poolRunning {
		p.mu.Unlock()
		return
	}
	p.state = poolShutdown
	close(p.quit)

	var periodic []*Future
	for _, f := range p.tasks {
		if f.periodic {
			periodic = append(periodic, f)
		}
	}
	p.mu.Unlock()

	for _, f := range periodic {
		f.Cancel()
	}
}

// ShutdownNow stops the pool, cancels the context of running tasks and returns
// the tasks that never started. Their futures complete with ErrCancelled.
func (p *ScheduledPool) ShutdownNow() []Task {
	p.mu.Lock()
	if p.state == poolStopped {
		p.mu.Unlock()
		return nil
	}
	if p.state == poolRunning {
		close(p.quit)
	}
	p.state = poolStopped
	close(p.quitNow)

	var unstarted []*Future
	for {
		it, ok := p.delays.PopMin()
		if !ok {
			break
		}
		unstarted = append(unstarted, p.tasks[it.Key])
		delete(p.tasks, it.Key)
	}
	p.mu.Unlock()

	p.cancel()

	tasks := make([]Task, 0, len(unstarted))
	for _, f := range unstarted {
		f.mu.Lock()
		f.completeLocked(stateCancelled, ErrCancelled)
		f.mu.Unlock()
		tasks = append(tasks, f.task)
	}
	return tasks
}

// AwaitTermination waits until the dispatcher and all workers exited after a shutdown
func (p *ScheduledPool) AwaitTermination(timeout time.Duration) bool {
	return awaitClosed(p.terminated, timeout)
}

// now returns the monotonic time since the pool was created, used as heap priority
func (p *ScheduledPool) now() uint64 {
	return uint64(time.Since(p.epoch))
}

// enqueueLocked adds f to the delay queue. p.mu must be held.
func (p *ScheduledPool) enqueueLocked(f *Future, delay time.Duration) {
	p.tasks[f.id] = f
	p.delays.AddItem(f.id, p.now()+uint64(delay))
	p.signalLocked()
}

// signalLocked wakes the dispatcher so it re-reads the head of the delay queue
func (p *ScheduledPool) signalLocked() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// remove drops a cancelled task from the delay queue and wakes the
// dispatcher, which may be sleeping until the task's due time
func (p *ScheduledPool) remove(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.tasks, id)
	if _, ok := p.delays.RemoveByKey(id); !ok {
		return
	}
	p.signalLocked()
}

func (p *ScheduledPool) dispatch() {
	defer close(p.ready)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	quit := p.quit
	for {
		p.mu.Lock()
		if p.state == poolStopped {
			p.mu.Unlock()
			return
		}

		next, ok := p.delays.Peek()
		if !ok {
			stopping := p.state != poolRunning
			p.mu.Unlock()
			if stopping {
				return
			}
			select {
			case <-p.wake:
			case <-quit:
				quit = nil
			case <-p.quitNow:
			}
			continue
		}

		if now := p.now(); next.Priority > now {
			p.mu.Unlock()
			timer.Reset(time.Duration(next.Priority - now))
			select {
			case <-timer.C:
			case <-p.wake:
			case <-quit:
				quit = nil
			case <-p.quitNow:
			}
			continue
		}

		p.delays.PopMin()
		f := p.tasks[next.Key]
		delete(p.tasks, next.Key)
		p.mu.Unlock()

		select {
		case p.ready <- f:
		case <-p.quitNow:
			f.mu.Lock()
			f.completeLocked(stateCancelled, ErrCancelled)
			f.mu.Unlock()
			return
		}
	}
}

func (p *ScheduledPool) worker() {
	defer func() {
		p.metrics.workers.Dec()
		p.wg.Done()
	}()

	for f := range p.ready {
		rearm := f.execute(p.ctx, func(err error) {
			p.metrics.failed.Inc()
			p.report(err)
		})
		if rearm {
			p.rearm(f)
		}
	}
}

// rearm queues a periodic task again, or ends it if the pool is stopping
func (p *ScheduledPool) rearm(f *Future) {
	p.mu.Lock()
	if p.state == poolRunning && !f.IsCancelled() {
		p.enqueueLocked(f, f.period)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	f.mu.Lock()
	f.completeLocked(stateCancelled, ErrCancelled)
	f.mu.Unlock()
}
