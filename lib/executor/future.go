package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// Task is a unit of work run by one of the pools.
// The context is cancelled when the owning pool is shut down with ShutdownNow.
type Task func(ctx context.Context) error

type futureState int

const (
	statePending futureState = iota
	stateRunning
	stateDone
	stateCancelled
)

func (s futureState) String() string {
	switch s {
	case statePending:
		return "Pending"
	case stateRunning:
		return "Running"
	case stateDone:
		return "Done"
	case stateCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Future is the handle of a submitted or scheduled task.
// It captures the task's error so callers can wait for the result; the same
// error is also reported to the executor's failure handler.
type Future struct {
	id   uint64
	task Task
	done chan struct{}

	mu    sync.Mutex
	state futureState
	err   error

	// periodic tasks are re-armed after every successful run
	periodic   bool
	period     time.Duration
	stopRepeat bool

	// onCancel removes a pending task from its pool (set by the scheduled pool)
	onCancel func()
}

func newFuture(id uint64, task Task) *Future {
	return &Future{
		id:   id,
		task: task,
		done: make(chan struct{}),
	}
}

// ID returns the pool-local id of the task
func (f *Future) ID() uint64 {
	return f.id
}

// Done returns a channel that is closed once the task completed or was cancelled
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task completed and returns its error.
// A cancelled task returns ErrCancelled.
func (f *Future) Wait() error {
	<-f.done
	return f.Err()
}

// WaitTimeout waits at most for the given duration.
// The boolean is false if the task did not complete in time.
func (f *Future) WaitTimeout(timeout time.Duration) (bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.done:
		return true, f.Err()
	case <-timer.C:
		return false, nil
	}
}

// WaitContext waits until the task completed or the context is done
func (f *Future) WaitContext(ctx context.Context) error {
	select {
	case <-f.done:
		return f.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the error of a completed task, nil while it is still pending or running
func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// IsDone reports whether the task completed or was cancelled
func (f *Future) IsDone() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == stateDone || f.state == stateCancelled
}

// IsCancelled reports whether the task was cancelled before it completed
func (f *Future) IsCancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == stateCancelled
}

// Cancel prevents a task that has not started yet from running.
// A pending scheduled task is removed from the delay queue at once.
// For a running periodic task Cancel stops further repetitions.
// A running one-shot task cannot be cancelled, Cancel returns false.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (f *Future) Cancel() bool {
	f.mu.Lock()
	switch f.state {
	case statePending:
		f.completeLocked(stateCancelled, ErrCancelled)
		onCancel := f.onCancel
		f.mu.Unlock()

		if onCancel != nil {
			onCancel()
		}
		return true
	case stateRunning:
		if f.periodic {
			f.stopRepeat = true
			f.mu.Unlock()
			return true
		}
	}
	f.mu.Unlock()
	return false
}

func (f *Future) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fmt.Sprintf("Future{ID: %d, State: %s}", f.id, f.state)
}

// completeLocked finishes the future. f.mu must be held.
func (f *Future) completeLocked(state futureState, err error) {
	if f.state == stateDone || f.state == stateCancelled {
		return
	}
	f.state = state
	f.err = err
	close(f.done)
}

// execute runs the task if it is still pending and reports failures.
// It returns true if a periodic task should be scheduled again.
func (f *Future) execute(ctx context.Context, report func(error)) (rearm bool) {
	f.mu.Lock()
	if f.state != statePending {
		f.mu.Unlock()
		return false
	}
	f.state = stateRunning
	f.mu.Unlock()

	err := runSafely(ctx, f.task)
	if err != nil && !IsCancellation(err) {
		report(err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.periodic && err == nil {
		if f.stopRepeat {
			f.completeLocked(stateCancelled, ErrCancelled)
			return false
		}
		f.state = statePending
		return true
	}

	if IsCancellation(err) {
		f.completeLocked(stateCancelled, err)
		return false
	}
	f.completeLocked(stateDone, err)
	return false
}

// runSafely calls the task and converts a panic into an error
func runSafely(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			panicked.Inc()
			err = errors.WithDetail(
				errors.Newf("task panicked: %v", r),
				string(debug.Stack()),
			)
		}
	}()
	return task(ctx)
}

// IsCancellation reports whether err only signals that a task was cancelled.
// Cancellations are expected and never reported as failures.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}
