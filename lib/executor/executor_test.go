package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failureRecorder collects everything passed to the failure handler
type failureRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (r *failureRecorder) handle(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *failureRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func newTestExecutor(t *testing.T) (*Executor, *failureRecorder) {
	t.Helper()
	rec := &failureRecorder{}
	e := New(&Config{
		MinWorkers:       1,
		IdleTimeout:      50 * time.Millisecond,
		ScheduledWorkers: 2,
		FailureHandler:   rec.handle,
	})
	t.Cleanup(func() {
		e.ShutdownNow()
		e.AwaitTermination(time.Second)
	})
	return e, rec
}

// --------------------------------------------------------------------------
// One-shot pool
// --------------------------------------------------------------------------

func TestSubmitRunsTask(t *testing.T) {
	e, _ := newTestExecutor(t)

	var ran atomic.Bool
	f, err := e.Submit(func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, f.Wait())
	assert.True(t, ran.Load())
	assert.True(t, f.IsDone())
	assert.False(t, f.IsCancelled())
}

func TestSubmitGrowsBeyondMinimum(t *testing.T) {
	e, _ := newTestExecutor(t)

	const n = 8
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(n)

	futures := make([]*Future, 0, n)
	for i := 0; i < n; i++ {
		f, err := e.Submit(func(ctx context.Context) error {
			started.Done()
			<-release
			return nil
		})
		require.NoError(t, err)
		futures = append(futures, f)
	}

	// all tasks run concurrently, nothing is buffered behind the warm worker
	started.Wait()
	assert.GreaterOrEqual(t, e.OneShot().Workers(), n)

	close(release)
	for _, f := range futures {
		require.NoError(t, f.Wait())
	}
}

func TestIdleWorkersAreReaped(t *testing.T) {
	e, _ := newTestExecutor(t)

	release := make(chan struct{})
	for i := 0; i < 4; i++ {
		_, err := e.Submit(func(ctx context.Context) error {
			<-release
			return nil
		})
		require.NoError(t, err)
	}
	close(release)

	assert.Eventually(t, func() bool {
		return e.OneShot().Workers() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFailureHandlerReceivesErrorsAndPanics(t *testing.T) {
	e, rec := newTestExecutor(t)

	boom := errors.New("boom")
	f1, err := e.Submit(func(ctx context.Context) error { return boom })
	require.NoError(t, err)
	assert.ErrorIs(t, f1.Wait(), boom)

	f2, err := e.Submit(func(ctx context.Context) error { panic("kaputt") })
	require.NoError(t, err)
	err = f2.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaputt")

	f3, err := e.Submit(func(ctx context.Context) error { return context.Canceled })
	require.NoError(t, err)
	assert.ErrorIs(t, f3.Wait(), context.Canceled)

	assert.Equal(t, 2, rec.count(), "cancellations must not be reported")
}

func TestSubmitAfterShutdownIsRejected(t *testing.T) {
	e, _ := newTestExecutor(t)

	assert.False(t, e.IsStopping())
	e.Shutdown()
	assert.True(t, e.IsStopping())

	_, err := e.Submit(func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrRejected)

	_, err = e.Schedule(time.Millisecond, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrRejected)

	assert.True(t, e.AwaitTermination(time.Second))
}

func TestShutdownNowCancelsRunningTasks(t *testing.T) {
	e, _ := newTestExecutor(t)

	started := make(chan struct{})
	f, err := e.Submit(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	<-started

	e.ShutdownNow()

	done, err := f.WaitTimeout(time.Second)
	require.True(t, done)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, e.AwaitTermination(time.Second))
}

// --------------------------------------------------------------------------
// Scheduled pool
// --------------------------------------------------------------------------

func TestScheduleRunsAfterDelay(t *testing.T) {
	e, _ := newTestExecutor(t)

	start := time.Now()
	var ranAt time.Time
	f, err := e.Schedule(30*time.Millisecond, func(ctx context.Context) error {
		ranAt = time.Now()
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, f.Wait())
	assert.GreaterOrEqual(t, ranAt.Sub(start), 30*time.Millisecond)
}

func TestScheduleRunsInDueOrder(t *testing.T) {
	e, _ := newTestExecutor(t)

	var mu sync.Mutex
	var order []int
	record := func(i int) Task {
		return func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, i)
			return nil
		}
	}

	f3, err := e.Schedule(60*time.Millisecond, record(3))
	require.NoError(t, err)
	f1, err := e.Schedule(10*time.Millisecond, record(1))
	require.NoError(t, err)
	f2, err := e.Schedule(35*time.Millisecond, record(2))
	require.NoError(t, err)

	require.NoError(t, f1.Wait())
	require.NoError(t, f2.Wait())
	require.NoError(t, f3.Wait())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestCancelRemovesPendingTask(t *testing.T) {
	e, _ := newTestExecutor(t)

	var ran atomic.Bool
	f, err := e.Schedule(time.Hour, func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, e.Scheduled().Pending())

	assert.True(t, f.Cancel())
	assert.True(t, f.IsCancelled())
	assert.Equal(t, 0, e.Scheduled().Pending(), "cancelled task must leave the delay queue")
	assert.ErrorIs(t, f.Wait(), ErrCancelled)
	assert.False(t, ran.Load())

	// a second cancel is a no-op
	assert.False(t, f.Cancel())
}

func TestCancelRunningOneShotFails(t *testing.T) {
	e, _ := newTestExecutor(t)

	started := make(chan struct{})
	release := make(chan struct{})
	f, err := e.Schedule(0, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	require.NoError(t, err)
	<-started

	assert.False(t, f.Cancel())
	close(release)
	assert.NoError(t, f.Wait())
}

func TestScheduleWithFixedDelay(t *testing.T) {
	e, _ := newTestExecutor(t)

	var runs atomic.Int32
	f, err := e.ScheduleWithFixedDelay(0, 5*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)

	assert.True(t, f.Cancel())
	assert.ErrorIs(t, f.Wait(), ErrCancelled)

	stopped := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, runs.Load(), stopped+1)
}

func TestFixedDelayStopsOnError(t *testing.T) {
	e, rec := newTestExecutor(t)

	var runs atomic.Int32
	boom := errors.New("boom")
	f, err := e.ScheduleWithFixedDelay(0, time.Millisecond, func(ctx context.Context) error {
		if runs.Add(1) == 2 {
			return boom
		}
		return nil
	})
	require.NoError(t, err)

	assert.ErrorIs(t, f.Wait(), boom)
	assert.Equal(t, int32(2), runs.Load())
	assert.Equal(t, 1, rec.count())
}

func TestGracefulShutdownRunsQueuedDelayedTasks(t *testing.T) {
	e, _ := newTestExecutor(t)

	var ran atomic.Bool
	f, err := e.Schedule(20*time.Millisecond, func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, err)

	e.Shutdown()

	require.NoError(t, f.Wait())
	assert.True(t, ran.Load())
	assert.True(t, e.AwaitTermination(time.Second))
}

func TestCancelAfterShutdownTerminatesPool(t *testing.T) {
	e, _ := newTestExecutor(t)

	f, err := e.Schedule(time.Hour, func(ctx context.Context) error { return nil })
	require.NoError(t, err)

	e.Shutdown()
	// the dispatcher is asleep until the task is due
	assert.False(t, e.Scheduled().AwaitTermination(20*time.Millisecond))

	require.True(t, f.Cancel())
	assert.Equal(t, 0, e.Scheduled().Pending())
	assert.True(t, e.AwaitTermination(time.Second), "an empty stopping pool must not wait for a cancelled due time")
}

func TestShutdownNowReturnsUnstartedTasks(t *testing.T) {
	e, _ := newTestExecutor(t)

	f1, err := e.Schedule(time.Hour, func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	f2, err := e.Schedule(time.Hour, func(ctx context.Context) error { return nil })
	require.NoError(t, err)

	tasks := e.ShutdownNow()
	assert.Len(t, tasks, 2)
	assert.True(t, f1.IsCancelled())
	assert.True(t, f2.IsCancelled())
	assert.True(t, e.AwaitTermination(time.Second))
}

func TestAwaitTerminationTimesOut(t *testing.T) {
	e, _ := newTestExecutor(t)

	release := make(chan struct{})
	defer close(release)
	_, err := e.Submit(func(ctx context.Context) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	e.Shutdown()
	assert.False(t, e.AwaitTermination(20*time.Millisecond))
}

func TestDefaultIsShared(t *testing.T) {
	prev := Default()
	assert.Same(t, prev, Default())

	e := New(nil)
	defer e.ShutdownNow()

	SetDefault(e)
	defer SetDefault(prev)
	assert.Same(t, e, Default())
}
