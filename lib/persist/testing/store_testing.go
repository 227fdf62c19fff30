package testing

import (
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dSnap/lib/executor"
	"github.com/ValentinKolb/dSnap/lib/persist"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreFactory creates a store for set. opts.Fs is always set.
type StoreFactory func(basePath string, exec *executor.Executor, set *StringSet, opts *persist.Options) (*SetStore, error)

// RunStoreTests runs the store test suite against factory, once with plain and
// once with compressed snapshots.
func RunStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		for _, compressed := range []bool{false, true} {
			mode := "Plain"
			if compressed {
				mode = "Compressed"
			}

			t.Run(mode, func(t *testing.T) {
				run := func(name string, fn func(t *testing.T, e *Env)) {
					t.Run(name, func(t *testing.T) {
						fn(t, NewEnv(t, factory, compressed))
					})
				}

				run("SeparatedWrites", testSeparatedWrites)
				run("DebounceWindow", testDebounceWindow)
				run("SupersededTimersNeverFlush", testSupersededTimersNeverFlush)
				run("BurstCoalesces", testBurstCoalesces)
				run("OrderPreserved", testOrderPreserved)
				run("RoundTrip", testRoundTrip)
				run("ReadNotFound", testReadNotFound)
				run("RecoverFromBackup", testRecoverFromBackup)
				run("RemoveStaleBackup", testRemoveStaleBackup)
				run("WaitWhenIdle", testWaitWhenIdle)
				run("WaitBlocksUntilFlushed", testWaitBlocksUntilFlushed)
				run("DeleteIdempotent", testDeleteIdempotent)
				run("SerializeFailure", testSerializeFailure)
				run("CommittedBatchNotReapplied", testCommittedBatchNotReapplied)
				run("DeclinedWrite", testDeclinedWrite)
				run("ApplicationQuitting", testApplicationQuitting)
				run("QuittingKeepsPendingTimer", testQuittingKeepsPendingTimer)
				run("Close", testClose)
				run("WriteAsync", testWriteAsync)
				run("SwitchRepresentation", testSwitchRepresentation)
				run("MissingParentDir", testMissingParentDir)
			})
		}
	})
}

// --------------------------------------------------------------------------
// Test environment
// --------------------------------------------------------------------------

// Env is the environment of one suite test: an in-memory filesystem, an
// executor reporting to a FailureRecorder and the base path of the snapshot.
type Env struct {
	T           *testing.T
	Fs          afero.Fs
	Base        string
	Exec        *executor.Executor
	Failures    *FailureRecorder
	Compression bool
	factory     StoreFactory
}

// NewEnv creates an environment. The executor is shut down when the test ends.
func NewEnv(t *testing.T, factory StoreFactory, compression bool) *Env {
	t.Helper()

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/data", 0o755))

	failures := &FailureRecorder{}
	exec := executor.New(&executor.Config{
		MinWorkers:       1,
		IdleTimeout:      time.Second,
		ScheduledWorkers: 2,
		FailureHandler:   failures.Handle,
	})
	t.Cleanup(func() {
		exec.ShutdownNow()
		exec.AwaitTermination(time.Second)
	})

	return &Env{
		T:           t,
		Fs:          fs,
		Base:        "/data/set.txt",
		Exec:        exec,
		Failures:    failures,
		Compression: compression,
		factory:     factory,
	}
}

// Options returns store options for the environment
func (e *Env) Options(debounce time.Duration) *persist.Options {
	return &persist.Options{
		Debounce:    debounce,
		Compression: e.Compression,
		Fs:          e.Fs,
	}
}

// Open creates a new set with an attached store
func (e *Env) Open(debounce time.Duration) (*StringSet, *SetStore) {
	return e.OpenWith(e.Options(debounce))
}

// OpenWith creates a new set with an attached store using opts
func (e *Env) OpenWith(opts *persist.Options) (*StringSet, *SetStore) {
	e.T.Helper()

	set := NewStringSet()
	store, err := e.factory(e.Base, e.Exec, set, opts)
	require.NoError(e.T, err)
	set.Attach(store)
	return set, store
}

// Snapshot returns the lines of the canonical snapshot of the environment's representation
func (e *Env) Snapshot(store *SetStore) []string {
	e.T.Helper()

	lines, err := ReadSnapshot(e.Fs, store.Paths(), e.Compression)
	require.NoError(e.T, err)
	return lines
}

// Exists reports whether path exists on the environment's filesystem
func (e *Env) Exists(path string) bool {
	ok, err := afero.Exists(e.Fs, path)
	require.NoError(e.T, err)
	return ok
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSeparatedWrites(t *testing.T, e *Env) {
	set, store := e.Open(10 * time.Millisecond)

	require.NoError(t, set.Add("hello"))
	store.WaitForWritingFinished()
	assert.Equal(t, []string{"hello"}, e.Snapshot(store))

	require.NoError(t, set.Add("hello2"))
	store.WaitForWritingFinished()
	assert.Equal(t, []string{"hello", "hello2"}, e.Snapshot(store))

	require.NoError(t, set.Add("third"))
	store.WaitForWritingFinished()
	assert.Equal(t, []string{"hello", "hello2", "third"}, e.Snapshot(store))

	stats := store.Stats()
	assert.EqualValues(t, 3, stats.Flushes)
	assert.EqualValues(t, 1, stats.FullWrites)
	assert.EqualValues(t, 2, stats.AppliedOps)
	assert.EqualValues(t, 0, stats.FailedFlushes)
	assert.Equal(t, 0, stats.Pending)
	assert.Positive(t, stats.SnapshotSize)

	// the backup never outlives a flush
	assert.False(t, e.Exists(store.Paths().Backup(e.Compression)))
	assert.False(t, e.Exists(store.Paths().Canonical(!e.Compression)))
}

func testDebounceWindow(t *testing.T, e *Env) {
	set, store := e.Open(300 * time.Millisecond)

	require.NoError(t, set.Add("hello"))
	store.WaitForWritingFinished()
	require.NoError(t, set.Add("hello2"))
	store.WaitForWritingFinished()
	assert.Equal(t, []string{"hello", "hello2"}, e.Snapshot(store))

	require.NoError(t, set.Add("third"))
	// the debounce delay has not elapsed, the file is unchanged
	assert.Equal(t, []string{"hello", "hello2"}, e.Snapshot(store))
	assert.Equal(t, 1, store.Pending())

	store.WaitForWritingFinished()
	assert.Equal(t, []string{"hello", "hello2", "third"}, e.Snapshot(store))
}

func testSupersededTimersNeverFlush(t *testing.T, e *Env) {
	set, store := e.Open(100 * time.Millisecond)

	for i := 0; i < 20; i++ {
		require.NoError(t, set.Add(strconv.Itoa(i)))
		time.Sleep(time.Millisecond)
	}
	store.WaitForWritingFinished()

	// give a superseded timer the chance to act if it wrongly could
	time.Sleep(150 * time.Millisecond)

	stats := store.Stats()
	assert.EqualValues(t, 1, stats.Flushes, "only the last armed timer flushes")
	assert.EqualValues(t, 0, stats.FailedFlushes)
	assert.Len(t, e.Snapshot(store), 20)
}

func testBurstCoalesces(t *testing.T, e *Env) {
	set, store := e.Open(50 * time.Millisecond)

	require.NoError(t, set.Add("1"))
	store.WaitForWritingFinished()

	set.ResetCounters()
	before := store.Stats().Flushes

	require.NoError(t, set.Add("4"))
	require.NoError(t, set.Add("4"))
	require.NoError(t, set.Add("4"))
	require.NoError(t, set.Add("5"))
	assert.Equal(t, 4, store.Pending())
	store.WaitForWritingFinished()

	assert.EqualValues(t, before+1, store.Stats().Flushes, "burst must produce exactly one flush")
	assert.EqualValues(t, 1, set.LoadCalls.Load())
	assert.EqualValues(t, 4, set.WriteCalls.Load(), "duplicates are applied, not deduplicated")
	assert.EqualValues(t, 1, set.SerializeCalls.Load())
	assert.EqualValues(t, 0, set.SerializeFullCalls.Load())
	assert.Equal(t, []string{"1", "4", "5"}, e.Snapshot(store))
}

func testOrderPreserved(t *testing.T, e *Env) {
	set, store := e.Open(20 * time.Millisecond)

	require.NoError(t, set.Add("x"))
	store.WaitForWritingFinished()
	set.ResetCounters()

	require.NoError(t, set.Remove("x"))
	require.NoError(t, set.Add("x"))
	require.NoError(t, set.Remove("y"))
	require.NoError(t, set.Add("z"))
	require.NoError(t, set.Remove("z"))
	store.WaitForWritingFinished()

	assert.Equal(t, []string{"x"}, e.Snapshot(store))
	assert.EqualValues(t, 2, set.WriteCalls.Load())
	assert.EqualValues(t, 3, set.DeleteCalls.Load())
}

func testRoundTrip(t *testing.T, e *Env) {
	set, store := e.Open(10 * time.Millisecond)

	require.NoError(t, set.Add("a"))
	require.NoError(t, set.Add("b"))
	require.NoError(t, set.Add("c"))
	require.NoError(t, set.Remove("b"))
	store.WaitForWritingFinished()
	require.NoError(t, store.Close())

	var started, stopped atomic.Int32
	set2, store2 := e.Open(10 * time.Millisecond)
	found, f, err := store2.Read(persist.ReadHooks{
		OnStart: func() { started.Add(1) },
		OnStop:  func() { stopped.Add(1) },
	})
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, f)
	require.NoError(t, f.Wait())

	assert.Equal(t, []string{"a", "c"}, set2.Items())
	assert.EqualValues(t, 1, set2.ParseCalls.Load())
	assert.EqualValues(t, 1, started.Load())
	assert.EqualValues(t, 1, stopped.Load())
}

func testReadNotFound(t *testing.T, e *Env) {
	set, store := e.Open(10 * time.Millisecond)

	found, f, err := store.Read(persist.ReadHooks{})
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, f)
	assert.False(t, store.Exists())
	assert.EqualValues(t, 0, set.ParseCalls.Load())
}

func testRecoverFromBackup(t *testing.T, e *Env) {
	set, store := e.Open(10 * time.Millisecond)
	require.NoError(t, set.Add("x"))
	require.NoError(t, set.Add("y"))
	require.NoError(t, store.Close())

	// crash after the canonical file was removed, before the backup was renamed
	paths := store.Paths()
	canonical := paths.Canonical(e.Compression)
	backup := paths.Backup(e.Compression)
	require.NoError(t, e.Fs.Rename(canonical, backup))

	set2, store2 := e.Open(10 * time.Millisecond)
	found, f, err := store2.Read(persist.ReadHooks{})
	require.NoError(t, err)
	require.True(t, found)
	require.NoError(t, f.Wait())

	assert.Equal(t, []string{"x", "y"}, set2.Items())
	assert.True(t, e.Exists(canonical))
	assert.False(t, e.Exists(backup))
}

func testRemoveStaleBackup(t *testing.T, e *Env) {
	set, store := e.Open(10 * time.Millisecond)
	require.NoError(t, set.Add("x"))
	require.NoError(t, store.Close())

	// crash while the backup was still being written
	backup := store.Paths().Backup(e.Compression)
	require.NoError(t, afero.WriteFile(e.Fs, backup, []byte("partial"), 0o644))

	set2, store2 := e.Open(10 * time.Millisecond)
	found, f, err := store2.Read(persist.ReadHooks{})
	require.NoError(t, err)
	require.True(t, found)
	require.NoError(t, f.Wait())

	assert.Equal(t, []string{"x"}, set2.Items())
	assert.False(t, e.Exists(backup))
}

func testWaitWhenIdle(t *testing.T, e *Env) {
	_, store := e.Open(10 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		store.WaitForWritingFinished()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForWritingFinished blocked on an idle store")
	}
	assert.True(t, store.WaitForWritingFinishedTimeout(time.Millisecond))
}

func testWaitBlocksUntilFlushed(t *testing.T, e *Env) {
	set, store := e.Open(50 * time.Millisecond)

	require.NoError(t, set.Add("late"))
	assert.False(t, store.WaitForWritingFinishedTimeout(5*time.Millisecond))

	store.WaitForWritingFinished()
	assert.Equal(t, []string{"late"}, e.Snapshot(store))
	assert.Equal(t, 0, store.Pending())
}

func testDeleteIdempotent(t *testing.T, e *Env) {
	set, store := e.Open(10 * time.Millisecond)

	require.NoError(t, store.Delete(), "delete without files")

	require.NoError(t, set.Add("x"))
	store.WaitForWritingFinished()
	assert.True(t, store.Exists())

	require.NoError(t, store.Delete())
	assert.False(t, store.Exists())
	for _, path := range store.Paths().All() {
		assert.False(t, e.Exists(path), path)
	}

	require.NoError(t, store.Delete())
}

func testSerializeFailure(t *testing.T, e *Env) {
	set, store := e.Open(10 * time.Millisecond)

	require.NoError(t, set.Add("a"))
	store.WaitForWritingFinished()

	set.FailSerialize.Store(true)
	require.NoError(t, set.Add("b"))
	require.True(t, store.WaitForWritingFinishedTimeout(time.Second), "a failed flush must clear the gate")

	assert.Equal(t, []string{"a"}, e.Snapshot(store), "failed flush must not promote")
	assert.False(t, e.Exists(store.Paths().Backup(e.Compression)))
	assert.EqualValues(t, 1, store.Stats().FailedFlushes)
	assert.Equal(t, 1, store.Pending(), "the failed batch is kept")
	assert.Eventually(t, func() bool { return e.Failures.Count() == 1 }, time.Second, time.Millisecond)
	assert.True(t, persist.IsIOFailure(e.Failures.Errors()[0]))

	set.FailSerialize.Store(false)
	require.NoError(t, store.Flush())
	assert.Equal(t, []string{"a", "b"}, e.Snapshot(store))
	assert.Equal(t, 0, store.Pending())
}

func testCommittedBatchNotReapplied(t *testing.T, e *Env) {
	fs := &RenameFailFs{Fs: e.Fs}
	opts := e.Options(time.Hour)
	opts.Fs = fs
	set, store := e.OpenWith(opts)

	require.NoError(t, set.Add("seed"))
	require.NoError(t, store.Flush())

	// the backup is complete and the canonical file removed, then the rename fails
	fs.FailNextBackupRename.Store(true)
	require.NoError(t, set.Add("a"))
	err := store.Flush()
	require.Error(t, err)
	assert.True(t, persist.IsIOFailure(err))
	assert.True(t, e.Exists(store.Paths().Backup(e.Compression)))
	assert.Equal(t, 0, store.Pending(), "a batch in a complete backup is not carried")

	set.ResetCounters()
	require.NoError(t, set.Add("b"))
	require.NoError(t, store.Flush())

	assert.EqualValues(t, 1, set.WriteCalls.Load(), "each operation is applied once")
	assert.Equal(t, []string{"a", "b", "seed"}, e.Snapshot(store))
	assert.False(t, e.Exists(store.Paths().Backup(e.Compression)))
}

func testDeclinedWrite(t *testing.T, e *Env) {
	set, store := e.Open(10 * time.Millisecond)

	require.NoError(t, set.Add("a"))
	store.WaitForWritingFinished()

	set.DeclineSerialize.Store(true)
	require.NoError(t, set.Add("b"))
	store.WaitForWritingFinished()

	assert.Equal(t, []string{"a"}, e.Snapshot(store))
	assert.False(t, e.Exists(store.Paths().Backup(e.Compression)))
	assert.Equal(t, 0, e.Failures.Count(), "a declined write is not a failure")
}

func testApplicationQuitting(t *testing.T, e *Env) {
	set, store := e.Open(10 * time.Millisecond)

	e.Exec.Shutdown()

	err := set.Add("a")
	require.Error(t, err)
	assert.True(t, persist.IsApplicationQuitting(err))

	// shutdown is known now, further rejections are only logged
	assert.NoError(t, set.Add("b"))
	assert.Equal(t, 2, store.Pending())
	assert.True(t, store.WaitForWritingFinishedTimeout(time.Millisecond))

	// the queued operations can still be written synchronously
	require.NoError(t, store.Close())
	assert.Equal(t, []string{"a", "b"}, e.Snapshot(store))
}

func testQuittingKeepsPendingTimer(t *testing.T, e *Env) {
	set, store := e.Open(200 * time.Millisecond)

	require.NoError(t, set.Add("seed"))
	require.NoError(t, store.Flush())

	require.NoError(t, set.Add("a"))
	e.Exec.Shutdown()

	// the rejected operation joins the batch of the timer that is still pending
	err := set.Add("b")
	require.Error(t, err)
	assert.True(t, persist.IsApplicationQuitting(err))
	assert.False(t, store.WaitForWritingFinishedTimeout(time.Millisecond), "the pending timer still owns the gate")

	require.True(t, store.WaitForWritingFinishedTimeout(2*time.Second))
	assert.Equal(t, []string{"a", "b", "seed"}, e.Snapshot(store))
	assert.Equal(t, 0, store.Pending())
}

func testClose(t *testing.T, e *Env) {
	set, store := e.Open(time.Hour)

	require.NoError(t, set.Add("a"))
	assert.Equal(t, 1, store.Pending())

	require.NoError(t, store.Close())
	assert.Equal(t, []string{"a"}, e.Snapshot(store))
	assert.Equal(t, 0, store.Pending())

	err := set.Add("b")
	require.Error(t, err)
	assert.True(t, persist.IsClosed(err))

	_, err = store.WriteAsync()
	assert.True(t, persist.IsClosed(err))

	require.NoError(t, store.Close(), "close is idempotent")
}

func testWriteAsync(t *testing.T, e *Env) {
	set, store := e.Open(time.Hour)

	require.NoError(t, set.Add("a"))
	require.NoError(t, set.Add("b"))

	f, err := store.WriteAsync()
	require.NoError(t, err)
	require.NoError(t, f.Wait())

	assert.Equal(t, []string{"a", "b"}, e.Snapshot(store))
	assert.EqualValues(t, 1, set.SerializeFullCalls.Load())
	assert.EqualValues(t, 1, store.Stats().FullWrites)

	// the queue and the gate are untouched
	assert.Equal(t, 2, store.Pending())
	assert.False(t, store.WaitForWritingFinishedTimeout(time.Millisecond))

	require.NoError(t, store.Close())
	assert.Equal(t, []string{"a", "b"}, e.Snapshot(store))
}

func testSwitchRepresentation(t *testing.T, e *Env) {
	other := e.Options(10 * time.Millisecond)
	other.Compression = !e.Compression

	set, store := e.OpenWith(other)
	require.NoError(t, set.Add("a"))
	require.NoError(t, store.Close())
	require.True(t, e.Exists(store.Paths().Canonical(!e.Compression)))

	// reopen in the environment's representation, the old snapshot is still found
	set2, store2 := e.Open(10 * time.Millisecond)
	found, f, err := store2.Read(persist.ReadHooks{})
	require.NoError(t, err)
	require.True(t, found)
	require.NoError(t, f.Wait())
	assert.Equal(t, []string{"a"}, set2.Items())

	require.NoError(t, set2.Add("b"))
	store2.WaitForWritingFinished()

	assert.Equal(t, []string{"a", "b"}, e.Snapshot(store2))
	assert.False(t, e.Exists(store2.Paths().Canonical(!e.Compression)), "stale representation removed")
}

func testMissingParentDir(t *testing.T, e *Env) {
	_, err := e.factory("/missing/set.txt", e.Exec, NewStringSet(), e.Options(10*time.Millisecond))
	require.Error(t, err)
	assert.True(t, persist.IsNotFound(err))

	opts := e.Options(-time.Millisecond)
	_, err = e.factory(e.Base, e.Exec, NewStringSet(), opts)
	assert.Error(t, err)
}
