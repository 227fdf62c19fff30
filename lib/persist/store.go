package persist

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/ValentinKolb/dSnap/lib/executor"
	"github.com/ValentinKolb/dSnap/lib/gate"
	"github.com/ValentinKolb/dSnap/lib/util"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/afero"
)

var log = logger.GetLogger("persist")

// DefaultDebounce is the quiet period after the last mutation before a flush
const DefaultDebounce = 100 * time.Millisecond

// Options configures a store
type Options struct {
	// Debounce is the quiet period after the last mutation before a flush. Must not be negative.
	Debounce time.Duration
	// Compression stores the snapshot as a single entry zip archive
	Compression bool
	// Fs is the filesystem holding the snapshot. Defaults to the OS filesystem.
	Fs afero.Fs
	// Name labels the store in log messages. Defaults to the base file name.
	Name string
}

// DefaultOptions returns the options used when nil is passed to New
func DefaultOptions() *Options {
	return &Options{
		Debounce:    DefaultDebounce,
		Compression: true,
		Fs:          afero.NewOsFs(),
	}
}

// --------------------------------------------------------------------------
// Store
// --------------------------------------------------------------------------

// Store persists an application's state as a snapshot file.
//
// Mutations are queued and flushed after a quiet period (trailing edge
// debounce). A flush loads the current snapshot into a container, applies the
// queued operations in FIFO order, writes the result to a backup file and
// promotes the backup to the canonical file.
//
// One mutex covers the flush timer, enqueueing and the flush itself, so at most
// one flush runs per store and a superseded timer never acts.
//
// Thread-safety: All methods are thread-safe.
type Store[T any, C any] struct {
	name        string
	paths       Paths
	fs          afero.Fs
	compression bool
	debounce    time.Duration

	exec  *executor.Executor
	codec Codec[T, C]
	gate  *gate.Gate

	mu    sync.Mutex
	queue *util.Queue[Op[T]]
	// carry holds a batch whose flush failed, it is retried before the queue
	carry         []Op[T]
	timer         *executor.Future
	shutdownKnown bool
	closed        bool

	metrics *storeMetrics
}

// New creates a store for the snapshot at basePath.
// The parent directory of basePath must exist. A nil opts uses DefaultOptions().
func New[T any, C any](basePath string, exec *executor.Executor, codec Codec[T, C], opts *Options) (*Store[T, C], error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if codec == nil {
		return nil, errors.New("persist: codec must not be nil")
	}
	if opts.Debounce < 0 {
		return nil, errors.Newf("persist: debounce must not be negative (got %s)", opts.Debounce)
	}
	if exec == nil {
		exec = executor.Default()
	}

	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	dir := filepath.Dir(basePath)
	ok, err := afero.DirExists(fs, dir)
	if err != nil {
		return nil, ioError("stat", dir, err)
	}
	if !ok {
		return nil, newError(ErrCNotFound, "open", dir, errors.New("parent directory does not exist"))
	}

	name := opts.Name
	if name == "" {
		name = filepath.Base(basePath)
	}

	return &Store[T, C]{
		name:        name,
		paths:       NewPaths(basePath),
		fs:          fs,
		compression: opts.Compression,
		debounce:    opts.Debounce,
		exec:        exec,
		codec:       codec,
		gate:        gate.New(),
		queue:       util.NewQueue[Op[T]](),
		metrics:     newStoreMetrics(),
	}, nil
}

// --------------------------------------------------------------------------
// Bootstrap
// --------------------------------------------------------------------------

// Read looks for an existing snapshot and loads it into the application via
// Codec.Parse on the one-shot pool. Interrupted promotions are recovered
// first. Returns false and a nil future if no snapshot exists.
func (s *Store[T, C]) Read(hooks ReadHooks) (bool, *executor.Future, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, compressed, found, err := locate(s.fs, s.paths, s.compression)
	if err != nil {
		return false, nil, err
	}
	if !found {
		log.Debugf("%s: no snapshot found", s.name)
		return false, nil, nil
	}

	f, err := s.exec.Submit(func(ctx context.Context) error {
		if hooks.OnStart != nil {
			hooks.OnStart()
		}
		if hooks.OnStop != nil {
			defer hooks.OnStop()
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		return s.parse(path, compressed)
	})
	if err != nil {
		return false, nil, s.rejected("read", err)
	}
	return true, f, nil
}

func (s *Store[T, C]) parse(path string, compressed bool) error {
	r, err := openSnapshot(s.fs, path, s.paths.Entry, compressed)
	if err != nil {
		return err
	}
	defer r.Close()

	if _, err := s.codec.Parse(r, s.paths.Entry); err != nil {
		return ioError("parse", path, err)
	}
	log.Infof("%s: loaded snapshot %s", s.name, path)
	return nil
}

// --------------------------------------------------------------------------
// Mutations
// --------------------------------------------------------------------------

// WriteItem queues a write of item and restarts the debounce timer
func (s *Store[T, C]) WriteItem(item T) error {
	return s.enqueue(Op[T]{Kind: OpWrite, Item: item})
}

// DeleteItem queues a delete of item and restarts the debounce timer
func (s *Store[T, C]) DeleteItem(item T) error {
	return s.enqueue(Op[T]{Kind: OpDelete, Item: item})
}

func (s *Store[T, C]) enqueue(op Op[T]) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return newError(ErrCClosed, op.Kind.String(), s.paths.Plain, nil)
	}

	s.queue.Push(op)
	s.gate.SetAwaiting(true)

	var timer *executor.Future
	timer, err := s.exec.Schedule(s.debounce, func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		// superseded by a later mutation or by Flush
		if s.timer != timer {
			return nil
		}
		s.timer = nil
		return s.flushLocked()
	})
	if err != nil {
		// the op stays queued. A pending timer still flushes it during a graceful
		// shutdown, without one nobody may wait for a flush that never comes.
		if s.timer == nil || s.timer.IsDone() {
			s.gate.SetAwaiting(false)
		}
		return s.rejected(op.Kind.String(), err)
	}

	s.cancelTimerLocked()
	s.timer = timer
	return nil
}

// rejected turns a failed submission into an error. Only the first rejection
// caused by a stopping executor is returned, later ones are logged.
// s.mu must be held.
func (s *Store[T, C]) rejected(op string, err error) error {
	if !errors.Is(err, executor.ErrRejected) {
		return newError(ErrCUnknown, op, s.paths.Plain, err)
	}
	if s.shutdownKnown {
		log.Warningf("%s: %s not scheduled, shutting down", s.name, op)
		return nil
	}
	s.shutdownKnown = true
	return newError(ErrCApplicationQuitting, op, s.paths.Plain, err)
}

// --------------------------------------------------------------------------
// Flushing
// --------------------------------------------------------------------------

// Flush writes all queued operations now and cancels the pending timer.
func (s *Store[T, C]) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelTimerLocked()
	return s.flushLocked()
}

func (s *Store[T, C]) cancelTimerLocked() {
	if s.timer != nil {
		s.timer.Cancel()
		s.timer = nil
	}
}

// flushLocked runs one flush cycle. s.mu must be held.
func (s *Store[T, C]) flushLocked() (err error) {
	defer s.gate.SetAwaiting(false)

	if len(s.carry) == 0 && s.queue.IsEmpty() {
		return nil
	}

	start := time.Now()
	defer func() {
		s.metrics.flushTime.UpdateSince(start)
		if err != nil {
			s.metrics.failedFlushes.Inc(1)
			log.Errorf("%s: flush failed: %v", s.name, err)
			return
		}
		s.metrics.flushes.Inc(1)
	}()

	path, compressed, found, err := locate(s.fs, s.paths, s.compression)
	if err != nil {
		return err
	}

	if !found {
		committed, err := s.writeFullLocked()
		if committed {
			// the full state contains every queued operation
			s.carry = nil
			s.queue.Clear()
		}
		return err
	}

	c, err := s.load(path, compressed)
	if err != nil {
		return err
	}

	batch := s.carry
	s.carry = nil
	s.queue.Drain(func(op Op[T]) bool {
		batch = append(batch, op)
		return true
	})

	committed, err := s.mergeLocked(c, batch)
	if !committed {
		s.carry = batch
		return err
	}
	// a committed batch is never applied again, even if the promotion failed
	// half way: the complete backup is recovered on the next access
	s.metrics.appliedOps.Inc(int64(len(batch)))
	log.Debugf("%s: flushed %d operations", s.name, len(batch))
	return err
}

// load decodes the snapshot at path into a fresh container
func (s *Store[T, C]) load(path string, compressed bool) (C, error) {
	var zero C

	r, err := openSnapshot(s.fs, path, s.paths.Entry, compressed)
	if err != nil {
		return zero, err
	}
	defer r.Close()

	c, err := s.codec.Load(r, s.paths.Entry)
	if err != nil {
		return zero, ioError("load", path, err)
	}
	return c, nil
}

// mergeLocked applies the batch to c, writes the backup and promotes it.
// See writeAndPromoteLocked for the meaning of committed.
func (s *Store[T, C]) mergeLocked(c C, batch []Op[T]) (bool, error) {
	var err error
	for _, op := range batch {
		switch op.Kind {
		case OpWrite:
			c, err = s.codec.ApplyWrite(c, op.Item)
		case OpDelete:
			c, err = s.codec.ApplyDelete(c, op.Item)
		}
		if err != nil {
			return false, newError(ErrCUnknown, "apply "+op.Kind.String(), s.paths.Plain, err)
		}
	}

	return s.writeAndPromoteLocked(func(w io.Writer) (bool, error) {
		return s.codec.Serialize(w, s.paths.Entry, c)
	})
}

// writeFullLocked writes the application's complete state and promotes it
func (s *Store[T, C]) writeFullLocked() (bool, error) {
	committed, err := s.writeAndPromoteLocked(func(w io.Writer) (bool, error) {
		return s.codec.SerializeFull(w, s.paths.Entry)
	})
	if committed {
		s.metrics.fullWrites.Inc(1)
	}
	return committed, err
}

// writeAndPromoteLocked writes fn's output to the backup and promotes it.
// committed is true once the written data is authoritative on disk, either as
// the canonical file or as a complete backup without one. An error may come
// with committed == true if the promotion failed after that point.
func (s *Store[T, C]) writeAndPromoteLocked(fn func(w io.Writer) (bool, error)) (committed bool, err error) {
	backup := s.paths.Backup(s.compression)

	ok, size, err := writeSnapshot(s.fs, backup, s.paths.Entry, s.compression, func(w io.Writer) (bool, error) {
		ok, err := fn(w)
		if err != nil {
			return false, ioError("serialize", backup, err)
		}
		return ok, nil
	})
	if err != nil {
		return false, err
	}
	if !ok {
		log.Warningf("%s: serializer declined the write, keeping the previous snapshot", s.name)
		return false, nil
	}

	committed, err = promote(s.fs, s.paths, s.compression)
	if committed {
		s.metrics.snapshotSize.Update(size)
	}
	return committed, err
}

// WriteAsync writes the application's complete state on the one-shot pool,
// independent of queued operations and the debounce timer.
func (s *Store[T, C]) WriteAsync() (*executor.Future, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, newError(ErrCClosed, "write async", s.paths.Plain, nil)
	}

	f, err := s.exec.Submit(func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		_, err := s.writeFullLocked()
		return err
	})
	if err != nil {
		return nil, s.rejected("write async", err)
	}
	return f, nil
}

// --------------------------------------------------------------------------
// Waiting, deletion and lifecycle
// --------------------------------------------------------------------------

// WaitForWritingFinished blocks until no flush is pending.
// Returns immediately if nothing was written since the last flush.
func (s *Store[T, C]) WaitForWritingFinished() {
	s.gate.Await()
}

// WaitForWritingFinishedTimeout is WaitForWritingFinished with a timeout.
// Returns false if a flush was still pending when the timeout elapsed.
func (s *Store[T, C]) WaitForWritingFinishedTimeout(timeout time.Duration) bool {
	return s.gate.AwaitTimeout(timeout)
}

// Delete removes the snapshot in both representations and their backups.
// Deleting a store without files is not an error.
func (s *Store[T, C]) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, path := range s.paths.All() {
		if err := removeIfExists(s.fs, path); err != nil {
			return err
		}
	}
	log.Infof("%s: deleted snapshot files", s.name)
	return nil
}

// Close flushes pending operations. Later mutations fail with ErrClosed.
func (s *Store[T, C]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.cancelTimerLocked()
	err := s.flushLocked()

	s.closed = true
	s.shutdownKnown = true
	return err
}

// Pending returns the number of operations not yet written
func (s *Store[T, C]) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.carry) + s.queue.Len()
}

// Paths returns the file set of the store
func (s *Store[T, C]) Paths() Paths {
	return s.paths
}

// Exists reports whether a snapshot or a backup exists in any representation
func (s *Store[T, C]) Exists() bool {
	for _, path := range s.paths.All() {
		if ok, _ := afero.Exists(s.fs, path); ok {
			return true
		}
	}
	return false
}

// Stats returns the store's counters
func (s *Store[T, C]) Stats() Stats {
	return s.metrics.snapshot(s.Pending())
}
