package kv

import (
	"io"
	"sort"
	"time"

	"github.com/ValentinKolb/dSnap/lib/executor"
	"github.com/ValentinKolb/dSnap/lib/persist"
	"github.com/ValentinKolb/dSnap/lib/serializer"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("kv")

// Options configures a collection
type Options struct {
	persist.Options

	// Serializer encodes the snapshot. Defaults to the binary serializer.
	Serializer serializer.ISnapshotSerializer
}

// DefaultOptions returns the options used when nil is passed to Open
func DefaultOptions() *Options {
	return &Options{
		Options:    *persist.DefaultOptions(),
		Serializer: serializer.NewBinarySerializer(),
	}
}

// Collection is an in-memory key-value map that persists itself as a snapshot.
//
// Reads are served from memory only. Every Set and Delete queues the key in
// the store, the value is looked up in memory when the store flushes, so
// repeated writes of one key only persist the latest value.
//
// Thread-safety: All methods are thread-safe.
type Collection struct {
	data  *xsync.MapOf[string, []byte]
	store *persist.Store[string, serializer.Snapshot]
	ser   serializer.ISnapshotSerializer
}

// Open creates a collection backed by the snapshot at path and loads the
// existing snapshot, if any. A nil exec uses executor.Default().
func Open(path string, exec *executor.Executor, opts *Options) (*Collection, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	ser := opts.Serializer
	if ser == nil {
		ser = serializer.NewBinarySerializer()
	}

	c := &Collection{
		data: xsync.NewMapOf[string, []byte](),
		ser:  ser,
	}

	storeOpts := opts.Options
	store, err := persist.New[string, serializer.Snapshot](path, exec, &codec{c: c}, &storeOpts)
	if err != nil {
		return nil, err
	}
	c.store = store

	var start time.Time
	found, f, err := store.Read(persist.ReadHooks{
		OnStart: func() { start = time.Now() },
		OnStop:  func() { log.Debugf("loading %s took %s", path, time.Since(start)) },
	})
	if err != nil {
		return nil, err
	}
	if found {
		if err := f.Wait(); err != nil {
			return nil, err
		}
		log.Infof("opened %s with %d keys", path, c.Len())
	}
	return c, nil
}

// --------------------------------------------------------------------------
// Operations
// --------------------------------------------------------------------------

// Set stores a copy of value under key
func (c *Collection) Set(key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	c.data.Store(key, v)
	return c.store.WriteItem(key)
}

// Get returns the value of key
func (c *Collection) Get(key string) ([]byte, bool) {
	return c.data.Load(key)
}

// Has reports whether key exists
func (c *Collection) Has(key string) bool {
	_, ok := c.data.Load(key)
	return ok
}

// Delete removes key. Deleting a missing key is not an error.
func (c *Collection) Delete(key string) error {
	c.data.Delete(key)
	return c.store.DeleteItem(key)
}

// Keys returns all keys in sorted order
func (c *Collection) Keys() []string {
	keys := make([]string, 0, c.data.Size())
	c.data.Range(func(k string, _ []byte) bool {
		keys = append(keys, k)
		return true
	})
	sort.Strings(keys)
	return keys
}

// Len returns the number of keys
func (c *Collection) Len() int {
	return c.data.Size()
}

// Snapshot returns a copy of the in-memory content
func (c *Collection) Snapshot() serializer.Snapshot {
	snap := make(serializer.Snapshot, c.data.Size())
	c.data.Range(func(k string, v []byte) bool {
		snap[k] = v
		return true
	})
	return snap
}

// --------------------------------------------------------------------------
// Persistence
// --------------------------------------------------------------------------

// Store returns the underlying store
func (c *Collection) Store() *persist.Store[string, serializer.Snapshot] {
	return c.store
}

// WaitForWritingFinished blocks until all changes are written
func (c *Collection) WaitForWritingFinished() {
	c.store.WaitForWritingFinished()
}

// Flush writes all pending changes now
func (c *Collection) Flush() error {
	return c.store.Flush()
}

// Close writes all pending changes. Later changes fail with persist.ErrClosed.
func (c *Collection) Close() error {
	return c.store.Close()
}

// --------------------------------------------------------------------------
// Codec
// --------------------------------------------------------------------------

// codec connects a collection to its store. Items are keys, their values are
// read from the collection when a flush applies them.
type codec struct {
	c *Collection
}

func (k *codec) Parse(r io.Reader, _ string) (bool, error) {
	snap, err := k.c.ser.Decode(r)
	if err != nil {
		return false, err
	}
	for key, value := range snap {
		k.c.data.Store(key, value)
	}
	return len(snap) > 0, nil
}

func (k *codec) SerializeFull(w io.Writer, _ string) (bool, error) {
	if err := k.c.ser.Encode(w, k.c.Snapshot()); err != nil {
		return false, err
	}
	return true, nil
}

func (k *codec) Load(r io.Reader, _ string) (serializer.Snapshot, error) {
	return k.c.ser.Decode(r)
}

func (k *codec) ApplyWrite(snap serializer.Snapshot, key string) (serializer.Snapshot, error) {
	value, ok := k.c.data.Load(key)
	if !ok {
		// deleted again in memory, the queued delete follows
		delete(snap, key)
		return snap, nil
	}
	snap[key] = value
	return snap, nil
}

func (k *codec) ApplyDelete(snap serializer.Snapshot, key string) (serializer.Snapshot, error) {
	delete(snap, key)
	return snap, nil
}

func (k *codec) Serialize(w io.Writer, _ string, snap serializer.Snapshot) (bool, error) {
	if err := k.c.ser.Encode(w, snap); err != nil {
		return false, err
	}
	return true, nil
}
