package kv

import (
	"bytes"
	"testing"
	"time"

	"github.com/ValentinKolb/dSnap/lib/executor"
	"github.com/ValentinKolb/dSnap/lib/persist"
	"github.com/ValentinKolb/dSnap/lib/serializer"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	fs   afero.Fs
	exec *executor.Executor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/kv", 0o755))

	exec := executor.New(nil)
	t.Cleanup(func() {
		exec.ShutdownNow()
		exec.AwaitTermination(time.Second)
	})
	return &testEnv{fs: fs, exec: exec}
}

func (e *testEnv) open(t *testing.T, ser serializer.ISnapshotSerializer, compression bool) *Collection {
	t.Helper()
	c, err := Open("/kv/data.db", e.exec, &Options{
		Options: persist.Options{
			Debounce:    5 * time.Millisecond,
			Compression: compression,
			Fs:          e.fs,
		},
		Serializer: ser,
	})
	require.NoError(t, err)
	return c
}

func TestCollectionBasics(t *testing.T) {
	e := newTestEnv(t)
	c := e.open(t, nil, true)

	assert.Equal(t, 0, c.Len())
	assert.False(t, c.Has("a"))

	require.NoError(t, c.Set("a", []byte("1")))
	require.NoError(t, c.Set("b", []byte("2")))

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)
	assert.True(t, c.Has("b"))
	assert.Equal(t, []string{"a", "b"}, c.Keys())

	require.NoError(t, c.Delete("a"))
	require.NoError(t, c.Delete("missing"))
	assert.False(t, c.Has("a"))
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Close())
}

func TestCollectionSetCopiesValue(t *testing.T) {
	e := newTestEnv(t)
	c := e.open(t, nil, false)

	value := []byte("original")
	require.NoError(t, c.Set("k", value))
	value[0] = 'X'

	got, _ := c.Get("k")
	assert.Equal(t, "original", string(got))
}

func TestCollectionPersists(t *testing.T) {
	for _, name := range serializer.Names {
		for _, compression := range []bool{false, true} {
			t.Run(name, func(t *testing.T) {
				ser, err := serializer.ByName(name)
				require.NoError(t, err)

				e := newTestEnv(t)
				c := e.open(t, ser, compression)

				require.NoError(t, c.Set("first", []byte("1")))
				c.WaitForWritingFinished()

				require.NoError(t, c.Set("second", []byte("2")))
				require.NoError(t, c.Set("third", []byte("3")))
				require.NoError(t, c.Delete("second"))
				require.NoError(t, c.Close())

				reopened := e.open(t, ser, compression)
				assert.Equal(t, []string{"first", "third"}, reopened.Keys())

				v, ok := reopened.Get("third")
				require.True(t, ok)
				assert.Equal(t, []byte("3"), v)
			})
		}
	}
}

func TestCollectionLatestValueWins(t *testing.T) {
	e := newTestEnv(t)
	c := e.open(t, nil, false)

	require.NoError(t, c.Set("k", []byte("seed")))
	c.WaitForWritingFinished()

	require.NoError(t, c.Set("k", []byte("v1")))
	require.NoError(t, c.Set("k", []byte("v2")))
	require.NoError(t, c.Set("gone", []byte("x")))
	require.NoError(t, c.Delete("gone"))
	c.WaitForWritingFinished()

	// the snapshot on disk is decoded independently of the collection
	r, err := e.fs.Open("/kv/data.db")
	require.NoError(t, err)
	defer r.Close()

	snap, err := serializer.NewBinarySerializer().Decode(r)
	require.NoError(t, err)
	assert.True(t, bytes.Equal([]byte("v2"), snap["k"]))
	_, ok := snap["gone"]
	assert.False(t, ok)
}

func TestCollectionMissingDirectory(t *testing.T) {
	e := newTestEnv(t)
	_, err := Open("/nope/data.db", e.exec, &Options{
		Options: persist.Options{Fs: e.fs, Debounce: time.Millisecond},
	})
	require.Error(t, err)
	assert.True(t, persist.IsNotFound(err))
}

func TestCollectionAfterClose(t *testing.T) {
	e := newTestEnv(t)
	c := e.open(t, nil, true)
	require.NoError(t, c.Close())

	err := c.Set("k", []byte("v"))
	assert.True(t, persist.IsClosed(err))
}
