package persist

import (
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPaths(t *testing.T) {
	p := NewPaths("/data/items.txt")

	assert.Equal(t, "/data/items.txt", p.Plain)
	assert.Equal(t, "/data/items.txt.bak", p.PlainBackup)
	assert.Equal(t, "/data/items.txt.zip", p.Zip)
	assert.Equal(t, "/data/items.txt.zip.bak", p.ZipBackup)
	assert.Equal(t, "items.txt", p.Entry)

	assert.Equal(t, p.Zip, p.Canonical(true))
	assert.Equal(t, p.PlainBackup, p.Backup(false))
	assert.Len(t, p.All(), 4)
}

func writeString(s string) func(w io.Writer) (bool, error) {
	return func(w io.Writer) (bool, error) {
		_, err := io.WriteString(w, s)
		return err == nil, err
	}
}

func readAll(t *testing.T, fs afero.Fs, path string, compressed bool) string {
	t.Helper()
	r, err := openSnapshot(fs, path, "items.txt", compressed)
	require.NoError(t, err)
	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func TestWriteAndOpenSnapshot(t *testing.T) {
	for _, compressed := range []bool{false, true} {
		fs := afero.NewMemMapFs()

		ok, size, err := writeSnapshot(fs, "/items.txt.bak", "items.txt", compressed, writeString("a\nb\n"))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Positive(t, size)

		assert.Equal(t, "a\nb\n", readAll(t, fs, "/items.txt.bak", compressed))
	}
}

func TestWriteSnapshotRemovesFileOnFailure(t *testing.T) {
	fs := afero.NewMemMapFs()
	boom := errors.New("boom")

	ok, _, err := writeSnapshot(fs, "/items.txt.bak", "items.txt", false, func(w io.Writer) (bool, error) {
		_, _ = io.WriteString(w, "half")
		return false, boom
	})
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)

	exists, _ := afero.Exists(fs, "/items.txt.bak")
	assert.False(t, exists)

	ok, _, err = writeSnapshot(fs, "/items.txt.bak", "items.txt", true, func(w io.Writer) (bool, error) {
		return false, nil
	})
	assert.False(t, ok)
	assert.NoError(t, err)

	exists, _ = afero.Exists(fs, "/items.txt.bak")
	assert.False(t, exists)
}

func TestOpenSnapshotNotFound(t *testing.T) {
	_, err := openSnapshot(afero.NewMemMapFs(), "/nothing", "nothing", false)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestOpenSnapshotBrokenArchive(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/items.txt.zip", []byte("not a zip"), 0o644))

	_, err := openSnapshot(fs, "/items.txt.zip", "items.txt", true)
	require.Error(t, err)
	assert.True(t, IsIOFailure(err))
}

func TestPromote(t *testing.T) {
	fs := afero.NewMemMapFs()
	p := NewPaths("/items.txt")

	require.NoError(t, afero.WriteFile(fs, p.Plain, []byte("old"), 0o644))
	require.NoError(t, afero.WriteFile(fs, p.Zip, []byte("stale"), 0o644))
	require.NoError(t, afero.WriteFile(fs, p.PlainBackup, []byte("new"), 0o644))

	committed, err := promote(fs, p, false)
	require.NoError(t, err)
	assert.True(t, committed)

	data, err := afero.ReadFile(fs, p.Plain)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	for _, path := range []string{p.PlainBackup, p.Zip, p.ZipBackup} {
		exists, _ := afero.Exists(fs, path)
		assert.False(t, exists, path)
	}
}

// renameFailFs fails every rename
type renameFailFs struct {
	afero.Fs
}

func (renameFailFs) Rename(_, _ string) error {
	return errors.New("rename refused")
}

func TestPromoteRenameFailure(t *testing.T) {
	mem := afero.NewMemMapFs()
	p := NewPaths("/items.txt")

	require.NoError(t, afero.WriteFile(mem, p.Plain, []byte("old"), 0o644))
	require.NoError(t, afero.WriteFile(mem, p.PlainBackup, []byte("new"), 0o644))

	committed, err := promote(renameFailFs{mem}, p, false)
	require.Error(t, err)
	assert.True(t, IsIOFailure(err))
	assert.True(t, committed, "the canonical file is gone, the backup is authoritative")

	// the next access recovers the complete backup
	path, _, found, err := locate(mem, p, false)
	require.NoError(t, err)
	require.True(t, found)
	data, err := afero.ReadFile(mem, path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestLocate(t *testing.T) {
	p := NewPaths("/items.txt")

	t.Run("Nothing", func(t *testing.T) {
		_, _, found, err := locate(afero.NewMemMapFs(), p, true)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("PrefersConfiguredRepresentation", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, p.Plain, []byte("plain"), 0o644))
		require.NoError(t, afero.WriteFile(fs, p.Zip, []byte("zip"), 0o644))

		path, compressed, found, err := locate(fs, p, true)
		require.NoError(t, err)
		assert.True(t, found)
		assert.True(t, compressed)
		assert.Equal(t, p.Zip, path)

		path, compressed, _, _ = locate(fs, p, false)
		assert.False(t, compressed)
		assert.Equal(t, p.Plain, path)
	})

	t.Run("FallsBackToOtherRepresentation", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, p.Plain, []byte("plain"), 0o644))

		path, compressed, found, err := locate(fs, p, true)
		require.NoError(t, err)
		assert.True(t, found)
		assert.False(t, compressed)
		assert.Equal(t, p.Plain, path)
	})

	t.Run("RecoversBackup", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, p.PlainBackup, []byte("complete"), 0o644))

		path, _, found, err := locate(fs, p, false)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, p.Plain, path)

		data, err := afero.ReadFile(fs, p.Plain)
		require.NoError(t, err)
		assert.Equal(t, "complete", string(data))
	})

	t.Run("RemovesStaleBackup", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, p.Plain, []byte("good"), 0o644))
		require.NoError(t, afero.WriteFile(fs, p.PlainBackup, []byte("partial"), 0o644))

		_, _, found, err := locate(fs, p, false)
		require.NoError(t, err)
		assert.True(t, found)

		exists, _ := afero.Exists(fs, p.PlainBackup)
		assert.False(t, exists)
	})
}

func TestErrorClassification(t *testing.T) {
	err := ioError("rename", "/x", errors.New("disk full"))

	assert.True(t, IsIOFailure(err))
	assert.False(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "IOFailure")
	assert.Contains(t, err.Error(), "disk full")

	wrapped := errors.Wrap(err, "flush")
	assert.True(t, IsIOFailure(wrapped))

	code, ok := CodeOf(wrapped)
	assert.True(t, ok)
	assert.Equal(t, ErrCIOFailure, code)

	_, ok = CodeOf(errors.New("plain"))
	assert.False(t, ok)

	assert.True(t, IsApplicationQuitting(newError(ErrCApplicationQuitting, "write", "/x", nil)))
	assert.True(t, IsClosed(newError(ErrCClosed, "write", "/x", nil)))
}
