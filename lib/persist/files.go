package persist

import (
	"bufio"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
)

// same buffer size as the snapshot writer of the kv engine
const ioBufferSize = 1 << 20

// --------------------------------------------------------------------------
// Reading
// --------------------------------------------------------------------------

// snapshotReader streams the content of a snapshot, plain or zipped
type snapshotReader struct {
	io.Reader
	closers []io.Closer
}

func (r *snapshotReader) Close() error {
	var err error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if cerr := r.closers[i].Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// openSnapshot opens the file at path. For a compressed snapshot the reader
// yields the content of the archive entry named entry (or the first entry if
// no entry has that name).
func openSnapshot(fs afero.Fs, path, entry string, compressed bool) (io.ReadCloser, error) {
	f, err := fs.Open(path)
	if err != nil {
		if isNotExist(err) {
			return nil, newError(ErrCNotFound, "open", path, err)
		}
		return nil, ioError("open", path, err)
	}

	if !compressed {
		return &snapshotReader{
			Reader:  bufio.NewReaderSize(f, ioBufferSize),
			closers: []io.Closer{f},
		}, nil
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, ioError("stat", path, err)
	}

	archive, err := zip.NewReader(f, info.Size())
	if err != nil {
		_ = f.Close()
		return nil, ioError("read archive", path, err)
	}
	if len(archive.File) == 0 {
		_ = f.Close()
		return nil, ioError("read archive", path, errors.New("archive has no entries"))
	}

	zf := archive.File[0]
	for _, candidate := range archive.File {
		if candidate.Name == entry {
			zf = candidate
			break
		}
	}

	rc, err := zf.Open()
	if err != nil {
		_ = f.Close()
		return nil, ioError("open archive entry", path, err)
	}

	return &snapshotReader{
		Reader:  bufio.NewReaderSize(rc, ioBufferSize),
		closers: []io.Closer{f, rc},
	}, nil
}

// --------------------------------------------------------------------------
// Writing
// --------------------------------------------------------------------------

// writeSnapshot creates (or truncates) the file at path and passes a writer to
// fn. For a compressed snapshot fn writes into a single archive entry.
// If fn reports ok == false or fails, the file is removed again.
// Returns the size of the written file.
func writeSnapshot(fs afero.Fs, path, entry string, compressed bool, fn func(w io.Writer) (bool, error)) (ok bool, size int64, err error) {
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return false, 0, ioError("create", path, err)
	}

	defer func() {
		if !ok || err != nil {
			_ = fs.Remove(path)
		}
	}()

	ok, err = writeTo(f, entry, compressed, fn)
	if err != nil {
		_ = f.Close()
		return false, 0, err
	}
	if !ok {
		_ = f.Close()
		return false, 0, nil
	}

	if err = f.Sync(); err != nil {
		_ = f.Close()
		return false, 0, ioError("sync", path, err)
	}
	if err = f.Close(); err != nil {
		return false, 0, ioError("close", path, err)
	}

	info, err := fs.Stat(path)
	if err != nil {
		return false, 0, ioError("stat", path, err)
	}
	return true, info.Size(), nil
}

func writeTo(f afero.File, entry string, compressed bool, fn func(w io.Writer) (bool, error)) (bool, error) {
	path := f.Name()
	bw := bufio.NewWriterSize(f, ioBufferSize)

	if !compressed {
		ok, err := fn(bw)
		if err != nil || !ok {
			return false, err
		}
		if err := bw.Flush(); err != nil {
			return false, ioError("write", path, err)
		}
		return true, nil
	}

	archive := zip.NewWriter(bw)
	w, err := archive.Create(entry)
	if err != nil {
		return false, ioError("create archive entry", path, err)
	}

	ok, err := fn(w)
	if err != nil || !ok {
		return false, err
	}

	if err := archive.Close(); err != nil {
		return false, ioError("write archive", path, err)
	}
	if err := bw.Flush(); err != nil {
		return false, ioError("write", path, err)
	}
	return true, nil
}

// --------------------------------------------------------------------------
// Promotion and recovery
// --------------------------------------------------------------------------

// promote turns the backup of the given representation into the canonical
// snapshot and removes the other representation.
//
// committed reports whether the backup became authoritative. It is true as
// soon as the canonical file is gone: if the rename fails afterwards, locate
// recovers the complete backup on the next access.
func promote(fs afero.Fs, paths Paths, compressed bool) (committed bool, err error) {
	canonical := paths.Canonical(compressed)
	backup := paths.Backup(compressed)

	if err := removeIfExists(fs, canonical); err != nil {
		return false, err
	}
	if err := fs.Rename(backup, canonical); err != nil {
		return true, ioError("rename", backup, err)
	}

	// the snapshot now lives in one representation only
	if err := removeIfExists(fs, paths.Canonical(!compressed)); err != nil {
		return true, err
	}
	return true, removeIfExists(fs, paths.Backup(!compressed))
}

// locate finds the snapshot to read, preferring the given representation.
// A backup without a canonical file is promoted, a backup next to a canonical
// file is stale and removed.
func locate(fs afero.Fs, paths Paths, preferCompressed bool) (path string, compressed bool, found bool, err error) {
	for _, c := range []bool{preferCompressed, !preferCompressed} {
		canonical := paths.Canonical(c)
		backup := paths.Backup(c)

		hasCanonical, err := exists(fs, canonical)
		if err != nil {
			return "", false, false, err
		}
		hasBackup, err := exists(fs, backup)
		if err != nil {
			return "", false, false, err
		}

		switch {
		case hasCanonical && hasBackup:
			log.Warningf("removing stale backup %s", backup)
			if err := removeIfExists(fs, backup); err != nil {
				return "", false, false, err
			}
			return canonical, c, true, nil
		case hasCanonical:
			return canonical, c, true, nil
		case hasBackup:
			log.Warningf("recovering snapshot %s from backup %s", canonical, backup)
			if err := fs.Rename(backup, canonical); err != nil {
				return "", false, false, ioError("rename", backup, err)
			}
			return canonical, c, true, nil
		}
	}
	return "", false, false, nil
}

func exists(fs afero.Fs, path string) (bool, error) {
	ok, err := afero.Exists(fs, path)
	if err != nil {
		return false, ioError("stat", path, err)
	}
	return ok, nil
}

func removeIfExists(fs afero.Fs, path string) error {
	if err := fs.Remove(path); err != nil && !isNotExist(err) {
		return ioError("remove", path, err)
	}
	return nil
}

func isNotExist(err error) bool {
	return os.IsNotExist(err) || errors.Is(err, os.ErrNotExist)
}
