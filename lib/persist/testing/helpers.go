package testing

import (
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dSnap/lib/persist"
	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
)

// RenameFailFs wraps a filesystem and fails the next rename of a backup file
// once FailNextBackupRename is set
type RenameFailFs struct {
	afero.Fs
	FailNextBackupRename atomic.Bool
}

// Rename fails with ErrInjected if armed and oldname is a backup file
func (f *RenameFailFs) Rename(oldname, newname string) error {
	if strings.HasSuffix(oldname, ".bak") && f.FailNextBackupRename.CompareAndSwap(true, false) {
		return ErrInjected
	}
	return f.Fs.Rename(oldname, newname)
}

// FailureRecorder is an executor failure handler that keeps every error
type FailureRecorder struct {
	mu   sync.Mutex
	errs []error
}

// Handle records err
func (r *FailureRecorder) Handle(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

// Count returns the number of recorded errors
func (r *FailureRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

// Errors returns a copy of the recorded errors
func (r *FailureRecorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// ReadSnapshotBytes returns the raw content of the canonical snapshot.
// For a compressed snapshot it returns the content of the archive entry, which
// must be named after the base file.
func ReadSnapshotBytes(fs afero.Fs, paths persist.Paths, compressed bool) ([]byte, error) {
	if !compressed {
		return afero.ReadFile(fs, paths.Plain)
	}

	f, err := fs.Open(paths.Zip)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	archive, err := zip.NewReader(f, info.Size())
	if err != nil {
		return nil, err
	}
	if len(archive.File) != 1 {
		return nil, errors.Newf("expected exactly one archive entry, got %d", len(archive.File))
	}
	if archive.File[0].Name != paths.Entry {
		return nil, errors.Newf("expected archive entry %q, got %q", paths.Entry, archive.File[0].Name)
	}

	rc, err := archive.File[0].Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// ReadSnapshot returns the lines of the canonical snapshot
func ReadSnapshot(fs afero.Fs, paths persist.Paths, compressed bool) ([]string, error) {
	data, err := ReadSnapshotBytes(fs, paths, compressed)
	if err != nil {
		return nil, err
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}
