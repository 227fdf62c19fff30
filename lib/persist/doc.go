// Package persist keeps an application's in-memory state durable as a
// snapshot file on disk.
//
// The application reports mutations through WriteItem and DeleteItem. The
// store queues them and, once no mutation arrived for the debounce interval,
// runs a flush on the executor's scheduled pool:
//
//  1. load the current snapshot into a container (Codec.Load)
//  2. apply the queued operations in FIFO order (Codec.ApplyWrite, Codec.ApplyDelete)
//  3. write the result to the backup file (Codec.Serialize)
//  4. promote the backup: remove the canonical file, rename the backup
//
// If no snapshot exists yet, the flush writes the application's full state
// instead (Codec.SerializeFull).
//
// # Files
//
// For a base path "name" the store owns four files:
//
//	name          plain snapshot
//	name.bak      plain backup
//	name.zip      compressed snapshot, a zip archive with one entry called "name"
//	name.zip.bak  compressed backup
//
// Read recovers from a crash during promotion: a backup without a canonical
// file is renamed to the canonical file, a backup next to a canonical file is
// removed as stale.
//
// # Waiting
//
// WaitForWritingFinished blocks until the queued operations are flushed. It
// is backed by a gate.Gate that is raised on every mutation and cleared after
// every flush, whether the flush succeeded or not.
//
// # Errors
//
// All errors are of type *Error and carry an ErrCode. Use IsNotFound,
// IsIOFailure, IsApplicationQuitting and IsClosed to classify them. Flush
// failures of the debounce timer go to the executor's failure handler.
//
// The files are accessed through an afero.Fs, tests use afero.NewMemMapFs().
package persist
