package persist

import "io"

// Codec is the application side of a store. T is the item type carried by
// write and delete operations, C is the container a snapshot is loaded into
// while pending operations are merged.
//
// The name passed to the hooks is the base file name of the snapshot.
// A hook returning ok == false aborts the current write; the previous
// snapshot stays authoritative.
type Codec[T any, C any] interface {
	// Parse decodes a snapshot into the application's state (bootstrap).
	// Returns whether any data was found.
	Parse(r io.Reader, name string) (found bool, err error)

	// SerializeFull writes the application's complete state.
	// Used for the first snapshot and for WriteAsync.
	SerializeFull(w io.Writer, name string) (ok bool, err error)

	// Load decodes an existing snapshot into a container.
	Load(r io.Reader, name string) (C, error)

	// ApplyWrite merges a write operation into the container.
	ApplyWrite(c C, item T) (C, error)

	// ApplyDelete merges a delete operation into the container.
	ApplyDelete(c C, item T) (C, error)

	// Serialize writes the merged container.
	Serialize(w io.Writer, name string, c C) (ok bool, err error)
}

// ReadHooks are called around the asynchronous load started by Read.
// Both are optional.
type ReadHooks struct {
	// OnStart is called before the snapshot is decoded
	OnStart func()
	// OnStop is called after decoding, also if decoding failed
	OnStop func()
}

// OpKind distinguishes queued operations
type OpKind int

const (
	OpWrite OpKind = iota
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpWrite:
		return "Write"
	case OpDelete:
		return "Delete"
	default:
		return "Unknown"
	}
}

// Op is a queued mutation
type Op[T any] struct {
	Kind OpKind
	Item T
}
