package serializer

import (
	"io"
	"strings"

	"github.com/cockroachdb/errors"
)

// Snapshot is the content of a key-value collection
type Snapshot = map[string][]byte

// ISnapshotSerializer is the interface for all snapshot serializers
type ISnapshotSerializer interface {
	// Encode writes the snapshot to w
	Encode(w io.Writer, snap Snapshot) error
	// Decode reads a snapshot from r
	Decode(r io.Reader) (Snapshot, error)
	// Name returns the name the serializer is selected by
	Name() string
}

// Names of all serializers, the first one is the default
var Names = []string{"binary", "json", "gob"}

// ByName returns the serializer with the given name. An empty name selects the binary serializer.
func ByName(name string) (ISnapshotSerializer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "binary", "":
		return NewBinarySerializer(), nil
	case "json":
		return NewJSONSerializer(), nil
	case "gob":
		return NewGOBSerializer(), nil
	default:
		return nil, errors.Newf("unknown serializer %q, must be one of %s", name, strings.Join(Names, ", "))
	}
}
