package serializer

import (
	"encoding/gob"
	"io"
)

// NewGOBSerializer creates a new serializer using Go's binary gob format
func NewGOBSerializer() ISnapshotSerializer {
	return &gobSerializerImpl{}
}

// gobSerializerImpl implements the ISnapshotSerializer interface using gob encoding
type gobSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.ISnapshotSerializer)
// --------------------------------------------------------------------------

func (g gobSerializerImpl) Encode(w io.Writer, snap Snapshot) error {
	return gob.NewEncoder(w).Encode(snap)
}

func (g gobSerializerImpl) Decode(r io.Reader) (Snapshot, error) {
	snap := make(Snapshot)
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		if err == io.EOF {
			return make(Snapshot), nil
		}
		return nil, err
	}
	return snap, nil
}

func (g gobSerializerImpl) Name() string {
	return "gob"
}
