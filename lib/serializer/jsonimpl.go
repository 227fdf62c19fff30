package serializer

import (
	"encoding/json"
	"io"
)

// NewJSONSerializer creates a new serializer using json encoding.
// Values are stored base64 encoded.
func NewJSONSerializer() ISnapshotSerializer {
	return &jsonSerializerImpl{}
}

// jsonSerializerImpl implements the ISnapshotSerializer interface using json encoding
type jsonSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.ISnapshotSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) Encode(w io.Writer, snap Snapshot) error {
	if snap == nil {
		snap = Snapshot{}
	}
	return json.NewEncoder(w).Encode(snap)
}

func (j jsonSerializerImpl) Decode(r io.Reader) (Snapshot, error) {
	snap := make(Snapshot)
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		if err == io.EOF {
			return make(Snapshot), nil
		}
		return nil, err
	}
	return snap, nil
}

func (j jsonSerializerImpl) Name() string {
	return "json"
}
