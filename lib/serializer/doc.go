// Package serializer encodes the content of a key-value collection
// (map[string][]byte) for snapshot files.
//
// Key Components:
//
//   - ISnapshotSerializer: interface that all serializer implementations satisfy.
//
//   - binarySerializerImpl: compact custom format with a magic header, a version
//     byte and length prefixed entries sorted by key. The output is deterministic,
//     equal collections produce equal bytes. Default.
//
//   - jsonSerializerImpl: JSON object with base64 encoded values. Human readable,
//     useful for debugging.
//
//   - gobSerializerImpl: Go's gob encoding of the map.
//
// All implementations are stateless and safe for concurrent use.
//
// Usage:
//
//	s, err := serializer.ByName("binary")
//	err = s.Encode(w, snap)
//	snap, err = s.Decode(r)
package serializer
