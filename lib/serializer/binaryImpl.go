package serializer

import (
	"bufio"
	"encoding/binary"
	"io"
	"sort"

	"github.com/cockroachdb/errors"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and size
func NewBinarySerializer() ISnapshotSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements ISnapshotSerializer using a custom binary format:
//
//	magic   [4]byte "DSNP"
//	version uint8
//	count   uint32
//	count × { keyLen uint32, key, valueLen uint32, value }
//
// All integers are big endian, entries are sorted by key.
type binarySerializerImpl struct {
}

const binaryVersion byte = 1

var binaryMagic = [4]byte{'D', 'S', 'N', 'P'}

// upper bound for a single length field, protects against allocating garbage sizes
const maxFieldLen = 1 << 30

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.ISnapshotSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Encode(w io.Writer, snap Snapshot) error {
	bw := bufio.NewWriter(w)

	// Write header
	if _, err := bw.Write(binaryMagic[:]); err != nil {
		return err
	}
	if err := bw.WriteByte(binaryVersion); err != nil {
		return err
	}

	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var lenBuf [4]byte
	writeField := func(data []byte) error {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
		if _, err := bw.Write(lenBuf[:]); err != nil {
			return err
		}
		_, err := bw.Write(data)
		return err
	}

	// Write entry count
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(keys)))
	if _, err := bw.Write(lenBuf[:]); err != nil {
		return err
	}

	// Write entries
	for _, k := range keys {
		if err := writeField([]byte(k)); err != nil {
			return err
		}
		if err := writeField(snap[k]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func (b binarySerializerImpl) Decode(r io.Reader) (Snapshot, error) {
	br := bufio.NewReader(r)

	// Read header
	var header [5]byte
	n, err := io.ReadFull(br, header[:])
	if n == 0 && err == io.EOF {
		return make(Snapshot), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "data too short for header")
	}
	if [4]byte(header[:4]) != binaryMagic {
		return nil, errors.New("invalid magic header")
	}
	if header[4] != binaryVersion {
		return nil, errors.Newf("unsupported format version %d", header[4])
	}

	var lenBuf [4]byte
	readLen := func(what string) (uint32, error) {
		if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
			return 0, errors.Wrapf(err, "data too short for %s length", what)
		}
		l := binary.BigEndian.Uint32(lenBuf[:])
		if l > maxFieldLen {
			return 0, errors.Newf("%s length %d exceeds limit", what, l)
		}
		return l, nil
	}
	readField := func(what string) ([]byte, error) {
		l, err := readLen(what)
		if err != nil {
			return nil, err
		}
		data := make([]byte, l)
		if _, err := io.ReadFull(br, data); err != nil {
			return nil, errors.Wrapf(err, "data too short for %s data", what)
		}
		return data, nil
	}

	count, err := readLen("entry count")
	if err != nil {
		return nil, err
	}

	snap := make(Snapshot, min(count, 1<<16))
	for i := uint32(0); i < count; i++ {
		key, err := readField("key")
		if err != nil {
			return nil, err
		}
		value, err := readField("value")
		if err != nil {
			return nil, err
		}
		snap[string(key)] = value
	}
	return snap, nil
}

func (b binarySerializerImpl) Name() string {
	return "binary"
}
