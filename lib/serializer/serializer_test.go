package serializer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() ISnapshotSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

func testSnapshot() Snapshot {
	return Snapshot{
		"alpha":       []byte("1"),
		"beta":        []byte{0x00, 0xff, 0x10},
		"with space":  []byte("value with space"),
		"unicode-Ωμ":  []byte("ü"),
		"empty-value": []byte{},
	}
}

func TestSerializerRoundTrip(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			s := factory()
			snap := testSnapshot()

			var buf bytes.Buffer
			require.NoError(t, s.Encode(&buf, snap))

			decoded, err := s.Decode(&buf)
			require.NoError(t, err)
			require.Len(t, decoded, len(snap))

			for k, v := range snap {
				got, ok := decoded[k]
				require.True(t, ok, "missing key %q", k)
				assert.True(t, bytes.Equal(v, got), "value of %q: want %v, got %v", k, v, got)
			}
		})
	}
}

func TestSerializerEmptyInput(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			decoded, err := factory().Decode(bytes.NewReader(nil))
			require.NoError(t, err)
			assert.Empty(t, decoded)
		})
	}
}

func TestBinaryIsDeterministic(t *testing.T) {
	s := NewBinarySerializer()

	var first, second bytes.Buffer
	require.NoError(t, s.Encode(&first, testSnapshot()))
	require.NoError(t, s.Encode(&second, testSnapshot()))
	assert.Equal(t, first.Bytes(), second.Bytes())
}

func TestBinaryGolden(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewBinarySerializer().Encode(&buf, Snapshot{
		"b": []byte("2"),
		"a": []byte("1"),
	}))

	g := goldie.New(t)
	g.Assert(t, "binary_two_entries", buf.Bytes())
}

func TestBinaryCorruptData(t *testing.T) {
	var valid bytes.Buffer
	require.NoError(t, NewBinarySerializer().Encode(&valid, testSnapshot()))
	data := valid.Bytes()

	testCases := []struct {
		name string
		data []byte
		want string
	}{
		{"ShortHeader", []byte("DSN"), "header"},
		{"BadMagic", append([]byte("XXXX"), data[4:]...), "magic"},
		{"BadVersion", append([]byte("DSNP\x09"), data[5:]...), "version"},
		{"MissingCount", data[:5], "entry count"},
		{"Truncated", data[:len(data)-2], "data too short"},
		{"HugeLength", []byte("DSNP\x01\x00\x00\x00\x01\xff\xff\xff\xff"), "exceeds limit"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewBinarySerializer().Decode(bytes.NewReader(tc.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestByName(t *testing.T) {
	for _, name := range Names {
		s, err := ByName(strings.ToUpper(name))
		require.NoError(t, err)
		assert.Equal(t, name, s.Name())
	}

	s, err := ByName("")
	require.NoError(t, err)
	assert.Equal(t, "binary", s.Name())

	_, err = ByName("xml")
	assert.Error(t, err)
}

func BenchmarkEncode(b *testing.B) {
	snap := make(Snapshot, 1000)
	for i := 0; i < 1000; i++ {
		snap[strings.Repeat("k", i%32)+string(rune('a'+i%26))+strings.Repeat("x", i%7)] = bytes.Repeat([]byte("v"), 64)
	}

	for name, factory := range testSerializers {
		b.Run(name, func(b *testing.B) {
			s := factory()
			var buf bytes.Buffer
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				buf.Reset()
				if err := s.Encode(&buf, snap); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
