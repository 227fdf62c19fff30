package text_test

import (
	"testing"
	"time"

	"github.com/ValentinKolb/dSnap/lib/executor"
	"github.com/ValentinKolb/dSnap/lib/persist"
	persisttesting "github.com/ValentinKolb/dSnap/lib/persist/testing"
	"github.com/ValentinKolb/dSnap/lib/persist/text"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

func factory(enc encoding.Encoding) persisttesting.StoreFactory {
	return func(basePath string, exec *executor.Executor, set *persisttesting.StringSet, opts *persist.Options) (*persisttesting.SetStore, error) {
		return text.New[string, persisttesting.Set](basePath, exec, set, &text.Options{
			Options:  *opts,
			Encoding: enc,
		})
	}
}

func TestTextStore(t *testing.T) {
	persisttesting.RunStoreTests(t, "TextStore", factory(nil))
}

func TestTextStoreLatin(t *testing.T) {
	enc, err := text.EncodingByName("windows-1252")
	require.NoError(t, err)
	persisttesting.RunStoreTests(t, "TextStoreLatin", factory(enc))
}

func TestSnapshotGolden(t *testing.T) {
	e := persisttesting.NewEnv(t, factory(nil), false)
	set, store := e.Open(10 * time.Millisecond)

	require.NoError(t, set.Add("hello"))
	require.NoError(t, set.Add("hello2"))
	store.WaitForWritingFinished()
	require.NoError(t, set.Add("third"))
	store.WaitForWritingFinished()

	data, err := persisttesting.ReadSnapshotBytes(e.Fs, store.Paths(), false)
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "snapshot_utf8", data)
}

func TestSnapshotEncodedGolden(t *testing.T) {
	enc, err := text.EncodingByName("windows-1252")
	require.NoError(t, err)

	for _, compressed := range []bool{false, true} {
		e := persisttesting.NewEnv(t, factory(enc), compressed)
		set, store := e.Open(10 * time.Millisecond)

		require.NoError(t, set.Add("café"))
		require.NoError(t, set.Add("naïve"))
		require.NoError(t, store.Close())

		data, err := persisttesting.ReadSnapshotBytes(e.Fs, store.Paths(), compressed)
		require.NoError(t, err)

		g := goldie.New(t)
		g.Assert(t, "snapshot_windows1252", data)

		// decoding restores the original characters
		set2, store2 := e.Open(10 * time.Millisecond)
		found, f, err := store2.Read(persist.ReadHooks{})
		require.NoError(t, err)
		require.True(t, found)
		require.NoError(t, f.Wait())
		assert.Equal(t, []string{"café", "naïve"}, set2.Items())
	}
}

func TestEncodingByName(t *testing.T) {
	enc, err := text.EncodingByName("")
	require.NoError(t, err)
	assert.Equal(t, unicode.UTF8, enc)

	for _, name := range []string{"utf-8", "UTF8", "iso-8859-1", "windows-1252", "utf-16le"} {
		enc, err := text.EncodingByName(name)
		require.NoError(t, err, name)
		assert.NotNil(t, enc, name)
	}

	_, err = text.EncodingByName("klingon")
	assert.Error(t, err)
}
