package text

import (
	"bufio"
	"io"
	"strings"

	"github.com/ValentinKolb/dSnap/lib/executor"
	"github.com/ValentinKolb/dSnap/lib/persist"
	"github.com/cockroachdb/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Codec is a persist.Codec working on decoded characters instead of bytes.
// Readers yield UTF-8 text, text written to the writers is encoded with the
// store's encoding.
type Codec[T any, C any] interface {
	Parse(r *bufio.Reader) (found bool, err error)
	SerializeFull(w *bufio.Writer) (ok bool, err error)
	Load(r *bufio.Reader) (C, error)
	ApplyWrite(c C, item T) (C, error)
	ApplyDelete(c C, item T) (C, error)
	Serialize(w *bufio.Writer, c C) (ok bool, err error)
}

// Options configures a text store
type Options struct {
	persist.Options

	// Encoding of the snapshot file. Defaults to UTF-8.
	Encoding encoding.Encoding
}

// DefaultOptions returns the options used when nil is passed to New
func DefaultOptions() *Options {
	return &Options{
		Options:  *persist.DefaultOptions(),
		Encoding: unicode.UTF8,
	}
}

// New creates a persist.Store whose codec reads and writes text
func New[T any, C any](basePath string, exec *executor.Executor, codec Codec[T, C], opts *Options) (*persist.Store[T, C], error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	storeOpts := opts.Options
	return persist.New[T, C](basePath, exec, Adapt(codec, opts.Encoding), &storeOpts)
}

// EncodingByName looks up an encoding by its IANA or WHATWG name,
// e.g. "utf-8", "iso-8859-1" or "windows-1252"
func EncodingByName(name string) (encoding.Encoding, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return unicode.UTF8, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, errors.Wrapf(err, "unknown encoding %q", name)
	}
	return enc, nil
}

// --------------------------------------------------------------------------
// Adapter
// --------------------------------------------------------------------------

// Adapt turns a text codec into a byte oriented persist.Codec.
// A nil encoding means UTF-8.
func Adapt[T any, C any](codec Codec[T, C], enc encoding.Encoding) persist.Codec[T, C] {
	if enc == nil {
		enc = unicode.UTF8
	}
	return &adapter[T, C]{codec: codec, enc: enc}
}

type adapter[T any, C any] struct {
	codec Codec[T, C]
	enc   encoding.Encoding
}

func (a *adapter[T, C]) reader(r io.Reader) *bufio.Reader {
	return bufio.NewReader(transform.NewReader(r, a.enc.NewDecoder()))
}

// write runs fn on an encoding writer and flushes it afterwards
func (a *adapter[T, C]) write(w io.Writer, fn func(bw *bufio.Writer) (bool, error)) (bool, error) {
	tw := transform.NewWriter(w, a.enc.NewEncoder())
	bw := bufio.NewWriter(tw)

	ok, err := fn(bw)
	if err != nil || !ok {
		return false, err
	}
	if err := bw.Flush(); err != nil {
		return false, errors.Wrap(err, "encode")
	}
	if err := tw.Close(); err != nil {
		return false, errors.Wrap(err, "encode")
	}
	return true, nil
}

func (a *adapter[T, C]) Parse(r io.Reader, _ string) (bool, error) {
	return a.codec.Parse(a.reader(r))
}

func (a *adapter[T, C]) SerializeFull(w io.Writer, _ string) (bool, error) {
	return a.write(w, a.codec.SerializeFull)
}

func (a *adapter[T, C]) Load(r io.Reader, _ string) (C, error) {
	return a.codec.Load(a.reader(r))
}

func (a *adapter[T, C]) ApplyWrite(c C, item T) (C, error) {
	return a.codec.ApplyWrite(c, item)
}

func (a *adapter[T, C]) ApplyDelete(c C, item T) (C, error) {
	return a.codec.ApplyDelete(c, item)
}

func (a *adapter[T, C]) Serialize(w io.Writer, _ string, c C) (bool, error) {
	return a.write(w, func(bw *bufio.Writer) (bool, error) {
		return a.codec.Serialize(bw, c)
	})
}
