// Package text specializes persist for snapshots stored as text.
//
// A text.Codec receives buffered readers and writers of characters. The
// adapter decodes and encodes them with the configured encoding (UTF-8 by
// default), so codecs never deal with byte encodings themselves.
package text
