// Package blob implements the wire-level codec linking a write engine
// to a read engine: a header (format version, origin/destination
// tags, free-form header tags), followed by one self-framed
// (schema, forward-compat padding, length-prefixed payload, checksum)
// sub-blob per registered type, in registration order.
package blob

import (
	"bytes"
	"io"

	"github.com/arborstate/vstate/hashcode"
	"github.com/arborstate/vstate/readstate"
	"github.com/arborstate/vstate/schema"
	"github.com/arborstate/vstate/wire"
)

// Type is one registered type's contribution to an emitted blob: its
// schema, the ordinals a snapshot (Ordinals) or delta (Removed/Added)
// must encode, and a lookup from ordinal to record. Writer is decoupled
// from writestate/writeengine so that those packages may depend on
// blob without a cycle; *writestate.State already exposes exactly the
// methods needed to populate a Type.
type Type struct {
	Name     string
	Schema   *schema.Schema
	Ordinals []schema.Ordinal // snapshot population, ascending
	Removed  []schema.Ordinal // delta: ordinals to drop, ascending
	Added    []schema.Ordinal // delta: ordinals to insert, ascending
	At       readstate.RecordAt
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithCompression turns on flate compression of every sub-blob
// payload, recorded via the wire.CompressionKey header tag so a
// Reader knows to inflate before decoding.
func WithCompression(on bool) WriterOption {
	return func(w *Writer) { w.Compress = on }
}

// Writer emits snapshot and delta blobs.
type Writer struct {
	Compress bool
}

// NewWriter constructs a Writer, applying opts in order.
func NewWriter(opts ...WriterOption) *Writer {
	w := &Writer{}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WriteSnapshot writes a full snapshot of types to w and returns the
// number of type sub-blobs written.
func (bw *Writer) WriteSnapshot(w io.Writer, origin, destination hashcode.Tag, headerTags map[string]string, types []Type) (int, error) {
	return bw.write(w, origin, destination, headerTags, types, false)
}

// WriteDelta writes a delta (added/removed ordinals per type) to w and
// returns the number of type sub-blobs written.
func (bw *Writer) WriteDelta(w io.Writer, origin, destination hashcode.Tag, headerTags map[string]string, types []Type) (int, error) {
	return bw.write(w, origin, destination, headerTags, types, true)
}

func (bw *Writer) write(w io.Writer, origin, destination hashcode.Tag, headerTags map[string]string, types []Type, delta bool) (int, error) {
	tags := make(map[string]string, len(headerTags)+1)
	for k, v := range headerTags {
		tags[k] = v
	}
	if bw.Compress {
		tags[wire.CompressionKey] = "1"
	}
	header := &wire.Header{
		Version:     wire.V1,
		Origin:      uint64(origin),
		Destination: uint64(destination),
		Tags:        tags,
	}
	if err := wire.WriteHeader(w, header); err != nil {
		return 0, err
	}
	if err := wire.WriteUvarint(w, uint64(len(types))); err != nil {
		return 0, err
	}
	for _, t := range types {
		if err := bw.writeType(w, t, delta); err != nil {
			return 0, err
		}
	}
	return len(types), nil
}

func (bw *Writer) writeType(w io.Writer, t Type, delta bool) error {
	if err := schema.Encode(w, t.Schema); err != nil {
		return err
	}

	var payload bytes.Buffer
	if delta {
		if err := readstate.EncodeDelta(&payload, t.Schema, t.Removed, t.Added, t.At); err != nil {
			return err
		}
	} else {
		if err := readstate.EncodeSnapshot(&payload, t.Schema, t.Ordinals, t.At); err != nil {
			return err
		}
	}

	raw := payload.Bytes()
	if bw.Compress {
		compressed, err := deflate(raw)
		if err != nil {
			return err
		}
		raw = compressed
	}

	// Forward-compat padding: this writer emits none, but a zero-length
	// skipBytes prefix still lets a future writer append bytes here
	// that this reader's decode loop will skip.
	if err := wire.WriteUvarint(w, 0); err != nil {
		return err
	}
	if err := wire.WriteUvarint(w, uint64(len(raw))); err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	return wire.WriteChecksum(w, raw)
}
