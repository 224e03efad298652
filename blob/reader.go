package blob

import (
	"bytes"
	"io"

	"github.com/arborstate/vstate/errors"
	"github.com/arborstate/vstate/hashcode"
	"github.com/arborstate/vstate/readengine"
	"github.com/arborstate/vstate/readstate"
	"github.com/arborstate/vstate/schema"
	"github.com/arborstate/vstate/wire"
)

// Reader loads snapshot and delta blobs into a readengine.Engine,
// materializing only the types and fields Filter selects. The zero
// Reader excludes nothing.
type Reader struct {
	Filter FilterConfig
}

// NewReader constructs a Reader filtering per filter.
func NewReader(filter FilterConfig) *Reader {
	return &Reader{Filter: filter}
}

// ReadSnapshot replaces engine's entire population by decoding a
// snapshot blob from r: for each sub-blob, a materialized type state
// is constructed and registered unless Filter excludes it, in which
// case its payload is drained without decoding. After every sub-blob
// is processed, engine's type states are wired to each other's
// schemas and AfterInitialization is invoked.
func (br *Reader) ReadSnapshot(r io.Reader, engine *readengine.Engine) error {
	wr := wire.NewReader(r)
	header, err := wire.ReadHeader(wr)
	if err != nil {
		return err
	}
	engine.SetCurrentRandomizedTag(hashcode.Tag(header.Destination))
	engine.SetHeaderTags(header.Tags)
	engine.SetListeningForAllPopulatedOrdinals(br.Filter.ListensForAll())
	engine.ResetExcludedTypes()
	compressed := header.Tags[wire.CompressionKey] == "1"

	n, err := wire.ReadUvarint(wr)
	if err != nil {
		return err
	}
	ctx := &readstate.Context{Recycler: engine.GetMemoryRecycler(), Resolve: engine.Resolve}
	for i := uint64(0); i < n; i++ {
		full, payload, err := readSubBlob(wr, header.Version, compressed)
		if err != nil {
			return err
		}
		if !br.Filter.Includes(full.Name) {
			engine.MarkTypeExcluded(full.Name)
			if err := readstate.DiscardSnapshot(wire.NewReader(bytes.NewReader(payload)), full); err != nil {
				return err
			}
			continue
		}
		ts := readstate.New(br.Filter.KeepSchema(full), full)
		if err := ts.ReadSnapshot(wire.NewReader(bytes.NewReader(payload)), full, ctx); err != nil {
			return err
		}
		if err := engine.AddTypeState(full.Name, ts); err != nil {
			return err
		}
	}
	ctx.Recycler.Reset()
	if err := engine.WireTypeStatesToSchemas(); err != nil {
		return err
	}
	return engine.AfterInitialization()
}

// ApplyDelta mutates engine's population by decoding a delta blob
// from r. It is a DeltaMismatch error if the blob's origin tag does
// not match engine's current tag. No wiring step runs: reference
// targets were already resolved at snapshot load time.
func (br *Reader) ApplyDelta(r io.Reader, engine *readengine.Engine) error {
	wr := wire.NewReader(r)
	header, err := wire.ReadHeader(wr)
	if err != nil {
		return err
	}
	if hashcode.Tag(header.Origin) != engine.CurrentRandomizedTag() {
		return errors.E(errors.DeltaMismatch, errors.Temporary, "delta origin tag does not match current tag")
	}
	engine.SetCurrentRandomizedTag(hashcode.Tag(header.Destination))
	engine.SetHeaderTags(header.Tags)
	compressed := header.Tags[wire.CompressionKey] == "1"

	n, err := wire.ReadUvarint(wr)
	if err != nil {
		return err
	}
	ctx := &readstate.Context{Recycler: engine.GetMemoryRecycler(), Resolve: engine.Resolve}
	for i := uint64(0); i < n; i++ {
		full, payload, err := readSubBlob(wr, header.Version, compressed)
		if err != nil {
			return err
		}
		ts, ok := engine.TypeState(full.Name)
		if !ok {
			if err := readstate.DiscardDelta(wire.NewReader(bytes.NewReader(payload)), full); err != nil {
				return err
			}
			continue
		}
		if err := ts.ApplyDelta(wire.NewReader(bytes.NewReader(payload)), full, ctx); err != nil {
			return err
		}
	}
	// Reset once the whole delta is applied, not after each type: a
	// buffer one type's decode returns to the pool above must still be
	// available to the very next type's decode in this same loop.
	// Resetting here only releases what's left idle once this blob is
	// fully processed.
	ctx.Recycler.Reset()
	return nil
}

// readSubBlob decodes one type-sub-blob's schema and verified
// payload, skipping any forward-compat padding (omitted entirely for
// the legacy format version) and inflating the payload when the blob
// declared compression.
func readSubBlob(r *wire.Reader, version wire.FormatVersion, compressed bool) (*schema.Schema, []byte, error) {
	full, err := schema.Decode(r)
	if err != nil {
		return nil, nil, err
	}
	if version != wire.Legacy {
		padLen, err := wire.ReadUvarint(r)
		if err != nil {
			return nil, nil, err
		}
		if padLen > 0 {
			if _, err := io.CopyN(io.Discard, r, int64(padLen)); err != nil {
				return nil, nil, errors.E(errors.TruncatedStream, "discarding forward-compat padding", err)
			}
		}
	}
	payloadLen, err := wire.ReadUvarint(r)
	if err != nil {
		return nil, nil, err
	}
	buf := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, nil, errors.E(errors.TruncatedStream, "reading sub-blob payload", err)
	}
	if err := wire.VerifyChecksum(r, buf); err != nil {
		return nil, nil, err
	}
	if compressed {
		buf, err = inflate(buf)
		if err != nil {
			return nil, nil, err
		}
	}
	return full, buf, nil
}
