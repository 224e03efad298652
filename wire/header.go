package wire

import (
	"io"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/arborstate/vstate/errors"
)

// FormatVersion identifies the blob format a Header declares.
type FormatVersion uint32

const (
	// Legacy is a placeholder version predating per-sub-blob
	// forward-compat padding; readers must not expect a skip-length
	// prefix before a Legacy sub-blob's payload.
	Legacy FormatVersion = 0
	// V1 is the current format: every sub-blob carries a VarInt
	// forward-compat pad length, even when it is zero.
	V1 FormatVersion = 1
)

// Magic precedes every blob's header, letting a reader fail fast on
// non-blob input instead of misinterpreting arbitrary bytes as a
// version number.
var Magic = [4]byte{'v', 's', 't', '1'}

// Header is the per-blob envelope: format version, the origin and
// destination randomized tags (as raw uint64s — package wire sits
// below package hashcode in the dependency graph, so callers convert
// to/from hashcode.Tag at the boundary) bracketing the producer
// transition this blob records, and a free-form string tag map. One
// reserved tag, hashcode.HashCodesDefinedKey, lists the set of type
// names using non-default identity hashing.
type Header struct {
	Version     FormatVersion
	Origin      uint64
	Destination uint64
	Tags        map[string]string
}

// CompressionKey is the header tag recording whether every sub-blob
// payload in this blob is flate-compressed. Its presence (value "1")
// is additive: a reader that ignores it would simply fail to inflate
// the payload, so blob.Reader always checks it explicitly before
// dispatching to a read-state variant.
const CompressionKey = "Compression"

// WriteHeader writes h's magic, version, tags, and randomized tags to w.
func WriteHeader(w io.Writer, h *Header) error {
	if _, err := w.Write(Magic[:]); err != nil {
		return err
	}
	if err := WriteUvarint(w, uint64(h.Version)); err != nil {
		return err
	}
	if err := WriteUint64(w, h.Origin); err != nil {
		return err
	}
	if err := WriteUint64(w, h.Destination); err != nil {
		return err
	}
	keys := make([]string, 0, len(h.Tags))
	for k := range h.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if err := WriteUvarint(w, uint64(len(keys))); err != nil {
		return err
	}
	for _, k := range keys {
		if err := WriteString(w, k); err != nil {
			return err
		}
		if err := WriteString(w, h.Tags[k]); err != nil {
			return err
		}
	}
	return nil
}

// ReadHeader reads a Header written by WriteHeader.
func ReadHeader(r *Reader) (*Header, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, errors.E(errors.TruncatedStream, "reading magic", err)
	}
	if magic != Magic {
		return nil, errors.E(errors.VersionUnsupported, "not a recognized blob: bad magic")
	}
	version, err := ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if FormatVersion(version) != Legacy && FormatVersion(version) != V1 {
		return nil, errors.E(errors.VersionUnsupported, "unrecognized blob format version", version)
	}
	origin, err := ReadUint64(r)
	if err != nil {
		return nil, err
	}
	destination, err := ReadUint64(r)
	if err != nil {
		return nil, err
	}
	n, err := ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	tags := make(map[string]string, n)
	for i := uint64(0); i < n; i++ {
		k, err := ReadString(r)
		if err != nil {
			return nil, err
		}
		v, err := ReadString(r)
		if err != nil {
			return nil, err
		}
		tags[k] = v
	}
	return &Header{
		Version:     FormatVersion(version),
		Origin:      origin,
		Destination: destination,
		Tags:        tags,
	}, nil
}

// checksum computes the xxhash of payload, used to detect a
// sub-blob's payload being truncated or corrupted in transit.
func checksum(payload []byte) uint64 {
	return xxhash.Sum64(payload)
}

// WriteChecksum appends payload's 8-byte little-endian xxhash checksum to w.
func WriteChecksum(w io.Writer, payload []byte) error {
	return WriteUint64(w, checksum(payload))
}

// VerifyChecksum reads an 8-byte checksum from r and compares it
// against payload's xxhash, returning a TruncatedStream error on
// mismatch.
func VerifyChecksum(r *Reader, payload []byte) error {
	want, err := ReadUint64(r)
	if err != nil {
		return err
	}
	if got := checksum(payload); got != want {
		return errors.E(errors.TruncatedStream, "sub-blob checksum mismatch")
	}
	return nil
}
