// Package wire implements the binary codec shared by the blob reader
// and writer: unsigned VarInt encoding, the blob header, and the
// per-type sub-blob framing (schema, forward-compat padding,
// checksum) that wraps each type's payload.
package wire

import (
	"bufio"
	"io"

	"github.com/arborstate/vstate/errors"
)

// Reader is the single buffered-reader type threaded through blob
// decoding. Using one concrete *bufio.Reader throughout (rather than
// wrapping a plain io.Reader anew at each call site) guarantees that
// look-ahead bytes buffered for one VarInt read are still available
// to the next.
type Reader = bufio.Reader

// NewReader wraps r for decoding, unless it is already a *Reader.
func NewReader(r io.Reader) *Reader {
	if br, ok := r.(*Reader); ok {
		return br
	}
	return bufio.NewReader(r)
}

// PutUvarint appends the unsigned VarInt encoding of v to buf and
// returns the extended slice. Encoding uses 7 bits per byte with the
// high bit as a continuation marker, identical to the standard
// library's encoding/binary.PutUvarint, spelled out here because the
// blob format is defined independently of any particular encoder.
func PutUvarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// WriteUvarint writes the unsigned VarInt encoding of v to w.
func WriteUvarint(w io.Writer, v uint64) error {
	var buf [10]byte
	n := 0
	for v >= 0x80 {
		buf[n] = byte(v) | 0x80
		v >>= 7
		n++
	}
	buf[n] = byte(v)
	n++
	_, err := w.Write(buf[:n])
	return err
}

// ReadUvarint reads an unsigned VarInt from r. It returns an
// errors.TruncatedStream error if the stream ends mid-value.
func ReadUvarint(r *Reader) (uint64, error) {
	var x uint64
	var s uint
	for i := 0; ; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && i > 0 {
				err = io.ErrUnexpectedEOF
			}
			return 0, errors.E(errors.TruncatedStream, "reading varint", err)
		}
		if i == 9 && b > 1 {
			return 0, errors.E(errors.TruncatedStream, "varint overflows uint64")
		}
		if b < 0x80 {
			return x | uint64(b)<<s, nil
		}
		x |= uint64(b&0x7f) << s
		s += 7
	}
}

// WriteString writes s as a VarInt length prefix followed by its
// UTF-8 bytes.
func WriteString(w io.Writer, s string) error {
	if err := WriteUvarint(w, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// ReadString reads a VarInt-length-prefixed string from r.
func ReadString(r *Reader) (string, error) {
	n, err := ReadUvarint(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", errors.E(errors.TruncatedStream, "reading string body", err)
	}
	return string(buf), nil
}

// WriteBytes writes b as a VarInt length prefix followed by its bytes.
func WriteBytes(w io.Writer, b []byte) error {
	if err := WriteUvarint(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// ReadBytes reads a VarInt-length-prefixed byte slice from r.
func ReadBytes(r *Reader) ([]byte, error) {
	n, err := ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.E(errors.TruncatedStream, "reading bytes body", err)
	}
	return buf, nil
}

// PutVarint appends the zigzag-encoded VarInt of v to buf.
func PutVarint(buf []byte, v int64) []byte {
	return PutUvarint(buf, uint64(uint64(v)<<1^uint64(v>>63)))
}

// WriteVarint writes the zigzag-encoded VarInt of v to w, so small
// negative numbers cost as few bytes as small positive ones.
func WriteVarint(w io.Writer, v int64) error {
	return WriteUvarint(w, uint64(uint64(v)<<1^uint64(v>>63)))
}

// ReadVarint reads a zigzag-encoded VarInt from r.
func ReadVarint(r *Reader) (int64, error) {
	u, err := ReadUvarint(r)
	if err != nil {
		return 0, err
	}
	return int64(u>>1) ^ -int64(u&1), nil
}

// WriteUint64 writes v to w as 8 raw little-endian bytes, used for
// fields (like a header's randomized tags) that are always fixed-width
// rather than VarInt-compressed.
func WriteUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * uint(i)))
	}
	_, err := w.Write(buf[:])
	return err
}

// ReadUint64 reads 8 raw little-endian bytes from r.
func ReadUint64(r *Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errors.E(errors.TruncatedStream, "reading u64", err)
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(buf[i]) << (8 * uint(i))
	}
	return v, nil
}
