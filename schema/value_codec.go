package schema

import (
	"io"
	"math"

	"github.com/arborstate/vstate/errors"
	"github.com/arborstate/vstate/recycler"
	"github.com/arborstate/vstate/wire"
)

// EncodeValue writes a single field or element value of type ft to w.
func EncodeValue(w io.Writer, ft FieldType, v Value) error {
	switch ft {
	case FieldBool:
		b := byte(0)
		if v.(bool) {
			b = 1
		}
		_, err := w.Write([]byte{b})
		return err
	case FieldInt64:
		return wire.WriteVarint(w, v.(int64))
	case FieldFloat64:
		return wire.WriteUint64(w, math.Float64bits(v.(float64)))
	case FieldString:
		return wire.WriteString(w, v.(string))
	case FieldBytes:
		return wire.WriteBytes(w, v.([]byte))
	case FieldReference:
		return wire.WriteUvarint(w, uint64(toOrdinal(v)))
	default:
		return errors.E(errors.Invalid, "unknown field type", ft)
	}
}

// DecodeValue reads a single field or element value of type ft from r.
func DecodeValue(r *wire.Reader, ft FieldType) (Value, error) {
	switch ft {
	case FieldBool:
		b, err := r.ReadByte()
		if err != nil {
			return nil, errors.E(errors.TruncatedStream, "reading bool field", err)
		}
		return b != 0, nil
	case FieldInt64:
		return wire.ReadVarint(r)
	case FieldFloat64:
		u, err := wire.ReadUint64(r)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(u), nil
	case FieldString:
		return wire.ReadString(r)
	case FieldBytes:
		return wire.ReadBytes(r)
	case FieldReference:
		u, err := wire.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		return Ordinal(u), nil
	default:
		return nil, errors.E(errors.Invalid, "unknown field type", ft)
	}
}

// readPayload reads a VarInt-length-prefixed byte payload from r. When
// pool is non-nil, the transient read buffer is drawn from it
// (pool.Get) and returned (pool.Put) the moment its bytes are copied
// into the freshly allocated result, so the scratch space a String or
// Bytes field borrowed to decode is available again for the very next
// field or record decoded against the same pool.
func readPayload(r *wire.Reader, pool *recycler.Pool) ([]byte, error) {
	n, err := wire.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, errors.E(errors.TruncatedStream, "reading length-prefixed payload", err)
		}
		return buf, nil
	}
	scratch := pool.Get(int(n))[:n]
	if _, err := io.ReadFull(r, scratch); err != nil {
		return nil, errors.E(errors.TruncatedStream, "reading length-prefixed payload", err)
	}
	out := make([]byte, n)
	copy(out, scratch)
	pool.Put(scratch[:0])
	return out, nil
}

// DecodeValueWithPool is DecodeValue, except a String or Bytes field's
// transient read buffer is drawn from pool instead of allocated fresh.
// Other field types are fixed-size and gain nothing from pooling, so
// they delegate straight to DecodeValue.
func DecodeValueWithPool(r *wire.Reader, ft FieldType, pool *recycler.Pool) (Value, error) {
	switch ft {
	case FieldString:
		buf, err := readPayload(r, pool)
		if err != nil {
			return nil, err
		}
		return string(buf), nil
	case FieldBytes:
		return readPayload(r, pool)
	default:
		return DecodeValue(r, ft)
	}
}

// SkipValue reads and discards a single field or element value of
// type ft from r, without allocating its decoded form. It is used to
// drain bytes for fields excluded by a filter, preserving wire
// position for the fields that follow.
func SkipValue(r *wire.Reader, ft FieldType) error {
	_, err := DecodeValue(r, ft)
	return err
}

// EncodeRecord writes rec, interpreted according to s.Kind, to w:
// field values in declaration order for an Object, a single element
// reference for a List/Set, or a (key, value) reference pair for a Map.
func EncodeRecord(w io.Writer, s *Schema, rec Record) error {
	switch s.Kind {
	case KindObject:
		for i, f := range s.Fields {
			if err := EncodeValue(w, f.Type, rec.Values[i]); err != nil {
				return err
			}
		}
		return nil
	case KindList, KindSet:
		return EncodeValue(w, FieldReference, rec.Values[0])
	case KindMap:
		if err := EncodeValue(w, FieldReference, rec.Values[0]); err != nil {
			return err
		}
		return EncodeValue(w, FieldReference, rec.Values[1])
	default:
		return errors.E(errors.Invalid, "unknown schema kind", s.Kind)
	}
}

// DecodeRecord reads one record from r, using full (the unfiltered
// schema) to determine wire layout and keep (possibly full itself) to
// decide which Object fields to materialize versus skip. For
// List/Set/Map, keep is ignored: those kinds carry no per-field filter.
func DecodeRecord(r *wire.Reader, full, keep *Schema) (Record, error) {
	switch full.Kind {
	case KindObject:
		names := make(map[string]bool, len(keep.Fields))
		for _, f := range keep.Fields {
			names[f.Name] = true
		}
		values := make([]Value, 0, len(keep.Fields))
		for _, f := range full.Fields {
			if names[f.Name] {
				v, err := DecodeValue(r, f.Type)
				if err != nil {
					return Record{}, err
				}
				values = append(values, v)
			} else if err := SkipValue(r, f.Type); err != nil {
				return Record{}, err
			}
		}
		return Record{Values: values}, nil
	case KindList, KindSet:
		v, err := DecodeValue(r, FieldReference)
		if err != nil {
			return Record{}, err
		}
		return Record{Values: []Value{v}}, nil
	case KindMap:
		k, err := DecodeValue(r, FieldReference)
		if err != nil {
			return Record{}, err
		}
		v, err := DecodeValue(r, FieldReference)
		if err != nil {
			return Record{}, err
		}
		return Record{Values: []Value{k, v}}, nil
	default:
		return Record{}, errors.E(errors.Invalid, "unknown schema kind", full.Kind)
	}
}

// DecodeRecordWithPool is DecodeRecord, except every materialized
// String or Bytes value is decoded through pool rather than allocating
// fresh scratch space each time. Passing a nil pool behaves exactly
// like DecodeRecord.
func DecodeRecordWithPool(r *wire.Reader, full, keep *Schema, pool *recycler.Pool) (Record, error) {
	switch full.Kind {
	case KindObject:
		names := make(map[string]bool, len(keep.Fields))
		for _, f := range keep.Fields {
			names[f.Name] = true
		}
		values := make([]Value, 0, len(keep.Fields))
		for _, f := range full.Fields {
			if names[f.Name] {
				v, err := DecodeValueWithPool(r, f.Type, pool)
				if err != nil {
					return Record{}, err
				}
				values = append(values, v)
			} else if err := SkipValue(r, f.Type); err != nil {
				return Record{}, err
			}
		}
		return Record{Values: values}, nil
	case KindList, KindSet:
		v, err := DecodeValueWithPool(r, FieldReference, pool)
		if err != nil {
			return Record{}, err
		}
		return Record{Values: []Value{v}}, nil
	case KindMap:
		k, err := DecodeValueWithPool(r, FieldReference, pool)
		if err != nil {
			return Record{}, err
		}
		v, err := DecodeValueWithPool(r, FieldReference, pool)
		if err != nil {
			return Record{}, err
		}
		return Record{Values: []Value{k, v}}, nil
	default:
		return Record{}, errors.E(errors.Invalid, "unknown schema kind", full.Kind)
	}
}

// SkipRecord reads and discards one record of s's shape from r,
// without decoding any values, for a type excluded entirely by a
// filter.
func SkipRecord(r *wire.Reader, s *Schema) error {
	switch s.Kind {
	case KindObject:
		for _, f := range s.Fields {
			if err := SkipValue(r, f.Type); err != nil {
				return err
			}
		}
		return nil
	case KindList, KindSet:
		return SkipValue(r, FieldReference)
	case KindMap:
		if err := SkipValue(r, FieldReference); err != nil {
			return err
		}
		return SkipValue(r, FieldReference)
	default:
		return errors.E(errors.Invalid, "unknown schema kind", s.Kind)
	}
}

func toOrdinal(v Value) Ordinal {
	if o, ok := v.(Ordinal); ok {
		return o
	}
	return NoOrdinal
}
