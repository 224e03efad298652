package schema

import (
	"io"

	"github.com/arborstate/vstate/errors"
	"github.com/arborstate/vstate/wire"
)

// Encode writes s to w in the self-framed tag(byte), name(string),
// body-per-tag format: tag, name, then a body shaped by Kind.
func Encode(w io.Writer, s *Schema) error {
	if _, err := w.Write([]byte{byte(s.Kind)}); err != nil {
		return err
	}
	if err := wire.WriteString(w, s.Name); err != nil {
		return err
	}
	switch s.Kind {
	case KindObject:
		if err := wire.WriteUvarint(w, uint64(len(s.Fields))); err != nil {
			return err
		}
		for _, f := range s.Fields {
			if err := wire.WriteString(w, f.Name); err != nil {
				return err
			}
			if _, err := w.Write([]byte{byte(f.Type)}); err != nil {
				return err
			}
			if f.Type == FieldReference {
				if err := wire.WriteString(w, f.RefType); err != nil {
					return err
				}
			}
		}
		if err := writeStrings(w, s.PrimaryKey); err != nil {
			return err
		}
	case KindList:
		if err := wire.WriteString(w, s.ElementType); err != nil {
			return err
		}
	case KindSet:
		if err := wire.WriteString(w, s.ElementType); err != nil {
			return err
		}
		if err := writeStrings(w, s.HashKey); err != nil {
			return err
		}
	case KindMap:
		if err := wire.WriteString(w, s.KeyType); err != nil {
			return err
		}
		if err := wire.WriteString(w, s.ValueType); err != nil {
			return err
		}
		if err := writeStrings(w, s.HashKey); err != nil {
			return err
		}
	default:
		return errors.E(errors.Invalid, "encoding unknown schema kind", s.Name)
	}
	return nil
}

// Decode reads a schema from r in the format written by Encode.
func Decode(r *wire.Reader) (*Schema, error) {
	tagByte, err := r.ReadByte()
	if err != nil {
		return nil, errors.E(errors.TruncatedStream, "reading schema tag", err)
	}
	s := &Schema{Kind: Kind(tagByte)}
	s.Name, err = wire.ReadString(r)
	if err != nil {
		return nil, err
	}
	switch s.Kind {
	case KindObject:
		n, err := wire.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		s.Fields = make([]Field, n)
		for i := range s.Fields {
			name, err := wire.ReadString(r)
			if err != nil {
				return nil, err
			}
			typeByte, err := r.ReadByte()
			if err != nil {
				return nil, errors.E(errors.TruncatedStream, "reading field type", err)
			}
			f := Field{Name: name, Type: FieldType(typeByte)}
			if f.Type == FieldReference {
				f.RefType, err = wire.ReadString(r)
				if err != nil {
					return nil, err
				}
			}
			s.Fields[i] = f
		}
		if s.PrimaryKey, err = readStrings(r); err != nil {
			return nil, err
		}
	case KindList:
		if s.ElementType, err = wire.ReadString(r); err != nil {
			return nil, err
		}
	case KindSet:
		if s.ElementType, err = wire.ReadString(r); err != nil {
			return nil, err
		}
		if s.HashKey, err = readStrings(r); err != nil {
			return nil, err
		}
	case KindMap:
		if s.KeyType, err = wire.ReadString(r); err != nil {
			return nil, err
		}
		if s.ValueType, err = wire.ReadString(r); err != nil {
			return nil, err
		}
		if s.HashKey, err = readStrings(r); err != nil {
			return nil, err
		}
	default:
		return nil, errors.E(errors.VersionUnsupported, "unknown schema kind tag", tagByte)
	}
	return s, nil
}

func writeStrings(w io.Writer, ss []string) error {
	if err := wire.WriteUvarint(w, uint64(len(ss))); err != nil {
		return err
	}
	for _, s := range ss {
		if err := wire.WriteString(w, s); err != nil {
			return err
		}
	}
	return nil
}

func readStrings(r *wire.Reader) ([]string, error) {
	n, err := wire.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]string, n)
	for i := range out {
		if out[i], err = wire.ReadString(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}
