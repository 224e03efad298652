// Package schema defines the tagged-variant type registry and record
// model shared by the write and read state engines. A Schema
// describes the shape of exactly one type: an Object (named, typed
// fields), a List, a Set, or a Map. Schemas are immutable once
// constructed and are shared by reference between the write and read
// sides of a cycle.
package schema

import (
	"fmt"

	"github.com/arborstate/vstate/errors"
)

// Kind is the tag discriminating the four schema variants.
type Kind uint8

const (
	// KindObject is an ordered set of named, typed fields.
	KindObject Kind = 1 + iota
	// KindList is a homogeneous ordered collection of one element type.
	KindList
	// KindSet is a homogeneous unordered collection of one element type.
	KindSet
	// KindMap is a homogeneous collection of (key, value) pairs.
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindList:
		return "list"
	case KindSet:
		return "set"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// FieldType is the type tag of a single Object field.
type FieldType uint8

const (
	// FieldBool is a boolean field.
	FieldBool FieldType = 1 + iota
	// FieldInt64 is a signed 64-bit integer field.
	FieldInt64
	// FieldFloat64 is a 64-bit floating point field.
	FieldFloat64
	// FieldString is a UTF-8 string field.
	FieldString
	// FieldBytes is an opaque byte-slice field.
	FieldBytes
	// FieldReference is an ordinal reference into another type's
	// populated records. RefType names the target schema.
	FieldReference
)

func (t FieldType) String() string {
	switch t {
	case FieldBool:
		return "bool"
	case FieldInt64:
		return "int64"
	case FieldFloat64:
		return "float64"
	case FieldString:
		return "string"
	case FieldBytes:
		return "bytes"
	case FieldReference:
		return "reference"
	default:
		return fmt.Sprintf("FieldType(%d)", uint8(t))
	}
}

// Field describes a single named, typed field of an Object schema.
type Field struct {
	Name string
	Type FieldType
	// RefType names the target schema; valid iff Type == FieldReference.
	RefType string
}

// Schema describes the shape of exactly one registered type. Exactly
// the fields relevant to Kind are meaningful; the rest are zero.
type Schema struct {
	Name string
	Kind Kind

	// KindObject.
	Fields     []Field
	PrimaryKey []string

	// KindList, KindSet: element schema name.
	ElementType string
	// KindMap: key and value schema names.
	KeyType   string
	ValueType string
	// KindSet, KindMap: optional hash-key field path, used to derive a
	// stable identity hash for elements that don't carry one directly.
	HashKey []string
}

// Ordinal identifies a record within a single type-state for the
// lifetime of one cycle.
type Ordinal = uint32

// NoOrdinal is the reserved marker for "no such record".
const NoOrdinal Ordinal = ^Ordinal(0)

// Value is the dynamic type of one field or element value: bool,
// int64, float64, string, []byte, or Ordinal (a reference).
type Value any

// Record is a schema-interpreted tuple of values: len(Fields) values
// for an Object, one value for a List/Set element, or two (key,
// value) values for a Map entry.
type Record struct {
	Values []Value
}

// Validate reports a structural problem with s, if any: a primary key
// or hash key naming a field that doesn't exist, a reference field
// with no RefType, or a Kind requiring fields/keys it wasn't given.
func (s *Schema) Validate() error {
	switch s.Kind {
	case KindObject:
		names := make(map[string]bool, len(s.Fields))
		for _, f := range s.Fields {
			if f.Name == "" {
				return errors.E(errors.Invalid, "object field with empty name", s.Name)
			}
			if f.Type == FieldReference && f.RefType == "" {
				return errors.E(errors.Invalid, "reference field missing RefType", s.Name, f.Name)
			}
			names[f.Name] = true
		}
		for _, k := range s.PrimaryKey {
			if !names[k] {
				return errors.E(errors.Invalid, "primary key names unknown field", s.Name, k)
			}
		}
	case KindList:
		if s.ElementType == "" {
			return errors.E(errors.Invalid, "list schema missing ElementType", s.Name)
		}
	case KindSet:
		if s.ElementType == "" {
			return errors.E(errors.Invalid, "set schema missing ElementType", s.Name)
		}
	case KindMap:
		if s.KeyType == "" || s.ValueType == "" {
			return errors.E(errors.Invalid, "map schema missing KeyType/ValueType", s.Name)
		}
	default:
		return errors.E(errors.Invalid, "unknown schema kind", s.Name, s.Kind)
	}
	return nil
}

// Filter returns a copy of s (which must be KindObject) containing
// only the named fields, in their original relative order. The
// returned schema shares no backing array with s. Filter is used to
// build the materialized-subset schema a filtered read type-state
// decodes against, while the original (unfiltered) schema is kept
// alongside it so the decoder can still skip excluded-field bytes at
// the right wire position.
func Filter(s *Schema, keep map[string]bool) *Schema {
	if s.Kind != KindObject {
		return s
	}
	out := &Schema{Name: s.Name, Kind: s.Kind}
	for _, f := range s.Fields {
		if keep == nil || keep[f.Name] {
			out.Fields = append(out.Fields, f)
		}
	}
	for _, k := range s.PrimaryKey {
		if keep == nil || keep[k] {
			out.PrimaryKey = append(out.PrimaryKey, k)
		}
	}
	return out
}
