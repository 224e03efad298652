package blob

import "github.com/arborstate/vstate/schema"

// FilterConfig declares which types and which Object fields a reader
// materializes. It is the configuration surface the blob reader's
// contract calls for: "if current filter excludes this type, invoke
// the variant's discardSnapshot/discardDelta".
//
// The zero FilterConfig excludes nothing: every type is materialized
// with every field.
type FilterConfig struct {
	// Types, if non-nil, restricts materialization to the named
	// types; a registered type absent from a non-nil Types is
	// discarded wholesale. A nil Types includes every type.
	Types map[string]bool
	// Fields, keyed by type name, restricts an Object's materialized
	// fields to the named set. A type absent from Fields keeps every
	// field.
	Fields map[string]map[string]bool
}

// Includes reports whether typeName is materialized under f.
func (f FilterConfig) Includes(typeName string) bool {
	if f.Types == nil {
		return true
	}
	return f.Types[typeName]
}

// ListensForAll reports whether f excludes no type and no field, the
// condition readengine.Engine.IsListeningForAllPopulatedOrdinals
// reports after a load under this filter.
func (f FilterConfig) ListensForAll() bool {
	return f.Types == nil && f.Fields == nil
}

// KeepSchema returns the (possibly field-filtered) schema f
// materializes for full, preserving full's field order.
func (f FilterConfig) KeepSchema(full *schema.Schema) *schema.Schema {
	fields, ok := f.Fields[full.Name]
	if !ok {
		return full
	}
	return schema.Filter(full, fields)
}
