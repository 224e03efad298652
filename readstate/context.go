package readstate

import (
	"github.com/arborstate/vstate/recycler"
	"github.com/arborstate/vstate/schema"
)

// Context carries the per-load resources a TypeState needs but must
// not hold a back-reference to: the buffer pool swapped between types
// as a delta is applied, and the cross-type reference resolver a List,
// Set, or Map element uses to look up the record an ordinal points to.
// Passing Context explicitly (rather than storing an engine
// back-reference on construction) keeps a TypeState constructible and
// testable in isolation from readengine.Engine.
type Context struct {
	Recycler *recycler.Pool
	Resolve  func(typeName string, ordinal schema.Ordinal) (schema.Record, bool)
}

// Listener brackets every snapshot load or delta application a
// TypeState processes.
type Listener interface {
	BeginUpdate()
	EndUpdate()
}
