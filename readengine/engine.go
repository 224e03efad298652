// Package readengine owns the consumer-side registry of active
// type-states, the shared memory recycler swapped between them during
// a delta, and the version bookkeeping (current randomized tag, header
// tags) a blob reader updates as it loads a snapshot or applies a
// delta.
package readengine

import (
	"sync"

	"github.com/arborstate/vstate/errors"
	"github.com/arborstate/vstate/hashcode"
	"github.com/arborstate/vstate/readstate"
	"github.com/arborstate/vstate/recycler"
	"github.com/arborstate/vstate/schema"
)

// PostInitializer is an optional hook a readstate.TypeState can
// implement to be notified once a snapshot load completes and every
// type-state's references have been wired.
type PostInitializer interface {
	AfterInitialization()
}

// Engine is the consumer-side registry described by the read state
// engine's contract: a name-keyed set of type-states, a single shared
// recycler, and the version tag a blob reader advances as it applies
// a delta.
type Engine struct {
	mu sync.RWMutex

	order      []string
	typeStates map[string]readstate.TypeState
	excluded   map[string]bool

	recycler *recycler.Pool

	currentTag hashcode.Tag
	headerTags map[string]string
	listensAll bool
	wired      bool
}

// New constructs an empty Engine. By default it reports
// IsListeningForAllPopulatedOrdinals true; a blob reader configured
// with a non-empty filter clears this via
// SetListeningForAllPopulatedOrdinals before loading.
func New() *Engine {
	return &Engine{
		typeStates: make(map[string]readstate.TypeState),
		excluded:   make(map[string]bool),
		headerTags: make(map[string]string),
		recycler:   recycler.New(),
		listensAll: true,
	}
}

// AddTypeState registers a materialized type-state produced while
// loading a snapshot, keyed by its schema name.
func (e *Engine) AddTypeState(name string, ts readstate.TypeState) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.typeStates[name]; ok {
		return errors.E(errors.Fatal, errors.DuplicateType, "type already registered", name)
	}
	e.typeStates[name] = ts
	e.order = append(e.order, name)
	return nil
}

// MarkTypeExcluded records that name was deliberately left unregistered
// by the active FilterConfig, rather than missing from a malformed
// blob. WireTypeStatesToSchemas tolerates a reference into an excluded
// type: resolving it later through Resolve simply reports not found,
// exactly as it would for any other ordinal a consumer never
// populated. It is reset by every ReadSnapshot load.
func (e *Engine) MarkTypeExcluded(name string) {
	e.mu.Lock()
	e.excluded[name] = true
	e.mu.Unlock()
}

// ResetExcludedTypes clears the excluded-type set, called by a blob
// reader at the start of a new snapshot load.
func (e *Engine) ResetExcludedTypes() {
	e.mu.Lock()
	e.excluded = make(map[string]bool)
	e.mu.Unlock()
}

// WireTypeStatesToSchemas resolves every reference field's target type
// name (an Object's FieldReference.RefType, or a List/Set/Map's
// ElementType/KeyType/ValueType) to a registered type-state, so that
// later reference resolution (readstate.Context.Resolve) never misses
// for a well-formed snapshot. A target marked excluded via
// MarkTypeExcluded is tolerated rather than treated as a dangling
// reference, since a FilterConfig is allowed to exclude a referenced
// type. It is called once, after every sub-blob in a snapshot has been
// registered.
func (e *Engine) WireTypeStatesToSchemas() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for name, ts := range e.typeStates {
		for _, target := range referencedTypeNames(ts.Schema()) {
			if _, ok := e.typeStates[target]; !ok && !e.excluded[target] {
				return errors.E(errors.UnknownType, "schema references unregistered type", name, target)
			}
		}
	}
	e.wired = true
	return nil
}

// referencedTypeNames returns every target schema name s's records
// point to: an Object's reference field RefTypes, a List/Set's
// ElementType, or a Map's KeyType/ValueType.
func referencedTypeNames(s *schema.Schema) []string {
	switch s.Kind {
	case schema.KindObject:
		var out []string
		for _, f := range s.Fields {
			if f.Type == schema.FieldReference {
				out = append(out, f.RefType)
			}
		}
		return out
	case schema.KindList, schema.KindSet:
		return []string{s.ElementType}
	case schema.KindMap:
		return []string{s.KeyType, s.ValueType}
	default:
		return nil
	}
}

// Resolve looks up the record a reference ordinal in typeName points
// to. It is the function readstate.Context.Resolve is built from.
func (e *Engine) Resolve(typeName string, ordinal schema.Ordinal) (schema.Record, bool) {
	e.mu.RLock()
	ts, ok := e.typeStates[typeName]
	e.mu.RUnlock()
	if !ok {
		return schema.Record{}, false
	}
	return ts.RecordAt(ordinal)
}

// AfterInitialization signals completion of a snapshot load, invoking
// AfterInitialization on every registered type-state that implements
// PostInitializer. It is a PhaseViolation to call this before
// WireTypeStatesToSchemas has completed successfully.
func (e *Engine) AfterInitialization() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.wired {
		return errors.E(errors.Fatal, errors.PhaseViolation, "AfterInitialization called before WireTypeStatesToSchemas")
	}
	for _, ts := range e.typeStates {
		if p, ok := ts.(PostInitializer); ok {
			p.AfterInitialization()
		}
	}
	return nil
}

// TypeStates returns every registered type-state, in registration order.
func (e *Engine) TypeStates() []readstate.TypeState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]readstate.TypeState, 0, len(e.order))
	for _, name := range e.order {
		out = append(out, e.typeStates[name])
	}
	return out
}

// TypeState returns the registered type-state named name, if any.
func (e *Engine) TypeState(name string) (readstate.TypeState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ts, ok := e.typeStates[name]
	return ts, ok
}

// GetMemoryRecycler returns the engine's single shared buffer pool.
// A blob reader swaps it between per-type delta applications.
func (e *Engine) GetMemoryRecycler() *recycler.Pool {
	return e.recycler
}

// SetCurrentRandomizedTag sets the tag the next applied delta's
// origin must match.
func (e *Engine) SetCurrentRandomizedTag(t hashcode.Tag) {
	e.mu.Lock()
	e.currentTag = t
	e.mu.Unlock()
}

// CurrentRandomizedTag returns the tag the next applied delta's origin
// must match.
func (e *Engine) CurrentRandomizedTag() hashcode.Tag {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentTag
}

// SetHeaderTags replaces the engine's header tag set, as read from the
// most recently loaded blob's header.
func (e *Engine) SetHeaderTags(tags map[string]string) {
	e.mu.Lock()
	e.headerTags = tags
	e.mu.Unlock()
}

// HeaderTags returns the header tags from the most recently loaded blob.
func (e *Engine) HeaderTags() map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]string, len(e.headerTags))
	for k, v := range e.headerTags {
		out[k] = v
	}
	return out
}

// SetListeningForAllPopulatedOrdinals records whether the active
// filter excludes any type or field. A producer's RestoreFrom refuses
// to restore against an engine that excludes anything, since a
// restored population would then be incomplete.
func (e *Engine) SetListeningForAllPopulatedOrdinals(v bool) {
	e.mu.Lock()
	e.listensAll = v
	e.mu.Unlock()
}

// IsListeningForAllPopulatedOrdinals reports whether the active filter
// excludes no type and no field.
func (e *Engine) IsListeningForAllPopulatedOrdinals() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.listensAll
}

// Wired reports whether WireTypeStatesToSchemas has completed
// successfully for the current snapshot. AfterInitialization is a
// PhaseViolation if called before this is true.
func (e *Engine) Wired() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.wired
}
