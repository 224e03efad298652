// Package writeengine owns the producer-side registry of active
// write states: the phase machine bracketing one cycle
// (AddingRecords, in which callers Add records, and Writing, in which
// a blob is emitted), the randomized tag pair linking one cycle's
// emitted blob to the next, and the header tags a blob carries.
package writeengine

import (
	"context"
	"io"
	"sync"

	"github.com/arborstate/vstate/blob"
	"github.com/arborstate/vstate/errors"
	"github.com/arborstate/vstate/hashcode"
	"github.com/arborstate/vstate/log"
	"github.com/arborstate/vstate/readengine"
	"github.com/arborstate/vstate/readstate"
	"github.com/arborstate/vstate/schema"
	"github.com/arborstate/vstate/traverse"
	"github.com/arborstate/vstate/writestate"
)

// Phase identifies which half of a cycle an Engine is in.
type Phase int

const (
	// AddingRecords is the phase in which Add accumulates records for
	// the current cycle. PrepareForWrite advances the engine out of it.
	AddingRecords Phase = iota
	// Writing is the phase in which the current cycle's delta/snapshot
	// is available to be emitted. PrepareForNextCycle (or
	// ResetToLastPrepareForNextCycle) returns the engine to
	// AddingRecords.
	Writing
)

// Option configures an Engine at construction. The teacher's closest
// analog to a variadic option is a single Options struct parameter
// (s3file.NewImplementation, googleclient.New); New adapts that shape
// into composable closures since callers here configure a handful of
// independent, optional concerns (initial tags, header tags) rather
// than one monolithic settings struct.
type Option func(*Engine)

// WithHeaderTag sets a header tag present on every blob this engine
// emits, in addition to the reserved HashCodesDefined tag computed at
// PrepareForWrite time.
func WithHeaderTag(key, value string) Option {
	return func(e *Engine) { e.headerTags[key] = value }
}

// WithInitialTags seeds the engine's origin/destination tag pair,
// rather than drawing a fresh destination tag. Used by a producer
// resuming from previously persisted tags instead of a cold start.
func WithInitialTags(previous, next hashcode.Tag) Option {
	return func(e *Engine) {
		e.previousTag = previous
		e.nextTag = next
	}
}

// Engine is the write-side registry of per-type accumulators
// described by the write state engine's contract: name-keyed type
// states in registration order, a phase flag gating which calls are
// legal, and the randomized tag pair a blob header records.
type Engine struct {
	mu sync.Mutex

	phase Phase

	order  []string
	states map[string]*writestate.State

	previousTag hashcode.Tag
	nextTag     hashcode.Tag

	headerTags map[string]string

	restored      bool
	restoredTypes map[string]bool
}

// New constructs an empty Engine in the AddingRecords phase, drawing
// a fresh destination tag unless overridden by WithInitialTags.
func New(opts ...Option) *Engine {
	e := &Engine{
		states:        make(map[string]*writestate.State),
		headerTags:    make(map[string]string),
		restoredTypes: make(map[string]bool),
		nextTag:       hashcode.NewTag(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddTypeState registers ts, keyed by its own name. It is a
// DuplicateType error to register the same name twice.
func (e *Engine) AddTypeState(ts *writestate.State) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	name := ts.Name()
	if _, ok := e.states[name]; ok {
		return errors.E(errors.Fatal, errors.DuplicateType, "type already registered", name)
	}
	e.states[name] = ts
	e.order = append(e.order, name)
	return nil
}

// Add accumulates rec as part of typeName's current cycle population,
// returning its ordinal. It is legal in either phase: a late add
// during Writing simply isn't reflected until the next
// PrepareForWrite, matching the teacher's style of permissive
// concurrent accumulation guarded by the per-type State's own lock
// rather than the engine's phase.
func (e *Engine) Add(typeName string, rec schema.Record) (schema.Ordinal, error) {
	e.mu.Lock()
	st, ok := e.states[typeName]
	e.mu.Unlock()
	if !ok {
		return 0, errors.E(errors.UnknownType, "Add called for unregistered type", typeName)
	}
	return st.Add(rec)
}

// PrepareForWrite is a no-op unless the engine is in AddingRecords. It
// fans PrepareForWrite out across every registered type state in
// parallel, computes the HashCodesDefined header tag from the
// non-default finders among them, and advances the engine to Writing.
func (e *Engine) PrepareForWrite(ctx context.Context) error {
	e.mu.Lock()
	if e.phase != AddingRecords {
		e.mu.Unlock()
		return nil
	}
	states := e.orderedStatesLocked()
	e.mu.Unlock()

	if err := traverse.Parallel(len(states)).Do(func(i int) error {
		return states[i].PrepareForWrite(ctx)
	}); err != nil {
		return errors.E(errors.WorkerFailure, "preparing type states for write", err)
	}

	e.mu.Lock()
	e.headerTags[hashcode.HashCodesDefinedKey] = hashcode.EncodeHashCodesDefined(nonDefaultHashTypeNames(states))
	e.phase = Writing
	e.mu.Unlock()
	log.Debug.Printf("writeengine: prepared %d type states for write", len(states))
	return nil
}

// nonDefaultHashTypeNames returns the names of every state whose
// Finder is not the library default, for the HashCodesDefined header
// tag. hashcode.EncodeHashCodesDefined sorts the result, so the order
// states are passed in does not matter.
func nonDefaultHashTypeNames(states []*writestate.State) []string {
	var out []string
	for _, st := range states {
		if !st.Finder().UsesDefault() {
			out = append(out, st.Name())
		}
	}
	return out
}

// PrepareForNextCycle is a no-op unless the engine is in Writing. It
// rotates the tag pair, fans PrepareForNextCycle out across every
// type state, clears the restored-type bookkeeping, and returns the
// engine to AddingRecords.
func (e *Engine) PrepareForNextCycle() {
	e.mu.Lock()
	if e.phase != Writing {
		e.mu.Unlock()
		return
	}
	states := e.orderedStatesLocked()
	e.previousTag = e.nextTag
	e.nextTag = hashcode.NewTag()
	e.mu.Unlock()

	_ = traverse.Parallel(len(states)).Do(func(i int) error {
		states[i].PrepareForNextCycle()
		return nil
	})

	e.mu.Lock()
	e.restoredTypes = make(map[string]bool)
	e.phase = AddingRecords
	e.mu.Unlock()
}

// AddAllObjectsFromPreviousCycle copies every type state's previous
// cycle population back into the current cycle unchanged, producing
// an idempotent cycle once PrepareForWrite runs.
func (e *Engine) AddAllObjectsFromPreviousCycle(ctx context.Context) error {
	e.mu.Lock()
	states := e.orderedStatesLocked()
	e.mu.Unlock()
	return traverse.Parallel(len(states)).Do(func(i int) error {
		return states[i].AddAllObjectsFromPreviousCycle(ctx)
	})
}

// ResetToLastPrepareForNextCycle discards every record added since
// the most recent PrepareForNextCycle across every type state,
// re-rolls the destination tag (since whatever was about to be
// written no longer reflects the discarded additions), and returns
// the engine to AddingRecords. Callable from either phase.
func (e *Engine) ResetToLastPrepareForNextCycle() {
	e.mu.Lock()
	states := e.orderedStatesLocked()
	e.nextTag = hashcode.NewTag()
	e.phase = AddingRecords
	e.mu.Unlock()
	_ = traverse.Parallel(len(states)).Do(func(i int) error {
		states[i].ResetToLastPrepareForNextCycle()
		return nil
	})
}

// RestoreFrom seeds every type state this engine shares with r's
// registered type states from r's current population, so a restarted
// producer can resume a delta chain rather than re-emitting a full
// snapshot. It is a RestoreRejected error to restore from a read
// engine that excludes any type or field, since the restored
// population would then be incomplete.
func (e *Engine) RestoreFrom(ctx context.Context, r *readengine.Engine) error {
	if !r.IsListeningForAllPopulatedOrdinals() {
		return errors.E(errors.RestoreRejected, "read engine does not listen for all populated ordinals")
	}

	e.mu.Lock()
	type pair struct {
		name string
		dst  *writestate.State
		src  readstate.TypeState
	}
	var pairs []pair
	for _, name := range e.order {
		src, ok := r.TypeState(name)
		if !ok {
			continue
		}
		pairs = append(pairs, pair{name: name, dst: e.states[name], src: src})
	}
	e.mu.Unlock()

	if err := traverse.Parallel(len(pairs)).Do(func(i int) error {
		return pairs[i].dst.RestoreFrom(ctx, pairs[i].src)
	}); err != nil {
		return errors.E(errors.RestoreRejected, "restoring from read engine", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.previousTag = r.CurrentRandomizedTag()
	e.nextTag = hashcode.NewTag()
	e.restored = true
	for _, p := range pairs {
		e.restoredTypes[p.name] = true
	}
	return nil
}

// HasChangedSinceLastCycle reports whether any registered type state
// found an addition or removal at the most recent PrepareForWrite.
func (e *Engine) HasChangedSinceLastCycle() bool {
	e.mu.Lock()
	states := e.orderedStatesLocked()
	e.mu.Unlock()
	for _, st := range states {
		if st.HasChangedSinceLastCycle() {
			return true
		}
	}
	return false
}

// CanProduceDelta reports whether the engine's current state supports
// emitting a delta rather than a full snapshot: true if the engine
// has never been restored, otherwise true only if every type state
// restored via RestoreFrom is itself IsRestored (i.e. the restore
// actually succeeded). A type state's restored flag is not cleared
// by ResetToLastPrepareForNextCycle.
func (e *Engine) CanProduceDelta() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.restored {
		return true
	}
	for name := range e.restoredTypes {
		st, ok := e.states[name]
		if !ok || !st.IsRestored() {
			return false
		}
	}
	return true
}

// OrderedTypeStates returns every registered type state, in
// registration order.
func (e *Engine) OrderedTypeStates() []*writestate.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orderedStatesLocked()
}

func (e *Engine) orderedStatesLocked() []*writestate.State {
	out := make([]*writestate.State, 0, len(e.order))
	for _, name := range e.order {
		out = append(out, e.states[name])
	}
	return out
}

// TypeState returns the registered type state named name, if any.
func (e *Engine) TypeState(name string) (*writestate.State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[name]
	return st, ok
}

// AddHeaderTag sets a header tag present on every future blob this
// engine emits. HashCodesDefined is reserved and is overwritten by
// PrepareForWrite; setting it here has no lasting effect.
func (e *Engine) AddHeaderTag(key, value string) {
	e.mu.Lock()
	e.headerTags[key] = value
	e.mu.Unlock()
}

// OriginTag returns the tag of the population the next emitted blob
// transitions away from.
func (e *Engine) OriginTag() hashcode.Tag {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.previousTag
}

// DestinationTag returns the tag of the population the next emitted
// blob transitions to.
func (e *Engine) DestinationTag() hashcode.Tag {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nextTag
}

// OverridePreviousStateRandomizedTag forcibly sets the origin tag.
// Unsafe: intended only for tests and for disaster-recovery tooling
// reattaching a producer to a consumer population outside the normal
// RestoreFrom path.
func (e *Engine) OverridePreviousStateRandomizedTag(t hashcode.Tag) {
	e.mu.Lock()
	e.previousTag = t
	e.mu.Unlock()
}

// OverrideNextStateRandomizedTag forcibly sets the destination tag.
// Unsafe: see OverridePreviousStateRandomizedTag.
func (e *Engine) OverrideNextStateRandomizedTag(t hashcode.Tag) {
	e.mu.Lock()
	e.nextTag = t
	e.mu.Unlock()
}

// Phase reports which half of a cycle the engine is in.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// typesForBlob builds the blob.Type list WriteSnapshot/WriteDelta pass
// to the blob writer, from the current state of every registered type.
func (e *Engine) typesForBlob() []blob.Type {
	states := e.OrderedTypeStates()
	out := make([]blob.Type, 0, len(states))
	for _, st := range states {
		out = append(out, blob.Type{
			Name:     st.Name(),
			Schema:   st.Schema(),
			Ordinals: st.Ordinals(),
			Removed:  st.RemovedOrdinals(),
			Added:    st.AddedOrdinals(),
			At:       readstate.RecordAt(st.Record),
		})
	}
	return out
}

// WriteSnapshot emits a full snapshot blob of every registered type
// state's current population to w. It is meaningful only once the
// engine is in the Writing phase (after PrepareForWrite).
func (e *Engine) WriteSnapshot(w io.Writer) error {
	e.mu.Lock()
	origin, destination, tags := e.previousTag, e.nextTag, e.copyHeaderTagsLocked()
	e.mu.Unlock()
	n, err := blob.NewWriter().WriteSnapshot(w, origin, destination, tags, e.typesForBlob())
	if err != nil {
		return err
	}
	log.Debug.Printf("writeengine: wrote snapshot of %d types", n)
	return nil
}

// WriteDelta emits a delta blob (added/removed ordinals per type,
// relative to the previous cycle) to w. It is meaningful only once the
// engine is in the Writing phase.
func (e *Engine) WriteDelta(w io.Writer) error {
	e.mu.Lock()
	origin, destination, tags := e.previousTag, e.nextTag, e.copyHeaderTagsLocked()
	e.mu.Unlock()
	n, err := blob.NewWriter().WriteDelta(w, origin, destination, tags, e.typesForBlob())
	if err != nil {
		return err
	}
	log.Debug.Printf("writeengine: wrote delta of %d types", n)
	return nil
}

// WriteReverseDelta emits a delta that would transform the
// destination population back to the origin population: the
// supplement to RestoreFrom, letting a consumer roll back one cycle
// instead of rolling forward.
func (e *Engine) WriteReverseDelta(w io.Writer) error {
	e.mu.Lock()
	origin, destination, tags := e.nextTag, e.previousTag, e.copyHeaderTagsLocked()
	e.mu.Unlock()
	states := e.OrderedTypeStates()
	reversed := make([]blob.Type, len(states))
	for i, st := range states {
		reversed[i] = blob.Type{
			Name:     st.Name(),
			Schema:   st.Schema(),
			Ordinals: st.Ordinals(),
			Removed:  st.AddedOrdinals(),
			Added:    st.RemovedOrdinals(),
			At:       previousOrCurrentRecordAt(st),
		}
	}
	n, err := blob.NewWriter().WriteDelta(w, origin, destination, tags, reversed)
	if err != nil {
		return err
	}
	log.Debug.Printf("writeengine: wrote reverse delta of %d types", n)
	return nil
}

// previousOrCurrentRecordAt resolves an ordinal against the previous
// cycle's records first, falling back to the current cycle's: a
// reverse delta's "added" ordinals are the forward delta's removed
// ones, which live only in the previous population.
func previousOrCurrentRecordAt(st *writestate.State) readstate.RecordAt {
	return func(o schema.Ordinal) (schema.Record, bool) {
		if rec, ok := st.PreviousRecord(o); ok {
			return rec, true
		}
		return st.Record(o)
	}
}

func (e *Engine) copyHeaderTagsLocked() map[string]string {
	out := make(map[string]string, len(e.headerTags))
	for k, v := range e.headerTags {
		out[k] = v
	}
	return out
}
