// Package readstate implements the read side's per-type state: the
// materialized population of one registered type, kept in sync with a
// producer's cycles by loading a snapshot once and then applying a
// sequence of deltas.
package readstate

import (
	"sync"

	bits "github.com/willf/bitset"

	"github.com/arborstate/vstate/errors"
	"github.com/arborstate/vstate/recycler"
	"github.com/arborstate/vstate/schema"
	"github.com/arborstate/vstate/wire"
)

// pool returns ctx's recycler, or nil if ctx itself is nil, so a
// TypeState used without a Context can still decode through
// DecodeRecordWithPool.
func pool(ctx *Context) *recycler.Pool {
	if ctx == nil {
		return nil
	}
	return ctx.Recycler
}

// TypeState is the read-side materialization of one registered type.
// The four schema kinds share this interface and one implementation
// (recordState), which keeps a possibly-filtered schema; ReadSnapshot
// and ApplyDelta take the wire-declared schema per call, so Object
// decoding can skip bytes for excluded fields while preserving wire
// position.
type TypeState interface {
	Schema() *schema.Schema
	ReadSnapshot(r *wire.Reader, wireSchema *schema.Schema, ctx *Context) error
	ApplyDelta(r *wire.Reader, wireSchema *schema.Schema, ctx *Context) error
	PopulatedOrdinals() []schema.Ordinal
	RecordAt(o schema.Ordinal) (schema.Record, bool)
	Populated() *bits.BitSet
	PreviousPopulated() *bits.BitSet
	AddListener(Listener)
}

// recordState is the shared implementation behind all four TypeState
// variants: the encode/decode shape of a record is fully determined by
// schema.Kind (via the schema package's EncodeRecord/DecodeRecord), so
// Object, List, Set, and Map differ only in the schema they carry, not
// in how they walk the wire.
type recordState struct {
	mu sync.RWMutex

	keep schema.Schema // materialized (possibly filtered) schema

	records           map[schema.Ordinal]schema.Record
	populated         *bits.BitSet
	previousPopulated *bits.BitSet
	listeners         []Listener
}

// New constructs the TypeState variant matching full.Kind. keep is the
// (possibly field-filtered) schema this type state materializes
// against; full is the unfiltered schema as declared on the wire,
// whose Kind selects the variant. Decoding does not keep full: it uses
// the wire schema passed to ReadSnapshot and ApplyDelta.
func New(keep, full *schema.Schema) TypeState {
	base := recordState{
		keep:      *keep,
		records:   make(map[schema.Ordinal]schema.Record),
		populated: bits.New(0),
	}
	switch full.Kind {
	case schema.KindObject:
		return &objectState{base}
	case schema.KindList:
		return &listState{base}
	case schema.KindSet:
		return &setState{base}
	case schema.KindMap:
		return &mapState{base}
	default:
		return &objectState{base}
	}
}

type objectState struct{ recordState }
type listState struct{ recordState }
type setState struct{ recordState }
type mapState struct{ recordState }

func (s *recordState) Schema() *schema.Schema { return &s.keep }

func (s *recordState) AddListener(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

func (s *recordState) notifyBegin() {
	for _, l := range s.listeners {
		l.BeginUpdate()
	}
}

func (s *recordState) notifyEnd() {
	for _, l := range s.listeners {
		l.EndUpdate()
	}
}

func (s *recordState) PopulatedOrdinals() []schema.Ordinal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schema.Ordinal, 0, len(s.records))
	for o := range s.records {
		out = append(out, o)
	}
	return out
}

func (s *recordState) RecordAt(o schema.Ordinal) (schema.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[o]
	return rec, ok
}

func (s *recordState) Populated() *bits.BitSet { return s.populated }

func (s *recordState) PreviousPopulated() *bits.BitSet {
	if s.previousPopulated == nil {
		return bits.New(0)
	}
	return s.previousPopulated
}

// ReadSnapshot fully replaces this type state's contents with the
// population encoded in r, materializing only the fields named by
// s.keep while preserving wire position for the rest.
func (s *recordState) ReadSnapshot(r *wire.Reader, wireSchema *schema.Schema, ctx *Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifyBegin()
	defer s.notifyEnd()

	count, err := wire.ReadUvarint(r)
	if err != nil {
		return err
	}
	records := make(map[schema.Ordinal]schema.Record, count)
	populated := bits.New(uint(count))
	var ordinal schema.Ordinal
	for i := uint64(0); i < count; i++ {
		delta, err := wire.ReadUvarint(r)
		if err != nil {
			return err
		}
		ordinal += schema.Ordinal(delta)
		rec, err := schema.DecodeRecordWithPool(r, wireSchema, &s.keep, pool(ctx))
		if err != nil {
			return errors.E(errors.TruncatedStream, "decoding snapshot record", s.keep.Name, err)
		}
		records[ordinal] = rec
		populated.Set(uint(ordinal))
	}
	s.records = records
	s.previousPopulated = s.populated
	s.populated = populated
	return nil
}

// ApplyDelta mutates this type state's contents toward the next
// published cycle: removing ordinals no longer present, then decoding
// and inserting the newly added ones.
func (s *recordState) ApplyDelta(r *wire.Reader, wireSchema *schema.Schema, ctx *Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifyBegin()
	defer s.notifyEnd()

	s.previousPopulated = s.populated.Clone()

	removedCount, err := wire.ReadUvarint(r)
	if err != nil {
		return err
	}
	var ordinal schema.Ordinal
	for i := uint64(0); i < removedCount; i++ {
		delta, err := wire.ReadUvarint(r)
		if err != nil {
			return err
		}
		ordinal += schema.Ordinal(delta)
		delete(s.records, ordinal)
		s.populated.Clear(uint(ordinal))
	}

	addedCount, err := wire.ReadUvarint(r)
	if err != nil {
		return err
	}
	ordinal = 0
	for i := uint64(0); i < addedCount; i++ {
		delta, err := wire.ReadUvarint(r)
		if err != nil {
			return err
		}
		ordinal += schema.Ordinal(delta)
		rec, err := schema.DecodeRecordWithPool(r, wireSchema, &s.keep, pool(ctx))
		if err != nil {
			return errors.E(errors.TruncatedStream, "decoding delta record", s.keep.Name, err)
		}
		s.records[ordinal] = rec
		s.populated.Set(uint(ordinal))
	}
	return nil
}
