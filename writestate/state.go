// Package writestate implements the per-type write-side state:
// accumulating records added during a cycle, deduplicating them by
// identity hash, and compiling the snapshot/delta payload a blob
// writer needs once the cycle transitions to its write phase.
package writestate

import (
	"context"
	"sort"
	"sync"

	"github.com/arborstate/vstate/bitset"
	"github.com/arborstate/vstate/errors"
	"github.com/arborstate/vstate/hashcode"
	"github.com/arborstate/vstate/schema"
	"github.com/arborstate/vstate/traverse"
)

// RestoreSource is the read-side shape writestate.State.RestoreFrom
// pulls identity from. readstate.TypeState satisfies it structurally;
// writestate does not import readstate, so neither per-type package
// imports the other.
type RestoreSource interface {
	PopulatedOrdinals() []schema.Ordinal
	RecordAt(ordinal schema.Ordinal) (schema.Record, bool)
}

// State is the per-type write-side accumulator described by the
// write state engine's Per-Type Write State component. A State is
// safe for concurrent Add calls (the only call permitted to overlap
// with itself); PrepareForWrite, PrepareForNextCycle,
// ResetToLastPrepareForNextCycle, and RestoreFrom must not be called
// concurrently with Add or with each other — that exclusivity is the
// owning engine's responsibility, not this type's.
type State struct {
	name   string
	schema *schema.Schema
	finder hashcode.Finder

	mu sync.Mutex

	currentHashToOrdinal  map[uint64]schema.Ordinal
	currentRecords        map[schema.Ordinal]schema.Record
	previousHashToOrdinal map[uint64]schema.Ordinal
	previousRecords       map[schema.Ordinal]schema.Record

	nextOrdinal              schema.Ordinal
	nextOrdinalAtLastPrepare schema.Ordinal

	restored bool

	added   []schema.Ordinal
	removed []schema.Ordinal
}

// New constructs a per-type write state for s, identifying records
// with finder. If finder is nil, hashcode.Default is used.
func New(s *schema.Schema, finder hashcode.Finder) *State {
	if finder == nil {
		finder = hashcode.Default
	}
	return &State{
		name:                  s.Name,
		schema:                s,
		finder:                finder,
		currentHashToOrdinal:  make(map[uint64]schema.Ordinal),
		currentRecords:        make(map[schema.Ordinal]schema.Record),
		previousHashToOrdinal: make(map[uint64]schema.Ordinal),
		previousRecords:       make(map[schema.Ordinal]schema.Record),
	}
}

// Name returns the type name this State was constructed for.
func (s *State) Name() string { return s.name }

// Schema returns the schema this State was constructed for.
func (s *State) Schema() *schema.Schema { return s.schema }

// Add records rec as part of the current cycle's population and
// returns its ordinal. Two records added in the same cycle with the
// same identity hash collapse to a single ordinal. If rec's identity
// hash matches a record present in the previous cycle, Add reuses
// that ordinal (delta minimization); otherwise a fresh ordinal is
// allocated.
func (s *State) Add(rec schema.Record) (schema.Ordinal, error) {
	h := s.finder.Hash(s.schema, rec)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(h, rec), nil
}

func (s *State) addLocked(h uint64, rec schema.Record) schema.Ordinal {
	if o, ok := s.currentHashToOrdinal[h]; ok {
		return o
	}
	var o schema.Ordinal
	if prevO, ok := s.previousHashToOrdinal[h]; ok {
		o = prevO
	} else {
		o = s.nextOrdinal
		s.nextOrdinal++
	}
	s.currentHashToOrdinal[h] = o
	s.currentRecords[o] = rec
	return o
}

// PrepareForWrite compiles the current cycle's accumulated records
// against the previous cycle's population, computing the added and
// removed ordinal sets a blob writer needs for a delta (or, for a
// snapshot, simply the full current population via Ordinals).
func (s *State) PrepareForWrite(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added = s.added[:0]
	for o := range s.currentRecords {
		if _, ok := s.previousRecords[o]; !ok {
			s.added = append(s.added, o)
		}
	}
	s.removed = s.removed[:0]
	for o := range s.previousRecords {
		if _, ok := s.currentRecords[o]; !ok {
			s.removed = append(s.removed, o)
		}
	}
	sortOrdinals(s.added)
	sortOrdinals(s.removed)
	return nil
}

// PrepareForNextCycle rotates the current population into the
// previous slot and clears the current population, readying the type
// state for the next cycle's Add calls.
func (s *State) PrepareForNextCycle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.previousHashToOrdinal = s.currentHashToOrdinal
	s.previousRecords = s.currentRecords
	s.currentHashToOrdinal = make(map[uint64]schema.Ordinal, len(s.previousHashToOrdinal))
	s.currentRecords = make(map[schema.Ordinal]schema.Record, len(s.previousRecords))
	s.nextOrdinalAtLastPrepare = s.nextOrdinal
}

// ResetToLastPrepareForNextCycle discards every record added since the
// most recent PrepareForNextCycle, returning the type state to exactly
// the (empty) population it had at that boundary.
func (s *State) ResetToLastPrepareForNextCycle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentHashToOrdinal = make(map[uint64]schema.Ordinal)
	s.currentRecords = make(map[schema.Ordinal]schema.Record)
	s.nextOrdinal = s.nextOrdinalAtLastPrepare
	s.added = nil
	s.removed = nil
}

// AddAllObjectsFromPreviousCycle copies every record from the
// previous cycle's population back into the current cycle unchanged,
// preserving ordinals. It is used to produce an idempotent cycle (one
// whose delta has zero additions and zero removals).
func (s *State) AddAllObjectsFromPreviousCycle(ctx context.Context) error {
	s.mu.Lock()
	type entry struct {
		hash uint64
		ord  schema.Ordinal
		rec  schema.Record
	}
	entries := make([]entry, 0, len(s.previousRecords))
	for h, o := range s.previousHashToOrdinal {
		entries = append(entries, entry{h, o, s.previousRecords[o]})
	}
	s.mu.Unlock()

	var mu sync.Mutex
	err := traverse.Parallel(len(entries)).Do(func(i int) error {
		e := entries[i]
		mu.Lock()
		s.mu.Lock()
		s.currentHashToOrdinal[e.hash] = e.ord
		s.currentRecords[e.ord] = e.rec
		s.mu.Unlock()
		mu.Unlock()
		return nil
	})
	if err != nil {
		return errors.E(errors.WorkerFailure, "copying previous cycle's population", err)
	}
	_ = ctx
	return nil
}

// HasChangedSinceLastCycle reports whether PrepareForWrite found any
// additions or removals relative to the previous cycle's population.
// It is meaningful only after PrepareForWrite has run for the current
// cycle.
func (s *State) HasChangedSinceLastCycle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.added) > 0 || len(s.removed) > 0
}

// IsRestored reports whether this type state was populated by
// RestoreFrom rather than by ordinary Add calls.
func (s *State) IsRestored() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restored
}

// RestoreFrom imports src's populated ordinals as this type's previous
// cycle population, recomputing each record's identity hash with this
// State's finder. It is used to let a producer resume a delta chain
// after a restart, seeded from a consumer's last-loaded snapshot.
func (s *State) RestoreFrom(ctx context.Context, src RestoreSource) error {
	ordinals := src.PopulatedOrdinals()
	previousHashToOrdinal := make(map[uint64]schema.Ordinal, len(ordinals))
	previousRecords := make(map[schema.Ordinal]schema.Record, len(ordinals))

	type result struct {
		ord  schema.Ordinal
		hash uint64
		rec  schema.Record
		ok   bool
	}
	results := make([]result, len(ordinals))
	err := traverse.Parallel(len(ordinals)).Do(func(i int) error {
		o := ordinals[i]
		rec, ok := src.RecordAt(o)
		if !ok {
			return errors.E(errors.RestoreRejected, "source missing record for populated ordinal", o)
		}
		results[i] = result{ord: o, hash: s.finder.Hash(s.schema, rec), rec: rec, ok: true}
		return nil
	})
	if err != nil {
		return errors.E(errors.RestoreRejected, "restoring type", s.name, err)
	}

	var maxOrdinal schema.Ordinal
	for _, r := range results {
		if !r.ok {
			continue
		}
		previousHashToOrdinal[r.hash] = r.ord
		previousRecords[r.ord] = r.rec
		if r.ord >= maxOrdinal {
			maxOrdinal = r.ord + 1
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.previousHashToOrdinal = previousHashToOrdinal
	s.previousRecords = previousRecords
	s.currentHashToOrdinal = make(map[uint64]schema.Ordinal)
	s.currentRecords = make(map[schema.Ordinal]schema.Record)
	s.nextOrdinal = maxOrdinal
	s.nextOrdinalAtLastPrepare = maxOrdinal
	s.restored = true
	_ = ctx
	return nil
}

// Ordinals returns the current cycle's populated ordinals, sorted.
func (s *State) Ordinals() []schema.Ordinal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.Ordinal, 0, len(s.currentRecords))
	for o := range s.currentRecords {
		out = append(out, o)
	}
	sortOrdinals(out)
	return out
}

// Record returns the current cycle's record at ordinal o, if present.
func (s *State) Record(o schema.Ordinal) (schema.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.currentRecords[o]
	return rec, ok
}

// PreviousRecord returns the previous cycle's record at ordinal o, if
// present. It is used to resolve the records a reverse delta's added
// ordinals (the current delta's removed ordinals) point to, since
// those ordinals are no longer present in the current cycle.
func (s *State) PreviousRecord(o schema.Ordinal) (schema.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.previousRecords[o]
	return rec, ok
}

// Finder returns the identity-hash Finder this State was constructed
// with, so a caller (the write engine's HashCodesDefined computation)
// can tell whether it uses the library default.
func (s *State) Finder() hashcode.Finder {
	return s.finder
}

// AddedOrdinals returns the ordinals present in the current cycle but
// absent from the previous one, as computed by the most recent
// PrepareForWrite.
func (s *State) AddedOrdinals() []schema.Ordinal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schema.Ordinal(nil), s.added...)
}

// RemovedOrdinals returns the ordinals present in the previous cycle
// but absent from the current one, as computed by the most recent
// PrepareForWrite.
func (s *State) RemovedOrdinals() []schema.Ordinal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schema.Ordinal(nil), s.removed...)
}

// MaxOrdinal returns one past the highest ordinal this type state has
// ever assigned, used to size the read-side populated bitset.
func (s *State) MaxOrdinal() schema.Ordinal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextOrdinal
}

// Populated returns a bitset marking the current cycle's populated
// ordinals, for a blob writer that encodes occupancy rather than (or
// alongside) an explicit ordinal list.
func (s *State) Populated() []uintptr {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := bitset.NewClearBits(int(s.nextOrdinal) + 1)
	for o := range s.currentRecords {
		bitset.Set(data, int(o))
	}
	return data
}

func sortOrdinals(o []schema.Ordinal) {
	sort.Slice(o, func(i, j int) bool { return o[i] < o[j] })
}
