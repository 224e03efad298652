package readstate

import (
	"io"

	"github.com/arborstate/vstate/schema"
	"github.com/arborstate/vstate/wire"
)

// RecordAt looks up the write-side record for an ordinal, in the
// shape writestate.State.Record provides; EncodeSnapshot/EncodeDelta
// take it as a plain function rather than importing writestate, so
// neither per-type package imports the other.
type RecordAt func(schema.Ordinal) (schema.Record, bool)

// EncodeSnapshot writes every ordinal in ordinals (must be ascending)
// and its record to w, in the format ReadSnapshot expects: a count,
// then that many (ordinal-delta, record) pairs.
func EncodeSnapshot(w io.Writer, s *schema.Schema, ordinals []schema.Ordinal, at RecordAt) error {
	if err := wire.WriteUvarint(w, uint64(len(ordinals))); err != nil {
		return err
	}
	var prev schema.Ordinal
	for _, o := range ordinals {
		if err := wire.WriteUvarint(w, uint64(o-prev)); err != nil {
			return err
		}
		rec, ok := at(o)
		if !ok {
			rec = schema.Record{}
		}
		if err := schema.EncodeRecord(w, s, rec); err != nil {
			return err
		}
		prev = o
	}
	return nil
}

// EncodeDelta writes removed (ascending ordinals to drop) followed by
// added (ascending ordinals to insert, with their records), in the
// format ApplyDelta expects.
func EncodeDelta(w io.Writer, s *schema.Schema, removed, added []schema.Ordinal, at RecordAt) error {
	if err := writeOrdinals(w, removed); err != nil {
		return err
	}
	if err := wire.WriteUvarint(w, uint64(len(added))); err != nil {
		return err
	}
	var prev schema.Ordinal
	for _, o := range added {
		if err := wire.WriteUvarint(w, uint64(o-prev)); err != nil {
			return err
		}
		rec, ok := at(o)
		if !ok {
			rec = schema.Record{}
		}
		if err := schema.EncodeRecord(w, s, rec); err != nil {
			return err
		}
		prev = o
	}
	return nil
}

func writeOrdinals(w io.Writer, ordinals []schema.Ordinal) error {
	if err := wire.WriteUvarint(w, uint64(len(ordinals))); err != nil {
		return err
	}
	var prev schema.Ordinal
	for _, o := range ordinals {
		if err := wire.WriteUvarint(w, uint64(o-prev)); err != nil {
			return err
		}
		prev = o
	}
	return nil
}

// DiscardSnapshot drains a snapshot payload for s from r without
// materializing any record, for a type excluded by the active filter.
func DiscardSnapshot(r *wire.Reader, s *schema.Schema) error {
	count, err := wire.ReadUvarint(r)
	if err != nil {
		return err
	}
	for i := uint64(0); i < count; i++ {
		if _, err := wire.ReadUvarint(r); err != nil {
			return err
		}
		if err := schema.SkipRecord(r, s); err != nil {
			return err
		}
	}
	return nil
}

// DiscardDelta drains a delta payload for s from r without
// materializing any record, for a type excluded by the active filter.
func DiscardDelta(r *wire.Reader, s *schema.Schema) error {
	removedCount, err := wire.ReadUvarint(r)
	if err != nil {
		return err
	}
	for i := uint64(0); i < removedCount; i++ {
		if _, err := wire.ReadUvarint(r); err != nil {
			return err
		}
	}
	addedCount, err := wire.ReadUvarint(r)
	if err != nil {
		return err
	}
	for i := uint64(0); i < addedCount; i++ {
		if _, err := wire.ReadUvarint(r); err != nil {
			return err
		}
		if err := schema.SkipRecord(r, s); err != nil {
			return err
		}
	}
	return nil
}
