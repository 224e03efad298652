package writestate_test

import (
	"context"
	"testing"

	"github.com/arborstate/vstate/hashcode"
	"github.com/arborstate/vstate/schema"
	"github.com/arborstate/vstate/writestate"
)

func testSchema() *schema.Schema {
	return &schema.Schema{
		Name: "Movie",
		Kind: schema.KindObject,
		Fields: []schema.Field{
			{Name: "Title", Type: schema.FieldString},
			{Name: "Year", Type: schema.FieldInt64},
		},
	}
}

func rec(title string, year int64) schema.Record {
	return schema.Record{Values: []schema.Value{title, year}}
}

func TestEmptyCycleProducesNoChange(t *testing.T) {
	s := writestate.New(testSchema(), hashcode.Default)
	if err := s.PrepareForWrite(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.HasChangedSinceLastCycle() {
		t.Fatal("expected no change on an empty first cycle")
	}
	if len(s.Ordinals()) != 0 {
		t.Fatal("expected no populated ordinals")
	}
}

func TestAddDedupesWithinCycle(t *testing.T) {
	s := writestate.New(testSchema(), hashcode.Default)
	o1, err := s.Add(rec("Arrival", 2016))
	if err != nil {
		t.Fatal(err)
	}
	o2, err := s.Add(rec("Arrival", 2016))
	if err != nil {
		t.Fatal(err)
	}
	if o1 != o2 {
		t.Fatalf("expected duplicate adds to collapse to one ordinal, got %d and %d", o1, o2)
	}
	if len(s.Ordinals()) != 1 {
		t.Fatalf("expected exactly one populated ordinal, got %d", len(s.Ordinals()))
	}
}

func TestOrdinalStableAcrossCycles(t *testing.T) {
	s := writestate.New(testSchema(), hashcode.Default)
	o1, _ := s.Add(rec("Arrival", 2016))
	if err := s.PrepareForWrite(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !s.HasChangedSinceLastCycle() {
		t.Fatal("expected the first cycle to report a change (an addition)")
	}
	s.PrepareForNextCycle()

	o2, _ := s.Add(rec("Arrival", 2016))
	if o1 != o2 {
		t.Fatalf("expected ordinal stability across cycles for an unchanged record, got %d then %d", o1, o2)
	}
	if err := s.PrepareForWrite(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.HasChangedSinceLastCycle() {
		t.Fatal("expected an idempotent cycle (same record re-added) to report no change")
	}
}

func TestRemovalDetected(t *testing.T) {
	s := writestate.New(testSchema(), hashcode.Default)
	s.Add(rec("Arrival", 2016))
	s.Add(rec("Contact", 1997))
	if err := s.PrepareForWrite(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.PrepareForNextCycle()

	s.Add(rec("Arrival", 2016))
	if err := s.PrepareForWrite(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !s.HasChangedSinceLastCycle() {
		t.Fatal("expected removing a record to register as a change")
	}
	removed := s.RemovedOrdinals()
	if len(removed) != 1 {
		t.Fatalf("expected exactly one removed ordinal, got %d", len(removed))
	}
	if len(s.AddedOrdinals()) != 0 {
		t.Fatal("expected no additions when only removing a record")
	}
}

func TestAddAllObjectsFromPreviousCycleIsIdempotent(t *testing.T) {
	s := writestate.New(testSchema(), hashcode.Default)
	s.Add(rec("Arrival", 2016))
	if err := s.PrepareForWrite(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.PrepareForNextCycle()

	if err := s.AddAllObjectsFromPreviousCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.PrepareForWrite(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.HasChangedSinceLastCycle() {
		t.Fatal("expected AddAllObjectsFromPreviousCycle to reproduce the previous population exactly")
	}
}

func TestResetToLastPrepareForNextCycleDiscardsAdds(t *testing.T) {
	s := writestate.New(testSchema(), hashcode.Default)
	s.Add(rec("Arrival", 2016))
	if err := s.PrepareForWrite(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.PrepareForNextCycle()

	s.Add(rec("Contact", 1997))
	if len(s.Ordinals()) != 1 {
		t.Fatalf("expected one ordinal added this cycle, got %d", len(s.Ordinals()))
	}
	s.ResetToLastPrepareForNextCycle()
	if len(s.Ordinals()) != 0 {
		t.Fatal("expected reset to discard the add made since the last cycle boundary")
	}

	o, _ := s.Add(rec("Arrival", 2016))
	if o != 0 {
		t.Fatalf("expected re-added previous-cycle record to keep ordinal 0, got ordinal %d", o)
	}
}

type fakeRestoreSource struct {
	records map[schema.Ordinal]schema.Record
}

func (f fakeRestoreSource) PopulatedOrdinals() []schema.Ordinal {
	out := make([]schema.Ordinal, 0, len(f.records))
	for o := range f.records {
		out = append(out, o)
	}
	return out
}

func (f fakeRestoreSource) RecordAt(o schema.Ordinal) (schema.Record, bool) {
	rec, ok := f.records[o]
	return rec, ok
}

func TestRestoreFromImportsIdentity(t *testing.T) {
	src := fakeRestoreSource{records: map[schema.Ordinal]schema.Record{
		5: rec("Arrival", 2016),
	}}
	s := writestate.New(testSchema(), hashcode.Default)
	if err := s.RestoreFrom(context.Background(), src); err != nil {
		t.Fatal(err)
	}
	if !s.IsRestored() {
		t.Fatal("expected IsRestored to be true after a successful RestoreFrom")
	}

	o, err := s.Add(rec("Arrival", 2016))
	if err != nil {
		t.Fatal(err)
	}
	if o != 5 {
		t.Fatalf("expected restored ordinal 5 to be reused, got %d", o)
	}
}
