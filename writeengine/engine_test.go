package writeengine_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/arborstate/vstate/hashcode"
	"github.com/arborstate/vstate/readengine"
	"github.com/arborstate/vstate/readstate"
	"github.com/arborstate/vstate/schema"
	"github.com/arborstate/vstate/wire"
	"github.com/arborstate/vstate/writeengine"
	"github.com/arborstate/vstate/writestate"
)

func movieSchema() *schema.Schema {
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

func TestAddTypeStateRejectsDuplicates(t *testing.T) {
	e := writeengine.New()
	st := writestate.New(movieSchema(), hashcode.Default)
	if err := e.AddTypeState(st); err != nil {
		t.Fatal(err)
	}
	if err := e.AddTypeState(st); err == nil {
		t.Fatal("expected a DuplicateType error re-registering the same type")
	}
}

func TestAddRejectsUnregisteredType(t *testing.T) {
	e := writeengine.New()
	if _, err := e.Add("Movie", rec("Arrival", 2016)); err == nil {
		t.Fatal("expected an UnknownType error")
	}
}

func TestPrepareForWriteIsIdempotentOutsideAddingRecords(t *testing.T) {
	e := writeengine.New()
	st := writestate.New(movieSchema(), hashcode.Default)
	if err := e.AddTypeState(st); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Add("Movie", rec("Arrival", 2016)); err != nil {
		t.Fatal(err)
	}
	if err := e.PrepareForWrite(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !e.HasChangedSinceLastCycle() {
		t.Fatal("expected the first cycle to report a change")
	}
	// A second PrepareForWrite call while already in Writing must be a
	// no-op, not recompute against a stale previous cycle.
	if err := e.PrepareForWrite(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !e.HasChangedSinceLastCycle() {
		t.Fatal("expected the no-op PrepareForWrite to leave the added/removed diff untouched")
	}
}

func TestPrepareForNextCycleRoundTripsToIdempotentCycle(t *testing.T) {
	e := writeengine.New()
	st := writestate.New(movieSchema(), hashcode.Default)
	if err := e.AddTypeState(st); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Add("Movie", rec("Arrival", 2016)); err != nil {
		t.Fatal(err)
	}
	if err := e.PrepareForWrite(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.PrepareForNextCycle()

	if err := e.AddAllObjectsFromPreviousCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := e.PrepareForWrite(context.Background()); err != nil {
		t.Fatal(err)
	}
	if e.HasChangedSinceLastCycle() {
		t.Fatal("expected re-adding the previous cycle's population to produce an empty delta")
	}
}

func TestResetToLastPrepareForNextCycleDiscardsAdds(t *testing.T) {
	e := writeengine.New()
	st := writestate.New(movieSchema(), hashcode.Default)
	if err := e.AddTypeState(st); err != nil {
		t.Fatal(err)
	}
	before := e.DestinationTag()
	if _, err := e.Add("Movie", rec("Arrival", 2016)); err != nil {
		t.Fatal(err)
	}
	e.ResetToLastPrepareForNextCycle()
	if err := e.PrepareForWrite(context.Background()); err != nil {
		t.Fatal(err)
	}
	if e.HasChangedSinceLastCycle() {
		t.Fatal("expected the reset to discard the pending add")
	}
	if e.DestinationTag() == before {
		t.Fatal("expected the destination tag to be re-rolled")
	}
}

func TestCanProduceDeltaTrueUntilRestored(t *testing.T) {
	e := writeengine.New()
	st := writestate.New(movieSchema(), hashcode.Default)
	if err := e.AddTypeState(st); err != nil {
		t.Fatal(err)
	}
	if !e.CanProduceDelta() {
		t.Fatal("expected a never-restored engine to support delta production")
	}
}

func TestRestoreFromRejectsPartiallyListeningReadEngine(t *testing.T) {
	e := writeengine.New()
	st := writestate.New(movieSchema(), hashcode.Default)
	if err := e.AddTypeState(st); err != nil {
		t.Fatal(err)
	}
	re := readengine.New()
	re.SetListeningForAllPopulatedOrdinals(false)
	if err := e.RestoreFrom(context.Background(), re); err == nil {
		t.Fatal("expected a RestoreRejected error")
	}
}

func TestRestoreFromImportsPopulationAndCanProduceDelta(t *testing.T) {
	e := writeengine.New()
	st := writestate.New(movieSchema(), hashcode.Default)
	if err := e.AddTypeState(st); err != nil {
		t.Fatal(err)
	}

	re := readengine.New()
	s := movieSchema()
	rts := readstate.New(s, s)
	var buf bytes.Buffer
	data := map[schema.Ordinal]schema.Record{0: rec("Arrival", 2016)}
	if err := readstate.EncodeSnapshot(&buf, s, []schema.Ordinal{0}, func(o schema.Ordinal) (schema.Record, bool) {
		r, ok := data[o]
		return r, ok
	}); err != nil {
		t.Fatal(err)
	}
	if err := rts.ReadSnapshot(wire.NewReader(&buf), s, nil); err != nil {
		t.Fatal(err)
	}
	if err := re.AddTypeState("Movie", rts); err != nil {
		t.Fatal(err)
	}

	if err := e.RestoreFrom(context.Background(), re); err != nil {
		t.Fatal(err)
	}
	if !e.CanProduceDelta() {
		t.Fatal("expected a freshly restored engine to support delta production")
	}
	if _, err := e.Add("Movie", rec("Arrival", 2016)); err != nil {
		t.Fatal(err)
	}
	if err := e.PrepareForWrite(context.Background()); err != nil {
		t.Fatal(err)
	}
	if e.HasChangedSinceLastCycle() {
		t.Fatal("expected re-adding the restored record to produce no change")
	}
}

func TestWriteSnapshotThenWriteDeltaRoundTripsThroughReadEngine(t *testing.T) {
	e := writeengine.New()
	st := writestate.New(movieSchema(), hashcode.Default)
	if err := e.AddTypeState(st); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Add("Movie", rec("Arrival", 2016)); err != nil {
		t.Fatal(err)
	}
	if err := e.PrepareForWrite(context.Background()); err != nil {
		t.Fatal(err)
	}

	var snap bytes.Buffer
	if err := e.WriteSnapshot(&snap); err != nil {
		t.Fatal(err)
	}
	e.PrepareForNextCycle()

	if _, err := e.Add("Movie", rec("Arrival", 2016)); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Add("Movie", rec("Contact", 1997)); err != nil {
		t.Fatal(err)
	}
	if err := e.PrepareForWrite(context.Background()); err != nil {
		t.Fatal(err)
	}
	var delta bytes.Buffer
	if err := e.WriteDelta(&delta); err != nil {
		t.Fatal(err)
	}

	if snap.Len() == 0 || delta.Len() == 0 {
		t.Fatal("expected both the snapshot and delta blobs to be non-empty")
	}
}
