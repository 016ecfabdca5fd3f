package delta

import (
	"testing"

	"aas-deltasync/src/codec"
	"aas-deltasync/src/domain/actor"
	"aas-deltasync/src/domain/clock"
	"aas-deltasync/src/domain/crdt"
	"aas-deltasync/src/domain/docid"
)

func testDoc() docid.DocID {
	return docid.DocID{AasID: "aas:demo", SubmodelID: "sm:demo", View: docid.ViewValue}
}

// Feature: Delta identity
// As the replication protocol
// I want a delta's id derived from its content
// So that every agent computing the id of the same delta content gets the same id

// Scenario: Identical deltas hash to the same id
func TestFeature_Delta_Scenario_IdenticalContentSameID(t *testing.T) {
	t.Run("Given two deltas built from identical content and the same origin actor", func(t *testing.T) {
		a := actor.New()
		ts := clock.Timestamp{WallMS: 1000, Logical: 0, Actor: a}
		inserts := []Insert{{Path: docid.NewPath("Temperature"), Value: crdt.NewScalar("25.0", "xs:double"), TS: ts}}

		d1 := New(testDoc(), inserts, nil, a)
		d2 := New(testDoc(), inserts, nil, a)

		t.Run("When I compare their ids", func(t *testing.T) {
			t.Run("Then they should be equal", func(t *testing.T) {
				if d1.ID() != d2.ID() {
					t.Errorf("expected equal ids for identical content, got %s vs %s", d1.ID(), d2.ID())
				}
			})
		})
	})
}

// Scenario: A differing payload produces a different id
func TestFeature_Delta_Scenario_DifferentContentDifferentID(t *testing.T) {
	t.Run("Given two deltas differing only in their scalar value", func(t *testing.T) {
		a := actor.New()
		ts := clock.Timestamp{WallMS: 1000, Logical: 0, Actor: a}

		d1 := New(testDoc(), []Insert{{Path: docid.NewPath("Temperature"), Value: crdt.NewScalar("25.0", "xs:double"), TS: ts}}, nil, a)
		d2 := New(testDoc(), []Insert{{Path: docid.NewPath("Temperature"), Value: crdt.NewScalar("26.0", "xs:double"), TS: ts}}, nil, a)

		t.Run("When I compare their ids", func(t *testing.T) {
			t.Run("Then they should differ", func(t *testing.T) {
				if d1.ID() == d2.ID() {
					t.Error("expected different content to produce different ids")
				}
			})
		})
	})
}

// Scenario: Deltas against different documents never collide
func TestFeature_Delta_Scenario_DocumentIsolation(t *testing.T) {
	t.Run("Given identical inserts against two different documents", func(t *testing.T) {
		a := actor.New()
		ts := clock.Timestamp{WallMS: 1000, Logical: 0, Actor: a}
		inserts := []Insert{{Path: docid.NewPath("Temperature"), Value: crdt.NewScalar("25.0", "xs:double"), TS: ts}}

		docA := docid.DocID{AasID: "aas:demo", SubmodelID: "sm:demo", View: docid.ViewValue}
		docB := docid.DocID{AasID: "aas:other", SubmodelID: "sm:demo", View: docid.ViewValue}

		d1 := New(docA, inserts, nil, a)
		d2 := New(docB, inserts, nil, a)

		t.Run("When I compare their ids", func(t *testing.T) {
			t.Run("Then they should differ", func(t *testing.T) {
				if d1.ID() == d2.ID() {
					t.Error("expected deltas against different documents to never collide")
				}
			})
		})
	})
}

// Scenario: ID is computed lazily for a Delta built without New
func TestFeature_Delta_Scenario_LazyID(t *testing.T) {
	t.Run("Given a Delta value constructed as a plain struct literal", func(t *testing.T) {
		a := actor.New()
		ts := clock.Timestamp{WallMS: 1000, Logical: 0, Actor: a}
		d := Delta{
			DocID:       testDoc(),
			Inserts:     []Insert{{Path: docid.NewPath("X"), Value: crdt.NewScalar("1", "xs:int"), TS: ts}},
			OriginActor: a,
		}

		t.Run("When I call ID twice", func(t *testing.T) {
			first := d.ID()
			second := d.ID()

			t.Run("Then both calls should agree", func(t *testing.T) {
				if first != second {
					t.Error("expected repeated ID() calls to be stable")
				}
			})

			t.Run("And it should match a Delta built through New with the same content", func(t *testing.T) {
				viaNew := New(testDoc(), d.Inserts, nil, a)
				if viaNew.ID() != first {
					t.Error("expected lazily computed id to match New's eager computation")
				}
			})
		})
	})
}

// Scenario: Wire encoding round-trips a delta with mixed inserts and removes
func TestFeature_Delta_Scenario_WireRoundTrip(t *testing.T) {
	t.Run("Given a delta with one insert under a list element and one remove", func(t *testing.T) {
		a := actor.New()
		ts1 := clock.Timestamp{WallMS: 1000, Logical: 0, Actor: a}
		ts2 := clock.Timestamp{WallMS: 2000, Logical: 1, Actor: a}

		elemPath := append(docid.NewPath("Items"), docid.ElementIDSegment(docid.NewElementID()))
		orig := New(
			testDoc(),
			[]Insert{{Path: elemPath, Value: crdt.NewScalar("widget", "xs:string"), TS: ts1}},
			[]Remove{{Path: docid.NewPath("Obsolete"), TS: ts2}},
			a,
		)

		t.Run("When I encode then decode it", func(t *testing.T) {
			w := &codec.Writer{}
			Encode(w, orig)

			decoded, err := Decode(codec.NewReader(w.Bytes()))

			t.Run("Then it should decode without error", func(t *testing.T) {
				if err != nil {
					t.Fatalf("unexpected decode error: %v", err)
				}
			})

			t.Run("And it should have the same id as the original", func(t *testing.T) {
				if decoded.ID() != orig.ID() {
					t.Errorf("expected matching ids, got %s vs %s", decoded.ID(), orig.ID())
				}
			})

			t.Run("And every field should round-trip exactly", func(t *testing.T) {
				if decoded.DocID.Key() != orig.DocID.Key() {
					t.Errorf("DocID mismatch: %+v vs %+v", decoded.DocID, orig.DocID)
				}
				if len(decoded.Inserts) != 1 || !decoded.Inserts[0].Path.Equal(elemPath) {
					t.Errorf("expected insert path to round-trip, got %v", decoded.Inserts)
				}
				if !decoded.Inserts[0].Value.Equal(orig.Inserts[0].Value) {
					t.Errorf("expected insert value to round-trip, got %+v", decoded.Inserts[0].Value)
				}
				if len(decoded.Removes) != 1 || !decoded.Removes[0].Path.Equal(docid.NewPath("Obsolete")) {
					t.Errorf("expected remove path to round-trip, got %v", decoded.Removes)
				}
				if decoded.OriginActor != orig.OriginActor {
					t.Errorf("expected origin actor to round-trip, got %s vs %s", decoded.OriginActor, orig.OriginActor)
				}
			})
		})
	})
}
