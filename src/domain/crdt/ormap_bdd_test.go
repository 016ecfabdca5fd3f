package crdt

import (
	"testing"

	"aas-deltasync/src/domain/actor"
)

// Feature: OR-map CRDT
// As the document model
// I want an observed-remove map with tombstones
// So that concurrent inserts and removes converge without resurrection

// Scenario: Inserting then resolving a key
func TestFeature_ORMap_Scenario_InsertThenGet(t *testing.T) {
	t.Run("Given an empty OR-map", func(t *testing.T) {
		m := NewORMap[string, Value]()
		a := actor.New()

		t.Run("When I insert a scalar at a key", func(t *testing.T) {
			changed := m.Insert("k1", NewScalar("42", "int"), ts(100, 0, a))

			t.Run("Then it should report a change", func(t *testing.T) {
				if !changed {
					t.Error("expected Insert to report a change")
				}
			})

			t.Run("And Get should resolve the inserted value", func(t *testing.T) {
				v, ok := m.Get("k1")
				if !ok {
					t.Fatal("expected key to resolve")
				}
				if v.ScalarForm != "42" {
					t.Errorf("expected scalar form 42, got %s", v.ScalarForm)
				}
			})

			t.Run("And the key should appear in Keys", func(t *testing.T) {
				keys := m.Keys()
				if len(keys) != 1 || keys[0] != "k1" {
					t.Errorf("expected [k1], got %v", keys)
				}
			})
		})
	})
}

// Scenario: A remove shadows a concurrent earlier insert
func TestFeature_ORMap_Scenario_RemoveShadowsEarlierInsert(t *testing.T) {
	t.Run("Given a key removed at timestamp 200", func(t *testing.T) {
		m := NewORMap[string, Value]()
		a := actor.New()
		m.Remove("k1", ts(200, 0, a))

		t.Run("When an insert arrives at the earlier timestamp 100", func(t *testing.T) {
			changed := m.Insert("k1", NewScalar("1", "int"), ts(100, 0, a))

			t.Run("Then the insert should be shadowed and report no change", func(t *testing.T) {
				if changed {
					t.Error("expected a shadowed insert to report no change")
				}
			})

			t.Run("And Get should not resolve the key", func(t *testing.T) {
				if _, ok := m.Get("k1"); ok {
					t.Error("expected the key to remain absent under the tombstone")
				}
			})
		})
	})
}

// Scenario: A later insert un-shadows a key past an earlier tombstone
func TestFeature_ORMap_Scenario_LaterInsertDominatesTombstone(t *testing.T) {
	t.Run("Given a key removed at timestamp 100", func(t *testing.T) {
		m := NewORMap[string, Value]()
		a := actor.New()
		m.Remove("k1", ts(100, 0, a))

		t.Run("When an insert arrives at the later timestamp 200", func(t *testing.T) {
			changed := m.Insert("k1", NewScalar("2", "int"), ts(200, 0, a))

			t.Run("Then it should report a change", func(t *testing.T) {
				if !changed {
					t.Error("expected the dominating insert to report a change")
				}
			})

			t.Run("And Get should resolve the new value", func(t *testing.T) {
				v, ok := m.Get("k1")
				if !ok {
					t.Fatal("expected the key to resolve")
				}
				if v.ScalarForm != "2" {
					t.Errorf("expected scalar form 2, got %s", v.ScalarForm)
				}
			})
		})
	})
}

// Scenario: Join is commutative and idempotent across replicas
func TestFeature_ORMap_Scenario_JoinConverges(t *testing.T) {
	t.Run("Given two replicas that diverge with concurrent inserts and a remove", func(t *testing.T) {
		a := actor.New()
		b := actor.New()

		replicaA := NewORMap[string, Value]()
		replicaA.Insert("k1", NewScalar("from-a", "string"), ts(100, 0, a))
		replicaA.Remove("k2", ts(150, 0, a))

		replicaB := NewORMap[string, Value]()
		replicaB.Insert("k1", NewScalar("from-b", "string"), ts(50, 0, b))
		replicaB.Insert("k2", NewScalar("late", "string"), ts(200, 0, b))

		t.Run("When I join B into A and A into B", func(t *testing.T) {
			replicaA.Join(replicaB)
			replicaB.Join(replicaA)

			t.Run("Then both replicas should resolve k1 to the same value", func(t *testing.T) {
				va, _ := replicaA.Get("k1")
				vb, _ := replicaB.Get("k1")
				if !va.Equal(vb) {
					t.Errorf("expected converged k1, got %+v vs %+v", va, vb)
				}
			})

			t.Run("And both replicas should resolve k2 to the dominating insert", func(t *testing.T) {
				va, aok := replicaA.Get("k2")
				vb, bok := replicaB.Get("k2")
				if !aok || !bok {
					t.Fatal("expected k2 to resolve on both replicas")
				}
				if va.ScalarForm != "late" || vb.ScalarForm != "late" {
					t.Errorf("expected k2 to resolve to 'late' on both replicas, got %+v vs %+v", va, vb)
				}
			})

			t.Run("And re-joining should not change either replica (idempotence)", func(t *testing.T) {
				before, _ := replicaA.Get("k1")
				replicaA.Join(replicaB)
				after, _ := replicaA.Get("k1")
				if !before.Equal(after) {
					t.Error("expected re-join to be a no-op")
				}
			})
		})
	})
}

// Scenario: Dropping a tombstone removes it from future resolution
func TestFeature_ORMap_Scenario_DropTombstone(t *testing.T) {
	t.Run("Given a key removed and then garbage-collected", func(t *testing.T) {
		m := NewORMap[string, Value]()
		a := actor.New()
		m.Remove("k1", ts(100, 0, a))

		t.Run("When I drop the tombstone", func(t *testing.T) {
			m.DropTombstone("k1")

			t.Run("Then Tombstone should no longer report it", func(t *testing.T) {
				if _, ok := m.Tombstone("k1"); ok {
					t.Error("expected the tombstone to be gone")
				}
			})

			t.Run("And a subsequent insert at an earlier timestamp should no longer be shadowed", func(t *testing.T) {
				changed := m.Insert("k1", NewScalar("revived", "string"), ts(10, 0, a))
				if !changed {
					t.Error("expected the insert to apply now that the tombstone is gone")
				}
			})
		})
	})
}
