package crdt

import "aas-deltasync/src/domain/clock"

// ORMap is an Observed-Remove map CRDT: K -> LWW[V], with a per-key
// tombstone recording the timestamp of the last remove. It implements the
// shadow rules of spec §3 verbatim:
//
//   - an insert at (k, ts_i) is shadowed iff a tombstone exists at
//     (k, ts_t) with ts_t >= ts_i;
//   - a tombstone at (k, ts_t) shadows all inserts with ts <= ts_t.
//
// Join is commutative, associative, and idempotent: both branches
// (entries, tombstones) are pointwise maxima over Timestamp.
type ORMap[K comparable, V equatable[V]] struct {
	entries    map[K]LWW[V]
	tombstones map[K]clock.Timestamp
}

// equatable constrains an OR-map's value type to one that can report its
// own equality, so Insert/Remove can tell whether the resolved value at a
// key actually changed (needed for AppliedChanges) without reflection.
type equatable[V any] interface {
	Equal(V) bool
}

// NewORMap creates an empty OR-map.
func NewORMap[K comparable, V equatable[V]]() *ORMap[K, V] {
	return &ORMap[K, V]{
		entries:    make(map[K]LWW[V]),
		tombstones: make(map[K]clock.Timestamp),
	}
}

// Insert applies an insert at (k, ts). It returns true if the resolved
// value at k actually changed as a result (used to compute
// AppliedChanges). A masked insert (shadowed by a dominating tombstone at
// k) is still joined into k's register but is not observable while that
// tombstone dominates it, so it returns false. Masking by an ancestor's
// tombstone is not handled here.
func (m *ORMap[K, V]) Insert(k K, val V, ts clock.Timestamp) bool {
	before, beforeOK := m.Get(k)

	// Dominance is tomb_ts >= insert_ts, i.e. the insert does not strictly
	// exceed the tombstone.
	tomb, hasTomb := m.tombstones[k]
	shadowed := hasTomb && !tsGreater(ts, tomb)

	entry := m.entries[k]
	entry.Join(LWW[V]{Value: val, TS: ts, set: true})
	m.entries[k] = entry

	if shadowed {
		return false
	}
	after, afterOK := m.resolvedAt(k)
	return changed(before, beforeOK, after, afterOK)
}

// Remove applies a tombstone at (k, ts). It returns true if the resolved
// value at k actually changed.
func (m *ORMap[K, V]) Remove(k K, ts clock.Timestamp) bool {
	before, beforeOK := m.Get(k)

	if existing, ok := m.tombstones[k]; !ok || tsGreater(ts, existing) {
		m.tombstones[k] = ts
	}

	after, afterOK := m.Get(k)
	return changed(before, beforeOK, after, afterOK)
}

// Get returns the resolved value at k: present only if an (un-shadowed)
// insert dominates any tombstone at k.
func (m *ORMap[K, V]) Get(k K) (V, bool) {
	return m.resolvedAt(k)
}

// Entry returns the resolved value at k together with its timestamp,
// un-shadowed by k's own tombstone only. Callers that also need to check
// shadowing by an ancestor's tombstone (spec §4.3's nested-path masking)
// use the timestamp to do so themselves.
func (m *ORMap[K, V]) Entry(k K) (V, clock.Timestamp, bool) {
	v, ok := m.resolvedAt(k)
	if !ok {
		return v, clock.Zero, false
	}
	return v, m.entries[k].TS, true
}

func (m *ORMap[K, V]) resolvedAt(k K) (V, bool) {
	entry, hasEntry := m.entries[k]
	tomb, hasTomb := m.tombstones[k]

	if !hasEntry || !entry.set {
		var zero V
		return zero, false
	}
	if hasTomb && !tsGreater(entry.TS, tomb) {
		var zero V
		return zero, false
	}
	return entry.Value, true
}

// Keys returns every key with a live (un-shadowed) entry.
func (m *ORMap[K, V]) Keys() []K {
	keys := make([]K, 0, len(m.entries))
	for k := range m.entries {
		if _, ok := m.resolvedAt(k); ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// Tombstone returns the removal timestamp recorded at k, if any.
func (m *ORMap[K, V]) Tombstone(k K) (clock.Timestamp, bool) {
	ts, ok := m.tombstones[k]
	return ts, ok
}

// Join merges other into m in place.
func (m *ORMap[K, V]) Join(other *ORMap[K, V]) {
	for k, entry := range other.entries {
		cur := m.entries[k]
		cur.Join(entry)
		m.entries[k] = cur
	}
	for k, ts := range other.tombstones {
		if existing, ok := m.tombstones[k]; !ok || tsGreater(ts, existing) {
			m.tombstones[k] = ts
		}
	}
}

// DropTombstone removes the tombstone at k. Callers must only do this once
// the delta log proves every known peer's progress dominates ts (spec
// §4.2); dropping a tombstone whose dominance cannot be proved is
// forbidden and is not enforced by this type — the caller (the document's
// garbage-collection pass) owns that proof.
func (m *ORMap[K, V]) DropTombstone(k K) {
	delete(m.tombstones, k)
}

// tsGreater reports whether a strictly dominates b (a > b).
func tsGreater(a, b clock.Timestamp) bool {
	return b.Less(a)
}

func changed[V equatable[V]](before V, beforeOK bool, after V, afterOK bool) bool {
	if beforeOK != afterOK {
		return true
	}
	if !beforeOK {
		return false
	}
	return !before.Equal(after)
}
