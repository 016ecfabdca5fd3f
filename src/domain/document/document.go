// Package document implements the CRDT document (spec §4.3): an OR-map of
// leaf Values addressed by Path, generating and applying Deltas while
// tracking head_ts, the maximum timestamp ever observed.
package document

import (
	"sync"

	"aas-deltasync/src/domain/clock"
	"aas-deltasync/src/domain/crdt"
	"aas-deltasync/src/domain/delta"
	"aas-deltasync/src/domain/docid"
)

// AppliedChange is one path whose resolved value actually changed as the
// result of an Apply call, together with its new resolved value (absent if
// the change was a removal that left nothing behind).
type AppliedChange struct {
	Path  docid.Path
	Value crdt.Value
	Ok    bool
}

// AppliedChanges is the net effect of joining a Delta into a Document —
// only the paths the egress adapter actually needs to repatch.
type AppliedChanges []AppliedChange

// StateEntry is one resolved leaf in a Document snapshot.
type StateEntry struct {
	Path  docid.Path
	Value crdt.Value
}

// State is a point-in-time materialization of a Document, used for initial
// anti-entropy transfer and durable snapshotting.
type State struct {
	DocID   docid.DocID
	Entries []StateEntry
	HeadTS  clock.Timestamp
}

// Document is one CRDT-merged document: an OR-map of leaves plus the
// highest timestamp ever observed in it.
type Document struct {
	id    docid.DocID
	clock *clock.Clock

	mu     sync.RWMutex
	state  *crdt.ORMap[string, crdt.Value]
	paths  map[string]docid.Path
	headTS clock.Timestamp
}

// New creates an empty document. c provides the HLC used to stamp local
// mutations and fold in remote timestamps observed during Apply.
func New(id docid.DocID, c *clock.Clock) *Document {
	return &Document{
		id:    id,
		clock: c,
		state: crdt.NewORMap[string, crdt.Value](),
		paths: make(map[string]docid.Path),
	}
}

// ID returns the document's identity.
func (d *Document) ID() docid.DocID { return d.id }

// Set installs value at path, minting a fresh local timestamp, applying
// the change locally, and returning the single-insert Delta to log and
// publish.
func (d *Document) Set(path docid.Path, value crdt.Value) delta.Delta {
	ts := d.clock.Now()

	d.mu.Lock()
	d.applyInsert(path, value, ts)
	d.mu.Unlock()

	return delta.New(d.id, []delta.Insert{{Path: path, Value: value, TS: ts}}, nil, ts.Actor)
}

// Remove tombstones path, minting a fresh local timestamp, applying the
// change locally, and returning the single-remove Delta to log and
// publish.
func (d *Document) Remove(path docid.Path) delta.Delta {
	ts := d.clock.Now()

	d.mu.Lock()
	d.applyRemove(path, ts)
	d.mu.Unlock()

	return delta.New(d.id, nil, []delta.Remove{{Path: path, TS: ts}}, ts.Actor)
}

// Apply observes every timestamp carried by dl (folding it into the local
// clock per spec §4.1), joins its inserts and removes into document state,
// and returns the net effective changes — the paths whose resolved value
// actually changed, for the egress adapter to repatch.
//
// A ClockSkew observation error aborts the whole apply: nothing in dl is
// joined, so a delta straddling the skew bound is neither partially
// applied nor silently dropped.
func (d *Document) Apply(dl delta.Delta) (AppliedChanges, error) {
	for _, ins := range dl.Inserts {
		if err := d.clock.Observe(ins.TS); err != nil {
			return nil, err
		}
	}
	for _, rm := range dl.Removes {
		if err := d.clock.Observe(rm.TS); err != nil {
			return nil, err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var changes AppliedChanges
	for _, ins := range dl.Inserts {
		before, beforeOK := d.resolveMaskedLocked(ins.Path)
		d.applyInsert(ins.Path, ins.Value, ins.TS)
		after, afterOK := d.resolveMaskedLocked(ins.Path)
		if changedValue(before, beforeOK, after, afterOK) {
			changes = append(changes, AppliedChange{Path: ins.Path, Value: after, Ok: afterOK})
		}
	}
	for _, rm := range dl.Removes {
		before, beforeOK := d.resolveMaskedLocked(rm.Path)
		d.applyRemove(rm.Path, rm.TS)
		after, afterOK := d.resolveMaskedLocked(rm.Path)
		if changedValue(before, beforeOK, after, afterOK) {
			changes = append(changes, AppliedChange{Path: rm.Path, Value: after, Ok: afterOK})
		}
	}
	return changes, nil
}

// Snapshot materializes the document's current resolved state, for initial
// anti-entropy transfer or durable checkpointing.
func (d *Document) Snapshot() State {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entries := make([]StateEntry, 0, len(d.paths))
	for _, path := range d.paths {
		if v, ok := d.resolveMaskedLocked(path); ok {
			entries = append(entries, StateEntry{Path: path, Value: v})
		}
	}
	return State{DocID: d.id, Entries: entries, HeadTS: d.headTS}
}

// Get resolves the current value at path, if any. Callers that only need
// to read a single leaf can avoid a full Snapshot.
func (d *Document) Get(path docid.Path) (crdt.Value, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.resolveMaskedLocked(path)
}

// applyInsert and applyRemove require the caller to hold d.mu. They record
// the path for later snapshotting and advance head_ts, then delegate the
// shadow/join rules to the OR-map. Their bool return (the OR-map's own
// "did the exact-path value change") is not reliable on its own for
// AppliedChanges, since a change can also become observable purely because
// an ancestor's tombstone stopped dominating it — callers compare resolved
// values before/after instead.
func (d *Document) applyInsert(path docid.Path, value crdt.Value, ts clock.Timestamp) {
	key := path.Key()
	d.paths[key] = path
	d.advanceHead(ts)
	d.state.Insert(key, value, ts)
}

func (d *Document) applyRemove(path docid.Path, ts clock.Timestamp) {
	key := path.Key()
	d.paths[key] = path
	d.advanceHead(ts)
	d.state.Remove(key, ts)
}

// resolveMaskedLocked resolves path's value, additionally masking it if any
// proper ancestor of path carries a tombstone dominating the leaf's own
// timestamp, unless a set of that ancestor dominating its tombstone has
// since been applied (spec §4.3: "a set is accepted but masked ... until a
// dominating set of the ancestor arrives"). Requires d.mu held.
func (d *Document) resolveMaskedLocked(path docid.Path) (crdt.Value, bool) {
	value, ts, ok := d.state.Entry(path.Key())
	if !ok {
		return crdt.Absent, false
	}
	for i := 1; i < len(path); i++ {
		ancestor := path[:i]
		// An ancestor tombstone at tomb masks ts iff ts does not strictly
		// exceed it (ts <= tomb) — the same dominance rule the OR-map
		// applies to a leaf's own tombstone.
		if tomb, hasTomb := d.state.Tombstone(ancestor.Key()); hasTomb && !tsStrictlyAfter(ts, tomb) {
			// A set of the ancestor that dominates its tombstone lifts the mask.
			if _, _, revived := d.state.Entry(ancestor.Key()); !revived {
				return crdt.Absent, false
			}
		}
	}
	return value, true
}

// tsStrictlyAfter reports whether a strictly dominates b.
func tsStrictlyAfter(a, b clock.Timestamp) bool {
	return b.Less(a)
}

func changedValue(before crdt.Value, beforeOK bool, after crdt.Value, afterOK bool) bool {
	if beforeOK != afterOK {
		return true
	}
	if !beforeOK {
		return false
	}
	return !before.Equal(after)
}

func (d *Document) advanceHead(ts clock.Timestamp) {
	if d.headTS.Less(ts) {
		d.headTS = ts
	}
}
