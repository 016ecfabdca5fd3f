// Package ingress produces a uniform stream of upstream changes from two
// independent sources — event-mode (pushed notifications) and poll-mode
// (periodic full-view diffing) — so the replicator never needs to know
// which one observed a given mutation.
package ingress

import (
	"aas-deltasync/src/domain/crdt"
	"aas-deltasync/src/domain/docid"
)

// Op is the kind of mutation a Change represents.
type Op int

const (
	OpSet Op = iota
	OpRemove
)

func (op Op) String() string {
	if op == OpRemove {
		return "remove"
	}
	return "set"
}

// Change is what both the event-mode subscriber and the poller produce:
// a single observed mutation against one document's path, ready to be
// turned into a delta and produced through the replicator.
type Change struct {
	DocID docid.DocID
	Path  docid.Path
	Op    Op
	Value crdt.Value
}
