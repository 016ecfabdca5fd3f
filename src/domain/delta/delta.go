// Package delta implements the unit of replication (spec §3, §4.4): a
// batch of inserts and removes against one document, content-addressed by
// a 128-bit hash so identity is independent of the producer and replay is
// safely idempotent.
package delta

import (
	"fmt"

	"golang.org/x/crypto/blake2b"

	"aas-deltasync/src/codec"
	"aas-deltasync/src/domain/actor"
	"aas-deltasync/src/domain/clock"
	"aas-deltasync/src/domain/crdt"
	"aas-deltasync/src/domain/docid"
)

// ID is a delta's content hash: 128 bits, truncated from BLAKE2b-256 over
// the delta's canonical encoding, independent of which actor computes it.
type ID [16]byte

func (id ID) String() string {
	const hex = "0123456789abcdef"
	out := make([]byte, 32)
	for i, b := range id {
		out[i*2] = hex[b>>4]
		out[i*2+1] = hex[b&0x0f]
	}
	return string(out)
}

// Insert is one (path, value, ts) entry of a Delta.
type Insert struct {
	Path  docid.Path
	Value crdt.Value
	TS    clock.Timestamp
}

// Remove is one (path, ts) tombstone entry of a Delta.
type Remove struct {
	Path docid.Path
	TS   clock.Timestamp
}

// Delta is the wire- and log-level unit of replication: a set of inserts
// and removes against a single document, produced by one actor.
type Delta struct {
	DocID       docid.DocID
	Inserts     []Insert
	Removes     []Remove
	OriginActor actor.ID

	id    ID
	idSet bool
}

// New builds a Delta and computes its content-addressed id. Inserts and
// removes must belong to the same DocID; callers (document.Set /
// document.Remove) guarantee this since a Delta is always produced from a
// single document's mutation.
func New(doc docid.DocID, inserts []Insert, removes []Remove, origin actor.ID) Delta {
	d := Delta{DocID: doc, Inserts: inserts, Removes: removes, OriginActor: origin}
	d.id = computeID(d)
	d.idSet = true
	return d
}

// ID returns the delta's content hash, computing it lazily if the Delta
// was constructed directly (e.g. while decoding from the wire) rather than
// through New.
func (d *Delta) ID() ID {
	if !d.idSet {
		d.id = computeID(*d)
		d.idSet = true
	}
	return d.id
}

// canonicalBytes produces the deterministic byte form a Delta's id is
// hashed from: DocID, then inserts in order, then removes in order, then
// origin actor. Field order and length-prefixing are stable across
// versions (spec §4.4); nothing about the producer's identity apart from
// OriginActor affects the hash, so two sites computing the same logical
// mutation never collide by construction alone — only identical payloads
// do, which is the point.
func canonicalBytes(d Delta) []byte {
	w := &codec.Writer{}
	w.PutString(d.DocID.AasID)
	w.PutString(d.DocID.SubmodelID)
	w.PutString(string(d.DocID.View))

	w.PutUvarint(uint64(len(d.Inserts)))
	for _, ins := range d.Inserts {
		w.PutString(ins.Path.Key())
		codec.EncodeValue(w, ins.Value)
		codec.EncodeTimestamp(w, ins.TS)
	}

	w.PutUvarint(uint64(len(d.Removes)))
	for _, rm := range d.Removes {
		w.PutString(rm.Path.Key())
		codec.EncodeTimestamp(w, rm.TS)
	}

	w.PutBytes(d.OriginActor.Bytes())
	return w.Bytes()
}

func computeID(d Delta) ID {
	sum := blake2b.Sum256(canonicalBytes(d))
	var id ID
	copy(id[:], sum[:16])
	return id
}

// Encode appends the full canonical wire form of d — the form the delta
// log and the transport both persist/transmit, distinct from
// canonicalBytes which only feeds the content hash and drops nothing that
// would make the hash ambiguous but need not be decodable. Encode must
// preserve every field needed to reconstruct d exactly.
func Encode(w *codec.Writer, d Delta) {
	docid.EncodeDocID(w, d.DocID)

	w.PutUvarint(uint64(len(d.Inserts)))
	for _, ins := range d.Inserts {
		docid.EncodePath(w, ins.Path)
		codec.EncodeValue(w, ins.Value)
		codec.EncodeTimestamp(w, ins.TS)
	}

	w.PutUvarint(uint64(len(d.Removes)))
	for _, rm := range d.Removes {
		docid.EncodePath(w, rm.Path)
		codec.EncodeTimestamp(w, rm.TS)
	}

	w.PutBytes(d.OriginActor.Bytes())
}

// Decode reads the canonical wire form written by Encode and recomputes
// the delta's content-addressed id from the decoded fields.
func Decode(r *codec.Reader) (Delta, error) {
	doc, err := docid.DecodeDocID(r)
	if err != nil {
		return Delta{}, fmt.Errorf("delta: decode doc id: %w", err)
	}

	insertCount, err := r.Uvarint()
	if err != nil {
		return Delta{}, fmt.Errorf("delta: decode insert count: %w", err)
	}
	inserts := make([]Insert, 0, insertCount)
	for i := uint64(0); i < insertCount; i++ {
		path, err := docid.DecodePath(r)
		if err != nil {
			return Delta{}, fmt.Errorf("delta: decode insert path: %w", err)
		}
		value, err := codec.DecodeValue(r)
		if err != nil {
			return Delta{}, fmt.Errorf("delta: decode insert value: %w", err)
		}
		ts, err := codec.DecodeTimestamp(r)
		if err != nil {
			return Delta{}, fmt.Errorf("delta: decode insert ts: %w", err)
		}
		inserts = append(inserts, Insert{Path: path, Value: value, TS: ts})
	}

	removeCount, err := r.Uvarint()
	if err != nil {
		return Delta{}, fmt.Errorf("delta: decode remove count: %w", err)
	}
	removes := make([]Remove, 0, removeCount)
	for i := uint64(0); i < removeCount; i++ {
		path, err := docid.DecodePath(r)
		if err != nil {
			return Delta{}, fmt.Errorf("delta: decode remove path: %w", err)
		}
		ts, err := codec.DecodeTimestamp(r)
		if err != nil {
			return Delta{}, fmt.Errorf("delta: decode remove ts: %w", err)
		}
		removes = append(removes, Remove{Path: path, TS: ts})
	}

	originBytes, err := r.Bytes()
	if err != nil {
		return Delta{}, fmt.Errorf("delta: decode origin actor: %w", err)
	}
	origin, err := actor.FromBytes(originBytes)
	if err != nil {
		return Delta{}, fmt.Errorf("delta: decode origin actor: %w", err)
	}

	return New(doc, inserts, removes, origin), nil
}
