package badger

import (
	"encoding/hex"

	"github.com/dgraph-io/badger/v4"

	"aas-deltasync/src/codec"
	"aas-deltasync/src/domain/docid"
	"aas-deltasync/src/domain/document"
	pkgerrors "aas-deltasync/src/pkg/errors"
)

// prefixSnapshot keys the "snapshot" instance's materialized document
// state, keyed doc:<DocId key hex>. The record holds the DocId, head_ts and
// the resolved entries; tombstones are not stored.
const prefixSnapshot = "doc:"

// SnapshotStore persists periodic document.State checkpoints so recovery
// after restart only has to replay delta log entries newer than the
// snapshot's recorded head_ts, rather than the entire history (spec §6).
type SnapshotStore struct {
	db *badger.DB
}

// NewSnapshotStore opens a SnapshotStore over db.
func NewSnapshotStore(db *badger.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func snapshotKey(id docid.DocID) []byte {
	return []byte(prefixSnapshot + hex.EncodeToString([]byte(id.Key())))
}

// Save persists state, overwriting any previous checkpoint for the same
// DocId.
func (s *SnapshotStore) Save(state document.State) error {
	w := &codec.Writer{}
	docid.EncodeDocID(w, state.DocID)
	codec.EncodeTimestamp(w, state.HeadTS)
	w.PutUvarint(uint64(len(state.Entries)))
	for _, e := range state.Entries {
		docid.EncodePath(w, e.Path)
		codec.EncodeValue(w, e.Value)
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(state.DocID), w.Bytes())
	})
	if err != nil {
		return pkgerrors.NewPersistenceError("snapshot_save", err)
	}
	return nil
}

// Load retrieves the last checkpoint for id, if any.
func (s *SnapshotStore) Load(id docid.DocID) (document.State, bool, error) {
	var state document.State
	var found bool

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			decoded, err := decodeSnapshot(val)
			if err != nil {
				return err
			}
			state = decoded
			return nil
		})
	})
	if err != nil {
		return document.State{}, false, pkgerrors.NewPersistenceError("snapshot_load", err)
	}
	return state, found, nil
}

func decodeSnapshot(val []byte) (document.State, error) {
	r := codec.NewReader(val)

	doc, err := docid.DecodeDocID(r)
	if err != nil {
		return document.State{}, err
	}
	headTS, err := codec.DecodeTimestamp(r)
	if err != nil {
		return document.State{}, err
	}
	n, err := r.Uvarint()
	if err != nil {
		return document.State{}, err
	}
	entries := make([]document.StateEntry, 0, n)
	for i := uint64(0); i < n; i++ {
		path, err := docid.DecodePath(r)
		if err != nil {
			return document.State{}, err
		}
		value, err := codec.DecodeValue(r)
		if err != nil {
			return document.State{}, err
		}
		entries = append(entries, document.StateEntry{Path: path, Value: value})
	}
	return document.State{DocID: doc, Entries: entries, HeadTS: headTS}, nil
}

// Delete removes the checkpoint for id, if any.
func (s *SnapshotStore) Delete(id docid.DocID) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(snapshotKey(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return pkgerrors.NewPersistenceError("snapshot_delete", err)
	}
	return nil
}
