package badger

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"aas-deltasync/src/codec"
	"aas-deltasync/src/domain/actor"
	"aas-deltasync/src/domain/delta"
	pkgerrors "aas-deltasync/src/pkg/errors"
)

// Key prefixes for the delta log.
//
//	log:<origin_actor hex>:<origin_seq, 20-digit zero-padded>  -> encoded delta.Delta
//	idx:<delta_id hex>                                         -> "<origin_actor hex>:<origin_seq>"
//	localseq:<actor hex>                                       -> next origin_seq to assign (8 bytes BE)
//	progress:<peer hex>:<origin_actor hex>                     -> highest origin_seq peer has
//	                                                               confirmed receiving from origin_actor (8 bytes BE)
//
// Sharding the primary key by origin_actor mirrors the teacher's sharding
// of delta keys by sourceID, for the same reason: a single monotonically
// increasing key (e.g. a global sequence number) would hot-spot one LSM
// range; per-actor sequences spread writes across the key space.
const (
	prefixLog      = "log:"
	prefixIdx      = "idx:"
	prefixLocalSeq = "localseq:"
	prefixProgress = "progress:"
)

// AppendOutcome reports how AppendRemote classified an incoming delta
// (spec §4.5's append_remote public surface).
type AppendOutcome int

const (
	Accepted AppendOutcome = iota
	Duplicate
	Rejected
)

// Entry is one durable delta log record.
type Entry struct {
	OriginActor actor.ID
	OriginSeq   uint64
	Delta       delta.Delta
	ReceivedAt  time.Time
}

// DeltaLog is the append-only durable store of produced and received
// deltas, plus per-peer high-water marks, backing the replicator (spec
// §4.5). One DeltaLog wraps one named BadgerDB instance.
type DeltaLog struct {
	db         *badger.DB
	localActor actor.ID
}

// NewDeltaLog opens a DeltaLog over db, assigning origin_seq to locally
// produced deltas under localActor's identity.
func NewDeltaLog(db *badger.DB, localActor actor.ID) *DeltaLog {
	return &DeltaLog{db: db, localActor: localActor}
}

func logKey(origin actor.ID, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixLog, hex.EncodeToString(origin[:]), seq))
}

func idxKey(id delta.ID) []byte {
	return []byte(prefixIdx + hex.EncodeToString(id[:]))
}

func localSeqKey(a actor.ID) []byte {
	return []byte(prefixLocalSeq + hex.EncodeToString(a[:]))
}

func progressKey(peer, origin actor.ID) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixProgress, hex.EncodeToString(peer[:]), hex.EncodeToString(origin[:])))
}

func encodeUint64(n uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return b[:]
}

func decodeUint64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }

// AppendLocal assigns the next origin_seq for the local actor, persists
// the delta and its dedup index atomically, and returns the assigned
// sequence number.
func (l *DeltaLog) AppendLocal(d delta.Delta) (uint64, error) {
	var seq uint64
	err := l.db.Update(func(txn *badger.Txn) error {
		next, err := nextLocalSeq(txn, l.localActor)
		if err != nil {
			return err
		}
		seq = next

		w := &codec.Writer{}
		delta.Encode(w, d)

		if err := txn.Set(logKey(l.localActor, seq), w.Bytes()); err != nil {
			return err
		}
		if err := txn.Set(idxKey(d.ID()), logKey(l.localActor, seq)); err != nil {
			return err
		}
		return txn.Set(localSeqKey(l.localActor), encodeUint64(seq+1))
	})
	if err != nil {
		return 0, pkgerrors.NewPersistenceError("append_local", err)
	}
	return seq, nil
}

func nextLocalSeq(txn *badger.Txn, a actor.ID) (uint64, error) {
	item, err := txn.Get(localSeqKey(a))
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var seq uint64
	err = item.Value(func(val []byte) error {
		seq = decodeUint64(val)
		return nil
	})
	return seq, err
}

// AppendRemote records a delta received from origin at origin_seq. A
// delta_id collision with identical stored payload is a harmless replay
// (Duplicate); a collision with differing payload is rejected as a
// forged delta (spec §7's ForgedDelta, a security event distinct from an
// ordinary duplicate).
func (l *DeltaLog) AppendRemote(origin actor.ID, seq uint64, d delta.Delta) (AppendOutcome, error) {
	w := &codec.Writer{}
	delta.Encode(w, d)
	payload := w.Bytes()

	var outcome AppendOutcome
	err := l.db.Update(func(txn *badger.Txn) error {
		existingKeyItem, err := txn.Get(idxKey(d.ID()))
		if err == nil {
			var existingKey []byte
			if verr := existingKeyItem.Value(func(val []byte) error {
				existingKey = append([]byte{}, val...)
				return nil
			}); verr != nil {
				return verr
			}
			existingItem, err := txn.Get(existingKey)
			if err != nil {
				return err
			}
			var existingPayload []byte
			if verr := existingItem.Value(func(val []byte) error {
				existingPayload = append([]byte{}, val...)
				return nil
			}); verr != nil {
				return verr
			}
			if string(existingPayload) == string(payload) {
				outcome = Duplicate
				return nil
			}
			outcome = Rejected
			return pkgerrors.NewForgedDelta(d.ID().String())
		}
		if err != badger.ErrKeyNotFound {
			return err
		}

		if err := txn.Set(logKey(origin, seq), payload); err != nil {
			return err
		}
		outcome = Accepted
		return txn.Set(idxKey(d.ID()), logKey(origin, seq))
	})
	if err != nil && outcome != Rejected {
		return outcome, pkgerrors.NewPersistenceError("append_remote", err)
	}
	return outcome, err
}

// Range returns every log entry from origin whose origin_seq is strictly
// greater than fromSeq, in ascending sequence order — the payload of an
// anti-entropy response (spec §4.6).
func (l *DeltaLog) Range(origin actor.ID, fromSeq uint64) ([]Entry, error) {
	var entries []Entry
	prefix := []byte(prefixLog + hex.EncodeToString(origin[:]) + ":")
	seekKey := []byte(fmt.Sprintf("%s%020d", string(prefix), fromSeq+1))

	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			seq, err := seqFromLogKey(item.Key(), prefix)
			if err != nil {
				return err
			}
			err = item.Value(func(val []byte) error {
				d, err := delta.Decode(codec.NewReader(val))
				if err != nil {
					return err
				}
				entries = append(entries, Entry{OriginActor: origin, OriginSeq: seq, Delta: d, ReceivedAt: time.Now()})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.NewPersistenceError("range", err)
	}
	return entries, nil
}

func seqFromLogKey(key []byte, prefix []byte) (uint64, error) {
	suffix := string(key[len(prefix):])
	seq, err := strconv.ParseUint(suffix, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed log key %q: %w", key, err)
	}
	return seq, nil
}

// UpdatePeerProgress records peer's self-reported high-water mark for
// origin's stream (learned from an AE-Request's known_progress map, or
// from a direct ack). Monotone: a lower seq never overwrites a higher
// one already recorded (spec §4.5, §5 "peer progress monotonicity").
func (l *DeltaLog) UpdatePeerProgress(peer, origin actor.ID, seq uint64) error {
	err := l.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(progressKey(peer, origin))
		if err == nil {
			var existing uint64
			if verr := item.Value(func(val []byte) error {
				existing = decodeUint64(val)
				return nil
			}); verr != nil {
				return verr
			}
			if existing >= seq {
				return nil
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(progressKey(peer, origin), encodeUint64(seq))
	})
	if err != nil {
		return pkgerrors.NewPersistenceError("update_peer_progress", err)
	}
	return nil
}

// PeerProgress returns the highest origin_seq peer has confirmed
// receiving from origin, if any record exists.
func (l *DeltaLog) PeerProgress(peer, origin actor.ID) (uint64, bool, error) {
	var seq uint64
	var found bool
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(progressKey(peer, origin))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			seq = decodeUint64(val)
			return nil
		})
	})
	if err != nil {
		return 0, false, pkgerrors.NewPersistenceError("peer_progress", err)
	}
	return seq, found, nil
}

// KnownPeers returns every peer actor with at least one recorded
// progress mark, for driving anti-entropy peer selection.
func (l *DeltaLog) KnownPeers() ([]actor.ID, error) {
	seen := make(map[actor.ID]struct{})
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixProgress)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix([]byte(prefixProgress)); it.Next() {
			key := string(it.Item().Key())
			rest := key[len(prefixProgress):]
			parts := strings.SplitN(rest, ":", 2)
			if len(parts) != 2 {
				continue
			}
			raw, err := hex.DecodeString(parts[0])
			if err != nil || len(raw) != 16 {
				continue
			}
			var a actor.ID
			copy(a[:], raw)
			seen[a] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.NewPersistenceError("known_peers", err)
	}
	peers := make([]actor.ID, 0, len(seen))
	for a := range seen {
		peers = append(peers, a)
	}
	return peers, nil
}

// originActorsInLog lists the distinct origin actors with at least one
// entry in the log.
func (l *DeltaLog) originActorsInLog() ([]actor.ID, error) {
	seen := make(map[actor.ID]struct{})
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixLog)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix([]byte(prefixLog)); it.Next() {
			key := string(it.Item().Key())
			rest := key[len(prefixLog):]
			parts := strings.SplitN(rest, ":", 2)
			if len(parts) != 2 {
				continue
			}
			raw, err := hex.DecodeString(parts[0])
			if err != nil || len(raw) != 16 {
				continue
			}
			var a actor.ID
			copy(a[:], raw)
			seen[a] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.NewPersistenceError("compact: list origin actors", err)
	}
	actors := make([]actor.ID, 0, len(seen))
	for a := range seen {
		actors = append(actors, a)
	}
	return actors, nil
}

// Compact drops log entries that every known peer has confirmed
// receiving, origin actor by origin actor: for each origin whose stream
// this log holds, the GC floor is the minimum progress recorded for that
// origin across all known peers. An origin with no progress record from
// some peer is not garbage-collectable at all — dominance must be proved
// for every known peer, never assumed (spec §4.2's tombstone discipline,
// applied here to log entries).
func (l *DeltaLog) Compact() (int64, error) {
	peers, err := l.KnownPeers()
	if err != nil {
		return 0, err
	}
	if len(peers) == 0 {
		return 0, nil
	}
	origins, err := l.originActorsInLog()
	if err != nil {
		return 0, err
	}

	var deleted int64
	for _, origin := range origins {
		floor, ok := l.compactionFloor(peers, origin)
		if !ok {
			continue
		}
		n, err := l.deleteUpTo(origin, floor)
		if err != nil {
			return deleted, err
		}
		deleted += n
	}
	return deleted, nil
}

func (l *DeltaLog) compactionFloor(peers []actor.ID, origin actor.ID) (uint64, bool) {
	var floor uint64
	first := true
	for _, peer := range peers {
		seq, found, err := l.PeerProgress(peer, origin)
		if err != nil || !found {
			return 0, false
		}
		if first || seq < floor {
			floor = seq
			first = false
		}
	}
	return floor, !first
}

func (l *DeltaLog) deleteUpTo(origin actor.ID, floor uint64) (int64, error) {
	prefix := []byte(prefixLog + hex.EncodeToString(origin[:]) + ":")
	var keysToDelete [][]byte
	var idxToDelete [][]byte

	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			seq, err := seqFromLogKey(item.Key(), prefix)
			if err != nil {
				return err
			}
			if seq > floor {
				continue
			}
			key := append([]byte{}, item.Key()...)
			keysToDelete = append(keysToDelete, key)

			err = item.Value(func(val []byte) error {
				d, err := delta.Decode(codec.NewReader(val))
				if err != nil {
					return nil
				}
				idxToDelete = append(idxToDelete, idxKey(d.ID()))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, pkgerrors.NewPersistenceError("compact", err)
	}
	if len(keysToDelete) == 0 {
		return 0, nil
	}

	batch := l.db.NewWriteBatch()
	defer batch.Cancel()
	for _, key := range keysToDelete {
		if err := batch.Delete(key); err != nil {
			return 0, pkgerrors.NewPersistenceError("compact", err)
		}
	}
	for _, key := range idxToDelete {
		if err := batch.Delete(key); err != nil {
			return 0, pkgerrors.NewPersistenceError("compact", err)
		}
	}
	if err := batch.Flush(); err != nil {
		return 0, pkgerrors.NewPersistenceError("compact", err)
	}
	return int64(len(keysToDelete)), nil
}
