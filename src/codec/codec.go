// Package codec implements the canonical binary encoding of the sync
// agent's wire-level primitives (spec §4.4): a length-prefixed form with a
// stable field order and strict decoding. It knows about Timestamps and
// leaf Values only — the aggregate encodings for Delta, Document, and the
// anti-entropy messages live in the packages that own those types and are
// built out of these primitives, keeping codec free of upward dependencies.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"aas-deltasync/src/domain/actor"
	"aas-deltasync/src/domain/clock"
	"aas-deltasync/src/domain/crdt"
)

// Writer accumulates a canonical byte form. The zero value is ready to use.
type Writer struct {
	buf bytes.Buffer
}

// Bytes returns the accumulated canonical encoding.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// PutUvarint writes n as a variable-length unsigned integer.
func (w *Writer) PutUvarint(n uint64) {
	var tmp [binary.MaxVarintLen64]byte
	l := binary.PutUvarint(tmp[:], n)
	w.buf.Write(tmp[:l])
}

// PutBytes writes a length-prefixed byte string.
func (w *Writer) PutBytes(b []byte) {
	w.PutUvarint(uint64(len(b)))
	w.buf.Write(b)
}

// PutString writes a length-prefixed UTF-8 string.
func (w *Writer) PutString(s string) {
	w.PutBytes([]byte(s))
}

// PutByte writes a single tag or flag byte.
func (w *Writer) PutByte(b byte) {
	w.buf.WriteByte(b)
}

// Reader decodes a canonical byte form produced by Writer. Decoding is
// strict: truncated or malformed input always returns an error, never a
// zero value (spec §4.4 "unknown required fields fail").
type Reader struct {
	buf *bytes.Reader
}

// NewReader wraps b for canonical decoding.
func NewReader(b []byte) *Reader {
	return &Reader{buf: bytes.NewReader(b)}
}

// Uvarint reads a variable-length unsigned integer.
func (r *Reader) Uvarint() (uint64, error) {
	n, err := binary.ReadUvarint(r.buf)
	if err != nil {
		return 0, fmt.Errorf("codec: read uvarint: %w", err)
	}
	return n, nil
}

// Bytes reads a length-prefixed byte string.
func (r *Reader) Bytes() ([]byte, error) {
	n, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(r.buf.Len()) {
		return nil, fmt.Errorf("codec: length %d exceeds remaining %d bytes", n, r.buf.Len())
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.buf, b); err != nil {
		return nil, fmt.Errorf("codec: read bytes: %w", err)
	}
	return b, nil
}

// String reads a length-prefixed UTF-8 string.
func (r *Reader) String() (string, error) {
	b, err := r.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Byte reads a single tag or flag byte.
func (r *Reader) Byte() (byte, error) {
	return r.buf.ReadByte()
}

// Remaining reports whether any undecoded bytes remain.
func (r *Reader) Remaining() int { return r.buf.Len() }

// EncodeTimestamp appends the canonical form of a Timestamp: wall_ms (8
// bytes, big-endian), logical (4 bytes, big-endian), actor (16 raw bytes).
func EncodeTimestamp(w *Writer, ts clock.Timestamp) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(ts.WallMS))
	w.buf.Write(tmp[:])

	var tmp4 [4]byte
	binary.BigEndian.PutUint32(tmp4[:], ts.Logical)
	w.buf.Write(tmp4[:])

	w.buf.Write(ts.Actor.Bytes())
}

// DecodeTimestamp reads the canonical form written by EncodeTimestamp.
func DecodeTimestamp(r *Reader) (clock.Timestamp, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r.buf, tmp[:]); err != nil {
		return clock.Timestamp{}, fmt.Errorf("codec: read wall_ms: %w", err)
	}
	wall := int64(binary.BigEndian.Uint64(tmp[:]))

	var tmp4 [4]byte
	if _, err := io.ReadFull(r.buf, tmp4[:]); err != nil {
		return clock.Timestamp{}, fmt.Errorf("codec: read logical: %w", err)
	}
	logical := binary.BigEndian.Uint32(tmp4[:])

	var actorBytes [16]byte
	if _, err := io.ReadFull(r.buf, actorBytes[:]); err != nil {
		return clock.Timestamp{}, fmt.Errorf("codec: read actor: %w", err)
	}
	a, err := actor.FromBytes(actorBytes[:])
	if err != nil {
		return clock.Timestamp{}, err
	}

	return clock.Timestamp{WallMS: wall, Logical: logical, Actor: a}, nil
}

// Value kind tags. Stable across versions; never renumber.
const (
	tagAbsent byte = iota
	tagScalar
	tagReference
	tagBlobPointer
)

// EncodeValue appends the canonical form of a leaf Value.
func EncodeValue(w *Writer, v crdt.Value) {
	switch v.Kind {
	case crdt.KindAbsent:
		w.PutByte(tagAbsent)
	case crdt.KindScalar:
		w.PutByte(tagScalar)
		w.PutString(v.ScalarForm)
		w.PutString(v.ScalarType)
	case crdt.KindReference:
		w.PutByte(tagReference)
		w.PutUvarint(uint64(len(v.ReferenceKeys)))
		for _, k := range v.ReferenceKeys {
			w.PutString(k.Type)
			w.PutString(k.Value)
		}
	case crdt.KindBlobPointer:
		w.PutByte(tagBlobPointer)
		w.PutString(v.BlobHash)
		w.PutUvarint(uint64(v.BlobLen))
		w.PutString(v.BlobMime)
	default:
		panic(fmt.Sprintf("codec: unknown value kind %d", v.Kind))
	}
}

// DecodeValue reads the canonical form written by EncodeValue. An unknown
// tag byte is a hard decode failure, not a silently-absent value.
func DecodeValue(r *Reader) (crdt.Value, error) {
	tag, err := r.Byte()
	if err != nil {
		return crdt.Value{}, fmt.Errorf("codec: read value tag: %w", err)
	}
	switch tag {
	case tagAbsent:
		return crdt.Absent, nil
	case tagScalar:
		form, err := r.String()
		if err != nil {
			return crdt.Value{}, err
		}
		typ, err := r.String()
		if err != nil {
			return crdt.Value{}, err
		}
		return crdt.NewScalar(form, typ), nil
	case tagReference:
		n, err := r.Uvarint()
		if err != nil {
			return crdt.Value{}, err
		}
		keys := make([]crdt.ReferenceKey, 0, n)
		for i := uint64(0); i < n; i++ {
			kt, err := r.String()
			if err != nil {
				return crdt.Value{}, err
			}
			kv, err := r.String()
			if err != nil {
				return crdt.Value{}, err
			}
			keys = append(keys, crdt.ReferenceKey{Type: kt, Value: kv})
		}
		return crdt.NewReference(keys), nil
	case tagBlobPointer:
		hash, err := r.String()
		if err != nil {
			return crdt.Value{}, err
		}
		length, err := r.Uvarint()
		if err != nil {
			return crdt.Value{}, err
		}
		mime, err := r.String()
		if err != nil {
			return crdt.Value{}, err
		}
		return crdt.NewBlobPointer(hash, int64(length), mime), nil
	default:
		return crdt.Value{}, fmt.Errorf("codec: unknown value tag %d", tag)
	}
}
