// Package crdt implements the CRDT primitives the document model is built
// from: a tagged leaf value, an LWW register over it, and an OR-map with
// tombstones. See spec.md §3 and §4.2 for the contracts every primitive
// here must satisfy (commutative, associative, idempotent join).
package crdt

// Kind tags the shape of a Value, matching the Design Note "Polymorphic
// AAS element variants" (§9): one flat tagged struct, never a subclassing
// hierarchy.
type Kind uint8

const (
	KindAbsent Kind = iota
	KindScalar
	KindReference
	KindBlobPointer
)

// Value is the leaf value stored by an LWW register. Only the fields for
// the active Kind are meaningful.
type Value struct {
	Kind Kind

	// Scalar
	ScalarForm  string
	ScalarType  string

	// Reference: an ordered sequence of reference keys.
	ReferenceKeys []ReferenceKey

	// BlobPointer
	BlobHash string
	BlobLen  int64
	BlobMime string
}

// ReferenceKey is one segment of a Reference value's key sequence.
type ReferenceKey struct {
	Type  string
	Value string
}

// Absent is the zero Value: a path with no leaf.
var Absent = Value{Kind: KindAbsent}

// NewScalar builds a scalar Value.
func NewScalar(form, valueType string) Value {
	return Value{Kind: KindScalar, ScalarForm: form, ScalarType: valueType}
}

// NewReference builds a reference Value.
func NewReference(keys []ReferenceKey) Value {
	return Value{Kind: KindReference, ReferenceKeys: keys}
}

// NewBlobPointer builds a blob pointer Value.
func NewBlobPointer(hash string, length int64, mime string) Value {
	return Value{Kind: KindBlobPointer, BlobHash: hash, BlobLen: length, BlobMime: mime}
}

// Equal reports whether two Values carry the same content.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindAbsent:
		return true
	case KindScalar:
		return v.ScalarForm == other.ScalarForm && v.ScalarType == other.ScalarType
	case KindReference:
		if len(v.ReferenceKeys) != len(other.ReferenceKeys) {
			return false
		}
		for i := range v.ReferenceKeys {
			if v.ReferenceKeys[i] != other.ReferenceKeys[i] {
				return false
			}
		}
		return true
	case KindBlobPointer:
		return v.BlobHash == other.BlobHash && v.BlobLen == other.BlobLen && v.BlobMime == other.BlobMime
	default:
		return false
	}
}
