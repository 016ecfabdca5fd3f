package docid

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// SegmentKind tags whether a Segment addresses a child by its structural
// idShort name or by a stable synthetic element id (spec §3: "ordered
// lists ... stable 128-bit element IDs, never positional indices").
type SegmentKind uint8

const (
	SegmentIdShort SegmentKind = iota
	SegmentElementID
)

// ElementID is a synthetic 128-bit identifier minted for a list element the
// first time the agent observes it, so later reorders do not change its
// address (spec §4.3's list-element policy).
type ElementID [16]byte

// NewElementID mints a fresh synthetic element id.
func NewElementID() ElementID {
	return ElementID(uuid.New())
}

func (e ElementID) String() string { return hex.EncodeToString(e[:]) }

// Segment is one step of a Path: either an idShort name or a stable
// element id.
type Segment struct {
	Kind      SegmentKind
	IdShort   string
	ElementID ElementID
}

// IdShortSegment builds a Segment addressing a child by idShort.
func IdShortSegment(idShort string) Segment {
	return Segment{Kind: SegmentIdShort, IdShort: idShort}
}

// ElementIDSegment builds a Segment addressing a list child by its stable id.
func ElementIDSegment(id ElementID) Segment {
	return Segment{Kind: SegmentElementID, ElementID: id}
}

func (s Segment) String() string {
	if s.Kind == SegmentElementID {
		return "[" + s.ElementID.String() + "]"
	}
	return s.IdShort
}

func (s Segment) Equal(other Segment) bool {
	if s.Kind != other.Kind {
		return false
	}
	if s.Kind == SegmentElementID {
		return s.ElementID == other.ElementID
	}
	return s.IdShort == other.IdShort
}

// Path is an ordered sequence of Segments addressing a leaf inside a
// document.
type Path []Segment

// NewPath builds a Path from idShort segments, for the common case.
func NewPath(idShorts ...string) Path {
	p := make(Path, len(idShorts))
	for i, s := range idShorts {
		p[i] = IdShortSegment(s)
	}
	return p
}

// String renders a Path for logging, joining segments with '.'.
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = s.String()
	}
	return strings.Join(parts, ".")
}

// Equal reports whether p and other address the same element.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if !p[i].Equal(other[i]) {
			return false
		}
	}
	return true
}

// Key returns a canonical, comparable string form of p, suitable as the
// key type of the OR-map backing a Document. It length-delimits each
// segment so no concatenation of segments can collide with a different
// split of the same characters.
func (p Path) Key() string {
	var b strings.Builder
	for _, s := range p {
		if s.Kind == SegmentElementID {
			fmt.Fprintf(&b, "#%s\x00", s.ElementID.String())
		} else {
			fmt.Fprintf(&b, "%d:%s\x00", len(s.IdShort), s.IdShort)
		}
	}
	return b.String()
}
