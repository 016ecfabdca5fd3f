package docid

import (
	"fmt"

	"aas-deltasync/src/codec"
)

// Segment kind tags for the wire form. Stable across versions.
const (
	segTagIdShort   byte = iota
	segTagElementID byte = 1
)

// EncodeDocID appends the canonical form of id: aas_id, submodel_id, view,
// each length-prefixed.
func EncodeDocID(w *codec.Writer, id DocID) {
	w.PutString(id.AasID)
	w.PutString(id.SubmodelID)
	w.PutString(string(id.View))
}

// DecodeDocID reads the canonical form written by EncodeDocID.
func DecodeDocID(r *codec.Reader) (DocID, error) {
	aasID, err := r.String()
	if err != nil {
		return DocID{}, fmt.Errorf("docid: read aas_id: %w", err)
	}
	submodelID, err := r.String()
	if err != nil {
		return DocID{}, fmt.Errorf("docid: read submodel_id: %w", err)
	}
	view, err := r.String()
	if err != nil {
		return DocID{}, fmt.Errorf("docid: read view: %w", err)
	}
	return DocID{AasID: aasID, SubmodelID: submodelID, View: View(view)}, nil
}

// EncodePath appends the canonical form of p: a count followed by one tag
// + payload per segment, so a decoded Path can distinguish idShort
// segments from stable element-id segments exactly as it was built.
func EncodePath(w *codec.Writer, p Path) {
	w.PutUvarint(uint64(len(p)))
	for _, s := range p {
		if s.Kind == SegmentElementID {
			w.PutByte(segTagElementID)
			w.PutBytes(s.ElementID[:])
		} else {
			w.PutByte(segTagIdShort)
			w.PutString(s.IdShort)
		}
	}
}

// DecodePath reads the canonical form written by EncodePath.
func DecodePath(r *codec.Reader) (Path, error) {
	n, err := r.Uvarint()
	if err != nil {
		return nil, fmt.Errorf("docid: read path length: %w", err)
	}
	p := make(Path, 0, n)
	for i := uint64(0); i < n; i++ {
		tag, err := r.Byte()
		if err != nil {
			return nil, fmt.Errorf("docid: read segment tag: %w", err)
		}
		switch tag {
		case segTagIdShort:
			idShort, err := r.String()
			if err != nil {
				return nil, err
			}
			p = append(p, IdShortSegment(idShort))
		case segTagElementID:
			raw, err := r.Bytes()
			if err != nil {
				return nil, err
			}
			if len(raw) != 16 {
				return nil, fmt.Errorf("docid: element id has %d bytes, want 16", len(raw))
			}
			var eid ElementID
			copy(eid[:], raw)
			p = append(p, ElementIDSegment(eid))
		default:
			return nil, fmt.Errorf("docid: unknown segment tag %d", tag)
		}
	}
	return p, nil
}
