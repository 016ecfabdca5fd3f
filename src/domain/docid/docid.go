// Package docid defines the addressing types shared by the document model
// and the delta/replication layers: the document identity (spec §3's
// DocID) and the path that locates a leaf inside it. It is kept separate
// from both document and delta so that a Delta can name the DocID it
// belongs to without document needing to import delta in turn.
package docid

import "fmt"

// View selects which projection of a submodel a document represents.
// Merge never crosses a DocID, so the three views of the same submodel are
// independent documents (see the Open Question in spec §9 on whether they
// should share a clock — resolved in DESIGN.md to keep them independent).
type View string

const (
	ViewNormal   View = "normal"
	ViewValue    View = "value"
	ViewMetadata View = "metadata"
)

// DocID identifies one document: an AAS, one of its submodels, and a view.
type DocID struct {
	AasID      string
	SubmodelID string
	View       View
}

// String renders a DocID for logging and topic names.
func (d DocID) String() string {
	return fmt.Sprintf("%s/%s/%s", d.AasID, d.SubmodelID, d.View)
}

// Key returns a canonical, comparable map key for d. Unlike String, Key
// length-delimits each component so that no combination of aas_id /
// submodel_id values can collide across a view boundary.
func (d DocID) Key() string {
	return fmt.Sprintf("%d:%s\x00%d:%s\x00%s", len(d.AasID), d.AasID, len(d.SubmodelID), d.SubmodelID, d.View)
}
