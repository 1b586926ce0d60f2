package document

import (
	"graphdoc/api/internal/crdt"
)

// TemplateMeta carries the metadata available when a document is loaded for
// the very first time and must be synthesized from a template.
type TemplateMeta struct {
	ID    string
	Title string
}

// NewTemplateDoc builds the initial document for a fresh id: a single
// context node carrying the document title, plus an empty notes fragment
// seeded from the stored template shape.
func NewTemplateDoc(meta TemplateMeta) (*crdt.Doc, error) {
	doc := crdt.NewDoc()

	title := meta.Title
	if title == "" {
		title = "Untitled"
	}
	spec := DocSpec{
		Nodes: []NodeSpec{
			{
				ID: "{context}",
				Properties: map[string]any{
					PropName: title,
					PropType: "context",
				},
			},
		},
	}
	if _, err := NewBuilder().Build(doc, spec); err != nil {
		return nil, err
	}

	notes := []FragmentNode{
		{Type: "element", Tag: "paragraph", Content: []FragmentNode{
			{Type: "text", Deltas: []FragmentRun{{Insert: title}}},
		}},
	}
	if err := BuildFragmentFromJSON(doc.Fragment("notes"), notes); err != nil {
		return nil, err
	}
	return doc, nil
}
