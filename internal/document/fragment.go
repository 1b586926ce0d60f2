package document

import (
	"fmt"

	"graphdoc/api/internal/crdt"
)

// JSON interchange form of a rich-text fragment. The live CRDT fragment is
// the collaboratively edited representation; this tree is what gets imported,
// exported and stored in templates.
type FragmentNode struct {
	Type    string         `json:"type"`
	Deltas  []FragmentRun  `json:"deltas,omitempty"`
	Tag     string         `json:"tag,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []FragmentNode `json:"content,omitempty"`
}

// FragmentRun is one formatted text run.
type FragmentRun struct {
	Insert     string         `json:"insert"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

const (
	fragmentText    = "text"
	fragmentElement = "element"
)

// FragmentToJSON decomposes a fragment into its interchange tree. Elements
// without children get absent content, never an empty array; stored
// templates depend on that distinction.
func FragmentToJSON(f *crdt.XmlFragment) []FragmentNode {
	return nodesToJSON(f.Nodes())
}

func nodesToJSON(nodes []crdt.XmlNode) []FragmentNode {
	var out []FragmentNode
	for _, n := range nodes {
		switch node := n.(type) {
		case crdt.XmlText:
			deltas := make([]FragmentRun, len(node.Deltas))
			for i, d := range node.Deltas {
				deltas[i] = FragmentRun{Insert: d.Insert, Attributes: d.Attributes}
			}
			out = append(out, FragmentNode{Type: fragmentText, Deltas: deltas})
		case crdt.XmlElement:
			out = append(out, FragmentNode{
				Type:    fragmentElement,
				Tag:     node.Tag,
				Attrs:   node.Attrs,
				Content: nodesToJSON(node.Content),
			})
		default:
			panic(fmt.Sprintf("unexpected node type %T", n))
		}
	}
	return out
}

// BuildFragmentFromJSON appends the tree's nodes to the target fragment in
// order, as one batch. The target is assumed to start empty; this is not
// checked.
func BuildFragmentFromJSON(f *crdt.XmlFragment, tree []FragmentNode) error {
	nodes, err := nodesFromJSON(tree)
	if err != nil {
		return err
	}
	return f.PushAll(nodes)
}

func nodesFromJSON(tree []FragmentNode) ([]crdt.XmlNode, error) {
	var out []crdt.XmlNode
	for _, jn := range tree {
		switch jn.Type {
		case fragmentText:
			deltas := make([]crdt.Delta, len(jn.Deltas))
			for i, d := range jn.Deltas {
				deltas[i] = crdt.Delta{Insert: d.Insert, Attributes: d.Attributes}
			}
			out = append(out, crdt.XmlText{Deltas: deltas})
		case fragmentElement:
			content, err := nodesFromJSON(jn.Content)
			if err != nil {
				return nil, err
			}
			out = append(out, crdt.XmlElement{Tag: jn.Tag, Attrs: jn.Attrs, Content: content})
		default:
			return nil, fmt.Errorf("fragment: unknown node type %q", jn.Type)
		}
	}
	return out, nil
}
