package document

import (
	"encoding/json"
	"fmt"

	"graphdoc/api/internal/crdt"
)

// DSL is the JSON projection of a document's CRDT state, consumed by the
// persistence layer and the search indexer. It is a read model: edits never
// flow back through it.
type DSL struct {
	Nodes []DSLNode `json:"nodes"`
	Edges []DSLEdge `json:"edges"`
}

type DSLNode struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Parent     string         `json:"parent,omitempty"`
	Children   []string       `json:"children,omitempty"`
	Locked     bool           `json:"locked"`
	Properties map[string]any `json:"properties,omitempty"`
}

type DSLEdge struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Source     DSLTerminal    `json:"source"`
	Target     DSLTerminal    `json:"target"`
	Properties map[string]any `json:"properties,omitempty"`
}

// DSLTerminal is an edge endpoint: the referenced cell plus an optional port.
type DSLTerminal struct {
	Cell string `json:"cell"`
	Port string `json:"port,omitempty"`
}

// TransformDocToDSL projects every record reachable from the root into the
// DSL. Records discriminate node vs edge by their type property, not by
// structure.
func TransformDocToDSL(doc *crdt.Doc) (DSL, error) {
	cells := doc.Map("cells")
	dsl := DSL{Nodes: []DSLNode{}, Edges: []DSLEdge{}}

	for _, id := range cells.Keys() {
		if id == RootID {
			continue
		}
		record, ok := RecordOf(cells.Map(id))
		if !ok {
			return DSL{}, fmt.Errorf("cell %s is not a node record", id)
		}
		po := record.ToPO()

		typeTag, _ := po.Properties[PropType].(string)
		name, _ := po.Properties[PropName].(string)
		props := map[string]any{}
		for k, v := range po.Properties {
			if k == MarkerProperty || k == PropName || k == PropType {
				continue
			}
			props[k] = v
		}

		if typeTag == "edge" {
			edge := DSLEdge{ID: po.ID, Name: name, Properties: props}
			edge.Source = terminalFrom(props, "source", "sourcePort")
			edge.Target = terminalFrom(props, "target", "targetPort")
			delete(props, "source")
			delete(props, "sourcePort")
			delete(props, "target")
			delete(props, "targetPort")
			dsl.Edges = append(dsl.Edges, edge)
			continue
		}

		dsl.Nodes = append(dsl.Nodes, DSLNode{
			ID:         po.ID,
			Name:       name,
			Type:       typeTag,
			Parent:     po.Parent,
			Children:   po.Children,
			Locked:     po.Locked,
			Properties: props,
		})
	}
	return dsl, nil
}

func terminalFrom(props map[string]any, cellKey, portKey string) DSLTerminal {
	term := DSLTerminal{}
	if cell, ok := props[cellKey].(string); ok {
		term.Cell = cell
	}
	if port, ok := props[portKey].(string); ok {
		term.Port = port
	}
	return term
}

// MarshalDSL renders the projection as JSON for persistence.
func MarshalDSL(doc *crdt.Doc) (json.RawMessage, error) {
	dsl, err := TransformDocToDSL(doc)
	if err != nil {
		return nil, err
	}
	return json.Marshal(dsl)
}
