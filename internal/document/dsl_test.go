package document

import (
	"encoding/json"
	"testing"

	"graphdoc/api/internal/crdt"
)

func TestTransformDocToDSL(t *testing.T) {
	doc := crdt.NewDocWithClient(1)
	_, err := testBuilder().Build(doc, DocSpec{
		Nodes: []NodeSpec{
			{ID: "[a]", Properties: map[string]any{PropName: "A", PropType: "aggregate", "color": "red"}},
			{ID: "[b]", Properties: map[string]any{PropName: "B", PropType: "entity"}},
		},
		Edges: []EdgeSpec{
			{
				Source:     TerminalSpec{Cell: "[a]", Port: "out"},
				Target:     TerminalSpec{Cell: "[b]"},
				Properties: map[string]any{PropName: "uses"},
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	dsl, err := TransformDocToDSL(doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(dsl.Nodes) != 2 || len(dsl.Edges) != 1 {
		t.Fatalf("nodes=%d edges=%d", len(dsl.Nodes), len(dsl.Edges))
	}

	byName := map[string]DSLNode{}
	for _, n := range dsl.Nodes {
		byName[n.Name] = n
	}
	if byName["A"].Type != "aggregate" || byName["A"].Properties["color"] != "red" {
		t.Fatalf("node A = %+v", byName["A"])
	}

	edge := dsl.Edges[0]
	if edge.Name != "uses" {
		t.Fatalf("edge name = %q", edge.Name)
	}
	if edge.Source.Cell != "a" || edge.Source.Port != "out" {
		t.Fatalf("edge source = %+v", edge.Source)
	}
	if edge.Target.Cell != "b" || edge.Target.Port != "" {
		t.Fatalf("edge target = %+v", edge.Target)
	}
	// Terminal descriptors are lifted out of the open property bag.
	if _, ok := edge.Properties["source"]; ok {
		t.Fatal("terminal left in property bag")
	}
}

func TestMarshalDSLIsValidJSON(t *testing.T) {
	doc := crdt.NewDocWithClient(1)
	if _, err := testBuilder().Build(doc, DocSpec{Nodes: []NodeSpec{{ID: "[x]"}}}); err != nil {
		t.Fatal(err)
	}
	raw, err := MarshalDSL(doc)
	if err != nil {
		t.Fatal(err)
	}
	var parsed struct {
		Nodes []DSLNode `json:"nodes"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(parsed.Nodes) != 1 || parsed.Nodes[0].ID != "x" {
		t.Fatalf("parsed = %+v", parsed)
	}
}

func TestNewTemplateDoc(t *testing.T) {
	doc, err := NewTemplateDoc(TemplateMeta{ID: "d1", Title: "Ordering"})
	if err != nil {
		t.Fatal(err)
	}
	dsl, err := TransformDocToDSL(doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(dsl.Nodes) != 1 || dsl.Nodes[0].Name != "Ordering" || dsl.Nodes[0].Type != "context" {
		t.Fatalf("template nodes = %+v", dsl.Nodes)
	}
	notes := FragmentToJSON(doc.Fragment("notes"))
	if len(notes) != 1 || notes[0].Tag != "paragraph" {
		t.Fatalf("template notes = %+v", notes)
	}
}
