package document

import (
	"reflect"
	"testing"

	"graphdoc/api/internal/crdt"
)

func TestFragmentJSONRoundTrip(t *testing.T) {
	tree := []FragmentNode{
		{Type: "text", Deltas: []FragmentRun{
			{Insert: "plain "},
			{Insert: "bold", Attributes: map[string]any{"bold": true}},
		}},
		{Type: "element", Tag: "paragraph", Attrs: map[string]any{"align": "center", "indent": float64(2)}, Content: []FragmentNode{
			{Type: "text", Deltas: []FragmentRun{{Insert: "inner"}}},
		}},
		{Type: "element", Tag: "divider"},
	}

	doc := crdt.NewDocWithClient(1)
	frag := doc.Fragment("body")
	if err := BuildFragmentFromJSON(frag, tree); err != nil {
		t.Fatalf("fromJSON: %v", err)
	}
	got := FragmentToJSON(frag)
	if !reflect.DeepEqual(got, tree) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, tree)
	}
}

func TestFragmentEmptyContentIsAbsent(t *testing.T) {
	doc := crdt.NewDocWithClient(1)
	frag := doc.Fragment("body")
	if err := BuildFragmentFromJSON(frag, []FragmentNode{{Type: "element", Tag: "hr"}}); err != nil {
		t.Fatal(err)
	}
	got := FragmentToJSON(frag)
	if len(got) != 1 {
		t.Fatalf("len = %d; want 1", len(got))
	}
	if got[0].Content != nil {
		t.Fatalf("content = %v; want absent", got[0].Content)
	}
}

func TestFragmentUnknownTypeRejected(t *testing.T) {
	doc := crdt.NewDocWithClient(1)
	err := BuildFragmentFromJSON(doc.Fragment("body"), []FragmentNode{{Type: "mystery"}})
	if err == nil {
		t.Fatal("expected error for unknown node type")
	}
}

func TestFragmentSurvivesReplication(t *testing.T) {
	tree := []FragmentNode{
		{Type: "element", Tag: "paragraph", Content: []FragmentNode{
			{Type: "text", Deltas: []FragmentRun{{Insert: "shared"}}},
		}},
	}
	a := crdt.NewDocWithClient(1)
	if err := BuildFragmentFromJSON(a.Fragment("body"), tree); err != nil {
		t.Fatal(err)
	}
	b := crdt.NewDocWithClient(2)
	if err := crdt.ApplyUpdate(b, crdt.EncodeStateAsUpdate(a)); err != nil {
		t.Fatal(err)
	}
	if got := FragmentToJSON(b.Fragment("body")); !reflect.DeepEqual(got, tree) {
		t.Fatalf("replica fragment mismatch: %+v", got)
	}
}
