package document

import (
	"reflect"
	"testing"

	"graphdoc/api/internal/crdt"
)

func attach(t *testing.T, doc *crdt.Doc, id string, record *crdt.Map) Record {
	t.Helper()
	if err := doc.Map("cells").Set(id, record); err != nil {
		t.Fatalf("attach %s: %v", id, err)
	}
	rec, ok := RecordOf(doc.Map("cells").Map(id))
	if !ok {
		t.Fatalf("attached map for %s did not decode as a record", id)
	}
	return rec
}

func TestRecordPORoundTrip(t *testing.T) {
	po := NodePO{
		ID:       "n1",
		Parent:   "root",
		Children: []string{"c1", "c2"},
		Locked:   true,
		Properties: map[string]any{
			PropName: "Order",
			PropType: "aggregate",
			"color":  "red",
		},
	}
	m, err := RecordFromPO(po)
	if err != nil {
		t.Fatalf("fromPO: %v", err)
	}

	doc := crdt.NewDocWithClient(1)
	rec := attach(t, doc, po.ID, m)
	got := rec.ToPO()

	if got.ID != po.ID || got.Parent != po.Parent || got.Locked != po.Locked {
		t.Fatalf("got %+v", got)
	}
	if !reflect.DeepEqual(got.Children, po.Children) {
		t.Fatalf("children = %v; want %v", got.Children, po.Children)
	}
	want := map[string]any{
		PropName:       "Order",
		PropType:       "aggregate",
		"color":        "red",
		MarkerProperty: true,
	}
	if !reflect.DeepEqual(got.Properties, want) {
		t.Fatalf("properties = %v; want %v", got.Properties, want)
	}
}

func TestRecordOfRejectsUnmarkedMap(t *testing.T) {
	doc := crdt.NewDocWithClient(1)
	plain := crdt.NewMap()
	if err := plain.Set("whatever", "x"); err != nil {
		t.Fatal(err)
	}
	if err := doc.Map("cells").Set("m", plain); err != nil {
		t.Fatal(err)
	}
	if _, ok := RecordOf(doc.Map("cells").Map("m")); ok {
		t.Fatal("expected unmarked map to be rejected")
	}
	if _, ok := RecordOf(nil); ok {
		t.Fatal("expected nil map to be rejected")
	}
}

func TestRecordMutators(t *testing.T) {
	doc := crdt.NewDocWithClient(1)
	m, err := RecordFromPO(NodePO{ID: "n1", Properties: map[string]any{PropName: "a", PropType: "node"}})
	if err != nil {
		t.Fatal(err)
	}
	rec := attach(t, doc, "n1", m)

	if err := rec.AddChild("c9"); err != nil {
		t.Fatal(err)
	}
	if got := rec.Children(); len(got) != 1 || got[0] != "c9" {
		t.Fatalf("children = %v; want [c9]", got)
	}
	rec.RemoveChild("c9")
	if got := rec.Children(); len(got) != 0 {
		t.Fatalf("children after remove = %v; want empty", got)
	}

	if err := rec.UpdateProperty("color", "blue"); err != nil {
		t.Fatal(err)
	}
	if v, ok := rec.Property("color"); !ok || v != "blue" {
		t.Fatalf("color = %v, %v", v, ok)
	}
	rec.DeleteProperty("color")
	if _, ok := rec.Property("color"); ok {
		t.Fatal("color survived delete")
	}
}

func TestRecordMutationReplicates(t *testing.T) {
	a := crdt.NewDocWithClient(1)
	m, err := RecordFromPO(NodePO{ID: "n1", Properties: map[string]any{PropName: "a", PropType: "node"}})
	if err != nil {
		t.Fatal(err)
	}
	rec := attach(t, a, "n1", m)
	if err := rec.UpdateProperty("status", "draft"); err != nil {
		t.Fatal(err)
	}

	b := crdt.NewDocWithClient(2)
	if err := crdt.ApplyUpdate(b, crdt.EncodeStateAsUpdate(a)); err != nil {
		t.Fatal(err)
	}
	remote, ok := RecordOf(b.Map("cells").Map("n1"))
	if !ok {
		t.Fatal("record missing on replica")
	}
	if v, _ := remote.Property("status"); v != "draft" {
		t.Fatalf("status on replica = %v; want draft", v)
	}
}
