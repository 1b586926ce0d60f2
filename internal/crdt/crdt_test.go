package crdt

import (
	"bytes"
	"testing"
)

func TestMapSetGetRoundTrip(t *testing.T) {
	doc := NewDocWithClient(1)
	cells := doc.Map("cells")

	if err := cells.Set("name", "Order"); err != nil {
		t.Fatalf("set name: %v", err)
	}
	if err := cells.Set("weight", 3); err != nil {
		t.Fatalf("set weight: %v", err)
	}
	if err := cells.Set("locked", true); err != nil {
		t.Fatalf("set locked: %v", err)
	}

	if v, ok := cells.Get("name"); !ok || v != "Order" {
		t.Fatalf("name = %v, %v; want Order, true", v, ok)
	}
	if v, ok := cells.Get("weight"); !ok || v != float64(3) {
		t.Fatalf("weight = %v, %v; want 3, true", v, ok)
	}
	if v, ok := cells.Get("locked"); !ok || v != true {
		t.Fatalf("locked = %v, %v; want true, true", v, ok)
	}
	if _, ok := cells.Get("missing"); ok {
		t.Fatal("expected missing key to be absent")
	}
}

func TestDetachedMapAttachesAsSubtree(t *testing.T) {
	doc := NewDocWithClient(1)

	record := NewMap()
	props := NewMap()
	if err := props.Set("kind", "aggregate"); err != nil {
		t.Fatalf("set kind: %v", err)
	}
	if err := record.Set("id", "n1"); err != nil {
		t.Fatalf("set id: %v", err)
	}
	if err := record.Set("properties", props); err != nil {
		t.Fatalf("set properties: %v", err)
	}

	cells := doc.Map("cells")
	if err := cells.Set("n1", record); err != nil {
		t.Fatalf("attach record: %v", err)
	}

	attached := cells.Map("n1")
	if attached == nil {
		t.Fatal("expected attached record map")
	}
	if v, _ := attached.Get("id"); v != "n1" {
		t.Fatalf("id = %v; want n1", v)
	}
	nested := attached.Map("properties")
	if nested == nil {
		t.Fatal("expected nested properties map")
	}
	if v, _ := nested.Get("kind"); v != "aggregate" {
		t.Fatalf("kind = %v; want aggregate", v)
	}

	// Mutations on the attached view replicate; key-level writes win over
	// the subtree attach.
	if err := nested.Set("kind", "entity"); err != nil {
		t.Fatalf("mutate nested: %v", err)
	}
	if v, _ := nested.Get("kind"); v != "entity" {
		t.Fatalf("kind after set = %v; want entity", v)
	}
}

func TestMapDeleteTombstones(t *testing.T) {
	doc := NewDocWithClient(1)
	cells := doc.Map("cells")
	if err := cells.Set("a", "x"); err != nil {
		t.Fatal(err)
	}
	cells.Delete("a")
	if _, ok := cells.Get("a"); ok {
		t.Fatal("expected deleted key to be absent")
	}
	if cells.Len() != 0 {
		t.Fatalf("len = %d; want 0", cells.Len())
	}
}

func sync(t *testing.T, from, to *Doc) {
	t.Helper()
	if err := ApplyUpdate(to, DiffUpdate(from, to.StateVector())); err != nil {
		t.Fatalf("sync: %v", err)
	}
}

func TestConcurrentMapWritesConverge(t *testing.T) {
	a := NewDocWithClient(1)
	b := NewDocWithClient(2)

	if err := a.Map("cells").Set("title", "from-a"); err != nil {
		t.Fatal(err)
	}
	if err := b.Map("cells").Set("title", "from-b"); err != nil {
		t.Fatal(err)
	}
	if err := b.Map("cells").Set("other", "b-only"); err != nil {
		t.Fatal(err)
	}

	sync(t, a, b)
	sync(t, b, a)

	av, _ := a.Map("cells").Get("title")
	bv, _ := b.Map("cells").Get("title")
	if av != bv {
		t.Fatalf("replicas diverged: %v vs %v", av, bv)
	}
	if v, ok := a.Map("cells").Get("other"); !ok || v != "b-only" {
		t.Fatalf("other = %v, %v; want b-only", v, ok)
	}
	if !bytes.Equal(EncodeStateAsUpdate(a), EncodeStateAsUpdate(b)) {
		t.Fatal("encoded states differ after convergence")
	}
}

func TestMergeCommutativity(t *testing.T) {
	base := NewDocWithClient(1)
	if err := base.Map("cells").Set("seed", "v0"); err != nil {
		t.Fatal(err)
	}
	snapshot := EncodeStateAsUpdate(base)

	// Two independent editors start from the same snapshot.
	a := NewDocWithClient(2)
	if err := ApplyUpdate(a, snapshot); err != nil {
		t.Fatal(err)
	}
	b := NewDocWithClient(3)
	if err := ApplyUpdate(b, snapshot); err != nil {
		t.Fatal(err)
	}
	if err := a.Map("cells").Set("alpha", "1"); err != nil {
		t.Fatal(err)
	}
	if err := b.Map("cells").Set("beta", "2"); err != nil {
		t.Fatal(err)
	}

	diffA := DiffUpdate(a, DecodeOrDie(t, snapshot))
	diffB := DiffUpdate(b, DecodeOrDie(t, snapshot))

	ab := NewDocWithClient(10)
	for _, u := range [][]byte{snapshot, diffA, diffB} {
		if err := ApplyUpdate(ab, u); err != nil {
			t.Fatal(err)
		}
	}
	ba := NewDocWithClient(11)
	for _, u := range [][]byte{snapshot, diffB, diffA} {
		if err := ApplyUpdate(ba, u); err != nil {
			t.Fatal(err)
		}
	}
	if !bytes.Equal(EncodeStateAsUpdate(ab), EncodeStateAsUpdate(ba)) {
		t.Fatal("A+B and B+A encode differently")
	}
}

// DecodeOrDie derives the state vector a snapshot represents.
func DecodeOrDie(t *testing.T, snapshot []byte) StateVector {
	t.Helper()
	doc := NewDocWithClient(99)
	if err := ApplyUpdate(doc, snapshot); err != nil {
		t.Fatal(err)
	}
	return doc.StateVector()
}

func TestApplyUpdateIdempotent(t *testing.T) {
	doc := NewDocWithClient(1)
	if err := doc.Map("cells").Set("k", "v"); err != nil {
		t.Fatal(err)
	}
	state := EncodeStateAsUpdate(doc)

	other := NewDocWithClient(2)
	for i := 0; i < 3; i++ {
		if err := ApplyUpdate(other, state); err != nil {
			t.Fatal(err)
		}
	}
	if !bytes.Equal(EncodeStateAsUpdate(other), state) {
		t.Fatal("repeated apply changed encoded state")
	}
}

func TestStateVectorRoundTrip(t *testing.T) {
	sv := StateVector{1: 5, 9: 130, 77: 1}
	decoded, err := DecodeStateVector(sv.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != len(sv) {
		t.Fatalf("len = %d; want %d", len(decoded), len(sv))
	}
	for client, clock := range sv {
		if decoded[client] != clock {
			t.Fatalf("client %d = %d; want %d", client, decoded[client], clock)
		}
	}
}

func TestDiffOnlyCarriesMissingOps(t *testing.T) {
	a := NewDocWithClient(1)
	if err := a.Map("cells").Set("k1", "v1"); err != nil {
		t.Fatal(err)
	}

	b := NewDocWithClient(2)
	sync(t, a, b)

	if err := a.Map("cells").Set("k2", "v2"); err != nil {
		t.Fatal(err)
	}
	diff := DiffUpdate(a, b.StateVector())
	full := EncodeStateAsUpdate(a)
	if len(diff) >= len(full) {
		t.Fatalf("diff (%d bytes) not smaller than full state (%d bytes)", len(diff), len(full))
	}
	if err := ApplyUpdate(b, diff); err != nil {
		t.Fatal(err)
	}
	if v, _ := b.Map("cells").Get("k2"); v != "v2" {
		t.Fatalf("k2 = %v; want v2", v)
	}
}

func TestFragmentPushAndRead(t *testing.T) {
	doc := NewDocWithClient(1)
	frag := doc.Fragment("content")

	if err := frag.Push(XmlText{Deltas: []Delta{{Insert: "hello "}, {Insert: "world", Attributes: map[string]any{"bold": true}}}}); err != nil {
		t.Fatal(err)
	}
	if err := frag.Push(XmlElement{Tag: "paragraph", Attrs: map[string]any{"align": "left"}, Content: []XmlNode{XmlText{Deltas: []Delta{{Insert: "nested"}}}}}); err != nil {
		t.Fatal(err)
	}

	nodes := frag.Nodes()
	if len(nodes) != 2 {
		t.Fatalf("len(nodes) = %d; want 2", len(nodes))
	}
	text, ok := nodes[0].(XmlText)
	if !ok {
		t.Fatalf("nodes[0] is %T; want XmlText", nodes[0])
	}
	if text.Deltas[1].Insert != "world" || text.Deltas[1].Attributes["bold"] != true {
		t.Fatalf("unexpected second delta: %+v", text.Deltas[1])
	}
	elem, ok := nodes[1].(XmlElement)
	if !ok {
		t.Fatalf("nodes[1] is %T; want XmlElement", nodes[1])
	}
	if elem.Tag != "paragraph" || len(elem.Content) != 1 {
		t.Fatalf("unexpected element: %+v", elem)
	}
}

func TestFragmentConcurrentAppendsConverge(t *testing.T) {
	base := NewDocWithClient(1)
	if err := base.Fragment("content").Push(XmlText{Deltas: []Delta{{Insert: "seed"}}}); err != nil {
		t.Fatal(err)
	}
	snapshot := EncodeStateAsUpdate(base)

	a := NewDocWithClient(2)
	b := NewDocWithClient(3)
	for _, d := range []*Doc{a, b} {
		if err := ApplyUpdate(d, snapshot); err != nil {
			t.Fatal(err)
		}
	}
	if err := a.Fragment("content").Push(XmlText{Deltas: []Delta{{Insert: "from-a"}}}); err != nil {
		t.Fatal(err)
	}
	if err := b.Fragment("content").Push(XmlText{Deltas: []Delta{{Insert: "from-b"}}}); err != nil {
		t.Fatal(err)
	}

	sync(t, a, b)
	sync(t, b, a)

	if !bytes.Equal(EncodeStateAsUpdate(a), EncodeStateAsUpdate(b)) {
		t.Fatal("fragment replicas diverged")
	}
	if got := a.Fragment("content").Len(); got != 3 {
		t.Fatalf("fragment length = %d; want 3", got)
	}
}

func TestSequenceInsertBuffersUntilOriginArrives(t *testing.T) {
	src := NewDocWithClient(1)
	frag := src.Fragment("content")
	if err := frag.Push(XmlText{Deltas: []Delta{{Insert: "first"}}}); err != nil {
		t.Fatal(err)
	}
	before := src.StateVector()
	if err := frag.Push(XmlText{Deltas: []Delta{{Insert: "second"}}}); err != nil {
		t.Fatal(err)
	}

	// Deliver only the second insert; its origin is unknown so it must
	// buffer, then place when the first arrives.
	tail := DiffUpdate(src, before)
	dst := NewDocWithClient(2)
	if err := ApplyUpdate(dst, tail); err != nil {
		t.Fatal(err)
	}
	if got := dst.Fragment("content").Len(); got != 0 {
		t.Fatalf("length before origin = %d; want 0", got)
	}
	if err := ApplyUpdate(dst, EncodeStateAsUpdate(src)); err != nil {
		t.Fatal(err)
	}
	nodes := dst.Fragment("content").Nodes()
	if len(nodes) != 2 {
		t.Fatalf("length after origin = %d; want 2", len(nodes))
	}
	if nodes[0].(XmlText).Deltas[0].Insert != "first" {
		t.Fatalf("order wrong: %+v", nodes)
	}
}

func TestFragmentDeleteAt(t *testing.T) {
	doc := NewDocWithClient(1)
	frag := doc.Fragment("content")
	for _, s := range []string{"a", "b", "c"} {
		if err := frag.Push(XmlText{Deltas: []Delta{{Insert: s}}}); err != nil {
			t.Fatal(err)
		}
	}
	frag.DeleteAt(1)
	nodes := frag.Nodes()
	if len(nodes) != 2 {
		t.Fatalf("len = %d; want 2", len(nodes))
	}
	if nodes[0].(XmlText).Deltas[0].Insert != "a" || nodes[1].(XmlText).Deltas[0].Insert != "c" {
		t.Fatalf("unexpected survivors: %+v", nodes)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if err := ApplyUpdate(NewDocWithClient(1), []byte("not an update")); err == nil {
		t.Fatal("expected error for garbage update")
	}
	if _, err := DecodeStateVector([]byte{}); err == nil {
		t.Fatal("expected error for empty vector")
	}
}
