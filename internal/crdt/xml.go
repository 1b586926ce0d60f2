package crdt

import (
	"fmt"
	"sort"
)

// Delta is one formatted run of text: an insert string plus optional
// formatting attributes.
type Delta struct {
	Insert     string
	Attributes map[string]any
}

// XmlNode is a node of a rich-text fragment: either XmlText or XmlElement.
type XmlNode interface{ isXmlNode() }

// XmlText is an ordered sequence of delta runs. Runs are concatenation
// points only; they are not independently addressable after construction.
type XmlText struct {
	Deltas []Delta
}

// XmlElement is a tagged element with string-keyed attributes and optional
// nested content.
type XmlElement struct {
	Tag     string
	Attrs   map[string]any
	Content []XmlNode
}

func (XmlText) isXmlNode()    {}
func (XmlElement) isXmlNode() {}

// wireNode is the operation payload form of a fragment node. Nested element
// content travels literally inside its parent item and is not independently
// addressable.
type wireNode struct {
	Type    string         `json:"y"`
	Deltas  []wireDelta    `json:"d,omitempty"`
	Tag     string         `json:"g,omitempty"`
	Attrs   map[string]any `json:"a,omitempty"`
	Content []wireNode     `json:"c,omitempty"`
}

type wireDelta struct {
	Insert     string         `json:"i"`
	Attributes map[string]any `json:"a,omitempty"`
}

const (
	wireText    = "text"
	wireElement = "elem"
)

func toWireNode(n XmlNode) (wireNode, error) {
	switch node := n.(type) {
	case XmlText:
		deltas := make([]wireDelta, len(node.Deltas))
		for i, d := range node.Deltas {
			deltas[i] = wireDelta{Insert: d.Insert, Attributes: d.Attributes}
		}
		return wireNode{Type: wireText, Deltas: deltas}, nil
	case XmlElement:
		wire := wireNode{Type: wireElement, Tag: node.Tag, Attrs: node.Attrs}
		for _, child := range node.Content {
			cw, err := toWireNode(child)
			if err != nil {
				return wireNode{}, err
			}
			wire.Content = append(wire.Content, cw)
		}
		return wire, nil
	default:
		return wireNode{}, fmt.Errorf("fragment push: unexpected node type %T", n)
	}
}

func fromWireNode(w wireNode) XmlNode {
	if w.Type == wireText {
		deltas := make([]Delta, len(w.Deltas))
		for i, d := range w.Deltas {
			deltas[i] = Delta{Insert: d.Insert, Attributes: d.Attributes}
		}
		return XmlText{Deltas: deltas}
	}
	elem := XmlElement{Tag: w.Tag, Attrs: w.Attrs}
	for _, child := range w.Content {
		elem.Content = append(elem.Content, fromWireNode(child))
	}
	return elem
}

// seqItem is one integrated fragment item. Deleted items remain as
// tombstones so later-arriving inserts can still locate their origin.
type seqItem struct {
	id      ID
	origin  ID // zero ID means head of the sequence
	node    wireNode
	deleted bool
}

// sequence holds the ordered items of one fragment. Ordering is
// origin-addressed: an item sits after its origin, and concurrent siblings
// under the same origin order descending by ID so every replica agrees.
// Inserts whose origin has not arrived yet buffer until it does.
type sequence struct {
	items    map[ID]*seqItem
	children map[ID][]ID
	waiting  map[ID][]Op
}

func newSequence() *sequence {
	return &sequence{
		items:    make(map[ID]*seqItem),
		children: make(map[ID][]ID),
		waiting:  make(map[ID][]Op),
	}
}

// integrate places one insert op, buffering when the origin is unknown.
// Returns buffered ops that became placeable and must be re-applied.
func (s *sequence) integrate(op Op) []Op {
	if _, exists := s.items[op.ID]; exists {
		return nil
	}
	origin := ID{}
	if op.Origin != nil {
		origin = *op.Origin
	}
	if origin != (ID{}) {
		if _, ok := s.items[origin]; !ok {
			s.waiting[origin] = append(s.waiting[origin], op)
			return nil
		}
	}
	s.items[op.ID] = &seqItem{id: op.ID, origin: origin, node: *op.Node}
	siblings := s.children[origin]
	at := sort.Search(len(siblings), func(i int) bool {
		return op.ID.Newer(s.items[siblings[i]].id)
	})
	siblings = append(siblings, ID{})
	copy(siblings[at+1:], siblings[at:])
	siblings[at] = op.ID
	s.children[origin] = siblings

	flushed := s.waiting[op.ID]
	delete(s.waiting, op.ID)
	return flushed
}

// remove tombstones an item; unknown targets buffer until the insert lands.
func (s *sequence) remove(op Op) bool {
	if op.Target == nil {
		return true
	}
	item, ok := s.items[*op.Target]
	if !ok {
		s.waiting[*op.Target] = append(s.waiting[*op.Target], op)
		return false
	}
	item.deleted = true
	return true
}

// linearize walks the origin tree depth-first: each item precedes the items
// inserted after it, siblings in descending ID order.
func (s *sequence) linearize() []*seqItem {
	var out []*seqItem
	var walk func(origin ID)
	walk = func(origin ID) {
		for _, id := range s.children[origin] {
			item := s.items[id]
			out = append(out, item)
			walk(id)
		}
	}
	walk(ID{})
	return out
}

// XmlFragment is an attached view over a named fragment share.
type XmlFragment struct {
	doc  *Doc
	path []string
}

// Push appends one node at the end of the fragment.
func (f *XmlFragment) Push(n XmlNode) error {
	wire, err := toWireNode(n)
	if err != nil {
		return err
	}
	seq := f.doc.sequenceAt(pathKey(f.path))
	var origin *ID
	if items := seq.linearize(); len(items) > 0 {
		last := items[len(items)-1].id
		origin = &last
	}
	op := Op{
		ID:     f.doc.nextID(),
		Kind:   opSeqInsert,
		Path:   f.path,
		Origin: origin,
		Node:   &wire,
	}
	f.doc.applyLocal(op)
	return nil
}

// PushAll appends nodes in order as one batch.
func (f *XmlFragment) PushAll(nodes []XmlNode) error {
	for _, n := range nodes {
		if err := f.Push(n); err != nil {
			return err
		}
	}
	return nil
}

// Nodes returns the live fragment content in document order.
func (f *XmlFragment) Nodes() []XmlNode {
	seq := f.doc.sequenceAt(pathKey(f.path))
	var out []XmlNode
	for _, item := range seq.linearize() {
		if item.deleted {
			continue
		}
		out = append(out, fromWireNode(item.node))
	}
	return out
}

// Len counts live items.
func (f *XmlFragment) Len() int {
	return len(f.Nodes())
}

// DeleteAt tombstones the index-th live item. Out-of-range indexes are
// ignored.
func (f *XmlFragment) DeleteAt(index int) {
	seq := f.doc.sequenceAt(pathKey(f.path))
	live := 0
	for _, item := range seq.linearize() {
		if item.deleted {
			continue
		}
		if live == index {
			target := item.id
			op := Op{
				ID:     f.doc.nextID(),
				Kind:   opSeqDelete,
				Path:   f.path,
				Target: &target,
			}
			f.doc.applyLocal(op)
			return
		}
		live++
	}
}
