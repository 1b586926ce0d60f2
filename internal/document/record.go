// Package document is the domain layer over the CRDT engine: node/edge
// records, the declarative document builder, the rich-text fragment codec and
// the DSL projection consumed by persistence and search.
package document

import (
	"fmt"

	"graphdoc/api/internal/crdt"
)

// Reserved keys inside a record map and its property bag. The self-describing
// markers are part of the stored format and must survive round-trips.
const (
	fieldID         = "id"
	fieldParent     = "parent"
	fieldChildren   = "children"
	fieldLocked     = "locked"
	fieldProperties = "properties"

	MarkerNode     = "__NODE__"
	MarkerProperty = "__PROPERTY__"

	PropName = "name"
	PropType = "type"
)

// RootID is the reserved identifier of the well-known root record whose
// children enumerate every top-level node and edge.
const RootID = "root"

// NodePO is the plain representation of one graph node or edge.
type NodePO struct {
	ID         string         `json:"id"`
	Parent     string         `json:"parent,omitempty"`
	Children   []string       `json:"children,omitempty"`
	Locked     bool           `json:"locked"`
	Properties map[string]any `json:"properties"`
}

// RecordFromPO builds a detached CRDT map for the record. The map works
// standalone, but mutations only replicate once it is registered into a live
// document.
func RecordFromPO(po NodePO) (*crdt.Map, error) {
	record := crdt.NewMap()
	if err := record.Set(MarkerNode, true); err != nil {
		return nil, err
	}
	if err := record.Set(fieldID, po.ID); err != nil {
		return nil, err
	}
	if po.Parent != "" {
		if err := record.Set(fieldParent, po.Parent); err != nil {
			return nil, err
		}
	}

	children := crdt.NewMap()
	for _, child := range po.Children {
		if err := children.Set(child, true); err != nil {
			return nil, err
		}
	}
	if err := record.Set(fieldChildren, children); err != nil {
		return nil, err
	}
	if err := record.Set(fieldLocked, po.Locked); err != nil {
		return nil, err
	}

	properties := crdt.NewMap()
	if err := properties.Set(MarkerProperty, true); err != nil {
		return nil, err
	}
	for key, val := range po.Properties {
		if key == MarkerProperty {
			continue
		}
		if err := properties.Set(key, val); err != nil {
			return nil, fmt.Errorf("record %s: property %s: %w", po.ID, key, err)
		}
	}
	if err := record.Set(fieldProperties, properties); err != nil {
		return nil, err
	}
	return record, nil
}

// Record is a typed view over a record map. Construct it with RecordOf; the
// zero value is not usable.
type Record struct {
	m *crdt.Map
}

// RecordOf type-checks an untyped map against the node marker. It returns
// ok=false instead of an error: the caller decides whether absence is fatal.
func RecordOf(m *crdt.Map) (Record, bool) {
	if m == nil {
		return Record{}, false
	}
	if v, ok := m.Get(MarkerNode); !ok || v != true {
		return Record{}, false
	}
	return Record{m: m}, true
}

// ID returns the record's stable identifier.
func (r Record) ID() string {
	v, _ := r.m.Get(fieldID)
	s, _ := v.(string)
	return s
}

// Parent returns the containing record's id, or "" for top-level records.
func (r Record) Parent() string {
	v, _ := r.m.Get(fieldParent)
	s, _ := v.(string)
	return s
}

// Locked reports the editing policy flag.
func (r Record) Locked() bool {
	v, _ := r.m.Get(fieldLocked)
	b, _ := v.(bool)
	return b
}

// Children flattens the membership set to an ordered slice. The order comes
// from the underlying map's enumeration and is treated as opaque.
func (r Record) Children() []string {
	children := r.m.Map(fieldChildren)
	if children == nil {
		return nil
	}
	return children.Keys()
}

// AddChild records membership of a child id.
func (r Record) AddChild(id string) error {
	children := r.m.Map(fieldChildren)
	if children == nil {
		return fmt.Errorf("record %s: children set missing", r.ID())
	}
	return children.Set(id, true)
}

// RemoveChild drops a child id from the membership set.
func (r Record) RemoveChild(id string) {
	if children := r.m.Map(fieldChildren); children != nil {
		children.Delete(id)
	}
}

// UpdateProperty writes one property. Multi-property updates are applied as
// independent writes; the codec does not group them.
func (r Record) UpdateProperty(key string, val any) error {
	props := r.m.Map(fieldProperties)
	if props == nil {
		return fmt.Errorf("record %s: property bag missing", r.ID())
	}
	return props.Set(key, val)
}

// DeleteProperty removes one property.
func (r Record) DeleteProperty(key string) {
	if props := r.m.Map(fieldProperties); props != nil {
		props.Delete(key)
	}
}

// Property reads one property value.
func (r Record) Property(key string) (any, bool) {
	props := r.m.Map(fieldProperties)
	if props == nil {
		return nil, false
	}
	return props.Get(key)
}

// ToPO projects the record back to its plain form. The property bag keeps
// the self-describing marker.
func (r Record) ToPO() NodePO {
	po := NodePO{
		ID:         r.ID(),
		Parent:     r.Parent(),
		Locked:     r.Locked(),
		Children:   r.Children(),
		Properties: map[string]any{},
	}
	if props := r.m.Map(fieldProperties); props != nil {
		for _, key := range props.Keys() {
			v, _ := props.Get(key)
			po.Properties[key] = v
		}
	}
	po.Properties[MarkerProperty] = true
	return po
}
