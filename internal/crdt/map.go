package crdt

import (
	"fmt"
	"sort"
	"strings"
)

// Map is a string-keyed convergent map. It exists in two states: detached
// (freshly constructed, not yet part of a document) and attached (reachable
// from a document share). A detached map accumulates plain local entries;
// setting it as a value into an attached map carries the whole subtree in a
// single operation, after which the original detached handle must not be
// mutated further. Mutations are only replicated once attached.
type Map struct {
	// attached state
	doc  *Doc
	path []string

	// detached state
	local map[string]any
	order []string
}

// NewMap constructs a detached map.
func NewMap() *Map {
	return &Map{local: make(map[string]any)}
}

func (m *Map) attached() bool { return m.doc != nil }

// Set writes key to val. Accepted values: nil, string, bool, numeric, and
// detached *Map.
func (m *Map) Set(key string, val any) error {
	if strings.Contains(key, pathSep) {
		return fmt.Errorf("map set: key contains reserved byte 0x1f")
	}
	if !m.attached() {
		if _, seen := m.local[key]; !seen {
			m.order = append(m.order, key)
		}
		m.local[key] = val
		return nil
	}
	wire, err := encodeValue(val)
	if err != nil {
		return err
	}
	op := Op{
		ID:   m.doc.nextID(),
		Kind: opMapSet,
		Path: m.path,
		Key:  key,
		Val:  &wire,
	}
	m.doc.applyLocal(op)
	return nil
}

// Delete removes key. Deleting an absent key is a no-op that still wins
// against older concurrent writes.
func (m *Map) Delete(key string) {
	if !m.attached() {
		if _, seen := m.local[key]; seen {
			delete(m.local, key)
			for i, k := range m.order {
				if k == key {
					m.order = append(m.order[:i], m.order[i+1:]...)
					break
				}
			}
		}
		return
	}
	op := Op{
		ID:   m.doc.nextID(),
		Kind: opMapDelete,
		Path: m.path,
		Key:  key,
	}
	m.doc.applyLocal(op)
}

// Get returns the value at key. Nested maps come back as attached *Map views.
func (m *Map) Get(key string) (any, bool) {
	if !m.attached() {
		v, ok := m.local[key]
		return v, ok
	}
	parent := pathKey(m.path)
	reg, ok := m.doc.liveRegister(childKey(parent, key))
	if !ok {
		return nil, false
	}
	if reg.val.Kind == kindMap {
		return &Map{doc: m.doc, path: append(append([]string{}, m.path...), key)}, true
	}
	return reg.val.scalar(), true
}

// Map returns the nested map at key, or nil if key is absent or holds a
// non-map value.
func (m *Map) Map(key string) *Map {
	v, ok := m.Get(key)
	if !ok {
		return nil
	}
	nested, ok := v.(*Map)
	if !ok {
		return nil
	}
	return nested
}

// Keys enumerates live keys. For attached maps the order is the register
// write order (operation ID), which is stable across replicas holding the
// same operations; callers must treat it as opaque.
func (m *Map) Keys() []string {
	if !m.attached() {
		return append([]string{}, m.order...)
	}
	parent := pathKey(m.path)
	type keyed struct {
		key string
		id  ID
		ord int
	}
	var live []keyed
	for key := range m.doc.kids[parent] {
		reg, ok := m.doc.liveRegister(childKey(parent, key))
		if !ok {
			continue
		}
		live = append(live, keyed{key: key, id: reg.id, ord: reg.ord})
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].id != live[j].id {
			return live[j].id.Newer(live[i].id)
		}
		if live[i].ord != live[j].ord {
			return live[i].ord < live[j].ord
		}
		return live[i].key < live[j].key
	})
	keys := make([]string, len(live))
	for i, k := range live {
		keys[i] = k.key
	}
	return keys
}

// Len counts live keys.
func (m *Map) Len() int {
	if !m.attached() {
		return len(m.local)
	}
	return len(m.Keys())
}

// Has reports whether key holds a live value.
func (m *Map) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}
