package crdt

import (
	"crypto/rand"
	"encoding/binary"
	"strings"
)

// pathSep joins path components in the in-memory register index. It is a
// reserved byte: keys containing it are rejected by Map.Set.
const pathSep = "\x1f"

// register is one last-writer-wins cell. Deletes tombstone the cell but keep
// the winning ID so later concurrent writes resolve deterministically. ord
// preserves entry order inside a map literal whose cells all share one op ID.
type register struct {
	val     wireValue
	id      ID
	ord     int
	deleted bool
}

// Doc is a convergent replicated document: a flat index of LWW registers
// (maps and their values) plus ordered sequences (rich-text fragments), fed by
// an idempotent operation log. Two docs that integrate the same set of
// operations materialize identical state regardless of arrival order.
type Doc struct {
	client uint64
	clock  uint64

	regs map[string]*register
	kids map[string]map[string]struct{}
	seqs map[string]*sequence

	log        []Op
	integrated map[ID]struct{}
	seen       StateVector
}

// NewDoc creates an empty document with a random client identity.
func NewDoc() *Doc {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return NewDocWithClient(binary.LittleEndian.Uint64(buf[:]) | 1)
}

// NewDocWithClient creates an empty document with a fixed client identity.
// Intended for tests and replay; colliding identities break convergence.
func NewDocWithClient(client uint64) *Doc {
	return &Doc{
		client:     client,
		regs:       make(map[string]*register),
		kids:       make(map[string]map[string]struct{}),
		seqs:       make(map[string]*sequence),
		integrated: make(map[ID]struct{}),
		seen:       make(StateVector),
	}
}

// ClientID returns this replica's client identity.
func (d *Doc) ClientID() uint64 { return d.client }

// Map returns the named top-level map share, which always exists.
func (d *Doc) Map(name string) *Map {
	return &Map{doc: d, path: []string{name}}
}

// Fragment returns the named top-level rich-text fragment share.
func (d *Doc) Fragment(name string) *XmlFragment {
	return &XmlFragment{doc: d, path: []string{name}}
}

func (d *Doc) nextID() ID {
	d.clock++
	return ID{Client: d.client, Clock: d.clock}
}

func pathKey(path []string) string { return strings.Join(path, pathSep) }

func childKey(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + pathSep + key
}

// setRegister applies one LWW write at parent/key. Literal map values are
// exploded so every nested cell becomes an independently addressable register
// carrying the same operation ID.
func (d *Doc) setRegister(parent, key string, val wireValue, id ID, ord int) {
	full := childKey(parent, key)
	cur, ok := d.regs[full]
	if ok && !id.Newer(cur.id) {
		return
	}
	d.regs[full] = &register{val: val, id: id, ord: ord}
	if d.kids[parent] == nil {
		d.kids[parent] = make(map[string]struct{})
	}
	d.kids[parent][key] = struct{}{}
	if val.Kind == kindMap {
		for i, entry := range val.Entries {
			d.setRegister(full, entry.Key, entry.Val, id, i)
		}
	}
}

// deleteRegister tombstones parent/key if the delete is newer than the
// current winner.
func (d *Doc) deleteRegister(parent, key string, id ID) {
	full := childKey(parent, key)
	cur, ok := d.regs[full]
	if ok && !id.Newer(cur.id) {
		return
	}
	d.regs[full] = &register{id: id, deleted: true}
}

// liveRegister returns the register at path if it exists and is not
// tombstoned.
func (d *Doc) liveRegister(path string) (*register, bool) {
	reg, ok := d.regs[path]
	if !ok || reg.deleted {
		return nil, false
	}
	return reg, true
}

// sequenceAt returns the sequence state for a fragment path, creating it on
// first touch.
func (d *Doc) sequenceAt(path string) *sequence {
	seq, ok := d.seqs[path]
	if !ok {
		seq = newSequence()
		d.seqs[path] = seq
	}
	return seq
}
