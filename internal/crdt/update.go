package crdt

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
)

// Operation kinds.
const (
	opMapSet byte = iota + 1
	opMapDelete
	opSeqInsert
	opSeqDelete
)

/// Op is one replicated mutation. Every op is self-contained: it addresses its
// target by full path from a document share, so ops apply in any order.
type Op struct {
	ID     ID
	Kind   byte
	Path   []string
	Key    string
	Val    *wireValue
	Origin *ID
	Target *ID
	Node   *wireNode
}

// opBody is the JSON-encoded portion of an op; the ID and kind travel in the
// binary framing.
type opBody struct {
	Path   []string   `json:"p"`
	Key    string     `json:"k,omitempty"`
	Val    *wireValue `json:"v,omitempty"`
	Origin *ID        `json:"o,omitempty"`
	Target *ID        `json:"t,omitempty"`
	Node   *wireNode  `json:"n,omitempty"`
}

// Binary update framing: magic, format version, varint op count, then each
// op as varint client, varint clock, kind byte, varint body length, body.
var updateMagic = []byte{'G', 'D'}

const updateVersion = 0x01

// applyLocal integrates a locally minted op. The op's origin (for sequence
// inserts) always exists locally, so it never buffers.
func (d *Doc) applyLocal(op Op) {
	d.integrate(op)
}

// integrate applies one op exactly once, in any arrival order.
func (d *Doc) integrate(op Op) {
	if _, done := d.integrated[op.ID]; done {
		return
	}
	d.integrated[op.ID] = struct{}{}
	if op.ID.Clock > d.seen[op.ID.Client] {
		d.seen[op.ID.Client] = op.ID.Clock
	}
	d.log = append(d.log, op)

	path := pathKey(op.Path)
	switch op.Kind {
	case opMapSet:
		if op.Val != nil {
			d.setRegister(path, op.Key, *op.Val, op.ID, 0)
		}
	case opMapDelete:
		d.deleteRegister(path, op.Key, op.ID)
	case opSeqInsert:
		if op.Node != nil {
			d.placeSeq(d.sequenceAt(path), op)
		}
	case opSeqDelete:
		d.sequenceAt(path).remove(op)
	}
}

// placeSeq integrates a sequence insert and drains any ops that were waiting
// on it (both child inserts and early deletes).
func (d *Doc) placeSeq(seq *sequence, op Op) {
	for _, flushed := range seq.integrate(op) {
		switch flushed.Kind {
		case opSeqInsert:
			d.placeSeq(seq, flushed)
		case opSeqDelete:
			seq.remove(flushed)
		}
	}
}

// StateVector returns a copy of the clocks this document has integrated.
func (d *Doc) StateVector() StateVector {
	sv := make(StateVector, len(d.seen))
	for client, clock := range d.seen {
		sv[client] = clock
	}
	return sv
}

// EncodeStateVector returns the document's state vector in wire form.
func EncodeStateVector(d *Doc) []byte {
	return d.StateVector().Encode()
}

// EncodeStateAsUpdate serializes the full document as one update. Ops are
// sorted by (client, clock), so documents holding the same op set encode
// byte-identically regardless of integration order.
func EncodeStateAsUpdate(d *Doc) []byte {
	return encodeOps(sortedOps(d.log))
}

// DiffUpdate returns the minimal update carrying every op the given remote
// state vector has not yet integrated.
func DiffUpdate(d *Doc, remote StateVector) []byte {
	var missing []Op
	for _, op := range d.log {
		if !remote.Covers(op.ID) {
			missing = append(missing, op)
		}
	}
	return encodeOps(sortedOps(missing))
}

// ApplyUpdate merges an encoded update into the document. The merge is
// commutative and idempotent: re-applying an update, or applying two updates
// in either order, converges to the same state.
func ApplyUpdate(d *Doc, update []byte) error {
	ops, err := decodeOps(update)
	if err != nil {
		return err
	}
	for _, op := range ops {
		d.integrate(op)
	}
	return nil
}

// MergeUpdates folds several encoded updates into one canonical update.
func MergeUpdates(updates ...[]byte) ([]byte, error) {
	merged := NewDoc()
	for _, update := range updates {
		if err := ApplyUpdate(merged, update); err != nil {
			return nil, err
		}
	}
	return EncodeStateAsUpdate(merged), nil
}

func sortedOps(ops []Op) []Op {
	out := append([]Op{}, ops...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID.Client != out[j].ID.Client {
			return out[i].ID.Client < out[j].ID.Client
		}
		return out[i].ID.Clock < out[j].ID.Clock
	})
	return out
}

func encodeOps(ops []Op) []byte {
	buf := append([]byte{}, updateMagic...)
	buf = append(buf, updateVersion)
	buf = binary.AppendUvarint(buf, uint64(len(ops)))
	for _, op := range ops {
		buf = binary.AppendUvarint(buf, op.ID.Client)
		buf = binary.AppendUvarint(buf, op.ID.Clock)
		buf = append(buf, op.Kind)
		body, err := json.Marshal(opBody{
			Path:   op.Path,
			Key:    op.Key,
			Val:    op.Val,
			Origin: op.Origin,
			Target: op.Target,
			Node:   op.Node,
		})
		if err != nil {
			// opBody is built from JSON-safe fields only.
			panic(fmt.Sprintf("crdt: encode op body: %v", err))
		}
		buf = binary.AppendUvarint(buf, uint64(len(body)))
		buf = append(buf, body...)
	}
	return buf
}

func decodeOps(data []byte) ([]Op, error) {
	if len(data) < 3 || !bytes.Equal(data[:2], updateMagic) {
		return nil, fmt.Errorf("update: bad magic")
	}
	if data[2] != updateVersion {
		return nil, fmt.Errorf("update: unsupported format version %d", data[2])
	}
	data = data[3:]

	count, read := binary.Uvarint(data)
	if read <= 0 {
		return nil, fmt.Errorf("update: truncated op count")
	}
	data = data[read:]

	ops := make([]Op, 0, count)
	for i := uint64(0); i < count; i++ {
		client, r1 := binary.Uvarint(data)
		if r1 <= 0 {
			return nil, fmt.Errorf("update: truncated client at op %d", i)
		}
		data = data[r1:]
		clock, r2 := binary.Uvarint(data)
		if r2 <= 0 {
			return nil, fmt.Errorf("update: truncated clock at op %d", i)
		}
		data = data[r2:]
		if len(data) < 1 {
			return nil, fmt.Errorf("update: truncated kind at op %d", i)
		}
		kind := data[0]
		data = data[1:]
		bodyLen, r3 := binary.Uvarint(data)
		if r3 <= 0 {
			return nil, fmt.Errorf("update: truncated body length at op %d", i)
		}
		data = data[r3:]
		if uint64(len(data)) < bodyLen {
			return nil, fmt.Errorf("update: truncated body at op %d", i)
		}
		var body opBody
		if err := json.Unmarshal(data[:bodyLen], &body); err != nil {
			return nil, fmt.Errorf("update: decode op %d body: %w", i, err)
		}
		data = data[bodyLen:]

		ops = append(ops, Op{
			ID:     ID{Client: client, Clock: clock},
			Kind:   kind,
			Path:   body.Path,
			Key:    body.Key,
			Val:    body.Val,
			Origin: body.Origin,
			Target: body.Target,
			Node:   body.Node,
		})
	}
	return ops, nil
}
