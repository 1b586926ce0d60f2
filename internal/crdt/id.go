package crdt

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// ID identifies a single operation: the client that produced it and that
// client's logical clock at the time. IDs totally order concurrent writes.
type ID struct {
	Client uint64 `json:"c"`
	Clock  uint64 `json:"k"`
}

// Newer reports whether a wins a last-writer tie against b.
func (a ID) Newer(b ID) bool {
	if a.Clock != b.Clock {
		return a.Clock > b.Clock
	}
	return a.Client > b.Client
}

// StateVector records, per client, the highest clock the holder has
// integrated. It is the compact "what do I already have" summary used to
// compute minimal diffs.
type StateVector map[uint64]uint64

// Covers reports whether the vector already accounts for id.
func (sv StateVector) Covers(id ID) bool {
	return sv[id.Client] >= id.Clock
}

// Encode serializes the vector as varint pairs, clients in ascending order
// so equal vectors encode identically.
func (sv StateVector) Encode() []byte {
	clients := make([]uint64, 0, len(sv))
	for c := range sv {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })

	buf := binary.AppendUvarint(nil, uint64(len(clients)))
	for _, c := range clients {
		buf = binary.AppendUvarint(buf, c)
		buf = binary.AppendUvarint(buf, sv[c])
	}
	return buf
}

// DecodeStateVector parses the wire form produced by StateVector.Encode.
func DecodeStateVector(data []byte) (StateVector, error) {
	n, read := binary.Uvarint(data)
	if read <= 0 {
		return nil, fmt.Errorf("state vector: truncated header")
	}
	data = data[read:]
	sv := make(StateVector, n)
	for i := uint64(0); i < n; i++ {
		client, r1 := binary.Uvarint(data)
		if r1 <= 0 {
			return nil, fmt.Errorf("state vector: truncated client at entry %d", i)
		}
		data = data[r1:]
		clock, r2 := binary.Uvarint(data)
		if r2 <= 0 {
			return nil, fmt.Errorf("state vector: truncated clock at entry %d", i)
		}
		data = data[r2:]
		sv[client] = clock
	}
	return sv, nil
}
