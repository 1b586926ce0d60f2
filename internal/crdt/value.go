package crdt

import (
	"encoding/json"
	"fmt"
)

// Value kinds carried by map registers and operation payloads.
const (
	kindNull   = "null"
	kindString = "str"
	kindNumber = "num"
	kindBool   = "bool"
	kindMap    = "map"
)

// wireValue is the tagged union a register value travels as. Maps travel as
// ordered entry lists so a detached subtree can be attached in one operation.
type wireValue struct {
	Kind    string      `json:"t"`
	Str     string      `json:"s,omitempty"`
	Num     float64     `json:"n,omitempty"`
	Bool    bool        `json:"b,omitempty"`
	Entries []wireEntry `json:"e,omitempty"`
}

type wireEntry struct {
	Key string    `json:"k"`
	Val wireValue `json:"v"`
}

// encodeValue lowers a caller-supplied Go value to its wire form. Detached
// maps are flattened into entry lists; attached maps cannot be re-attached.
func encodeValue(v any) (wireValue, error) {
	switch val := v.(type) {
	case nil:
		return wireValue{Kind: kindNull}, nil
	case string:
		return wireValue{Kind: kindString, Str: val}, nil
	case bool:
		return wireValue{Kind: kindBool, Bool: val}, nil
	case float64:
		return wireValue{Kind: kindNumber, Num: val}, nil
	case int:
		return wireValue{Kind: kindNumber, Num: float64(val)}, nil
	case int64:
		return wireValue{Kind: kindNumber, Num: float64(val)}, nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return wireValue{}, fmt.Errorf("encode value: %w", err)
		}
		return wireValue{Kind: kindNumber, Num: f}, nil
	case *Map:
		if val.attached() {
			return wireValue{}, fmt.Errorf("encode value: map is already attached to a document")
		}
		entries := make([]wireEntry, 0, len(val.order))
		for _, k := range val.order {
			child, err := encodeValue(val.local[k])
			if err != nil {
				return wireValue{}, err
			}
			entries = append(entries, wireEntry{Key: k, Val: child})
		}
		return wireValue{Kind: kindMap, Entries: entries}, nil
	default:
		return wireValue{}, fmt.Errorf("encode value: unsupported type %T", v)
	}
}

// scalar converts a non-map wire value back to its Go form.
func (w wireValue) scalar() any {
	switch w.Kind {
	case kindString:
		return w.Str
	case kindNumber:
		return w.Num
	case kindBool:
		return w.Bool
	default:
		return nil
	}
}
