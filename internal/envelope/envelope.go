// Package envelope is the versioned text wire format for a persisted CRDT
// binary update. Writes always produce the JSON envelope; reads also accept
// the legacy bare-base64 form, a permanent compatibility shim.
package envelope

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Version written on every envelope. Reads do not validate it: any
// JSON-object-shaped payload is assumed to carry a data field.
const Version = "1.0"

type payload struct {
	Version   string `json:"version"`
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// ToRaw serializes bytes as the current JSON envelope.
func ToRaw(data []byte) string {
	out, err := json.Marshal(payload{
		Version:   Version,
		Data:      base64.StdEncoding.EncodeToString(data),
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		// payload has no unmarshalable fields.
		panic(fmt.Sprintf("envelope: marshal: %v", err))
	}
	return string(out)
}

// FromRaw decodes either envelope form back to bytes. A string that
// structurally looks like a JSON object is parsed as the envelope; anything
// else is treated as legacy bare base64. Errors indicate corrupted persisted
// state and are not retryable.
func FromRaw(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		var p payload
		if err := json.Unmarshal([]byte(trimmed), &p); err != nil {
			return nil, fmt.Errorf("envelope: parse: %w", err)
		}
		data, err := base64.StdEncoding.DecodeString(p.Data)
		if err != nil {
			return nil, fmt.Errorf("envelope: decode data: %w", err)
		}
		return data, nil
	}
	data, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("envelope: decode legacy payload: %w", err)
	}
	return data, nil
}
