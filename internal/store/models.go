package store

import (
	"encoding/json"
	"time"
)

// Document is the persisted row for one collaborative document: the DSL
// projection for querying and indexing, and the raw envelope holding the
// authoritative binary state.
type Document struct {
	ID        string
	Title     string
	DSL       json.RawMessage
	Raw       string
	CreatedAt time.Time
	UpdatedAt time.Time
}
