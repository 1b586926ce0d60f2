// Package search provides full-text search over saved document projections,
// backed by Meilisearch with a PostgreSQL FTS fallback.
package search

import (
	"encoding/json"
	"strings"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// DocumentRecord is the data we index for a document: its title, the names
// of its nodes, and a flattened text blob of every string property.
type DocumentRecord struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	NodeNames []string `json:"nodeNames"`
	Text      string   `json:"text"`
}

// dslShape is the subset of the DSL projection that search cares about.
type dslShape struct {
	Nodes []struct {
		Name       string         `json:"name"`
		Properties map[string]any `json:"properties"`
	} `json:"nodes"`
	Edges []struct {
		Name       string         `json:"name"`
		Properties map[string]any `json:"properties"`
	} `json:"edges"`
}

// RecordFromDSL flattens a DSL projection into an indexable record. The
// first node's name doubles as the document title.
func RecordFromDSL(id string, dsl json.RawMessage) DocumentRecord {
	record := DocumentRecord{ID: id, NodeNames: []string{}}

	var shape dslShape
	if err := json.Unmarshal(dsl, &shape); err != nil {
		return record
	}

	var text []string
	for _, node := range shape.Nodes {
		if node.Name != "" {
			record.NodeNames = append(record.NodeNames, node.Name)
		}
		for _, v := range node.Properties {
			if s, ok := v.(string); ok && s != "" {
				text = append(text, s)
			}
		}
	}
	for _, edge := range shape.Edges {
		if edge.Name != "" {
			text = append(text, edge.Name)
		}
		for _, v := range edge.Properties {
			if s, ok := v.(string); ok && s != "" {
				text = append(text, s)
			}
		}
	}

	if len(record.NodeNames) > 0 {
		record.Title = record.NodeNames[0]
	}
	record.Text = strings.Join(text, " ")
	return record
}
