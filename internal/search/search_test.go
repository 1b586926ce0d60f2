package search

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestRecordFromDSL(t *testing.T) {
	dsl := json.RawMessage(`{
		"nodes": [
			{"id": "n1", "name": "Orders", "properties": {"owner": "billing"}},
			{"id": "n2", "name": "Customers", "properties": {"region": "eu"}}
		],
		"edges": [
			{"id": "e1", "name": "references", "properties": {"kind": "fk"}}
		]
	}`)

	record := RecordFromDSL("doc1", dsl)
	if record.ID != "doc1" {
		t.Fatalf("id = %q", record.ID)
	}
	if record.Title != "Orders" {
		t.Fatalf("title = %q", record.Title)
	}
	if len(record.NodeNames) != 2 || record.NodeNames[1] != "Customers" {
		t.Fatalf("node names = %v", record.NodeNames)
	}
	for _, want := range []string{"billing", "eu", "references", "fk"} {
		if !strings.Contains(record.Text, want) {
			t.Fatalf("text %q missing %q", record.Text, want)
		}
	}
}

func TestRecordFromDSLMalformed(t *testing.T) {
	record := RecordFromDSL("doc1", json.RawMessage(`not json`))
	if record.ID != "doc1" || record.Title != "" || len(record.NodeNames) != 0 {
		t.Fatalf("record = %+v", record)
	}
}

func TestServiceIsNilSafe(t *testing.T) {
	s := NewService(nil, nil)

	// Neither backend configured: indexing is a no-op and search returns
	// an empty response rather than an error.
	s.IndexDocument(context.Background(), "doc1", json.RawMessage(`{}`))
	s.DeleteDocument("doc1")
	s.ReindexAllFromPG(context.Background())

	resp := s.Search(Query{Text: "orders"})
	if resp.Results == nil || len(resp.Results) != 0 || resp.Total != 0 {
		t.Fatalf("response = %+v", resp)
	}
}
