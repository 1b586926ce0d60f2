package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search over the
// documents table as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery over the title and the DSL projection text.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	const query = `
		SELECT d.id, d.title,
			ts_headline('english', coalesce(d.title, ''), plainto_tsquery('english', $1),
				'MaxFragments=1,MaxWords=30') AS snippet,
			COUNT(*) OVER () AS total
		FROM documents d
		WHERE to_tsvector('english', coalesce(d.title, '') || ' ' || coalesce(d.dsl::text, ''))
			@@ plainto_tsquery('english', $1)
		ORDER BY ts_rank(
			to_tsvector('english', coalesce(d.title, '') || ' ' || coalesce(d.dsl::text, '')),
			plainto_tsquery('english', $1)) DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := p.db.QueryContext(context.Background(), query, q.Text, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts search: %w", err)
	}
	defer rows.Close()

	var results []Result
	total := 0
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &total); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords reads every document for a bulk reindex into Meilisearch.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, dsl FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("pgfts load: %w", err)
	}
	defer rows.Close()

	var records []DocumentRecord
	for rows.Next() {
		var id string
		var dsl json.RawMessage
		if err := rows.Scan(&id, &dsl); err != nil {
			return nil, fmt.Errorf("pgfts load scan: %w", err)
		}
		records = append(records, RecordFromDSL(id, dsl))
	}
	return records, rows.Err()
}
