package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"graphdoc/api/internal/docstore"
)

// PostgresStore is the authoritative document backend.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Fetch loads the stored payload for id. An unknown id is not an error; it
// returns an empty Raw, which the document store treats as a first-ever
// load and answers with a template.
func (s *PostgresStore) Fetch(ctx context.Context, id string) (docstore.FetchResult, error) {
	const query = `SELECT raw, title FROM documents WHERE id = $1`
	var raw, title string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&raw, &title)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.FetchResult{Meta: docstore.Meta{ID: id}}, nil
	}
	if err != nil {
		return docstore.FetchResult{}, fmt.Errorf("fetch document %s: %w", id, err)
	}
	return docstore.FetchResult{Raw: raw, Meta: docstore.Meta{ID: id, Title: title}}, nil
}

// Persist upserts the DSL projection and raw envelope for one document. The
// title column is lifted from the first node of the DSL by the database so
// listings do not need to parse JSON.
func (s *PostgresStore) Persist(ctx context.Context, req docstore.SaveRequest) error {
	const upsert = `
		INSERT INTO documents (id, title, dsl, raw, created_at, updated_at)
		VALUES ($1, COALESCE($2::jsonb->'nodes'->0->>'name', ''), $2, $3, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			title = COALESCE(EXCLUDED.dsl->'nodes'->0->>'name', documents.title),
			dsl = EXCLUDED.dsl,
			raw = EXCLUDED.raw,
			updated_at = NOW()
	`
	if _, err := s.db.ExecContext(ctx, upsert, req.ID, []byte(req.DSL), req.Raw); err != nil {
		return fmt.Errorf("persist document %s: %w", req.ID, err)
	}
	return nil
}

// GetDocument returns the full stored row.
func (s *PostgresStore) GetDocument(ctx context.Context, id string) (Document, error) {
	const query = `
		SELECT id, title, dsl, raw, created_at, updated_at
		FROM documents WHERE id = $1
	`
	var doc Document
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&doc.ID, &doc.Title, &doc.DSL, &doc.Raw, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return Document{}, fmt.Errorf("get document %s: %w", id, err)
	}
	return doc, nil
}

// ListDocuments returns every stored document, most recently updated first.
// Used at startup to rebuild the search index.
func (s *PostgresStore) ListDocuments(ctx context.Context) ([]Document, error) {
	const query = `
		SELECT id, title, dsl, raw, created_at, updated_at
		FROM documents ORDER BY updated_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.DSL, &doc.Raw, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a stored document.
func (s *PostgresStore) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}
