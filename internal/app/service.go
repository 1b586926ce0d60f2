package app

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"graphdoc/api/internal/docstore"
	"graphdoc/api/internal/search"
)

// Indexer receives the DSL projection after every successful save. Indexing
// is advisory; a nil Indexer disables it and failures never fail the save.
type Indexer interface {
	IndexDocument(ctx context.Context, id string, dsl json.RawMessage)
}

// Pinger reports backend connectivity for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Searcher answers full-text queries over saved document projections.
type Searcher interface {
	Search(q search.Query) search.Response
}

// Service is the application layer between HTTP and the document store.
type Service struct {
	docs     *docstore.Store
	indexer  Indexer
	searcher Searcher
	pinger   Pinger
}

func NewService(docs *docstore.Store, indexer Indexer, searcher Searcher, pinger Pinger) *Service {
	return &Service{docs: docs, indexer: indexer, searcher: searcher, pinger: pinger}
}

// Search runs a full-text query. Returns an empty response when no search
// backend is configured.
func (s *Service) Search(q search.Query) search.Response {
	if s.searcher == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.searcher.Search(q)
}

func (s *Service) Ping(ctx context.Context) error {
	if s.pinger == nil {
		return nil
	}
	return s.pinger.Ping(ctx)
}

// GetState returns the full binary state for id.
func (s *Service) GetState(ctx context.Context, id string) ([]byte, error) {
	return s.docs.GetData(ctx, id)
}

// GetStateBase64 returns the full state as base64 text.
func (s *Service) GetStateBase64(ctx context.Context, id string) (string, error) {
	state, err := s.docs.GetData(ctx, id)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(state), nil
}

func (s *Service) StateVector(ctx context.Context, id string) ([]byte, error) {
	return s.docs.StateVector(ctx, id)
}

func (s *Service) Diff(ctx context.Context, id string, vector []byte) ([]byte, error) {
	return s.docs.Diff(ctx, id, vector)
}

// Save merges the update into id's state and returns the DSL projection.
// The projection is also forwarded to the search indexer.
func (s *Service) Save(ctx context.Context, id string, update []byte) (json.RawMessage, error) {
	dsl, err := s.docs.Save(ctx, id, update)
	if err != nil {
		return nil, err
	}
	if s.indexer != nil {
		s.indexer.IndexDocument(ctx, id, dsl)
	}
	return dsl, nil
}

// SaveMultipart merges the update and returns either the full state or the
// diff against the supplied vector. Vector nil means full state.
func (s *Service) SaveMultipart(ctx context.Context, id string, update, vector []byte) ([]byte, error) {
	out, dsl, err := s.docs.SaveWithDiff(ctx, id, update, vector)
	if err != nil {
		return nil, err
	}
	if s.indexer != nil {
		s.indexer.IndexDocument(ctx, id, dsl)
	}
	return out, nil
}
