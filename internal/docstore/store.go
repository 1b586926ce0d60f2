// Package docstore orchestrates get/diff/save over collaborative documents
// identified by an opaque id, layering a fast cache over the authoritative
// backend. Saves merge incoming binary updates into the current state; the
// merge is commutative and idempotent so concurrent saves converge without
// per-id locking.
package docstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"graphdoc/api/internal/cache"
	"graphdoc/api/internal/crdt"
	"graphdoc/api/internal/document"
	"graphdoc/api/internal/envelope"
)

// ErrMalformedPayload marks failures caused by undecodable caller input
// (updates, state vectors, base64). Corrupt *stored* state is not wrapped
// with it; that is a fatal server-side condition, not a client error.
var ErrMalformedPayload = errors.New("malformed payload")

// Meta is what the backend knows about a document besides its payload.
type Meta struct {
	ID    string
	Title string
}

// FetchResult is the backend's answer for one document. Raw is the stored
// envelope text; empty means the document has never been saved.
type FetchResult struct {
	Raw  string
	Meta Meta
}

// SaveRequest carries everything the backend persists on a save: the DSL
// projection for queries and indexing, plus the raw envelope holding the
// full binary state.
type SaveRequest struct {
	ID  string
	DSL json.RawMessage
	Raw string
}

// Backend is the authoritative store. It serializes its own writes per id;
// the docstore layer adds no locking of its own.
type Backend interface {
	Fetch(ctx context.Context, id string) (FetchResult, error)
	Persist(ctx context.Context, req SaveRequest) error
}

// Transform projects a document into its DSL JSON form for persistence.
type Transform func(doc *crdt.Doc) (json.RawMessage, error)

// Template synthesizes the initial document for a first-ever load.
type Template func(meta document.TemplateMeta) (*crdt.Doc, error)

// Options wire a Store to its collaborators.
type Options struct {
	Cache     cache.Cache
	Backend   Backend
	Transform Transform
	Template  Template
	// TTL bounds each cache entry; zero keeps entries until evicted.
	TTL    time.Duration
	Logger *log.Logger
}

// Store is the document store service. All operations are safe for
// concurrent use; consistency across racing saves comes from the merge
// semantics of the update format, not from locks.
type Store struct {
	cache     cache.Cache
	backend   Backend
	transform Transform
	template  Template
	ttl       time.Duration
	logger    *log.Logger

	now func() time.Time
}

func New(opts Options) (*Store, error) {
	if opts.Cache == nil || opts.Backend == nil {
		return nil, fmt.Errorf("docstore: cache and backend are required")
	}
	s := &Store{
		cache:     opts.Cache,
		backend:   opts.Backend,
		transform: opts.Transform,
		template:  opts.Template,
		ttl:       opts.TTL,
		logger:    opts.Logger,
		now:       time.Now,
	}
	if s.transform == nil {
		s.transform = document.MarshalDSL
	}
	if s.template == nil {
		s.template = document.NewTemplateDoc
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	if mem, ok := opts.Cache.(*cache.Memory); ok {
		mem.SetOnEvict(s.persistEvicted)
	}
	return s, nil
}

func (s *Store) expireAt() int64 {
	if s.ttl == 0 {
		return 0
	}
	return s.now().Add(s.ttl).UnixMilli()
}

// GetData returns the full binary state for id. Cache hit returns the cached
// bytes; otherwise the backend is consulted, and a document that has never
// been saved is synthesized from the template and persisted as its initial
// version before being returned.
func (s *Store) GetData(ctx context.Context, id string) ([]byte, error) {
	if state, ok, err := s.cached(ctx, id); err != nil {
		return nil, err
	} else if ok {
		return state, nil
	}

	res, err := s.backend.Fetch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", id, err)
	}
	if res.Raw == "" {
		return s.createFromTemplate(ctx, id, res.Meta)
	}

	state, err := envelope.FromRaw(res.Raw)
	if err != nil {
		return nil, fmt.Errorf("decode stored payload for %s: %w", id, err)
	}
	if err := s.cache.Set(ctx, id, state, s.expireAt()); err != nil {
		return nil, fmt.Errorf("cache %s: %w", id, err)
	}
	return state, nil
}

func (s *Store) createFromTemplate(ctx context.Context, id string, meta Meta) ([]byte, error) {
	if meta.ID == "" {
		meta.ID = id
	}
	doc, err := s.template(document.TemplateMeta{ID: meta.ID, Title: meta.Title})
	if err != nil {
		return nil, fmt.Errorf("template for %s: %w", id, err)
	}
	state := crdt.EncodeStateAsUpdate(doc)
	if err := s.cache.Set(ctx, id, state, s.expireAt()); err != nil {
		return nil, fmt.Errorf("cache %s: %w", id, err)
	}
	if err := s.persist(ctx, id, doc, state); err != nil {
		return nil, err
	}
	return state, nil
}

// Save merges update into the current state for id, caches the merged state,
// projects it to DSL and persists both. Incoming updates are always merged
// rather than replacing state wholesale: a replace would let one writer
// silently discard concurrent independent changes, while the merge converges
// for any arrival order. The returned value is the DSL projection.
//
// On a persist failure the cache entry is restored to what it held before
// this call began, or removed if there was none, and the error is returned.
func (s *Store) Save(ctx context.Context, id string, update []byte) (json.RawMessage, error) {
	dsl, _, err := s.merge(ctx, id, update)
	return dsl, err
}

// SaveWithDiff is Save for multipart clients: after the merge is persisted
// it returns either the full merged state (vector nil) or the diff against
// the caller-supplied state vector, letting a client pull what it is missing
// in the same round trip as its own push. The DSL projection is returned
// alongside for callers that index it.
func (s *Store) SaveWithDiff(ctx context.Context, id string, update, vector []byte) ([]byte, json.RawMessage, error) {
	var remote crdt.StateVector
	if vector != nil {
		var err error
		remote, err = crdt.DecodeStateVector(vector)
		if err != nil {
			return nil, nil, fmt.Errorf("decode state vector: %w: %v", ErrMalformedPayload, err)
		}
	}

	dsl, doc, err := s.merge(ctx, id, update)
	if err != nil {
		return nil, nil, err
	}
	if vector == nil {
		return crdt.EncodeStateAsUpdate(doc), dsl, nil
	}
	return crdt.DiffUpdate(doc, remote), dsl, nil
}

// merge is the shared save path: load, apply, cache, transform, persist,
// roll the cache back on failure.
func (s *Store) merge(ctx context.Context, id string, update []byte) (json.RawMessage, *crdt.Doc, error) {
	prior, hadPrior, err := s.cached(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	doc := crdt.NewDoc()
	if hadPrior {
		if err := crdt.ApplyUpdate(doc, prior); err != nil {
			return nil, nil, fmt.Errorf("decode cached state for %s: %w", id, err)
		}
	} else {
		res, err := s.backend.Fetch(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("fetch %s: %w", id, err)
		}
		if res.Raw != "" {
			stored, err := envelope.FromRaw(res.Raw)
			if err != nil {
				return nil, nil, fmt.Errorf("decode stored payload for %s: %w", id, err)
			}
			if err := crdt.ApplyUpdate(doc, stored); err != nil {
				return nil, nil, fmt.Errorf("apply stored state for %s: %w", id, err)
			}
		}
	}

	if err := crdt.ApplyUpdate(doc, update); err != nil {
		return nil, nil, fmt.Errorf("apply update for %s: %w: %v", id, ErrMalformedPayload, err)
	}
	state := crdt.EncodeStateAsUpdate(doc)
	if err := s.cache.Set(ctx, id, state, s.expireAt()); err != nil {
		return nil, nil, fmt.Errorf("cache %s: %w", id, err)
	}

	dsl, err := s.persistDoc(ctx, id, doc, state)
	if err != nil {
		s.rollback(ctx, id, prior, hadPrior)
		return nil, nil, err
	}
	return dsl, doc, nil
}

func (s *Store) persistDoc(ctx context.Context, id string, doc *crdt.Doc, state []byte) (json.RawMessage, error) {
	dsl, err := s.transform(doc)
	if err != nil {
		return nil, fmt.Errorf("transform %s: %w", id, err)
	}
	if err := s.backend.Persist(ctx, SaveRequest{ID: id, DSL: dsl, Raw: envelope.ToRaw(state)}); err != nil {
		return nil, fmt.Errorf("persist %s: %w", id, err)
	}
	return dsl, nil
}

func (s *Store) persist(ctx context.Context, id string, doc *crdt.Doc, state []byte) error {
	if _, err := s.persistDoc(ctx, id, doc, state); err != nil {
		s.rollback(ctx, id, nil, false)
		return err
	}
	return nil
}

// rollback restores the single prior cache value. Best effort: a failing
// cache write here is logged, not returned, since the save error is already
// on its way to the caller.
func (s *Store) rollback(ctx context.Context, id string, prior []byte, hadPrior bool) {
	var err error
	if hadPrior {
		err = s.cache.Set(ctx, id, prior, s.expireAt())
	} else {
		err = s.cache.Delete(ctx, id)
	}
	if err != nil {
		s.logger.Printf("docstore: cache rollback for %s failed: %v", id, err)
	}
}

// StateVector returns the encoded state vector for id's current state.
func (s *Store) StateVector(ctx context.Context, id string) ([]byte, error) {
	doc, err := s.loadDoc(ctx, id)
	if err != nil {
		return nil, err
	}
	return crdt.EncodeStateVector(doc), nil
}

// Diff returns the minimal update a client holding the given state vector
// needs to catch up with id's current state.
func (s *Store) Diff(ctx context.Context, id string, vector []byte) ([]byte, error) {
	remote, err := crdt.DecodeStateVector(vector)
	if err != nil {
		return nil, fmt.Errorf("decode state vector: %w: %v", ErrMalformedPayload, err)
	}
	doc, err := s.loadDoc(ctx, id)
	if err != nil {
		return nil, err
	}
	return crdt.DiffUpdate(doc, remote), nil
}

func (s *Store) loadDoc(ctx context.Context, id string) (*crdt.Doc, error) {
	state, err := s.GetData(ctx, id)
	if err != nil {
		return nil, err
	}
	doc := crdt.NewDoc()
	if err := crdt.ApplyUpdate(doc, state); err != nil {
		return nil, fmt.Errorf("decode state for %s: %w", id, err)
	}
	return doc, nil
}

func (s *Store) cached(ctx context.Context, id string) ([]byte, bool, error) {
	v, ok, err := s.cache.Get(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", id, err)
	}
	if !ok {
		return nil, false, nil
	}
	state, isBytes := v.([]byte)
	if !isBytes {
		// Foreign entry under our key; treat as a miss.
		return nil, false, nil
	}
	return state, true, nil
}

// PrimeFromBase64 pre-populates the cache from a bare base64 payload, e.g.
// during a server-side render step before the interactive session starts.
func (s *Store) PrimeFromBase64(ctx context.Context, id, b64 string) error {
	state, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return fmt.Errorf("decode base64 for %s: %w: %v", id, ErrMalformedPayload, err)
	}
	return s.PrimeFromBytes(ctx, id, state)
}

// PrimeFromBase64IfAbsent primes only when no entry exists for id.
func (s *Store) PrimeFromBase64IfAbsent(ctx context.Context, id, b64 string) error {
	if _, ok, err := s.cached(ctx, id); err != nil {
		return err
	} else if ok {
		return nil
	}
	return s.PrimeFromBase64(ctx, id, b64)
}

// PrimeFromRaw primes the cache from a stored envelope payload.
func (s *Store) PrimeFromRaw(ctx context.Context, id, raw string) error {
	state, err := envelope.FromRaw(raw)
	if err != nil {
		return fmt.Errorf("decode raw payload for %s: %w", id, err)
	}
	return s.PrimeFromBytes(ctx, id, state)
}

// PrimeFromBytes primes the cache with an already-decoded binary state.
func (s *Store) PrimeFromBytes(ctx context.Context, id string, state []byte) error {
	return s.cache.Set(ctx, id, state, s.expireAt())
}

// persistEvicted flushes an LRU victim to the backend so bounded memory
// never silently drops unsaved state. Failures are logged; the authoritative
// copy from the last explicit save is still intact.
func (s *Store) persistEvicted(id string, value any) {
	state, ok := value.([]byte)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	doc := crdt.NewDoc()
	if err := crdt.ApplyUpdate(doc, state); err != nil {
		s.logger.Printf("docstore: evicted entry for %s is not a valid state: %v", id, err)
		return
	}
	if _, err := s.persistDoc(ctx, id, doc, state); err != nil {
		s.logger.Printf("docstore: save-on-evict for %s failed: %v", id, err)
	}
}
