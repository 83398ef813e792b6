package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"kbchat/internal/vectorstore"
)

// Store is an in-process vector store using brute-force cosine similarity.
// Collections start loaded; Release makes them unqueryable until the next
// Load.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

type collection struct {
	schema  vectorstore.Schema
	records []vectorstore.Record
	loaded  bool
}

func NewStore() *Store {
	return &Store{collections: make(map[string]*collection)}
}

func (s *Store) CreateCollection(ctx context.Context, name string, schema vectorstore.Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; ok {
		return fmt.Errorf("%w: %s", vectorstore.ErrCollectionExists, name)
	}
	s.collections[name] = &collection{schema: schema, loaded: true}
	return nil
}

// DropCollection is a no-op when the collection does not exist.
func (s *Store) DropCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	return nil
}

func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) Insert(ctx context.Context, name string, records []vectorstore.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, name)
	}
	for _, r := range records {
		if coll.schema.Dim > 0 && len(r.Embedding) != coll.schema.Dim {
			return fmt.Errorf("vector dimension mismatch: want %d, got %d", coll.schema.Dim, len(r.Embedding))
		}
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		coll.records = append(coll.records, r)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, name string, vector []float64, topK int) ([]vectorstore.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	coll, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, name)
	}
	if !coll.loaded {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotLoaded, name)
	}
	if topK <= 0 {
		topK = 5
	}
	hits := make([]vectorstore.Hit, 0, len(coll.records))
	for _, r := range coll.records {
		hits = append(hits, vectorstore.Hit{Record: r, Score: cosine(r.Embedding, vector)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK < len(hits) {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *Store) Load(ctx context.Context, name string) error {
	return s.setLoaded(name, true)
}

func (s *Store) Release(ctx context.Context, name string) error {
	return s.setLoaded(name, false)
}

func (s *Store) setLoaded(name string, loaded bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, name)
	}
	coll.loaded = loaded
	return nil
}

func (s *Store) Close() error { return nil }

func cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
