package kb

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"kbchat/internal/config"
	"kbchat/internal/domain"
	"kbchat/internal/vectorstore"
)

// ErrKnowledgeBaseNotFound means no physical collection carries the knowledge
// base's prefix. A knowledge base exists exactly when at least one backing
// collection does; one with zero collections does not exist.
var ErrKnowledgeBaseNotFound = errors.New("knowledge base not found")

// Service exposes knowledge base and collection lifecycle plus content
// operations over a vector store backend. Embeddings are computed through the
// model client; embedding and insertion are two independent steps, so an
// insert failure after a successful embed leaves nothing to roll back
// (partial-failure tolerant).
type Service struct {
	store    vectorstore.Store
	embedder domain.Embedder
	cfg      config.KBConfig
	log      *zap.Logger
}

func NewService(store vectorstore.Store, embedder domain.Embedder, cfg config.KBConfig, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, embedder: embedder, cfg: cfg, log: log}
}

func (s *Service) schema(description string) vectorstore.Schema {
	dim := s.embedder.Dimension()
	if dim <= 0 {
		dim = s.cfg.EmbeddingDim
	}
	return vectorstore.Schema{
		Dim:              dim,
		MaxContentLength: s.cfg.MaxContentLength,
		Description:      description,
	}
}

// CreateKnowledgeBase provisions the knowledge base's default collection so
// creation is observable through collection lookup.
func (s *Service) CreateKnowledgeBase(ctx context.Context, kbName, description string) error {
	exists, err := s.KnowledgeBaseExists(ctx, kbName)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", vectorstore.ErrCollectionExists, kbName)
	}
	return s.CreateCollection(ctx, kbName, s.cfg.DefaultCollection, description)
}

// DropKnowledgeBase drops every collection belonging to the knowledge base.
func (s *Service) DropKnowledgeBase(ctx context.Context, kbName string) error {
	collections, err := s.ListCollections(ctx, kbName)
	if err != nil {
		return err
	}
	if len(collections) == 0 {
		return fmt.Errorf("%w: %s", ErrKnowledgeBaseNotFound, kbName)
	}
	for _, collection := range collections {
		physical, err := ComposeCollectionName(kbName, collection)
		if err != nil {
			return err
		}
		if err := s.store.DropCollection(ctx, physical); err != nil {
			return err
		}
		s.log.Info("dropped collection", zap.String("kb", kbName), zap.String("collection", collection))
	}
	return nil
}

// ListKnowledgeBases returns the distinct knowledge base names derived from
// the physical collection namespace, in backend listing order.
func (s *Service) ListKnowledgeBases(ctx context.Context) ([]string, error) {
	physicals, err := s.store.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	names := make([]string, 0)
	for _, physical := range physicals {
		kbName, _, err := DecomposeCollectionName(physical)
		if err != nil {
			continue
		}
		if _, ok := seen[kbName]; ok {
			continue
		}
		seen[kbName] = struct{}{}
		names = append(names, kbName)
	}
	return names, nil
}

// KnowledgeBaseExists reports whether at least one physical collection
// carries the knowledge base's prefix.
func (s *Service) KnowledgeBaseExists(ctx context.Context, kbName string) (bool, error) {
	collections, err := s.ListCollections(ctx, kbName)
	if err != nil {
		return false, err
	}
	return len(collections) > 0, nil
}

func (s *Service) CreateCollection(ctx context.Context, kbName, collectionName, description string) error {
	physical, err := ComposeCollectionName(kbName, collectionName)
	if err != nil {
		return err
	}
	if err := s.store.CreateCollection(ctx, physical, s.schema(description)); err != nil {
		return err
	}
	s.log.Info("created collection",
		zap.String("kb", kbName), zap.String("collection", collectionName))
	return nil
}

func (s *Service) DropCollection(ctx context.Context, kbName, collectionName string) error {
	physical, err := ComposeCollectionName(kbName, collectionName)
	if err != nil {
		return err
	}
	return s.store.DropCollection(ctx, physical)
}

// ListCollections returns the knowledge base's collection names, with the
// namespace prefix stripped.
func (s *Service) ListCollections(ctx context.Context, kbName string) ([]string, error) {
	physicals, err := s.store.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	return FilterByKB(kbName, physicals)
}

// AddContexts embeds every context's content in one batched call, attaches
// the vectors and inserts the records.
func (s *Service) AddContexts(ctx context.Context, kbName, collectionName string, contexts []domain.Context) error {
	if len(contexts) == 0 {
		return nil
	}
	physical, err := ComposeCollectionName(kbName, collectionName)
	if err != nil {
		return err
	}
	texts := make([]string, len(contexts))
	for i, c := range contexts {
		texts[i] = truncateRunes(c.Content, s.cfg.MaxContentLength)
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed contexts: %w", err)
	}
	records := make([]vectorstore.Record, len(contexts))
	for i, c := range contexts {
		records[i] = vectorstore.Record{
			ID:        c.ID,
			Metadata:  c.Metadata,
			Content:   texts[i],
			Embedding: vectors[i],
		}
	}
	if err := s.store.Insert(ctx, physical, records); err != nil {
		return fmt.Errorf("insert contexts: %w", err)
	}
	s.log.Info("added contexts",
		zap.String("kb", kbName),
		zap.String("collection", collectionName),
		zap.Int("count", len(records)))
	return nil
}

// Search embeds the query, retrieves at most topK candidates by cosine
// similarity and filters out any candidate scoring below scoreThreshold.
// An empty result is not an error.
func (s *Service) Search(ctx context.Context, query, kbName, collectionName string, topK int, scoreThreshold float64) ([]domain.Context, error) {
	physical, err := ComposeCollectionName(kbName, collectionName)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = s.cfg.TopK
	}
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := s.store.Search(ctx, physical, vector, topK)
	if err != nil {
		return nil, err
	}
	contexts := make([]domain.Context, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < scoreThreshold {
			continue
		}
		contexts = append(contexts, domain.Context{
			ID:       hit.ID,
			Distance: hit.Score,
			Metadata: hit.Metadata,
			Content:  hit.Content,
		})
	}
	return contexts, nil
}

// LoadCollection makes a collection queryable on backends with explicit
// memory residency.
func (s *Service) LoadCollection(ctx context.Context, kbName, collectionName string) error {
	physical, err := ComposeCollectionName(kbName, collectionName)
	if err != nil {
		return err
	}
	return s.store.Load(ctx, physical)
}

// ReleaseCollection transitions a collection out of the queryable state.
func (s *Service) ReleaseCollection(ctx context.Context, kbName, collectionName string) error {
	physical, err := ComposeCollectionName(kbName, collectionName)
	if err != nil {
		return err
	}
	return s.store.Release(ctx, physical)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
