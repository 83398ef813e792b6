package kb

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"kbchat/internal/config"
	"kbchat/internal/domain"
	"kbchat/internal/vectorstore"
	"kbchat/internal/vectorstore/memory"
)

// stubEmbedder maps known texts to fixed vectors so similarity is under test
// control. Unknown texts embed to the fallback vector.
type stubEmbedder struct {
	dim      int
	vecs     map[string][]float64
	fallback []float64
}

func (e *stubEmbedder) vector(text string) []float64 {
	if v, ok := e.vecs[text]; ok {
		return v
	}
	return e.fallback
}

func (e *stubEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	return e.vector(text), nil
}

func (e *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *stubEmbedder) Dimension() int { return e.dim }

func testConfig() config.KBConfig {
	return config.KBConfig{
		TopK:              5,
		ScoreThreshold:    0.1,
		EmbeddingDim:      2,
		MaxContentLength:  5120,
		DefaultCollection: "default",
	}
}

func testService(cfg config.KBConfig, embedder domain.Embedder) *Service {
	if embedder == nil {
		embedder = &stubEmbedder{dim: 2, fallback: []float64{1, 0}}
	}
	return NewService(memory.NewStore(), embedder, cfg, nil)
}

func TestKnowledgeBaseLifecycle(t *testing.T) {
	ctx := context.Background()
	s := testService(testConfig(), nil)

	exists, err := s.KnowledgeBaseExists(ctx, "wiki")
	if err != nil || exists {
		t.Fatalf("fresh kb must not exist: %v %v", exists, err)
	}

	if err := s.CreateKnowledgeBase(ctx, "wiki", "test kb"); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateKnowledgeBase(ctx, "wiki", ""); !errors.Is(err, vectorstore.ErrCollectionExists) {
		t.Fatalf("want ErrCollectionExists, got %v", err)
	}

	exists, err = s.KnowledgeBaseExists(ctx, "wiki")
	if err != nil || !exists {
		t.Fatalf("created kb must exist: %v %v", exists, err)
	}

	// Creation provisions the default collection.
	collections, err := s.ListCollections(ctx, "wiki")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(collections, []string{"default"}) {
		t.Fatalf("want [default], got %v", collections)
	}

	names, err := s.ListKnowledgeBases(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names, []string{"wiki"}) {
		t.Fatalf("want [wiki], got %v", names)
	}

	if err := s.DropKnowledgeBase(ctx, "wiki"); err != nil {
		t.Fatal(err)
	}
	exists, err = s.KnowledgeBaseExists(ctx, "wiki")
	if err != nil || exists {
		t.Fatalf("dropped kb must not exist: %v %v", exists, err)
	}
	if err := s.DropKnowledgeBase(ctx, "wiki"); !errors.Is(err, ErrKnowledgeBaseNotFound) {
		t.Fatalf("want ErrKnowledgeBaseNotFound, got %v", err)
	}
}

func TestDropKnowledgeBaseRemovesAllCollections(t *testing.T) {
	ctx := context.Background()
	s := testService(testConfig(), nil)
	if err := s.CreateKnowledgeBase(ctx, "wiki", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateCollection(ctx, "wiki", "extra", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.DropKnowledgeBase(ctx, "wiki"); err != nil {
		t.Fatal(err)
	}
	collections, err := s.ListCollections(ctx, "wiki")
	if err != nil {
		t.Fatal(err)
	}
	if len(collections) != 0 {
		t.Fatalf("want no collections left, got %v", collections)
	}
}

func TestSearchFiltersByThresholdAndKeepsOrder(t *testing.T) {
	ctx := context.Background()
	embedder := &stubEmbedder{
		dim: 2,
		vecs: map[string][]float64{
			"north": {1, 0},
			"mixed": {1, 1},
			"east":  {0, 1},
		},
		fallback: []float64{1, 0},
	}
	s := testService(testConfig(), embedder)
	if err := s.CreateKnowledgeBase(ctx, "wiki", ""); err != nil {
		t.Fatal(err)
	}
	docs := []domain.Context{
		{Content: "east"},
		{Content: "north"},
		{Content: "mixed"},
	}
	if err := s.AddContexts(ctx, "wiki", "default", docs); err != nil {
		t.Fatal(err)
	}

	// Query embeds to (1,0): north scores 1.0, mixed ~0.71, east 0.
	got, err := s.Search(ctx, "north", "wiki", "default", 5, 0.3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 contexts above threshold, got %d", len(got))
	}
	if got[0].Content != "north" || got[1].Content != "mixed" {
		t.Fatalf("wrong order: %q, %q", got[0].Content, got[1].Content)
	}
	if got[0].Distance <= got[1].Distance {
		t.Fatalf("scores not descending: %v %v", got[0].Distance, got[1].Distance)
	}
}

func TestSearchEmptyCollectionIsNotAnError(t *testing.T) {
	ctx := context.Background()
	s := testService(testConfig(), nil)
	if err := s.CreateKnowledgeBase(ctx, "wiki", ""); err != nil {
		t.Fatal(err)
	}
	got, err := s.Search(ctx, "anything", "wiki", "default", 5, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("want empty result, got %v", got)
	}
}

func TestAddContextsTruncatesContent(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.MaxContentLength = 5
	s := testService(cfg, nil)
	if err := s.CreateKnowledgeBase(ctx, "wiki", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.AddContexts(ctx, "wiki", "default", []domain.Context{{Content: "overlong content"}}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Search(ctx, "q", "wiki", "default", 5, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Content != "overl" {
		t.Fatalf("content not truncated: %+v", got)
	}
}

func TestAddContextsEmptyIsNoOp(t *testing.T) {
	s := testService(testConfig(), nil)
	if err := s.AddContexts(context.Background(), "wiki", "default", nil); err != nil {
		t.Fatalf("empty batch must be a no-op, got %v", err)
	}
}

func TestReleaseThenSearchFails(t *testing.T) {
	ctx := context.Background()
	s := testService(testConfig(), nil)
	if err := s.CreateKnowledgeBase(ctx, "wiki", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.ReleaseCollection(ctx, "wiki", "default"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Search(ctx, "q", "wiki", "default", 5, 0); !errors.Is(err, vectorstore.ErrCollectionNotLoaded) {
		t.Fatalf("want ErrCollectionNotLoaded, got %v", err)
	}
	if err := s.LoadCollection(ctx, "wiki", "default"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Search(ctx, "q", "wiki", "default", 5, 0); err != nil {
		t.Fatalf("search after load failed: %v", err)
	}
}
