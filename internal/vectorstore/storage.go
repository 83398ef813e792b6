package vectorstore

import (
	"context"
	"errors"

	"kbchat/internal/domain"
)

// Backend state errors shared by all store implementations.
var (
	ErrCollectionExists    = errors.New("collection already exists")
	ErrCollectionNotFound  = errors.New("collection not found")
	ErrCollectionNotLoaded = errors.New("collection not loaded")
)

// Schema describes the fixed collection layout: a backend-assigned primary
// key, a nullable metadata blob, bounded-length content and a fixed-dimension
// embedding indexed with cosine distance.
type Schema struct {
	Dim              int
	MaxContentLength int
	Description      string
}

// Record is one stored chunk with its embedding attached.
type Record struct {
	ID        string
	Metadata  domain.ContextMetadata
	Content   string
	Embedding []float64
}

// Hit is one search candidate. Score is cosine similarity; higher is closer.
type Hit struct {
	Record
	Score float64
}

// Store is the closed contract a vector store backend must satisfy. Search
// returns at most topK candidates in descending similarity order; score
// threshold filtering is the caller's concern. Load and Release transition a
// collection between queryable and unloaded states; backends without a
// residency concept implement them as no-ops.
type Store interface {
	CreateCollection(ctx context.Context, name string, schema Schema) error
	DropCollection(ctx context.Context, name string) error
	ListCollections(ctx context.Context) ([]string, error)
	Insert(ctx context.Context, collection string, records []Record) error
	Search(ctx context.Context, collection string, vector []float64, topK int) ([]Hit, error)
	Load(ctx context.Context, collection string) error
	Release(ctx context.Context, collection string) error
	Close() error
}
