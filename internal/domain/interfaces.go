package domain

import "context"

// Embedder converts free text into fixed-dimension numeric vectors by calling
// a remotely hosted embedding model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
	Dimension() int
}

// ChatOptions are the sampling knobs forwarded to the model endpoint.
type ChatOptions struct {
	Temperature float64
	MaxTokens   int
}

// ChatModel generates a completion for an ordered message sequence.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error)
}
