package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"kbchat/internal/domain"
	"kbchat/internal/vectorstore"
)

// Store is a minimal REST client to Qdrant. Collections are created with
// cosine distance; Qdrant keeps collections resident, so Load and Release
// are no-ops.
type Store struct {
	url    string
	apiKey string
	client *http.Client
}

type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

func NewStore(cfg Config) *Store {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Store{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *Store) CreateCollection(ctx context.Context, name string, schema vectorstore.Schema) error {
	exists, err := s.collectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", vectorstore.ErrCollectionExists, name)
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     schema.Dim,
			"distance": "Cosine",
		},
	}
	return s.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", name), body, nil)
}

// DropCollection is a no-op when the collection does not exist.
func (s *Store) DropCollection(ctx context.Context, name string) error {
	err := s.do(ctx, http.MethodDelete, fmt.Sprintf("/collections/%s", name), nil, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	var resp struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodGet, "/collections", nil, &resp); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Result.Collections))
	for _, c := range resp.Result.Collections {
		names = append(names, c.Name)
	}
	return names, nil
}

func (s *Store) Insert(ctx context.Context, name string, records []vectorstore.Record) error {
	points := make([]map[string]any, len(records))
	for i, r := range records {
		id := r.ID
		if id == "" {
			id = uuid.NewString()
		}
		points[i] = map[string]any{
			"id":     id,
			"vector": r.Embedding,
			"payload": map[string]any{
				"metadata": r.Metadata,
				"content":  r.Content,
			},
		}
	}
	body := map[string]any{"points": points}
	err := s.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/points?wait=true", name), body, nil)
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, name)
	}
	return err
}

func (s *Store) Search(ctx context.Context, name string, vector []float64, topK int) ([]vectorstore.Hit, error) {
	if topK <= 0 {
		topK = 5
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			ID      any     `json:"id"`
			Score   float64 `json:"score"`
			Payload struct {
				Metadata domain.ContextMetadata `json:"metadata"`
				Content  string                 `json:"content"`
			} `json:"payload"`
		} `json:"result"`
	}
	err := s.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", name), req, &resp)
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	hits := make([]vectorstore.Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, vectorstore.Hit{
			Record: vectorstore.Record{
				ID:       fmt.Sprintf("%v", r.ID),
				Metadata: r.Payload.Metadata,
				Content:  r.Payload.Content,
			},
			Score: r.Score,
		})
	}
	return hits, nil
}

func (s *Store) Load(ctx context.Context, name string) error    { return nil }
func (s *Store) Release(ctx context.Context, name string) error { return nil }
func (s *Store) Close() error                                   { return nil }

func (s *Store) collectionExists(ctx context.Context, name string) (bool, error) {
	err := s.do(ctx, http.MethodGet, fmt.Sprintf("/collections/%s", name), nil, nil)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

type statusError struct {
	status int
	url    string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant request %s failed with status %d", e.url, e.status)
}

func isNotFound(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.status == http.StatusNotFound
}

func (s *Store) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.url+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &statusError{status: resp.StatusCode, url: s.url + path}
	}
	if out != nil {
		dec := json.NewDecoder(resp.Body)
		return dec.Decode(out)
	}
	return nil
}
