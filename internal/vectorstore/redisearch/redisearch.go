package redisearch

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"kbchat/internal/domain"
	"kbchat/internal/vectorstore"
)

const (
	registryKey = "kbchat:collections"
	schemaKey   = "kbchat:schemas"

	fieldContent   = "content"
	fieldMetadata  = "metadata"
	fieldEmbedding = "embedding"
)

// Store implements the vector store contract on Redis with a RediSearch HNSW
// index per collection. Release drops the index but keeps the hashes, so a
// released collection fails search until the next Load rebuilds the index.
type Store struct {
	client *redis.Client
}

type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
		Protocol: 2, // FT.SEARCH replies are parsed in their array form
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Store{client: client}, nil
}

func (s *Store) CreateCollection(ctx context.Context, name string, schema vectorstore.Schema) error {
	exists, err := s.client.SIsMember(ctx, registryKey, name).Result()
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", vectorstore.ErrCollectionExists, name)
	}
	if err := s.createIndex(ctx, name, schema.Dim); err != nil {
		return err
	}
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, registryKey, name)
	pipe.HSet(ctx, schemaKey, name, schema.Dim)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) createIndex(ctx context.Context, name string, dim int) error {
	err := s.client.Do(ctx, "FT.CREATE", indexName(name),
		"ON", "HASH",
		"PREFIX", "1", keyPrefix(name),
		"SCHEMA",
		fieldEmbedding, "VECTOR", "HNSW", "6",
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(dim),
		"DISTANCE_METRIC", "COSINE",
		fieldContent, "TEXT",
	).Err()
	if err != nil && strings.Contains(err.Error(), "Index already exists") {
		return nil
	}
	return err
}

// DropCollection removes the index, its documents and the registry entry.
// No-op when the collection does not exist.
func (s *Store) DropCollection(ctx context.Context, name string) error {
	// DD deletes the indexed hashes along with the index. The index may be
	// absent when the collection was released; sweep leftover keys either way.
	_ = s.client.Do(ctx, "FT.DROPINDEX", indexName(name), "DD").Err()
	iter := s.client.Scan(ctx, 0, keyPrefix(name)+"*", 500).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	pipe := s.client.Pipeline()
	pipe.SRem(ctx, registryKey, name)
	pipe.HDel(ctx, schemaKey, name)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, registryKey).Result()
	if err != nil {
		return nil, err
	}
	return names, nil
}

func (s *Store) Insert(ctx context.Context, name string, records []vectorstore.Record) error {
	exists, err := s.client.SIsMember(ctx, registryKey, name).Result()
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, name)
	}
	pipe := s.client.Pipeline()
	for _, r := range records {
		id := r.ID
		if id == "" {
			id = uuid.NewString()
		}
		metadataJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, keyPrefix(name)+id,
			fieldContent, r.Content,
			fieldMetadata, metadataJSON,
			fieldEmbedding, encodeVector(r.Embedding),
		)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) Search(ctx context.Context, name string, vector []float64, topK int) ([]vectorstore.Hit, error) {
	if topK <= 0 {
		topK = 5
	}
	query := fmt.Sprintf("*=>[KNN %d @%s $query_vector AS score]", topK, fieldEmbedding)
	result, err := s.client.Do(ctx, "FT.SEARCH", indexName(name), query,
		"PARAMS", "2", "query_vector", encodeVector(vector),
		"RETURN", "3", fieldContent, fieldMetadata, "score",
		"SORTBY", "score",
		"LIMIT", "0", strconv.Itoa(topK),
		"DIALECT", "2",
	).Result()
	if err != nil {
		if strings.Contains(err.Error(), "no such index") ||
			strings.Contains(err.Error(), "Unknown index") ||
			strings.Contains(err.Error(), "Unknown Index") {
			exists, serr := s.client.SIsMember(ctx, registryKey, name).Result()
			if serr == nil && exists {
				return nil, fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotLoaded, name)
			}
			return nil, fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, name)
		}
		return nil, err
	}
	return parseSearchReply(name, result)
}

// Load rebuilds the collection's index from the stored schema.
func (s *Store) Load(ctx context.Context, name string) error {
	dimStr, err := s.client.HGet(ctx, schemaKey, name).Result()
	if err == redis.Nil {
		return fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, name)
	}
	if err != nil {
		return err
	}
	dim, err := strconv.Atoi(dimStr)
	if err != nil {
		return fmt.Errorf("corrupt schema entry for %s: %w", name, err)
	}
	return s.createIndex(ctx, name, dim)
}

// Release drops the index while keeping the documents.
func (s *Store) Release(ctx context.Context, name string) error {
	err := s.client.Do(ctx, "FT.DROPINDEX", indexName(name)).Err()
	if err != nil && (strings.Contains(err.Error(), "no such index") ||
		strings.Contains(err.Error(), "Unknown index") ||
		strings.Contains(err.Error(), "Unknown Index")) {
		return nil
	}
	return err
}

func (s *Store) Close() error { return s.client.Close() }

func indexName(collection string) string { return "idx:" + collection }
func keyPrefix(collection string) string { return collection + ":" }

// encodeVector packs the vector as little-endian float32, the blob format
// RediSearch expects for VECTOR fields.
func encodeVector(vector []float64) []byte {
	buf := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(float32(v)))
	}
	return buf
}

// parseSearchReply walks the array reply of FT.SEARCH: a count followed by
// (key, fields) pairs. The reported score is cosine distance; hits carry
// similarity.
func parseSearchReply(name string, result any) ([]vectorstore.Hit, error) {
	values, ok := result.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected FT.SEARCH reply format")
	}
	hits := make([]vectorstore.Hit, 0)
	for i := 1; i+1 < len(values); i += 2 {
		key, ok := values[i].(string)
		if !ok {
			continue
		}
		fields, ok := values[i+1].([]any)
		if !ok {
			continue
		}
		hit := vectorstore.Hit{}
		hit.ID = strings.TrimPrefix(key, keyPrefix(name))
		for j := 0; j+1 < len(fields); j += 2 {
			fname, ok := fields[j].(string)
			if !ok {
				continue
			}
			fval, _ := fields[j+1].(string)
			switch fname {
			case fieldContent:
				hit.Content = fval
			case fieldMetadata:
				var meta domain.ContextMetadata
				if err := json.Unmarshal([]byte(fval), &meta); err == nil {
					hit.Metadata = meta
				}
			case "score":
				if dist, err := strconv.ParseFloat(fval, 64); err == nil {
					hit.Score = 1 - dist
				}
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
