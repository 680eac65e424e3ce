package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSemanticOptions configures a RedisSemanticCache.
type RedisSemanticOptions struct {
	RedisOptions
	// Dimensions is the embedding vector size.
	Dimensions int
	// DistanceThreshold is the maximum cosine distance for a hit.
	DistanceThreshold float64
}

// RedisSemanticCache is a similarity cache on Redis with RediSearch.
// Prompts are stored as FLOAT32 HNSW vectors with cosine distance; scope
// fields are TAG attributes used as exact pre-filters for the KNN query.
type RedisSemanticCache struct {
	client    redis.UniversalClient
	embedder  Embedder
	opts      RedisOptions
	threshold float64
	now       func() time.Time
}

// NewRedisSemanticCache creates the vector index if needed.
func NewRedisSemanticCache(ctx context.Context, client redis.UniversalClient, embedder Embedder, opts RedisSemanticOptions) (*RedisSemanticCache, error) {
	if embedder == nil {
		return nil, fmt.Errorf("redis semantic cache: embedder cannot be nil")
	}
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("redis semantic cache: dimensions must be positive")
	}
	ro := opts.RedisOptions.withDefaults("stepgraph-semcache-idx", "stepgraph:semcache:")
	threshold := opts.DistanceThreshold
	if threshold <= 0 {
		threshold = DefaultDistanceThreshold
	}

	vector := []any{fieldEmbedding, "VECTOR", "HNSW", 6,
		"TYPE", "FLOAT32", "DIM", opts.Dimensions, "DISTANCE_METRIC", "COSINE"}
	if err := createIndex(ctx, client, ro, vector...); err != nil {
		return nil, err
	}

	return &RedisSemanticCache{
		client:    client,
		embedder:  embedder,
		opts:      ro,
		threshold: threshold,
		now:       time.Now,
	}, nil
}

// Get implements Cache.
func (r *RedisSemanticCache) Get(ctx context.Context, prompt string, scope Scope) (*Entry, error) {
	filter, err := tagQuery(r.opts, scope)
	if err != nil {
		return nil, err
	}
	vec, err := embedOne(ctx, r.embedder, prompt)
	if err != nil {
		return nil, fmt.Errorf("redis semantic cache get: %w", err)
	}

	query := fmt.Sprintf("(%s)=>[KNN 5 @%s $vec AS %s]", filter, fieldEmbedding, distanceAlias)
	docs, err := search(ctx, r.client, r.opts.Index, query,
		"PARAMS", 2, "vec", vectorBytes(vec),
		"SORTBY", distanceAlias, "ASC",
		"RETURN", 6, fieldPrompt, fieldResponse, fieldScope, fieldCreatedAt, fieldTTL, distanceAlias,
		"LIMIT", 0, 5,
		"DIALECT", 2)
	if err != nil {
		return nil, fmt.Errorf("redis semantic cache get: %w", err)
	}

	now := r.now()
	for _, d := range docs {
		dist, err := strconv.ParseFloat(d.Fields[distanceAlias], 64)
		if err != nil || dist >= r.threshold {
			continue
		}
		e, err := docEntry(d, r.opts.Prefix)
		if err != nil || !e.Scope.Equal(scope) || e.Expired(now) {
			continue
		}
		return e, nil
	}
	return nil, nil
}

// Set implements Cache.
func (r *RedisSemanticCache) Set(ctx context.Context, prompt string, scope Scope, response string, ttl time.Duration) (string, error) {
	if _, err := tagQuery(r.opts, scope); err != nil {
		return "", err
	}
	vec, err := embedOne(ctx, r.embedder, prompt)
	if err != nil {
		return "", fmt.Errorf("redis semantic cache set: %w", err)
	}

	e := &Entry{
		ID:        newID(),
		Prompt:    prompt,
		Scope:     scope.clone(),
		Response:  response,
		CreatedAt: r.now().UTC(),
		TTL:       ttl,
	}
	values, err := hashFields(e, r.opts)
	if err != nil {
		return "", fmt.Errorf("redis semantic cache set: %w", err)
	}
	values = append(values, fieldEmbedding, vectorBytes(vec))

	key := r.opts.Prefix + e.ID
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, values...)
		if ttl > 0 {
			pipe.PExpire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("redis semantic cache set: %w", err)
	}
	return e.ID, nil
}

// Delete removes the entry with the given ID.
func (r *RedisSemanticCache) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.opts.Prefix+id).Err(); err != nil {
		return fmt.Errorf("redis semantic cache delete: %w", err)
	}
	return nil
}

// Clear implements Cache.
func (r *RedisSemanticCache) Clear(ctx context.Context, filter Scope) error {
	if err := deleteMatching(ctx, r.client, r.opts, scopeQuery(r.opts, filter), filter); err != nil {
		return fmt.Errorf("redis semantic cache clear: %w", err)
	}
	return nil
}
