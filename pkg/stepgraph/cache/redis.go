package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is an exact-match cache on Redis with RediSearch.
// Each entry is a hash; the index covers the prompt as TEXT, a prompt hash
// as TAG and each configured scope field as a case-sensitive TAG. Hits are
// re-verified against the stored prompt and full scope before returning.
//
// Lookups filter on the prompt hash rather than a full-text @prompt match.
// Full-text queries tokenize, stem and drop stopwords, so they can both miss
// an identical prompt and match a different one; the TEXT field stays
// indexed for ad-hoc searches.
type RedisCache struct {
	client redis.UniversalClient
	opts   RedisOptions
	now    func() time.Time
}

// NewRedisCache creates the index if needed and returns the cache.
// The client is owned by the caller.
func NewRedisCache(ctx context.Context, client redis.UniversalClient, opts RedisOptions) (*RedisCache, error) {
	opts = opts.withDefaults("stepgraph-cache-idx", "stepgraph:cache:")
	if err := createIndex(ctx, client, opts); err != nil {
		return nil, err
	}
	return &RedisCache{client: client, opts: opts, now: time.Now}, nil
}

// Get implements Cache.
func (r *RedisCache) Get(ctx context.Context, prompt string, scope Scope) (*Entry, error) {
	query, err := exactQuery(r.opts, prompt, scope)
	if err != nil {
		return nil, err
	}

	docs, err := search(ctx, r.client, r.opts.Index, query, "LIMIT", 0, 10, "DIALECT", 2)
	if err != nil {
		return nil, fmt.Errorf("redis cache get: %w", err)
	}

	now := r.now()
	for _, d := range docs {
		e, err := docEntry(d, r.opts.Prefix)
		if err != nil {
			continue
		}
		if e.Prompt != prompt || !e.Scope.Equal(scope) || e.Expired(now) {
			continue
		}
		return e, nil
	}
	return nil, nil
}

// Set implements Cache. Entries with the same prompt and scope are replaced.
// A positive ttl is also applied as the key's Redis expiry.
func (r *RedisCache) Set(ctx context.Context, prompt string, scope Scope, response string, ttl time.Duration) (string, error) {
	if _, err := tagQuery(r.opts, scope); err != nil {
		return "", err
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
		return "", fmt.Errorf("redis cache set: %w", err)
	}

	stale, err := r.sameKey(ctx, prompt, scope)
	if err != nil {
		return "", fmt.Errorf("redis cache set: %w", err)
	}

	key := r.opts.Prefix + e.ID
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(stale) > 0 {
			pipe.Del(ctx, stale...)
		}
		pipe.HSet(ctx, key, values...)
		if ttl > 0 {
			pipe.PExpire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("redis cache set: %w", err)
	}
	return e.ID, nil
}

// Clear implements Cache.
func (r *RedisCache) Clear(ctx context.Context, filter Scope) error {
	if err := deleteMatching(ctx, r.client, r.opts, scopeQuery(r.opts, filter), filter); err != nil {
		return fmt.Errorf("redis cache clear: %w", err)
	}
	return nil
}

// sameKey returns the keys of entries stored under prompt and scope.
func (r *RedisCache) sameKey(ctx context.Context, prompt string, scope Scope) ([]string, error) {
	query := fmt.Sprintf("@%s:{%s}", fieldPromptHash, promptHash(prompt))
	docs, err := search(ctx, r.client, r.opts.Index, query,
		"RETURN", 2, fieldPrompt, fieldScope, "LIMIT", 0, 100, "DIALECT", 2)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, d := range docs {
		s, err := decodeScope(d.Fields[fieldScope])
		if err == nil && d.Fields[fieldPrompt] == prompt && s.Equal(scope) {
			keys = append(keys, d.Key)
		}
	}
	return keys, nil
}
