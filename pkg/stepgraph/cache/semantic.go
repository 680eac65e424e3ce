package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultDistanceThreshold is the cosine distance below which a prompt is
// considered a match.
const DefaultDistanceThreshold = 0.1

// SemanticCache is an in-memory similarity cache.
// A lookup matches the nearest stored prompt whose cosine distance is below
// the threshold and whose scope equals the query's.
type SemanticCache struct {
	embedder  Embedder
	threshold float64
	now       func() time.Time

	mu      sync.RWMutex
	entries []semanticEntry
	closed  bool
}

type semanticEntry struct {
	entry  Entry
	vector []float64
}

// NewSemanticCache creates a similarity cache. A non-positive threshold
// uses DefaultDistanceThreshold.
func NewSemanticCache(embedder Embedder, threshold float64, opts ...MemoryOption) *SemanticCache {
	if embedder == nil {
		panic("cache: embedder cannot be nil")
	}
	if threshold <= 0 {
		threshold = DefaultDistanceThreshold
	}
	cfg := buildMemoryConfig(opts)
	return &SemanticCache{
		embedder:  embedder,
		threshold: threshold,
		now:       cfg.now,
	}
}

// Get implements Cache.
func (s *SemanticCache) Get(ctx context.Context, prompt string, scope Scope) (*Entry, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	vec, err := embedOne(ctx, s.embedder, prompt)
	if err != nil {
		return nil, fmt.Errorf("semantic cache get: %w", err)
	}

	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *semanticEntry
	bestDist := s.threshold
	for i := range s.entries {
		e := &s.entries[i]
		if !e.entry.Scope.Equal(scope) || e.entry.Expired(now) {
			continue
		}
		if d := cosineDistance(vec, e.vector); d < bestDist {
			best, bestDist = e, d
		}
	}
	if best == nil {
		return nil, nil
	}
	out := best.entry
	return &out, nil
}

// Set implements Cache. An entry with the same prompt and scope is replaced.
func (s *SemanticCache) Set(ctx context.Context, prompt string, scope Scope, response string, ttl time.Duration) (string, error) {
	if s.isClosed() {
		return "", ErrClosed
	}

	vec, err := embedOne(ctx, s.embedder, prompt)
	if err != nil {
		return "", fmt.Errorf("semantic cache set: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.entry.Prompt == prompt && e.entry.Scope.Equal(scope) {
			continue
		}
		kept = append(kept, e)
	}

	e := semanticEntry{
		entry: Entry{
			ID:        newID(),
			Prompt:    prompt,
			Scope:     scope.clone(),
			Response:  response,
			CreatedAt: s.now(),
			TTL:       ttl,
		},
		vector: vec,
	}
	s.entries = append(kept, e)
	return e.entry.ID, nil
}

// Delete removes the entry with the given ID. Unknown IDs are ignored.
func (s *SemanticCache) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.filter(func(e Entry) bool { return e.ID == id })
	return nil
}

// Clear implements Cache.
func (s *SemanticCache) Clear(_ context.Context, filter Scope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.filter(func(e Entry) bool { return e.Scope.Contains(filter) })
	return nil
}

// Close releases the cache. Later calls fail with ErrClosed.
func (s *SemanticCache) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.entries = nil
	return nil
}

// filter drops entries matching drop. Caller holds the write lock.
func (s *SemanticCache) filter(drop func(Entry) bool) {
	kept := s.entries[:0]
	for _, e := range s.entries {
		if !drop(e.entry) {
			kept = append(kept, e)
		}
	}
	s.entries = kept
}

func (s *SemanticCache) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
