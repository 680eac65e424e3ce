package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is an exact-match in-memory cache.
// Data is lost when the process exits.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	now     func() time.Time
	closed  bool
}

// MemoryOption configures a MemoryCache or SemanticCache.
type MemoryOption func(*memoryConfig)

type memoryConfig struct {
	now func() time.Time
}

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *memoryConfig) {
		if now != nil {
			c.now = now
		}
	}
}

func buildMemoryConfig(opts []MemoryOption) memoryConfig {
	cfg := memoryConfig{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewMemoryCache creates an empty exact-match cache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := buildMemoryConfig(opts)
	return &MemoryCache{
		entries: make(map[string]*Entry),
		now:     cfg.now,
	}
}

// Get implements Cache.
func (m *MemoryCache) Get(_ context.Context, prompt string, scope Scope) (*Entry, error) {
	key := exactKey(prompt, scope)

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || e.Prompt != prompt || !e.Scope.Equal(scope) {
		return nil, nil
	}
	if e.Expired(m.now()) {
		m.mu.Lock()
		if cur, ok := m.entries[key]; ok && cur.ID == e.ID {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, nil
	}

	out := *e
	return &out, nil
}

// Set implements Cache. An existing entry for the same key is replaced.
func (m *MemoryCache) Set(_ context.Context, prompt string, scope Scope, response string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", ErrClosed
	}

	e := &Entry{
		ID:        newID(),
		Prompt:    prompt,
		Scope:     scope.clone(),
		Response:  response,
		CreatedAt: m.now(),
		TTL:       ttl,
	}
	m.entries[exactKey(prompt, scope)] = e
	return e.ID, nil
}

// Clear implements Cache.
func (m *MemoryCache) Clear(_ context.Context, filter Scope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	for key, e := range m.entries {
		if e.Scope.Contains(filter) {
			delete(m.entries, key)
		}
	}
	return nil
}

// Len returns the number of stored entries, expired or not.
// Useful for testing.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close releases the cache. Later calls fail with ErrClosed.
func (m *MemoryCache) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.entries = nil
	return nil
}

// clone returns a copy of s that is never nil.
func (s Scope) clone() Scope {
	out := make(Scope, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
