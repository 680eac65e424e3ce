// Package cache provides memoization of expensive step outputs keyed by a
// prompt and a scope.
//
// Two families of backend share the Cache interface:
//   - exact-match: the prompt and every scope field must be equal
//     (MemoryCache, RedisCache)
//   - similarity: the prompt must embed within a distance threshold and
//     every scope field must be equal (SemanticCache, RedisSemanticCache)
//
// A Get never returns an entry whose scope differs from the query's.
package cache

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Cache stores responses under a (prompt, scope) key.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the entry for prompt and scope, or nil on a miss.
	Get(ctx context.Context, prompt string, scope Scope) (*Entry, error)

	// Set stores response and returns the new entry's ID.
	// A zero ttl means the entry does not expire.
	Set(ctx context.Context, prompt string, scope Scope, response string, ttl time.Duration) (string, error)

	// Clear removes every entry whose scope contains all fields of filter.
	// A nil or empty filter removes everything.
	Clear(ctx context.Context, filter Scope) error
}

// Sentinel errors for cache operations.
var (
	// ErrClosed indicates the cache has been closed.
	ErrClosed = errors.New("cache closed")

	// ErrUnindexedScope indicates a scope field the backend has no index for.
	ErrUnindexedScope = errors.New("scope field is not indexed")
)

// Entry is a cached response.
type Entry struct {
	ID        string        `json:"id"`
	Prompt    string        `json:"prompt"`
	Scope     Scope         `json:"scope"`
	Response  string        `json:"response"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
}

// Expired reports whether the entry's ttl has elapsed at now.
func (e *Entry) Expired(now time.Time) bool {
	return e.TTL > 0 && !now.Before(e.CreatedAt.Add(e.TTL))
}

// Scope holds the fields that disambiguate otherwise identical prompts.
type Scope map[string]string

// NewScope builds a scope from alternating field, value pairs.
// A trailing field without a value is ignored.
func NewScope(kv ...string) Scope {
	s := make(Scope, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		s[kv[i]] = kv[i+1]
	}
	return s
}

// With returns a copy of the scope with field set to value.
func (s Scope) With(field, value string) Scope {
	out := make(Scope, len(s)+1)
	for k, v := range s {
		out[k] = v
	}
	out[field] = value
	return out
}

// Equal reports whether both scopes hold exactly the same fields and values.
func (s Scope) Equal(other Scope) bool {
	if len(s) != len(other) {
		return false
	}
	for k, v := range s {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Contains reports whether every field of filter is present in s with the
// same value.
func (s Scope) Contains(filter Scope) bool {
	for k, v := range filter {
		if sv, ok := s[k]; !ok || sv != v {
			return false
		}
	}
	return true
}

// Fields returns the field names in sorted order.
func (s Scope) Fields() []string {
	fields := make([]string, 0, len(s))
	for k := range s {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// String returns a canonical "field=value" rendering with sorted fields.
func (s Scope) String() string {
	parts := make([]string, 0, len(s))
	for _, k := range s.Fields() {
		parts = append(parts, k+"="+s[k])
	}
	return strings.Join(parts, ",")
}

// SortedList renders values as a stable, order-independent scope value,
// e.g. a competitor list.
func SortedList(values []string) string {
	sorted := make([]string, len(values))
	copy(sorted, values)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// newID returns a time-ordered entry ID.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// exactKey is the in-process lookup key for a prompt and scope. Every
// field is length-prefixed so distinct scopes never share a key.
func exactKey(prompt string, scope Scope) string {
	var b strings.Builder
	for _, k := range scope.Fields() {
		writeField(&b, k)
		writeField(&b, scope[k])
	}
	b.WriteByte('|')
	writeField(&b, prompt)
	return b.String()
}

func writeField(b *strings.Builder, s string) {
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte(':')
	b.WriteString(s)
}
