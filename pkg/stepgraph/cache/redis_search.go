package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Hash field names shared by the Redis backends.
const (
	fieldPrompt     = "prompt"
	fieldPromptHash = "prompt_hash"
	fieldResponse   = "response"
	fieldScope      = "scope"
	fieldCreatedAt  = "created_at"
	fieldTTL        = "ttl_ms"
	fieldEmbedding  = "embedding"
	scopeFieldPfx   = "scope_"
	distanceAlias   = "distance"
)

// RedisOptions configures the RediSearch-backed caches.
type RedisOptions struct {
	// Index is the RediSearch index name.
	Index string
	// Prefix is the key prefix of cache hashes; it must end with ':'.
	Prefix string
	// ScopeFields are the scope fields indexed as exact-match tags.
	// Queries on other fields fail with ErrUnindexedScope.
	ScopeFields []string
}

func (o RedisOptions) withDefaults(index, prefix string) RedisOptions {
	if o.Index == "" {
		o.Index = index
	}
	if o.Prefix == "" {
		o.Prefix = prefix
	}
	if !strings.HasSuffix(o.Prefix, ":") {
		o.Prefix += ":"
	}
	return o
}

// searchDoc is one FT.SEARCH hit.
type searchDoc struct {
	Key    string
	Fields map[string]string
}

// createIndex issues FT.CREATE, tolerating an existing index.
func createIndex(ctx context.Context, client redis.UniversalClient, opts RedisOptions, extra ...any) error {
	args := []any{"FT.CREATE", opts.Index, "ON", "HASH", "PREFIX", 1, opts.Prefix, "SCHEMA",
		fieldPrompt, "TEXT",
		fieldPromptHash, "TAG",
	}
	for _, f := range opts.ScopeFields {
		args = append(args, scopeFieldPfx+f, "TAG", "CASESENSITIVE")
	}
	args = append(args, extra...)

	if err := client.Do(ctx, args...).Err(); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "index already exists") {
			return nil
		}
		return fmt.Errorf("create index %s: %w", opts.Index, err)
	}
	return nil
}

// tagQuery builds the attribute filter for scope. An empty scope matches
// everything.
func tagQuery(opts RedisOptions, scope Scope) (string, error) {
	indexed := make(map[string]bool, len(opts.ScopeFields))
	for _, f := range opts.ScopeFields {
		indexed[f] = true
	}

	var parts []string
	for _, f := range scope.Fields() {
		if !indexed[f] {
			return "", fmt.Errorf("%w: %s", ErrUnindexedScope, f)
		}
		parts = append(parts, fmt.Sprintf("@%s%s:{%s}", scopeFieldPfx, f, escapeTag(scope[f])))
	}
	if len(parts) == 0 {
		return "*", nil
	}
	return strings.Join(parts, " "), nil
}

// escapeTag escapes RediSearch tag punctuation.
func escapeTag(v string) string {
	if v == "" {
		return `\ `
	}
	var b strings.Builder
	for _, r := range v {
		if r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r > 127 {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('\\')
		b.WriteRune(r)
	}
	return b.String()
}

// exactQuery selects entries by prompt hash and every scope field.
func exactQuery(opts RedisOptions, prompt string, scope Scope) (string, error) {
	tags, err := tagQuery(opts, scope)
	if err != nil {
		return "", err
	}
	query := fmt.Sprintf("@%s:{%s}", fieldPromptHash, promptHash(prompt))
	if tags != "*" {
		query += " " + tags
	}
	return query, nil
}

func promptHash(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// hashFields renders an entry as HSET arguments.
func hashFields(e *Entry, opts RedisOptions) ([]any, error) {
	scopeJSON, err := encodeScope(e.Scope)
	if err != nil {
		return nil, err
	}
	values := []any{
		fieldPrompt, e.Prompt,
		fieldPromptHash, promptHash(e.Prompt),
		fieldResponse, e.Response,
		fieldScope, scopeJSON,
		fieldCreatedAt, e.CreatedAt.UnixMilli(),
		fieldTTL, e.TTL.Milliseconds(),
	}
	for _, f := range opts.ScopeFields {
		if v, ok := e.Scope[f]; ok {
			values = append(values, scopeFieldPfx+f, v)
		}
	}
	return values, nil
}

// search runs FT.SEARCH and normalizes RESP2 and RESP3 replies.
func search(ctx context.Context, client redis.UniversalClient, args ...any) ([]searchDoc, error) {
	reply, err := client.Do(ctx, append([]any{"FT.SEARCH"}, args...)...).Result()
	if err != nil {
		return nil, err
	}
	return parseSearchReply(reply)
}

func parseSearchReply(reply any) ([]searchDoc, error) {
	switch r := reply.(type) {
	case []any:
		// RESP2: total, key1, [f, v, ...], key2, [f, v, ...]
		if len(r) == 0 {
			return nil, nil
		}
		var docs []searchDoc
		for i := 1; i < len(r); i++ {
			key, ok := r[i].(string)
			if !ok {
				return nil, fmt.Errorf("unexpected search key type %T", r[i])
			}
			doc := searchDoc{Key: key, Fields: map[string]string{}}
			if i+1 < len(r) {
				if pairs, ok := r[i+1].([]any); ok {
					for j := 0; j+1 < len(pairs); j += 2 {
						doc.Fields[toString(pairs[j])] = toString(pairs[j+1])
					}
					i++
				}
			}
			docs = append(docs, doc)
		}
		return docs, nil
	case map[any]any:
		// RESP3: {total_results, results: [{id, extra_attributes}]}
		results, _ := r["results"].([]any)
		docs := make([]searchDoc, 0, len(results))
		for _, item := range results {
			m, ok := item.(map[any]any)
			if !ok {
				continue
			}
			doc := searchDoc{Key: toString(m["id"]), Fields: map[string]string{}}
			if attrs, ok := m["extra_attributes"].(map[any]any); ok {
				for k, v := range attrs {
					doc.Fields[toString(k)] = toString(v)
				}
			}
			docs = append(docs, doc)
		}
		return docs, nil
	default:
		return nil, fmt.Errorf("unexpected search reply type %T", reply)
	}
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// docEntry rebuilds an Entry from a search hit.
func docEntry(doc searchDoc, prefix string) (*Entry, error) {
	scope, err := decodeScope(doc.Fields[fieldScope])
	if err != nil {
		return nil, err
	}
	created, _ := strconv.ParseInt(doc.Fields[fieldCreatedAt], 10, 64)
	ttl, _ := strconv.ParseInt(doc.Fields[fieldTTL], 10, 64)
	return &Entry{
		ID:        strings.TrimPrefix(doc.Key, prefix),
		Prompt:    doc.Fields[fieldPrompt],
		Scope:     scope,
		Response:  doc.Fields[fieldResponse],
		CreatedAt: unixMilli(created),
		TTL:       msDuration(ttl),
	}, nil
}

// vectorBytes packs a vector as little-endian float32, the layout RediSearch
// expects for FLOAT32 vector fields.
func vectorBytes(v []float64) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(f)))
	}
	return buf
}

// deleteMatching deletes every hash returned by query, one page at a time.
func deleteMatching(ctx context.Context, client redis.UniversalClient, opts RedisOptions, query string, filter Scope) error {
	const page = 500
	offset := 0
	for {
		docs, err := search(ctx, client, opts.Index, query,
			"RETURN", 1, fieldScope, "LIMIT", offset, page, "DIALECT", 2)
		if err != nil {
			return fmt.Errorf("search for delete: %w", err)
		}
		if len(docs) == 0 {
			return nil
		}
		var keys []string
		for _, d := range docs {
			scope, err := decodeScope(d.Fields[fieldScope])
			if err != nil || !scope.Contains(filter) {
				continue
			}
			keys = append(keys, d.Key)
		}
		if len(keys) > 0 {
			if err := client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete entries: %w", err)
			}
		}
		offset += len(docs) - len(keys)
		if len(docs) < page {
			return nil
		}
	}
}

// scopeQuery returns a tag query for filter restricted to indexed fields.
// Unindexed fields are re-checked by the caller against the stored scope.
func scopeQuery(opts RedisOptions, filter Scope) string {
	indexed := make(Scope, len(filter))
	for _, f := range opts.ScopeFields {
		if v, ok := filter[f]; ok {
			indexed[f] = v
		}
	}
	q, _ := tagQuery(opts, indexed)
	return q
}
