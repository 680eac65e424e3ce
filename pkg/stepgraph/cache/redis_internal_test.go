package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSearchReply_RESP2(t *testing.T) {
	reply := []any{
		int64(2),
		"stepgraph:cache:a", []any{"prompt", "P", "response", "R", "scope", `{"node":"x"}`},
		"stepgraph:cache:b", []any{"prompt", "Q"},
	}
	docs, err := parseSearchReply(reply)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "stepgraph:cache:a", docs[0].Key)
	assert.Equal(t, "R", docs[0].Fields["response"])

	e, err := docEntry(docs[0], "stepgraph:cache:")
	require.NoError(t, err)
	assert.Equal(t, "a", e.ID)
	assert.Equal(t, Scope{"node": "x"}, e.Scope)
}

func TestParseSearchReply_RESP2NoContent(t *testing.T) {
	docs, err := parseSearchReply([]any{int64(2), "k1", "k2"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "k2", docs[1].Key)
}

func TestParseSearchReply_RESP3(t *testing.T) {
	reply := map[any]any{
		"total_results": int64(1),
		"results": []any{
			map[any]any{
				"id":               "stepgraph:cache:a",
				"extra_attributes": map[any]any{"prompt": "P", "distance": "0.01"},
			},
		},
	}
	docs, err := parseSearchReply(reply)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "0.01", docs[0].Fields["distance"])
}

func TestTagQuery(t *testing.T) {
	opts := RedisOptions{ScopeFields: []string{"feature", "node"}}

	q, err := tagQuery(opts, Scope{"node": "draft-1", "feature": "a b"})
	require.NoError(t, err)
	assert.Equal(t, `@scope_feature:{a\ b} @scope_node:{draft\-1}`, q)

	q, err = tagQuery(opts, nil)
	require.NoError(t, err)
	assert.Equal(t, "*", q)

	_, err = tagQuery(opts, Scope{"other": "x"})
	assert.ErrorIs(t, err, ErrUnindexedScope)
}

func TestExactQuery(t *testing.T) {
	opts := RedisOptions{ScopeFields: []string{"node"}}
	hash := promptHash("the quick fox")

	q, err := exactQuery(opts, "the quick fox", Scope{"node": "draft"})
	require.NoError(t, err)
	assert.Equal(t, "@prompt_hash:{"+hash+"} @scope_node:{draft}", q)

	q, err = exactQuery(opts, "the quick fox", nil)
	require.NoError(t, err)
	assert.Equal(t, "@prompt_hash:{"+hash+"}", q)

	other, err := exactQuery(opts, "the quick foxes", nil)
	require.NoError(t, err)
	assert.NotEqual(t, q, other)

	_, err = exactQuery(opts, "P", Scope{"feature": "a"})
	assert.ErrorIs(t, err, ErrUnindexedScope)
}

func TestVectorBytes(t *testing.T) {
	b := vectorBytes([]float64{1, 0})
	assert.Equal(t, []byte{0, 0, 0x80, 0x3f, 0, 0, 0, 0}, b)
}
