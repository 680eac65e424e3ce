package cache

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/cloudwego/eino/components/embedding"
)

// Embedder turns prompts into vectors for the similarity backends.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// EmbedderFunc adapts a plain function to Embedder.
type EmbedderFunc func(ctx context.Context, texts []string) ([][]float64, error)

// Embed implements Embedder.
func (f EmbedderFunc) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	return f(ctx, texts)
}

// einoEmbedder adapts an eino embedding component.
type einoEmbedder struct {
	inner embedding.Embedder
}

// EinoEmbedder wraps an eino embedder (OpenAI, Ark, Ollama, ...) so it can
// back a similarity cache.
func EinoEmbedder(e embedding.Embedder) Embedder {
	return &einoEmbedder{inner: e}
}

// Embed implements Embedder.
func (e *einoEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	vectors, err := e.inner.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed strings: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embed strings: got %d vectors for %d texts", len(vectors), len(texts))
	}
	return vectors, nil
}

var errZeroVector = errors.New("zero-length embedding")

// embedOne embeds a single prompt.
func embedOne(ctx context.Context, e Embedder, text string) ([]float64, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, errZeroVector
	}
	return vectors[0], nil
}

// cosineDistance returns 1 - cosine similarity, in [0, 2].
// Vectors of different length or zero magnitude are maximally distant.
func cosineDistance(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
