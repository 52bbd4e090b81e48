package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// EmbeddingBackend produces a vector for text with a named model.
type EmbeddingBackend interface {
	Embed(ctx context.Context, model string, text string) ([]float32, error)
}

// Embedder is the single entry point for turning query text into a vector.
type Embedder struct {
	backend EmbeddingBackend
	model   string
	cache   EmbeddingCache
}

// EmbedderOption configures an Embedder.
type EmbedderOption func(*Embedder)

// WithCache puts c in front of the backend. Cache failures are logged and
// otherwise ignored.
func WithCache(c EmbeddingCache) EmbedderOption {
	return func(e *Embedder) { e.cache = c }
}

func NewEmbedder(backend EmbeddingBackend, model string, opts ...EmbedderOption) *Embedder {
	e := &Embedder{backend: backend, model: model}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Embed returns the vector for text. Blank text yields (nil, nil) without a
// backend call; callers treat a nil vector as "nothing to search for".
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	key := e.cacheKey(text)
	if e.cache != nil {
		vec, err := e.cache.Get(ctx, key)
		switch {
		case err == nil:
			return vec, nil
		case !errors.Is(err, ErrCacheMiss):
			slog.Warn("embedding cache read failed", "error", err)
		}
	}

	vec, err := e.backend.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, key, vec); err != nil {
			slog.Warn("embedding cache write failed", "error", err)
		}
	}
	return vec, nil
}

func (e *Embedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + e.model + ":" + hex.EncodeToString(sum[:])
}
