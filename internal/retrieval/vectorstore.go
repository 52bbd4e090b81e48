package retrieval

import (
	"context"
	"fmt"

	"github.com/kalambet/gamerec/internal/storage"
)

// Similarity indexes and the vector field each one is built over.
const (
	IndexDefault     = "default"
	IndexName        = "name_embed"
	IndexDescription = "des_embed"
)

var indexPaths = map[string]string{
	IndexDefault:     storage.ColumnEmbedding,
	IndexName:        storage.ColumnNameEmbedding,
	IndexDescription: storage.ColumnDescriptionEmbedding,
}

// PathForIndex returns the vector field an index was built over.
func PathForIndex(index string) (string, bool) {
	p, ok := indexPaths[index]
	return p, ok
}

// VectorQuery is one nearest-neighbour request. NumCandidates is the pool the
// backend may explore; Limit bounds what it returns.
type VectorQuery struct {
	Index         string
	Vector        []float32
	Path          string
	NumCandidates int
	Limit         int
}

func (q VectorQuery) validate() error {
	path, ok := indexPaths[q.Index]
	if !ok {
		return fmt.Errorf("unknown index %q", q.Index)
	}
	if q.Path != path {
		return fmt.Errorf("index %q is built over %q, not %q", q.Index, path, q.Path)
	}
	if q.Limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", q.Limit)
	}
	if q.NumCandidates < q.Limit {
		return fmt.Errorf("numCandidates (%d) must be >= limit (%d)", q.NumCandidates, q.Limit)
	}
	return nil
}

// ScoredGame is a catalog projection (no embeddings) with its similarity score.
type ScoredGame struct {
	storage.Game
	Score float32
}

// VectorStore answers nearest-neighbour queries over the catalog. Results are
// ordered by descending score and never carry embeddings.
type VectorStore interface {
	Search(ctx context.Context, q VectorQuery) ([]ScoredGame, error)
}
