package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrInvalidQuery means the query produced no embedding (blank text), so no
// search was attempted.
var ErrInvalidQuery = errors.New("invalid query")

// Result sizes per strategy.
const (
	FilteredTopK    = 3
	NameTopK        = 1
	DescriptionTopK = 5
)

// Strategy names, used in logs and metrics.
const (
	StrategyFiltered    = "filtered"
	StrategyName        = "name"
	StrategyDescription = "description"
)

// TextEmbedder turns query text into a vector; nil means empty input.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options sizes the candidate pools.
type Options struct {
	NumCandidates            int
	Limit                    int
	DescriptionNumCandidates int
	DescriptionLimit         int
}

// DefaultOptions mirrors the pools the catalog's indexes were tuned for.
func DefaultOptions() Options {
	return Options{
		NumCandidates:            400,
		Limit:                    100,
		DescriptionNumCandidates: 1000,
		DescriptionLimit:         200,
	}
}

// Result is what a retrieval strategy hands to response synthesis.
type Result struct {
	Strategy string
	Games    []ScoredGame
	// FellBack is set when the criteria matched nothing and Games holds the
	// unfiltered head of the ANN result instead.
	FellBack bool
}

// Retriever combines embedding, ANN search and post-filtering.
type Retriever struct {
	embedder TextEmbedder
	store    VectorStore
	opts     Options
}

func NewRetriever(embedder TextEmbedder, store VectorStore, opts Options) *Retriever {
	def := DefaultOptions()
	if opts.NumCandidates <= 0 {
		opts.NumCandidates = def.NumCandidates
	}
	if opts.Limit <= 0 {
		opts.Limit = def.Limit
	}
	if opts.Limit > opts.NumCandidates {
		opts.Limit = opts.NumCandidates
	}
	if opts.DescriptionNumCandidates <= 0 {
		opts.DescriptionNumCandidates = def.DescriptionNumCandidates
	}
	if opts.DescriptionLimit <= 0 {
		opts.DescriptionLimit = def.DescriptionLimit
	}
	if opts.DescriptionLimit > opts.DescriptionNumCandidates {
		opts.DescriptionLimit = opts.DescriptionNumCandidates
	}
	return &Retriever{embedder: embedder, store: store, opts: opts}
}

// SearchFiltered embeds the full user query, searches the general index and
// narrows the candidates with c.
func (r *Retriever) SearchFiltered(ctx context.Context, query string, c Criteria) (Result, error) {
	return r.search(ctx, StrategyFiltered, query, IndexDefault, r.opts.NumCandidates, r.opts.Limit, &c, FilteredTopK)
}

// SearchByName returns the single closest title.
func (r *Retriever) SearchByName(ctx context.Context, query string) (Result, error) {
	return r.search(ctx, StrategyName, query, IndexName, r.opts.NumCandidates, NameTopK, nil, NameTopK)
}

// SearchByDescription searches descriptions over a wider pool and narrows
// the candidates with c.
func (r *Retriever) SearchByDescription(ctx context.Context, query string, c Criteria) (Result, error) {
	return r.search(ctx, StrategyDescription, query, IndexDescription,
		r.opts.DescriptionNumCandidates, r.opts.DescriptionLimit, &c, DescriptionTopK)
}

func (r *Retriever) search(ctx context.Context, strategy, query, index string, candidates, limit int, c *Criteria, k int) (Result, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return Result{}, err
	}
	if vec == nil {
		return Result{}, ErrInvalidQuery
	}

	path, _ := PathForIndex(index)
	raw, err := r.store.Search(ctx, VectorQuery{
		Index:         index,
		Vector:        vec,
		Path:          path,
		NumCandidates: candidates,
		Limit:         limit,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%s search: %w", strategy, err)
	}

	res := Result{Strategy: strategy}
	if c == nil {
		res.Games = head(raw, k)
	} else {
		res.Games, res.FellBack = PostFilter(raw, *c, k)
	}

	slog.Debug("retrieval",
		"strategy", strategy,
		"candidates", len(raw),
		"returned", len(res.Games),
		"fell_back", res.FellBack,
	)
	return res, nil
}
