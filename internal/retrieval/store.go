package retrieval

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/kalambet/gamerec/internal/storage"
)

var _ VectorStore = (*SQLiteStore)(nil)

// SQLiteStore runs exact cosine search over the catalog's vector columns.
// The scan is brute force; a catalog in the hundreds of thousands of rows
// would want a real ANN index behind this same interface.
type SQLiteStore struct {
	store *storage.Store
}

func NewSQLiteStore(store *storage.Store) *SQLiteStore {
	return &SQLiteStore{store: store}
}

type idScore struct {
	ID    string
	Score float32
}

// Search scans q.Path for the q.Limit closest vectors, then loads the
// projections of the winners only.
func (s *SQLiteStore) Search(ctx context.Context, q VectorQuery) ([]ScoredGame, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}

	queryNorm := norm(q.Vector)
	if queryNorm == 0 {
		return nil, nil
	}

	h := &idScoreHeap{}
	err := s.store.ScanVectors(ctx, q.Path, func(id string, vec []float32) error {
		score := cosine(q.Vector, vec, queryNorm)
		if h.Len() < q.Limit {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", q.Path, err)
	}
	if h.Len() == 0 {
		return nil, nil
	}

	winners := make([]idScore, h.Len())
	ids := make([]string, h.Len())
	for i := len(winners) - 1; i >= 0; i-- {
		winners[i] = heap.Pop(h).(idScore)
		ids[i] = winners[i].ID
	}

	games, err := s.store.GamesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading top-%d games: %w", len(ids), err)
	}

	results := make([]ScoredGame, 0, len(winners))
	for _, w := range winners {
		g, ok := games[w.ID]
		if !ok {
			// Deleted between scan and fetch.
			continue
		}
		results = append(results, ScoredGame{Game: g, Score: w.Score})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine returns dot(a,b)/(|a||b|) given the precomputed |a|. Mismatched
// dimensions score 0.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	if bNormSq == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * math.Sqrt(bNormSq)))
}

// idScoreHeap is a min-heap on Score holding the current top-K.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
