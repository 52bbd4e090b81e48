package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/kalambet/gamerec/internal/storage"
)

type mockVectorStore struct {
	calls    int
	lastQ    VectorQuery
	searchFn func(ctx context.Context, q VectorQuery) ([]ScoredGame, error)
}

func (m *mockVectorStore) Search(ctx context.Context, q VectorQuery) ([]ScoredGame, error) {
	m.calls++
	m.lastQ = q
	return m.searchFn(ctx, q)
}

type mockEmbedder struct {
	lastText string
	vec      []float32
	err      error
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.lastText = text
	return m.vec, m.err
}

func fixedResults(games ...storage.Game) func(context.Context, VectorQuery) ([]ScoredGame, error) {
	return func(context.Context, VectorQuery) ([]ScoredGame, error) {
		out := make([]ScoredGame, len(games))
		for i, g := range games {
			out[i] = ScoredGame{Game: g, Score: 1 - float32(i)*0.01}
		}
		return out, nil
	}
}

func TestSearchFiltered_QueryShape(t *testing.T) {
	store := &mockVectorStore{searchFn: fixedResults()}
	emb := &mockEmbedder{vec: []float32{1, 2}}
	r := NewRetriever(emb, store, Options{})

	if _, err := r.SearchFiltered(context.Background(), "tactical football game", Criteria{}); err != nil {
		t.Fatalf("SearchFiltered: %v", err)
	}
	if emb.lastText != "tactical football game" {
		t.Errorf("embedded %q, want the full query", emb.lastText)
	}
	q := store.lastQ
	if q.Index != IndexDefault || q.Path != storage.ColumnEmbedding {
		t.Errorf("index/path = %s/%s", q.Index, q.Path)
	}
	if q.NumCandidates != 400 || q.Limit != 100 {
		t.Errorf("pool = %d/%d, want 400/100", q.NumCandidates, q.Limit)
	}
}

func TestSearchFiltered_ConfigurableLimit(t *testing.T) {
	store := &mockVectorStore{searchFn: fixedResults()}
	r := NewRetriever(&mockEmbedder{vec: []float32{1}}, store, Options{Limit: 25})
	r.SearchFiltered(context.Background(), "q", Criteria{})
	if store.lastQ.Limit != 25 || store.lastQ.NumCandidates != 400 {
		t.Errorf("pool = %d/%d, want 400/25", store.lastQ.NumCandidates, store.lastQ.Limit)
	}
}

func TestSearchFiltered_AppliesCriteria(t *testing.T) {
	store := &mockVectorStore{searchFn: fixedResults(
		storage.Game{ID: "1", ReleaseDate: date(2010)},
		storage.Game{ID: "2", ReleaseDate: date(2021)},
		storage.Game{ID: "3", ReleaseDate: date(2022)},
		storage.Game{ID: "4", ReleaseDate: date(2023)},
		storage.Game{ID: "5", ReleaseDate: date(2024)},
	)}
	r := NewRetriever(&mockEmbedder{vec: []float32{1}}, store, Options{})

	res, err := r.SearchFiltered(context.Background(), "q", Criteria{YearRange: yearRange(2020, 2024)})
	if err != nil {
		t.Fatalf("SearchFiltered: %v", err)
	}
	assertIDs(t, res.Games, "2", "3", "4")
	if res.FellBack || res.Strategy != StrategyFiltered {
		t.Errorf("result = %+v", res)
	}
}

func TestSearchFiltered_FallsBack(t *testing.T) {
	store := &mockVectorStore{searchFn: fixedResults(
		storage.Game{ID: "1", Price: "$60"},
		storage.Game{ID: "2", Price: "$70"},
		storage.Game{ID: "3", Price: "$80"},
		storage.Game{ID: "4", Price: "$90"},
	)}
	r := NewRetriever(&mockEmbedder{vec: []float32{1}}, store, Options{})

	res, err := r.SearchFiltered(context.Background(), "q", Criteria{PriceLimit: floatPtr(5)})
	if err != nil {
		t.Fatalf("SearchFiltered: %v", err)
	}
	assertIDs(t, res.Games, "1", "2", "3")
	if !res.FellBack {
		t.Error("FellBack = false, want true")
	}
}

func TestSearch_EmptyEmbeddingIsInvalid(t *testing.T) {
	store := &mockVectorStore{searchFn: fixedResults()}
	r := NewRetriever(&mockEmbedder{vec: nil}, store, Options{})

	_, err := r.SearchFiltered(context.Background(), "   ", Criteria{})
	if !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("SearchFiltered err = %v, want ErrInvalidQuery", err)
	}
	_, err = r.SearchByName(context.Background(), "")
	if !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("SearchByName err = %v, want ErrInvalidQuery", err)
	}
	_, err = r.SearchByDescription(context.Background(), "", Criteria{})
	if !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("SearchByDescription err = %v, want ErrInvalidQuery", err)
	}
	if store.calls != 0 {
		t.Errorf("store called %d times, want 0", store.calls)
	}
}

func TestSearch_PropagatesErrors(t *testing.T) {
	storeErr := errors.New("store unreachable")
	store := &mockVectorStore{searchFn: func(context.Context, VectorQuery) ([]ScoredGame, error) {
		return nil, storeErr
	}}
	r := NewRetriever(&mockEmbedder{vec: []float32{1}}, store, Options{})
	if _, err := r.SearchFiltered(context.Background(), "q", Criteria{}); !errors.Is(err, storeErr) {
		t.Errorf("err = %v, want store error", err)
	}

	embErr := errors.New("ollama down")
	r = NewRetriever(&mockEmbedder{err: embErr}, store, Options{})
	if _, err := r.SearchByName(context.Background(), "q"); !errors.Is(err, embErr) {
		t.Errorf("err = %v, want embed error", err)
	}
}

func TestSearchByName_TopOneNoFilter(t *testing.T) {
	store := &mockVectorStore{searchFn: fixedResults(
		storage.Game{ID: "best"},
		storage.Game{ID: "second"},
	)}
	r := NewRetriever(&mockEmbedder{vec: []float32{1}}, store, Options{})

	res, err := r.SearchByName(context.Background(), "Hollow Knight")
	if err != nil {
		t.Fatalf("SearchByName: %v", err)
	}
	assertIDs(t, res.Games, "best")
	if store.lastQ.Index != IndexName || store.lastQ.Path != storage.ColumnNameEmbedding {
		t.Errorf("index/path = %s/%s", store.lastQ.Index, store.lastQ.Path)
	}
}

func TestSearchByDescription_TopFiveWithFallback(t *testing.T) {
	var games []storage.Game
	for i := 0; i < 8; i++ {
		games = append(games, storage.Game{ID: string(rune('a' + i)), AllReviews: "Mixed"})
	}
	games[6].AllReviews = "Very Positive"
	store := &mockVectorStore{searchFn: fixedResults(games...)}
	r := NewRetriever(&mockEmbedder{vec: []float32{1}}, store, Options{})

	res, err := r.SearchByDescription(context.Background(), "q", Criteria{ReviewSentiment: "Positive"})
	if err != nil {
		t.Fatalf("SearchByDescription: %v", err)
	}
	assertIDs(t, res.Games, "g")
	if store.lastQ.Index != IndexDescription || store.lastQ.NumCandidates != 1000 || store.lastQ.Limit != 200 {
		t.Errorf("query = %+v", store.lastQ)
	}

	res, err = r.SearchByDescription(context.Background(), "q", Criteria{ReviewSentiment: "Negative"})
	if err != nil {
		t.Fatalf("SearchByDescription: %v", err)
	}
	assertIDs(t, res.Games, "a", "b", "c", "d", "e")
	if !res.FellBack {
		t.Error("FellBack = false, want true")
	}
}

func TestSearch_EmptyStore(t *testing.T) {
	store := &mockVectorStore{searchFn: fixedResults()}
	r := NewRetriever(&mockEmbedder{vec: []float32{1}}, store, Options{})
	res, err := r.SearchFiltered(context.Background(), "q", Criteria{PriceLimit: floatPtr(5)})
	if err != nil {
		t.Fatalf("SearchFiltered: %v", err)
	}
	if len(res.Games) != 0 || res.FellBack {
		t.Errorf("result = %+v, want empty without fallback", res)
	}
}

func TestNewRetriever_ClampsLimitToPool(t *testing.T) {
	r := NewRetriever(nil, nil, Options{NumCandidates: 50, Limit: 100})
	if r.opts.Limit != 50 {
		t.Errorf("Limit = %d, want clamped to 50", r.opts.Limit)
	}
}
