package retrieval

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/kalambet/gamerec/internal/storage"
)

func openTestCatalog(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *storage.Store, games ...storage.Game) {
	t.Helper()
	if err := s.UpsertGames(context.Background(), games); err != nil {
		t.Fatalf("UpsertGames: %v", err)
	}
}

func defaultQuery(vec []float32, limit int) VectorQuery {
	return VectorQuery{Index: IndexDefault, Path: storage.ColumnEmbedding, Vector: vec, NumCandidates: 400, Limit: limit}
}

func TestSearch_RanksByCosine(t *testing.T) {
	cat := openTestCatalog(t)
	seed(t, cat,
		storage.Game{ID: "far", Name: "Far", Embedding: []float32{0, 1}},
		storage.Game{ID: "exact", Name: "Exact", Embedding: []float32{1, 0}},
		storage.Game{ID: "near", Name: "Near", Embedding: []float32{0.9, 0.1}},
	)
	s := NewSQLiteStore(cat)

	got, err := s.Search(context.Background(), defaultQuery([]float32{1, 0}, 3))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	assertIDs(t, got, "exact", "near", "far")
	if got[0].Score < 0.99 {
		t.Errorf("top score = %f, want ~1", got[0].Score)
	}
	for _, g := range got {
		if g.Embedding != nil || g.NameEmbedding != nil || g.DescriptionEmbedding != nil {
			t.Errorf("result %s carries embeddings", g.ID)
		}
	}
}

func TestSearch_Limit(t *testing.T) {
	cat := openTestCatalog(t)
	var games []storage.Game
	for i := 0; i < 20; i++ {
		games = append(games, storage.Game{
			ID:        fmt.Sprintf("g%02d", i),
			Name:      fmt.Sprintf("Game %d", i),
			Embedding: []float32{1, float32(i) * 0.1},
		})
	}
	seed(t, cat, games...)

	got, err := NewSQLiteStore(cat).Search(context.Background(), defaultQuery([]float32{1, 0}, 5))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	assertIDs(t, got, "g00", "g01", "g02", "g03", "g04")
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Fatalf("results not sorted by score: %v", got)
		}
	}
}

func TestSearch_SeparateIndexes(t *testing.T) {
	cat := openTestCatalog(t)
	seed(t, cat,
		storage.Game{ID: "a", Name: "A", Embedding: []float32{1, 0}, NameEmbedding: []float32{0, 1}},
		storage.Game{ID: "b", Name: "B", Embedding: []float32{0, 1}, NameEmbedding: []float32{1, 0}},
	)
	s := NewSQLiteStore(cat)

	got, err := s.Search(context.Background(), VectorQuery{
		Index: IndexName, Path: storage.ColumnNameEmbedding, Vector: []float32{1, 0}, NumCandidates: 1, Limit: 1,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	assertIDs(t, got, "b")

	got, err = s.Search(context.Background(), VectorQuery{
		Index: IndexDescription, Path: storage.ColumnDescriptionEmbedding, Vector: []float32{1, 0}, NumCandidates: 5, Limit: 5,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("description index has no vectors, got %d results", len(got))
	}
}

func TestSearch_InvalidQuery(t *testing.T) {
	s := NewSQLiteStore(openTestCatalog(t))
	tests := []struct {
		name    string
		q       VectorQuery
		wantErr string
	}{
		{"unknown index", VectorQuery{Index: "nope", Path: storage.ColumnEmbedding, Vector: []float32{1}, NumCandidates: 1, Limit: 1}, "unknown index"},
		{"path mismatch", VectorQuery{Index: IndexName, Path: storage.ColumnEmbedding, Vector: []float32{1}, NumCandidates: 1, Limit: 1}, "built over"},
		{"zero limit", defaultQuery([]float32{1}, 0), "limit must be positive"},
		{"pool smaller than limit", VectorQuery{Index: IndexDefault, Path: storage.ColumnEmbedding, Vector: []float32{1}, NumCandidates: 2, Limit: 3}, "numCandidates"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Search(context.Background(), tt.q)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestSearch_ZeroVector(t *testing.T) {
	cat := openTestCatalog(t)
	seed(t, cat, storage.Game{ID: "a", Name: "A", Embedding: []float32{1, 0}})
	got, err := NewSQLiteStore(cat).Search(context.Background(), defaultQuery([]float32{0, 0}, 3))
	if err != nil || got != nil {
		t.Errorf("Search(zero) = %v, %v; want nil, nil", got, err)
	}
}

func TestCosine(t *testing.T) {
	a := []float32{3, 4}
	tests := []struct {
		name string
		b    []float32
		want float32
	}{
		{"identical", []float32{3, 4}, 1},
		{"orthogonal", []float32{-4, 3}, 0},
		{"opposite", []float32{-3, -4}, -1},
		{"dimension mismatch", []float32{1, 2, 3}, 0},
		{"zero", []float32{0, 0}, 0},
	}
	for _, tt := range tests {
		got := cosine(a, tt.b, norm(a))
		if diff := got - tt.want; diff > 1e-6 || diff < -1e-6 {
			t.Errorf("%s: cosine = %f, want %f", tt.name, got, tt.want)
		}
	}
}
