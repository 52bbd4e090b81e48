package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) < 2 {
		t.Fatalf("expected at least two applied migrations, got %v", versions)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Fatalf("migrations not in ascending order: %v", versions)
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_games_name", "idx_games_release_date"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestParseMigrationVersion(t *testing.T) {
	v, err := parseMigrationVersion("012_add_things.sql")
	if err != nil {
		t.Fatalf("parseMigrationVersion: %v", err)
	}
	if v != 12 {
		t.Errorf("version = %d, want 12", v)
	}
	if _, err := parseMigrationVersion("games.sql"); err == nil {
		t.Error("expected error for file without version prefix")
	}
}

func TestUpsertAndGetGame(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	released := time.Date(2017, 3, 3, 0, 0, 0, 0, time.UTC)
	g := Game{
		ID:          "g1",
		Name:        "Breath of the Wild",
		Description: "Open-air adventure",
		AllReviews:  "Overwhelmingly Positive",
		ReleaseDate: &released,
		Developer:   "Nintendo EPD",
		Publisher:   "Nintendo",
		Price:       "$59.99",
		Embedding:   []float32{1, 0, 0},
	}
	if err := s.UpsertGames(ctx, []Game{g}); err != nil {
		t.Fatalf("UpsertGames: %v", err)
	}

	got, err := s.GetGame(ctx, "g1")
	if err != nil {
		t.Fatalf("GetGame: %v", err)
	}
	if got.Name != g.Name || got.Price != g.Price || got.Publisher != g.Publisher {
		t.Errorf("GetGame = %+v, want fields of %+v", got, g)
	}
	if got.ReleaseDate == nil || !got.ReleaseDate.Equal(released) {
		t.Errorf("ReleaseDate = %v, want %v", got.ReleaseDate, released)
	}
	if got.Embedding != nil {
		t.Error("GetGame should not return embeddings")
	}

	g.Price = "$19.99"
	if err := s.UpsertGames(ctx, []Game{g}); err != nil {
		t.Fatalf("second UpsertGames: %v", err)
	}
	n, err := s.CountGames(ctx)
	if err != nil {
		t.Fatalf("CountGames: %v", err)
	}
	if n != 1 {
		t.Errorf("CountGames = %d, want 1 after upsert of same id", n)
	}
	got, _ = s.GetGame(ctx, "g1")
	if got.Price != "$19.99" {
		t.Errorf("Price after update = %q, want $19.99", got.Price)
	}
}

func TestGetGame_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetGame(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpsertGames_RequiresID(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpsertGames(context.Background(), []Game{{Name: "no id"}}); err == nil {
		t.Fatal("expected error for game without id")
	}
}

func TestGetGame_MalformedReleaseDate(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.db.Exec(`INSERT INTO games (id, name, release_date) VALUES ('x', 'X', 'sometime soon')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	g, err := s.GetGame(context.Background(), "x")
	if err != nil {
		t.Fatalf("GetGame: %v", err)
	}
	if g.ReleaseDate != nil {
		t.Errorf("ReleaseDate = %v, want nil for unparseable date", g.ReleaseDate)
	}
}

func TestGamesByIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.UpsertGames(ctx, []Game{
		{ID: "a", Name: "A"},
		{ID: "b", Name: "B"},
		{ID: "c", Name: "C"},
	}); err != nil {
		t.Fatalf("UpsertGames: %v", err)
	}

	got, err := s.GamesByIDs(ctx, []string{"a", "c", "zzz"})
	if err != nil {
		t.Fatalf("GamesByIDs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got["a"].Name != "A" || got["c"].Name != "C" {
		t.Errorf("unexpected result: %+v", got)
	}

	empty, err := s.GamesByIDs(ctx, nil)
	if err != nil || empty != nil {
		t.Errorf("GamesByIDs(nil) = %v, %v; want nil, nil", empty, err)
	}
}

func TestScanVectors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.UpsertGames(ctx, []Game{
		{ID: "a", Name: "A", NameEmbedding: []float32{0.5, 0.25}},
		{ID: "b", Name: "B"},
	}); err != nil {
		t.Fatalf("UpsertGames: %v", err)
	}

	seen := map[string][]float32{}
	err := s.ScanVectors(ctx, ColumnNameEmbedding, func(id string, vec []float32) error {
		seen[id] = append([]float32(nil), vec...)
		return nil
	})
	if err != nil {
		t.Fatalf("ScanVectors: %v", err)
	}
	if len(seen) != 1 {
		t.Fatalf("scanned %d rows, want 1 (NULL vectors skipped)", len(seen))
	}
	if v := seen["a"]; len(v) != 2 || v[0] != 0.5 || v[1] != 0.25 {
		t.Errorf("vector = %v, want [0.5 0.25]", v)
	}
}

func TestScanVectors_UnknownColumn(t *testing.T) {
	s := openTestStore(t)
	err := s.ScanVectors(context.Background(), "name; DROP TABLE games", func(string, []float32) error { return nil })
	if err == nil {
		t.Fatal("expected error for unknown column")
	}
}

func TestDecodeVector_Corrupt(t *testing.T) {
	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for blob length not a multiple of 4")
	}
}

func TestEncodeDecodeVector(t *testing.T) {
	in := []float32{1.5, -2, 0, 3.25}
	out, err := DecodeVector(EncodeVector(in))
	if err != nil {
		t.Fatalf("DecodeVector: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("decoded %v, want %v", out, in)
		}
	}
}
