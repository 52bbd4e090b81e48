package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const gameColumns = `id, name, description, all_reviews, release_date, developer, publisher, price`

// UpsertGames writes catalog rows, replacing any existing row with the same ID.
// Catalog population is done by external tooling; this is its entry point.
func (s *Store) UpsertGames(ctx context.Context, games []Game) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO games (`+gameColumns+`, embedding, embedding_name, embedding_description, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			all_reviews = excluded.all_reviews,
			release_date = excluded.release_date,
			developer = excluded.developer,
			publisher = excluded.publisher,
			price = excluded.price,
			embedding = excluded.embedding,
			embedding_name = excluded.embedding_name,
			embedding_description = excluded.embedding_description,
			updated_at = CURRENT_TIMESTAMP`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, g := range games {
		if g.ID == "" {
			tx.Rollback()
			return fmt.Errorf("game %q has no id", g.Name)
		}
		var released sql.NullString
		if g.ReleaseDate != nil {
			released = sql.NullString{String: g.ReleaseDate.Format(releaseDateLayout), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			g.ID, g.Name, g.Description, g.AllReviews, released, g.Developer, g.Publisher, g.Price,
			vectorArg(g.Embedding), vectorArg(g.NameEmbedding), vectorArg(g.DescriptionEmbedding),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("upserting game %s: %w", g.ID, err)
		}
	}
	return tx.Commit()
}

// GetGame returns a single game without its embeddings.
func (s *Store) GetGame(ctx context.Context, id string) (Game, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM games WHERE id = ?`, id)
	g, err := scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Game{}, ErrNotFound
	}
	return g, err
}

// GamesByIDs returns the projections (no embeddings) of the given games keyed
// by ID. Missing IDs are absent from the map.
func (s *Store) GamesByIDs(ctx context.Context, ids []string) (map[string]Game, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+gameColumns+` FROM games WHERE id IN (?`+strings.Repeat(",?", len(ids)-1)+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying games by id: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Game, len(ids))
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		out[g.ID] = g
	}
	return out, rows.Err()
}

// CountGames returns the number of catalog rows.
func (s *Store) CountGames(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM games").Scan(&n)
	return n, err
}

// ScanVectors streams (id, vector) pairs from one of the embedding columns.
// Rows with a NULL vector are skipped. The slice passed to fn is reused
// between calls.
func (s *Store) ScanVectors(ctx context.Context, column string, fn func(id string, vec []float32) error) error {
	switch column {
	case ColumnEmbedding, ColumnNameEmbedding, ColumnDescriptionEmbedding:
	default:
		return fmt.Errorf("unknown vector column %q", column)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, `+column+` FROM games WHERE `+column+` IS NOT NULL`)
	if err != nil {
		return fmt.Errorf("querying %s: %w", column, err)
	}
	defer rows.Close()

	var buf []float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return fmt.Errorf("scanning row: %w", err)
		}
		buf, err = DecodeVectorInto(buf, blob)
		if err != nil {
			return fmt.Errorf("decoding %s for %s: %w", column, id, err)
		}
		if err := fn(id, buf); err != nil {
			return err
		}
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGame(r rowScanner) (Game, error) {
	var g Game
	var released sql.NullString
	if err := r.Scan(&g.ID, &g.Name, &g.Description, &g.AllReviews, &released, &g.Developer, &g.Publisher, &g.Price); err != nil {
		return Game{}, err
	}
	// An unparseable date reads as absent.
	if released.Valid {
		if t, err := time.Parse(releaseDateLayout, released.String); err == nil {
			g.ReleaseDate = &t
		}
	}
	return g, nil
}

// vectorArg stores a missing embedding as NULL rather than an empty blob.
func vectorArg(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return EncodeVector(v)
}
