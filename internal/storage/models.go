package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Game is one catalog row. Embeddings are only populated on write paths;
// reads used for recommendations leave them nil.
type Game struct {
	ID          string
	Name        string
	Description string
	AllReviews  string
	ReleaseDate *time.Time // nil when the catalog has no date
	Developer   string
	Publisher   string
	Price       string // raw, may carry a currency symbol

	Embedding            []float32
	NameEmbedding        []float32
	DescriptionEmbedding []float32
}

// Vector columns, one per similarity index.
const (
	ColumnEmbedding            = "embedding"
	ColumnNameEmbedding        = "embedding_name"
	ColumnDescriptionEmbedding = "embedding_description"
)

// releaseDateLayout is how release dates are stored in TEXT columns.
const releaseDateLayout = "2006-01-02"
