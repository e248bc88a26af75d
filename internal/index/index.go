// Package index provides similarity index implementations and a factory
// for creating them.
package index

import (
	"context"
	"fmt"

	"github.com/okabe/omokage/internal/models"
	"github.com/okabe/omokage/internal/store"
)

// Hit is a single similarity query result: the matching record and its
// raw (unrounded) cosine similarity in [0,1].
type Hit struct {
	Record *models.Record
	Score  float64
}

// Index answers top-k cosine similarity queries against the record store.
// Queries are pure reads and safe to run concurrently. Results are
// deterministic: score descending, ties broken by ID ascending, so an
// identical query against an unmodified store returns identical results.
type Index interface {
	// Upsert writes records through to the store (and any remote backend).
	Upsert(ctx context.Context, records []*models.Record) error
	// Remove deletes records by ID. Missing IDs are ignored.
	Remove(ctx context.Context, ids []string) error
	// Query returns at most k hits with score >= minSimilarity, restricted
	// to records matching filter (nil = no filter). An empty result is not
	// an error. Fails with models.ErrDimensionMismatch for a query vector
	// of the wrong length and models.ErrInvalidArgument for k < 1 or
	// minSimilarity outside [0,1].
	Query(ctx context.Context, vector []float32, k int, minSimilarity float64, filter *models.RecordFilter) ([]*Hit, error)
	// Size returns the number of indexed records.
	Size(ctx context.Context) (int, error)
	Close() error
}

// IndexType selects the similarity index backend.
type IndexType string

const (
	// IndexTypeBrute scans the store exhaustively per query. Exact results;
	// O(N*D) per query, fine for catalogs up to a few hundred thousand vectors.
	IndexTypeBrute IndexType = "brute"
	// IndexTypeQdrant delegates nearest-neighbor search to a Qdrant server.
	IndexTypeQdrant IndexType = "qdrant"
)

// QdrantOptions configure the qdrant backend.
type QdrantOptions struct {
	Host       string
	Port       int
	Collection string
}

// New creates a similarity index of the given type over the record store.
func New(indexType string, recordStore store.Store, qdrant QdrantOptions) (Index, error) {
	switch IndexType(indexType) {
	case IndexTypeBrute, "":
		return NewBruteForce(recordStore), nil
	case IndexTypeQdrant:
		return NewQdrant(recordStore, qdrant)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: brute, qdrant)", indexType)
	}
}

func validateQuery(vector []float32, dimensions, k int, minSimilarity float64) error {
	if len(vector) != dimensions {
		return fmt.Errorf("query vector: got %d, expected %d: %w",
			len(vector), dimensions, models.ErrDimensionMismatch)
	}
	if k < 1 {
		return fmt.Errorf("k must be at least 1, got %d: %w", k, models.ErrInvalidArgument)
	}
	if minSimilarity < 0 || minSimilarity > 1 {
		return fmt.Errorf("min similarity must be in [0,1], got %g: %w", minSimilarity, models.ErrInvalidArgument)
	}
	return nil
}
