package index

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/okabe/omokage/internal/models"
	"github.com/okabe/omokage/internal/store"
	"github.com/okabe/omokage/pkg/utils"
)

// BruteForce is an exact similarity index that scans the record store
// exhaustively per query. It holds no state of its own; the store
// snapshot taken at scan start is what the query ranks, so concurrent
// writes never affect an in-progress query.
type BruteForce struct {
	store store.Store
}

// NewBruteForce creates a brute-force index over the record store.
func NewBruteForce(recordStore store.Store) *BruteForce {
	return &BruteForce{store: recordStore}
}

// Upsert writes records through to the store.
func (b *BruteForce) Upsert(ctx context.Context, records []*models.Record) error {
	for _, record := range records {
		if err := b.store.Put(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes records by ID, ignoring IDs that are already absent.
func (b *BruteForce) Remove(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := b.store.Delete(ctx, id); err != nil && !isNotFound(err) {
			return err
		}
	}
	return nil
}

// Query scores every record passing filter by cosine similarity, keeps
// those at or above minSimilarity (raw score, before any rounding),
// orders by score descending with ties broken by ID ascending, and
// truncates to k. A record whose similarity is non-finite (zero-vector
// denominator) scores 0 instead of failing the whole query.
func (b *BruteForce) Query(ctx context.Context, vector []float32, k int, minSimilarity float64, filter *models.RecordFilter) ([]*Hit, error) {
	if err := validateQuery(vector, b.store.Dimensions(), k, minSimilarity); err != nil {
		return nil, err
	}
	records, err := b.store.Scan(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("store scan: %v: %w", err, models.ErrIndexFailure)
	}

	hits := make([]*Hit, 0, len(records))
	for _, record := range records {
		score := utils.Cosine(vector, record.Vector)
		if score < minSimilarity {
			continue
		}
		hits = append(hits, &Hit{Record: record, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Record.ID < hits[j].Record.ID
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Size returns the store record count.
func (b *BruteForce) Size(ctx context.Context) (int, error) {
	return b.store.Size(ctx)
}

// Close is a no-op; the store is owned by the caller.
func (b *BruteForce) Close() error {
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}
