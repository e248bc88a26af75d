package index

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/okabe/omokage/internal/models"
	"github.com/okabe/omokage/internal/store"
)

func newTestIndex(t *testing.T, dimensions int) (*BruteForce, store.Store) {
	t.Helper()
	s, err := store.NewMemoryStore(dimensions)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return NewBruteForce(s), s
}

func record(id string, vector []float32, category string) *models.Record {
	return &models.Record{
		ID:     id,
		Vector: vector,
		Payload: models.Payload{
			models.FieldProductID: id,
			models.FieldCategory:  category,
		},
	}
}

func TestBruteForce_Ranking(t *testing.T) {
	idx, _ := newTestIndex(t, 2)
	ctx := context.Background()
	err := idx.Upsert(ctx, []*models.Record{
		record("A", []float32{1, 0}, "shirt"),
		record("B", []float32{0, 1}, "shirt"),
		record("C", []float32{0.9, 0.1}, "shoes"),
	})
	if err != nil {
		t.Fatal(err)
	}

	hits, err := idx.Query(ctx, []float32{1, 0}, 2, 0.5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].Record.ID != "A" || hits[1].Record.ID != "C" {
		t.Errorf("order: got %q, %q; want A, C", hits[0].Record.ID, hits[1].Record.ID)
	}
	if math.Abs(hits[0].Score-1.0) > 1e-6 {
		t.Errorf("A score = %g, want 1", hits[0].Score)
	}
	wantC := 0.9 / math.Sqrt(0.82)
	if math.Abs(hits[1].Score-wantC) > 1e-4 {
		t.Errorf("C score = %g, want %g", hits[1].Score, wantC)
	}
}

func TestBruteForce_CategoryFilter(t *testing.T) {
	idx, _ := newTestIndex(t, 2)
	ctx := context.Background()
	err := idx.Upsert(ctx, []*models.Record{
		record("A", []float32{1, 0}, "shirt"),
		record("B", []float32{0, 1}, "shirt"),
		record("C", []float32{0.9, 0.1}, "shoes"),
	})
	if err != nil {
		t.Fatal(err)
	}

	// B is dissimilar but the only shirt besides A; the filter applies
	// before ranking, not after.
	hits, err := idx.Query(ctx, []float32{0, 1}, 10, 0, &models.RecordFilter{Category: "shirt"})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	for _, hit := range hits {
		if hit.Record.Payload.Category() != "shirt" {
			t.Errorf("hit %q has category %q", hit.Record.ID, hit.Record.Payload.Category())
		}
	}
	if hits[0].Record.ID != "B" {
		t.Errorf("top hit = %q, want B", hits[0].Record.ID)
	}

	hits, err = idx.Query(ctx, []float32{1, 0}, 10, 0, &models.RecordFilter{Category: "hats"})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("empty category match should return no hits, got %d", len(hits))
	}
}

func TestBruteForce_MinSimilarityIsRawScore(t *testing.T) {
	idx, _ := newTestIndex(t, 2)
	ctx := context.Background()
	// C scores ~0.99388; a threshold just above keeps only exact matches.
	err := idx.Upsert(ctx, []*models.Record{
		record("A", []float32{1, 0}, ""),
		record("C", []float32{0.9, 0.1}, ""),
	})
	if err != nil {
		t.Fatal(err)
	}
	hits, err := idx.Query(ctx, []float32{1, 0}, 10, 0.995, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Record.ID != "A" {
		t.Fatalf("got %d hits, want only A", len(hits))
	}
}

func TestBruteForce_TieBreakByID(t *testing.T) {
	idx, _ := newTestIndex(t, 2)
	ctx := context.Background()
	// Insert out of ID order; identical vectors score identically.
	err := idx.Upsert(ctx, []*models.Record{
		record("z", []float32{1, 0}, ""),
		record("a", []float32{1, 0}, ""),
		record("m", []float32{1, 0}, ""),
	})
	if err != nil {
		t.Fatal(err)
	}
	hits, err := idx.Query(ctx, []float32{1, 0}, 10, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a", "m", "z"}
	if len(hits) != len(want) {
		t.Fatalf("got %d hits, want %d", len(hits), len(want))
	}
	for i, hit := range hits {
		if hit.Record.ID != want[i] {
			t.Errorf("position %d: got %q, want %q", i, hit.Record.ID, want[i])
		}
	}
}

func TestBruteForce_QueryValidation(t *testing.T) {
	idx, _ := newTestIndex(t, 2)
	ctx := context.Background()

	_, err := idx.Query(ctx, []float32{1, 0, 0}, 10, 0, nil)
	if !errors.Is(err, models.ErrDimensionMismatch) {
		t.Errorf("wrong dimensions: expected ErrDimensionMismatch, got %v", err)
	}
	_, err = idx.Query(ctx, []float32{1, 0}, 0, 0, nil)
	if !errors.Is(err, models.ErrInvalidArgument) {
		t.Errorf("k=0: expected ErrInvalidArgument, got %v", err)
	}
	_, err = idx.Query(ctx, []float32{1, 0}, 10, -0.5, nil)
	if !errors.Is(err, models.ErrInvalidArgument) {
		t.Errorf("negative min similarity: expected ErrInvalidArgument, got %v", err)
	}
	_, err = idx.Query(ctx, []float32{1, 0}, 10, 1.5, nil)
	if !errors.Is(err, models.ErrInvalidArgument) {
		t.Errorf("min similarity > 1: expected ErrInvalidArgument, got %v", err)
	}
}

func TestBruteForce_ZeroVectorRecordScoresZero(t *testing.T) {
	idx, _ := newTestIndex(t, 2)
	ctx := context.Background()
	err := idx.Upsert(ctx, []*models.Record{
		record("zero", []float32{0, 0}, ""),
		record("A", []float32{1, 0}, ""),
	})
	if err != nil {
		t.Fatal(err)
	}
	// The degenerate record must not fail the query; it just ranks last.
	hits, err := idx.Query(ctx, []float32{1, 0}, 10, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[1].Record.ID != "zero" || hits[1].Score != 0 {
		t.Errorf("zero-vector record: got %q score %g", hits[1].Record.ID, hits[1].Score)
	}
}

func TestBruteForce_EmptyStore(t *testing.T) {
	idx, _ := newTestIndex(t, 2)
	hits, err := idx.Query(context.Background(), []float32{1, 0}, 10, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("empty store should return no hits, got %d", len(hits))
	}
}

func TestBruteForce_UpsertReplaces(t *testing.T) {
	idx, s := newTestIndex(t, 2)
	ctx := context.Background()
	if err := idx.Upsert(ctx, []*models.Record{record("A", []float32{1, 0}, "shirt")}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Upsert(ctx, []*models.Record{record("A", []float32{0, 1}, "shoes")}); err != nil {
		t.Fatal(err)
	}
	size, _ := s.Size(ctx)
	if size != 1 {
		t.Errorf("size after upsert = %d, want 1", size)
	}
	hits, err := idx.Query(ctx, []float32{0, 1}, 1, 0.9, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Record.Payload.Category() != "shoes" {
		t.Fatalf("upsert did not replace record: %+v", hits)
	}
}

func TestBruteForce_RemoveIgnoresMissing(t *testing.T) {
	idx, s := newTestIndex(t, 2)
	ctx := context.Background()
	if err := idx.Upsert(ctx, []*models.Record{record("A", []float32{1, 0}, "")}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Remove(ctx, []string{"A", "missing"}); err != nil {
		t.Fatalf("remove with missing ID should not fail: %v", err)
	}
	size, _ := s.Size(ctx)
	if size != 0 {
		t.Errorf("size after remove = %d, want 0", size)
	}
}

func TestBruteForce_QueryIsRepeatable(t *testing.T) {
	idx, _ := newTestIndex(t, 2)
	ctx := context.Background()
	err := idx.Upsert(ctx, []*models.Record{
		record("A", []float32{1, 0}, ""),
		record("B", []float32{0.5, 0.5}, ""),
		record("C", []float32{0.9, 0.1}, ""),
	})
	if err != nil {
		t.Fatal(err)
	}
	first, err := idx.Query(ctx, []float32{1, 0}, 3, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := idx.Query(ctx, []float32{1, 0}, 3, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Record.ID != second[i].Record.ID || first[i].Score != second[i].Score {
			t.Errorf("position %d differs: %q/%g vs %q/%g",
				i, first[i].Record.ID, first[i].Score, second[i].Record.ID, second[i].Score)
		}
	}
}

func TestNew_Factory(t *testing.T) {
	s, _ := store.NewMemoryStore(2)
	defer s.Close()

	idx, err := New("brute", s, QdrantOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := idx.(*BruteForce); !ok {
		t.Errorf("got %T, want *BruteForce", idx)
	}

	if _, err := New("bogus", s, QdrantOptions{}); err == nil {
		t.Error("expected error for unknown index type")
	}
}
