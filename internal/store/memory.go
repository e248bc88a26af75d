package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/okabe/omokage/internal/models"
)

// MemoryStore is an in-memory record store. Records are kept in insertion
// order, which Scan preserves; an upsert keeps the original position.
type MemoryStore struct {
	dimensions int
	order      []string
	records    map[string]*models.Record
	mu         sync.RWMutex
}

// NewMemoryStore creates an in-memory store for vectors of the given dimension.
func NewMemoryStore(dimensions int) (*MemoryStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d: %w", dimensions, models.ErrInvalidArgument)
	}
	return &MemoryStore{
		dimensions: dimensions,
		records:    make(map[string]*models.Record),
	}, nil
}

// Put inserts or replaces the record by ID.
func (s *MemoryStore) Put(ctx context.Context, record *models.Record) error {
	if len(record.Vector) != s.dimensions {
		return fmt.Errorf("record %q: got %d, expected %d: %w",
			record.ID, len(record.Vector), s.dimensions, models.ErrDimensionMismatch)
	}
	stored := record.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.ID]; !exists {
		s.order = append(s.order, record.ID)
	}
	s.records[record.ID] = stored
	return nil
}

// Get returns a copy of the record by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("record %q: %w", id, models.ErrNotFound)
	}
	return record.Clone(), nil
}

// Delete removes the record by ID.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("record %q: %w", id, models.ErrNotFound)
	}
	delete(s.records, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Scan returns a snapshot of all records matching filter, in insertion order.
// The snapshot is taken under the read lock; concurrent writes do not
// affect an in-progress scan.
func (s *MemoryStore) Scan(ctx context.Context, filter *models.RecordFilter) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Record, 0, len(s.order))
	for _, id := range s.order {
		record := s.records[id]
		if !filter.Match(record.Payload) {
			continue
		}
		out = append(out, record.Clone())
	}
	return out, nil
}

// Size returns the record count.
func (s *MemoryStore) Size(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Dimensions returns the fixed vector dimensionality.
func (s *MemoryStore) Dimensions() int {
	return s.dimensions
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}
