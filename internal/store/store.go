// Package store defines the vector record store: immutable records held
// by ID with upsert, delete, and snapshot scans.
package store

import (
	"context"

	"github.com/okabe/omokage/internal/models"
)

// Store holds vector records. All vectors in a store share the
// dimensionality fixed at construction. Put has upsert semantics:
// re-inserting an existing ID replaces the prior record. Writes are
// serialized; reads see a consistent snapshot and never block writers
// beyond the snapshot copy.
type Store interface {
	// Put inserts or replaces the record by ID. Fails with
	// models.ErrDimensionMismatch when the vector length differs from the
	// store dimensionality.
	Put(ctx context.Context, record *models.Record) error
	// Get returns the record or models.ErrNotFound.
	Get(ctx context.Context, id string) (*models.Record, error)
	// Delete removes the record; models.ErrNotFound when absent.
	Delete(ctx context.Context, id string) error
	// Scan returns all records matching filter (nil matches everything) as
	// a snapshot taken at call time. Each call re-scans from the beginning.
	Scan(ctx context.Context, filter *models.RecordFilter) ([]*models.Record, error)
	// Size returns the current record count.
	Size(ctx context.Context) (int, error)
	// Dimensions returns the fixed vector dimensionality.
	Dimensions() int
	Close() error
}
