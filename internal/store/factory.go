package store

import "fmt"

// StoreType selects the record store backend.
type StoreType string

const (
	// StoreTypeMemory keeps records in process memory. Lost on restart.
	StoreTypeMemory StoreType = "memory"
	// StoreTypeSQLite persists records so the catalog survives restarts
	// without re-embedding.
	StoreTypeSQLite StoreType = "sqlite"
)

// NewStore creates a record store of the given type. dbPath is only used
// for the sqlite backend.
func NewStore(storeType string, dimensions int, dbPath string) (Store, error) {
	switch StoreType(storeType) {
	case StoreTypeMemory, "":
		return NewMemoryStore(dimensions)
	case StoreTypeSQLite:
		return NewSQLiteStore(dbPath, dimensions)
	default:
		return nil, fmt.Errorf("unknown store type: %s (supported: memory, sqlite)", storeType)
	}
}
