package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/okabe/omokage/internal/models"
)

// SQLiteStore is a persistent record store backed by SQLite. Vectors are
// stored as little-endian float32 blobs and payloads as JSON. The
// category payload field is duplicated into its own indexed column so
// filtered scans do not parse every payload.
type SQLiteStore struct {
	db         *sql.DB
	dimensions int
	writeMu    sync.Mutex
}

// NewSQLiteStore opens or creates the database at dbPath and initializes
// the schema. Parent directories are created if missing.
func NewSQLiteStore(dbPath string, dimensions int) (*SQLiteStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d: %w", dimensions, models.ErrInvalidArgument)
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db, dimensions: dimensions}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		vector BLOB NOT NULL,
		payload TEXT,
		category TEXT,
		seq INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_records_category ON records(category);
	CREATE INDEX IF NOT EXISTS idx_records_seq ON records(seq);
	`
	_, err := db.Exec(schema)
	return err
}

// Put inserts or replaces the record by ID. An upsert keeps the record's
// original scan position.
func (s *SQLiteStore) Put(ctx context.Context, record *models.Record) error {
	if len(record.Vector) != s.dimensions {
		return fmt.Errorf("record %q: got %d, expected %d: %w",
			record.ID, len(record.Vector), s.dimensions, models.ErrDimensionMismatch)
	}
	payloadJSON, err := json.Marshal(record.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (id, vector, payload, category, seq)
		 VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM records))
		 ON CONFLICT(id) DO UPDATE SET vector = excluded.vector,
		 payload = excluded.payload, category = excluded.category`,
		record.ID, vectorToBytes(record.Vector), string(payloadJSON), record.Payload.Category(),
	)
	if err != nil {
		return fmt.Errorf("failed to put record %q: %w", record.ID, err)
	}
	return nil
}

// Get returns the record by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Record, error) {
	var vectorBlob []byte
	var payloadJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT vector, payload FROM records WHERE id = ?`, id,
	).Scan(&vectorBlob, &payloadJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %q: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %q: %w", id, err)
	}
	return decodeRecord(id, vectorBlob, payloadJSON)
}

// Delete removes the record by ID.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete record %q: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete record %q: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("record %q: %w", id, models.ErrNotFound)
	}
	return nil
}

// Scan returns all records matching filter in insertion order. A category
// filter is evaluated in SQL against the indexed category column. The SQL
// snapshot semantics of a single SELECT give scan-start consistency.
func (s *SQLiteStore) Scan(ctx context.Context, filter *models.RecordFilter) ([]*models.Record, error) {
	query := `SELECT id, vector, payload FROM records ORDER BY seq`
	var args []any
	if filter != nil && filter.Category != "" {
		query = `SELECT id, vector, payload FROM records WHERE category = ? ORDER BY seq`
		args = append(args, filter.Category)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan records: %w", err)
	}
	defer rows.Close()

	var out []*models.Record
	for rows.Next() {
		var id string
		var vectorBlob []byte
		var payloadJSON string
		if err := rows.Scan(&id, &vectorBlob, &payloadJSON); err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		record, err := decodeRecord(id, vectorBlob, payloadJSON)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan records: %w", err)
	}
	return out, nil
}

// Size returns the record count.
func (s *SQLiteStore) Size(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// Dimensions returns the fixed vector dimensionality.
func (s *SQLiteStore) Dimensions() int {
	return s.dimensions
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func decodeRecord(id string, vectorBlob []byte, payloadJSON string) (*models.Record, error) {
	record := &models.Record{ID: id, Vector: bytesToVector(vectorBlob)}
	if payloadJSON != "" && payloadJSON != "null" {
		if err := json.Unmarshal([]byte(payloadJSON), &record.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload for %q: %w", id, err)
		}
	}
	return record, nil
}

func vectorToBytes(v []float32) []byte {
	const size = 4
	out := make([]byte, len(v)*size)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(f))
	}
	return out
}

func bytesToVector(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
