// Package catalog ingests product images into the record store and
// similarity index. Indexing is an offline/administrative operation; the
// search path never writes.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/okabe/omokage/internal/embedding"
	"github.com/okabe/omokage/internal/index"
	"github.com/okabe/omokage/internal/models"
	"github.com/okabe/omokage/internal/store"
)

const idPrefix = "img:"

// ImageID returns a stable record ID for the given absolute image path.
// Same path always yields the same ID, so re-ingesting upserts.
func ImageID(absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(normalized))
	return idPrefix + hex.EncodeToString(hash[:])
}

// Ingestor embeds catalog images and writes them to the similarity index.
type Ingestor struct {
	index      index.Index
	embedder   embedding.Embedder
	extensions []string
	logger     *zap.Logger
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor)

// WithLogger sets a logger for debug output (image ingested, record removed).
func WithLogger(l *zap.Logger) IngestorOption {
	return func(in *Ingestor) { in.logger = l }
}

// NewIngestor creates an ingestor. extensions filter which files are
// treated as catalog images (empty = all).
func NewIngestor(idx index.Index, embedder embedding.Embedder, extensions []string, opts ...IngestorOption) *Ingestor {
	in := &Ingestor{index: idx, embedder: embedder, extensions: extensions}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// IngestFile embeds one image and upserts its record. The product
// category is the image's directory relative to root (first path
// segment); the name is the file name without extension.
func (in *Ingestor) IngestFile(ctx context.Context, root, path string) error {
	if !in.matchesExtension(path) {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read image %s: %w", path, err)
	}
	vector, err := in.embedder.Embed(ctx, data)
	if err != nil {
		return fmt.Errorf("embed image %s: %v: %w", path, err, models.ErrEmbeddingFailure)
	}

	record := &models.Record{
		ID:     ImageID(path),
		Vector: vector,
		Payload: models.Payload{
			models.FieldProductID:   ImageID(path),
			models.FieldProductName: productName(path),
			models.FieldCategory:    categoryOf(root, path),
			models.FieldImageURL:    path,
		},
	}
	if err := in.index.Upsert(ctx, []*models.Record{record}); err != nil {
		return err
	}
	if in.logger != nil {
		in.logger.Debug("image ingested",
			zap.String("path", path),
			zap.String("category", record.Payload.Category()),
		)
	}
	return nil
}

// IngestDirectory walks root and ingests every matching image. Returns
// the number of images ingested; the first error stops the walk.
func (in *Ingestor) IngestDirectory(ctx context.Context, root string, recursive bool) (int, error) {
	count := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !recursive && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if !in.matchesExtension(path) {
			return nil
		}
		if err := in.IngestFile(ctx, root, path); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("ingest directory %s: %w", root, err)
	}
	return count, nil
}

// RemoveFile deletes the record for an image path. Already-absent
// records are not an error.
func (in *Ingestor) RemoveFile(ctx context.Context, path string) error {
	if err := in.index.Remove(ctx, []string{ImageID(path)}); err != nil {
		return err
	}
	if in.logger != nil {
		in.logger.Debug("image removed", zap.String("path", path))
	}
	return nil
}

func (in *Ingestor) matchesExtension(path string) bool {
	if len(in.extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range in.extensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

func productName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// categoryOf derives the category from the first directory segment under
// root, or "uncategorized" for images directly in the root.
func categoryOf(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "uncategorized"
	}
	dir := filepath.Dir(rel)
	if dir == "." {
		return "uncategorized"
	}
	parts := strings.Split(dir, string(filepath.Separator))
	return parts[0]
}

// SyncIndex replays every record in the store into the index. Used at
// startup with a remote index backend so the collection catches up with
// the persistent catalog.
func SyncIndex(ctx context.Context, recordStore store.Store, idx index.Index) (int, error) {
	records, err := recordStore.Scan(ctx, nil)
	if err != nil {
		return 0, err
	}
	const batchSize = 256
	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		if err := idx.Upsert(ctx, records[start:end]); err != nil {
			return start, err
		}
	}
	return len(records), nil
}
