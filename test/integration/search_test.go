// Package integration provides end-to-end tests (requires real storage).
package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/okabe/omokage/internal/catalog"
	"github.com/okabe/omokage/internal/config"
	"github.com/okabe/omokage/internal/embedding"
	"github.com/okabe/omokage/internal/index"
	"github.com/okabe/omokage/internal/models"
	"github.com/okabe/omokage/internal/search"
	"github.com/okabe/omokage/internal/store"
)

func TestIntegration_IngestAndSearch(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Storage:   config.StorageConfig{Type: "sqlite", DatabasePath: filepath.Join(dir, "catalog.db")},
		Embedding: config.EmbeddingConfig{Provider: "mock", Dimensions: 16},
		Search:    config.SearchConfig{DefaultLimit: 10, MaxLimit: 100},
	}

	recordStore, err := store.NewStore(cfg.Storage.Type, cfg.Embedding.Dimensions, cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	defer recordStore.Close()

	embedder := embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	defer embedder.Close()

	idx := index.NewBruteForce(recordStore)
	ing := catalog.NewIngestor(idx, embedder, []string{".jpg"})
	orchestrator := search.NewOrchestrator(recordStore, idx, embedder, &cfg.Search, nil)
	ctx := context.Background()

	catalogRoot := filepath.Join(dir, "catalog")
	images := map[string][]byte{
		"shoes/boot.jpg":   []byte("boot image bytes"),
		"shoes/runner.jpg": []byte("runner image bytes"),
		"shirts/tee.jpg":   []byte("tee image bytes"),
	}
	for rel, data := range images {
		path := filepath.Join(catalogRoot, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			t.Fatal(err)
		}
	}

	n, err := ing.IngestDirectory(ctx, catalogRoot, true)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("ingested %d images, want 3", n)
	}

	// Searching with the boot image itself must return the boot first
	// with a perfect score.
	resp, err := orchestrator.SearchImage(ctx, images["shoes/boot.jpg"],
		&models.SearchConstraints{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Count < 1 {
		t.Fatal("no results")
	}
	top := resp.Results[0]
	if top.ProductName != "boot" || top.Category != "shoes" {
		t.Errorf("top result: %+v", top)
	}
	if top.SimilarityScore != 1.0 {
		t.Errorf("top score = %g, want 1", top.SimilarityScore)
	}

	// Category filter restricts results.
	resp, err = orchestrator.SearchImage(ctx, images["shoes/boot.jpg"],
		&models.SearchConstraints{Limit: 10, Category: "shirts"})
	if err != nil {
		t.Fatal(err)
	}
	for _, result := range resp.Results {
		if result.Category != "shirts" {
			t.Errorf("result outside category filter: %+v", result)
		}
	}

	// The catalog survives a store reopen.
	if err := recordStore.Close(); err != nil {
		t.Fatal(err)
	}
	reopened, err := store.NewStore(cfg.Storage.Type, cfg.Embedding.Dimensions, cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	size, err := reopened.Size(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if size != 3 {
		t.Errorf("records after reopen = %d, want 3", size)
	}
}
