// Package main is the Omokage CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/okabe/omokage/internal/catalog"
	"github.com/okabe/omokage/internal/cli"
	"github.com/okabe/omokage/internal/config"
	"github.com/okabe/omokage/internal/embedding"
	"github.com/okabe/omokage/internal/index"
	"github.com/okabe/omokage/internal/models"
	"github.com/okabe/omokage/internal/search"
	"github.com/okabe/omokage/internal/server"
	"github.com/okabe/omokage/internal/store"
	"github.com/okabe/omokage/internal/watcher"
	"github.com/okabe/omokage/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/omokage/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used, so that "omokage server" from the project dir uses the project's
// config (including debug). Returns the config and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "search":
		runSearch()
	case "ingest":
		runIngest()
	case "delete":
		runDelete()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("omokage version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (ingestion, watch events, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if cfg.Catalog.Watch && len(cfg.Catalog.Directories) > 0 {
		ing := components.Ingestor
		watchOpts := []watcher.Option{}
		if debugMode {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		watchSvc := watcher.New(
			cfg.Catalog.Directories,
			cfg.Catalog.Extensions,
			cfg.Catalog.RecursiveOrDefault(),
			func(root, path string) {
				if err := ing.IngestFile(context.Background(), root, path); err != nil {
					logger.Warn("watch ingest failed", zap.String("path", path), zap.Error(err))
				}
			},
			func(path string) {
				if err := ing.RemoveFile(context.Background(), path); err != nil {
					logger.Warn("watch remove failed", zap.String("path", path), zap.Error(err))
				}
			},
			watchOpts...,
		)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer watchSvc.Stop()
		watchSvc.SyncExisting()
	}

	srv := server.NewServer(components.Orchestrator, components.Store, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct mode)")
	serverURL := fs.String("server", "http://localhost:8000", "server URL (empty = use local components when server is not running)")
	limit := fs.Int("limit", 10, "number of results")
	minSimilarity := fs.Float64("min-similarity", 0, "minimum similarity score in [0,1]")
	category := fs.String("category", "", "restrict results to a category")
	outputFormat := fs.String("output", "text", "output format: text (human-readable) or json (parseable)")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: omokage search [flags] <image-file>")
		os.Exit(1)
	}
	imagePath := fs.Arg(0)

	format := cli.OutputText
	switch *outputFormat {
	case "json":
		format = cli.OutputJSON
	case "text":
		format = cli.OutputText
	default:
		fmt.Printf("Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}

	image, err := os.ReadFile(imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read image: %v\n", err)
		os.Exit(1)
	}

	constraints := &models.SearchConstraints{
		Limit:         *limit,
		MinSimilarity: *minSimilarity,
		Category:      *category,
	}

	if *serverURL != "" {
		// Use the HTTP API when the server is running (avoids SQLite lock conflict).
		response, err := searchViaHTTP(*serverURL, imagePath, image, constraints)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
		if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Direct access (when server is not running).
	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, cfg.Debug)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	response, err := components.Orchestrator.SearchImage(context.Background(), image, constraints)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// searchViaHTTP posts the image to /api/search-by-file as multipart form data.
func searchViaHTTP(serverURL, imagePath string, image []byte, constraints *models.SearchConstraints) (*models.SearchResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(imagePath))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(image); err != nil {
		return nil, err
	}
	_ = mw.WriteField("limit", strconv.Itoa(constraints.Limit))
	_ = mw.WriteField("min_similarity", strconv.FormatFloat(constraints.MinSimilarity, 'f', -1, 64))
	if constraints.Category != "" {
		_ = mw.WriteField("category", constraints.Category)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	resp, err := http.Post(serverURL+"/api/search-by-file", mw.FormDataContentType(), &body)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var response models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: omokage ingest [flags] <image-or-directory>")
		os.Exit(1)
	}
	path := fs.Arg(0)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, cfg.Debug)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	ctx := context.Background()
	info, err := os.Stat(path)
	if err != nil {
		fmt.Printf("Failed to stat path: %v\n", err)
		os.Exit(1)
	}
	if info.IsDir() {
		n, err := components.Ingestor.IngestDirectory(ctx, path, cfg.Catalog.RecursiveOrDefault())
		if err != nil {
			fmt.Printf("Ingesting directory failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Ingested %d image(s) from %s\n", n, path)
		return
	}
	root := filepath.Dir(path)
	if err := components.Ingestor.IngestFile(ctx, root, path); err != nil {
		fmt.Printf("Ingesting failed: %v\n", err)
		os.Exit(1)
	}
	absPath, _ := filepath.Abs(path)
	fmt.Printf("Image ingested successfully: %s\n", catalog.ImageID(absPath))
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: omokage delete [flags] <product-id>")
		os.Exit(1)
	}
	productID := fs.Arg(0)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, cfg.Debug)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	if err := components.Index.Remove(context.Background(), []string{productID}); err != nil {
		fmt.Printf("Deletion failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Product deleted: %s\n", productID)
}

// statusConfigResponse holds configuration info returned by status.
type statusConfigResponse struct {
	IndexType           string `json:"index_type"`
	StoreType           string `json:"store_type"`
	EmbeddingProvider   string `json:"embedding_provider"`
	EmbeddingDimensions int    `json:"embedding_dimensions,omitempty"`
	DatabasePath        string `json:"database_path,omitempty"`
}

// statusResponse is the shape of GET /api/status.
type statusResponse struct {
	Records   int                   `json:"records"`
	IndexSize int                   `json:"index_size"`
	Config    *statusConfigResponse `json:"config,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct mode)")
	serverURL := fs.String("server", "http://localhost:8000", "server URL (empty = use local components)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status statusResponse
	if *serverURL != "" {
		res, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = *res
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger, err := utils.NewLogger(cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger, cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer components.Close()
		ctx := context.Background()
		recordCount, err := components.Store.Size(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Count records failed: %v\n", err)
			os.Exit(1)
		}
		indexSize, err := components.Index.Size(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Index size failed: %v\n", err)
			os.Exit(1)
		}
		status = statusResponse{
			Records:   recordCount,
			IndexSize: indexSize,
			Config: &statusConfigResponse{
				IndexType:           cfg.Index.Type,
				StoreType:           cfg.Storage.Type,
				EmbeddingProvider:   cfg.Embedding.Provider,
				EmbeddingDimensions: cfg.Embedding.Dimensions,
				DatabasePath:        cfg.Storage.DatabasePath,
			},
		}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Printf("records:     %d   # products in the catalog store\n", status.Records)
		fmt.Printf("index_size:  %d   # vectors in the similarity index\n", status.IndexSize)
		if status.Config != nil {
			fmt.Println()
			fmt.Println("# configuration")
			fmt.Printf("index_type:          %s\n", status.Config.IndexType)
			fmt.Printf("store_type:          %s\n", status.Config.StoreType)
			fmt.Printf("embedding_provider:  %s\n", status.Config.EmbeddingProvider)
			if status.Config.EmbeddingDimensions > 0 {
				fmt.Printf("embedding_dims:      %d\n", status.Config.EmbeddingDimensions)
			}
			if status.Config.DatabasePath != "" {
				fmt.Printf("database_path:       %s\n", status.Config.DatabasePath)
			}
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := http.Get(serverURL + "/api/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

// Components holds initialized services.
type Components struct {
	Store        store.Store
	Embedder     embedding.Embedder
	Index        index.Index
	Orchestrator *search.Orchestrator
	Ingestor     *catalog.Ingestor
}

func (c *Components) Close() {
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Index != nil {
		_ = c.Index.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	recordStore, err := store.NewStore(cfg.Storage.Type, cfg.Embedding.Dimensions, cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	embedder, err := embedding.NewEmbedder(&cfg.Embedding)
	if err != nil {
		_ = recordStore.Close()
		return nil, fmt.Errorf("failed to initialize embedder %q: %w", cfg.Embedding.Provider, err)
	}

	idx, err := index.New(cfg.Index.Type, recordStore, index.QdrantOptions{
		Host:       cfg.Index.Qdrant.Host,
		Port:       cfg.Index.Qdrant.Port,
		Collection: cfg.Index.Qdrant.Collection,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize index: %w", err)
	}
	if cfg.Index.Type == string(index.IndexTypeQdrant) {
		n, syncErr := catalog.SyncIndex(context.Background(), recordStore, idx)
		if syncErr != nil {
			if logger != nil {
				logger.Warn("index sync failed", zap.Error(syncErr))
			}
		} else if logger != nil {
			logger.Info("index synced from store", zap.Int("records", n))
		}
	}

	orchestrator := search.NewOrchestrator(recordStore, idx, embedder, &cfg.Search, logger)

	ingOpts := []catalog.IngestorOption{}
	if debug && logger != nil {
		ingOpts = append(ingOpts, catalog.WithLogger(logger))
	}
	ing := catalog.NewIngestor(idx, embedder, cfg.Catalog.Extensions, ingOpts...)

	return &Components{
		Store:        recordStore,
		Embedder:     embedder,
		Index:        idx,
		Orchestrator: orchestrator,
		Ingestor:     ing,
	}, nil
}

func printUsage() {
	fmt.Println(`omokage - Visual product matcher

Usage:
  omokage server [flags]            Start the HTTP server
  omokage search [flags] <image>    Find products similar to an image
  omokage ingest [flags] <path>     Ingest an image or directory into the catalog
  omokage delete [flags] <id>       Delete a product
  omokage status [flags]            Show store/index status
  omokage version                   Show version
  omokage help                      Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/omokage/config.yaml)
  --debug            Enable debug logging (ingestion, watch events, etc.)

Search Flags:
  --config string          Config file path (for direct mode)
  --server string          Server URL (default: http://localhost:8000). Use empty (--server "") for direct access when server is not running.
  --limit int              Number of results (default: 10)
  --min-similarity float   Minimum similarity score in [0,1] (default: 0)
  --category string        Restrict results to a category
  --output string          Output format: text or json (default: text)

Ingest Flags:
  --config string    Config file path

Status Flags:
  --config string    Config file path (for direct mode)
  --server string    Server URL (default: http://localhost:8000). Use empty (--server "") for direct access.
  --output string    Output format: text or json

Examples:
  omokage server
  omokage search query.jpg
  omokage search --category shirts --limit 5 query.jpg
  omokage search --output json query.jpg     # structured JSON for other apps
  omokage ingest ./catalog/shirts
  omokage delete img:3f7a...
  omokage status --output json`)
}
