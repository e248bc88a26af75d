// Package search provides the query orchestrator: the single entry point
// the boundary layer calls for similarity searches.
package search

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/okabe/omokage/internal/config"
	"github.com/okabe/omokage/internal/embedding"
	"github.com/okabe/omokage/internal/index"
	"github.com/okabe/omokage/internal/models"
	"github.com/okabe/omokage/internal/store"
)

// StatusSuccess is the response status for completed searches, including
// searches with zero results.
const StatusSuccess = "success"

// Orchestrator validates search requests, delegates to the similarity
// index, and formats ranked results. All collaborators are injected at
// construction; there is no global state.
type Orchestrator struct {
	store    store.Store
	index    index.Index
	embedder embedding.Embedder
	config   *config.SearchConfig
	logger   *zap.Logger
}

// NewOrchestrator creates an orchestrator with the given dependencies.
// logger may be nil.
func NewOrchestrator(
	recordStore store.Store,
	idx index.Index,
	embedder embedding.Embedder,
	cfg *config.SearchConfig,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:    recordStore,
		index:    idx,
		embedder: embedder,
		config:   cfg,
		logger:   logger,
	}
}

// Search runs a similarity query for an already-computed embedding.
// Thresholding happens on raw scores inside the index; scores are rounded
// half-up only here, at presentation time (4 decimals for the score,
// 2 for the percentage).
func (o *Orchestrator) Search(ctx context.Context, vector []float32, constraints *models.SearchConstraints) (*models.SearchResponse, error) {
	startTime := time.Now()
	if constraints == nil {
		constraints = &models.SearchConstraints{Limit: models.DefaultLimit}
	}
	if err := constraints.Validate(o.config.MaxLimit); err != nil {
		return nil, err
	}

	hits, err := o.index.Query(ctx, vector, constraints.Limit, constraints.MinSimilarity, constraints.Filter())
	if err != nil {
		return nil, err
	}

	response := &models.SearchResponse{
		Status:  StatusSuccess,
		Count:   len(hits),
		Results: make([]*models.SearchResult, 0, len(hits)),
	}
	for _, hit := range hits {
		payload := hit.Record.Payload
		score := roundTo(hit.Score, 4)
		response.Results = append(response.Results, &models.SearchResult{
			ProductID:            payload.String(models.FieldProductID),
			ProductName:          payload.String(models.FieldProductName),
			Category:             payload.Category(),
			ImageURL:             payload.String(models.FieldImageURL),
			SimilarityScore:      score,
			SimilarityPercentage: roundTo(score*100, 2),
		})
	}
	response.QueryTimeMs = time.Since(startTime).Milliseconds()

	o.logger.Debug("search completed",
		zap.Int("count", response.Count),
		zap.Int("limit", constraints.Limit),
		zap.Float64("min_similarity", constraints.MinSimilarity),
		zap.String("category", constraints.Category),
		zap.Int64("query_time_ms", response.QueryTimeMs),
	)
	return response, nil
}

// SearchImage embeds the image and runs Search with the resulting vector.
// An embedding failure is propagated as models.ErrEmbeddingFailure; no
// partial or zero vector is ever substituted.
func (o *Orchestrator) SearchImage(ctx context.Context, image []byte, constraints *models.SearchConstraints) (*models.SearchResponse, error) {
	vector, err := o.Embed(ctx, image)
	if err != nil {
		return nil, err
	}
	return o.Search(ctx, vector, constraints)
}

// Embed computes the embedding for an image via the injected provider.
func (o *Orchestrator) Embed(ctx context.Context, image []byte) ([]float32, error) {
	vector, err := o.embedder.Embed(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("embed image: %v: %w", err, models.ErrEmbeddingFailure)
	}
	return vector, nil
}

// Dimensions returns the embedding dimensionality served by the provider.
func (o *Orchestrator) Dimensions() int {
	return o.embedder.Dimensions()
}

// IndexSize returns the number of indexed records.
func (o *Orchestrator) IndexSize(ctx context.Context) (int, error) {
	return o.index.Size(ctx)
}

// roundTo rounds half-up (away from zero) to the given number of decimal
// places. Presentation only; thresholds compare unrounded scores.
func roundTo(v float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(v*factor) / factor
}
