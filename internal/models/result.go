package models

// SearchResult is a single similarity hit, derived fresh per query.
// Scores are rounded for presentation only; thresholding happens on the
// raw score before rounding.
type SearchResult struct {
	ProductID            string  `json:"product_id"`
	ProductName          string  `json:"product_name"`
	Category             string  `json:"category"`
	ImageURL             string  `json:"image_url"`
	SimilarityScore      float64 `json:"similarity_score"`
	SimilarityPercentage float64 `json:"similarity_percentage"`
}

// SearchResponse is the response for a similarity search request.
// Count always equals len(Results); an empty result set is a success,
// not an error.
type SearchResponse struct {
	Status      string          `json:"status"`
	Count       int             `json:"count"`
	Results     []*SearchResult `json:"results"`
	QueryTimeMs int64           `json:"query_time_ms"`
}
