// Package cli provides CLI utilities for Omokage.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/okabe/omokage/internal/models"
)

// SearchOutputFormat is the format for search result output.
type SearchOutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText SearchOutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON SearchOutputFormat = "json"
)

// WriteSearchResults writes search results to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format SearchOutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(response)
	default:
		writeSearchResultsText(w, response)
		return nil
	}
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	fmt.Fprintf(w, "\nFound %d matches in %dms\n\n", response.Count, response.QueryTimeMs)
	for rank, result := range response.Results {
		writeOneResult(w, rank+1, result)
	}
}

func writeOneResult(w io.Writer, rank int, result *models.SearchResult) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Similarity: %.4f (%.2f%%)\n",
		rank, result.SimilarityScore, result.SimilarityPercentage)
	fmt.Fprintf(w, "ID: %s\n", result.ProductID)
	if result.ProductName != "" {
		fmt.Fprintf(w, "Name: %s\n", result.ProductName)
	}
	if result.Category != "" {
		fmt.Fprintf(w, "Category: %s\n", result.Category)
	}
	if result.ImageURL != "" {
		fmt.Fprintf(w, "Image: %s\n", result.ImageURL)
	}
	fmt.Fprintln(w)
}

// PrintSearchResults prints search results to stdout in text format (backward compatible).
func PrintSearchResults(response *models.SearchResponse) {
	_ = WriteSearchResults(os.Stdout, response, OutputText)
}

// Truncate truncates s to maxLen and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
