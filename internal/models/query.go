package models

import "fmt"

// DefaultLimit is the result limit the boundary layer applies when a
// request leaves it unset.
const DefaultLimit = 10

// SearchConstraints are the per-query parameters of a similarity search.
type SearchConstraints struct {
	Limit         int     `json:"limit,omitempty"`
	MinSimilarity float64 `json:"min_similarity,omitempty"`
	Category      string  `json:"category,omitempty"`
}

// Validate checks constraint ranges. The limit must already be set by the
// caller (handlers apply DefaultLimit for unset requests); a non-positive
// limit is rejected. maxLimit caps the limit when positive.
func (c *SearchConstraints) Validate(maxLimit int) error {
	if c.Limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d: %w", c.Limit, ErrInvalidArgument)
	}
	if maxLimit > 0 && c.Limit > maxLimit {
		c.Limit = maxLimit
	}
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		return fmt.Errorf("min_similarity must be in [0,1], got %g: %w", c.MinSimilarity, ErrInvalidArgument)
	}
	return nil
}

// Filter returns the record filter for these constraints, or nil when no
// category filter is set.
func (c *SearchConstraints) Filter() *RecordFilter {
	if c.Category == "" {
		return nil
	}
	return &RecordFilter{Category: c.Category}
}
