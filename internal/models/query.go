package models

import "fmt"

// SearchQuery is a semantic search request.
type SearchQuery struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
	// Threshold is the minimum cosine similarity; nil means the configured default.
	Threshold *float64 `json:"threshold,omitempty"`
}

// Validate checks the query and clamps Limit to (0, maxLimit], defaulting to defaultLimit.
func (q *SearchQuery) Validate(defaultLimit, maxLimit int) error {
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if maxLimit > 0 && q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	if q.Threshold != nil && (*q.Threshold < -1 || *q.Threshold > 1) {
		return fmt.Errorf("threshold must be within [-1, 1], got %v", *q.Threshold)
	}
	return nil
}

// ThresholdOr returns the query threshold or def when unset.
func (q *SearchQuery) ThresholdOr(def float64) float64 {
	if q.Threshold != nil {
		return *q.Threshold
	}
	return def
}
