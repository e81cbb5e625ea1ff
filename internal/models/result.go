package models

import "time"

// SearchResult is a record hydrated from a vector hit.
type SearchResult struct {
	Record *Record `json:"record"`
	Score  float64 `json:"score"`
	Rank   int     `json:"rank"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Results []*SearchResult `json:"results"`
	Total   int             `json:"total"`
	// Dropped counts index hits whose record no longer exists in the store.
	Dropped   int    `json:"dropped,omitempty"`
	QueryTime int64  `json:"query_time_ms"`
	Query     string `json:"query"`
}

// RecordFailure is a per-record error collected during a rebuild.
type RecordFailure struct {
	ID    int64  `json:"id"`
	Error string `json:"error"`
}

// RebuildReport summarizes a full index rebuild.
type RebuildReport struct {
	ID          string          `json:"id"`
	Fingerprint string          `json:"fingerprint"`
	Total       int             `json:"total"`
	Indexed     int             `json:"indexed"`
	Failed      []RecordFailure `json:"failed,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	Duration    time.Duration   `json:"duration"`
}

// Partial reports whether some records could not be embedded.
func (r *RebuildReport) Partial() bool {
	return len(r.Failed) > 0
}

// IndexStats describes the semantic index for observability.
type IndexStats struct {
	Count       int    `json:"count"`
	Dim         int    `json:"dim"`
	Persisted   bool   `json:"persisted"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Provider    string `json:"provider"`
	Rebuilding  bool   `json:"rebuilding"`
	Path        string `json:"path,omitempty"`
}

// StoreStats describes the record store.
type StoreStats struct {
	Total          int64 `json:"total"`
	Notes          int64 `json:"notes"`
	Tasks          int64 `json:"tasks"`
	Resources      int64 `json:"resources"`
	CompletedTasks int64 `json:"completed_tasks"`
	PendingTasks   int64 `json:"pending_tasks"`
	DiskUsageBytes int64 `json:"disk_usage_bytes,omitempty"`
}
