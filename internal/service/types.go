package service

import (
	"time"
)

// SearchRequest represents a search request with all parameters
type SearchRequest struct {
	Query   string            `json:"query"`
	Types   []string          `json:"types,omitempty"` // project, sample
	Filters map[string]string `json:"filters,omitempty"`

	// Pagination
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`

	// Search options
	Fuzzy     bool `json:"fuzzy,omitempty"`
	Highlight bool `json:"highlight,omitempty"`
}

// SearchResponse represents search results
type SearchResponse struct {
	Query        string          `json:"query"`
	Results      []*SearchResult `json:"results"`
	TotalResults int             `json:"total_results"`
	TimeTaken    int64           `json:"time_taken_ms"`
}

// SearchResult is one readable project or sample.
type SearchResult struct {
	ID          int64                  `json:"id"`
	Type        string                 `json:"type"`
	Name        string                 `json:"name,omitempty"`
	Description string                 `json:"description,omitempty"`
	Organism    string                 `json:"organism,omitempty"`
	Score       float64                `json:"score,omitempty"`
	Fields      map[string]interface{} `json:"fields,omitempty"`
	Highlights  map[string][]string    `json:"highlights,omitempty"`
}

// ExportRequest for data export
type ExportRequest struct {
	ProjectID int64    `json:"project_id"`
	Format    string   `json:"format"` // json, jsonl, csv, tsv
	Fields    []string `json:"fields,omitempty"`
}

// IndexResponse for index operations
type IndexResponse struct {
	Status    string        `json:"status"`
	Documents int64         `json:"documents"`
	Duration  time.Duration `json:"duration"`
}
