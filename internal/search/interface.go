package search

import (
	"time"
)

// Options contains search parameters
type Options struct {
	Types     []string          // Restrict to document types (project, sample)
	Limit     int               // Maximum results to return
	Offset    int               // Pagination offset
	Filters   map[string]string // Field filters
	Facets    []string          // Facet fields to return
	Highlight bool              // Enable highlighting
	Fuzzy     bool              // Match terms within an edit distance
	NoCache   bool              // Bypass cache
}

// Result represents search results
type Result struct {
	Query     string                  `json:"query"`
	TotalHits int                     `json:"total_hits"`
	Hits      []Hit                   `json:"hits"`
	Facets    map[string][]FacetValue `json:"facets,omitempty"`
	TimeMs    int64                   `json:"time_ms"`
}

// Hit represents a single search result
type Hit struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"` // project, sample
	EntityID   int64                  `json:"entity_id"`
	Score      float64                `json:"score,omitempty"`
	Fields     map[string]interface{} `json:"fields"`
	Highlights map[string][]string    `json:"highlights,omitempty"`
}

// FacetValue represents a facet value and count
type FacetValue struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// IndexStats contains index statistics
type IndexStats struct {
	DocumentCount uint64    `json:"document_count"`
	Path          string    `json:"path,omitempty"`
	LastRebuild   time.Time `json:"last_rebuild,omitempty"`
	IsHealthy     bool      `json:"is_healthy"`
}
