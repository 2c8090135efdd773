package service

import (
	"context"
	"strings"
	"time"

	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/search"
	"github.com/nishad/seqlims/internal/security"
)

// maxScannedHits bounds how many index hits are checked for access when the
// caller cannot see everything.
const maxScannedHits = 1000

// SearchService searches projects and samples and drops hits the caller may
// not read.
type SearchService struct {
	*base
	manager  *search.Manager
	taxonomy *search.TaxonomyService
}

// Search performs a search using the search manager
func (s *SearchService) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	const op errors.Op = "service.SearchService.Search"

	p, err := security.RequirePrincipal(ctx, op)
	if err != nil {
		return nil, err
	}
	if s.manager == nil || !s.manager.Enabled() {
		return nil, errors.E(op, errors.KindSearch, "search is not enabled")
	}

	// Validate request
	if req.Limit <= 0 {
		req.Limit = 20
	}
	if req.Offset < 0 {
		req.Offset = 0
	}
	for _, t := range req.Types {
		if t != search.TypeProject && t != search.TypeSample {
			return nil, errors.E(op, errors.KindInvalidProperty, "unknown search type "+t)
		}
	}

	start := time.Now()
	opts := search.Options{
		Types:     req.Types,
		Filters:   req.Filters,
		Highlight: req.Highlight,
		Fuzzy:     req.Fuzzy,
	}
	if p.IsAdmin() {
		opts.Limit, opts.Offset = req.Limit, req.Offset
	} else {
		opts.Limit = maxScannedHits
	}

	result, err := s.manager.Search(req.Query, opts)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}

	resp := &SearchResponse{
		Query:        req.Query,
		Results:      make([]*SearchResult, 0, len(result.Hits)),
		TotalResults: result.TotalHits,
	}
	if p.IsAdmin() {
		for _, h := range result.Hits {
			resp.Results = append(resp.Results, toSearchResult(h))
		}
		resp.TimeTaken = time.Since(start).Milliseconds()
		return resp, nil
	}

	var readable []*SearchResult
	for _, h := range result.Hits {
		ok, err := s.canRead(ctx, p, h)
		if err != nil {
			return nil, errors.Wrap(op, err)
		}
		if ok {
			readable = append(readable, toSearchResult(h))
		}
	}
	resp.TotalResults = len(readable)
	if req.Offset < len(readable) {
		end := min(req.Offset+req.Limit, len(readable))
		resp.Results = append(resp.Results, readable[req.Offset:end]...)
	}
	resp.TimeTaken = time.Since(start).Milliseconds()
	return resp, nil
}

func (s *SearchService) canRead(ctx context.Context, p *security.Principal, h search.Hit) (bool, error) {
	switch h.Type {
	case search.TypeProject:
		return s.perms.CanReadProject(ctx, p, h.EntityID)
	case search.TypeSample:
		return s.perms.CanReadSample(ctx, p, h.EntityID)
	}
	return false, nil
}

func toSearchResult(h search.Hit) *SearchResult {
	r := &SearchResult{
		ID:         h.EntityID,
		Type:       h.Type,
		Score:      h.Score,
		Fields:     h.Fields,
		Highlights: h.Highlights,
	}
	if v, ok := h.Fields["name"].(string); ok {
		r.Name = v
	}
	if v, ok := h.Fields["organism"].(string); ok {
		r.Organism = v
	}
	if v, ok := h.Fields["description"].(string); ok {
		r.Description = v
	}
	return r
}

// Rebuild reindexes every project and sample. Admin only.
func (s *SearchService) Rebuild(ctx context.Context) (*IndexResponse, error) {
	const op errors.Op = "service.SearchService.Rebuild"

	if _, err := security.RequireAnyRole(ctx, op, models.RoleAdmin); err != nil {
		return nil, err
	}
	if s.manager == nil || !s.manager.Enabled() {
		return nil, errors.E(op, errors.KindSearch, "search is not enabled")
	}
	stats, err := s.manager.RebuildIndex(ctx, s.db)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	return &IndexResponse{
		Status:    "rebuilt",
		Documents: int64(stats.Projects + stats.Samples),
		Duration:  stats.Duration,
	}, nil
}

// Stats returns index statistics.
func (s *SearchService) Stats(ctx context.Context) (*search.IndexStats, error) {
	const op errors.Op = "service.SearchService.Stats"

	if _, err := security.RequirePrincipal(ctx, op); err != nil {
		return nil, err
	}
	if s.manager == nil {
		return &search.IndexStats{}, nil
	}
	stats, err := s.manager.GetStats()
	return stats, errors.Wrap(op, err)
}

// Taxonomy looks up organism names and returns the matching taxa with their
// ancestors.
func (s *SearchService) Taxonomy(ctx context.Context, term string) ([]*search.Taxon, error) {
	const op errors.Op = "service.SearchService.Taxonomy"

	if _, err := security.RequirePrincipal(ctx, op); err != nil {
		return nil, err
	}
	if s.taxonomy == nil {
		return nil, errors.E(op, errors.KindConfig, "no taxonomy is loaded")
	}
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, errors.E(op, errors.KindInvalidProperty, "searchTerm is required")
	}
	taxa, err := s.taxonomy.Search(term)
	if err != nil {
		return nil, errors.E(op, errors.KindSearch, err)
	}
	return taxa, nil
}
