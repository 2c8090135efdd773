package search

import (
	"fmt"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

const defaultLimit = 20

// Search runs queryStr against the index. The query accepts the advanced
// syntax understood by QueryParser.
func (b *Index) Search(queryStr string, opts Options) (*Result, error) {
	start := time.Now()

	parsed, err := NewQueryParser().ParseAdvancedQuery(queryStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse query: %w", err)
	}
	if opts.Fuzzy && queryStr != "" {
		fuzzy := bleve.NewFuzzyQuery(queryStr)
		fuzzy.Fuzziness = 1
		parsed = bleve.NewDisjunctionQuery(parsed, fuzzy)
	}

	must := []query.Query{parsed}
	if len(opts.Types) > 0 {
		types := make([]query.Query, 0, len(opts.Types))
		for _, t := range opts.Types {
			termQuery := bleve.NewTermQuery(t)
			termQuery.SetField("type")
			types = append(types, termQuery)
		}
		must = append(must, bleve.NewDisjunctionQuery(types...))
	}
	must = append(must, NewQueryParser().ParseFilters(opts.Filters)...)

	var q query.Query = parsed
	if len(must) > 1 {
		q = bleve.NewConjunctionQuery(must...)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	req := bleve.NewSearchRequestOptions(q, limit, opts.Offset, false)
	req.Fields = []string{"*"}
	if opts.Highlight {
		req.Highlight = bleve.NewHighlight()
	}
	for _, field := range opts.Facets {
		req.AddFacet(field, bleve.NewFacetRequest(field, 10))
	}

	b.mu.RLock()
	res, err := b.index.Search(req)
	b.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	result := &Result{
		Query:     queryStr,
		TotalHits: int(res.Total),
		Hits:      make([]Hit, 0, len(res.Hits)),
		TimeMs:    time.Since(start).Milliseconds(),
	}
	for _, h := range res.Hits {
		docType, id, err := ParseDocID(h.ID)
		if err != nil {
			continue
		}
		hit := Hit{
			ID:       h.ID,
			Type:     docType,
			EntityID: id,
			Score:    h.Score,
			Fields:   h.Fields,
		}
		if len(h.Fragments) > 0 {
			hit.Highlights = h.Fragments
		}
		result.Hits = append(result.Hits, hit)
	}

	if len(res.Facets) > 0 {
		result.Facets = make(map[string][]FacetValue, len(res.Facets))
		for name, facet := range res.Facets {
			var values []FacetValue
			if facet.Terms != nil {
				for _, term := range facet.Terms.Terms() {
					values = append(values, FacetValue{Value: term.Term, Count: term.Count})
				}
			}
			result.Facets[name] = values
		}
	}

	return result, nil
}
