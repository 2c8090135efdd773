package search

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

const taxonomySearchLimit = 50

// Taxon is one node of the taxonomy tree.
type Taxon struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	ParentID string   `json:"parent_id,omitempty"`
	Matched  bool     `json:"matched,omitempty"`
	Children []*Taxon `json:"children,omitempty"`
}

type taxonDoc struct {
	Name string `json:"name"`
}

// TaxonomyService answers organism name lookups against a taxonomy loaded
// from a tab separated file of taxon_id, name and parent_id.
type TaxonomyService struct {
	index bleve.Index
	taxa  map[string]*Taxon
}

// LoadTaxonomy reads the taxonomy file at path.
func LoadTaxonomy(path string) (*TaxonomyService, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open taxonomy: %w", err)
	}
	defer f.Close()
	return NewTaxonomyService(f)
}

// NewTaxonomyService builds the service from TSV rows read from r. Lines
// starting with '#' are comments. A parent_id equal to the taxon's own id,
// or empty, marks a root.
func NewTaxonomyService(r io.Reader) (*TaxonomyService, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	indexMapping := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("name", createTextFieldMapping())
	indexMapping.DefaultMapping = docMapping

	index, err := bleve.NewMemOnly(indexMapping)
	if err != nil {
		return nil, fmt.Errorf("failed to create taxonomy index: %w", err)
	}

	s := &TaxonomyService{
		index: index,
		taxa:  make(map[string]*Taxon),
	}

	batch := index.NewBatch()
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("taxonomy line %d: %w", line, err)
		}
		if len(record) < 2 {
			return nil, fmt.Errorf("taxonomy line %d: expected taxon_id, name and parent_id", line)
		}

		t := &Taxon{
			ID:   strings.TrimSpace(record[0]),
			Name: strings.TrimSpace(record[1]),
		}
		if len(record) > 2 {
			t.ParentID = strings.TrimSpace(record[2])
		}
		if t.ParentID == t.ID {
			t.ParentID = ""
		}
		s.taxa[t.ID] = t

		if err := batch.Index(t.ID, taxonDoc{Name: t.Name}); err != nil {
			return nil, fmt.Errorf("taxonomy line %d: %w", line, err)
		}
		if batch.Size() >= rebuildBatchSize {
			if err := index.Batch(batch); err != nil {
				return nil, fmt.Errorf("failed to index taxonomy: %w", err)
			}
			batch = index.NewBatch()
		}
	}
	if err := index.Batch(batch); err != nil {
		return nil, fmt.Errorf("failed to index taxonomy: %w", err)
	}

	return s, nil
}

// Len returns the number of taxa loaded.
func (s *TaxonomyService) Len() int {
	return len(s.taxa)
}

// Search finds taxa whose name matches term and returns them together with
// their ancestors, arranged as trees from the roots down.
func (s *TaxonomyService) Search(term string) ([]*Taxon, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, nil
	}

	lower := strings.ToLower(term)
	match := bleve.NewMatchQuery(term)
	match.SetField("name")
	match.Operator = query.MatchQueryOperatorAnd
	prefix := bleve.NewPrefixQuery(lower)
	prefix.SetField("name")

	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(match, prefix), taxonomySearchLimit, 0, false)
	res, err := s.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("taxonomy search failed: %w", err)
	}

	matched := make(map[string]bool, len(res.Hits))
	for _, h := range res.Hits {
		matched[h.ID] = true
	}
	return s.tree(matched), nil
}

// tree copies the matched taxa and all their ancestors into a forest.
func (s *TaxonomyService) tree(matched map[string]bool) []*Taxon {
	nodes := make(map[string]*Taxon)
	var roots []*Taxon

	var visit func(id string) *Taxon
	visit = func(id string) *Taxon {
		if n, ok := nodes[id]; ok {
			return n
		}
		src, ok := s.taxa[id]
		if !ok {
			return nil
		}
		n := &Taxon{ID: src.ID, Name: src.Name, ParentID: src.ParentID, Matched: matched[id]}
		nodes[id] = n

		parent := visit(src.ParentID)
		if parent == nil {
			roots = append(roots, n)
		} else {
			parent.Children = append(parent.Children, n)
		}
		return n
	}

	ids := make([]string, 0, len(matched))
	for id := range matched {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		visit(id)
	}

	sortTaxa(roots)
	return roots
}

func sortTaxa(taxa []*Taxon) {
	sort.Slice(taxa, func(i, j int) bool { return taxa[i].Name < taxa[j].Name })
	for _, t := range taxa {
		sortTaxa(t.Children)
	}
}

// Close releases the taxonomy index.
func (s *TaxonomyService) Close() error {
	return s.index.Close()
}
