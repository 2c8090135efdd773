package search

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/nishad/seqlims/internal/models"
)

// Document types stored in the index.
const (
	TypeProject = "project"
	TypeSample  = "sample"
)

// Index wraps the Bleve index of projects and samples.
type Index struct {
	index bleve.Index
	path  string
	mu    sync.RWMutex
}

// OpenIndex opens the index at indexPath, creating it when missing. An empty
// path keeps the index in memory.
func OpenIndex(indexPath string) (*Index, error) {
	if indexPath == "" {
		index, err := bleve.NewMemOnly(createIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory index: %w", err)
		}
		return &Index{index: index}, nil
	}

	index, err := bleve.Open(indexPath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		index, err = bleve.New(indexPath, createIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	return &Index{
		index: index,
		path:  indexPath,
	}, nil
}

// createIndexMapping maps the project and sample documents onto one default
// document mapping.
func createIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = "standard"

	docMapping := bleve.NewDocumentMapping()

	docMapping.AddFieldMappingsAt("type", createKeywordFieldMapping())
	docMapping.AddFieldMappingsAt("entity_id", createKeywordFieldMapping())
	docMapping.AddFieldMappingsAt("name", createTextFieldMapping())
	docMapping.AddFieldMappingsAt("description", createTextFieldMapping())
	docMapping.AddFieldMappingsAt("organism", createTextFieldMapping())

	// Sample fields
	docMapping.AddFieldMappingsAt("strain", createTextFieldMapping())
	docMapping.AddFieldMappingsAt("collected_by", createTextFieldMapping())
	docMapping.AddFieldMappingsAt("geographic_location_name", createTextFieldMapping())
	docMapping.AddFieldMappingsAt("isolation_source", createTextFieldMapping())

	docMapping.AddFieldMappingsAt("created_date", createDateFieldMapping())
	docMapping.AddFieldMappingsAt("collection_date", createDateFieldMapping())

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

func createKeywordFieldMapping() *mapping.FieldMapping {
	fieldMapping := bleve.NewTextFieldMapping()
	fieldMapping.Analyzer = "keyword"
	fieldMapping.Store = true
	fieldMapping.IncludeInAll = false
	return fieldMapping
}

func createTextFieldMapping() *mapping.FieldMapping {
	fieldMapping := bleve.NewTextFieldMapping()
	fieldMapping.Analyzer = "standard"
	fieldMapping.Store = true
	fieldMapping.IncludeInAll = true
	return fieldMapping
}

func createDateFieldMapping() *mapping.FieldMapping {
	fieldMapping := bleve.NewDateTimeFieldMapping()
	fieldMapping.Store = true
	fieldMapping.IncludeInAll = false
	return fieldMapping
}

// ProjectDoc is the indexed form of a project.
type ProjectDoc struct {
	Type        string    `json:"type"`
	EntityID    string    `json:"entity_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Organism    string    `json:"organism"`
	CreatedDate time.Time `json:"created_date"`
}

// SampleDoc is the indexed form of a sample.
type SampleDoc struct {
	Type               string     `json:"type"`
	EntityID           string     `json:"entity_id"`
	Name               string     `json:"name"`
	Description        string     `json:"description"`
	Organism           string     `json:"organism"`
	Strain             string     `json:"strain"`
	CollectedBy        string     `json:"collected_by"`
	GeographicLocation string     `json:"geographic_location_name"`
	IsolationSource    string     `json:"isolation_source"`
	CollectionDate     *time.Time `json:"collection_date,omitempty"`
	CreatedDate        time.Time  `json:"created_date"`
}

// DocID is the index identifier of an entity: "<type>:<id>".
func DocID(docType string, id int64) string {
	return docType + ":" + strconv.FormatInt(id, 10)
}

// ParseDocID splits an index identifier into its type and entity id.
func ParseDocID(docID string) (string, int64, error) {
	docType, raw, ok := strings.Cut(docID, ":")
	if !ok {
		return "", 0, fmt.Errorf("malformed document id %q", docID)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed document id %q: %w", docID, err)
	}
	return docType, id, nil
}

func projectDoc(p *models.Project) ProjectDoc {
	return ProjectDoc{
		Type:        TypeProject,
		EntityID:    strconv.FormatInt(p.ID, 10),
		Name:        p.Name,
		Description: p.Description,
		Organism:    p.Organism,
		CreatedDate: p.CreatedDate,
	}
}

func sampleDoc(s *models.Sample) SampleDoc {
	return SampleDoc{
		Type:               TypeSample,
		EntityID:           strconv.FormatInt(s.ID, 10),
		Name:               s.SampleName,
		Description:        s.Description,
		Organism:           s.Organism,
		Strain:             s.Strain,
		CollectedBy:        s.CollectedBy,
		GeographicLocation: s.GeographicLocation,
		IsolationSource:    s.IsolationSource,
		CollectionDate:     s.CollectionDate,
		CreatedDate:        s.CreatedDate,
	}
}

// IndexProject adds or replaces a project.
func (b *Index) IndexProject(p *models.Project) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.index.Index(DocID(TypeProject, p.ID), projectDoc(p))
}

// IndexSample adds or replaces a sample.
func (b *Index) IndexSample(s *models.Sample) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.index.Index(DocID(TypeSample, s.ID), sampleDoc(s))
}

// DeleteProject removes a project.
func (b *Index) DeleteProject(id int64) error {
	return b.Delete(DocID(TypeProject, id))
}

// DeleteSample removes a sample.
func (b *Index) DeleteSample(id int64) error {
	return b.Delete(DocID(TypeSample, id))
}

// BatchIndex indexes projects and samples in one batch.
func (b *Index) BatchIndex(projects []*models.Project, samples []*models.Sample) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	batch := b.index.NewBatch()
	for _, p := range projects {
		if err := batch.Index(DocID(TypeProject, p.ID), projectDoc(p)); err != nil {
			return fmt.Errorf("failed to add project %d to batch: %w", p.ID, err)
		}
	}
	for _, s := range samples {
		if err := batch.Index(DocID(TypeSample, s.ID), sampleDoc(s)); err != nil {
			return fmt.Errorf("failed to add sample %d to batch: %w", s.ID, err)
		}
	}
	return b.index.Batch(batch)
}

// Close closes the Bleve index
func (b *Index) Close() error {
	return b.index.Close()
}

// GetDocCount returns the number of documents in the index
func (b *Index) GetDocCount() (uint64, error) {
	return b.index.DocCount()
}

// Delete removes a document from the index
func (b *Index) Delete(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.index.Delete(id)
}

// Path returns the on-disk location of the index, empty when in memory.
func (b *Index) Path() string {
	return b.path
}
