package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/security"
)

// sampleColumns is the default line list layout.
var sampleColumns = []string{
	"id", "sample_name", "organism", "strain", "collected_by",
	"collection_date", "geographic_location_name", "isolation_source",
	"description", "created_date", "sequencing_objects",
}

// ExportService writes the line list of a project's samples.
type ExportService struct {
	*base
}

// Export writes the samples of req.ProjectID in req.Format.
func (e *ExportService) Export(ctx context.Context, req *ExportRequest, writer io.Writer) error {
	const op errors.Op = "service.ExportService.Export"

	p, err := security.RequirePrincipal(ctx, op)
	if err != nil {
		return err
	}
	ok, err := e.perms.CanReadProject(ctx, p, req.ProjectID)
	if err := allow(op, p, ok, err); err != nil {
		return err
	}

	headers := sampleColumns
	if len(req.Fields) > 0 {
		headers = append([]string{"id"}, req.Fields...)
		for _, f := range req.Fields {
			if !isSampleColumn(f) {
				return errors.E(op, errors.KindInvalidProperty, "unknown export field "+f)
			}
		}
	}

	samples, err := e.db.ListSamplesForProject(ctx, req.ProjectID)
	if err != nil {
		return errors.Wrap(op, err)
	}
	rows := make([]map[string]interface{}, 0, len(samples))
	for _, s := range samples {
		objects, err := e.db.ListSequencingObjectsForSample(ctx, s.ID)
		if err != nil {
			return errors.Wrap(op, err)
		}
		rows = append(rows, sampleRow(s, len(objects), headers))
	}

	// Export based on format
	switch strings.ToLower(req.Format) {
	case "", "json":
		err = e.exportJSON(rows, writer)
	case "jsonl", "ndjson":
		err = e.exportJSONLines(rows, writer)
	case "csv":
		err = e.exportDelimited(rows, headers, writer, ',')
	case "tsv":
		err = e.exportDelimited(rows, headers, writer, '\t')
	default:
		return errors.E(op, errors.KindInvalidProperty, fmt.Sprintf("unsupported export format: %s", req.Format))
	}
	if err != nil {
		return errors.E(op, errors.KindIO, err)
	}
	return nil
}

// ExportToFile exports data to a file
func (e *ExportService) ExportToFile(ctx context.Context, req *ExportRequest, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	return e.Export(ctx, req, file)
}

// exportJSON exports results as JSON
func (e *ExportService) exportJSON(rows []map[string]interface{}, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rows)
}

// exportJSONLines exports results as newline-delimited JSON
func (e *ExportService) exportJSONLines(rows []map[string]interface{}, writer io.Writer) error {
	encoder := json.NewEncoder(writer)

	for _, row := range rows {
		if err := encoder.Encode(row); err != nil {
			return err
		}
	}

	return nil
}

// exportDelimited writes a header line then one line per sample.
func (e *ExportService) exportDelimited(rows []map[string]interface{}, headers []string, writer io.Writer, comma rune) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = comma

	if err := csvWriter.Write(headers); err != nil {
		return err
	}

	for _, row := range rows {
		record := make([]string, len(headers))
		for i, header := range headers {
			if value, exists := row[header]; exists && value != nil {
				record[i] = fmt.Sprint(value)
			}
		}
		if err := csvWriter.Write(record); err != nil {
			return err
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

func sampleRow(s *models.Sample, objects int, headers []string) map[string]interface{} {
	all := map[string]interface{}{
		"id":                       s.ID,
		"sample_name":              s.SampleName,
		"organism":                 s.Organism,
		"strain":                   s.Strain,
		"collected_by":             s.CollectedBy,
		"geographic_location_name": s.GeographicLocation,
		"isolation_source":         s.IsolationSource,
		"description":              s.Description,
		"created_date":             s.CreatedDate.Format(time.RFC3339),
		"sequencing_objects":       objects,
	}
	if s.CollectionDate != nil {
		all["collection_date"] = s.CollectionDate.Format("2006-01-02")
	} else {
		all["collection_date"] = nil
	}

	row := make(map[string]interface{}, len(headers))
	for _, h := range headers {
		row[h] = all[h]
	}
	return row
}

func isSampleColumn(name string) bool {
	for _, c := range sampleColumns {
		if c == name {
			return true
		}
	}
	return false
}
