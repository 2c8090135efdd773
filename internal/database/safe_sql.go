package database

import (
	"fmt"
	"sort"
)

// Entity type names recorded in the revisions table.
const (
	EntityUser               = "user"
	EntityProject            = "project"
	EntitySample             = "sample"
	EntitySequencingRun      = "sequencing_run"
	EntitySequenceFile       = "sequence_file"
	EntityReferenceFile      = "reference_file"
	EntityAnalysisSubmission = "analysis_submission"
	EntityRemoteAPI          = "remote_api"
	EntityRelationship       = "relationship"
)

// EntityTables lists the tables counted by GetInfo.
var EntityTables = []string{
	"users", "projects", "samples", "sequencing_runs", "sequence_files",
	"sequencing_objects", "reference_files", "analysis_submissions",
	"analyses", "remote_apis", "relationships", "revisions",
}

// AllowedTables is the whitelist of valid table names.
// Any table name not in this list will be rejected to prevent SQL injection.
var AllowedTables = map[string]bool{
	// Core entity tables
	"users":                true,
	"projects":             true,
	"samples":              true,
	"sequencing_runs":      true,
	"sequence_files":       true,
	"sequencing_objects":   true,
	"reference_files":      true,
	"analysis_submissions": true,
	"analyses":             true,
	"remote_apis":          true,

	// Relationship tables
	"project_user":              true,
	"project_sample":            true,
	"sequencing_object_file":    true,
	"sample_sequencing_object":  true,
	"analysis_submission_input": true,
	"analysis_output_files":     true,
	"relationships":             true,

	// System tables
	"qc_entries":        true,
	"remote_api_tokens": true,
	"revisions":         true,
}

// UpdatableColumns lists, per table, the columns a partial update may set.
// Identifiers, timestamps and stored file locations are never client-writable.
var UpdatableColumns = map[string]map[string]bool{
	"users": {
		"email":                   true,
		"first_name":              true,
		"last_name":               true,
		"phone_number":            true,
		"system_role":             true,
		"enabled":                 true,
		"credentials_non_expired": true,
	},
	"projects": {
		"name":        true,
		"organism":    true,
		"description": true,
		"remote_url":  true,
	},
	"samples": {
		"sample_name":              true,
		"description":              true,
		"organism":                 true,
		"strain":                   true,
		"collected_by":             true,
		"geographic_location_name": true,
		"isolation_source":         true,
		"collection_date":          true,
	},
	"sequencing_runs": {
		"description":   true,
		"platform":      true,
		"upload_status": true,
	},
	"sequence_files": {
		"sequencing_run_id": true,
	},
	"analysis_submissions": {
		"name":                  true,
		"analysis_state":        true,
		"remote_analysis_id":    true,
		"remote_input_data_id":  true,
		"analysis_id":           true,
		"priority":              true,
		"email_pipeline_result": true,
	},
	"remote_apis": {
		"name":          true,
		"service_uri":   true,
		"client_id":     true,
		"client_secret": true,
		"description":   true,
	},
}

// tableEntities maps updatable tables onto their revision entity type.
var tableEntities = map[string]string{
	"users":                EntityUser,
	"projects":             EntityProject,
	"samples":              EntitySample,
	"sequencing_runs":      EntitySequencingRun,
	"sequence_files":       EntitySequenceFile,
	"analysis_submissions": EntityAnalysisSubmission,
	"remote_apis":          EntityRemoteAPI,
}

// ErrInvalidTableName is returned when a table name is not in the whitelist.
var ErrInvalidTableName = fmt.Errorf("invalid table name")

// ErrInvalidColumnName is returned when a column name is not in the whitelist.
var ErrInvalidColumnName = fmt.Errorf("invalid column name")

// ValidateTableName checks if a table name is in the allowed list.
// Returns nil if valid, ErrInvalidTableName otherwise.
func ValidateTableName(table string) error {
	if !AllowedTables[table] {
		return fmt.Errorf("%w: %q", ErrInvalidTableName, table)
	}
	return nil
}

// ValidateUpdateColumn checks that column may be written on table.
func ValidateUpdateColumn(table, column string) error {
	cols, ok := UpdatableColumns[table]
	if !ok {
		return fmt.Errorf("%w: %q is not updatable", ErrInvalidTableName, table)
	}
	if !cols[column] {
		return fmt.Errorf("%w: %q on %s", ErrInvalidColumnName, column, table)
	}
	return nil
}

// UpdatableColumnNames returns the sorted writable columns of table.
func UpdatableColumnNames(table string) []string {
	var names []string
	for col := range UpdatableColumns[table] {
		names = append(names, col)
	}
	sort.Strings(names)
	return names
}

// SafeTableName returns the table name if valid, otherwise returns an error.
// Use this when you need the table name for SQL construction.
func SafeTableName(table string) (string, error) {
	if err := ValidateTableName(table); err != nil {
		return "", err
	}
	return table, nil
}

// MustTableName returns the table name if valid, panics otherwise.
// Use this only for hardcoded table names that are known to be valid.
func MustTableName(table string) string {
	if err := ValidateTableName(table); err != nil {
		panic(fmt.Sprintf("invalid table name in code: %s", table))
	}
	return table
}
