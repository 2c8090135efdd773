package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/nishad/seqlims/internal/errors"
)

// tables carrying a modified_date column
var modifiedTables = map[string]bool{
	"users":                true,
	"projects":             true,
	"samples":              true,
	"sequence_files":       true,
	"analysis_submissions": true,
}

// UpdateFields applies a partial update to one row and records a revision.
// Every key must be a writable column of table; unknown or protected keys
// fail with KindInvalidProperty before anything is written.
func (db *DB) UpdateFields(ctx context.Context, table string, id int64, fields map[string]interface{}) error {
	const op errors.Op = "database.UpdateFields"

	entityType, ok := tableEntities[table]
	if !ok {
		return errors.E(op, errors.KindInvalidProperty, fmt.Sprintf("%s cannot be updated", table))
	}
	if len(fields) == 0 {
		return errors.E(op, errors.KindInvalidProperty, "no properties to update")
	}

	columns := make([]string, 0, len(fields))
	for col := range fields {
		if err := ValidateUpdateColumn(table, col); err != nil {
			return errors.E(op, errors.KindInvalidProperty, err, fmt.Sprintf("property %q cannot be updated", col))
		}
		columns = append(columns, col)
	}
	sort.Strings(columns)

	sets := make([]string, 0, len(columns)+1)
	args := make([]interface{}, 0, len(columns)+2)
	for _, col := range columns {
		sets = append(sets, col+" = ?")
		args = append(args, fields[col])
	}
	if modifiedTables[table] {
		sets = append(sets, "modified_date = ?")
		args = append(args, now())
	}
	args = append(args, id)

	query := "UPDATE " + MustTableName(table) + " SET " + strings.Join(sets, ", ") + " WHERE id = ?"

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := db.exec(ctx, tx, query, args...)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.NotFound(op, entityType, id)
		}
		snapshot, err := db.loadEntity(ctx, tx, table, id)
		if err != nil {
			return err
		}
		return db.recordRevision(ctx, tx, entityType, id, snapshot, false)
	})
	return classify(op, err)
}

// loadEntity reads the current row of an audited table for a revision snapshot.
func (db *DB) loadEntity(ctx context.Context, q queryer, table string, id int64) (interface{}, error) {
	switch table {
	case "users":
		u, err := scanUser(db.queryRow(ctx, q, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
		if err != nil {
			return nil, err
		}
		return userSnapshot{User: *u, Password: u.Password}, nil
	case "projects":
		return scanProject(db.queryRow(ctx, q, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	case "samples":
		return scanSample(db.queryRow(ctx, q, `SELECT `+sampleColumns+` FROM samples WHERE id = ?`, id))
	case "sequencing_runs":
		return scanRun(db.queryRow(ctx, q, `SELECT `+runColumns+` FROM sequencing_runs WHERE id = ?`, id))
	case "sequence_files":
		return scanSequenceFile(db.queryRow(ctx, q, `SELECT `+sequenceFileColumns+` FROM sequence_files WHERE id = ?`, id))
	case "analysis_submissions":
		return db.loadSubmission(ctx, q, id)
	case "remote_apis":
		return scanRemoteAPI(db.queryRow(ctx, q, `SELECT `+remoteAPIColumns+` FROM remote_apis WHERE id = ?`, id))
	}
	return nil, fmt.Errorf("no snapshot reader for %s", table)
}
