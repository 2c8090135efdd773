package database

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/nishad/seqlims/internal/errors"
)

// BaseDirectories are the storage roots stored file paths are relative to.
type BaseDirectories struct {
	SequenceFiles  string
	ReferenceFiles string
	OutputFiles    string
}

// PathMigrationResult counts the rows rewritten per table.
type PathMigrationResult struct {
	Rewritten map[string]int
}

type pathClass struct {
	table string
	base  string
}

func (d BaseDirectories) classes() []pathClass {
	return []pathClass{
		{table: "sequence_files", base: d.SequenceFiles},
		{table: "reference_files", base: d.ReferenceFiles},
		{table: "analysis_output_files", base: d.OutputFiles},
	}
}

// basePrefix returns dir with exactly one trailing separator.
func basePrefix(dir string) string {
	dir = filepath.Clean(dir)
	if strings.HasSuffix(dir, string(filepath.Separator)) {
		return dir
	}
	return dir + string(filepath.Separator)
}

// MigrateAbsoluteToRelativePaths rewrites absolute file paths into paths
// relative to their base directory. Nothing is written unless every absolute
// path of every class lies under its base; otherwise the first offending path
// of each class is reported.
func (db *DB) MigrateAbsoluteToRelativePaths(ctx context.Context, dirs BaseDirectories) (*PathMigrationResult, error) {
	const op errors.Op = "database.MigrateAbsoluteToRelativePaths"

	type pending struct {
		id   int64
		path string
	}
	work := make(map[string][]pending)
	var violations []string

	for _, class := range dirs.classes() {
		if class.base == "" {
			return nil, errors.E(op, errors.KindConfig, fmt.Sprintf("no base directory configured for %s", class.table))
		}
		prefix := basePrefix(class.base)

		rows, err := db.query(ctx, db.DB, `SELECT id, file_path FROM `+MustTableName(class.table)+` ORDER BY id`)
		if err != nil {
			return nil, classify(op, err)
		}
		reported := false
		for rows.Next() {
			var p pending
			if err := rows.Scan(&p.id, &p.path); err != nil {
				rows.Close()
				return nil, classify(op, err)
			}
			if !filepath.IsAbs(p.path) {
				continue
			}
			if !strings.HasPrefix(p.path, prefix) {
				if !reported {
					violations = append(violations,
						fmt.Sprintf("%s %d: %s is not under %s", class.table, p.id, p.path, prefix))
					reported = true
				}
				continue
			}
			p.path = strings.TrimPrefix(p.path, prefix)
			work[class.table] = append(work[class.table], p)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, classify(op, err)
		}
	}

	if len(violations) > 0 {
		return nil, errors.E(op, errors.KindValidation,
			"stored paths outside their base directory: "+strings.Join(violations, "; "))
	}

	result := &PathMigrationResult{Rewritten: map[string]int{}}
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		for table, rows := range work {
			query := `UPDATE ` + MustTableName(table) + ` SET file_path = ? WHERE id = ?`
			for _, p := range rows {
				if _, err := db.exec(ctx, tx, query, p.path, p.id); err != nil {
					return err
				}
			}
			result.Rewritten[table] = len(rows)
		}
		return nil
	})
	if err != nil {
		return nil, classify(op, err)
	}
	db.logger.Info("migrated stored file paths", zap.Any("rewritten", result.Rewritten))
	return result, nil
}
