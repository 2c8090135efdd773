// Package database provides the relational store for users, projects,
// samples, sequencing data, analysis submissions and their revision history.
// SQLite is the default backend; PostgreSQL is supported through pgx.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/nishad/seqlims/internal/errors"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
	path   string
	driver string
	logger *zap.Logger
}

// Driver returns the database/sql driver name in use
func (db *DB) Driver() string {
	return db.driver
}

// SetLogger attaches a logger for slow paths and skipped rows
func (db *DB) SetLogger(logger *zap.Logger) {
	if logger != nil {
		db.logger = logger
	}
}

// Initialize creates and configures a SQLite database at path
func Initialize(path string) (*DB, error) {
	return Open(DriverSQLite, path)
}

// Open connects to the database with the given driver. For sqlite3 the dsn
// is a file path; for pgx it is a postgres connection string.
func Open(driver, dsn string) (*DB, error) {
	var (
		sqlDB *sql.DB
		err   error
	)
	switch driver {
	case DriverSQLite:
		sqlDB, err = sql.Open(DriverSQLite, dsn+"?_journal=WAL&_timeout=5000&_sync=NORMAL&_foreign_keys=on")
	case DriverPostgres:
		sqlDB, err = sql.Open(DriverPostgres, dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		pragmas := []string{
			"PRAGMA journal_mode = WAL",   // Write-ahead logging
			"PRAGMA synchronous = NORMAL", // Balanced safety/speed
			"PRAGMA temp_store = MEMORY",
			"PRAGMA busy_timeout = 10000", // 10 second timeout
			"PRAGMA foreign_keys = ON",
		}
		for _, pragma := range pragmas {
			if _, err := sqlDB.Exec(pragma); err != nil {
				sqlDB.Close()
				return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
			}
		}
	}

	db := &DB{
		DB:     sqlDB,
		path:   dsn,
		driver: driver,
		logger: zap.NewNop(),
	}

	if err := db.createTables(context.Background()); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// SetPool overrides the connection pool limits
func (db *DB) SetPool(maxOpen, maxIdle int) {
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
}

func (db *DB) createTables(ctx context.Context) error {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if db.driver == DriverPostgres {
		pk = "BIGSERIAL PRIMARY KEY"
	}
	ddl := strings.ReplaceAll(schema, "{{pk}}", pk)

	for _, stmt := range strings.Split(ddl, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id {{pk}},
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		phone_number TEXT NOT NULL DEFAULT '',
		password TEXT NOT NULL,
		system_role TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		credentials_non_expired BOOLEAN NOT NULL DEFAULT TRUE,
		last_login TIMESTAMP,
		created_date TIMESTAMP NOT NULL,
		modified_date TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS projects (
		id {{pk}},
		name TEXT NOT NULL,
		organism TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		remote_url TEXT NOT NULL DEFAULT '',
		created_date TIMESTAMP NOT NULL,
		modified_date TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS project_user (
		project_id BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		project_role TEXT NOT NULL,
		created_date TIMESTAMP NOT NULL,
		PRIMARY KEY (project_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS samples (
		id {{pk}},
		sample_name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		organism TEXT NOT NULL DEFAULT '',
		strain TEXT NOT NULL DEFAULT '',
		collected_by TEXT NOT NULL DEFAULT '',
		geographic_location_name TEXT NOT NULL DEFAULT '',
		isolation_source TEXT NOT NULL DEFAULT '',
		collection_date TIMESTAMP,
		created_date TIMESTAMP NOT NULL,
		modified_date TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS project_sample (
		project_id BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		sample_id BIGINT NOT NULL REFERENCES samples(id) ON DELETE CASCADE,
		owner BOOLEAN NOT NULL DEFAULT TRUE,
		created_date TIMESTAMP NOT NULL,
		PRIMARY KEY (project_id, sample_id)
	);

	CREATE TABLE IF NOT EXISTS sequencing_runs (
		id {{pk}},
		description TEXT NOT NULL DEFAULT '',
		platform TEXT NOT NULL DEFAULT '',
		layout_type TEXT NOT NULL,
		upload_status TEXT NOT NULL,
		created_date TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sequence_files (
		id {{pk}},
		file_path TEXT NOT NULL DEFAULT '',
		file_revision_number BIGINT NOT NULL DEFAULT 0,
		file_size BIGINT NOT NULL DEFAULT 0,
		upload_sha256 TEXT NOT NULL DEFAULT '',
		sequencing_run_id BIGINT REFERENCES sequencing_runs(id) ON DELETE SET NULL,
		created_date TIMESTAMP NOT NULL,
		modified_date TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sequencing_objects (
		id {{pk}},
		kind TEXT NOT NULL,
		sequencing_run_id BIGINT REFERENCES sequencing_runs(id) ON DELETE SET NULL,
		processing_state TEXT NOT NULL,
		created_date TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sequencing_object_file (
		sequencing_object_id BIGINT NOT NULL REFERENCES sequencing_objects(id) ON DELETE CASCADE,
		sequence_file_id BIGINT NOT NULL UNIQUE REFERENCES sequence_files(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		PRIMARY KEY (sequencing_object_id, position)
	);

	CREATE TABLE IF NOT EXISTS sample_sequencing_object (
		sample_id BIGINT NOT NULL REFERENCES samples(id) ON DELETE CASCADE,
		sequencing_object_id BIGINT NOT NULL UNIQUE REFERENCES sequencing_objects(id) ON DELETE CASCADE,
		created_date TIMESTAMP NOT NULL,
		PRIMARY KEY (sample_id, sequencing_object_id)
	);

	CREATE TABLE IF NOT EXISTS qc_entries (
		sequence_file_id BIGINT PRIMARY KEY REFERENCES sequence_files(id) ON DELETE CASCADE,
		read_count BIGINT NOT NULL,
		total_bases BIGINT NOT NULL,
		min_length INTEGER NOT NULL,
		max_length INTEGER NOT NULL,
		mean_length REAL NOT NULL,
		gc_content REAL NOT NULL,
		created_date TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reference_files (
		id {{pk}},
		file_path TEXT NOT NULL DEFAULT '',
		file_revision_number BIGINT NOT NULL DEFAULT 0,
		file_size BIGINT NOT NULL DEFAULT 0,
		created_date TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS analyses (
		id {{pk}},
		execution_manager_analysis_id TEXT NOT NULL DEFAULT '',
		analysis_type TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_date TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS analysis_output_files (
		id {{pk}},
		analysis_id BIGINT NOT NULL REFERENCES analyses(id) ON DELETE CASCADE,
		output_key TEXT NOT NULL,
		file_path TEXT NOT NULL,
		execution_manager_file_id TEXT NOT NULL DEFAULT '',
		file_size BIGINT NOT NULL DEFAULT 0,
		created_date TIMESTAMP NOT NULL,
		UNIQUE (analysis_id, output_key)
	);

	CREATE TABLE IF NOT EXISTS analysis_submissions (
		id {{pk}},
		name TEXT NOT NULL DEFAULT '',
		submitter_id BIGINT NOT NULL REFERENCES users(id),
		workflow_id TEXT NOT NULL,
		remote_workflow TEXT,
		remote_analysis_id TEXT NOT NULL DEFAULT '',
		remote_input_data_id TEXT NOT NULL DEFAULT '',
		analysis_state TEXT NOT NULL,
		reference_file_id BIGINT REFERENCES reference_files(id),
		input_parameters TEXT,
		analysis_id BIGINT REFERENCES analyses(id),
		priority INTEGER NOT NULL DEFAULT 0,
		email_pipeline_result BOOLEAN NOT NULL DEFAULT FALSE,
		created_date TIMESTAMP NOT NULL,
		modified_date TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS analysis_submission_input (
		analysis_submission_id BIGINT NOT NULL REFERENCES analysis_submissions(id) ON DELETE CASCADE,
		sequencing_object_id BIGINT NOT NULL REFERENCES sequencing_objects(id),
		PRIMARY KEY (analysis_submission_id, sequencing_object_id)
	);

	CREATE TABLE IF NOT EXISTS remote_apis (
		id {{pk}},
		name TEXT NOT NULL,
		service_uri TEXT NOT NULL UNIQUE,
		client_id TEXT NOT NULL,
		client_secret TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_date TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS remote_api_tokens (
		id {{pk}},
		remote_api_id BIGINT NOT NULL REFERENCES remote_apis(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL,
		token TEXT NOT NULL,
		expiry_date TIMESTAMP NOT NULL,
		UNIQUE (remote_api_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS relationships (
		id {{pk}},
		subject_type TEXT NOT NULL,
		subject_id BIGINT NOT NULL,
		predicate TEXT NOT NULL,
		object_type TEXT NOT NULL,
		object_id BIGINT NOT NULL,
		created_date TIMESTAMP NOT NULL,
		UNIQUE (subject_type, subject_id, predicate, object_type, object_id)
	);

	CREATE TABLE IF NOT EXISTS revisions (
		id {{pk}},
		entity_type TEXT NOT NULL,
		entity_id BIGINT NOT NULL,
		revision_number BIGINT NOT NULL,
		revision_date TIMESTAMP NOT NULL,
		user_id BIGINT,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		snapshot TEXT NOT NULL,
		UNIQUE (entity_type, entity_id, revision_number)
	);

	CREATE INDEX IF NOT EXISTS idx_project_user_user ON project_user(user_id);
	CREATE INDEX IF NOT EXISTS idx_project_sample_sample ON project_sample(sample_id);
	CREATE INDEX IF NOT EXISTS idx_sample_name ON samples(sample_name);
	CREATE INDEX IF NOT EXISTS idx_sequence_file_run ON sequence_files(sequencing_run_id);
	CREATE INDEX IF NOT EXISTS idx_submission_state ON analysis_submissions(analysis_state);
	CREATE INDEX IF NOT EXISTS idx_submission_submitter ON analysis_submissions(submitter_id);
	CREATE INDEX IF NOT EXISTS idx_relationship_subject ON relationships(subject_type, subject_id);
	CREATE INDEX IF NOT EXISTS idx_relationship_object ON relationships(object_type, object_id);
	CREATE INDEX IF NOT EXISTS idx_revision_entity ON revisions(entity_type, entity_id)
`

// rebind rewrites ? placeholders into the driver's bind syntax
func (db *DB) rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// exec runs a statement on q with placeholders rebound
func (db *DB) exec(ctx context.Context, q queryer, query string, args ...interface{}) (sql.Result, error) {
	return q.ExecContext(ctx, db.rebind(query), args...)
}

func (db *DB) query(ctx context.Context, q queryer, query string, args ...interface{}) (*sql.Rows, error) {
	return q.QueryContext(ctx, db.rebind(query), args...)
}

func (db *DB) queryRow(ctx context.Context, q queryer, query string, args ...interface{}) *sql.Row {
	return q.QueryRowContext(ctx, db.rebind(query), args...)
}

// insert runs an INSERT ... RETURNING id statement and returns the new id
func (db *DB) insert(ctx context.Context, q queryer, query string, args ...interface{}) (int64, error) {
	var id int64
	if err := db.queryRow(ctx, q, query+" RETURNING id", args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// withTx runs fn in a transaction, committing when it returns nil
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		errors.IgnoreError(tx.Rollback(), "rollback after failed transaction")
		return err
	}
	return tx.Commit()
}

// classify maps driver errors onto error kinds
func classify(op errors.Op, err error) error {
	if err == nil {
		return nil
	}
	if errors.GetKind(err) != errors.KindUnknown {
		return errors.Wrap(op, err)
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		if sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return errors.E(op, errors.KindExists, err, "entity already exists")
		}
		return errors.E(op, errors.KindInvalidProperty, err, "constraint violated")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return errors.E(op, errors.KindExists, err, "entity already exists")
		case "23502", "23503", "23514":
			return errors.E(op, errors.KindInvalidProperty, err, "constraint violated")
		}
	}
	return errors.E(op, errors.KindDatabase, err)
}

// now is the timestamp written to created/modified columns
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// CountTable returns the number of rows in a whitelisted table
func (db *DB) CountTable(ctx context.Context, table string) (int64, error) {
	safeTable, err := SafeTableName(table)
	if err != nil {
		return 0, err
	}
	var count int64
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+safeTable).Scan(&count)
	return count, err
}

// DatabaseInfo summarizes the database for the CLI
type DatabaseInfo struct {
	Driver string           `json:"driver"`
	Path   string           `json:"path,omitempty"`
	Counts map[string]int64 `json:"counts"`
}

// GetInfo returns row counts for the entity tables
func (db *DB) GetInfo(ctx context.Context) (*DatabaseInfo, error) {
	info := &DatabaseInfo{Driver: db.driver, Counts: map[string]int64{}}
	if db.driver == DriverSQLite {
		info.Path = db.path
	}
	for _, table := range EntityTables {
		count, err := db.CountTable(ctx, table)
		if err != nil {
			return nil, err
		}
		info.Counts[table] = count
	}
	return info, nil
}
