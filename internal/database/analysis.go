package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
)

const submissionColumns = `id, name, submitter_id, workflow_id, remote_workflow, remote_analysis_id,
	remote_input_data_id, analysis_state, reference_file_id, input_parameters, analysis_id, priority,
	email_pipeline_result, created_date, modified_date`

func scanSubmission(row interface{ Scan(...interface{}) error }) (*models.AnalysisSubmission, error) {
	s := &models.AnalysisSubmission{}
	var remoteWorkflow, params sql.NullString
	err := row.Scan(&s.ID, &s.Name, &s.SubmitterID, &s.WorkflowID, &remoteWorkflow, &s.RemoteAnalysisID,
		&s.RemoteInputDataID, &s.State, &s.ReferenceFileID, &params, &s.AnalysisID, &s.Priority,
		&s.EmailOnCompletion, &s.CreatedDate, &s.ModifiedDate)
	if err != nil {
		return nil, err
	}
	if remoteWorkflow.Valid && remoteWorkflow.String != "" {
		s.RemoteWorkflow = &models.RemoteWorkflow{}
		if err := json.Unmarshal([]byte(remoteWorkflow.String), s.RemoteWorkflow); err != nil {
			return nil, err
		}
	}
	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &s.Parameters); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func jsonColumn(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// CreateAnalysisSubmission inserts a submission with its input objects.
func (db *DB) CreateAnalysisSubmission(ctx context.Context, s *models.AnalysisSubmission) (*models.AnalysisSubmission, error) {
	const op errors.Op = "database.CreateAnalysisSubmission"

	var remoteWorkflow interface{}
	if s.RemoteWorkflow != nil {
		rw, err := jsonColumn(s.RemoteWorkflow)
		if err != nil {
			return nil, errors.E(op, errors.KindInvalidProperty, err)
		}
		remoteWorkflow = rw
	}
	var params interface{}
	if len(s.Parameters) > 0 {
		p, err := jsonColumn(s.Parameters)
		if err != nil {
			return nil, errors.E(op, errors.KindInvalidProperty, err)
		}
		params = p
	}
	if s.State == "" {
		s.State = models.AnalysisNew
	}
	s.CreatedDate = now()

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		id, err := db.insert(ctx, tx, `
			INSERT INTO analysis_submissions (name, submitter_id, workflow_id, remote_workflow, remote_analysis_id,
				remote_input_data_id, analysis_state, reference_file_id, input_parameters, priority,
				email_pipeline_result, created_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.Name, s.SubmitterID, s.WorkflowID, remoteWorkflow, s.RemoteAnalysisID,
			s.RemoteInputDataID, s.State, s.ReferenceFileID, params, s.Priority,
			s.EmailOnCompletion, s.CreatedDate)
		if err != nil {
			return err
		}
		s.ID = id
		for _, objectID := range s.InputObjectIDs {
			if _, err := db.exec(ctx, tx,
				`INSERT INTO analysis_submission_input (analysis_submission_id, sequencing_object_id) VALUES (?, ?)`,
				id, objectID); err != nil {
				return err
			}
		}
		return db.recordRevision(ctx, tx, EntityAnalysisSubmission, id, s, false)
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return s, nil
}

// loadSubmission reads a submission and its inputs through q. It returns
// sql.ErrNoRows unwrapped when the submission does not exist.
func (db *DB) loadSubmission(ctx context.Context, q queryer, id int64) (*models.AnalysisSubmission, error) {
	s, err := scanSubmission(db.queryRow(ctx, q, `SELECT `+submissionColumns+` FROM analysis_submissions WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	rows, err := db.query(ctx, q,
		`SELECT sequencing_object_id FROM analysis_submission_input WHERE analysis_submission_id = ? ORDER BY sequencing_object_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var objectID int64
		if err := rows.Scan(&objectID); err != nil {
			return nil, err
		}
		s.InputObjectIDs = append(s.InputObjectIDs, objectID)
	}
	return s, rows.Err()
}

// GetAnalysisSubmission retrieves a submission by id.
func (db *DB) GetAnalysisSubmission(ctx context.Context, id int64) (*models.AnalysisSubmission, error) {
	const op errors.Op = "database.GetAnalysisSubmission"

	s, err := db.loadSubmission(ctx, db.DB, id)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(op, "analysis submission", id)
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return s, nil
}

// AnalysisSubmissionExists reports whether a submission with id exists.
func (db *DB) AnalysisSubmissionExists(ctx context.Context, id int64) (bool, error) {
	return db.exists(ctx, "analysis_submissions", id)
}

// ListAnalysisSubmissions returns every submission, newest first.
func (db *DB) ListAnalysisSubmissions(ctx context.Context) ([]*models.AnalysisSubmission, error) {
	return db.listSubmissions(ctx, `SELECT id FROM analysis_submissions ORDER BY id DESC`)
}

// ListAnalysisSubmissionsForUser returns the submissions made by userID.
func (db *DB) ListAnalysisSubmissionsForUser(ctx context.Context, userID int64) ([]*models.AnalysisSubmission, error) {
	return db.listSubmissions(ctx, `SELECT id FROM analysis_submissions WHERE submitter_id = ? ORDER BY id DESC`, userID)
}

// FindSubmissionsByState returns submissions in any of the given states,
// highest priority first then oldest first.
func (db *DB) FindSubmissionsByState(ctx context.Context, states ...models.AnalysisState) ([]*models.AnalysisSubmission, error) {
	if len(states) == 0 {
		return nil, nil
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(states)), ", ")
	args := make([]interface{}, len(states))
	for i, s := range states {
		args[i] = s
	}
	return db.listSubmissions(ctx,
		`SELECT id FROM analysis_submissions WHERE analysis_state IN (`+marks+`) ORDER BY priority DESC, id ASC`, args...)
}

func (db *DB) listSubmissions(ctx context.Context, query string, args ...interface{}) ([]*models.AnalysisSubmission, error) {
	const op errors.Op = "database.ListAnalysisSubmissions"

	rows, err := db.query(ctx, db.DB, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, classify(op, err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}

	submissions := make([]*models.AnalysisSubmission, 0, len(ids))
	for _, id := range ids {
		s, err := db.GetAnalysisSubmission(ctx, id)
		if errors.IsKind(err, errors.KindNotFound) {
			// deleted between the two reads
			continue
		}
		if err != nil {
			return nil, err
		}
		submissions = append(submissions, s)
	}
	return submissions, nil
}

// TransitionAnalysisState moves a submission from one state to another,
// failing with KindIllegalState when the submission is no longer in from.
func (db *DB) TransitionAnalysisState(ctx context.Context, id int64, from, to models.AnalysisState) (*models.AnalysisSubmission, error) {
	const op errors.Op = "database.TransitionAnalysisState"

	var updated *models.AnalysisSubmission
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := db.exec(ctx, tx,
			`UPDATE analysis_submissions SET analysis_state = ?, modified_date = ? WHERE id = ? AND analysis_state = ?`,
			to, now(), id, from)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var one int
			if err := db.queryRow(ctx, tx, `SELECT 1 FROM analysis_submissions WHERE id = ?`, id).Scan(&one); err == sql.ErrNoRows {
				return errors.NotFound(op, "analysis submission", id)
			}
			return errors.E(op, errors.KindIllegalState, "analysis submission is not in state "+string(from))
		}
		updated, err = db.loadSubmission(ctx, tx, id)
		if err != nil {
			return err
		}
		return db.recordRevision(ctx, tx, EntityAnalysisSubmission, id, updated, false)
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return updated, nil
}

// DeleteAnalysisSubmission removes a submission.
func (db *DB) DeleteAnalysisSubmission(ctx context.Context, id int64) error {
	return db.deleteAudited(ctx, "analysis_submissions", EntityAnalysisSubmission, id)
}

// UserCanReadAnalysisSubmission reports whether userID submitted the analysis.
func (db *DB) UserCanReadAnalysisSubmission(ctx context.Context, userID, submissionID int64) (bool, error) {
	return db.any(ctx, `SELECT 1 FROM analysis_submissions WHERE id = ? AND submitter_id = ?`, submissionID, userID)
}

// CreateAnalysis stores an analysis and its output files.
func (db *DB) CreateAnalysis(ctx context.Context, a *models.Analysis) (*models.Analysis, error) {
	const op errors.Op = "database.CreateAnalysis"

	a.CreatedDate = now()
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		id, err := db.insert(ctx, tx, `
			INSERT INTO analyses (execution_manager_analysis_id, analysis_type, description, created_date)
			VALUES (?, ?, ?, ?)`, a.ExecutionManagerID, a.AnalysisType, a.Description, a.CreatedDate)
		if err != nil {
			return err
		}
		a.ID = id
		for key, f := range a.OutputFiles {
			f.AnalysisID = id
			f.Key = key
			f.CreatedDate = a.CreatedDate
			fileID, err := db.insert(ctx, tx, `
				INSERT INTO analysis_output_files (analysis_id, output_key, file_path, execution_manager_file_id, file_size, created_date)
				VALUES (?, ?, ?, ?, ?, ?)`, id, key, f.FilePath, f.ExecutionManagerFileID, f.FileSize, f.CreatedDate)
			if err != nil {
				return err
			}
			f.ID = fileID
		}
		return nil
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return a, nil
}

// GetAnalysis retrieves an analysis with its output files.
func (db *DB) GetAnalysis(ctx context.Context, id int64) (*models.Analysis, error) {
	const op errors.Op = "database.GetAnalysis"

	a := &models.Analysis{OutputFiles: map[string]*models.AnalysisOutputFile{}}
	err := db.queryRow(ctx, db.DB,
		`SELECT id, execution_manager_analysis_id, analysis_type, description, created_date FROM analyses WHERE id = ?`, id).
		Scan(&a.ID, &a.ExecutionManagerID, &a.AnalysisType, &a.Description, &a.CreatedDate)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(op, "analysis", id)
	}
	if err != nil {
		return nil, classify(op, err)
	}

	rows, err := db.query(ctx, db.DB, `
		SELECT id, analysis_id, output_key, file_path, execution_manager_file_id, file_size, created_date
		FROM analysis_output_files WHERE analysis_id = ?`, id)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()
	for rows.Next() {
		f := &models.AnalysisOutputFile{}
		if err := rows.Scan(&f.ID, &f.AnalysisID, &f.Key, &f.FilePath, &f.ExecutionManagerFileID, &f.FileSize, &f.CreatedDate); err != nil {
			return nil, classify(op, err)
		}
		a.OutputFiles[f.Key] = f
	}
	return a, classify(op, rows.Err())
}

// ListAnalysisOutputFiles returns every stored analysis output file.
func (db *DB) ListAnalysisOutputFiles(ctx context.Context) ([]*models.AnalysisOutputFile, error) {
	const op errors.Op = "database.ListAnalysisOutputFiles"

	rows, err := db.query(ctx, db.DB, `
		SELECT id, analysis_id, output_key, file_path, execution_manager_file_id, file_size, created_date
		FROM analysis_output_files ORDER BY id`)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var files []*models.AnalysisOutputFile
	for rows.Next() {
		f := &models.AnalysisOutputFile{}
		if err := rows.Scan(&f.ID, &f.AnalysisID, &f.Key, &f.FilePath, &f.ExecutionManagerFileID, &f.FileSize, &f.CreatedDate); err != nil {
			return nil, classify(op, err)
		}
		files = append(files, f)
	}
	return files, classify(op, rows.Err())
}
