package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
)

const runColumns = `id, description, platform, layout_type, upload_status, created_date`

func scanRun(row interface{ Scan(...interface{}) error }) (*models.SequencingRun, error) {
	r := &models.SequencingRun{}
	err := row.Scan(&r.ID, &r.Description, &r.Platform, &r.Layout, &r.UploadStatus, &r.CreatedDate)
	return r, err
}

// CreateSequencingRun inserts a sequencing run.
func (db *DB) CreateSequencingRun(ctx context.Context, r *models.SequencingRun) (*models.SequencingRun, error) {
	const op errors.Op = "database.CreateSequencingRun"

	r.CreatedDate = now()
	if r.UploadStatus == "" {
		r.UploadStatus = models.UploadUploading
	}
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		id, err := db.insert(ctx, tx, `
			INSERT INTO sequencing_runs (description, platform, layout_type, upload_status, created_date)
			VALUES (?, ?, ?, ?, ?)`,
			r.Description, r.Platform, r.Layout, r.UploadStatus, r.CreatedDate)
		if err != nil {
			return err
		}
		r.ID = id
		return db.recordRevision(ctx, tx, EntitySequencingRun, id, r, false)
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return r, nil
}

// GetSequencingRun retrieves a sequencing run by id.
func (db *DB) GetSequencingRun(ctx context.Context, id int64) (*models.SequencingRun, error) {
	const op errors.Op = "database.GetSequencingRun"

	r, err := scanRun(db.queryRow(ctx, db.DB, `SELECT `+runColumns+` FROM sequencing_runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(op, "sequencing run", id)
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return r, nil
}

// ListSequencingRuns returns every sequencing run.
func (db *DB) ListSequencingRuns(ctx context.Context) ([]*models.SequencingRun, error) {
	const op errors.Op = "database.ListSequencingRuns"

	rows, err := db.query(ctx, db.DB, `SELECT `+runColumns+` FROM sequencing_runs ORDER BY id`)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var runs []*models.SequencingRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		runs = append(runs, r)
	}
	return runs, classify(op, rows.Err())
}

const sequenceFileColumns = `id, file_path, file_revision_number, file_size, upload_sha256,
	sequencing_run_id, created_date, modified_date`

func scanSequenceFile(row interface{ Scan(...interface{}) error }) (*models.SequenceFile, error) {
	f := &models.SequenceFile{}
	err := row.Scan(&f.ID, &f.FilePath, &f.FileRevision, &f.FileSize, &f.Checksum,
		&f.SequencingRunID, &f.CreatedDate, &f.ModifiedDate)
	return f, err
}

func (db *DB) insertSequenceFile(ctx context.Context, q queryer, f *models.SequenceFile) error {
	f.CreatedDate = now()
	id, err := db.insert(ctx, q, `
		INSERT INTO sequence_files (file_path, file_revision_number, file_size, upload_sha256, sequencing_run_id, created_date)
		VALUES (?, ?, ?, ?, ?, ?)`,
		f.FilePath, f.FileRevision, f.FileSize, f.Checksum, f.SequencingRunID, f.CreatedDate)
	if err != nil {
		return err
	}
	f.ID = id
	return db.recordRevision(ctx, q, EntitySequenceFile, id, f, false)
}

// CreateSequenceFile inserts a sequence file record.
func (db *DB) CreateSequenceFile(ctx context.Context, f *models.SequenceFile) (*models.SequenceFile, error) {
	const op errors.Op = "database.CreateSequenceFile"

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		return db.insertSequenceFile(ctx, tx, f)
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return f, nil
}

// GetSequenceFile retrieves a sequence file by id.
func (db *DB) GetSequenceFile(ctx context.Context, id int64) (*models.SequenceFile, error) {
	const op errors.Op = "database.GetSequenceFile"

	f, err := scanSequenceFile(db.queryRow(ctx, db.DB, `SELECT `+sequenceFileColumns+` FROM sequence_files WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(op, "sequence file", id)
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return f, nil
}

// ListSequenceFiles returns every sequence file.
func (db *DB) ListSequenceFiles(ctx context.Context) ([]*models.SequenceFile, error) {
	return db.listSequenceFiles(ctx, `SELECT `+sequenceFileColumns+` FROM sequence_files ORDER BY id`)
}

// ListSequenceFilesForRun returns the files produced by a sequencing run.
func (db *DB) ListSequenceFilesForRun(ctx context.Context, runID int64) ([]*models.SequenceFile, error) {
	return db.listSequenceFiles(ctx,
		`SELECT `+sequenceFileColumns+` FROM sequence_files WHERE sequencing_run_id = ? ORDER BY id`, runID)
}

func (db *DB) listSequenceFiles(ctx context.Context, query string, args ...interface{}) ([]*models.SequenceFile, error) {
	const op errors.Op = "database.ListSequenceFiles"

	rows, err := db.query(ctx, db.DB, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var files []*models.SequenceFile
	for rows.Next() {
		f, err := scanSequenceFile(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		files = append(files, f)
	}
	return files, classify(op, rows.Err())
}

// UpdateSequenceFileContent records a new stored location, size and
// sha256 for a file, bumping its file revision.
func (db *DB) UpdateSequenceFileContent(ctx context.Context, id int64, path string, size int64, checksum string) (*models.SequenceFile, error) {
	const op errors.Op = "database.UpdateSequenceFileContent"

	var updated *models.SequenceFile
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := db.exec(ctx, tx, `
			UPDATE sequence_files
			SET file_path = ?, file_size = ?, upload_sha256 = ?, file_revision_number = file_revision_number + 1, modified_date = ?
			WHERE id = ?`, path, size, checksum, now(), id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.NotFound(op, "sequence file", id)
		}
		updated, err = scanSequenceFile(db.queryRow(ctx, tx, `SELECT `+sequenceFileColumns+` FROM sequence_files WHERE id = ?`, id))
		if err != nil {
			return err
		}
		return db.recordRevision(ctx, tx, EntitySequenceFile, id, updated, false)
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return updated, nil
}

// CreateSequencingObjectInSample stores the object's files, the object and
// its sample join in one transaction.
func (db *DB) CreateSequencingObjectInSample(ctx context.Context, sampleID int64, obj *models.SequencingObject) (*models.SampleSequencingObjectJoin, error) {
	const op errors.Op = "database.CreateSequencingObjectInSample"

	if err := obj.Validate(); err != nil {
		return nil, errors.E(op, errors.KindValidation, err)
	}

	created := now()
	if obj.ProcessingState == "" {
		obj.ProcessingState = models.ProcessingUnprocessed
	}
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		for i := range obj.Files {
			if obj.Files[i].ID == 0 {
				if obj.Files[i].SequencingRunID == nil {
					obj.Files[i].SequencingRunID = obj.SequencingRunID
				}
				if err := db.insertSequenceFile(ctx, tx, &obj.Files[i]); err != nil {
					return err
				}
			}
		}
		id, err := db.insert(ctx, tx, `
			INSERT INTO sequencing_objects (kind, sequencing_run_id, processing_state, created_date)
			VALUES (?, ?, ?, ?)`, obj.Kind, obj.SequencingRunID, obj.ProcessingState, created)
		if err != nil {
			return err
		}
		obj.ID = id
		obj.CreatedDate = created
		for pos, f := range obj.Files {
			if _, err := db.exec(ctx, tx,
				`INSERT INTO sequencing_object_file (sequencing_object_id, sequence_file_id, position) VALUES (?, ?, ?)`,
				id, f.ID, pos); err != nil {
				return err
			}
		}
		_, err = db.exec(ctx, tx,
			`INSERT INTO sample_sequencing_object (sample_id, sequencing_object_id, created_date) VALUES (?, ?, ?)`,
			sampleID, id, created)
		return err
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return &models.SampleSequencingObjectJoin{SampleID: sampleID, Object: obj, CreatedDate: created}, nil
}

// GetSequencingObject retrieves an object with its files in position order.
func (db *DB) GetSequencingObject(ctx context.Context, id int64) (*models.SequencingObject, error) {
	const op errors.Op = "database.GetSequencingObject"

	obj := &models.SequencingObject{}
	err := db.queryRow(ctx, db.DB,
		`SELECT id, kind, sequencing_run_id, processing_state, created_date FROM sequencing_objects WHERE id = ?`, id).
		Scan(&obj.ID, &obj.Kind, &obj.SequencingRunID, &obj.ProcessingState, &obj.CreatedDate)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(op, "sequencing object", id)
	}
	if err != nil {
		return nil, classify(op, err)
	}

	rows, err := db.query(ctx, db.DB, `
		SELECT f.id, f.file_path, f.file_revision_number, f.file_size, f.upload_sha256,
			f.sequencing_run_id, f.created_date, f.modified_date
		FROM sequence_files f JOIN sequencing_object_file sof ON sof.sequence_file_id = f.id
		WHERE sof.sequencing_object_id = ?
		ORDER BY sof.position`, id)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()
	for rows.Next() {
		f, err := scanSequenceFile(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		obj.Files = append(obj.Files, *f)
	}
	return obj, classify(op, rows.Err())
}

// SequencingObjectForFile returns the object containing a sequence file.
func (db *DB) SequencingObjectForFile(ctx context.Context, fileID int64) (*models.SequencingObject, error) {
	const op errors.Op = "database.SequencingObjectForFile"

	var objectID int64
	err := db.queryRow(ctx, db.DB,
		`SELECT sequencing_object_id FROM sequencing_object_file WHERE sequence_file_id = ?`, fileID).Scan(&objectID)
	if err == sql.ErrNoRows {
		return nil, errors.E(op, errors.KindNotFound, "sequence file is not part of a sequencing object")
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return db.GetSequencingObject(ctx, objectID)
}

// ListSequencingObjectsForSample returns the sample's objects.
func (db *DB) ListSequencingObjectsForSample(ctx context.Context, sampleID int64) ([]*models.SampleSequencingObjectJoin, error) {
	const op errors.Op = "database.ListSequencingObjectsForSample"

	rows, err := db.query(ctx, db.DB,
		`SELECT sequencing_object_id, created_date FROM sample_sequencing_object WHERE sample_id = ? ORDER BY sequencing_object_id`,
		sampleID)
	if err != nil {
		return nil, classify(op, err)
	}
	type ref struct {
		id      int64
		created time.Time
	}
	var refs []ref
	for rows.Next() {
		var r ref
		if err := rows.Scan(&r.id, &r.created); err != nil {
			rows.Close()
			return nil, classify(op, err)
		}
		refs = append(refs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}

	joins := make([]*models.SampleSequencingObjectJoin, 0, len(refs))
	for _, r := range refs {
		obj, err := db.GetSequencingObject(ctx, r.id)
		if err != nil {
			return nil, err
		}
		joins = append(joins, &models.SampleSequencingObjectJoin{SampleID: sampleID, Object: obj, CreatedDate: r.created})
	}
	return joins, nil
}

// SampleForSequencingObject returns the id of the sample holding an object.
func (db *DB) SampleForSequencingObject(ctx context.Context, objectID int64) (int64, error) {
	const op errors.Op = "database.SampleForSequencingObject"

	var sampleID int64
	err := db.queryRow(ctx, db.DB,
		`SELECT sample_id FROM sample_sequencing_object WHERE sequencing_object_id = ?`, objectID).Scan(&sampleID)
	if err == sql.ErrNoRows {
		return 0, errors.E(op, errors.KindNotFound, "sequencing object is not in a sample")
	}
	if err != nil {
		return 0, classify(op, err)
	}
	return sampleID, nil
}

// SetProcessingState records the file processing state of an object.
func (db *DB) SetProcessingState(ctx context.Context, objectID int64, state models.ProcessingState) error {
	_, err := db.exec(ctx, db.DB, `UPDATE sequencing_objects SET processing_state = ? WHERE id = ?`, state, objectID)
	return classify("database.SetProcessingState", err)
}

// UserCanReadSequenceFile reports whether the file belongs to a sample in
// a project userID is a member of.
func (db *DB) UserCanReadSequenceFile(ctx context.Context, userID, fileID int64) (bool, error) {
	return db.any(ctx, `
		SELECT 1 FROM sequencing_object_file sof
		JOIN sample_sequencing_object sso ON sso.sequencing_object_id = sof.sequencing_object_id
		JOIN project_sample ps ON ps.sample_id = sso.sample_id
		JOIN project_user pu ON pu.project_id = ps.project_id
		WHERE sof.sequence_file_id = ? AND pu.user_id = ?`, fileID, userID)
}

// UserCanReadSequencingObject reports whether the object belongs to a sample
// in a project userID is a member of.
func (db *DB) UserCanReadSequencingObject(ctx context.Context, userID, objectID int64) (bool, error) {
	return db.any(ctx, `
		SELECT 1 FROM sample_sequencing_object sso
		JOIN project_sample ps ON ps.sample_id = sso.sample_id
		JOIN project_user pu ON pu.project_id = ps.project_id
		WHERE sso.sequencing_object_id = ? AND pu.user_id = ?`, objectID, userID)
}

// SaveQCEntry stores the read statistics of a file, replacing older ones.
func (db *DB) SaveQCEntry(ctx context.Context, qc *models.QCEntry) error {
	const op errors.Op = "database.SaveQCEntry"

	qc.CreatedDate = now()
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := db.exec(ctx, tx, `DELETE FROM qc_entries WHERE sequence_file_id = ?`, qc.SequenceFileID); err != nil {
			return err
		}
		_, err := db.exec(ctx, tx, `
			INSERT INTO qc_entries (sequence_file_id, read_count, total_bases, min_length, max_length, mean_length, gc_content, created_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			qc.SequenceFileID, qc.ReadCount, qc.TotalBases, qc.MinLength, qc.MaxLength, qc.MeanLength, qc.GCContent, qc.CreatedDate)
		return err
	})
	return classify(op, err)
}

// GetQCEntry returns the read statistics of a file.
func (db *DB) GetQCEntry(ctx context.Context, fileID int64) (*models.QCEntry, error) {
	const op errors.Op = "database.GetQCEntry"

	qc := &models.QCEntry{}
	err := db.queryRow(ctx, db.DB, `
		SELECT sequence_file_id, read_count, total_bases, min_length, max_length, mean_length, gc_content, created_date
		FROM qc_entries WHERE sequence_file_id = ?`, fileID).
		Scan(&qc.SequenceFileID, &qc.ReadCount, &qc.TotalBases, &qc.MinLength, &qc.MaxLength, &qc.MeanLength, &qc.GCContent, &qc.CreatedDate)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(op, "qc entry for sequence file", fileID)
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return qc, nil
}

const referenceFileColumns = `id, file_path, file_revision_number, file_size, created_date`

func scanReferenceFile(row interface{ Scan(...interface{}) error }) (*models.ReferenceFile, error) {
	f := &models.ReferenceFile{}
	err := row.Scan(&f.ID, &f.FilePath, &f.FileRevision, &f.FileSize, &f.CreatedDate)
	return f, err
}

// CreateReferenceFile inserts a reference file record.
func (db *DB) CreateReferenceFile(ctx context.Context, f *models.ReferenceFile) (*models.ReferenceFile, error) {
	const op errors.Op = "database.CreateReferenceFile"

	f.CreatedDate = now()
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		id, err := db.insert(ctx, tx,
			`INSERT INTO reference_files (file_path, file_revision_number, file_size, created_date) VALUES (?, ?, ?, ?)`,
			f.FilePath, f.FileRevision, f.FileSize, f.CreatedDate)
		if err != nil {
			return err
		}
		f.ID = id
		return db.recordRevision(ctx, tx, EntityReferenceFile, id, f, false)
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return f, nil
}

// UpdateReferenceFileContent records a new stored location for a reference file.
func (db *DB) UpdateReferenceFileContent(ctx context.Context, id int64, path string, size int64) (*models.ReferenceFile, error) {
	const op errors.Op = "database.UpdateReferenceFileContent"

	var updated *models.ReferenceFile
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := db.exec(ctx, tx, `
			UPDATE reference_files SET file_path = ?, file_size = ?, file_revision_number = file_revision_number + 1
			WHERE id = ?`, path, size, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.NotFound(op, "reference file", id)
		}
		updated, err = scanReferenceFile(db.queryRow(ctx, tx, `SELECT `+referenceFileColumns+` FROM reference_files WHERE id = ?`, id))
		if err != nil {
			return err
		}
		return db.recordRevision(ctx, tx, EntityReferenceFile, id, updated, false)
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return updated, nil
}

// DeleteReferenceFile removes a reference file record.
func (db *DB) DeleteReferenceFile(ctx context.Context, id int64) error {
	const op errors.Op = "database.DeleteReferenceFile"

	f, err := db.GetReferenceFile(ctx, id)
	if err != nil {
		return errors.Wrap(op, err)
	}
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := db.exec(ctx, tx, `DELETE FROM reference_files WHERE id = ?`, id); err != nil {
			return err
		}
		return db.recordRevision(ctx, tx, EntityReferenceFile, id, f, true)
	})
	return classify(op, err)
}

// GetReferenceFile retrieves a reference file by id.
func (db *DB) GetReferenceFile(ctx context.Context, id int64) (*models.ReferenceFile, error) {
	const op errors.Op = "database.GetReferenceFile"

	f, err := scanReferenceFile(db.queryRow(ctx, db.DB, `SELECT `+referenceFileColumns+` FROM reference_files WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(op, "reference file", id)
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return f, nil
}

// ListReferenceFiles returns every reference file.
func (db *DB) ListReferenceFiles(ctx context.Context) ([]*models.ReferenceFile, error) {
	const op errors.Op = "database.ListReferenceFiles"

	rows, err := db.query(ctx, db.DB, `SELECT `+referenceFileColumns+` FROM reference_files ORDER BY id`)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var files []*models.ReferenceFile
	for rows.Next() {
		f, err := scanReferenceFile(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		files = append(files, f)
	}
	return files, classify(op, rows.Err())
}

// DeleteSequencingObject removes an object and its sequence files. Objects
// used as analysis input cannot be removed.
func (db *DB) DeleteSequencingObject(ctx context.Context, id int64) error {
	const op errors.Op = "database.DeleteSequencingObject"

	obj, err := db.GetSequencingObject(ctx, id)
	if err != nil {
		return errors.Wrap(op, err)
	}
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := db.exec(ctx, tx, `DELETE FROM sequencing_objects WHERE id = ?`, id); err != nil {
			return err
		}
		for i := range obj.Files {
			f := &obj.Files[i]
			if _, err := db.exec(ctx, tx, `DELETE FROM sequence_files WHERE id = ?`, f.ID); err != nil {
				return err
			}
			if err := db.recordRevision(ctx, tx, EntitySequenceFile, f.ID, f, true); err != nil {
				return err
			}
		}
		return nil
	})
	return classify(op, err)
}
