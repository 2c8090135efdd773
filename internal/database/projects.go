package database

import (
	"context"
	"database/sql"
	"strings"

	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
)

const projectColumns = `id, name, organism, description, remote_url, created_date, modified_date`

func scanProject(row interface{ Scan(...interface{}) error }) (*models.Project, error) {
	p := &models.Project{}
	err := row.Scan(&p.ID, &p.Name, &p.Organism, &p.Description, &p.RemoteURL, &p.CreatedDate, &p.ModifiedDate)
	return p, err
}

// CreateProject inserts a project and, when ownerID is non-zero, makes that
// user its owner in the same transaction.
func (db *DB) CreateProject(ctx context.Context, p *models.Project, ownerID int64) (*models.Project, error) {
	const op errors.Op = "database.CreateProject"

	p.CreatedDate = now()
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		id, err := db.insert(ctx, tx, `
			INSERT INTO projects (name, organism, description, remote_url, created_date)
			VALUES (?, ?, ?, ?, ?)`,
			p.Name, p.Organism, p.Description, p.RemoteURL, p.CreatedDate)
		if err != nil {
			return err
		}
		p.ID = id
		if ownerID != 0 {
			if _, err := db.exec(ctx, tx,
				`INSERT INTO project_user (project_id, user_id, project_role, created_date) VALUES (?, ?, ?, ?)`,
				id, ownerID, models.ProjectOwner, p.CreatedDate); err != nil {
				return err
			}
		}
		return db.recordRevision(ctx, tx, EntityProject, id, p, false)
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return p, nil
}

// GetProject retrieves a project by id.
func (db *DB) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	const op errors.Op = "database.GetProject"

	p, err := scanProject(db.queryRow(ctx, db.DB, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(op, "project", id)
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return p, nil
}

// ListProjects returns every project.
func (db *DB) ListProjects(ctx context.Context) ([]*models.Project, error) {
	return db.listProjects(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY id`)
}

// ListProjectsForUser returns the projects userID is a member of.
func (db *DB) ListProjectsForUser(ctx context.Context, userID int64) ([]*models.Project, error) {
	return db.listProjects(ctx, `
		SELECT p.id, p.name, p.organism, p.description, p.remote_url, p.created_date, p.modified_date
		FROM projects p JOIN project_user pu ON pu.project_id = p.id
		WHERE pu.user_id = ?
		ORDER BY p.id`, userID)
}

// ListProjectsForSample returns the projects containing sampleID.
func (db *DB) ListProjectsForSample(ctx context.Context, sampleID int64) ([]*models.Project, error) {
	return db.listProjects(ctx, `
		SELECT p.id, p.name, p.organism, p.description, p.remote_url, p.created_date, p.modified_date
		FROM projects p JOIN project_sample ps ON ps.project_id = p.id
		WHERE ps.sample_id = ?
		ORDER BY p.id`, sampleID)
}

func (db *DB) listProjects(ctx context.Context, query string, args ...interface{}) ([]*models.Project, error) {
	const op errors.Op = "database.ListProjects"

	rows, err := db.query(ctx, db.DB, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		projects = append(projects, p)
	}
	return projects, classify(op, rows.Err())
}

// DeleteProject removes a project and its memberships. Samples stay.
func (db *DB) DeleteProject(ctx context.Context, id int64) error {
	return db.deleteAudited(ctx, "projects", EntityProject, id)
}

// deleteAudited deletes a row and records a final revision marked deleted.
func (db *DB) deleteAudited(ctx context.Context, table, entityType string, id int64) error {
	const op errors.Op = "database.delete"

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		snapshot, err := db.loadEntity(ctx, tx, table, id)
		if err == sql.ErrNoRows {
			return errors.NotFound(op, entityType, id)
		}
		if err != nil {
			return err
		}
		if _, err := db.exec(ctx, tx, `DELETE FROM `+MustTableName(table)+` WHERE id = ?`, id); err != nil {
			return err
		}
		return db.recordRevision(ctx, tx, entityType, id, snapshot, true)
	})
	return classify(op, err)
}

// AddUserToProject grants role on a project, replacing any existing role.
func (db *DB) AddUserToProject(ctx context.Context, projectID, userID int64, role models.ProjectRole) (*models.ProjectUserJoin, error) {
	const op errors.Op = "database.AddUserToProject"

	join := &models.ProjectUserJoin{ProjectID: projectID, UserID: userID, Role: role, CreatedDate: now()}
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := db.exec(ctx, tx, `DELETE FROM project_user WHERE project_id = ? AND user_id = ?`, projectID, userID); err != nil {
			return err
		}
		_, err := db.exec(ctx, tx,
			`INSERT INTO project_user (project_id, user_id, project_role, created_date) VALUES (?, ?, ?, ?)`,
			projectID, userID, role, join.CreatedDate)
		return err
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return join, nil
}

// RemoveUserFromProject revokes a user's membership.
func (db *DB) RemoveUserFromProject(ctx context.Context, projectID, userID int64) error {
	const op errors.Op = "database.RemoveUserFromProject"

	res, err := db.exec(ctx, db.DB, `DELETE FROM project_user WHERE project_id = ? AND user_id = ?`, projectID, userID)
	if err != nil {
		return classify(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.E(op, errors.KindNotFound, "user is not a member of the project")
	}
	return nil
}

// ListProjectUsers returns the memberships of a project.
func (db *DB) ListProjectUsers(ctx context.Context, projectID int64) ([]*models.ProjectUserJoin, error) {
	const op errors.Op = "database.ListProjectUsers"

	rows, err := db.query(ctx, db.DB,
		`SELECT project_id, user_id, project_role, created_date FROM project_user WHERE project_id = ? ORDER BY user_id`,
		projectID)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var joins []*models.ProjectUserJoin
	for rows.Next() {
		j := &models.ProjectUserJoin{}
		if err := rows.Scan(&j.ProjectID, &j.UserID, &j.Role, &j.CreatedDate); err != nil {
			return nil, classify(op, err)
		}
		joins = append(joins, j)
	}
	return joins, classify(op, rows.Err())
}

// ProjectRoleFor returns the role userID holds on projectID, if any.
func (db *DB) ProjectRoleFor(ctx context.Context, projectID, userID int64) (models.ProjectRole, bool, error) {
	var role models.ProjectRole
	err := db.queryRow(ctx, db.DB,
		`SELECT project_role FROM project_user WHERE project_id = ? AND user_id = ?`, projectID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify("database.ProjectRoleFor", err)
	}
	return role, true, nil
}

const sampleColumns = `id, sample_name, description, organism, strain, collected_by,
	geographic_location_name, isolation_source, collection_date, created_date, modified_date`

func scanSample(row interface{ Scan(...interface{}) error }) (*models.Sample, error) {
	s := &models.Sample{}
	err := row.Scan(&s.ID, &s.SampleName, &s.Description, &s.Organism, &s.Strain, &s.CollectedBy,
		&s.GeographicLocation, &s.IsolationSource, &s.CollectionDate, &s.CreatedDate, &s.ModifiedDate)
	return s, err
}

// CreateSampleInProject inserts a sample owned by projectID.
func (db *DB) CreateSampleInProject(ctx context.Context, projectID int64, s *models.Sample) (*models.ProjectSampleJoin, error) {
	const op errors.Op = "database.CreateSampleInProject"

	s.CreatedDate = now()
	join := &models.ProjectSampleJoin{ProjectID: projectID, Owner: true, CreatedDate: s.CreatedDate}
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		id, err := db.insert(ctx, tx, `
			INSERT INTO samples (sample_name, description, organism, strain, collected_by,
				geographic_location_name, isolation_source, collection_date, created_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.SampleName, s.Description, s.Organism, s.Strain, s.CollectedBy,
			s.GeographicLocation, s.IsolationSource, s.CollectionDate, s.CreatedDate)
		if err != nil {
			return err
		}
		s.ID = id
		join.SampleID = id
		if _, err := db.exec(ctx, tx,
			`INSERT INTO project_sample (project_id, sample_id, owner, created_date) VALUES (?, ?, ?, ?)`,
			projectID, id, true, s.CreatedDate); err != nil {
			return err
		}
		return db.recordRevision(ctx, tx, EntitySample, id, s, false)
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return join, nil
}

// AddSampleToProject shares an existing sample with another project.
func (db *DB) AddSampleToProject(ctx context.Context, projectID, sampleID int64, owner bool) (*models.ProjectSampleJoin, error) {
	const op errors.Op = "database.AddSampleToProject"

	join := &models.ProjectSampleJoin{ProjectID: projectID, SampleID: sampleID, Owner: owner, CreatedDate: now()}
	_, err := db.exec(ctx, db.DB,
		`INSERT INTO project_sample (project_id, sample_id, owner, created_date) VALUES (?, ?, ?, ?)`,
		projectID, sampleID, owner, join.CreatedDate)
	if err != nil {
		return nil, classify(op, err)
	}
	return join, nil
}

// RemoveSampleFromProject unlinks a sample from a project.
func (db *DB) RemoveSampleFromProject(ctx context.Context, projectID, sampleID int64) error {
	res, err := db.exec(ctx, db.DB, `DELETE FROM project_sample WHERE project_id = ? AND sample_id = ?`, projectID, sampleID)
	if err != nil {
		return classify("database.RemoveSampleFromProject", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.E(errors.Op("database.RemoveSampleFromProject"), errors.KindNotFound, "sample is not in the project")
	}
	return nil
}

// GetSample retrieves a sample by id.
func (db *DB) GetSample(ctx context.Context, id int64) (*models.Sample, error) {
	const op errors.Op = "database.GetSample"

	s, err := scanSample(db.queryRow(ctx, db.DB, `SELECT `+sampleColumns+` FROM samples WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(op, "sample", id)
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return s, nil
}

// ListSamplesForProject returns the samples of a project.
func (db *DB) ListSamplesForProject(ctx context.Context, projectID int64) ([]*models.Sample, error) {
	return db.listSamples(ctx, `
		SELECT s.id, s.sample_name, s.description, s.organism, s.strain, s.collected_by,
			s.geographic_location_name, s.isolation_source, s.collection_date, s.created_date, s.modified_date
		FROM samples s JOIN project_sample ps ON ps.sample_id = s.id
		WHERE ps.project_id = ?
		ORDER BY s.id`, projectID)
}

// SearchSamplesForProject filters the samples of a project by a
// case-insensitive substring of the sample name.
func (db *DB) SearchSamplesForProject(ctx context.Context, projectID int64, name string) ([]*models.Sample, error) {
	return db.listSamples(ctx, `
		SELECT s.id, s.sample_name, s.description, s.organism, s.strain, s.collected_by,
			s.geographic_location_name, s.isolation_source, s.collection_date, s.created_date, s.modified_date
		FROM samples s JOIN project_sample ps ON ps.sample_id = s.id
		WHERE ps.project_id = ? AND LOWER(s.sample_name) LIKE ?
		ORDER BY s.id`, projectID, "%"+strings.ToLower(name)+"%")
}

// ListSamples returns every sample.
func (db *DB) ListSamples(ctx context.Context) ([]*models.Sample, error) {
	return db.listSamples(ctx, `SELECT `+sampleColumns+` FROM samples ORDER BY id`)
}

func (db *DB) listSamples(ctx context.Context, query string, args ...interface{}) ([]*models.Sample, error) {
	const op errors.Op = "database.ListSamples"

	rows, err := db.query(ctx, db.DB, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var samples []*models.Sample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		samples = append(samples, s)
	}
	return samples, classify(op, rows.Err())
}

// SampleExists reports whether a sample with id exists.
func (db *DB) SampleExists(ctx context.Context, id int64) (bool, error) {
	return db.exists(ctx, "samples", id)
}

// ProjectExists reports whether a project with id exists.
func (db *DB) ProjectExists(ctx context.Context, id int64) (bool, error) {
	return db.exists(ctx, "projects", id)
}

// DeleteSample removes a sample from every project.
func (db *DB) DeleteSample(ctx context.Context, id int64) error {
	return db.deleteAudited(ctx, "samples", EntitySample, id)
}

// UserCanReadSample reports whether userID is a member of any project
// containing sampleID.
func (db *DB) UserCanReadSample(ctx context.Context, userID, sampleID int64) (bool, error) {
	return db.any(ctx, `
		SELECT 1 FROM project_sample ps
		JOIN project_user pu ON pu.project_id = ps.project_id
		WHERE ps.sample_id = ? AND pu.user_id = ?`, sampleID, userID)
}

// UserOwnsSampleProject reports whether userID owns a project containing sampleID.
func (db *DB) UserOwnsSampleProject(ctx context.Context, userID, sampleID int64) (bool, error) {
	return db.any(ctx, `
		SELECT 1 FROM project_sample ps
		JOIN project_user pu ON pu.project_id = ps.project_id
		WHERE ps.sample_id = ? AND pu.user_id = ? AND pu.project_role = ?`,
		sampleID, userID, models.ProjectOwner)
}

// any reports whether query returns at least one row.
func (db *DB) any(ctx context.Context, query string, args ...interface{}) (bool, error) {
	var one int
	err := db.queryRow(ctx, db.DB, query+" LIMIT 1", args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, classify("database.any", err)
	}
	return true, nil
}
