package database

import (
	"context"
	"database/sql"
	"strings"

	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
)

const relationshipColumns = `id, subject_type, subject_id, predicate, object_type, object_id, created_date`

func scanRelationship(row interface{ Scan(...interface{}) error }) (*models.Relationship, error) {
	r := &models.Relationship{}
	err := row.Scan(&r.ID, &r.SubjectType, &r.SubjectID, &r.Predicate, &r.ObjectType, &r.ObjectID, &r.CreatedDate)
	return r, err
}

// CreateRelationship links a subject to an object under predicate.
func (db *DB) CreateRelationship(ctx context.Context, r *models.Relationship) (*models.Relationship, error) {
	const op errors.Op = "database.CreateRelationship"

	if r.SubjectType == "" || r.ObjectType == "" || r.Predicate == "" {
		return nil, errors.E(op, errors.KindInvalidProperty, "relationship needs subject, predicate and object")
	}
	r.CreatedDate = now()
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		id, err := db.insert(ctx, tx, `
			INSERT INTO relationships (subject_type, subject_id, predicate, object_type, object_id, created_date)
			VALUES (?, ?, ?, ?, ?, ?)`,
			r.SubjectType, r.SubjectID, r.Predicate, r.ObjectType, r.ObjectID, r.CreatedDate)
		if err != nil {
			return err
		}
		r.ID = id
		return db.recordRevision(ctx, tx, EntityRelationship, id, r, false)
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return r, nil
}

// GetRelationship retrieves a relationship by id.
func (db *DB) GetRelationship(ctx context.Context, id int64) (*models.Relationship, error) {
	const op errors.Op = "database.GetRelationship"

	r, err := scanRelationship(db.queryRow(ctx, db.DB, `SELECT `+relationshipColumns+` FROM relationships WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(op, "relationship", id)
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return r, nil
}

// RelationshipsForSubject returns the relationships whose subject is the given entity.
func (db *DB) RelationshipsForSubject(ctx context.Context, subjectType string, subjectID int64) ([]*models.Relationship, error) {
	return db.listRelationships(ctx, `SELECT `+relationshipColumns+` FROM relationships
		WHERE subject_type = ? AND subject_id = ? ORDER BY id`, subjectType, subjectID)
}

// RelationshipsForObject returns the relationships whose object is the given entity.
func (db *DB) RelationshipsForObject(ctx context.Context, objectType string, objectID int64) ([]*models.Relationship, error) {
	return db.listRelationships(ctx, `SELECT `+relationshipColumns+` FROM relationships
		WHERE object_type = ? AND object_id = ? ORDER BY id`, objectType, objectID)
}

// FindRelationships returns the relationships of a subject under predicate.
func (db *DB) FindRelationships(ctx context.Context, subjectType string, subjectID int64, predicate string) ([]*models.Relationship, error) {
	return db.listRelationships(ctx, `SELECT `+relationshipColumns+` FROM relationships
		WHERE subject_type = ? AND subject_id = ? AND predicate = ? ORDER BY id`, subjectType, subjectID, predicate)
}

func (db *DB) listRelationships(ctx context.Context, query string, args ...interface{}) ([]*models.Relationship, error) {
	const op errors.Op = "database.ListRelationships"

	rows, err := db.query(ctx, db.DB, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var out []*models.Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		out = append(out, r)
	}
	return out, classify(op, rows.Err())
}

// DeleteRelationship removes a relationship and records its final revision.
func (db *DB) DeleteRelationship(ctx context.Context, id int64) error {
	const op errors.Op = "database.DeleteRelationship"

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		r, err := scanRelationship(db.queryRow(ctx, tx, `SELECT `+relationshipColumns+` FROM relationships WHERE id = ?`, id))
		if err == sql.ErrNoRows {
			return errors.NotFound(op, "relationship", id)
		}
		if err != nil {
			return err
		}
		if _, err := db.exec(ctx, tx, `DELETE FROM relationships WHERE id = ?`, id); err != nil {
			return err
		}
		return db.recordRevision(ctx, tx, EntityRelationship, id, r, true)
	})
	return classify(op, err)
}

// RelationshipsByPredicate returns every relationship under one of predicates.
func (db *DB) RelationshipsByPredicate(ctx context.Context, predicates ...string) ([]*models.Relationship, error) {
	if len(predicates) == 0 {
		return nil, nil
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(predicates)), ", ")
	args := make([]interface{}, len(predicates))
	for i, p := range predicates {
		args[i] = p
	}
	return db.listRelationships(ctx, `SELECT `+relationshipColumns+` FROM relationships
		WHERE predicate IN (`+marks+`) ORDER BY id`, args...)
}
