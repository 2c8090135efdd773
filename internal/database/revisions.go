package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
)

type revisionUserKey struct{}

// WithRevisionUser records userID as the author of revisions written with ctx.
func WithRevisionUser(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, revisionUserKey{}, userID)
}

func revisionUser(ctx context.Context) *int64 {
	if id, ok := ctx.Value(revisionUserKey{}).(int64); ok && id > 0 {
		return &id
	}
	return nil
}

// recordRevision appends a snapshot of entity to its revision history.
// It must run inside the transaction that changed the entity.
func (db *DB) recordRevision(ctx context.Context, q queryer, entityType string, id int64, entity interface{}, deleted bool) error {
	snapshot, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("snapshot %s %d: %w", entityType, id, err)
	}

	var last int64
	err = db.queryRow(ctx, q,
		`SELECT COALESCE(MAX(revision_number), 0) FROM revisions WHERE entity_type = ? AND entity_id = ?`,
		entityType, id).Scan(&last)
	if err != nil {
		return fmt.Errorf("next revision for %s %d: %w", entityType, id, err)
	}

	_, err = db.exec(ctx, q, `
		INSERT INTO revisions (entity_type, entity_id, revision_number, revision_date, user_id, deleted, snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entityType, id, last+1, now(), revisionUser(ctx), deleted, string(snapshot))
	return err
}

// FindRevisions returns the revisions of an entity, newest first.
func (db *DB) FindRevisions(ctx context.Context, entityType string, id int64) ([]models.Revision, error) {
	const op errors.Op = "database.FindRevisions"

	rows, err := db.query(ctx, db.DB, `
		SELECT id, entity_type, entity_id, revision_number, revision_date, user_id, deleted, snapshot
		FROM revisions
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY revision_number DESC`, entityType, id)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var revisions []models.Revision
	for rows.Next() {
		var (
			r        models.Revision
			snapshot string
		)
		if err := rows.Scan(&r.ID, &r.EntityType, &r.EntityID, &r.Number, &r.Date, &r.UserID, &r.Deleted, &snapshot); err != nil {
			return nil, classify(op, err)
		}
		r.Snapshot = json.RawMessage(snapshot)
		revisions = append(revisions, r)
	}
	return revisions, classify(op, rows.Err())
}

// UserRevisionPasswords returns the stored password hash of each user
// revision paired with its date, newest first.
func (db *DB) UserRevisionPasswords(ctx context.Context, userID int64) ([]PasswordRevision, error) {
	revisions, err := db.FindRevisions(ctx, EntityUser, userID)
	if err != nil {
		return nil, err
	}

	counter := errors.NewSkipCounter("decode user revisions")
	defer counter.Report()

	out := make([]PasswordRevision, 0, len(revisions))
	for _, rev := range revisions {
		var snap userSnapshot
		if err := rev.Decode(&snap); err != nil {
			counter.Skip(err, fmt.Sprintf("revision %d", rev.Number))
			continue
		}
		out = append(out, PasswordRevision{Password: snap.Password, Date: rev.Date})
	}
	return out, nil
}
