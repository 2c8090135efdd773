package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
)

const remoteAPIColumns = `id, name, service_uri, client_id, client_secret, description, created_date`

func scanRemoteAPI(row interface{ Scan(...interface{}) error }) (*models.RemoteAPI, error) {
	a := &models.RemoteAPI{}
	err := row.Scan(&a.ID, &a.Name, &a.ServiceURI, &a.ClientID, &a.ClientSecret, &a.Description, &a.CreatedDate)
	return a, err
}

// CreateRemoteAPI registers a peer instance.
func (db *DB) CreateRemoteAPI(ctx context.Context, a *models.RemoteAPI) (*models.RemoteAPI, error) {
	const op errors.Op = "database.CreateRemoteAPI"

	a.CreatedDate = now()
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		id, err := db.insert(ctx, tx, `
			INSERT INTO remote_apis (name, service_uri, client_id, client_secret, description, created_date)
			VALUES (?, ?, ?, ?, ?, ?)`,
			a.Name, a.ServiceURI, a.ClientID, a.ClientSecret, a.Description, a.CreatedDate)
		if err != nil {
			return err
		}
		a.ID = id
		return db.recordRevision(ctx, tx, EntityRemoteAPI, id, a, false)
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return a, nil
}

// GetRemoteAPI retrieves a peer by id.
func (db *DB) GetRemoteAPI(ctx context.Context, id int64) (*models.RemoteAPI, error) {
	const op errors.Op = "database.GetRemoteAPI"

	a, err := scanRemoteAPI(db.queryRow(ctx, db.DB, `SELECT `+remoteAPIColumns+` FROM remote_apis WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(op, "remote api", id)
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return a, nil
}

// GetRemoteAPIByURI retrieves the peer whose service URI is uri.
func (db *DB) GetRemoteAPIByURI(ctx context.Context, uri string) (*models.RemoteAPI, error) {
	const op errors.Op = "database.GetRemoteAPIByURI"

	a, err := scanRemoteAPI(db.queryRow(ctx, db.DB, `SELECT `+remoteAPIColumns+` FROM remote_apis WHERE service_uri = ?`, uri))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(op, "remote api", uri)
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return a, nil
}

// ListRemoteAPIs returns every registered peer.
func (db *DB) ListRemoteAPIs(ctx context.Context) ([]*models.RemoteAPI, error) {
	const op errors.Op = "database.ListRemoteAPIs"

	rows, err := db.query(ctx, db.DB, `SELECT `+remoteAPIColumns+` FROM remote_apis ORDER BY id`)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var apis []*models.RemoteAPI
	for rows.Next() {
		a, err := scanRemoteAPI(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		apis = append(apis, a)
	}
	return apis, classify(op, rows.Err())
}

// DeleteRemoteAPI removes a peer and its stored tokens.
func (db *DB) DeleteRemoteAPI(ctx context.Context, id int64) error {
	return db.deleteAudited(ctx, "remote_apis", EntityRemoteAPI, id)
}

// SaveRemoteAPIToken stores the token of a user for a peer, replacing any
// previous one.
func (db *DB) SaveRemoteAPIToken(ctx context.Context, t *models.RemoteAPIToken) (*models.RemoteAPIToken, error) {
	const op errors.Op = "database.SaveRemoteAPIToken"

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := db.exec(ctx, tx,
			`DELETE FROM remote_api_tokens WHERE remote_api_id = ? AND user_id = ?`, t.RemoteAPIID, t.UserID); err != nil {
			return err
		}
		id, err := db.insert(ctx, tx, `
			INSERT INTO remote_api_tokens (remote_api_id, user_id, token, expiry_date)
			VALUES (?, ?, ?, ?)`, t.RemoteAPIID, t.UserID, t.Token, t.ExpiryDate.UTC())
		if err != nil {
			return err
		}
		t.ID = id
		return nil
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return t, nil
}

// GetRemoteAPIToken returns the token a user holds for a peer. Expired
// tokens are reported as KindCredentialsExpired.
func (db *DB) GetRemoteAPIToken(ctx context.Context, apiID, userID int64, at time.Time) (*models.RemoteAPIToken, error) {
	const op errors.Op = "database.GetRemoteAPIToken"

	t := &models.RemoteAPIToken{}
	err := db.queryRow(ctx, db.DB, `
		SELECT id, remote_api_id, user_id, token, expiry_date
		FROM remote_api_tokens WHERE remote_api_id = ? AND user_id = ?`, apiID, userID).
		Scan(&t.ID, &t.RemoteAPIID, &t.UserID, &t.Token, &t.ExpiryDate)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(op, "remote api token", apiID)
	}
	if err != nil {
		return nil, classify(op, err)
	}
	if t.IsExpired(at) {
		return nil, errors.E(op, errors.KindCredentialsExpired, "remote api token has expired")
	}
	return t, nil
}

// DeleteRemoteAPIToken removes the token a user holds for a peer.
func (db *DB) DeleteRemoteAPIToken(ctx context.Context, apiID, userID int64) error {
	_, err := db.exec(ctx, db.DB, `DELETE FROM remote_api_tokens WHERE remote_api_id = ? AND user_id = ?`, apiID, userID)
	return classify("database.DeleteRemoteAPIToken", err)
}
