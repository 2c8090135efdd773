package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
)

// userSnapshot keeps the password hash in user revisions so that password
// age can be derived from history.
type userSnapshot struct {
	models.User
	Password string `json:"password"`
}

// PasswordRevision is the password hash a user had at a revision.
type PasswordRevision struct {
	Password string
	Date     time.Time
}

const userColumns = `id, username, email, first_name, last_name, phone_number, password,
	system_role, enabled, credentials_non_expired, last_login, created_date, modified_date`

func scanUser(row interface{ Scan(...interface{}) error }) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.PhoneNumber, &u.Password,
		&u.Role, &u.Enabled, &u.CredentialsNonExpired, &u.LastLogin, &u.CreatedDate, &u.ModifiedDate)
	return u, err
}

// CreateUser inserts a user; Password must already be hashed.
func (db *DB) CreateUser(ctx context.Context, u *models.User) (*models.User, error) {
	const op errors.Op = "database.CreateUser"

	u.CreatedDate = now()
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		id, err := db.insert(ctx, tx, `
			INSERT INTO users (username, email, first_name, last_name, phone_number, password,
				system_role, enabled, credentials_non_expired, created_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			u.Username, u.Email, u.FirstName, u.LastName, u.PhoneNumber, u.Password,
			u.Role, u.Enabled, u.CredentialsNonExpired, u.CreatedDate)
		if err != nil {
			return err
		}
		u.ID = id
		return db.recordRevision(ctx, tx, EntityUser, id, userSnapshot{User: *u, Password: u.Password}, false)
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return u, nil
}

// GetUser retrieves a user by id.
func (db *DB) GetUser(ctx context.Context, id int64) (*models.User, error) {
	const op errors.Op = "database.GetUser"

	u, err := scanUser(db.queryRow(ctx, db.DB, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(op, "user", id)
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return u, nil
}

// GetUserByUsername retrieves a user by login name.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	const op errors.Op = "database.GetUserByUsername"

	u, err := scanUser(db.queryRow(ctx, db.DB, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(op, "user", username)
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return u, nil
}

// ListUsers returns every user ordered by username.
func (db *DB) ListUsers(ctx context.Context) ([]*models.User, error) {
	const op errors.Op = "database.ListUsers"

	rows, err := db.query(ctx, db.DB, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		users = append(users, u)
	}
	return users, classify(op, rows.Err())
}

// UserExists reports whether a user with id exists.
func (db *DB) UserExists(ctx context.Context, id int64) (bool, error) {
	return db.exists(ctx, "users", id)
}

// UpdateUserPassword stores a new password hash and re-enables expired credentials.
func (db *DB) UpdateUserPassword(ctx context.Context, id int64, hash string) error {
	const op errors.Op = "database.UpdateUserPassword"

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := db.exec(ctx, tx,
			`UPDATE users SET password = ?, credentials_non_expired = ?, modified_date = ? WHERE id = ?`,
			hash, true, now(), id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.NotFound(op, "user", id)
		}
		return db.snapshotUser(ctx, tx, id)
	})
	return classify(op, err)
}

// RecordLogin sets the last login time without creating a revision.
func (db *DB) RecordLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := db.exec(ctx, db.DB, `UPDATE users SET last_login = ? WHERE id = ?`, at.UTC(), id)
	return classify("database.RecordLogin", err)
}

func (db *DB) snapshotUser(ctx context.Context, q queryer, id int64) error {
	u, err := scanUser(db.queryRow(ctx, q, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		return err
	}
	return db.recordRevision(ctx, q, EntityUser, id, userSnapshot{User: *u, Password: u.Password}, false)
}

// exists checks for a row with the given id in a whitelisted table.
func (db *DB) exists(ctx context.Context, table string, id int64) (bool, error) {
	safeTable, err := SafeTableName(table)
	if err != nil {
		return false, err
	}
	var one int
	err = db.queryRow(ctx, db.DB, `SELECT 1 FROM `+safeTable+` WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, classify("database.exists", err)
	}
	return true, nil
}
