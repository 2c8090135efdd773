package security

import (
	"context"
	"time"

	"github.com/nishad/seqlims/internal/database"
	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
)

// PasswordHistory returns the password hash stored at each revision of a
// user, newest first. *database.DB implements it.
type PasswordHistory interface {
	UserRevisionPasswords(ctx context.Context, userID int64) ([]database.PasswordRevision, error)
}

// PasswordExpiryChecker rejects logins whose password is older than the
// configured number of days.
type PasswordExpiryChecker struct {
	history PasswordHistory
	days    int
	now     func() time.Time
}

// NewPasswordExpiryChecker returns a checker; days <= 0 disables expiry.
func NewPasswordExpiryChecker(history PasswordHistory, days int) *PasswordExpiryChecker {
	return &PasswordExpiryChecker{history: history, days: days, now: time.Now}
}

// PasswordSetDate walks the user's revisions from newest to oldest while the
// stored password equals the current one and returns the date of the oldest
// such revision.
func (c *PasswordExpiryChecker) PasswordSetDate(ctx context.Context, u *models.User) (time.Time, bool, error) {
	revisions, err := c.history.UserRevisionPasswords(ctx, u.ID)
	if err != nil {
		return time.Time{}, false, err
	}
	var (
		set   time.Time
		found bool
	)
	for _, rev := range revisions {
		if rev.Password != u.Password {
			break
		}
		set = rev.Date
		found = true
	}
	return set, found, nil
}

// Check fails with KindCredentialsExpired when u's password was set longer
// ago than the expiry window.
func (c *PasswordExpiryChecker) Check(ctx context.Context, u *models.User) error {
	const op errors.Op = "security.PasswordExpiryChecker.Check"

	if c == nil || c.days <= 0 {
		return nil
	}
	set, found, err := c.PasswordSetDate(ctx, u)
	if err != nil {
		return errors.Wrap(op, err)
	}
	if !found {
		return nil
	}
	expires := set.AddDate(0, 0, c.days)
	if c.now().After(expires) {
		return errors.E(op, errors.KindCredentialsExpired, "user credentials have expired")
	}
	return nil
}
