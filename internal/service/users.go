package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/security"
)

// UserService manages platform accounts.
type UserService struct {
	*base
	cost     int
	expiry   *security.PasswordExpiryChecker
	notifier UserNotifier
}

// Create stores a new account with the given clear-text password.
// Administrators may create any account; managers may create non-admin
// accounts.
func (s *UserService) Create(ctx context.Context, u *models.User, password string) (*models.User, error) {
	const op errors.Op = "service.UserService.Create"

	p, err := security.RequireAnyRole(ctx, op, models.RoleAdmin, models.RoleManager)
	if err != nil {
		return nil, err
	}
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	if _, err := models.AsRole(string(u.Role)); err != nil {
		return nil, errors.E(op, errors.KindInvalidProperty, err)
	}
	if u.Role == models.RoleAdmin && !p.IsAdmin() {
		return nil, errors.Forbidden(op, "only administrators may create administrators")
	}
	if strings.TrimSpace(u.Username) == "" {
		return nil, errors.E(op, errors.KindInvalidProperty, "username is required")
	}
	if !strings.Contains(u.Email, "@") {
		return nil, errors.E(op, errors.KindInvalidProperty, "a valid email address is required")
	}
	if err := security.ValidatePassword(password); err != nil {
		return nil, errors.Wrap(op, err)
	}
	hash, err := security.HashPassword(password, s.cost)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	u.Password = hash
	u.Enabled = true
	u.CredentialsNonExpired = true

	created, err := s.db.CreateUser(ctx, u)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	s.logger.Info("user created", zap.String("username", created.Username), zap.String("role", string(created.Role)),
		zap.Stringer("by", p))
	if s.notifier != nil {
		if err := s.notifier.NotifyUserCreated(ctx, created); err != nil {
			s.logger.Warn("failed to notify new user", zap.String("username", created.Username), zap.Error(err))
		}
	}
	return created, nil
}

// Read returns a user by id.
func (s *UserService) Read(ctx context.Context, id int64) (*models.User, error) {
	const op errors.Op = "service.UserService.Read"

	if _, err := security.RequirePrincipal(ctx, op); err != nil {
		return nil, err
	}
	u, err := s.db.GetUser(ctx, id)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	return u, nil
}

// GetByUsername returns a user by login name.
func (s *UserService) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	const op errors.Op = "service.UserService.GetByUsername"

	if _, err := security.RequirePrincipal(ctx, op); err != nil {
		return nil, err
	}
	u, err := s.db.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	return u, nil
}

// List returns every account.
func (s *UserService) List(ctx context.Context) ([]*models.User, error) {
	const op errors.Op = "service.UserService.List"

	if _, err := security.RequireAnyRole(ctx, op, models.RoleAdmin, models.RoleManager); err != nil {
		return nil, err
	}
	users, err := s.db.ListUsers(ctx)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	return users, nil
}

// adminOnlyUserFields may only be changed by administrators.
var adminOnlyUserFields = []string{"system_role", "enabled", "credentials_non_expired"}

// Update applies a partial update to a user. Users may edit their own
// profile; role and account state changes need an administrator.
func (s *UserService) Update(ctx context.Context, id int64, fields map[string]interface{}) (*models.User, error) {
	const op errors.Op = "service.UserService.Update"

	p, err := security.RequirePrincipal(ctx, op)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() {
		if p.UserID != id {
			return nil, errors.Forbidden(op, p.String()+" may only update their own account")
		}
		for _, f := range adminOnlyUserFields {
			if _, ok := fields[f]; ok {
				return nil, errors.Forbidden(op, "only administrators may change "+f)
			}
		}
	}
	if _, ok := fields["password"]; ok {
		return nil, errors.E(op, errors.KindInvalidProperty, "use the password change operation to set a password")
	}
	fields = normalizeFields(fields)
	if role, ok, err := stringField(op, fields, "system_role"); err != nil {
		return nil, err
	} else if ok {
		r, err := models.AsRole(role)
		if err != nil {
			return nil, errors.E(op, errors.KindInvalidProperty, err)
		}
		fields["system_role"] = string(r)
	}

	if err := s.db.UpdateFields(ctx, "users", id, fields); err != nil {
		return nil, errors.Wrap(op, err)
	}
	return s.db.GetUser(ctx, id)
}

// ChangePassword sets a new password for a user. Users change their own
// password by presenting the current one; administrators may reset any.
func (s *UserService) ChangePassword(ctx context.Context, id int64, current, next string) error {
	const op errors.Op = "service.UserService.ChangePassword"

	p, err := security.RequirePrincipal(ctx, op)
	if err != nil {
		return err
	}
	u, err := s.db.GetUser(ctx, id)
	if err != nil {
		return errors.Wrap(op, err)
	}
	if !p.IsAdmin() {
		if p.UserID != id {
			return errors.Forbidden(op, p.String()+" may only change their own password")
		}
		if !security.CheckPassword(u.Password, current) {
			return errors.E(op, errors.KindUnauthorized, "current password is incorrect")
		}
	}
	if security.CheckPassword(u.Password, next) {
		return errors.E(op, errors.KindInvalidProperty, "new password must differ from the current password")
	}
	if err := security.ValidatePassword(next); err != nil {
		return errors.Wrap(op, err)
	}
	hash, err := security.HashPassword(next, s.cost)
	if err != nil {
		return errors.Wrap(op, err)
	}
	return errors.Wrap(op, s.db.UpdateUserPassword(ctx, id, hash))
}

// Authenticate checks a username and password. Unknown users, bad passwords
// and disabled accounts fail with KindUnauthorized; expired passwords fail
// with KindCredentialsExpired.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	const op errors.Op = "service.UserService.Authenticate"

	u, err := s.db.GetUserByUsername(ctx, username)
	if errors.IsKind(err, errors.KindNotFound) {
		return nil, errors.E(op, errors.KindUnauthorized, "bad credentials")
	}
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	if !security.CheckPassword(u.Password, password) {
		return nil, errors.E(op, errors.KindUnauthorized, "bad credentials")
	}
	if !u.Enabled {
		return nil, errors.E(op, errors.KindUnauthorized, "account is disabled")
	}
	if !u.CredentialsNonExpired {
		return nil, errors.E(op, errors.KindCredentialsExpired, "user credentials have expired")
	}
	if err := s.expiry.Check(ctx, u); err != nil {
		return nil, errors.Wrap(op, err)
	}

	at := time.Now().UTC()
	if err := s.db.RecordLogin(ctx, u.ID, at); err != nil {
		s.logger.Warn("failed to record login", zap.String("username", u.Username), zap.Error(err))
	} else {
		u.LastLogin = &at
	}
	return u, nil
}
