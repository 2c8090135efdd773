package security

import (
	"context"
	"fmt"

	"github.com/nishad/seqlims/internal/database"
	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID   int64       `json:"user_id"`
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
	ClientID string      `json:"client_id,omitempty"` // set for client_credentials tokens
}

// SystemUsername names the principal scheduled tasks run as.
const SystemUsername = "system"

// SystemPrincipal is the administrative identity of background work.
func SystemPrincipal() *Principal {
	return &Principal{Username: SystemUsername, Role: models.RoleAdmin}
}

// PrincipalFor builds the principal of a stored user.
func PrincipalFor(u *models.User) *Principal {
	return &Principal{UserID: u.ID, Username: u.Username, Role: u.Role}
}

func (p *Principal) String() string {
	if p == nil {
		return "anonymous"
	}
	return fmt.Sprintf("%s(%s)", p.Username, p.Role)
}

// IsAdmin reports whether p holds ROLE_ADMIN.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == models.RoleAdmin
}

// HasRole reports whether p holds role. Administrators hold every role.
func (p *Principal) HasRole(role models.Role) bool {
	if p == nil {
		return role == models.RoleAnonymous
	}
	return p.Role == role || p.Role == models.RoleAdmin
}

// HasAnyRole reports whether p holds at least one of roles.
func (p *Principal) HasAnyRole(roles ...models.Role) bool {
	for _, r := range roles {
		if p.HasRole(r) {
			return true
		}
	}
	return false
}

type principalKey struct{}

// WithPrincipal returns ctx carrying p. Revisions written under the
// returned context are attributed to p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	ctx = context.WithValue(ctx, principalKey{}, p)
	if p != nil && p.UserID > 0 {
		ctx = database.WithRevisionUser(ctx, p.UserID)
	}
	return ctx
}

// AsSystem returns ctx running as the system principal.
func AsSystem(ctx context.Context) context.Context {
	return WithPrincipal(ctx, SystemPrincipal())
}

// PrincipalFrom returns the principal carried by ctx.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

// RequirePrincipal returns the principal of ctx or an Unauthorized error.
func RequirePrincipal(ctx context.Context, op errors.Op) (*Principal, error) {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return nil, errors.E(op, errors.KindUnauthorized, "authentication required")
	}
	return p, nil
}

// RequireAnyRole returns the principal of ctx when it holds one of roles.
func RequireAnyRole(ctx context.Context, op errors.Op, roles ...models.Role) (*Principal, error) {
	p, err := RequirePrincipal(ctx, op)
	if err != nil {
		return nil, err
	}
	if !p.HasAnyRole(roles...) {
		return nil, errors.Forbidden(op, fmt.Sprintf("%s may not perform this operation", p))
	}
	return p, nil
}
