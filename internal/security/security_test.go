package security

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nishad/seqlims/internal/database"
	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/testutil"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("Secr3t!pass", 4)
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "Secr3t!pass"))
	assert.False(t, CheckPassword(hash, "secr3t!pass"))
	assert.False(t, CheckPassword("not-a-hash", "Secr3t!pass"))
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		ok       bool
		problem  string
	}{
		{"Password1!", true, ""},
		{"Pa1!", false, "at least 8"},
		{"password1!", false, "upper case"},
		{"PASSWORD1!", false, "lower case"},
		{"Password!!", false, "digit"},
		{"Password12", false, "symbol"},
	}
	for _, tt := range tests {
		t.Run(tt.password, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindInvalidProperty))
			assert.Contains(t, err.Error(), tt.problem)
		})
	}
}

func TestPrincipalRoles(t *testing.T) {
	user := &Principal{UserID: 1, Username: "u", Role: models.RoleUser}
	admin := SystemPrincipal()

	assert.True(t, user.HasRole(models.RoleUser))
	assert.False(t, user.HasRole(models.RoleSequencer))
	assert.True(t, user.HasAnyRole(models.RoleSequencer, models.RoleUser))
	assert.True(t, admin.HasRole(models.RoleSequencer), "admin holds every role")
	assert.True(t, admin.IsAdmin())

	var anonymous *Principal
	assert.False(t, anonymous.IsAdmin())
	assert.False(t, anonymous.HasRole(models.RoleUser))
	assert.Equal(t, "anonymous", anonymous.String())
}

func TestWithPrincipal(t *testing.T) {
	ctx := context.Background()
	_, ok := PrincipalFrom(ctx)
	assert.False(t, ok)

	_, err := RequirePrincipal(ctx, "test")
	assert.True(t, errors.IsKind(err, errors.KindUnauthorized))

	p := &Principal{UserID: 7, Username: "u", Role: models.RoleUser}
	ctx = WithPrincipal(ctx, p)
	got, ok := PrincipalFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, p, got)

	_, err = RequireAnyRole(ctx, "test", models.RoleAdmin, models.RoleManager)
	assert.True(t, errors.IsKind(err, errors.KindForbidden))

	sys, _ := PrincipalFrom(AsSystem(context.Background()))
	assert.Equal(t, SystemUsername, sys.Username)
}

func TestWithPrincipalAttributesRevisions(t *testing.T) {
	db, fx, cleanup := testutil.TestDBWithFixtures(t)
	defer cleanup()

	ctx := WithPrincipal(context.Background(), PrincipalFor(fx.Owner))
	p, err := db.CreateProject(ctx, &models.Project{Name: "audited"}, fx.Owner.ID)
	require.NoError(t, err)

	revisions, err := db.FindRevisions(ctx, database.EntityProject, p.ID)
	require.NoError(t, err)
	require.Len(t, revisions, 1)
	require.NotNil(t, revisions[0].UserID)
	assert.Equal(t, fx.Owner.ID, *revisions[0].UserID)
}

func TestTokenIssuer(t *testing.T) {
	_, err := NewTokenIssuer("short", time.Hour)
	assert.True(t, errors.IsKind(err, errors.KindConfig))

	issuer, err := NewTokenIssuer("0123456789abcdef0123456789abcdef", time.Hour)
	require.NoError(t, err)

	p := &Principal{UserID: 42, Username: "alice", Role: models.RoleManager}
	tok, err := issuer.Issue(p)
	require.NoError(t, err)
	assert.Equal(t, "bearer", tok.TokenType)
	assert.Equal(t, int64(3600), tok.ExpiresIn)

	got, err := issuer.Verify(tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, p.UserID, got.UserID)
	assert.Equal(t, p.Username, got.Username)
	assert.Equal(t, p.Role, got.Role)

	_, err = issuer.Verify(tok.AccessToken + "x")
	assert.True(t, errors.IsKind(err, errors.KindUnauthorized))

	other, _ := NewTokenIssuer("fedcba9876543210fedcba9876543210", time.Hour)
	_, err = other.Verify(tok.AccessToken)
	assert.True(t, errors.IsKind(err, errors.KindUnauthorized), "signed with another secret")

	issuer.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = issuer.Verify(tok.AccessToken)
	assert.True(t, errors.IsKind(err, errors.KindCredentialsExpired))
}

func TestPermissions(t *testing.T) {
	db, fx, cleanup := testutil.TestDBWithFixtures(t)
	defer cleanup()
	ctx := context.Background()
	perms := NewPermissions(db)

	owner := PrincipalFor(fx.Owner)
	member := PrincipalFor(fx.Member)
	outsider := PrincipalFor(fx.Outsider)
	admin := PrincipalFor(fx.Admin)

	check := func(name string, fn func(*Principal) (bool, error), want map[*Principal]bool) {
		t.Helper()
		for p, expected := range want {
			got, err := fn(p)
			require.NoError(t, err, name)
			assert.Equal(t, expected, got, "%s for %s", name, p)
		}
	}

	check("CanReadProject", func(p *Principal) (bool, error) {
		return perms.CanReadProject(ctx, p, fx.Project.ID)
	}, map[*Principal]bool{owner: true, member: true, outsider: false, admin: true})

	check("IsProjectOwner", func(p *Principal) (bool, error) {
		return perms.IsProjectOwner(ctx, p, fx.Project.ID)
	}, map[*Principal]bool{owner: true, member: false, outsider: false, admin: true})

	check("CanReadSample", func(p *Principal) (bool, error) {
		return perms.CanReadSample(ctx, p, fx.Sample.ID)
	}, map[*Principal]bool{owner: true, member: true, outsider: false, admin: true})

	check("CanUpdateSample", func(p *Principal) (bool, error) {
		return perms.CanUpdateSample(ctx, p, fx.Sample.ID)
	}, map[*Principal]bool{owner: true, member: false, outsider: false})

	check("CanReadSequenceFile", func(p *Principal) (bool, error) {
		return perms.CanReadSequenceFile(ctx, p, fx.Pair.Files[1].ID)
	}, map[*Principal]bool{member: true, outsider: false, admin: true})

	check("CanReadAnalysisSubmission", func(p *Principal) (bool, error) {
		return perms.CanReadAnalysisSubmission(ctx, p, fx.Submission.ID)
	}, map[*Principal]bool{owner: true, member: false, admin: true})

	ok, err := perms.CanReadProject(ctx, nil, fx.Project.ID)
	require.NoError(t, err)
	assert.False(t, ok, "anonymous")
}

type fakeHistory struct {
	revisions []database.PasswordRevision
}

func (f fakeHistory) UserRevisionPasswords(ctx context.Context, userID int64) ([]database.PasswordRevision, error) {
	return f.revisions, nil
}

func TestPasswordExpiryChecker(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	days := func(n int) time.Time { return now.AddDate(0, 0, -n) }
	user := &models.User{ID: 1, Password: "current"}

	tests := []struct {
		name      string
		revisions []database.PasswordRevision
		expired   bool
	}{
		{"no revisions", nil, false},
		{"recent password", []database.PasswordRevision{{Password: "current", Date: days(3)}}, false},
		{
			"old password kept through edits",
			[]database.PasswordRevision{
				{Password: "current", Date: days(2)},
				{Password: "current", Date: days(200)},
				{Password: "older", Date: days(400)},
			},
			true,
		},
		{
			"password changed recently",
			[]database.PasswordRevision{
				{Password: "current", Date: days(5)},
				{Password: "older", Date: days(400)},
			},
			false,
		},
		{"newest revision differs", []database.PasswordRevision{{Password: "older", Date: days(400)}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewPasswordExpiryChecker(fakeHistory{tt.revisions}, 90)
			checker.now = func() time.Time { return now }
			err := checker.Check(context.Background(), user)
			if tt.expired {
				assert.True(t, errors.IsKind(err, errors.KindCredentialsExpired), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	disabled := NewPasswordExpiryChecker(fakeHistory{[]database.PasswordRevision{{Password: "current", Date: days(1000)}}}, 0)
	assert.NoError(t, disabled.Check(context.Background(), user))
}

func TestPasswordSetDateFromStore(t *testing.T) {
	db, fx, cleanup := testutil.TestDBWithFixtures(t)
	defer cleanup()
	ctx := context.Background()

	// profile edits keep the password; the set date stays at creation
	require.NoError(t, db.UpdateFields(ctx, "users", fx.Member.ID, map[string]interface{}{"first_name": "Renamed"}))
	checker := NewPasswordExpiryChecker(db, 90)
	set, found, err := checker.PasswordSetDate(ctx, fx.Member)
	require.NoError(t, err)
	require.True(t, found)
	assert.WithinDuration(t, fx.Member.CreatedDate, set, time.Second)

	assert.False(t, strings.Contains(fx.Member.Password, testutil.FixturePassword), "stored password is hashed")
}
