package security

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
)

const tokenIssuer = "seqlims"

// Claims are the JWT claims of an API access token.
type Claims struct {
	jwt.RegisteredClaims
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
	ClientID string      `json:"client_id,omitempty"`
}

// Token is an issued access token.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in"`
	ExpiresAt   time.Time `json:"-"`
}

// TokenIssuer signs and verifies HS256 access tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer returns an issuer signing with secret; tokens live for ttl.
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) < 16 {
		return nil, errors.E(errors.Op("security.NewTokenIssuer"), errors.KindConfig, "jwt secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for p.
func (ti *TokenIssuer) Issue(p *Principal) (*Token, error) {
	now := ti.now().Truncate(time.Second)
	exp := now.Add(ti.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			Subject:   strconv.FormatInt(p.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Username: p.Username,
		Role:     p.Role,
		ClientID: p.ClientID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return nil, errors.E(errors.Op("security.Issue"), errors.KindUnknown, err)
	}
	return &Token{AccessToken: signed, TokenType: "bearer", ExpiresIn: int64(ti.ttl.Seconds()), ExpiresAt: exp}, nil
}

// Verify checks a token and returns its principal. Expired tokens fail with
// KindCredentialsExpired, anything else invalid with KindUnauthorized.
func (ti *TokenIssuer) Verify(token string) (*Principal, error) {
	const op errors.Op = "security.Verify"

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return ti.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(ti.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.E(op, errors.KindCredentialsExpired, err, "access token has expired")
		}
		return nil, errors.E(op, errors.KindUnauthorized, err, "invalid access token")
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, errors.E(op, errors.KindUnauthorized, err, "invalid token subject")
	}
	if _, err := models.AsRole(string(claims.Role)); err != nil {
		return nil, errors.E(op, errors.KindUnauthorized, err)
	}
	return &Principal{UserID: userID, Username: claims.Username, Role: claims.Role, ClientID: claims.ClientID}, nil
}
