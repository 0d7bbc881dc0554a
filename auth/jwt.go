package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	perrors "github.com/vinayprograms/podium/errors"
)

// JWTConfig configures JWTAuthorizer.
type JWTConfig struct {
	// Secret is the HS256 signing key.
	Secret []byte

	// Issuer, when set, must match the token's iss claim.
	Issuer string

	// Now overrides the clock for expiry checks.
	Now func() time.Time
}

// JWTAuthorizer verifies HS256 bearer tokens and maps their roles claim to
// capabilities.
type JWTAuthorizer struct {
	config JWTConfig
}

// NewJWTAuthorizer creates an authorizer. The secret must not be empty.
func NewJWTAuthorizer(cfg JWTConfig) (*JWTAuthorizer, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &JWTAuthorizer{config: cfg}, nil
}

// Claims is the token payload. Both a single role and a roles list are
// accepted.
type Claims struct {
	jwt.RegisteredClaims
	Role  string   `json:"role,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// AllRoles merges Role and Roles.
func (c *Claims) AllRoles() []string {
	roles := append([]string(nil), c.Roles...)
	if c.Role != "" {
		roles = append(roles, c.Role)
	}
	return roles
}

// Authorize reads the token from the Authorization header or the token
// query parameter (browsers cannot set headers on WebSocket upgrades).
func (a *JWTAuthorizer) Authorize(r *http.Request) (Grant, error) {
	raw := bearerToken(r)
	if raw == "" {
		return Grant{}, perrors.Unauthorized("missing bearer token")
	}
	return a.Verify(raw)
}

// Verify validates a raw token.
func (a *JWTAuthorizer) Verify(raw string) (Grant, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.config.Now),
		jwt.WithExpirationRequired(),
	}
	if a.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.config.Issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.config.Secret, nil
	}, opts...)
	if err != nil {
		return Grant{}, perrors.Unauthorized(mapJWTError(err), perrors.WithCause(err))
	}

	roles := claims.AllRoles()
	caps := CapabilitiesFor(roles...)
	if len(caps) == 0 {
		return Grant{}, perrors.Forbidden(fmt.Sprintf("no known role in %v", roles))
	}
	return Grant{Subject: claims.Subject, Roles: roles, Capabilities: caps}, nil
}

// Issue signs a token for subject with roles, valid for ttl. Used by the
// token command and tests.
func (a *JWTAuthorizer) Issue(subject string, roles []string, ttl time.Duration) (string, error) {
	now := a.config.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles: roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.config.Secret)
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if rest, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(rest)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func mapJWTError(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "token signature invalid"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "token issuer mismatch"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "token malformed"
	default:
		return "token invalid"
	}
}
