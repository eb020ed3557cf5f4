package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// BEARER-TOKEN IDENTITY
// ══════════════════════════════════════════════════════════════════════════════

// UserIDKey is the gin context key holding the authenticated shared.UserID.
const UserIDKey = "user_id"

// UserIDHeader carries the caller's id when authentication is disabled.
const UserIDHeader = "X-User-ID"

var signingMethod = jwt.SigningMethodHS256

// AuthConfig configures the Authenticator.
type AuthConfig struct {
	// Disabled trusts UserIDHeader instead of a bearer token.
	Disabled bool
	Secret   string
	// Issuer is checked against the iss claim when non-empty.
	Issuer string
	// Now overrides the clock used for exp/nbf checks.
	Now func() time.Time
}

// Authenticator resolves the calling learner from the request.
// Tokens are HS256 JWTs whose sub claim is the learner UUID.
type Authenticator struct {
	cfg    AuthConfig
	parser *jwt.Parser
}

// NewAuthenticator creates an authenticator.
func NewAuthenticator(cfg AuthConfig) *Authenticator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(cfg.Now))
	}
	return &Authenticator{cfg: cfg, parser: jwt.NewParser(opts...)}
}

// Identify returns the learner id of the request.
func (a *Authenticator) Identify(r *http.Request) (shared.UserID, error) {
	if a.cfg.Disabled {
		id := shared.UserID(strings.TrimSpace(r.Header.Get(UserIDHeader)))
		if !id.IsValid() {
			return "", fmt.Errorf("%w: %s header must be a UUID", shared.ErrUnauthorized, UserIDHeader)
		}
		return id, nil
	}

	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: missing bearer token", shared.ErrUnauthorized)
	}

	claims := &jwt.RegisteredClaims{}
	_, err := a.parser.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (any, error) {
		return []byte(a.cfg.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: token expired", shared.ErrUnauthorized)
		}
		return "", fmt.Errorf("%w: %v", shared.ErrUnauthorized, err)
	}

	id := shared.UserID(claims.Subject)
	if !id.IsValid() {
		return "", fmt.Errorf("%w: sub claim must be a UUID", shared.ErrUnauthorized)
	}
	return id, nil
}

// Middleware rejects unauthenticated requests with 401 and stores the
// learner id under UserIDKey.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := a.Identify(c.Request)
		if err != nil {
			AbortWithError(c, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		c.Set(UserIDKey, id)
		c.Next()
	}
}

// IssueToken signs a token for userID. Used by tests and local tooling.
func (a *Authenticator) IssueToken(userID shared.UserID, ttl time.Duration) (string, error) {
	now := time.Now()
	if a.cfg.Now != nil {
		now = a.cfg.Now()
	}
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		Issuer:    a.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(a.cfg.Secret))
}

// CurrentUser returns the id stored by Middleware.
func CurrentUser(c *gin.Context) shared.UserID {
	id, _ := c.Get(UserIDKey)
	uid, _ := id.(shared.UserID)
	return uid
}
