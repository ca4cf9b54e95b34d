package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/report-tracking-server/internal/domain"
)

const (
	userKey    = "tracking_user"
	userHeader = "X-Tracking-User"
)

var errUnauthenticated = errors.New("authentication required")

// Claims are the bearer token claims; the subject names the acting user by
// ident or username
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

// Authenticator resolves the acting user of a request from a bearer token or,
// when allowed, from the X-Tracking-User header
type Authenticator struct {
	secret      []byte
	issuer      string
	allowHeader bool
	users       domain.UserRepository
	cache       *expirable.LRU[string, *domain.User]
	logger      *logrus.Logger
}

// NewAuthenticator creates an authenticator. Resolved users are cached for a
// minute.
func NewAuthenticator(cfg domain.AuthConfig, users domain.UserRepository, logger *logrus.Logger) *Authenticator {
	return &Authenticator{
		secret:      []byte(cfg.JWTSecret),
		issuer:      cfg.Issuer,
		allowHeader: cfg.AllowUserHeader,
		users:       users,
		cache:       expirable.NewLRU[string, *domain.User](512, nil, time.Minute),
		logger:      logger,
	}
}

// Enabled reports whether any authentication method is configured. With none,
// requests run anonymously.
func (a *Authenticator) Enabled() bool {
	return len(a.secret) > 0 || a.allowHeader
}

// Middleware rejects requests without valid credentials and stores the
// resolved user in the gin context
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}

		user, err := a.authenticate(c.Request.Context(), c.GetHeader("Authorization"), c.GetHeader(userHeader))
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"correlation_id": c.GetString(correlationIDKey),
				"path":           c.Request.URL.Path,
				"error":          err,
			}).Warn("Authentication failed")
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: errorDetail{
				Message:       "invalid credentials",
				CorrelationID: c.GetString(correlationIDKey),
			}})
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

func (a *Authenticator) authenticate(ctx context.Context, authz, headerUser string) (*domain.User, error) {
	authz = strings.TrimSpace(authz)
	headerUser = strings.TrimSpace(headerUser)

	if authz != "" {
		token, ok := bearerToken(authz)
		if !ok {
			return nil, errors.New("malformed authorization header")
		}
		subject, err := a.parseToken(token)
		if err != nil {
			return nil, err
		}
		return a.resolve(ctx, subject)
	}

	if headerUser != "" && a.allowHeader {
		return a.resolve(ctx, headerUser)
	}
	return nil, errUnauthenticated
}

func (a *Authenticator) parseToken(token string) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("subject claim required")
	}
	return claims.Subject, nil
}

// resolve finds a user by ident, then by username
func (a *Authenticator) resolve(ctx context.Context, ref string) (*domain.User, error) {
	if user, ok := a.cache.Get(ref); ok {
		return user, nil
	}
	user, err := a.users.GetByIdent(ctx, ref)
	if errors.Is(err, domain.ErrNotFound) {
		user, err = a.users.GetByUsername(ctx, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving user %q: %w", ref, err)
	}
	a.cache.Add(ref, user)
	return user, nil
}

// IssueToken signs a token for subject; trackctl uses it to mint operator tokens
func IssueToken(cfg domain.AuthConfig, subject string, ttl time.Duration) (string, error) {
	if cfg.JWTSecret == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// currentUser returns the authenticated user, or nil for anonymous requests
func currentUser(c *gin.Context) *domain.User {
	v, ok := c.Get(userKey)
	if !ok {
		return nil
	}
	user, _ := v.(*domain.User)
	return user
}
