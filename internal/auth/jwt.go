// Package auth guards state-changing routes with HS256 bearer tokens.
package auth

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/HerbHall/entitykit/internal/server"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// ScopeWrite is required on tokens used for create, update and delete.
const ScopeWrite = "entities:write"

// ErrInvalidToken is returned for tokens that fail verification.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the JWT claims understood by entityd.
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes,omitempty"`
}

// HasScope reports whether the claims grant scope.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// GenerateToken signs a token for subject carrying scopes, valid for ttl.
func GenerateToken(subject string, scopes []string, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scopes: scopes,
	})
	return token.SignedString(secret)
}

// ParseToken verifies tokenString and returns its claims.
func ParseToken(tokenString string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Authenticator checks bearer tokens. With an empty secret every request is
// allowed, which is the default for local use.
type Authenticator struct {
	secret []byte
	logger *zap.Logger
}

// New creates an Authenticator.
func New(secret string, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{secret: []byte(secret), logger: logger}
}

// Enabled reports whether tokens are checked.
func (a *Authenticator) Enabled() bool { return len(a.secret) > 0 }

// RequireWrite wraps next so it only runs for tokens with ScopeWrite.
func (a *Authenticator) RequireWrite(next http.Handler) http.Handler {
	if !a.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			server.Unauthorized(w, "missing bearer token", r.URL.Path)
			return
		}
		claims, err := ParseToken(raw, a.secret)
		if err != nil {
			a.logger.Debug("rejected token", zap.String("path", r.URL.Path), zap.Error(err))
			server.Unauthorized(w, "invalid or expired token", r.URL.Path)
			return
		}
		if !claims.HasScope(ScopeWrite) {
			server.Forbidden(w, "token lacks scope "+ScopeWrite, r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}
