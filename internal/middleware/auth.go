// Package middleware provides the HTTP middlewares: bearer-token
// authentication, request logging, load shedding, and metrics.
package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ndanilin/vaultgraph/internal/models"
)

type ctxKey string

const actorKey ctxKey = "actor"

// IdentityLoader resolves an identity name from a verified token subject.
type IdentityLoader func(ctx context.Context, name string) (*models.Identity, error)

// IssueToken signs a session token for the identity name.
func IssueToken(secret, name string, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   name,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// JWTAuth enforces bearer-token authentication. The register and login
// endpoints are excluded so new users can obtain a token. On success the
// loaded identity is stored in the request context as the actor.
func JWTAuth(secret string, load IdentityLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/register" || r.URL.Path == "/api/login" {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			raw := strings.TrimPrefix(header, "Bearer ")

			token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			claims, ok := token.Claims.(*jwt.RegisteredClaims)
			if !ok || claims.Subject == "" {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			actor, err := load(r.Context(), claims.Subject)
			if err != nil {
				http.Error(w, "unknown identity", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), actorKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFromContext extracts the authenticated identity from the request
// context. Returns nil when unauthenticated.
func ActorFromContext(ctx context.Context) *models.Identity {
	actor, _ := ctx.Value(actorKey).(*models.Identity)
	return actor
}

// SourceIP extracts the caller's IP from the request.
func SourceIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// DeviceID returns the client-reported device identifier, if any.
func DeviceID(r *http.Request) string {
	return r.Header.Get("X-Device-Id")
}
