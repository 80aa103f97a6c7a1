package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const (
	tokenHeader = "Authorization"
	tokenPrefix = "Bearer "

	// CallerKey holds the authenticated caller's address in the request context.
	CallerKey contextKey = "caller"
	// RoleKey holds the authenticated caller's role.
	RoleKey contextKey = "role"
)

// RequireAdmin is HTTP middleware that rejects requests without a valid admin
// token and stores the caller identity in the request context.
func RequireAdmin(signer *Signer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get(tokenHeader)
			if authHeader == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}

			if !strings.HasPrefix(authHeader, tokenPrefix) {
				http.Error(w, "invalid authorization header format", http.StatusUnauthorized)
				return
			}

			claims, err := signer.ValidateToken(strings.TrimPrefix(authHeader, tokenPrefix))
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			if claims.Role != RoleAdmin {
				http.Error(w, "admin role required", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), CallerKey, claims.Subject)
			ctx = context.WithValue(ctx, RoleKey, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerFromContext returns the authenticated caller's address, if any.
func CallerFromContext(ctx context.Context) (string, bool) {
	caller, ok := ctx.Value(CallerKey).(string)
	return caller, ok
}
