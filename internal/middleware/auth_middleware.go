package middleware

import (
	"context"
	"net/http"
	"strings"

	"orgo-sync-server/pkg/jwt"
	"orgo-sync-server/pkg/response"
)

type contextKey string

const (
	TenantIDKey contextKey = "tenantID"
	SubjectKey  contextKey = "subject"
)

// AuthMiddleware guards the operator API. Every claim set carries the
// tenant id, and handlers scope all reads and writes to it.
func AuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.Unauthorized(w, "Missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				response.Unauthorized(w, "Invalid authorization header format")
				return
			}

			token := parts[1]
			claims, err := jwt.ValidateToken(token, jwtSecret)
			if err != nil {
				response.Unauthorized(w, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), TenantIDKey, claims.TenantID)
			ctx = context.WithValue(ctx, SubjectKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetTenantID(r *http.Request) string {
	tenantID, ok := r.Context().Value(TenantIDKey).(string)
	if !ok {
		return ""
	}
	return tenantID
}

func GetSubject(r *http.Request) string {
	subject, ok := r.Context().Value(SubjectKey).(string)
	if !ok {
		return ""
	}
	return subject
}
