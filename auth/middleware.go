package auth

import (
	"context"
	"log"
	"net/http"
	"strings"
)

type contextKey string

const claimsKey contextKey = "claims"

// Middleware validates the Bearer token on admin requests and stores the
// claims on the request context.
func Middleware(secret string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			log.Printf("❌ Admin request without bearer token from %s", r.RemoteAddr)
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		claims, err := ParseToken(secret, strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			log.Printf("❌ Invalid admin token from %s: %v", r.RemoteAddr, err)
			http.Error(w, "Invalid authentication", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	}
}

// ClaimsFrom extracts the validated claims from a request context, if any.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}
