package middleware

import (
	"net/http"

	"github.com/neboloop/browserd/internal/httputil"
)

// JWTMiddleware creates a chi middleware that validates JWT tokens. An empty
// secret disables authentication.
func JWTMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				// Browsers cannot set headers on WebSocket upgrades.
				if t := r.URL.Query().Get("token"); t != "" {
					header = "Bearer " + t
				}
			}

			tokenString, err := BearerToken(header)
			if err != nil {
				httputil.Unauthorized(w, err.Error())
				return
			}

			claims, err := ParseToken(secret, tokenString)
			if err != nil {
				httputil.Unauthorized(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}
