package middleware

import (
	"net/http"

	"golang.org/x/time/rate"

	"github.com/neboloop/browserd/internal/httputil"
)

// RateLimit rejects requests beyond perSecond (with the given burst) with 429.
// Every handler wrapped by the returned middleware shares one limiter. A
// non-positive rate disables limiting.
func RateLimit(perSecond float64, burst int) func(http.Handler) http.Handler {
	if perSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				httputil.TooManyRequests(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
