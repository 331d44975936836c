package middleware

import (
	"net/http"

	"pingme/internal/service"
)

// VerboseLoggingMiddleware marks every request context with the process
// verbose flag, which the service log helpers read to decide whether
// identifiers and message content are masked.
func VerboseLoggingMiddleware(verbose bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(service.WithVerbose(r.Context(), verbose)))
		})
	}
}
