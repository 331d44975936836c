package auth

import (
	"net/http"

	"pingme/internal/constants"
	"pingme/internal/httputil"
	"pingme/internal/metrics"

	"github.com/sirupsen/logrus"
)

// RequireUser rejects requests without a valid token and stores the
// authenticated user id in the request context. The token is read from the
// bearer header or the token cookie.
func RequireUser(v Verifier, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := v.Verify(httputil.RequestToken(r, constants.TokenCookieName, ""))
			if err != nil {
				metrics.IncrementCounter("auth_failures_total", map[string]string{"surface": "http"}, "Rejected credentials")
				logger.WithFields(logrus.Fields{
					"remote_ip": httputil.GetClientIP(r),
					"url":       r.URL.Path,
				}).Debug("Rejected unauthenticated request")
				httputil.WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), claims.Subject)))
		})
	}
}

// Authenticate verifies the credential of a websocket handshake, which may
// also arrive in the query string. It returns the user id.
func Authenticate(v Verifier, r *http.Request) (string, error) {
	claims, err := v.Verify(httputil.RequestToken(r, constants.TokenCookieName, constants.TokenQueryParam))
	if err != nil {
		metrics.IncrementCounter("auth_failures_total", map[string]string{"surface": "realtime"}, "Rejected credentials")
		return "", err
	}
	return claims.Subject, nil
}
