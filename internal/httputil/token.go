package httputil

import (
	"net/http"
	"strings"
)

// BearerToken returns the credential from an "Authorization: Bearer ..."
// header, or "" when the header is absent or uses another scheme.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// RequestToken looks for a credential in the bearer header, then the named
// cookie, then (when queryParam is not empty) the query string. Browsers
// cannot set headers on websocket handshakes, so the query fallback is
// only enabled there.
func RequestToken(r *http.Request, cookieName, queryParam string) string {
	if token := BearerToken(r); token != "" {
		return token
	}
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			return c.Value
		}
	}
	if queryParam != "" {
		return r.URL.Query().Get(queryParam)
	}
	return ""
}
